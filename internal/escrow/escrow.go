// Package escrow releases scheduled vendor payments once their release date
// has passed, pushing funds through the payment gateway.
package escrow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/owanbe/settlement/internal/gateway"
	"github.com/owanbe/settlement/internal/models"
)

var releasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "escrow_releases_total",
	Help: "Vendor escrow release attempts by outcome",
}, []string{"outcome"})

// Store is the slice of the ledger store the sweep needs.
type Store interface {
	DueScheduledVendors(ctx context.Context, now time.Time) ([]models.Vendor, error)
	MarkVendorReleased(ctx context.Context, vendorID, amount int64) error
}

// Gateway covers the two provider calls a release requires.
type Gateway interface {
	CreateTransferRecipient(ctx context.Context, accountNumber, bankCode, name string) (string, error)
	InitiateTransfer(ctx context.Context, amount int64, recipientCode, narration string) (*gateway.TransferResult, error)
}

// Worker runs the periodic vendor payment sweep.
type Worker struct {
	store   Store
	gateway Gateway
}

func NewWorker(store Store, gw Gateway) *Worker {
	return &Worker{store: store, gateway: gw}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("escrow worker started, sweeping every %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("escrow worker stopped")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				log.Printf("escrow sweep failed: %v", err)
			}
		}
	}
}

// Sweep releases every due vendor tranche. Vendors are processed
// independently; a failed transfer leaves that vendor untouched for the next
// sweep and never aborts the rest.
func (w *Worker) Sweep(ctx context.Context) error {
	vendors, err := w.store.DueScheduledVendors(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("querying due vendors: %w", err)
	}
	if len(vendors) == 0 {
		return nil
	}

	log.Printf("escrow sweep: %d vendor payment(s) due", len(vendors))
	for i := range vendors {
		if err := w.release(ctx, &vendors[i]); err != nil {
			releasesTotal.WithLabelValues("failed").Inc()
			log.Printf("escrow release failed for vendor %d: %v", vendors[i].ID, err)
			continue
		}
		releasesTotal.WithLabelValues("released").Inc()
		log.Printf("escrow released %d kobo to vendor %d", vendors[i].ScheduledAmount, vendors[i].ID)
	}
	return nil
}

// release creates the transfer recipient, pushes the scheduled amount, and
// only then marks the tranche released. The vendor row is not touched until
// the provider accepts the transfer.
func (w *Worker) release(ctx context.Context, v *models.Vendor) error {
	if v.ScheduledAmount <= 0 {
		return fmt.Errorf("vendor %d has no scheduled amount", v.ID)
	}

	recipient, err := w.gateway.CreateTransferRecipient(ctx, v.AccountNumber, v.BankCode, v.AccountName)
	if err != nil {
		return fmt.Errorf("recipient creation: %w", err)
	}

	narration := fmt.Sprintf("Vendor payment: %s", v.Name)
	if _, err := w.gateway.InitiateTransfer(ctx, v.ScheduledAmount, recipient, narration); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	if err := w.store.MarkVendorReleased(ctx, v.ID, v.ScheduledAmount); err != nil {
		// Funds moved but the row did not flip; this needs an operator.
		return fmt.Errorf("transfer sent but status update failed: %w", err)
	}
	return nil
}
