package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/owanbe/settlement/internal/gateway"
	"github.com/owanbe/settlement/internal/models"
)

var (
	// ErrMissingGiftID means the charge metadata is malformed; nothing is
	// settled.
	ErrMissingGiftID = errors.New("charge metadata has no gift id")

	// ErrVerificationFailed means the provider does not consider the charge
	// successful. Safe to retry.
	ErrVerificationFailed = errors.New("gateway did not verify the transaction as successful")
)

var settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "settlement_outcomes_total",
	Help: "Settlement attempts by outcome",
}, []string{"outcome"})

// Store is the slice of the ledger store the engine needs.
type Store interface {
	GetGift(ctx context.Context, id int64) (*models.Gift, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateContribution(ctx context.Context, c *models.Contribution, ownerID, ownerCredit int64) (*models.Contribution, bool, error)
	IncrementAsoebiSold(ctx context.Context, itemID int64, qty int) error
	UpsertAsoebiGuest(ctx context.Context, guestID *int64, giftID, ownerID int64, email, name, selection string) error
	CreateReferralPayout(ctx context.Context, r *models.ReferralTransaction) error
}

// Verifier is the gateway call the engine depends on.
type Verifier interface {
	VerifyTransaction(ctx context.Context, reference string) (*gateway.VerifyData, error)
}

// Notifier delivers best-effort emails after settlement. Implementations
// never return errors; the delivered flag is advisory only.
type Notifier interface {
	GiftReceived(ctx context.Context, ownerEmail, ownerName, contributorName string, amount int64, eventTitle, message string, isAsoebi bool) bool
	ThankYou(ctx context.Context, contributorEmail, contributorName string, amount int64, eventTitle string, isAsoebi bool) bool
}

// Engine performs idempotent settlement of verified payment events. Both the
// client-redirect path and the webhook path converge here.
type Engine struct {
	store    Store
	verifier Verifier
	notifier Notifier
}

func New(store Store, verifier Verifier, notifier Notifier) *Engine {
	return &Engine{store: store, verifier: verifier, notifier: notifier}
}

// VerifyAndSettle is the client-redirect entry point. It verifies the
// transaction against the provider, retrying with txRef when the primary
// identifier fails, then settles.
func (e *Engine) VerifyAndSettle(ctx context.Context, transactionID, txRef string) (*models.Contribution, error) {
	data, err := e.verifier.VerifyTransaction(ctx, transactionID)
	if err != nil && txRef != "" && txRef != transactionID {
		log.Printf("verify by transaction id %q failed (%v), retrying with reference %q", transactionID, err, txRef)
		data, err = e.verifier.VerifyTransaction(ctx, txRef)
	}
	if err != nil {
		settlementsTotal.WithLabelValues("verify_error").Inc()
		return nil, fmt.Errorf("transaction verification failed: %w", err)
	}
	return e.Settle(ctx, data)
}

// SettleReference is the webhook entry point. The webhook payload's own
// success claim is only a trigger; the charge is re-verified server-side
// before anything is booked.
func (e *Engine) SettleReference(ctx context.Context, reference string) (*models.Contribution, error) {
	data, err := e.verifier.VerifyTransaction(ctx, reference)
	if err != nil {
		settlementsTotal.WithLabelValues("verify_error").Inc()
		return nil, fmt.Errorf("transaction verification failed: %w", err)
	}
	return e.Settle(ctx, data)
}

// Settle books a verified-success transaction exactly once. A duplicate
// delivery returns the prior contribution with no further side effects.
// Inventory, guest linkage and referral payout are best effort after the
// financial record is committed; their failures are logged, never rolled
// back.
func (e *Engine) Settle(ctx context.Context, data *gateway.VerifyData) (*models.Contribution, error) {
	if !data.Success() {
		settlementsTotal.WithLabelValues("verify_failed").Inc()
		return nil, fmt.Errorf("%w: provider status %q", ErrVerificationFailed, data.Status)
	}

	var meta models.ChargeMetadata
	if len(data.Metadata) > 0 {
		if err := json.Unmarshal(data.Metadata, &meta); err != nil {
			settlementsTotal.WithLabelValues("malformed").Inc()
			return nil, fmt.Errorf("%w: %v", ErrMissingGiftID, err)
		}
	}
	if meta.GiftID == 0 {
		settlementsTotal.WithLabelValues("malformed").Inc()
		return nil, ErrMissingGiftID
	}

	gift, err := e.store.GetGift(ctx, meta.GiftID)
	if err != nil {
		settlementsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("gift lookup: %w", err)
	}
	owner, err := e.store.GetUser(ctx, gift.UserID)
	if err != nil {
		settlementsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("owner lookup: %w", err)
	}

	commission, ownerReceives := split(data.Amount, &meta)

	contribution := &models.Contribution{
		GiftID:           gift.ID,
		ContributorName:  meta.ContributorName,
		ContributorEmail: meta.ContributorEmail,
		Amount:           data.Amount,
		Commission:       commission,
		IsAsoebi:         meta.IsAsoebi,
		AsoebiQuantity:   meta.AsoebiQuantity,
		MenQty:           meta.MenQty,
		WomenQty:         meta.WomenQty,
		BrideMenQty:      meta.BrideMenQty,
		BrideWomenQty:    meta.BrideWomenQty,
		GroomMenQty:      meta.GroomMenQty,
		GroomWomenQty:    meta.GroomWomenQty,
		Message:          meta.Message,
		TransactionID:    strconv.FormatInt(data.ID, 10),
		Reference:        data.Reference,
		Status:           models.ContributionCompleted,
	}

	result, created, err := e.store.CreateContribution(ctx, contribution, owner.ID, ownerReceives)
	if err != nil {
		settlementsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("settlement commit: %w", err)
	}
	if !created {
		settlementsTotal.WithLabelValues("duplicate").Inc()
		log.Printf("duplicate settlement for transaction %s / reference %s, returning existing contribution %d",
			contribution.TransactionID, contribution.Reference, result.ID)
		return result, nil
	}
	settlementsTotal.WithLabelValues("created").Inc()

	if meta.IsAsoebi {
		for _, line := range meta.Items {
			if line.Quantity <= 0 {
				continue
			}
			if err := e.store.IncrementAsoebiSold(ctx, line.ItemID, line.Quantity); err != nil {
				log.Printf("asoebi stock update failed for item %d (contribution %d): %v", line.ItemID, result.ID, err)
			}
		}
		if err := e.store.UpsertAsoebiGuest(ctx, meta.GuestID, gift.ID, owner.ID,
			meta.ContributorEmail, meta.ContributorName, meta.AsoebiSelection); err != nil {
			log.Printf("guest upsert failed for contribution %d: %v", result.ID, err)
		}
	}

	if owner.ReferredByID != nil {
		reward, kind := referralReward(data.Amount, meta.IsAsoebi)
		payout := &models.ReferralTransaction{
			UserID:         *owner.ReferredByID,
			ContributionID: result.ID,
			Amount:         reward,
			Kind:           kind,
		}
		if err := e.store.CreateReferralPayout(ctx, payout); err != nil {
			log.Printf("referral payout failed for contribution %d (referrer %d): %v", result.ID, *owner.ReferredByID, err)
		}
	}

	if e.notifier != nil {
		go e.sendNotifications(owner, gift, result)
	}

	return result, nil
}

func (e *Engine) sendNotifications(owner *models.User, gift *models.Gift, c *models.Contribution) {
	ctx := context.Background()
	if !e.notifier.GiftReceived(ctx, owner.Email, owner.FullName, c.ContributorName, c.Amount, gift.Title, c.Message, c.IsAsoebi) {
		log.Printf("gift-received notification not delivered for contribution %d", c.ID)
	}
	if c.ContributorEmail == "" {
		return
	}
	if !e.notifier.ThankYou(ctx, c.ContributorEmail, c.ContributorName, c.Amount, gift.Title, c.IsAsoebi) {
		log.Printf("thank-you notification not delivered for contribution %d", c.ID)
	}
}
