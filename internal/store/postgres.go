package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/owanbe/settlement/internal/models"
)

var (
	ErrGiftNotFound         = errors.New("gift not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrVendorNotFound       = errors.New("vendor not found")
	ErrContributionNotFound = errors.New("contribution not found")
	ErrNotOwner             = errors.New("vendor does not belong to user")
	ErrNotScheduled         = errors.New("vendor payment is not in scheduled state")
	ErrPastDue              = errors.New("vendor due date has passed")
	ErrMissingBankDetails   = errors.New("vendor bank details are incomplete")
)

const uniqueViolation = "23505"

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// GetGift retrieves a gift page by ID.
func (s *Store) GetGift(ctx context.Context, id int64) (*models.Gift, error) {
	var g models.Gift
	err := s.Db.QueryRow(ctx,
		"SELECT id, user_id, event_link, title, created_at FROM gifts WHERE id = $1",
		id).Scan(&g.ID, &g.UserID, &g.EventLink, &g.Title, &g.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGiftNotFound
		}
		return nil, err
	}
	return &g, nil
}

// GetGiftByEventLink retrieves a gift page by its public link slug.
func (s *Store) GetGiftByEventLink(ctx context.Context, link string) (*models.Gift, error) {
	var g models.Gift
	err := s.Db.QueryRow(ctx,
		"SELECT id, user_id, event_link, title, created_at FROM gifts WHERE event_link = $1",
		link).Scan(&g.ID, &g.UserID, &g.EventLink, &g.Title, &g.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGiftNotFound
		}
		return nil, err
	}
	return &g, nil
}

// GetUser retrieves a user and their wallet balance.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.Db.QueryRow(ctx,
		"SELECT id, full_name, email, wallet_balance, referred_by_id, created_at FROM users WHERE id = $1",
		id).Scan(&u.ID, &u.FullName, &u.Email, &u.WalletBalance, &u.ReferredByID, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

const contributionCols = `id, gift_id, contributor_name, contributor_email, amount, commission,
	is_asoebi, asoebi_quantity, men_qty, women_qty, bride_men_qty, bride_women_qty,
	groom_men_qty, groom_women_qty, message, transaction_id, reference, status, created_at`

func scanContribution(row pgx.Row) (*models.Contribution, error) {
	var c models.Contribution
	err := row.Scan(&c.ID, &c.GiftID, &c.ContributorName, &c.ContributorEmail, &c.Amount,
		&c.Commission, &c.IsAsoebi, &c.AsoebiQuantity, &c.MenQty, &c.WomenQty,
		&c.BrideMenQty, &c.BrideWomenQty, &c.GroomMenQty, &c.GroomWomenQty,
		&c.Message, &c.TransactionID, &c.Reference, &c.Status, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindContributionByIdentifier looks up a settled contribution by any of the
// given provider identifiers, matching either stored column.
func (s *Store) FindContributionByIdentifier(ctx context.Context, identifiers ...string) (*models.Contribution, error) {
	ids := nonEmpty(identifiers)
	if len(ids) == 0 {
		return nil, ErrContributionNotFound
	}
	row := s.Db.QueryRow(ctx,
		"SELECT "+contributionCols+" FROM contributions WHERE transaction_id = ANY($1) OR reference = ANY($1)",
		ids)
	c, err := scanContribution(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContributionNotFound
		}
		return nil, err
	}
	return c, nil
}

// CreateContribution books a contribution and credits the owner's wallet in
// one transaction. The dedup check and the insert run inside the same tx; a
// concurrent double-fire loses the race on the unique constraint, and the
// loser refetches and returns the winner's row. The bool result reports
// whether this call created the row.
func (s *Store) CreateContribution(ctx context.Context, c *models.Contribution, ownerID, ownerCredit int64) (*models.Contribution, bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := nonEmpty([]string{c.TransactionID, c.Reference})
	existing, err := scanContribution(tx.QueryRow(ctx,
		"SELECT "+contributionCols+" FROM contributions WHERE transaction_id = ANY($1) OR reference = ANY($1)",
		ids))
	if err == nil {
		return existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("dedup query failed: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO contributions (gift_id, contributor_name, contributor_email, amount, commission,
			is_asoebi, asoebi_quantity, men_qty, women_qty, bride_men_qty, bride_women_qty,
			groom_men_qty, groom_women_qty, message, transaction_id, reference, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		 RETURNING id, created_at`,
		c.GiftID, c.ContributorName, c.ContributorEmail, c.Amount, c.Commission,
		c.IsAsoebi, c.AsoebiQuantity, c.MenQty, c.WomenQty, c.BrideMenQty, c.BrideWomenQty,
		c.GroomMenQty, c.GroomWomenQty, c.Message, c.TransactionID, c.Reference, c.Status,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Lost the race to the other entry point; hand back its row.
			tx.Rollback(ctx)
			winner, ferr := s.FindContributionByIdentifier(ctx, c.TransactionID, c.Reference)
			if ferr != nil {
				return nil, false, fmt.Errorf("refetch after unique violation failed: %w", ferr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("contribution insert failed: %w", err)
	}

	// Relative increment; never read-then-write on money fields.
	_, err = tx.Exec(ctx,
		"UPDATE users SET wallet_balance = wallet_balance + $1 WHERE id = $2",
		ownerCredit, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("wallet credit failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("tx commit failed: %w", err)
	}
	return c, true, nil
}

// IncrementAsoebiSold bumps the sold counter for one catalog item.
func (s *Store) IncrementAsoebiSold(ctx context.Context, itemID int64, qty int) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE asoebi_items SET sold = sold + $1 WHERE id = $2", qty, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asoebi item %d not found", itemID)
	}
	return nil
}

// UpsertAsoebiGuest links a settled Asoebi purchase to a guest record. A
// supplied guest ID wins; otherwise the guest is matched by (gift, email)
// through the unique index, so a concurrent duplicate delivery updates the
// same row instead of creating a second one.
func (s *Store) UpsertAsoebiGuest(ctx context.Context, guestID *int64, giftID, ownerID int64, email, name, selection string) error {
	if guestID != nil {
		tag, err := s.Db.Exec(ctx,
			"UPDATE guests SET asoebi = TRUE, asoebi_paid = TRUE, asoebi_selection = $1 WHERE id = $2",
			selection, *guestID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("guest %d not found", *guestID)
		}
		return nil
	}

	if strings.TrimSpace(email) == "" {
		return errors.New("no guest id or email to link asoebi purchase")
	}

	_, err := s.Db.Exec(ctx,
		`INSERT INTO guests (gift_id, user_id, name, email, attending, status, allowed, asoebi, asoebi_paid, asoebi_selection)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, TRUE, TRUE, $7)
		 ON CONFLICT (gift_id, lower(email))
		 DO UPDATE SET asoebi = TRUE, asoebi_paid = TRUE, asoebi_selection = EXCLUDED.asoebi_selection`,
		giftID, ownerID, name, email, models.AttendingPending, models.GuestInvited, selection)
	return err
}

// CreateReferralPayout records the reward and credits the referrer's wallet
// atomically.
func (s *Store) CreateReferralPayout(ctx context.Context, r *models.ReferralTransaction) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO referral_transactions (user_id, contribution_id, amount, kind)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		r.UserID, r.ContributionID, r.Amount, r.Kind,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("referral insert failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE users SET wallet_balance = wallet_balance + $1 WHERE id = $2",
		r.Amount, r.UserID)
	if err != nil {
		return fmt.Errorf("referral wallet credit failed: %w", err)
	}

	return tx.Commit(ctx)
}

const vendorCols = `id, gift_id, user_id, name, email, amount_agreed, amount_paid,
	scheduled_amount, due_date, release_date, status, account_number, bank_code, account_name, created_at`

func scanVendor(row pgx.Row) (*models.Vendor, error) {
	var v models.Vendor
	err := row.Scan(&v.ID, &v.GiftID, &v.UserID, &v.Name, &v.Email, &v.AmountAgreed,
		&v.AmountPaid, &v.ScheduledAmount, &v.DueDate, &v.ReleaseDate, &v.Status,
		&v.AccountNumber, &v.BankCode, &v.AccountName, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVendor retrieves a vendor obligation by ID.
func (s *Store) GetVendor(ctx context.Context, id int64) (*models.Vendor, error) {
	v, err := scanVendor(s.Db.QueryRow(ctx,
		"SELECT "+vendorCols+" FROM vendors WHERE id = $1", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrVendorNotFound
		}
		return nil, err
	}
	return v, nil
}

// SchedulePayment moves a vendor to Scheduled, accumulating the tranche and
// stamping the release date 24h after the due date. The row is locked for
// the duration of the checks so a concurrent cancel cannot interleave.
func (s *Store) SchedulePayment(ctx context.Context, vendorID, userID int64, req models.SchedulePaymentRequest) (*models.Vendor, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := scanVendor(tx.QueryRow(ctx,
		"SELECT "+vendorCols+" FROM vendors WHERE id = $1 FOR UPDATE", vendorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrVendorNotFound
		}
		return nil, err
	}
	if err := ScheduleGuard(v, userID); err != nil {
		return nil, err
	}

	dueDate := v.DueDate
	if req.DueDate != nil {
		dueDate = req.DueDate
	}
	if dueDate == nil {
		return nil, errors.New("vendor has no due date")
	}
	releaseDate := ScheduleReleaseDate(*dueDate)

	v, err = scanVendor(tx.QueryRow(ctx,
		`UPDATE vendors SET status = $1, scheduled_amount = scheduled_amount + $2,
			due_date = $3, release_date = $4, email = $5,
			account_number = $6, bank_code = $7, account_name = $8
		 WHERE id = $9 RETURNING `+vendorCols,
		models.VendorScheduled, req.Amount, dueDate, releaseDate, req.VendorEmail,
		req.AccountNumber, req.BankCode, req.AccountName, vendorID))
	if err != nil {
		return nil, fmt.Errorf("schedule update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return v, nil
}

// CancelScheduled resets a scheduled tranche. Only permitted while the vendor
// is still Scheduled and the due date has not passed.
func (s *Store) CancelScheduled(ctx context.Context, vendorID, userID int64, now time.Time) (*models.Vendor, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := scanVendor(tx.QueryRow(ctx,
		"SELECT "+vendorCols+" FROM vendors WHERE id = $1 FOR UPDATE", vendorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrVendorNotFound
		}
		return nil, err
	}
	if err := CancelGuard(v, userID, now); err != nil {
		return nil, err
	}

	v, err = scanVendor(tx.QueryRow(ctx,
		"UPDATE vendors SET status = $1, scheduled_amount = 0, release_date = NULL WHERE id = $2 RETURNING "+vendorCols,
		models.VendorCancelled, vendorID))
	if err != nil {
		return nil, fmt.Errorf("cancel update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return v, nil
}

// DueScheduledVendors returns vendors whose scheduled release is due and
// whose bank details are present.
func (s *Store) DueScheduledVendors(ctx context.Context, now time.Time) ([]models.Vendor, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+vendorCols+` FROM vendors
		 WHERE status = $1 AND release_date IS NOT NULL AND release_date <= $2
		   AND account_number <> '' AND bank_code <> ''`,
		models.VendorScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vendors []models.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, *v)
	}
	return vendors, rows.Err()
}

// MarkVendorReleased finalizes a released tranche: amountPaid accumulates and
// scheduledAmount resets. The status guard keeps a concurrent sweep from
// double-releasing the same tranche.
func (s *Store) MarkVendorReleased(ctx context.Context, vendorID, amount int64) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE vendors SET status = $1, amount_paid = amount_paid + $2, scheduled_amount = 0
		 WHERE id = $3 AND status = $4`,
		models.VendorReleased, amount, vendorID, models.VendorScheduled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotScheduled
	}
	return nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
