package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"membership-svc/models"
)

// MembershipStore holds the one-per-user subscription record. All
// invariants live in atomic upserts keyed on user_id, so multiple service
// instances can activate concurrently without locks.
type MembershipStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMembershipStore(db *sql.DB, logger *zap.Logger) *MembershipStore {
	return &MembershipStore{db: db, logger: logger}
}

const membershipColumns = "id, user_id, status, payment_reference, amount, currency, payment_method, paid_at, expires_at, created_at, updated_at"

func scanMembership(row *sql.Row) (*models.Membership, error) {
	var m models.Membership
	var reference sql.NullString
	var paidAt, expiresAt sql.NullTime

	err := row.Scan(&m.ID, &m.UserID, &m.Status, &reference, &m.Amount,
		&m.Currency, &m.PaymentMethod, &paidAt, &expiresAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	m.PaymentReference = reference.String
	if paidAt.Valid {
		m.PaidAt = &paidAt.Time
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	return &m, nil
}

// Activate upserts the user's membership to paid with
// expires_at = paid_at + 30 days. Re-activating with a receipt already
// stored is a no-op, so duplicate gateway callbacks never move the expiry.
// A new receipt replaces the expiry outright; renewals do not stack.
// The bool result is true when a row was written.
func (s *MembershipStore) Activate(ctx context.Context, userID, receipt string, amount int64, paidAt time.Time) (*models.Membership, bool, error) {
	expiresAt := paidAt.Add(models.MembershipDuration)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO memberships (user_id, status, payment_reference, amount, currency, payment_method, paid_at, expires_at)
		VALUES ($1, 'paid', $2, $3, 'KES', 'mpesa', $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET status = 'paid', payment_reference = $2, amount = $3, paid_at = $4, expires_at = $5, updated_at = CURRENT_TIMESTAMP
		WHERE memberships.payment_reference IS DISTINCT FROM $2
		RETURNING `+membershipColumns,
		userID, receipt, amount, paidAt, expiresAt)

	m, err := scanMembership(row)
	if err == nil {
		s.logger.Info("Membership activated",
			zap.String("user_id", userID),
			zap.String("payment_reference", receipt),
			zap.Time("expires_at", expiresAt),
		)
		return m, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to activate membership: %w", err)
	}

	// The upsert matched nothing: this receipt was already applied.
	// Duplicate notification, not a renewal.
	existing, err := s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *MembershipStore) Get(ctx context.Context, userID string) (*models.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE user_id = $1",
		userID)

	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch membership: %w", err)
	}
	return m, nil
}
