package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"membership-svc/models"
)

var (
	// ErrNotFound means no row exists for the given key.
	ErrNotFound = errors.New("not found")

	// ErrConflictingOutcome means a finalize was attempted with a
	// different outcome than the terminal status already stored.
	// Terminal statuses are never overwritten.
	ErrConflictingOutcome = errors.New("transaction already finalized with a different outcome")
)

// LedgerStore is the durable record of payment attempts, keyed by the
// gateway-issued checkout request id.
type LedgerStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewLedgerStore(db *sql.DB, logger *zap.Logger) *LedgerStore {
	return &LedgerStore{db: db, logger: logger}
}

const transactionColumns = "id, user_id, phone_number, amount, checkout_request_id, merchant_request_id, status, receipt_number, transaction_date, created_at, updated_at"

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	var tx models.Transaction
	var merchantID, receipt sql.NullString
	var txDate sql.NullTime

	err := row.Scan(&tx.ID, &tx.UserID, &tx.PhoneNumber, &tx.Amount,
		&tx.CheckoutRequestID, &merchantID, &tx.Status, &receipt, &txDate,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tx.MerchantRequestID = merchantID.String
	tx.ReceiptNumber = receipt.String
	if txDate.Valid {
		tx.TransactionDate = &txDate.Time
	}
	return &tx, nil
}

// Create persists a new pending transaction after the gateway accepted
// the push.
func (s *LedgerStore) Create(ctx context.Context, tx *models.Transaction) error {
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO transactions (user_id, phone_number, amount, checkout_request_id, merchant_request_id, status) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at",
		tx.UserID, tx.PhoneNumber, tx.Amount, tx.CheckoutRequestID, tx.MerchantRequestID, tx.Status,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *LedgerStore) FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE checkout_request_id = $1",
		checkoutID)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return tx, nil
}

// Finalize moves a pending transaction to a terminal status with a single
// conditional update, so concurrent or repeated callbacks cannot race.
// The bool result is true when this call performed the transition.
// Repeating a finalize with the outcome already stored is a no-op success;
// a different outcome is rejected with ErrConflictingOutcome.
func (s *LedgerStore) Finalize(ctx context.Context, checkoutID string, outcome models.TransactionStatus, receipt string, txDate *time.Time) (*models.Transaction, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"UPDATE transactions SET status = $2, receipt_number = $3, transaction_date = $4, updated_at = CURRENT_TIMESTAMP WHERE checkout_request_id = $1 AND status = 'pending' RETURNING "+transactionColumns,
		checkoutID, outcome, nullString(receipt), nullTime(txDate))

	tx, err := scanTransaction(row)
	if err == nil {
		return tx, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to finalize transaction: %w", err)
	}

	// No pending row matched: either the transaction is unknown or it is
	// already terminal.
	existing, err := s.FindByCheckoutID(ctx, checkoutID)
	if err != nil {
		return nil, false, err
	}
	if existing.Status == outcome {
		return existing, false, nil
	}

	s.logger.Error("Conflicting finalize rejected",
		zap.String("checkout_request_id", checkoutID),
		zap.String("stored_status", string(existing.Status)),
		zap.String("requested_status", string(outcome)),
	)
	return existing, false, ErrConflictingOutcome
}

// ListByUser returns a user's most recent payment attempts.
func (s *LedgerStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var merchantID, receipt sql.NullString
		var txDate sql.NullTime
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.PhoneNumber, &tx.Amount,
			&tx.CheckoutRequestID, &merchantID, &tx.Status, &receipt, &txDate,
			&tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.MerchantRequestID = merchantID.String
		tx.ReceiptNumber = receipt.String
		if txDate.Valid {
			tx.TransactionDate = &txDate.Time
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
