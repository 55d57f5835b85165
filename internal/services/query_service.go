package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/corebank/backend/internal/models"
)

// QueryService serves read-only projections over accounts and the ledger.
// It never mutates state.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns the current balance for an account.
func (s *QueryService) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// GetUserInfo returns name, email and balance for an account.
func (s *QueryService) GetUserInfo(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, balance FROM accounts WHERE id = $1`, accountID).
		Scan(&account.ID, &account.Name, &account.Email, &account.Balance)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetHistory returns every completed movement where the account is sender or
// receiver, newest first. Ties on the commit timestamp are broken by entry id
// so the order is deterministic.
func (s *QueryService) GetHistory(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, sender_name, receiver_name, amount, kind, status, created_at
		FROM transactions
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.SenderID, &e.ReceiverID, &e.SenderName, &e.ReceiverName,
			&e.Amount, &e.Kind, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}
