package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/corebank/backend/internal/models"
)

// LedgerService executes deposits, withdrawals and transfers. Every operation
// runs as one database transaction: the balance mutations and the ledger
// append commit together or not at all. Business-rule failures are returned
// as the sentinel errors in errors.go and never leave partial state behind.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// Deposit credits amount to the account and appends a Completed ledger entry.
func (s *LedgerService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, *models.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return decimal.Decimal{}, nil, ErrInvalidAmount
	}
	amount = amount.Round(2)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, accountID)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, nil, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to lock account: %w", err)
	}

	newBalance := account.Balance.Add(amount)

	entry := &models.LedgerEntry{
		SenderID:     account.ID,
		ReceiverID:   account.ID,
		SenderName:   account.Name,
		ReceiverName: account.Name,
		Amount:       amount,
		Kind:         models.KindDeposit,
		Status:       models.StatusCompleted,
	}
	if err := s.createLedgerEntry(ctx, tx, entry); err != nil {
		return decimal.Decimal{}, nil, err
	}

	if err := s.updateAccountBalance(ctx, tx, account.ID, newBalance, account.Version); err != nil {
		return decimal.Decimal{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return newBalance, entry, nil
}

// Withdraw debits amount from the account and appends a Completed ledger
// entry. Fails with ErrInsufficientFunds when the balance does not cover it.
func (s *LedgerService) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, *models.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return decimal.Decimal{}, nil, ErrInvalidAmount
	}
	amount = amount.Round(2)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, accountID)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, nil, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to lock account: %w", err)
	}

	if account.Balance.LessThan(amount) {
		return decimal.Decimal{}, nil, ErrInsufficientFunds
	}

	newBalance := account.Balance.Sub(amount)

	entry := &models.LedgerEntry{
		SenderID:     account.ID,
		ReceiverID:   account.ID,
		SenderName:   account.Name,
		ReceiverName: account.Name,
		Amount:       amount,
		Kind:         models.KindWithdrawal,
		Status:       models.StatusCompleted,
	}
	if err := s.createLedgerEntry(ctx, tx, entry); err != nil {
		return decimal.Decimal{}, nil, err
	}

	if err := s.updateAccountBalance(ctx, tx, account.ID, newBalance, account.Version); err != nil {
		return decimal.Decimal{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return newBalance, entry, nil
}

// Transfer moves amount from the sender to the account registered under
// receiverEmail. Both balance mutations and the ledger append happen in one
// database transaction, so a concurrent reader never observes the sender
// debited without the receiver credited.
func (s *LedgerService) Transfer(ctx context.Context, senderID, receiverEmail string, amount decimal.Decimal) (decimal.Decimal, *models.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return decimal.Decimal{}, nil, ErrInvalidAmount
	}
	amount = amount.Round(2)
	// Accounts are registered with lowercased emails.
	receiverEmail = strings.ToLower(receiverEmail)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	senderEmail, err := s.getAccountEmail(ctx, tx, senderID)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, nil, ErrSenderNotFound
	}
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to load sender: %w", err)
	}

	if senderEmail == receiverEmail {
		return decimal.Decimal{}, nil, ErrSelfTransfer
	}

	receiverID, err := s.getAccountIDByEmail(ctx, tx, receiverEmail)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, nil, ErrReceiverNotFound
	}
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to resolve receiver: %w", err)
	}

	// Lock accounts in consistent id order to prevent deadlocks between
	// concurrent transfers running in opposite directions.
	firstLock, secondLock := senderID, receiverID
	if senderID > receiverID {
		firstLock, secondLock = receiverID, senderID
	}

	sender, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to lock account: %w", err)
	}
	receiver, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to lock account: %w", err)
	}
	if firstLock != senderID {
		sender, receiver = receiver, sender
	}

	if sender.Balance.LessThan(amount) {
		return decimal.Decimal{}, nil, ErrInsufficientFunds
	}

	senderBalance := sender.Balance.Sub(amount)
	receiverBalance := receiver.Balance.Add(amount)

	entry := &models.LedgerEntry{
		SenderID:     sender.ID,
		ReceiverID:   receiver.ID,
		SenderName:   sender.Name,
		ReceiverName: receiver.Name,
		Amount:       amount,
		Kind:         models.KindTransfer,
		Status:       models.StatusCompleted,
	}
	if err := s.createLedgerEntry(ctx, tx, entry); err != nil {
		return decimal.Decimal{}, nil, err
	}

	if err := s.updateAccountBalance(ctx, tx, sender.ID, senderBalance, sender.Version); err != nil {
		return decimal.Decimal{}, nil, err
	}
	if err := s.updateAccountBalance(ctx, tx, receiver.ID, receiverBalance, receiver.Version); err != nil {
		return decimal.Decimal{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return senderBalance, entry, nil
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, name, email, balance, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).
		Scan(&account.ID, &account.Name, &account.Email, &account.Balance, &account.Version)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) getAccountEmail(ctx context.Context, tx *sql.Tx, accountID string) (string, error) {
	var email string
	err := tx.QueryRowContext(ctx,
		`SELECT email FROM accounts WHERE id = $1`, accountID).Scan(&email)
	return email, err
}

func (s *LedgerService) getAccountIDByEmail(ctx context.Context, tx *sql.Tx, email string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE email = $1`, email).Scan(&id)
	return id, err
}

func (s *LedgerService) createLedgerEntry(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO transactions (sender_id, receiver_id, sender_name, receiver_name, amount, kind, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		entry.SenderID, entry.ReceiverID, entry.SenderName, entry.ReceiverName,
		entry.Amount, entry.Kind, entry.Status).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

func (s *LedgerService) updateAccountBalance(ctx context.Context, tx *sql.Tx, accountID string, newBalance decimal.Decimal, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`,
		newBalance, accountID, version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}
	return nil
}
