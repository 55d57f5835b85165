package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebank/backend/internal/models"
)

const (
	lockAccountRE    = "SELECT id, name, email, balance, version FROM accounts WHERE id = \\$1 FOR UPDATE"
	senderEmailRE    = "SELECT email FROM accounts WHERE id = \\$1"
	receiverIDRE     = "SELECT id FROM accounts WHERE email = \\$1"
	insertEntryRE    = "INSERT INTO transactions"
	updateBalanceRE  = "UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = NOW\\(\\) WHERE id = \\$2 AND version = \\$3"
	testSenderID     = "11111111-1111-1111-1111-111111111111"
	testReceiverID   = "22222222-2222-2222-2222-222222222222"
	testHighSenderID = "33333333-3333-3333-3333-333333333333"
)

func accountRows(id, name, email, balance string, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "balance", "version"}).
		AddRow(id, name, email, balance, version)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerService_Deposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful deposit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testSenderID).
			WillReturnRows(accountRows(testSenderID, "Alice", "alice@example.com", "100.00", 1))
		mock.ExpectQuery(insertEntryRE).
			WithArgs(testSenderID, testSenderID, "Alice", "Alice", dec("50.25"), models.KindDeposit, models.StatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))
		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("150.25"), testSenderID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		newBalance, entry, err := service.Deposit(context.Background(), testSenderID, dec("50.25"))
		assert.NoError(t, err)
		assert.True(t, dec("150.25").Equal(newBalance))
		assert.Equal(t, int64(7), entry.ID)
		assert.Equal(t, models.KindDeposit, entry.Kind)
		assert.Equal(t, models.StatusCompleted, entry.Status)
		assert.Equal(t, entry.SenderID, entry.ReceiverID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, _, err := service.Deposit(context.Background(), testSenderID, dec("0"))
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, _, err = service.Deposit(context.Background(), testSenderID, dec("-10"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testSenderID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, _, err := service.Deposit(context.Background(), testSenderID, dec("50.00"))
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Withdraw(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful withdrawal", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testSenderID).
			WillReturnRows(accountRows(testSenderID, "Alice", "alice@example.com", "150.00", 3))
		mock.ExpectQuery(insertEntryRE).
			WithArgs(testSenderID, testSenderID, "Alice", "Alice", dec("50.00"), models.KindWithdrawal, models.StatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(8, time.Now()))
		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("100.00"), testSenderID, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		newBalance, entry, err := service.Withdraw(context.Background(), testSenderID, dec("50.00"))
		assert.NoError(t, err)
		assert.True(t, dec("100.00").Equal(newBalance))
		assert.Equal(t, models.KindWithdrawal, entry.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance leaves account untouched", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testSenderID).
			WillReturnRows(accountRows(testSenderID, "Alice", "alice@example.com", "150.00", 3))
		mock.ExpectRollback()

		_, _, err := service.Withdraw(context.Background(), testSenderID, dec("200.00"))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, _, err := service.Withdraw(context.Background(), testSenderID, dec("0"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// Concurrent double spends are prevented by the database rather than by code
// visible to sqlmock: the sender row is held FOR UPDATE until commit, so two
// overlapping transfers from the same account serialize and the second one
// re-reads the already-debited balance before its funds check. The subtests
// here pin the two pieces that assumption rests on over a single connection:
// deterministic lock acquisition order and the version guard on every balance
// write (see TestLedgerService_updateAccountBalance).
func TestLedgerService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful transfer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(senderEmailRE).
			WithArgs(testSenderID).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("alice@example.com"))
		mock.ExpectQuery(receiverIDRE).
			WithArgs("bob@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testReceiverID))

		// Sender id sorts before receiver id, so the sender row is locked first.
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testSenderID).
			WillReturnRows(accountRows(testSenderID, "Alice", "alice@example.com", "100.00", 1))
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testReceiverID).
			WillReturnRows(accountRows(testReceiverID, "Bob", "bob@example.com", "20.00", 5))

		mock.ExpectQuery(insertEntryRE).
			WithArgs(testSenderID, testReceiverID, "Alice", "Bob", dec("40.00"), models.KindTransfer, models.StatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(9, time.Now()))

		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("60.00"), testSenderID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("60.00"), testReceiverID, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		newBalance, entry, err := service.Transfer(context.Background(), testSenderID, "bob@example.com", dec("40.00"))
		assert.NoError(t, err)
		assert.True(t, dec("60.00").Equal(newBalance))
		assert.Equal(t, testSenderID, entry.SenderID)
		assert.Equal(t, testReceiverID, entry.ReceiverID)
		assert.Equal(t, "Alice", entry.SenderName)
		assert.Equal(t, "Bob", entry.ReceiverName)
		assert.Equal(t, models.KindTransfer, entry.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks are acquired in id order regardless of direction", func(t *testing.T) {
		// Sender id sorts after receiver id, so the receiver row must be
		// locked first to keep the global lock order deterministic.
		mock.ExpectBegin()
		mock.ExpectQuery(senderEmailRE).
			WithArgs(testHighSenderID).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("carol@example.com"))
		mock.ExpectQuery(receiverIDRE).
			WithArgs("bob@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testReceiverID))

		mock.ExpectQuery(lockAccountRE).
			WithArgs(testReceiverID).
			WillReturnRows(accountRows(testReceiverID, "Bob", "bob@example.com", "20.00", 2))
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testHighSenderID).
			WillReturnRows(accountRows(testHighSenderID, "Carol", "carol@example.com", "75.00", 4))

		mock.ExpectQuery(insertEntryRE).
			WithArgs(testHighSenderID, testReceiverID, "Carol", "Bob", dec("25.00"), models.KindTransfer, models.StatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(10, time.Now()))

		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("50.00"), testHighSenderID, 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("45.00"), testReceiverID, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		newBalance, entry, err := service.Transfer(context.Background(), testHighSenderID, "bob@example.com", dec("25.00"))
		assert.NoError(t, err)
		assert.True(t, dec("50.00").Equal(newBalance))
		assert.Equal(t, testHighSenderID, entry.SenderID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer is denied regardless of balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(senderEmailRE).
			WithArgs(testSenderID).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("alice@example.com"))
		mock.ExpectRollback()

		_, _, err := service.Transfer(context.Background(), testSenderID, "alice@example.com", dec("10.00"))
		assert.ErrorIs(t, err, ErrSelfTransfer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer is denied for case variants of the sender email", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(senderEmailRE).
			WithArgs(testSenderID).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("alice@example.com"))
		mock.ExpectRollback()

		_, _, err := service.Transfer(context.Background(), testSenderID, "Alice@Example.COM", dec("10.00"))
		assert.ErrorIs(t, err, ErrSelfTransfer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sender not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(senderEmailRE).
			WithArgs(testSenderID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, _, err := service.Transfer(context.Background(), testSenderID, "bob@example.com", dec("10.00"))
		assert.ErrorIs(t, err, ErrSenderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("receiver not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(senderEmailRE).
			WithArgs(testSenderID).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("alice@example.com"))
		mock.ExpectQuery(receiverIDRE).
			WithArgs("nobody@example.com").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, _, err := service.Transfer(context.Background(), testSenderID, "nobody@example.com", dec("10.00"))
		assert.ErrorIs(t, err, ErrReceiverNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance rolls back without writes", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(senderEmailRE).
			WithArgs(testSenderID).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("alice@example.com"))
		mock.ExpectQuery(receiverIDRE).
			WithArgs("bob@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testReceiverID))
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testSenderID).
			WillReturnRows(accountRows(testSenderID, "Alice", "alice@example.com", "100.00", 1))
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testReceiverID).
			WillReturnRows(accountRows(testReceiverID, "Bob", "bob@example.com", "0.00", 1))
		mock.ExpectRollback()

		_, _, err := service.Transfer(context.Background(), testSenderID, "bob@example.com", dec("150.00"))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, _, err := service.Transfer(context.Background(), testSenderID, "bob@example.com", dec("-1"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure is reported as storage error", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(senderEmailRE).
			WithArgs(testSenderID).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("alice@example.com"))
		mock.ExpectQuery(receiverIDRE).
			WithArgs("bob@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testReceiverID))
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testSenderID).
			WillReturnRows(accountRows(testSenderID, "Alice", "alice@example.com", "100.00", 1))
		mock.ExpectQuery(lockAccountRE).
			WithArgs(testReceiverID).
			WillReturnRows(accountRows(testReceiverID, "Bob", "bob@example.com", "20.00", 1))
		mock.ExpectQuery(insertEntryRE).
			WithArgs(testSenderID, testReceiverID, "Alice", "Bob", dec("40.00"), models.KindTransfer, models.StatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, time.Now()))
		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("60.00"), testSenderID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("60.00"), testReceiverID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(sql.ErrConnDone)

		_, _, err := service.Transfer(context.Background(), testSenderID, "bob@example.com", dec("40.00"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_updateAccountBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("optimistic lock failure", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectExec(updateBalanceRE).
			WithArgs(dec("10.00"), testSenderID, 2).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err = service.updateAccountBalance(context.Background(), tx, testSenderID, dec("10.00"), 2)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
	})
}
