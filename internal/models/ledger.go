package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction kinds, stored as text in the transactions table.
const (
	KindDeposit    = "Deposit"
	KindWithdrawal = "Withdrawal"
	KindTransfer   = "Transfer"
)

// Transaction statuses. Only Completed rows are ever persisted: a failed
// operation rolls back its whole database transaction, ledger row included.
const (
	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// LedgerEntry is an immutable record of one completed money movement.
// For Deposit and Withdrawal, sender and receiver are the same account.
// Names are snapshots taken at commit time and survive later renames.
type LedgerEntry struct {
	ID           int64           `json:"id" db:"id"`
	SenderID     string          `json:"sender_id" db:"sender_id"`
	ReceiverID   string          `json:"receiver_id" db:"receiver_id"`
	SenderName   string          `json:"sender_name" db:"sender_name"`
	ReceiverName string          `json:"receiver_name" db:"receiver_name"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Kind         string          `json:"kind" db:"kind"`
	Status       string          `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
