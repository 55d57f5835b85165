package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/corebank/backend/internal/middleware"
)

// TransactionService exposes the money-moving operations over HTTP. It is a
// thin layer: all invariants live in LedgerService and QueryService.
type TransactionService struct {
	ledger    *LedgerService
	query     *QueryService
	validator *ValidationHelper
}

// TransactionRequest carries the amount for deposits and withdrawals.
type TransactionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TransferRequest carries the transfer destination and amount.
type TransferRequest struct {
	ReceiverEmail string          `json:"receiverEmail" validate:"required,email"`
	Amount        decimal.Decimal `json:"amount"`
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{
		ledger:    NewLedgerService(db),
		query:     NewQueryService(db),
		validator: NewValidationHelper(),
	}
}

// Deposit credits the authenticated account.
func (ts *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		SendErrorResponse(w, "User not found in token", http.StatusUnauthorized, nil)
		return
	}

	var req TransactionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	newBalance, entry, err := ts.ledger.Deposit(r.Context(), accountID, req.Amount)
	if err != nil {
		writeOperationError(w, "deposit", err)
		return
	}

	log.Printf("[TRANSACTION] Deposit of %s completed for account %s", entry.Amount, accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":     "Deposit successful",
		"balance":     newBalance,
		"transaction": entry,
	})
}

// Withdraw debits the authenticated account.
func (ts *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		SendErrorResponse(w, "User not found in token", http.StatusUnauthorized, nil)
		return
	}

	var req TransactionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	newBalance, entry, err := ts.ledger.Withdraw(r.Context(), accountID, req.Amount)
	if err != nil {
		writeOperationError(w, "withdrawal", err)
		return
	}

	log.Printf("[TRANSACTION] Withdrawal of %s completed for account %s", entry.Amount, accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":     "Withdrawal successful",
		"balance":     newBalance,
		"transaction": entry,
	})
}

// Transfer moves money from the authenticated account to the account
// registered under the receiver email.
func (ts *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		SendErrorResponse(w, "Sender not in token", http.StatusUnauthorized, nil)
		return
	}

	var req TransferRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	newBalance, entry, err := ts.ledger.Transfer(r.Context(), accountID, req.ReceiverEmail, req.Amount)
	if err != nil {
		writeOperationError(w, "transfer", err)
		return
	}

	log.Printf("[TRANSACTION] Transfer of %s completed from account %s", entry.Amount, accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":     "Transfer successful",
		"balance":     newBalance,
		"transaction": entry,
	})
}

// History lists every completed movement involving the authenticated account,
// newest first.
func (ts *TransactionService) History(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		SendErrorResponse(w, "User not found in token", http.StatusUnauthorized, nil)
		return
	}

	entries, err := ts.query.GetHistory(r.Context(), accountID)
	if err != nil {
		writeOperationError(w, "history", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"transactions": entries})
}

// writeOperationError maps business failures to stable HTTP statuses. Storage
// failures are logged but never leaked to the caller.
func writeOperationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrSenderNotFound),
		errors.Is(err, ErrReceiverNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrUnauthenticated):
		SendErrorResponse(w, err.Error(), http.StatusUnauthorized, nil)
	default:
		log.Printf("[TRANSACTION] %s failed: %v", op, err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
	}
}
