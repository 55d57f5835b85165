package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/corebank/backend/internal/middleware"
)

// AccountService exposes read-only account endpoints and the receive-money QR.
type AccountService struct {
	query     *QueryService
	qr        *QRService
	validator *ValidationHelper
}

// QRResolveRequest carries a scanned receive-money code.
type QRResolveRequest struct {
	Code string `json:"code" validate:"required"`
}

func NewAccountService(db *sql.DB, redisClient *redis.Client) *AccountService {
	return &AccountService{
		query:     NewQueryService(db),
		qr:        NewQRService(db, redisClient),
		validator: NewValidationHelper(),
	}
}

// Balance returns the authenticated account's current balance.
func (s *AccountService) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		SendErrorResponse(w, "User not found in token", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.query.GetBalance(r.Context(), accountID)
	if err != nil {
		writeAccountError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"balance": balance})
}

// UserInfo returns name, email and balance for the authenticated account.
func (s *AccountService) UserInfo(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		SendErrorResponse(w, "User not found in token", http.StatusUnauthorized, nil)
		return
	}

	account, err := s.query.GetUserInfo(r.Context(), accountID)
	if err != nil {
		writeAccountError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    account.Name,
		"email":   account.Email,
		"balance": account.Balance,
	})
}

// ReceiveQR returns a QR code other customers can scan to transfer money to
// the authenticated account. An optional amount query parameter pre-fills the
// requested amount.
func (s *AccountService) ReceiveQR(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		SendErrorResponse(w, "User not found in token", http.StatusUnauthorized, nil)
		return
	}

	amount := decimal.Decimal{}
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.Sign() <= 0 {
			SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
			return
		}
		amount = parsed
	}

	code, image, err := s.qr.GenerateReceiveCode(r.Context(), accountID, amount)
	if err != nil {
		writeAccountError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"qrCode":  code,
		"qrImage": image,
	})
}

// ResolveQR resolves a scanned receive-money code into the recipient details
// a client needs to prefill a transfer.
func (s *AccountService) ResolveQR(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		SendErrorResponse(w, "User not found in token", http.StatusUnauthorized, nil)
		return
	}

	var req QRResolveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payload, err := s.qr.ResolveReceiveCode(r.Context(), req.Code)
	if err != nil {
		writeAccountError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"recipient": payload})
}

func writeAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrQRCodeInvalid):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	default:
		log.Printf("[ACCOUNT] Request failed: %v", err)
		SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
	}
}
