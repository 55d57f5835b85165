package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// QRService produces receive-money codes: a QR image wrapping the account's
// transfer address (its email), optionally with a requested amount. Payloads
// are cached in Redis with a short TTL so a scanned code can be resolved and
// expired codes rejected.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redisClient *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
	}
}

// GenerateReceiveCode returns an opaque code plus a base64 PNG of its QR image.
func (s *QRService) GenerateReceiveCode(ctx context.Context, accountID string, amount decimal.Decimal) (string, string, error) {
	var name, email string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, email FROM accounts WHERE id = $1`, accountID).Scan(&name, &email)
	if err == sql.ErrNoRows {
		return "", "", ErrAccountNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load account: %w", err)
	}

	payload := map[string]any{
		"name":      name,
		"email":     email,
		"timestamp": time.Now().Unix(),
		"nonce":     generateNonce(),
	}
	if amount.Sign() > 0 {
		payload["amount"] = amount
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	if s.redis != nil {
		key := fmt.Sprintf("qr:%s", code)
		if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
			return "", "", fmt.Errorf("failed to cache QR payload: %w", err)
		}
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ResolveReceiveCode looks a scanned code up in Redis and returns its payload.
func (s *QRService) ResolveReceiveCode(ctx context.Context, code string) (map[string]any, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("QR resolution unavailable")
	}

	key := fmt.Sprintf("qr:%s", code)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrQRCodeInvalid
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
