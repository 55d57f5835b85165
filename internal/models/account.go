package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a monetary balance and is addressable for transfers by email.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Email     string          `json:"email" db:"email"`
	Password  string          `json:"-" db:"password"` // argon2id hash, opaque to the core
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Version   int             `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
