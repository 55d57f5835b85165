package services

import "errors"

// Business-rule failures. Each money-moving operation checks these before any
// mutation, so a returned sentinel always means the store is untouched.
var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrAccountNotFound   = errors.New("account does not exist")
	ErrSenderNotFound    = errors.New("sender not found")
	ErrReceiverNotFound  = errors.New("receiver not found")
	ErrSelfTransfer      = errors.New("cannot transfer to your own account")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrUnauthenticated   = errors.New("no authenticated account in request")
	ErrQRCodeInvalid     = errors.New("invalid or expired QR code")
)
