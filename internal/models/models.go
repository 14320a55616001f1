package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrUserNotFound is returned when a user id or name matches no row.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken is returned when registering a duplicate username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrInvalidCredentials is returned on a failed password check.
	ErrInvalidCredentials = errors.New("incorrect username or password")
	// ErrTokenRevoked is returned for tokens issued before the last
	// password change.
	ErrTokenRevoked = errors.New("token issued before last password change")
	// ErrInsufficientFunds is the advisory rejection at transfer creation.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrSelfTransfer rejects transfers where sender and receiver match.
	ErrSelfTransfer = errors.New("cannot transfer to the same account")
	// ErrTransactionNotFound is returned when a transaction id matches no row.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// User is an account holder. The user row is also the ledger account:
// it carries the balance mutated by settlement.
type User struct {
	ID              uuid.UUID       `json:"id"`
	Fullname        string          `json:"fullname"`
	HashedPassword  string          `json:"-"`
	Balance         decimal.Decimal `json:"balance"`
	PasswordSetTime time.Time       `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Transaction is a single transfer attempt. Rows are append-only: status
// is the only mutable column, and user references are nulled if a user
// row is ever deleted.
type Transaction struct {
	ID         int64           `json:"id"`
	Dt         time.Time       `json:"dt"`
	FromUserID uuid.NullUUID   `json:"from_user_id"`
	ToUserID   uuid.NullUUID   `json:"to_user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
}

// TransferReceipt is what a creation request returns synchronously.
// Settlement happens later; callers discover its outcome via history.
type TransferReceipt struct {
	ID     int64     `json:"id"`
	Dt     time.Time `json:"dt"`
	Status string    `json:"status"`
}

// HistoryEntry is one row of the merged, signed history view. Amount is
// negative when the account was the sender. ID is carried for deterministic
// ordering only and is not part of the response shape.
type HistoryEntry struct {
	ID        int64           `json:"-"`
	Date      time.Time       `json:"date"`
	Direction string          `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
}
