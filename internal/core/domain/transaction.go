package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes money entering the wallet from money leaving it.
type TransactionKind string

const (
	TransactionKindAddFunds TransactionKind = "add_funds"
	TransactionKindPurchase TransactionKind = "purchase"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	return k == TransactionKindAddFunds || k == TransactionKindPurchase
}

// Transaction is an immutable wallet history entry.
// ItemName is set only for purchases. RequestID makes appends idempotent.
type Transaction struct {
	ID        string          `json:"id"`
	Kind      TransactionKind `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	ItemName  *string         `json:"itemName,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// IsPurchase returns true for purchase entries.
func (t Transaction) IsPurchase() bool {
	return t.Kind == TransactionKindPurchase
}

// In returns a copy of t with Timestamp expressed in loc.
func (t Transaction) In(loc *time.Location) Transaction {
	if loc != nil {
		t.Timestamp = t.Timestamp.In(loc)
	}
	return t
}
