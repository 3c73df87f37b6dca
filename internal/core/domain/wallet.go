package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits a wallet amount may carry.
const MoneyScale = 2

// WalletState is the session-local view of a user's wallet.
// It is replaced as a whole on every commit and never mutated in place.
type WalletState struct {
	Balance      decimal.Decimal `json:"balance"`
	Transactions []Transaction   `json:"transactions"` // newest first
	DisplayName  string          `json:"displayName"`
	AvatarURL    string          `json:"avatarUrl"`
	Version      int64           `json:"version"`
}

// Clone returns a deep copy so callers can't reach the engine's snapshot.
func (s WalletState) Clone() WalletState {
	cp := s
	cp.Transactions = make([]Transaction, len(s.Transactions))
	copy(cp.Transactions, s.Transactions)
	return cp
}

// Shortfall returns how much is missing to pay price, or zero when affordable.
func (s WalletState) Shortfall(price decimal.Decimal) decimal.Decimal {
	if s.Balance.GreaterThanOrEqual(price) {
		return decimal.Zero
	}
	return price.Sub(s.Balance)
}

// WithCommit returns the state after txn was accepted at version.
func (s WalletState) WithCommit(balance decimal.Decimal, txn Transaction, version int64) WalletState {
	next := WalletState{
		Balance:      balance,
		Transactions: make([]Transaction, 0, len(s.Transactions)+1),
		DisplayName:  s.DisplayName,
		AvatarURL:    s.AvatarURL,
		Version:      version,
	}
	next.Transactions = append(next.Transactions, txn)
	next.Transactions = append(next.Transactions, s.Transactions...)
	return next
}

// UserRecord is the persisted per-identity wallet document.
type UserRecord struct {
	UserID       uuid.UUID       `json:"userId"`
	Balance      decimal.Decimal `json:"balance"`
	Transactions []Transaction   `json:"transactions"` // newest first
	DisplayName  string          `json:"displayName"`
	AvatarURL    string          `json:"avatarUrl"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewUserRecord returns the zero-balance, empty-history record created at signup.
func NewUserRecord(userID uuid.UUID, displayName, avatarURL string, now time.Time) *UserRecord {
	return &UserRecord{
		UserID:       userID,
		Balance:      decimal.Zero,
		Transactions: []Transaction{},
		DisplayName:  displayName,
		AvatarURL:    avatarURL,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// State projects the record into a wallet state with timestamps in loc.
func (r *UserRecord) State(loc *time.Location) WalletState {
	txns := make([]Transaction, len(r.Transactions))
	for i, t := range r.Transactions {
		txns[i] = t.In(loc)
	}
	return WalletState{
		Balance:      r.Balance,
		Transactions: txns,
		DisplayName:  r.DisplayName,
		AvatarURL:    r.AvatarURL,
		Version:      r.Version,
	}
}
