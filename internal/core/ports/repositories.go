package ports

import (
	"context"
	"errors"

	"realm-wallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrRecordNotFound is returned by writes against a missing user record.
	ErrRecordNotFound = errors.New("user record not found")
	// ErrVersionConflict is returned when the record moved past the expected version.
	ErrVersionConflict = errors.New("user record version conflict")
	// ErrDuplicateRequest is returned when a transaction with the same request id already exists.
	ErrDuplicateRequest = errors.New("transaction request already recorded")
	// ErrEmailTaken is returned when an account with the same email exists.
	ErrEmailTaken = errors.New("email already registered")
)

// RecordStore persists one wallet document per identity.
// Writes are guarded by the record version; a successful write returns the new version.
type RecordStore interface {
	Create(ctx context.Context, record *domain.UserRecord) error
	// Get returns nil, nil when the record does not exist.
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserRecord, error)
	AppendTransaction(ctx context.Context, userID uuid.UUID, expectedVersion int64, newBalance decimal.Decimal, txn domain.Transaction) (int64, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, expectedVersion int64, displayName, avatarURL string) (int64, error)
}

// AccountRepository defines persistence operations for identity provider accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL string) error
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}
