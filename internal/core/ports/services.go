package ports

import (
	"context"
	"errors"
	"time"

	"realm-wallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrGatewayNotConfigured is returned by a PaymentRelay without processor credentials.
var ErrGatewayNotConfigured = errors.New("payment gateway credentials missing")

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles bearer token operations.
type TokenService interface {
	Generate(userID uuid.UUID, email string, sessionID string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed bearer token claims.
type TokenClaims struct {
	UserID    uuid.UUID
	Email     string
	SessionID string
}

// IdempotencyCache is the Redis-layer cache of completed funding outcomes.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NonceStore guards single use of payment instrument references.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error)
	// Release forgets a nonce so a failed attempt can be retried with it.
	Release(ctx context.Context, scope string, nonce string) error
	// Exists reports whether nonce is currently claimed.
	Exists(ctx context.Context, scope string, nonce string) (bool, error)
}

// ChangeFeed broadcasts record changes between sessions of the same identity.
type ChangeFeed interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
	// Listen blocks, invoking handle for every event, until ctx is cancelled.
	Listen(ctx context.Context, handle func(context.Context, domain.ChangeEvent)) error
}

// Notifier records user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, n domain.Notification) error
	Recent(ctx context.Context, userID uuid.UUID, limit int64) ([]domain.Notification, error)
}

// IdentityProvider verifies sessions and owns the identity-side profile copy.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (*domain.Identity, error)
	Profile(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, displayName, avatarURL string) error
}

// --- Payment relay ---

// ClientAuthorization lets a client tokenize a card with the processor.
type ClientAuthorization struct {
	Token         string
	ApplicationID string
	LocationID    string
	Environment   string
	ExpiresAt     time.Time
}

// CaptureResult is the processor's answer to a capture.
type CaptureResult struct {
	Success       bool
	TransactionID string
	Message       string
}

// PaymentRelay fronts the card processor.
type PaymentRelay interface {
	GenerateClientAuthorization(ctx context.Context, userID uuid.UUID) (*ClientAuthorization, error)
	Capture(ctx context.Context, amount decimal.Decimal, instrumentRef string, idempotencyKey string) (*CaptureResult, error)
}

// --- Service Ports (Business Logic) ---

// LedgerOutcome is the result of a committed wallet operation.
type LedgerOutcome struct {
	Notification domain.Notification `json:"notification"`
	State        domain.WalletState  `json:"state"`
	Transaction  *domain.Transaction `json:"transaction,omitempty"`
	Duplicate    bool                `json:"duplicate,omitempty"`
}

// Ledger is one session's wallet engine.
type Ledger interface {
	Identity() (domain.Identity, bool)
	Snapshot() (domain.WalletState, error)
	Hydrate(ctx context.Context) error
	AddFunds(ctx context.Context, amount decimal.Decimal, requestID string) (*LedgerOutcome, error)
	PurchaseItem(ctx context.Context, item domain.Item) (*LedgerOutcome, error)
	UpdateProfile(ctx context.Context, displayName, avatarURL string) (*LedgerOutcome, error)
}

// SessionProvider hands out the engine bound to an authenticated session.
type SessionProvider interface {
	Session(ctx context.Context, identity domain.Identity) (Ledger, error)
	End(sessionID string)
}

// CatalogService exposes the purchasable items.
type CatalogService interface {
	Items() []domain.Item
	Lookup(id string) (domain.Item, bool)
}

// FundingRequest holds raw input for adding funds through the processor.
type FundingRequest struct {
	Amount string
	Nonce  string
}

// FundingService captures a card payment and credits the wallet.
type FundingService interface {
	AddFunds(ctx context.Context, identity domain.Identity, req FundingRequest) (*LedgerOutcome, error)
}

// AuthService defines authentication business logic.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Logout(ctx context.Context, identity domain.Identity) (domain.Notification, error)
}

// RegisterRequest holds input for account registration.
type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
	AvatarURL   string
}

// AuthResult holds an issued bearer token.
type AuthResult struct {
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
}

// AuditService records audit entries.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
