package service

import (
	"context"
	"fmt"
	"time"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const revokedSessionScope = "revoked-session"

// RevocationList remembers logged-out session ids until their tokens expire.
type RevocationList struct {
	store ports.NonceStore
	ttl   time.Duration
}

// NewRevocationList keeps revoked session ids for ttl, normally the token lifetime.
func NewRevocationList(store ports.NonceStore, ttl time.Duration) *RevocationList {
	return &RevocationList{store: store, ttl: ttl}
}

// Revoke marks sessionID as logged out.
func (l *RevocationList) Revoke(ctx context.Context, sessionID string) error {
	if _, err := l.store.CheckAndSet(ctx, revokedSessionScope, sessionID, l.ttl); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Revoked reports whether sessionID was logged out.
func (l *RevocationList) Revoked(ctx context.Context, sessionID string) (bool, error) {
	return l.store.Exists(ctx, revokedSessionScope, sessionID)
}

// IdentityService implements ports.IdentityProvider on top of the account
// table and bearer tokens.
type IdentityService struct {
	accounts   ports.AccountRepository
	tokens     ports.TokenService
	revocation *RevocationList
	log        zerolog.Logger
}

// NewIdentityService creates an IdentityService. revocation may be nil.
func NewIdentityService(accounts ports.AccountRepository, tokens ports.TokenService, revocation *RevocationList, log zerolog.Logger) *IdentityService {
	return &IdentityService{accounts: accounts, tokens: tokens, revocation: revocation, log: log}
}

// Verify maps a bearer token to the identity it was issued for.
func (s *IdentityService) Verify(ctx context.Context, token string) (*domain.Identity, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperror.ErrUnauthenticated()
	}

	if s.revocation != nil {
		revoked, err := s.revocation.Revoked(ctx, claims.SessionID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", claims.UserID.String()).Msg("revocation check failed, accepting token")
		}
		if revoked {
			return nil, apperror.ErrUnauthenticated()
		}
	}

	return &domain.Identity{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Email:     claims.Email,
	}, nil
}

// Profile returns the identity-side copy of the user's profile.
func (s *IdentityService) Profile(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	acct, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// UpdateProfile overwrites the identity-side display fields.
func (s *IdentityService) UpdateProfile(ctx context.Context, userID uuid.UUID, displayName, avatarURL string) error {
	if err := s.accounts.UpdateProfile(ctx, userID, displayName, avatarURL); err != nil {
		return fmt.Errorf("update account profile: %w", err)
	}
	return nil
}
