package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const minPasswordLen = 8

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	accounts   ports.AccountRepository
	records    ports.RecordStore
	hashSvc    ports.HashService
	tokenSvc   ports.TokenService
	sessions   ports.SessionProvider
	revocation *RevocationList
	notifier   ports.Notifier
	log        zerolog.Logger
	now        func() time.Time
}

// NewAuthService creates a new AuthServiceImpl. sessions, revocation and notifier may be nil.
func NewAuthService(
	accounts ports.AccountRepository,
	records ports.RecordStore,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
	sessions ports.SessionProvider,
	revocation *RevocationList,
	notifier ports.Notifier,
	log zerolog.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		accounts:   accounts,
		records:    records,
		hashSvc:    hashSvc,
		tokenSvc:   tokenSvc,
		sessions:   sessions,
		revocation: revocation,
		notifier:   notifier,
		log:        log,
		now:        time.Now,
	}
}

// Register creates an identity account and its zero-balance wallet record,
// then signs the caller in.
func (s *AuthServiceImpl) Register(ctx context.Context, req ports.RegisterRequest) (*ports.AuthResult, error) {
	email := normalizeEmail(req.Email)
	displayName := strings.TrimSpace(req.DisplayName)
	avatarURL := strings.TrimSpace(req.AvatarURL)

	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, apperror.ErrInvalidInput("A valid email address is required")
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLen {
		return nil, apperror.ErrInvalidInput(fmt.Sprintf("Password must be at least %d characters", minPasswordLen))
	}
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	if appErr := validateProfile(displayName, avatarURL); appErr != nil {
		return nil, appErr
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check email: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrEmailExists()
	}

	passwordHash, err := s.hashSvc.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}

	now := s.now().UTC()
	account := &domain.Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		AvatarURL:    avatarURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ports.ErrEmailTaken) {
			return nil, apperror.ErrEmailExists()
		}
		return nil, apperror.InternalError(fmt.Errorf("create account: %w", err))
	}

	// hydration creates a missing record too, so a failure here is recoverable
	if err := s.records.Create(ctx, domain.NewUserRecord(account.ID, displayName, avatarURL, now)); err != nil {
		s.log.Warn().Err(err).Str("user_id", account.ID.String()).Msg("failed to create wallet record at signup")
	}

	s.log.Info().Str("user_id", account.ID.String()).Msg("account registered")
	return s.issue(account)
}

// Login verifies the password and issues a token for a fresh session.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (*ports.AuthResult, error) {
	account, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return nil, apperror.ErrInvalidCredentials()
	}

	return s.issue(account)
}

// Logout discards the session's engine and revokes its token. The wallet
// record is left untouched.
func (s *AuthServiceImpl) Logout(ctx context.Context, identity domain.Identity) (domain.Notification, error) {
	if identity.IsZero() {
		return domain.Notification{}, apperror.ErrUnauthenticated()
	}

	if s.sessions != nil {
		s.sessions.End(identity.SessionID)
	}
	if s.revocation != nil {
		if err := s.revocation.Revoke(ctx, identity.SessionID); err != nil {
			s.log.Warn().Err(err).Str("user_id", identity.UserID.String()).Msg("failed to revoke session token")
		}
	}

	n := domain.Notification{
		Title:       "Logged Out",
		Description: "You have been successfully logged out.",
		Severity:    domain.SeverityInfo,
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, identity.UserID, n); err != nil {
			s.log.Warn().Err(err).Msg("failed to record notification")
		}
	}

	s.log.Info().Str("user_id", identity.UserID.String()).Str("session_id", identity.SessionID).Msg("logged out")
	return n, nil
}

func (s *AuthServiceImpl) issue(account *domain.Account) (*ports.AuthResult, error) {
	token, expiresAt, err := s.tokenSvc.Generate(account.ID, account.Email, uuid.NewString())
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return &ports.AuthResult{
		UserID:    account.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
