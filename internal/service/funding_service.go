package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/apperror"
	"realm-wallet/pkg/metrics"

	"github.com/rs/zerolog"
)

// recordAttempts bounds how often a captured payment is re-offered to the
// ledger after losing a version race.
const recordAttempts = 3

// FundingServiceImpl implements ports.FundingService.
type FundingServiceImpl struct {
	sessions       ports.SessionProvider
	relay          ports.PaymentRelay
	nonces         ports.NonceStore
	cache          ports.IdempotencyCache
	notifier       ports.Notifier
	metrics        *metrics.LedgerMetrics
	idempotencyTTL time.Duration
	nonceTTL       time.Duration
	log            zerolog.Logger
}

// NewFundingService creates a new FundingServiceImpl. notifier may be nil.
func NewFundingService(
	sessions ports.SessionProvider,
	relay ports.PaymentRelay,
	nonces ports.NonceStore,
	cache ports.IdempotencyCache,
	notifier ports.Notifier,
	m *metrics.LedgerMetrics,
	idempotencyTTL time.Duration,
	nonceTTL time.Duration,
	log zerolog.Logger,
) *FundingServiceImpl {
	return &FundingServiceImpl{
		sessions:       sessions,
		relay:          relay,
		nonces:         nonces,
		cache:          cache,
		notifier:       notifier,
		metrics:        m,
		idempotencyTTL: idempotencyTTL,
		nonceTTL:       nonceTTL,
		log:            log,
	}
}

// AddFunds captures req.Amount on the tokenized card req.Nonce and credits the
// wallet. A nonce already turned into a credit returns the cached outcome.
func (s *FundingServiceImpl) AddFunds(ctx context.Context, identity domain.Identity, req ports.FundingRequest) (*ports.LedgerOutcome, error) {
	if identity.IsZero() {
		return nil, apperror.ErrUnauthenticated()
	}

	amount, appErr := ParseAmount(req.Amount)
	if appErr != nil {
		return nil, appErr
	}
	nonce := strings.TrimSpace(req.Nonce)
	if nonce == "" {
		return nil, apperror.ErrInvalidInput("Payment nonce is required")
	}

	ledger, err := s.sessions.Session(ctx, identity)
	if err != nil {
		return nil, err
	}

	key := domain.BuildFundingKey(identity.UserID, nonce)
	log := s.log.With().Str("user_id", identity.UserID.String()).Str("funding_key", key).Logger()

	// Layer 1: completed outcome cached in Redis
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("redis idempotency check failed, continuing")
	}
	if cached != nil {
		var outcome ports.LedgerOutcome
		if err := json.Unmarshal(cached, &outcome); err == nil {
			if state, err := ledger.Snapshot(); err == nil {
				outcome.State = state
			}
			outcome.Duplicate = true
			return &outcome, nil
		}
		log.Warn().Msg("discarding unreadable cached funding outcome")
	}

	// Layer 2: single use of the card nonce
	scope := identity.UserID.String()
	fresh, err := s.nonces.CheckAndSet(ctx, scope, nonce, s.nonceTTL)
	if err != nil {
		// the processor idempotency key still prevents a double charge
		log.Warn().Err(err).Msg("redis nonce check failed, continuing")
		fresh = true
	}
	if !fresh {
		return nil, apperror.ErrNonceUsed()
	}

	result, err := s.relay.Capture(ctx, amount, nonce, key)
	if err != nil {
		s.releaseNonce(ctx, scope, nonce, log)
		s.metrics.IncCapture(metrics.OutcomeFailure)
		if errors.Is(err, ports.ErrGatewayNotConfigured) {
			return nil, s.fail(ctx, identity, apperror.ErrGatewayConfig(err))
		}
		log.Error().Err(err).Str("amount", amount.StringFixed(domain.MoneyScale)).Msg("payment capture failed")
		return nil, s.fail(ctx, identity, apperror.ErrGateway(err))
	}
	if !result.Success {
		s.releaseNonce(ctx, scope, nonce, log)
		s.metrics.IncCapture(metrics.OutcomeRejected)
		log.Info().Str("processor_tx_id", result.TransactionID).Str("reason", result.Message).Msg("payment declined")
		declined := apperror.ErrGateway(fmt.Errorf("capture declined: %s", result.Message))
		if result.Message != "" {
			declined = declined.WithMessage(result.Message)
		}
		return nil, s.fail(ctx, identity, declined)
	}
	s.metrics.IncCapture(metrics.OutcomeSuccess)

	requestID := result.TransactionID
	if requestID == "" {
		requestID = key
	}

	var outcome *ports.LedgerOutcome
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		outcome, err = ledger.AddFunds(ctx, amount, requestID)
		if err == nil || !apperror.HasCode(err, "STORE_002") {
			break
		}
		log.Warn().Int("attempt", attempt).Msg("wallet changed during funding, retrying with fresh state")
	}
	if err != nil {
		// money moved but the wallet did not: needs manual reconciliation
		log.Error().Err(err).
			Str("processor_tx_id", result.TransactionID).
			Str("amount", amount.StringFixed(domain.MoneyScale)).
			Msg("captured payment was not recorded in wallet")
		return nil, err
	}

	if payload, err := json.Marshal(outcome); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.idempotencyTTL); err != nil {
			log.Warn().Err(err).Msg("failed to cache funding outcome in redis")
		}
	}

	log.Info().
		Str("processor_tx_id", result.TransactionID).
		Str("amount", amount.StringFixed(domain.MoneyScale)).
		Bool("duplicate", outcome.Duplicate).
		Msg("funds added")
	return outcome, nil
}

func (s *FundingServiceImpl) releaseNonce(ctx context.Context, scope, nonce string, log zerolog.Logger) {
	if err := s.nonces.Release(ctx, scope, nonce); err != nil {
		log.Warn().Err(err).Msg("failed to release payment nonce")
	}
}

func (s *FundingServiceImpl) fail(ctx context.Context, identity domain.Identity, appErr *apperror.AppError) error {
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, identity.UserID, notificationFor(appErr)); err != nil {
			s.log.Warn().Err(err).Msg("failed to record notification")
		}
	}
	return appErr
}
