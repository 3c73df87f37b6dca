// Package square implements ports.PaymentRelay on the Square Payments API.
package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"realm-wallet/config"
	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var errInvalidEnv = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)

// completed payment states; anything else is reported as not captured
var capturedStatuses = map[string]bool{"COMPLETED": true, "APPROVED": true}

type createPaymentFunc func(ctx context.Context, req *sq.CreatePaymentRequest) (*sq.CreatePaymentResponse, error)

// Relay talks to Square on behalf of the wallet. Card data never reaches it:
// clients tokenize with the authorization issued here and send back a nonce.
type Relay struct {
	cfg         config.PaymentConfig
	environment string
	create      createPaymentFunc
	now         func() time.Time
	log         zerolog.Logger
}

// NewRelay builds a relay. Missing credentials are not an error here; every
// call reports ports.ErrGatewayNotConfigured instead.
func NewRelay(cfg config.PaymentConfig, log zerolog.Logger) (*Relay, error) {
	env, err := normalizeEnv(cfg.Environment)
	if err != nil {
		return nil, err
	}

	r := &Relay{cfg: cfg, environment: env, now: time.Now, log: log}
	if cfg.Configured() {
		sdk := sqclient.NewClient(
			sqoption.WithBaseURL(baseURLs[env]),
			sqoption.WithToken(strings.TrimSpace(cfg.AccessToken)),
		)
		r.create = func(ctx context.Context, req *sq.CreatePaymentRequest) (*sq.CreatePaymentResponse, error) {
			return sdk.Payments.Create(ctx, req)
		}
		log.Info().Str("environment", env).Str("location_id", cfg.LocationID).Msg("Square relay initialized")
	} else {
		log.Warn().Msg("Square credentials missing; payments are disabled")
	}
	return r, nil
}

func (r *Relay) configured() bool {
	return r.create != nil && r.cfg.ClientTokenSecret != ""
}

// GenerateClientAuthorization issues a short-lived token that binds a card
// tokenization session to userID and the configured Square location.
func (r *Relay) GenerateClientAuthorization(_ context.Context, userID uuid.UUID) (*ports.ClientAuthorization, error) {
	if !r.configured() {
		return nil, ports.ErrGatewayNotConfigured
	}

	now := r.now()
	expiresAt := now.Add(r.cfg.ClientTokenTTL)
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"app": r.cfg.ApplicationID,
		"loc": r.cfg.LocationID,
		"env": r.environment,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.cfg.ClientTokenSecret))
	if err != nil {
		return nil, fmt.Errorf("signing client authorization: %w", err)
	}

	return &ports.ClientAuthorization{
		Token:         signed,
		ApplicationID: r.cfg.ApplicationID,
		LocationID:    r.cfg.LocationID,
		Environment:   r.environment,
		ExpiresAt:     expiresAt,
	}, nil
}

// Capture charges amount against instrumentRef exactly once per idempotencyKey.
// Declines come back as an unsuccessful result, transport and auth failures as errors.
func (r *Relay) Capture(ctx context.Context, amount decimal.Decimal, instrumentRef string, idempotencyKey string) (*ports.CaptureResult, error) {
	if !r.configured() {
		return nil, ports.ErrGatewayNotConfigured
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(domain.MoneyScale)) {
		return nil, fmt.Errorf("capture amount %s is not a positive money value", amount)
	}

	if r.cfg.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CaptureTimeout)
		defer cancel()
	}

	cents := amount.Shift(domain.MoneyScale).IntPart()
	currency := sq.Currency(strings.ToUpper(r.cfg.Currency))
	locationID := r.cfg.LocationID
	note := "Wallet top-up"
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		SourceID:       instrumentRef,
		LocationID:     &locationID,
		AmountMoney:    &sq.Money{Amount: &cents, Currency: &currency},
		Note:           &note,
		ReferenceID:    &idempotencyKey,
	}

	r.logCall("request", map[string]any{"amount_cents": cents, "source_id": instrumentRef, "idempotency_key": idempotencyKey})

	resp, err := r.create(ctx, req)
	if err != nil {
		r.log.Error().Err(err).Str("idempotency_key", idempotencyKey).Msg("Square capture failed")
		return r.mapError(err)
	}

	payment := resp.GetPayment()
	if payment == nil {
		return nil, errors.New("square create payment: empty response")
	}
	id := stringValue(payment.GetID())
	status := stringValue(payment.GetStatus())
	r.logCall("response", map[string]any{"payment_id": id, "status": status})

	if !capturedStatuses[status] {
		return &ports.CaptureResult{
			Success:       false,
			TransactionID: id,
			Message:       fmt.Sprintf("Payment %s", strings.ToLower(status)),
		}, nil
	}
	return &ports.CaptureResult{Success: true, TransactionID: id, Message: "Payment completed"}, nil
}

func (r *Relay) mapError(err error) (*ports.CaptureResult, error) {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return nil, fmt.Errorf("square create payment: %w", err)
	}

	sqErrs := extractSquareErrors(apiErr)
	for _, e := range sqErrs {
		if e != nil && e.Category == sq.ErrorCategoryAuthenticationError {
			return nil, fmt.Errorf("%w: square rejected credentials", ports.ErrGatewayNotConfigured)
		}
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: square returned %d", ports.ErrGatewayNotConfigured, apiErr.StatusCode)
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests:
		return &ports.CaptureResult{Success: false, Message: declineMessage(sqErrs)}, nil
	default:
		return nil, fmt.Errorf("square create payment: %w", err)
	}
}

func declineMessage(errs []*sq.Error) string {
	for _, e := range errs {
		if e == nil {
			continue
		}
		if detail := stringValue(e.Detail); detail != "" {
			return detail
		}
		return string(e.Code)
	}
	return "Payment was declined"
}

func extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func (r *Relay) logCall(phase string, fields map[string]any) {
	ev := r.log.Info().Str("operation", "create_payment").Str("phase", phase)
	for k, v := range fields {
		ev = ev.Interface(k, redact(k, v))
	}
	ev.Msg("square " + phase)
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "source", "token", "secret"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	if _, ok := baseURLs[env]; !ok {
		return "", errInvalidEnv
	}
	return env, nil
}
