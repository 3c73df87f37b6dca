package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/apperror"
	"realm-wallet/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	opAddFunds      = "add_funds"
	opPurchase      = "purchase"
	opUpdateProfile = "update_profile"
	opHydrate       = "hydrate"

	maxDisplayNameLen = 50
	maxAvatarURLLen   = 2048
)

var errNotHydrated = errors.New("wallet state not hydrated")

// LedgerEngineDeps groups the collaborators of a LedgerEngine.
// Identities, Notifier and Feed are optional.
type LedgerEngineDeps struct {
	Store        ports.RecordStore
	Identities   ports.IdentityProvider
	Notifier     ports.Notifier
	Feed         ports.ChangeFeed
	Metrics      *metrics.LedgerMetrics
	Location     *time.Location
	StoreTimeout time.Duration
	Log          zerolog.Logger
}

// LedgerEngine owns one session's wallet state. The state is a single
// immutable snapshot swapped atomically; it only advances after the record
// store acknowledged the write.
type LedgerEngine struct {
	store        ports.RecordStore
	identities   ports.IdentityProvider
	notifier     ports.Notifier
	feed         ports.ChangeFeed
	metrics      *metrics.LedgerMetrics
	loc          *time.Location
	storeTimeout time.Duration
	log          zerolog.Logger

	identity atomic.Pointer[domain.Identity]
	state    atomic.Pointer[domain.WalletState]
	lastUsed atomic.Int64

	now   func() time.Time
	newID func() string
}

// NewLedgerEngine creates an engine with no active identity.
func NewLedgerEngine(deps LedgerEngineDeps) *LedgerEngine {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	e := &LedgerEngine{
		store:        deps.Store,
		identities:   deps.Identities,
		notifier:     deps.Notifier,
		feed:         deps.Feed,
		metrics:      deps.Metrics,
		loc:          loc,
		storeTimeout: deps.StoreTimeout,
		log:          deps.Log,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	e.touch()
	return e
}

// Activate binds identity to the engine. Switching to a different user drops
// the current state; the caller must Hydrate before the next operation.
func (e *LedgerEngine) Activate(identity domain.Identity) {
	prev := e.identity.Swap(&identity)
	if prev == nil || prev.UserID != identity.UserID {
		e.state.Store(nil)
	}
	e.touch()
}

// Deactivate forgets the identity and its state. The durable record is untouched.
func (e *LedgerEngine) Deactivate() {
	e.identity.Store(nil)
	e.state.Store(nil)
}

// Identity returns the active identity, if any.
func (e *LedgerEngine) Identity() (domain.Identity, bool) {
	id := e.identity.Load()
	if id == nil {
		return domain.Identity{}, false
	}
	return *id, true
}

// LastUsed reports when the engine last served a request.
func (e *LedgerEngine) LastUsed() time.Time {
	return time.Unix(0, e.lastUsed.Load())
}

func (e *LedgerEngine) touch() {
	e.lastUsed.Store(e.now().UnixNano())
}

// Snapshot returns a copy of the current wallet state.
func (e *LedgerEngine) Snapshot() (domain.WalletState, error) {
	if _, ok := e.Identity(); !ok {
		return domain.WalletState{}, apperror.ErrUnauthenticated()
	}
	s := e.state.Load()
	if s == nil {
		return domain.WalletState{}, apperror.InternalError(errNotHydrated)
	}
	e.touch()
	return s.Clone(), nil
}

// Balance returns the committed balance, zero when nothing is hydrated.
func (e *LedgerEngine) Balance() decimal.Decimal {
	if s := e.state.Load(); s != nil {
		return s.Balance
	}
	return decimal.Zero
}

// Transactions returns the committed history, newest first.
func (e *LedgerEngine) Transactions() []domain.Transaction {
	s := e.state.Load()
	if s == nil {
		return nil
	}
	return s.Clone().Transactions
}

// Hydrate overwrites the local state from the record store. A missing record
// is created with a zero balance.
func (e *LedgerEngine) Hydrate(ctx context.Context) error {
	start := e.now()
	id, ok := e.Identity()
	if !ok {
		return apperror.ErrUnauthenticated()
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.store.Get(ctx, id.UserID)
	if err == nil && rec == nil {
		rec, err = e.createMissingRecord(ctx, id)
	}
	if err != nil {
		e.metrics.ObserveOperation(opHydrate, metrics.OutcomeFailure, e.now().Sub(start))
		return apperror.InternalError(fmt.Errorf("hydrate wallet: %w", err))
	}

	e.Apply(rec)
	e.metrics.ObserveOperation(opHydrate, metrics.OutcomeSuccess, e.now().Sub(start))
	return nil
}

func (e *LedgerEngine) createMissingRecord(ctx context.Context, id domain.Identity) (*domain.UserRecord, error) {
	var name, avatar string
	if e.identities != nil {
		if acct, err := e.identities.Profile(ctx, id.UserID); err == nil && acct != nil {
			name, avatar = acct.DisplayName, acct.AvatarURL
		}
	}

	rec := domain.NewUserRecord(id.UserID, name, avatar, e.now().UTC())
	if err := e.store.Create(ctx, rec); err != nil {
		// another session may have created it first
		existing, getErr := e.store.Get(ctx, id.UserID)
		if getErr != nil || existing == nil {
			return nil, fmt.Errorf("create user record: %w", err)
		}
		return existing, nil
	}

	e.log.Info().Str("user_id", id.UserID.String()).Msg("created missing wallet record")
	return rec, nil
}

// Apply installs a fetched record as the current state. Records of another
// user, or older than the current state, are ignored.
func (e *LedgerEngine) Apply(rec *domain.UserRecord) bool {
	if rec == nil {
		return false
	}
	next := rec.State(e.loc)
	for {
		id, ok := e.Identity()
		if !ok || id.UserID != rec.UserID {
			return false
		}
		cur := e.state.Load()
		if cur != nil && cur.Version > next.Version {
			return false
		}
		if e.state.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

// AddFunds records money that was already captured by the payment processor.
// requestID makes the append idempotent; an empty one is replaced by a random id.
func (e *LedgerEngine) AddFunds(ctx context.Context, amount decimal.Decimal, requestID string) (*ports.LedgerOutcome, error) {
	start := e.now()
	id, cur, err := e.begin(ctx)
	if err != nil {
		e.metrics.ObserveOperation(opAddFunds, metrics.OutcomeRejected, e.now().Sub(start))
		return nil, err
	}

	if err := ValidateAmount(amount); err != nil {
		e.metrics.ObserveOperation(opAddFunds, metrics.OutcomeRejected, e.now().Sub(start))
		e.notify(ctx, id.UserID, notificationFor(err))
		return nil, err
	}
	if strings.TrimSpace(requestID) == "" {
		requestID = e.newID()
	}

	txn := domain.Transaction{
		ID:        e.newID(),
		Kind:      domain.TransactionKindAddFunds,
		Amount:    amount,
		Timestamp: e.now().UTC(),
		RequestID: requestID,
	}
	success := domain.Notification{
		Title:       "Funds Added",
		Description: fmt.Sprintf("%s has been added to your balance.", formatMoney(amount)),
		Severity:    domain.SeveritySuccess,
	}
	return e.appendTransaction(ctx, opAddFunds, start, id, cur, cur.Balance.Add(amount), txn, success,
		"Failed to add funds. Please try again.")
}

// PurchaseItem debits item.Price if the balance covers it. An unaffordable
// purchase is rejected locally without touching the record store.
func (e *LedgerEngine) PurchaseItem(ctx context.Context, item domain.Item) (*ports.LedgerOutcome, error) {
	start := e.now()
	id, cur, err := e.begin(ctx)
	if err != nil {
		e.metrics.ObserveOperation(opPurchase, metrics.OutcomeRejected, e.now().Sub(start))
		return nil, err
	}

	if strings.TrimSpace(item.Name) == "" || ValidateAmount(item.Price) != nil {
		err := apperror.ErrInvalidInput("Item is not a valid catalog entry")
		e.metrics.ObserveOperation(opPurchase, metrics.OutcomeRejected, e.now().Sub(start))
		e.notify(ctx, id.UserID, notificationFor(err))
		return nil, err
	}

	if shortfall := cur.Shortfall(item.Price); shortfall.IsPositive() {
		err := apperror.ErrInsufficientFunds().
			WithMessage(fmt.Sprintf("You need at least %s in your balance to purchase this item.", formatMoney(shortfall))).
			WithDetail("shortfall", shortfall.StringFixed(domain.MoneyScale))
		e.metrics.ObserveOperation(opPurchase, metrics.OutcomeRejected, e.now().Sub(start))
		e.notify(ctx, id.UserID, notificationFor(err))
		return nil, err
	}

	name := item.Name
	txn := domain.Transaction{
		ID:        e.newID(),
		Kind:      domain.TransactionKindPurchase,
		Amount:    item.Price,
		ItemName:  &name,
		Timestamp: e.now().UTC(),
		RequestID: e.newID(),
	}
	success := domain.Notification{
		Title:       "Purchase Successful",
		Description: fmt.Sprintf("You have purchased %s for %s.", item.Name, formatMoney(item.Price)),
		Severity:    domain.SeveritySuccess,
	}
	return e.appendTransaction(ctx, opPurchase, start, id, cur, cur.Balance.Sub(item.Price), txn, success,
		"Failed to purchase item. Please try again.")
}

func (e *LedgerEngine) appendTransaction(
	ctx context.Context,
	op string,
	start time.Time,
	id domain.Identity,
	cur *domain.WalletState,
	newBalance decimal.Decimal,
	txn domain.Transaction,
	success domain.Notification,
	failureText string,
) (*ports.LedgerOutcome, error) {
	log := e.log.With().Str("op", op).Str("user_id", id.UserID.String()).Str("request_id", txn.RequestID).Logger()

	storeCtx, cancel := e.storeContext(ctx)
	version, err := e.store.AppendTransaction(storeCtx, id.UserID, cur.Version, newBalance, txn)
	cancel()

	switch {
	case err == nil:
		next := cur.WithCommit(newBalance, txn.In(e.loc), version)
		e.commit(ctx, cur, &next)
		e.publish(ctx, id, version)
		e.notify(ctx, id.UserID, success)
		e.metrics.ObserveOperation(op, metrics.OutcomeSuccess, e.now().Sub(start))
		log.Info().Str("amount", txn.Amount.StringFixed(domain.MoneyScale)).Int64("version", version).Msg("wallet transaction committed")

		state := e.current()
		committed := txn.In(e.loc)
		return &ports.LedgerOutcome{Notification: success, State: state, Transaction: &committed}, nil

	case errors.Is(err, ports.ErrDuplicateRequest):
		e.rehydrate(ctx, log)
		e.notify(ctx, id.UserID, success)
		e.metrics.ObserveOperation(op, metrics.OutcomeDuplicate, e.now().Sub(start))
		log.Info().Msg("wallet transaction already recorded")

		state := e.current()
		return &ports.LedgerOutcome{
			Notification: success,
			State:        state,
			Transaction:  findByRequestID(state.Transactions, txn.RequestID),
			Duplicate:    true,
		}, nil

	case errors.Is(err, ports.ErrVersionConflict):
		e.rehydrate(ctx, log)
		appErr := apperror.ErrStoreConflict(err)
		e.notify(ctx, id.UserID, notificationFor(appErr))
		e.metrics.ObserveOperation(op, metrics.OutcomeConflict, e.now().Sub(start))
		log.Warn().Int64("expected_version", cur.Version).Msg("wallet write lost a version race")
		return nil, appErr

	default:
		appErr := apperror.ErrStoreWrite(err).WithMessage(failureText)
		e.notify(ctx, id.UserID, notificationFor(appErr))
		e.metrics.ObserveOperation(op, metrics.OutcomeFailure, e.now().Sub(start))
		log.Error().Err(err).Str("amount", txn.Amount.StringFixed(domain.MoneyScale)).Msg("wallet write failed")
		return nil, appErr
	}
}

// UpdateProfile writes the display fields to the record store first, then
// mirrors them to the identity provider. A failed mirror is reported as a
// warning; the next session start copies the record back.
func (e *LedgerEngine) UpdateProfile(ctx context.Context, displayName, avatarURL string) (*ports.LedgerOutcome, error) {
	start := e.now()
	id, cur, err := e.begin(ctx)
	if err != nil {
		e.metrics.ObserveOperation(opUpdateProfile, metrics.OutcomeRejected, e.now().Sub(start))
		return nil, err
	}

	displayName = strings.TrimSpace(displayName)
	avatarURL = strings.TrimSpace(avatarURL)
	if err := validateProfile(displayName, avatarURL); err != nil {
		e.metrics.ObserveOperation(opUpdateProfile, metrics.OutcomeRejected, e.now().Sub(start))
		e.notify(ctx, id.UserID, notificationFor(err))
		return nil, err
	}

	log := e.log.With().Str("op", opUpdateProfile).Str("user_id", id.UserID.String()).Logger()

	storeCtx, cancel := e.storeContext(ctx)
	version, err := e.store.UpdateProfile(storeCtx, id.UserID, cur.Version, displayName, avatarURL)
	cancel()

	if err != nil {
		var appErr *apperror.AppError
		outcome := metrics.OutcomeFailure
		if errors.Is(err, ports.ErrVersionConflict) {
			e.rehydrate(ctx, log)
			appErr = apperror.ErrStoreConflict(err)
			outcome = metrics.OutcomeConflict
		} else {
			appErr = apperror.ErrStoreWrite(err).WithMessage("Failed to update profile. Please try again.")
			log.Error().Err(err).Msg("profile write failed")
		}
		e.notify(ctx, id.UserID, notificationFor(appErr))
		e.metrics.ObserveOperation(opUpdateProfile, outcome, e.now().Sub(start))
		return nil, appErr
	}

	next := cur.Clone()
	next.DisplayName = displayName
	next.AvatarURL = avatarURL
	next.Version = version
	e.commit(ctx, cur, &next)
	e.publish(ctx, id, version)

	n := domain.Notification{
		Title:       "Profile Updated",
		Description: "Your profile has been successfully updated.",
		Severity:    domain.SeveritySuccess,
	}
	if e.identities != nil {
		if err := e.identities.UpdateProfile(ctx, id.UserID, displayName, avatarURL); err != nil {
			log.Warn().Err(err).Msg("identity profile mirror failed")
			n = domain.Notification{
				Title:       "Profile Updated",
				Description: "Your profile was saved, but your account details could not be refreshed yet.",
				Severity:    domain.SeverityWarning,
			}
		}
	}

	e.notify(ctx, id.UserID, n)
	e.metrics.ObserveOperation(opUpdateProfile, metrics.OutcomeSuccess, e.now().Sub(start))
	log.Info().Int64("version", version).Msg("profile updated")
	return &ports.LedgerOutcome{Notification: n, State: e.current()}, nil
}

// begin checks the identity and returns the snapshot the operation decides on.
func (e *LedgerEngine) begin(ctx context.Context) (domain.Identity, *domain.WalletState, error) {
	id, ok := e.Identity()
	if !ok {
		return domain.Identity{}, nil, apperror.ErrUnauthenticated()
	}
	e.touch()

	cur := e.state.Load()
	if cur == nil {
		if err := e.Hydrate(ctx); err != nil {
			return domain.Identity{}, nil, err
		}
		if cur = e.state.Load(); cur == nil {
			return domain.Identity{}, nil, apperror.InternalError(errNotHydrated)
		}
	}
	return id, cur, nil
}

// commit swaps in next unless the state moved underneath; then the store is
// the only reliable answer and the engine refetches.
func (e *LedgerEngine) commit(ctx context.Context, cur, next *domain.WalletState) {
	if e.state.CompareAndSwap(cur, next) {
		return
	}
	e.rehydrate(ctx, e.log)
}

func (e *LedgerEngine) rehydrate(ctx context.Context, log zerolog.Logger) {
	if err := e.Hydrate(ctx); err != nil {
		log.Warn().Err(err).Msg("wallet rehydration failed")
	}
}

func (e *LedgerEngine) current() domain.WalletState {
	if s := e.state.Load(); s != nil {
		return s.Clone()
	}
	return domain.WalletState{}
}

func (e *LedgerEngine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout > 0 {
		return context.WithTimeout(ctx, e.storeTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *LedgerEngine) publish(ctx context.Context, id domain.Identity, version int64) {
	if e.feed == nil {
		return
	}
	event := domain.ChangeEvent{UserID: id.UserID, Version: version, SessionID: id.SessionID}
	if err := e.feed.Publish(ctx, event); err != nil {
		e.log.Warn().Err(err).Str("user_id", id.UserID.String()).Msg("failed to publish wallet change")
	}
}

func (e *LedgerEngine) notify(ctx context.Context, userID uuid.UUID, n domain.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, userID, n); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID.String()).Str("title", n.Title).Msg("failed to record notification")
	}
}

// maxAmount is the largest value a numeric(14,2) balance column can hold.
var maxAmount = decimal.RequireFromString("999999999999.99")

// ValidateAmount accepts positive values up to maxAmount with at most two fractional digits.
func ValidateAmount(amount decimal.Decimal) *apperror.AppError {
	if !amount.IsPositive() {
		return apperror.ErrInvalidInput("Amount must be greater than zero")
	}
	if amount.GreaterThan(maxAmount) {
		return apperror.ErrInvalidInput("Amount is too large")
	}
	if !amount.Equal(amount.Round(domain.MoneyScale)) {
		return apperror.ErrInvalidInput("Amount can have at most two decimal places")
	}
	return nil
}

// ParseAmount turns a decimal string into a validated amount.
func ParseAmount(raw string) (decimal.Decimal, *apperror.AppError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, apperror.ErrInvalidInput("Amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperror.ErrInvalidInput("Amount must be a number")
	}
	if appErr := ValidateAmount(amount); appErr != nil {
		return decimal.Zero, appErr
	}
	return amount, nil
}

func validateProfile(displayName, avatarURL string) *apperror.AppError {
	if displayName == "" {
		return apperror.ErrInvalidInput("Display name is required")
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLen {
		return apperror.ErrInvalidInput(fmt.Sprintf("Display name must be at most %d characters", maxDisplayNameLen))
	}
	if len(avatarURL) > maxAvatarURLLen {
		return apperror.ErrInvalidInput("Avatar URL is too long")
	}
	return nil
}

// notificationFor renders a failed operation the way clients show it.
func notificationFor(err *apperror.AppError) domain.Notification {
	title := err.Title
	if title == "" {
		title = "Error"
	}
	severity := domain.SeverityDestructive
	if err.Code == "STORE_002" {
		severity = domain.SeverityWarning
	}
	return domain.Notification{Title: title, Description: err.Message, Severity: severity}
}

func findByRequestID(txns []domain.Transaction, requestID string) *domain.Transaction {
	for i := range txns {
		if txns[i].RequestID == requestID {
			t := txns[i]
			return &t
		}
	}
	return nil
}

func formatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(domain.MoneyScale)
}
