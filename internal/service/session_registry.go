package service

import (
	"context"
	"sync"
	"time"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/apperror"
	"realm-wallet/pkg/metrics"

	"github.com/rs/zerolog"
)

// SessionRegistryDeps configures the engines handed out by a SessionRegistry.
type SessionRegistryDeps struct {
	Store        ports.RecordStore
	Identities   ports.IdentityProvider
	Notifier     ports.Notifier
	Feed         ports.ChangeFeed
	Metrics      *metrics.LedgerMetrics
	Location     *time.Location
	StoreTimeout time.Duration
	IdleTTL      time.Duration
	Log          zerolog.Logger
}

// SessionRegistry keeps one LedgerEngine per session id and keeps engines of
// the same user in step through the change feed.
type SessionRegistry struct {
	deps SessionRegistryDeps
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*LedgerEngine

	stop context.CancelFunc
	done chan struct{}
	now  func() time.Time
}

// NewSessionRegistry creates an empty registry. Call Start to follow the change feed.
func NewSessionRegistry(deps SessionRegistryDeps) *SessionRegistry {
	return &SessionRegistry{
		deps:     deps,
		log:      deps.Log,
		sessions: make(map[string]*LedgerEngine),
		now:      time.Now,
	}
}

// Start subscribes to the change feed in the background.
func (r *SessionRegistry) Start(ctx context.Context) {
	if r.deps.Feed == nil || r.stop != nil {
		return
	}
	ctx, r.stop = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		if err := r.deps.Feed.Listen(ctx, r.handleChange); err != nil {
			r.log.Error().Err(err).Msg("change feed listener stopped")
		}
	}()
}

// Session returns the hydrated engine for identity.SessionID, creating it on first use.
func (r *SessionRegistry) Session(ctx context.Context, identity domain.Identity) (ports.Ledger, error) {
	if identity.IsZero() || identity.SessionID == "" {
		return nil, apperror.ErrUnauthenticated()
	}

	r.mu.Lock()
	eng, ok := r.sessions[identity.SessionID]
	if !ok {
		eng = r.newEngine()
		r.sessions[identity.SessionID] = eng
	}
	if current, active := eng.Identity(); !active || current.UserID != identity.UserID {
		eng.Activate(identity)
	}
	count := len(r.sessions)
	r.mu.Unlock()
	r.deps.Metrics.SetActiveSessions(count)

	if eng.state.Load() != nil {
		eng.touch()
		return eng, nil
	}

	if err := eng.Hydrate(ctx); err != nil {
		r.End(identity.SessionID)
		return nil, err
	}
	r.reconcileProfile(ctx, identity, eng)
	return eng, nil
}

func (r *SessionRegistry) newEngine() *LedgerEngine {
	return NewLedgerEngine(LedgerEngineDeps{
		Store:        r.deps.Store,
		Identities:   r.deps.Identities,
		Notifier:     r.deps.Notifier,
		Feed:         r.deps.Feed,
		Metrics:      r.deps.Metrics,
		Location:     r.deps.Location,
		StoreTimeout: r.deps.StoreTimeout,
		Log:          r.log,
	})
}

// reconcileProfile copies the record's display fields over a drifted identity profile.
func (r *SessionRegistry) reconcileProfile(ctx context.Context, identity domain.Identity, eng *LedgerEngine) {
	if r.deps.Identities == nil {
		return
	}
	state := eng.current()
	acct, err := r.deps.Identities.Profile(ctx, identity.UserID)
	if err != nil || acct == nil {
		return
	}
	if acct.DisplayName == state.DisplayName && acct.AvatarURL == state.AvatarURL {
		return
	}
	if err := r.deps.Identities.UpdateProfile(ctx, identity.UserID, state.DisplayName, state.AvatarURL); err != nil {
		r.log.Warn().Err(err).Str("user_id", identity.UserID.String()).Msg("profile reconciliation failed")
		return
	}
	r.log.Info().Str("user_id", identity.UserID.String()).Msg("identity profile reconciled from wallet record")
}

// End drops the engine bound to sessionID.
func (r *SessionRegistry) End(sessionID string) {
	r.mu.Lock()
	eng, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		eng.Deactivate()
	}
	r.deps.Metrics.SetActiveSessions(count)
}

// Sweep evicts engines idle for longer than the configured TTL and returns how many went.
func (r *SessionRegistry) Sweep(now time.Time) int {
	if r.deps.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.deps.IdleTTL)

	r.mu.Lock()
	var evicted []*LedgerEngine
	for sid, eng := range r.sessions {
		if eng.LastUsed().Before(cutoff) {
			evicted = append(evicted, eng)
			delete(r.sessions, sid)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	for _, eng := range evicted {
		eng.Deactivate()
	}
	r.deps.Metrics.SetActiveSessions(count)
	if len(evicted) > 0 {
		r.log.Debug().Int("evicted", len(evicted)).Int("remaining", count).Msg("idle wallet sessions evicted")
	}
	return len(evicted)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *SessionRegistry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the change feed listener and drops every session.
func (r *SessionRegistry) Close() error {
	if r.stop != nil {
		r.stop()
		<-r.done
		r.stop = nil
	}

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*LedgerEngine)
	r.mu.Unlock()

	for _, eng := range sessions {
		eng.Deactivate()
	}
	r.deps.Metrics.SetActiveSessions(0)
	return nil
}

// handleChange rehydrates every other session of the user that is behind event.Version.
func (r *SessionRegistry) handleChange(ctx context.Context, event domain.ChangeEvent) {
	r.mu.Lock()
	var stale []*LedgerEngine
	for sid, eng := range r.sessions {
		if sid == event.SessionID {
			continue
		}
		id, ok := eng.Identity()
		if !ok || id.UserID != event.UserID {
			continue
		}
		if s := eng.state.Load(); s != nil && s.Version >= event.Version {
			continue
		}
		stale = append(stale, eng)
	}
	r.mu.Unlock()

	for _, eng := range stale {
		if err := eng.Hydrate(ctx); err != nil {
			r.log.Warn().Err(err).Str("user_id", event.UserID.String()).Msg("rehydrate after remote change failed")
		}
	}
}
