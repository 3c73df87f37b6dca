package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"realm-wallet/internal/adapter/storage/memory"
	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testIdentity() domain.Identity {
	return domain.Identity{UserID: uuid.New(), SessionID: uuid.NewString(), Email: "player@example.com"}
}

func testItem(id, name, price string) domain.Item {
	return domain.Item{ID: id, Name: name, Price: dec(price)}
}

// recordingNotifier keeps notifications in memory.
type recordingNotifier struct {
	mu   sync.Mutex
	sent map[uuid.UUID][]domain.Notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[uuid.UUID][]domain.Notification)}
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[userID] = append([]domain.Notification{note}, n.sent[userID]...)
	return nil
}

func (n *recordingNotifier) Recent(_ context.Context, userID uuid.UUID, limit int64) ([]domain.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.sent[userID]
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return append([]domain.Notification(nil), out...), nil
}

func (n *recordingNotifier) last(userID uuid.UUID) domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent[userID]) == 0 {
		return domain.Notification{}
	}
	return n.sent[userID][0]
}

type engineFixture struct {
	engine   *LedgerEngine
	store    ports.RecordStore
	notifier *recordingNotifier
	identity domain.Identity
}

// newEngineFixture returns an active, hydrated engine over an in-memory store.
func newEngineFixture(t *testing.T, store ports.RecordStore) *engineFixture {
	t.Helper()
	if store == nil {
		store = memory.NewRecordStore()
	}
	notifier := newRecordingNotifier()
	id := testIdentity()
	eng := NewLedgerEngine(LedgerEngineDeps{
		Store:        store,
		Notifier:     notifier,
		Location:     time.UTC,
		StoreTimeout: time.Second,
		Log:          newTestLogger(),
	})
	eng.Activate(id)
	return &engineFixture{engine: eng, store: store, notifier: notifier, identity: id}
}

// sibling returns a second engine for the same identity under another session id.
func (f *engineFixture) sibling(t *testing.T) *LedgerEngine {
	t.Helper()
	eng := NewLedgerEngine(LedgerEngineDeps{
		Store:    f.store,
		Notifier: f.notifier,
		Location: time.UTC,
		Log:      newTestLogger(),
	})
	id := f.identity
	id.SessionID = uuid.NewString()
	eng.Activate(id)
	return eng
}
