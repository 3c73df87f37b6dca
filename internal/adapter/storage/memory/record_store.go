// Package memory holds process-local storage used by storage.driver=memory and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordStore is a mutex-guarded ports.RecordStore with the same version and
// request-id rules as the PostgreSQL store.
type RecordStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*domain.UserRecord
	requests map[uuid.UUID]map[string]struct{}
	txnIDs   map[string]struct{}
	now      func() time.Time
}

// NewRecordStore creates an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records:  make(map[uuid.UUID]*domain.UserRecord),
		requests: make(map[uuid.UUID]map[string]struct{}),
		txnIDs:   make(map[string]struct{}),
		now:      time.Now,
	}
}

func copyRecord(r *domain.UserRecord) *domain.UserRecord {
	cp := *r
	cp.Transactions = make([]domain.Transaction, len(r.Transactions))
	copy(cp.Transactions, r.Transactions)
	return &cp
}

func (s *RecordStore) Create(_ context.Context, rec *domain.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.UserID]; ok {
		return fmt.Errorf("insert user record: %s already exists", rec.UserID)
	}
	cp := copyRecord(rec)
	cp.Transactions = cp.Transactions[:0]
	s.records[rec.UserID] = cp
	s.requests[rec.UserID] = make(map[string]struct{})
	return nil
}

func (s *RecordStore) Get(_ context.Context, userID uuid.UUID) (*domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (s *RecordStore) AppendTransaction(
	_ context.Context,
	userID uuid.UUID,
	expectedVersion int64,
	newBalance decimal.Decimal,
	txn domain.Transaction,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return 0, ports.ErrRecordNotFound
	}
	if _, dup := s.requests[userID][txn.RequestID]; dup {
		return 0, ports.ErrDuplicateRequest
	}
	if rec.Version != expectedVersion {
		return 0, ports.ErrVersionConflict
	}
	if _, taken := s.txnIDs[txn.ID]; taken {
		return 0, fmt.Errorf("insert wallet transaction: id %s already used", txn.ID)
	}
	if newBalance.IsNegative() {
		return 0, fmt.Errorf("update balance: negative balance %s", newBalance)
	}

	rec.Transactions = append([]domain.Transaction{txn}, rec.Transactions...)
	rec.Balance = newBalance
	rec.Version++
	rec.UpdatedAt = s.now().UTC()
	s.requests[userID][txn.RequestID] = struct{}{}
	s.txnIDs[txn.ID] = struct{}{}
	return rec.Version, nil
}

func (s *RecordStore) UpdateProfile(_ context.Context, userID uuid.UUID, expectedVersion int64, displayName, avatarURL string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return 0, ports.ErrRecordNotFound
	}
	if rec.Version != expectedVersion {
		return 0, ports.ErrVersionConflict
	}
	rec.DisplayName = displayName
	rec.AvatarURL = avatarURL
	rec.Version++
	rec.UpdatedAt = s.now().UTC()
	return rec.Version, nil
}
