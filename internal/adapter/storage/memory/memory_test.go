package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addFunds(amount string, requestID string) domain.Transaction {
	return domain.Transaction{
		ID:        uuid.NewString(),
		Kind:      domain.TransactionKindAddFunds,
		Amount:    decimal.RequireFromString(amount),
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

func TestRecordStore_Lifecycle(t *testing.T) {
	store := NewRecordStore()
	ctx := context.Background()
	userID := uuid.New()

	rec, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Create(ctx, domain.NewUserRecord(userID, "Ayla", "", time.Now())))
	assert.Error(t, store.Create(ctx, domain.NewUserRecord(userID, "Ayla", "", time.Now())))

	v, err := store.AppendTransaction(ctx, userID, 1, decimal.RequireFromString("10.00"), addFunds("10.00", "pay-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = store.AppendTransaction(ctx, userID, 2, decimal.RequireFromString("15.00"), addFunds("5.00", "pay-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	rec, err = store.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("15").Equal(rec.Balance))
	require.Len(t, rec.Transactions, 2)
	assert.Equal(t, "pay-2", rec.Transactions[0].RequestID, "newest first")

	// mutating a returned copy leaves the store untouched
	rec.Transactions[0].RequestID = "tampered"
	again, _ := store.Get(ctx, userID)
	assert.Equal(t, "pay-2", again.Transactions[0].RequestID)
}

func TestRecordStore_WriteGuards(t *testing.T) {
	store := NewRecordStore()
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, store.Create(ctx, domain.NewUserRecord(userID, "", "", time.Now())))

	_, err := store.AppendTransaction(ctx, userID, 1, decimal.NewFromInt(5), addFunds("5.00", "pay-1"))
	require.NoError(t, err)

	_, err = store.AppendTransaction(ctx, userID, 2, decimal.NewFromInt(10), addFunds("5.00", "pay-1"))
	assert.ErrorIs(t, err, ports.ErrDuplicateRequest)

	_, err = store.AppendTransaction(ctx, userID, 1, decimal.NewFromInt(10), addFunds("5.00", "pay-2"))
	assert.ErrorIs(t, err, ports.ErrVersionConflict)

	_, err = store.AppendTransaction(ctx, uuid.New(), 1, decimal.NewFromInt(10), addFunds("5.00", "pay-3"))
	assert.ErrorIs(t, err, ports.ErrRecordNotFound)

	_, err = store.AppendTransaction(ctx, userID, 2, decimal.NewFromInt(-1), addFunds("5.00", "pay-4"))
	assert.Error(t, err)

	_, err = store.UpdateProfile(ctx, userID, 1, "Nova", "")
	assert.ErrorIs(t, err, ports.ErrVersionConflict)

	v, err := store.UpdateProfile(ctx, userID, 2, "Nova", "/nova.png")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = store.UpdateProfile(ctx, uuid.New(), 1, "Nova", "")
	assert.ErrorIs(t, err, ports.ErrRecordNotFound)
}

func TestRecordStore_ConcurrentAppendsSerialize(t *testing.T) {
	store := NewRecordStore()
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, store.Create(ctx, domain.NewUserRecord(userID, "", "", time.Now())))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AppendTransaction(ctx, userID, 1, decimal.NewFromInt(1), addFunds("1.00", uuid.NewString()))
			if err != nil {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, conflicts, "only one writer may win a version")
	rec, _ := store.Get(ctx, userID)
	assert.Len(t, rec.Transactions, 1)
}

func TestAccountRepo(t *testing.T) {
	repo := NewAccountRepo()
	ctx := context.Background()
	a := &domain.Account{ID: uuid.New(), Email: "Player@Example.com", DisplayName: "P1"}

	require.NoError(t, repo.Create(ctx, a))
	assert.ErrorIs(t, repo.Create(ctx, &domain.Account{ID: uuid.New(), Email: "player@example.com"}), ports.ErrEmailTaken)

	got, err := repo.GetByEmail(ctx, "PLAYER@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	require.NoError(t, repo.UpdateProfile(ctx, a.ID, "Mage", "/witch.png"))
	got, _ = repo.GetByID(ctx, a.ID)
	assert.Equal(t, "Mage", got.DisplayName)

	missing, err := repo.GetByID(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, missing)
	assert.Error(t, repo.UpdateProfile(ctx, uuid.New(), "x", ""))
}

func TestAuditRepo(t *testing.T) {
	repo := NewAuditRepo()
	require.NoError(t, repo.Create(context.Background(), &domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionLogin}))
	entries := repo.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionLogin, entries[0].Action)
}
