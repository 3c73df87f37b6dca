package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
	"realm-wallet/internal/core/ports/mocks"
	"realm-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func requireCode(t *testing.T, err error, code string) *apperror.AppError {
	t.Helper()
	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func TestLedgerEngine_HydrateCreatesMissingRecord(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Hydrate(ctx))

	state, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.True(t, state.Balance.IsZero())
	assert.Empty(t, state.Transactions)
	assert.Equal(t, int64(1), state.Version)

	rec, err := f.store.Get(ctx, f.identity.UserID)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestLedgerEngine_HydrateIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.AddFunds(ctx, dec("12.50"), "tx-1")
	require.NoError(t, err)

	require.NoError(t, f.engine.Hydrate(ctx))
	first, err := f.engine.Snapshot()
	require.NoError(t, err)
	require.NoError(t, f.engine.Hydrate(ctx))
	second, err := f.engine.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLedgerEngine_AddFunds(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	out, err := f.engine.AddFunds(ctx, dec("10.00"), "")
	require.NoError(t, err)

	assert.True(t, dec("10").Equal(out.State.Balance))
	require.Len(t, out.State.Transactions, 1)
	txn := out.State.Transactions[0]
	assert.Equal(t, domain.TransactionKindAddFunds, txn.Kind)
	assert.True(t, dec("10").Equal(txn.Amount))
	assert.Nil(t, txn.ItemName)
	assert.NotEmpty(t, txn.RequestID)
	_, err = uuid.Parse(txn.ID)
	assert.NoError(t, err)

	assert.Equal(t, "Funds Added", out.Notification.Title)
	assert.Equal(t, "$10.00 has been added to your balance.", out.Notification.Description)
	assert.Equal(t, out.Notification, f.notifier.last(f.identity.UserID))

	rec, err := f.store.Get(ctx, f.identity.UserID)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(rec.Balance))
	assert.Equal(t, out.State.Version, rec.Version)
}

func TestLedgerEngine_AddFundsRejectsInvalidAmounts(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.Hydrate(ctx))

	for _, amount := range []string{"0", "-5", "1.005"} {
		t.Run(amount, func(t *testing.T) {
			_, err := f.engine.AddFunds(ctx, dec(amount), "")
			requireCode(t, err, "WAL_001")
			assert.True(t, f.engine.Balance().IsZero())
			assert.True(t, f.notifier.last(f.identity.UserID).IsFailure())
		})
	}
}

func TestLedgerEngine_DuplicateRequestIsAppliedOnce(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.AddFunds(ctx, dec("7.25"), "pay-123")
	require.NoError(t, err)
	again, err := f.engine.AddFunds(ctx, dec("7.25"), "pay-123")
	require.NoError(t, err)

	assert.True(t, again.Duplicate)
	assert.True(t, dec("7.25").Equal(again.State.Balance))
	assert.Len(t, again.State.Transactions, 1)
	require.NotNil(t, again.Transaction)
	assert.Equal(t, "pay-123", again.Transaction.RequestID)
}

func TestLedgerEngine_PurchaseItem(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.AddFunds(ctx, dec("20.00"), "")
	require.NoError(t, err)

	out, err := f.engine.PurchaseItem(ctx, testItem("1", "Magic Sword", "4.99"))
	require.NoError(t, err)

	assert.True(t, dec("15.01").Equal(out.State.Balance))
	require.Len(t, out.State.Transactions, 2)
	newest := out.State.Transactions[0]
	assert.Equal(t, domain.TransactionKindPurchase, newest.Kind)
	require.NotNil(t, newest.ItemName)
	assert.Equal(t, "Magic Sword", *newest.ItemName)
	assert.True(t, dec("4.99").Equal(newest.Amount))
	assert.Equal(t, domain.TransactionKindAddFunds, out.State.Transactions[1].Kind)

	assert.Equal(t, "Purchase Successful", out.Notification.Title)
	assert.Equal(t, "You have purchased Magic Sword for $4.99.", out.Notification.Description)
}

func TestLedgerEngine_PurchaseItemInsufficientFundsNeverWrites(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRecordStore(ctrl)
	f := newEngineFixture(t, store)
	ctx := context.Background()

	rec := domain.NewUserRecord(f.identity.UserID, "Ava", "", time.Now())
	rec.Balance = dec("3.00")
	store.EXPECT().Get(gomock.Any(), f.identity.UserID).Return(rec, nil)

	_, err := f.engine.PurchaseItem(ctx, testItem("2", "Health Potion", "4.99"))
	appErr := requireCode(t, err, "WAL_002")
	assert.Equal(t, "You need at least $1.99 in your balance to purchase this item.", appErr.Message)
	assert.Equal(t, "1.99", appErr.Details["shortfall"])

	assert.True(t, dec("3").Equal(f.engine.Balance()))
	n := f.notifier.last(f.identity.UserID)
	assert.Equal(t, "Insufficient Funds", n.Title)
	assert.Equal(t, appErr.Message, n.Description)
	assert.Equal(t, domain.SeverityDestructive, n.Severity)
}

func TestLedgerEngine_PurchaseItemRejectsInvalidItem(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.PurchaseItem(ctx, testItem("x", "", "1.00"))
	requireCode(t, err, "WAL_001")
	_, err = f.engine.PurchaseItem(ctx, testItem("x", "Freebie", "0"))
	requireCode(t, err, "WAL_001")
}

func TestLedgerEngine_StoreFailureLeavesStateUnchanged(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRecordStore(ctrl)
	f := newEngineFixture(t, store)
	ctx := context.Background()

	rec := domain.NewUserRecord(f.identity.UserID, "Ava", "", time.Now())
	rec.Balance = dec("20.00")
	store.EXPECT().Get(gomock.Any(), f.identity.UserID).Return(rec, nil)
	store.EXPECT().AppendTransaction(gomock.Any(), f.identity.UserID, int64(1), gomock.Any(), gomock.Any()).
		Return(int64(0), errors.New("write timeout")).Times(2)

	_, err := f.engine.PurchaseItem(ctx, testItem("1", "Magic Sword", "4.99"))
	appErr := requireCode(t, err, "STORE_001")
	assert.Equal(t, "Failed to purchase item. Please try again.", appErr.Message)

	_, err = f.engine.AddFunds(ctx, dec("5"), "")
	appErr = requireCode(t, err, "STORE_001")
	assert.Equal(t, "Failed to add funds. Please try again.", appErr.Message)

	state, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(state.Balance))
	assert.Empty(t, state.Transactions)
	assert.Equal(t, "Error", f.notifier.last(f.identity.UserID).Title)
}

func TestLedgerEngine_StaleWriteIsRejectedAndRefetched(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	other := f.sibling(t)

	require.NoError(t, f.engine.Hydrate(ctx))
	require.NoError(t, other.Hydrate(ctx))

	_, err := other.AddFunds(ctx, dec("10"), "")
	require.NoError(t, err)

	_, err = f.engine.AddFunds(ctx, dec("5"), "")
	requireCode(t, err, "STORE_002")

	state, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(state.Balance))
	assert.Equal(t, int64(2), state.Version)

	n := f.notifier.last(f.identity.UserID)
	assert.Equal(t, "Wallet Updated", n.Title)
	assert.Equal(t, domain.SeverityWarning, n.Severity)
}

func TestLedgerEngine_ConcurrentPurchasesNeverOverdraw(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.AddFunds(ctx, dec("10"), "")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.PurchaseItem(ctx, testItem("3", "Shield", "3.00"))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, apperror.HasCode(err, "STORE_002") || apperror.HasCode(err, "WAL_002"), err.Error())
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, successes, 3)
	state, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.True(t, dec("10").Sub(dec("3").Mul(decimal.NewFromInt(int64(successes)))).Equal(state.Balance))
	assert.False(t, state.Balance.IsNegative())
	assert.Len(t, state.Transactions, successes+1)

	rec, err := f.store.Get(ctx, f.identity.UserID)
	require.NoError(t, err)
	assert.True(t, rec.Balance.Equal(state.Balance))
	assert.Equal(t, rec.Version, state.Version)
}

func TestLedgerEngine_UpdateProfile(t *testing.T) {
	ctrl := gomock.NewController(t)
	identities := mocks.NewMockIdentityProvider(ctrl)
	f := newEngineFixture(t, nil)
	f.engine.identities = identities
	ctx := context.Background()

	identities.EXPECT().Profile(gomock.Any(), f.identity.UserID).
		Return(&domain.Account{ID: f.identity.UserID, DisplayName: "Ava"}, nil)
	require.NoError(t, f.engine.Hydrate(ctx))
	assert.Equal(t, "Ava", f.engine.current().DisplayName)

	identities.EXPECT().UpdateProfile(gomock.Any(), f.identity.UserID, "Nova", "https://cdn.example.com/nova.png").Return(nil)
	out, err := f.engine.UpdateProfile(ctx, "  Nova ", "https://cdn.example.com/nova.png")
	require.NoError(t, err)
	assert.Equal(t, "Profile Updated", out.Notification.Title)
	assert.Equal(t, "Your profile has been successfully updated.", out.Notification.Description)
	assert.Equal(t, "Nova", out.State.DisplayName)

	rec, err := f.store.Get(ctx, f.identity.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Nova", rec.DisplayName)
	assert.Equal(t, out.State.Version, rec.Version)
}

func TestLedgerEngine_UpdateProfileMirrorFailureWarns(t *testing.T) {
	ctrl := gomock.NewController(t)
	identities := mocks.NewMockIdentityProvider(ctrl)
	f := newEngineFixture(t, nil)
	f.engine.identities = identities
	ctx := context.Background()

	identities.EXPECT().Profile(gomock.Any(), gomock.Any()).Return(nil, errors.New("idp down"))
	identities.EXPECT().UpdateProfile(gomock.Any(), f.identity.UserID, "Nova", "").Return(errors.New("idp down"))

	out, err := f.engine.UpdateProfile(ctx, "Nova", "")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityWarning, out.Notification.Severity)
	assert.Equal(t, "Nova", out.State.DisplayName)
}

func TestLedgerEngine_UpdateProfileValidation(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.UpdateProfile(ctx, "   ", "")
	requireCode(t, err, "WAL_001")
	_, err = f.engine.UpdateProfile(ctx, strings.Repeat("é", 51), "")
	requireCode(t, err, "WAL_001")
	_, err = f.engine.UpdateProfile(ctx, "Ava", "https://x/"+strings.Repeat("a", 2048))
	requireCode(t, err, "WAL_001")
}

func TestLedgerEngine_RequiresIdentity(t *testing.T) {
	eng := NewLedgerEngine(LedgerEngineDeps{Log: newTestLogger()})
	ctx := context.Background()

	_, err := eng.Snapshot()
	requireCode(t, err, "AUTH_001")
	_, err = eng.AddFunds(ctx, dec("1"), "")
	requireCode(t, err, "AUTH_001")
	_, err = eng.PurchaseItem(ctx, testItem("1", "Sword", "1"))
	requireCode(t, err, "AUTH_001")
	_, err = eng.UpdateProfile(ctx, "Ava", "")
	requireCode(t, err, "AUTH_001")
	requireCode(t, eng.Hydrate(ctx), "AUTH_001")
}

func TestLedgerEngine_HydrateStoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRecordStore(ctrl)
	f := newEngineFixture(t, store)

	store.EXPECT().Get(gomock.Any(), f.identity.UserID).Return(nil, errors.New("connection refused"))

	requireCode(t, f.engine.Hydrate(context.Background()), "SYS_001")
	_, err := f.engine.Snapshot()
	requireCode(t, err, "SYS_001")
}

func TestLedgerEngine_ApplyIgnoresOlderAndForeignRecords(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	_, err := f.engine.AddFunds(ctx, dec("5"), "")
	require.NoError(t, err)

	older := domain.NewUserRecord(f.identity.UserID, "", "", time.Now())
	assert.False(t, f.engine.Apply(older))
	assert.False(t, f.engine.Apply(domain.NewUserRecord(uuid.New(), "", "", time.Now())))
	assert.False(t, f.engine.Apply(nil))
	assert.True(t, dec("5").Equal(f.engine.Balance()))
}

func TestLedgerEngine_ActivateOtherUserDropsState(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	_, err := f.engine.AddFunds(ctx, dec("5"), "")
	require.NoError(t, err)

	f.engine.Activate(testIdentity())
	assert.Nil(t, f.engine.state.Load())
	assert.True(t, f.engine.Balance().IsZero())

	f.engine.Deactivate()
	_, ok := f.engine.Identity()
	assert.False(t, ok)
	assert.Nil(t, f.engine.Transactions())
}

func TestLedgerEngine_TimestampsUseConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("realm", 9*3600)
	f := newEngineFixture(t, nil)
	f.engine.loc = loc
	ctx := context.Background()

	out, err := f.engine.AddFunds(ctx, dec("1"), "")
	require.NoError(t, err)
	assert.Equal(t, loc, out.Transaction.Timestamp.Location())
	assert.Equal(t, loc, f.engine.Transactions()[0].Timestamp.Location())
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"10.00", "10", true},
		{" 0.01 ", "0.01", true},
		{"", "", false},
		{"abc", "", false},
		{"0", "", false},
		{"-1", "", false},
		{"2.999", "", false},
		{"NaN", "", false},
		{"Inf", "", false},
		{"-Inf", "", false},
		{"1e400", "", false},
		{"1000000000000", "", false},
		{"999999999999.99", "999999999999.99", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, appErr := ParseAmount(tt.raw)
			if !tt.ok {
				require.NotNil(t, appErr)
				assert.Equal(t, "WAL_001", appErr.Code)
				return
			}
			require.Nil(t, appErr)
			assert.True(t, dec(tt.want).Equal(got))
		})
	}
}

var _ ports.Ledger = (*LedgerEngine)(nil)
