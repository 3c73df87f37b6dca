package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"realm-wallet/internal/adapter/http/middleware"
	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
	"realm-wallet/internal/core/ports/mocks"
	"realm-wallet/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testIdentity() domain.Identity {
	return domain.Identity{UserID: uuid.New(), SessionID: uuid.NewString(), Email: "player@example.com"}
}

// serve runs one request through h, with identity already authenticated when non-zero.
func serve(method, path string, body interface{}, identity domain.Identity, h gin.HandlerFunc) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if s, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(s))
	} else if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	if !identity.IsZero() {
		c.Set(middleware.CtxIdentity, identity)
	}
	h(c)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func sampleState() domain.WalletState {
	item := "Small Gold Package"
	return domain.WalletState{
		Balance:     decimal.RequireFromString("5.01"),
		DisplayName: "Hero",
		AvatarURL:   "https://cdn.example.com/a.png",
		Version:     3,
		Transactions: []domain.Transaction{
			{
				ID:        "t2",
				Kind:      domain.TransactionKindPurchase,
				Amount:    decimal.RequireFromString("4.99"),
				ItemName:  &item,
				Timestamp: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
			},
			{
				ID:        "t1",
				Kind:      domain.TransactionKindAddFunds,
				Amount:    decimal.RequireFromString("10"),
				Timestamp: time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
			},
		},
	}
}

// --- Auth Handler Tests ---

func TestRegister_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	userID := uuid.New()
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	mockAuth.EXPECT().Register(gomock.Any(), ports.RegisterRequest{
		Email:       "player@example.com",
		Password:    "s3cret<>pass",
		DisplayName: "Hero",
	}).Return(&ports.AuthResult{UserID: userID, Token: "tok", ExpiresAt: expires}, nil)

	w := serve(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":        "player@example.com",
		"password":     "s3cret<>pass",
		"display_name": "Hero",
	}, domain.Identity{}, h.Register)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, userID.String(), data["user_id"])
	assert.Equal(t, "tok", data["token"])
	assert.EqualValues(t, expires.Unix(), data["expires_at"])
}

func TestRegister_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewAuthHandler(mocks.NewMockAuthService(ctrl))

	w := serve(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "not-an-email",
		"password": "short",
	}, domain.Identity{}, h.Register)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "WAL_001", decodeError(t, w)["error_code"])
}

func TestRegister_EmailExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Register(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrEmailExists())

	w := serve(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "player@example.com",
		"password": "password123",
	}, domain.Identity{}, h.Register)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AUTH_003", decodeError(t, w)["error_code"])
}

func TestLogin_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Login(gomock.Any(), "player@example.com", "password123").
		Return(&ports.AuthResult{UserID: uuid.New(), Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil)

	w := serve(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "player@example.com",
		"password": "password123",
	}, domain.Identity{}, h.Login)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok", decodeData(t, w)["token"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Login(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInvalidCredentials())

	w := serve(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "player@example.com",
		"password": "wrong",
	}, domain.Identity{}, h.Login)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_002", decodeError(t, w)["error_code"])
}

func TestLogout_ReturnsNotification(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)
	id := testIdentity()

	mockAuth.EXPECT().Logout(gomock.Any(), id).Return(domain.Notification{
		Title:       "Logged Out",
		Description: "You have been successfully logged out.",
		Severity:    domain.SeverityInfo,
	}, nil)

	w := serve(http.MethodPost, "/api/v1/auth/logout", nil, id, h.Logout)

	assert.Equal(t, http.StatusOK, w.Code)
	n := decodeData(t, w)["notification"].(map[string]interface{})
	assert.Equal(t, "Logged Out", n["title"])
	assert.Equal(t, "info", n["severity"])
}

func TestLogout_WithoutIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewAuthHandler(mocks.NewMockAuthService(ctrl))

	w := serve(http.MethodPost, "/api/v1/auth/logout", nil, domain.Identity{}, h.Logout)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_001", decodeError(t, w)["error_code"])
}

// --- Health ---

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	pg := mocks.NewMockHealthChecker(ctrl)
	rd := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Name().Return("postgresql").AnyTimes()
	rd.EXPECT().Name().Return("redis").AnyTimes()

	t.Run("all healthy", func(t *testing.T) {
		pg.EXPECT().Ping(gomock.Any()).Return(nil)
		rd.EXPECT().Ping(gomock.Any()).Return(nil)

		w := serve(http.MethodGet, "/health", nil, domain.Identity{}, HealthCheck(pg, rd))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", decodeError(t, w)["status"])
	})

	t.Run("redis down", func(t *testing.T) {
		pg.EXPECT().Ping(gomock.Any()).Return(nil)
		rd.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))

		w := serve(http.MethodGet, "/health", nil, domain.Identity{}, HealthCheck(pg, rd))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "degraded", body["status"])
		deps := body["dependencies"].(map[string]interface{})
		assert.Equal(t, "unhealthy", deps["redis"].(map[string]interface{})["status"])
	})
}

// --- Wallet Handler Tests ---

type walletFixture struct {
	sessions *mocks.MockSessionProvider
	ledger   *mocks.MockLedger
	catalog  *mocks.MockCatalogService
	funding  *mocks.MockFundingService
	notifier *mocks.MockNotifier
	handler  *WalletHandler
	identity domain.Identity
}

func newWalletFixture(t *testing.T) *walletFixture {
	ctrl := gomock.NewController(t)
	f := &walletFixture{
		sessions: mocks.NewMockSessionProvider(ctrl),
		ledger:   mocks.NewMockLedger(ctrl),
		catalog:  mocks.NewMockCatalogService(ctrl),
		funding:  mocks.NewMockFundingService(ctrl),
		notifier: mocks.NewMockNotifier(ctrl),
		identity: testIdentity(),
	}
	f.handler = NewWalletHandler(f.sessions, f.catalog, f.funding, f.notifier, 20)
	return f
}

func (f *walletFixture) expectSession() {
	f.sessions.EXPECT().Session(gomock.Any(), f.identity).Return(f.ledger, nil)
}

func TestGetWallet_Success(t *testing.T) {
	f := newWalletFixture(t)
	f.expectSession()
	f.ledger.EXPECT().Snapshot().Return(sampleState(), nil)

	w := serve(http.MethodGet, "/api/v1/wallet", nil, f.identity, f.handler.GetWallet)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "5.01", data["balance"])
	assert.Equal(t, "Hero", data["displayName"])
	assert.EqualValues(t, 3, data["version"])

	txns := data["transactions"].([]interface{})
	require.Len(t, txns, 2)
	first := txns[0].(map[string]interface{})
	assert.Equal(t, "purchase", first["type"])
	assert.Equal(t, "4.99", first["amount"])
	assert.Equal(t, "Small Gold Package", first["itemName"])
	assert.Equal(t, "2026-09-01T12:00:00Z", first["timestamp"])

	second := txns[1].(map[string]interface{})
	assert.Equal(t, "10.00", second["amount"])
	_, hasItem := second["itemName"]
	assert.False(t, hasItem)
}

func TestGetWallet_SessionFailure(t *testing.T) {
	f := newWalletFixture(t)
	f.sessions.EXPECT().Session(gomock.Any(), f.identity).
		Return(nil, apperror.ErrStoreWrite(errors.New("timeout")))

	w := serve(http.MethodGet, "/api/v1/wallet", nil, f.identity, f.handler.GetWallet)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "STORE_001", body["error_code"])
	assert.NotNil(t, body["notification"])
}

func TestListTransactions(t *testing.T) {
	f := newWalletFixture(t)
	f.expectSession()
	f.ledger.EXPECT().Snapshot().Return(sampleState(), nil)

	w := serve(http.MethodGet, "/api/v1/wallet/transactions", nil, f.identity, f.handler.ListTransactions)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeData(t, w)["transactions"], 2)
}

func TestPurchase_Success(t *testing.T) {
	f := newWalletFixture(t)
	item := domain.Item{ID: "1", Name: "Small Gold Package", Price: decimal.RequireFromString("4.99")}
	state := sampleState()
	txn := state.Transactions[0]

	f.expectSession()
	f.catalog.EXPECT().Lookup("1").Return(item, true)
	f.ledger.EXPECT().PurchaseItem(gomock.Any(), item).Return(&ports.LedgerOutcome{
		Notification: domain.Notification{Title: "Purchase Successful", Severity: domain.SeveritySuccess},
		State:        state,
		Transaction:  &txn,
	}, nil)

	w := serve(http.MethodPost, "/api/v1/wallet/purchases", map[string]string{"item_id": "1"}, f.identity, f.handler.Purchase)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "Purchase Successful", data["notification"].(map[string]interface{})["title"])
	assert.Equal(t, "5.01", data["wallet"].(map[string]interface{})["balance"])
	assert.Equal(t, "t2", data["transaction"].(map[string]interface{})["id"])
}

func TestPurchase_UnknownItem(t *testing.T) {
	f := newWalletFixture(t)
	f.expectSession()
	f.catalog.EXPECT().Lookup("99").Return(domain.Item{}, false)

	w := serve(http.MethodPost, "/api/v1/wallet/purchases", map[string]string{"item_id": "99"}, f.identity, f.handler.Purchase)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "WAL_003", decodeError(t, w)["error_code"])
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	f := newWalletFixture(t)
	item := domain.Item{ID: "3", Name: "Large Gold Package", Price: decimal.RequireFromString("19.99")}

	f.expectSession()
	f.catalog.EXPECT().Lookup("3").Return(item, true)
	f.ledger.EXPECT().PurchaseItem(gomock.Any(), item).
		Return(nil, apperror.ErrInsufficientFunds().WithDetail("shortfall", "14.98"))

	w := serve(http.MethodPost, "/api/v1/wallet/purchases", map[string]string{"item_id": "3"}, f.identity, f.handler.Purchase)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "WAL_002", body["error_code"])
	assert.Equal(t, "14.98", body["details"].(map[string]interface{})["shortfall"])
	assert.Equal(t, "destructive", body["notification"].(map[string]interface{})["severity"])
}

func TestPurchase_RejectsUnsafeItemID(t *testing.T) {
	f := newWalletFixture(t)

	w := serve(http.MethodPost, "/api/v1/wallet/purchases", map[string]string{"item_id": "1; DROP TABLE"}, f.identity, f.handler.Purchase)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddFunds_Success(t *testing.T) {
	f := newWalletFixture(t)
	state := sampleState()
	txn := state.Transactions[1]

	f.funding.EXPECT().AddFunds(gomock.Any(), f.identity, ports.FundingRequest{Amount: "10.00", Nonce: "cnon:card-ok"}).
		Return(&ports.LedgerOutcome{
			Notification: domain.Notification{Title: "Funds Added", Severity: domain.SeveritySuccess},
			State:        state,
			Transaction:  &txn,
		}, nil)

	w := serve(http.MethodPost, "/api/v1/wallet/funds", map[string]string{"amount": "10.00", "nonce": "cnon:card-ok"}, f.identity, f.handler.AddFunds)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "add_funds", data["transaction"].(map[string]interface{})["type"])
	_, dup := data["duplicate"]
	assert.False(t, dup)
}

func TestAddFunds_InvalidAmount(t *testing.T) {
	f := newWalletFixture(t)

	for _, amount := range []string{"0", "-5", "1.234", "abc"} {
		t.Run(amount, func(t *testing.T) {
			w := serve(http.MethodPost, "/api/v1/wallet/funds", map[string]string{"amount": amount, "nonce": "n"}, f.identity, f.handler.AddFunds)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAddFunds_GatewayError(t *testing.T) {
	f := newWalletFixture(t)
	f.funding.EXPECT().AddFunds(gomock.Any(), f.identity, gomock.Any()).
		Return(nil, apperror.ErrGateway(errors.New("card declined")))

	w := serve(http.MethodPost, "/api/v1/wallet/funds", map[string]string{"amount": "5.00", "nonce": "n"}, f.identity, f.handler.AddFunds)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "GW_001", decodeError(t, w)["error_code"])
}

func TestUpdateProfile_Success(t *testing.T) {
	f := newWalletFixture(t)
	state := sampleState()
	state.DisplayName = "New Name"

	f.expectSession()
	f.ledger.EXPECT().UpdateProfile(gomock.Any(), "New Name", "https://cdn.example.com/b.png").
		Return(&ports.LedgerOutcome{
			Notification: domain.Notification{Title: "Profile Updated", Severity: domain.SeveritySuccess},
			State:        state,
		}, nil)

	w := serve(http.MethodPut, "/api/v1/wallet/profile", map[string]string{
		"display_name": "New Name",
		"avatar_url":   "https://cdn.example.com/b.png",
	}, f.identity, f.handler.UpdateProfile)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "New Name", data["wallet"].(map[string]interface{})["displayName"])
	_, hasTxn := data["transaction"]
	assert.False(t, hasTxn)
}

func TestUpdateProfile_StoresNameVerbatim(t *testing.T) {
	f := newWalletFixture(t)
	state := sampleState()
	state.DisplayName = "Tom & Jerry"

	f.sessions.EXPECT().Session(gomock.Any(), f.identity).Return(f.ledger, nil).Times(3)
	f.ledger.EXPECT().UpdateProfile(gomock.Any(), "Tom & Jerry", "").
		Return(&ports.LedgerOutcome{State: state}, nil).Times(3)

	name := "Tom & Jerry"
	for i := 0; i < 3; i++ {
		w := serve(http.MethodPut, "/api/v1/wallet/profile", map[string]string{"display_name": name}, f.identity, f.handler.UpdateProfile)
		require.Equal(t, http.StatusOK, w.Code)
		name = decodeData(t, w)["wallet"].(map[string]interface{})["displayName"].(string)
	}
	assert.Equal(t, "Tom & Jerry", name)
}

func TestUpdateProfile_StaleVersionIsWarning(t *testing.T) {
	f := newWalletFixture(t)
	f.expectSession()
	f.ledger.EXPECT().UpdateProfile(gomock.Any(), "Name", "").
		Return(nil, apperror.ErrStoreConflict(errors.New("version moved")))

	w := serve(http.MethodPut, "/api/v1/wallet/profile", map[string]string{"display_name": "Name"}, f.identity, f.handler.UpdateProfile)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "warning", decodeError(t, w)["notification"].(map[string]interface{})["severity"])
}

func TestUpdateProfile_RejectsScriptURL(t *testing.T) {
	f := newWalletFixture(t)

	w := serve(http.MethodPut, "/api/v1/wallet/profile", map[string]string{
		"display_name": "Name",
		"avatar_url":   "javascript:alert(1)",
	}, f.identity, f.handler.UpdateProfile)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListNotifications(t *testing.T) {
	f := newWalletFixture(t)
	f.notifier.EXPECT().Recent(gomock.Any(), f.identity.UserID, int64(20)).Return([]domain.Notification{
		{Title: "Funds Added", Description: "$10.00 has been added to your balance.", Severity: domain.SeveritySuccess},
	}, nil)

	w := serve(http.MethodGet, "/api/v1/wallet/notifications", nil, f.identity, f.handler.ListNotifications)

	assert.Equal(t, http.StatusOK, w.Code)
	notes := decodeData(t, w)["notifications"].([]interface{})
	require.Len(t, notes, 1)
	assert.Equal(t, "Funds Added", notes[0].(map[string]interface{})["title"])
}

func TestListNotifications_StoreError(t *testing.T) {
	f := newWalletFixture(t)
	f.notifier.EXPECT().Recent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down"))

	w := serve(http.MethodGet, "/api/v1/wallet/notifications", nil, f.identity, f.handler.ListNotifications)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- Catalog / Payments ---

func TestListItems(t *testing.T) {
	ctrl := gomock.NewController(t)
	catalog := mocks.NewMockCatalogService(ctrl)
	catalog.EXPECT().Items().Return([]domain.Item{
		{ID: "1", Name: "Small Gold Package", Price: decimal.RequireFromString("4.99"), ImageRef: "/coin.png"},
	})

	w := serve(http.MethodGet, "/api/v1/catalog", nil, domain.Identity{}, NewCatalogHandler(catalog).ListItems)

	assert.Equal(t, http.StatusOK, w.Code)
	items := decodeData(t, w)["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "4.99", items[0].(map[string]interface{})["price"])
	assert.Equal(t, "/coin.png", items[0].(map[string]interface{})["image"])
}

func TestClientToken(t *testing.T) {
	id := testIdentity()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		relay := mocks.NewMockPaymentRelay(ctrl)
		relay.EXPECT().GenerateClientAuthorization(gomock.Any(), id.UserID).Return(&ports.ClientAuthorization{
			Token:         "ct_abc",
			ApplicationID: "sandbox-app",
			LocationID:    "LOC1",
			Environment:   "sandbox",
			ExpiresAt:     time.Unix(1_900_000_000, 0),
		}, nil)

		w := serve(http.MethodPost, "/api/v1/payments/client-token", nil, id, NewPaymentHandler(relay).ClientToken)

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, "ct_abc", data["token"])
		assert.Equal(t, "LOC1", data["location_id"])
	})

	t.Run("not configured", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		relay := mocks.NewMockPaymentRelay(ctrl)
		relay.EXPECT().GenerateClientAuthorization(gomock.Any(), id.UserID).Return(nil, ports.ErrGatewayNotConfigured)

		w := serve(http.MethodPost, "/api/v1/payments/client-token", nil, id, NewPaymentHandler(relay).ClientToken)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "GW_002", decodeError(t, w)["error_code"])
	})
}
