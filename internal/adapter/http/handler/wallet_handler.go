package handler

import (
	"realm-wallet/internal/adapter/http/dto"
	"realm-wallet/internal/adapter/http/middleware"
	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/apperror"
	"realm-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles the authenticated wallet endpoints.
type WalletHandler struct {
	sessions          ports.SessionProvider
	catalog           ports.CatalogService
	funding           ports.FundingService
	notifier          ports.Notifier
	notificationLimit int64
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(
	sessions ports.SessionProvider,
	catalog ports.CatalogService,
	funding ports.FundingService,
	notifier ports.Notifier,
	notificationLimit int64,
) *WalletHandler {
	return &WalletHandler{
		sessions:          sessions,
		catalog:           catalog,
		funding:           funding,
		notifier:          notifier,
		notificationLimit: notificationLimit,
	}
}

// ledger resolves the engine of the calling session, writing the error response on failure.
func (h *WalletHandler) ledger(c *gin.Context) (domain.Identity, ports.Ledger, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthenticated())
		return domain.Identity{}, nil, false
	}
	ledger, err := h.sessions.Session(c.Request.Context(), identity)
	if err != nil {
		response.Error(c, err)
		return domain.Identity{}, nil, false
	}
	return identity, ledger, true
}

// GetWallet handles GET /api/v1/wallet.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	_, ledger, ok := h.ledger(c)
	if !ok {
		return
	}
	state, err := ledger.Snapshot()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromWallet(state))
}

// ListTransactions handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	_, ledger, ok := h.ledger(c)
	if !ok {
		return
	}
	state, err := ledger.Snapshot()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"transactions": dto.FromTransactions(state.Transactions)})
}

// Purchase handles POST /api/v1/wallet/purchases.
func (h *WalletHandler) Purchase(c *gin.Context) {
	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	c.Set(middleware.CtxAuditResource, req.ItemID)

	_, ledger, ok := h.ledger(c)
	if !ok {
		return
	}

	item, found := h.catalog.Lookup(req.ItemID)
	if !found {
		response.Error(c, apperror.ErrItemNotFound(req.ItemID))
		return
	}

	outcome, err := ledger.PurchaseItem(c.Request.Context(), item)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOutcome(outcome))
}

// AddFunds handles POST /api/v1/wallet/funds.
func (h *WalletHandler) AddFunds(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthenticated())
		return
	}

	var req dto.AddFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	outcome, err := h.funding.AddFunds(c.Request.Context(), identity, ports.FundingRequest{
		Amount: req.Amount,
		Nonce:  req.Nonce,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if outcome.Transaction != nil {
		c.Set(middleware.CtxAuditResource, outcome.Transaction.ID)
	}
	response.OK(c, dto.FromOutcome(outcome))
}

// UpdateProfile handles PUT /api/v1/wallet/profile.
func (h *WalletHandler) UpdateProfile(c *gin.Context) {
	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	_, ledger, ok := h.ledger(c)
	if !ok {
		return
	}

	outcome, err := ledger.UpdateProfile(c.Request.Context(), req.DisplayName, req.AvatarURL)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOutcome(outcome))
}

// ListNotifications handles GET /api/v1/wallet/notifications.
func (h *WalletHandler) ListNotifications(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthenticated())
		return
	}

	notes, err := h.notifier.Recent(c.Request.Context(), identity.UserID, h.notificationLimit)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}
	response.OK(c, gin.H{"notifications": dto.FromNotifications(notes)})
}
