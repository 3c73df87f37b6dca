package handler

import (
	"errors"

	"realm-wallet/internal/adapter/http/dto"
	"realm-wallet/internal/adapter/http/middleware"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/apperror"
	"realm-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler hands out processor credentials for client-side card tokenization.
type PaymentHandler struct {
	relay ports.PaymentRelay
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(relay ports.PaymentRelay) *PaymentHandler {
	return &PaymentHandler{relay: relay}
}

// ClientToken handles POST /api/v1/payments/client-token.
func (h *PaymentHandler) ClientToken(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrUnauthenticated())
		return
	}

	auth, err := h.relay.GenerateClientAuthorization(c.Request.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, ports.ErrGatewayNotConfigured) {
			response.Error(c, apperror.ErrGatewayConfig(err))
			return
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			response.Error(c, appErr)
			return
		}
		response.Error(c, apperror.ErrGateway(err))
		return
	}

	response.OK(c, dto.FromClientAuthorization(auth))
}
