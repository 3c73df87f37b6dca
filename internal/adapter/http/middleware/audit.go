package middleware

import (
	"encoding/json"
	"net/http"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that logs successful write operations.
// It maps route templates to audit actions.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var userID *uuid.UUID
		if id, ok := IdentityFrom(c); ok {
			userID = &id.UserID
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(CtxRequestID),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			UserID:       userID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.GetString(CtxAuditResource),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
		})
	}
}

// CtxAuditResource lets a handler name the resource it touched.
const CtxAuditResource = "audit_resource"

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/auth/register" && method == http.MethodPost:
		return domain.AuditActionRegister, "account"
	case route == "/api/v1/auth/login" && method == http.MethodPost:
		return domain.AuditActionLogin, "session"
	case route == "/api/v1/auth/logout" && method == http.MethodPost:
		return domain.AuditActionLogout, "session"
	case route == "/api/v1/wallet/funds" && method == http.MethodPost:
		return domain.AuditActionAddFunds, "wallet"
	case route == "/api/v1/wallet/purchases" && method == http.MethodPost:
		return domain.AuditActionPurchase, "wallet"
	case route == "/api/v1/wallet/profile" && method == http.MethodPut:
		return domain.AuditActionUpdateProfile, "wallet"
	case route == "/api/v1/payments/client-token" && method == http.MethodPost:
		return domain.AuditActionClientToken, "payment"
	}
	return "", ""
}
