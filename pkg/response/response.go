package response

import (
	"errors"
	"net/http"
	"time"

	"realm-wallet/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// Notice is the toast a client renders for a failed operation.
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode    string            `json:"error_code"`
	Message      string            `json:"message"`
	Details      map[string]string `json:"details,omitempty"`
	Notification *Notice           `json:"notification,omitempty"`
	RequestID    string            `json:"request_id"`
	Timestamp    string            `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: now(),
	})
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: now(),
	})
}

// Error sends an error response. It checks if err is an *apperror.AppError
// and maps it accordingly, otherwise returns 500.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp := ErrorResponse{
			ErrorCode: appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: getRequestID(c),
			Timestamp: now(),
		}
		if appErr.Title != "" {
			resp.Notification = &Notice{
				Title:       appErr.Title,
				Description: appErr.Message,
				Severity:    noticeSeverity(appErr),
			}
		}
		c.JSON(appErr.HTTPStatus, resp)
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		ErrorCode: "SYS_000",
		Message:   "Internal server error",
		RequestID: getRequestID(c),
		Timestamp: now(),
	})
}

// noticeSeverity renders a lost version race as a warning; the wallet was
// refreshed and the user only needs to retry.
func noticeSeverity(appErr *apperror.AppError) string {
	if appErr.Code == "STORE_002" {
		return "warning"
	}
	return "destructive"
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// getRequestID retrieves request ID from context, or generates one.
func getRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
