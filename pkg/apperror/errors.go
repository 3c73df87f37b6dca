package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
// Title is the short user-facing headline shown alongside Message.
type AppError struct {
	Code       string            `json:"error_code"`
	Title      string            `json:"title,omitempty"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithTitle returns a copy of e carrying the given headline.
func (e *AppError) WithTitle(title string) *AppError {
	cp := *e
	cp.Title = title
	return &cp
}

// WithMessage returns a copy of e with a different user-facing message.
func (e *AppError) WithMessage(message string) *AppError {
	cp := *e
	cp.Message = message
	return &cp
}

// WithDetail returns a copy of e with key set in Details.
func (e *AppError) WithDetail(key, value string) *AppError {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Authentication (AUTH) ----

func ErrUnauthenticated() *AppError {
	return New("AUTH_001", "Sign in to continue", http.StatusUnauthorized).WithTitle("Not Signed In")
}

func ErrInvalidCredentials() *AppError {
	return New("AUTH_002", "Invalid credentials", http.StatusUnauthorized).WithTitle("Error")
}

func ErrEmailExists() *AppError {
	return New("AUTH_003", "An account with this email already exists", http.StatusConflict).WithTitle("Error")
}

// ---- Wallet (WAL) ----

func ErrInvalidInput(message string) *AppError {
	return New("WAL_001", message, http.StatusBadRequest).WithTitle("Invalid Input")
}

func ErrInsufficientFunds() *AppError {
	return New("WAL_002", "Insufficient balance in wallet", http.StatusPaymentRequired).WithTitle("Insufficient Funds")
}

func ErrItemNotFound(id string) *AppError {
	return New("WAL_003", fmt.Sprintf("Item %q not found", id), http.StatusNotFound).WithTitle("Error")
}

func ErrNonceUsed() *AppError {
	return New("WAL_004", "Payment instrument has already been used", http.StatusConflict).WithTitle("Error")
}

// ---- Payment gateway (GW) ----

func ErrGateway(err error) *AppError {
	return Wrap("GW_001", "Payment was not completed", http.StatusBadGateway, err).WithTitle("Payment Failed")
}

func ErrGatewayConfig(err error) *AppError {
	return Wrap("GW_002", "Payment processor is not configured", http.StatusInternalServerError, err).WithTitle("Error")
}

// ---- Record store (STORE) ----

func ErrStoreWrite(err error) *AppError {
	return Wrap("STORE_001", "Failed to save changes. Please try again.", http.StatusServiceUnavailable, err).WithTitle("Error")
}

func ErrStoreConflict(err error) *AppError {
	return Wrap("STORE_002", "Your wallet changed in another session. Please review and try again.", http.StatusConflict, err).
		WithTitle("Wallet Updated")
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

func ErrPayloadTooLarge() *AppError {
	return New("RATE_002", "Request body too large", http.StatusRequestEntityTooLarge)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a WAL_001-style validation error.
func Validation(message string) *AppError {
	return ErrInvalidInput(message)
}
