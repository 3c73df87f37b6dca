package middleware

import (
	"net/http"

	"realm-wallet/pkg/apperror"
	"realm-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

// MaxBodySize rejects requests that declare a body larger than maxBytes and
// caps the reader for those that don't, so binding fails past the limit.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			response.Error(c, apperror.ErrPayloadTooLarge())
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
