package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
)

// BodyLimit rejects bodies over max bytes. A declared Content-Length over the
// limit is refused up front; chunked bodies fail on read past the limit.
func BodyLimit(max int64) gin.HandlerFunc {
	tooLarge := fmt.Sprintf("Request body exceeds %d bytes", max)
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeBodyTooLarge, tooLarge, RequestIDOf(c)))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}
