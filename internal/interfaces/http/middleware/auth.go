package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/infrastructure/auth"
	"github.com/giadungplus/opscore/internal/infrastructure/logger"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
)

// Auth header and context keys
const (
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	OperatorKey   = "operator"
)

// TokenValidator validates operator bearer tokens
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// RequireOperator rejects requests without a valid operator bearer token.
// A nil validator lets every request through.
func RequireOperator(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}

		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			abortUnauthorized(c, auth.ErrInvalidToken, "Missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, BearerPrefix)
		if !ok || strings.TrimSpace(token) == "" {
			abortUnauthorized(c, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}

		claims, err := validator.Validate(strings.TrimSpace(token))
		if err != nil {
			abortUnauthorized(c, err, "Invalid or malformed token")
			return
		}

		c.Set(OperatorKey, claims.Operator)
		c.Next()
	}
}

// OperatorOf returns the authenticated operator, or "" when auth is off
func OperatorOf(c *gin.Context) string {
	return c.GetString(OperatorKey)
}

func abortUnauthorized(c *gin.Context, err error, message string) {
	if errors.Is(err, auth.ErrExpiredToken) {
		message = "Token has expired"
	}
	logger.FromContext(c.Request.Context(), nil).Warn("Operator authentication failed",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
	)
	c.Header("WWW-Authenticate", `Bearer realm="opscore"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeUnauthorized,
		message,
		RequestIDOf(c),
	))
}
