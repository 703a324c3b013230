package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/infrastructure/auth"
	"github.com/giadungplus/opscore/internal/infrastructure/logger"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
)

// OperatorVerifier checks operator passwords
type OperatorVerifier interface {
	Verify(name, password string) error
}

// TokenIssuer signs operator bearer tokens
type TokenIssuer interface {
	Issue(operator string) (*auth.Token, error)
}

// AuthHandler exchanges operator credentials for a bearer token
type AuthHandler struct {
	BaseHandler
	operators OperatorVerifier
	tokens    TokenIssuer
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(operators OperatorVerifier, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{operators: operators, tokens: tokens}
}

// Token issues a bearer token for a valid operator name and password
func (h *AuthHandler) Token(c *gin.Context) {
	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	log := logger.FromContext(c.Request.Context(), nil)
	if err := h.operators.Verify(req.Operator, req.Password); err != nil {
		log.Warn("Operator login rejected", zap.String("operator", req.Operator))
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Invalid operator or password")
		return
	}

	token, err := h.tokens.Issue(req.Operator)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	log.Info("Operator token issued", zap.String("operator", req.Operator))
	h.Success(c, token)
}
