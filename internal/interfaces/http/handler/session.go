package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/infrastructure/logger"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
	"github.com/giadungplus/opscore/internal/interfaces/http/middleware"
)

// SessionService is the part of the Sapo session manager the operator endpoints drive
type SessionService interface {
	Sessions() []sapo.SessionStatus
	Invalidate(ctx context.Context, kinds ...integration.SessionKind)
	TryEnsure(ctx context.Context, kind integration.SessionKind) integration.EnsureResult
}

// SessionHandler exposes session state and manual invalidation
type SessionHandler struct {
	BaseHandler
	sessions SessionService
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Status reports both sessions
func (h *SessionHandler) Status(c *gin.Context) {
	h.Success(c, dto.NewSessionStatusResponse(h.sessions.Sessions()))
}

// Invalidate drops the credentials of the named sessions (both when none are
// named). With relogin=true a background login starts right away.
func (h *SessionHandler) Invalidate(c *gin.Context) {
	var req dto.InvalidateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BadRequest(c, err.Error())
			return
		}
	}

	kinds := integration.AllSessionKinds()
	if len(req.Sessions) > 0 {
		kinds = kinds[:0]
		for _, name := range req.Sessions {
			kinds = append(kinds, integration.SessionKind(name))
		}
	}

	ctx := c.Request.Context()
	h.sessions.Invalidate(ctx, kinds...)
	relogin := c.Query("relogin") == "true"
	logger.FromContext(ctx, nil).Info("Sessions invalidated by operator",
		zap.Stringers("sessions", kinds),
		zap.Bool("relogin", relogin),
		zap.String("operator", middleware.OperatorOf(c)),
	)
	if relogin {
		for _, kind := range kinds {
			h.sessions.TryEnsure(context.WithoutCancel(ctx), kind)
		}
	}

	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(dto.NewSessionStatusResponse(h.sessions.Sessions())))
}
