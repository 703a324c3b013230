package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/giadungplus/opscore/internal/application/express"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
)

// ExpressRunner runs one reconcile pass
type ExpressRunner interface {
	Run(ctx context.Context, limit int) (express.Summary, error)
}

// ExpressHandler triggers the express-order reconciler by hand
type ExpressHandler struct {
	BaseHandler
	runner ExpressRunner
}

// NewExpressHandler creates a new ExpressHandler
func NewExpressHandler(runner ExpressRunner) *ExpressHandler {
	return &ExpressHandler{runner: runner}
}

// Run executes one reconcile pass synchronously and returns its summary.
// A run already in progress, manual or scheduled, yields 409.
func (h *ExpressHandler) Run(c *gin.Context) {
	var req dto.ExpressRunRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	summary, err := h.runner.Run(c.Request.Context(), req.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewExpressRunResponse(summary))
}
