// Package handler implements the operator HTTP endpoints.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/giadungplus/opscore/internal/application/express"
	"github.com/giadungplus/opscore/internal/application/promotion"
	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
	"github.com/giadungplus/opscore/internal/interfaces/http/middleware"
)

// BaseHandler is embedded by every handler for the response envelope
type BaseHandler struct{}

// busy errors mean another run already holds the work; the caller may retry
var busy = []error{express.ErrRunInProgress, promotion.ErrRefreshInProgress}

// Success writes a 200 envelope around data
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Error writes an error envelope carrying the request ID
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, middleware.RequestIDOf(c)))
}

// BadRequest writes a 400 envelope
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// HandleError maps err to a response. A login started mid-request answers
// like the session gate does; everything else goes through dto.FromError.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	if errors.Is(err, integration.ErrAuthInProgress) {
		middleware.AbortAuthInProgress(c)
		return
	}
	for _, b := range busy {
		if errors.Is(err, b) {
			h.Error(c, http.StatusConflict, dto.ErrCodeBusy, err.Error())
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		h.Error(c, http.StatusGatewayTimeout, dto.ErrCodeTimeout, "Request timed out waiting for Sapo")
		return
	}
	status, resp := dto.FromError(err, middleware.RequestIDOf(c))
	c.JSON(status, resp)
}
