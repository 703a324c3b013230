package dto

import (
	"time"

	"github.com/giadungplus/opscore/internal/application/express"
	"github.com/giadungplus/opscore/internal/application/promotion"
	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/order"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response carrying the request ID
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// SessionStatusResponse reports both Sapo sessions
type SessionStatusResponse struct {
	Ready    bool                 `json:"ready"`
	Sessions []sapo.SessionStatus `json:"sessions"`
}

// NewSessionStatusResponse wraps manager session statuses
func NewSessionStatusResponse(sessions []sapo.SessionStatus) SessionStatusResponse {
	ready := len(sessions) > 0
	for _, s := range sessions {
		if s.State != integration.SessionStateValid {
			ready = false
		}
	}
	return SessionStatusResponse{Ready: ready, Sessions: sessions}
}

// InvalidateSessionRequest names the sessions to drop. Empty means both.
type InvalidateSessionRequest struct {
	Sessions []string `json:"sessions" binding:"omitempty,dive,oneof=core marketplace"`
}

// TokenRequest carries operator credentials for a bearer token
type TokenRequest struct {
	Operator string `json:"operator" binding:"required,max=64"`
	Password string `json:"password" binding:"required,max=72"`
}

// ExpressRunRequest overrides the page size of one manual run
type ExpressRunRequest struct {
	Limit int `form:"limit" json:"limit" binding:"omitempty,min=1,max=250"`
}

// ExpressRunResponse is the outcome of a manual run
type ExpressRunResponse struct {
	express.Summary
	DurationMS int64 `json:"duration_ms"`
}

// NewExpressRunResponse wraps a reconcile summary
func NewExpressRunResponse(s express.Summary) ExpressRunResponse {
	return ExpressRunResponse{Summary: s, DurationMS: s.FinishedAt.Sub(s.StartedAt).Milliseconds()}
}

// CatalogueResponse lists the cached promotion programs
type CatalogueResponse struct {
	CachedAt time.Time   `json:"cached_at"`
	Count    int         `json:"count"`
	Programs interface{} `json:"promotions"`
}

// NewCatalogueResponse wraps the in-process catalogue
func NewCatalogueResponse(c *promotion.Catalogue) CatalogueResponse {
	return CatalogueResponse{CachedAt: c.CachedAt, Count: len(c.Programs), Programs: c.Programs}
}

// OrderGiftsResponse lists the gifts the catalogue grants to one Core order
// next to the shipped units they were computed from.
type OrderGiftsResponse struct {
	OrderID    int64            `json:"order_id"`
	Code       string           `json:"code"`
	LocationID int64            `json:"location_id"`
	Items      []order.RealItem `json:"items"`
	Gifts      []order.Gift     `json:"gifts"`
}

// NewOrderGiftsResponse wraps an order after gift application. Items are the
// line items with pack sizes expanded to root variants.
func NewOrderGiftsResponse(o *order.Order) OrderGiftsResponse {
	gifts := o.Gifts
	if gifts == nil {
		gifts = []order.Gift{}
	}
	return OrderGiftsResponse{
		OrderID:    o.ID,
		Code:       o.Code,
		LocationID: o.LocationID,
		Items:      o.RealItems(),
		Gifts:      gifts,
	}
}
