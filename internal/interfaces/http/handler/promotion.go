package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/giadungplus/opscore/internal/application/promotion"
	"github.com/giadungplus/opscore/internal/domain/order"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
)

// PromotionService owns the gift catalogue
type PromotionService interface {
	Catalogue(ctx context.Context) (*promotion.Catalogue, error)
	Refresh(ctx context.Context) (*promotion.RefreshResult, error)
	ApplyToOrder(ctx context.Context, orderID int64) (*order.Order, error)
}

// PromotionHandler serves the promotion catalogue and gift lookups
type PromotionHandler struct {
	BaseHandler
	promotions PromotionService
}

// NewPromotionHandler creates a new PromotionHandler
func NewPromotionHandler(promotions PromotionService) *PromotionHandler {
	return &PromotionHandler{promotions: promotions}
}

// List returns the cached catalogue
func (h *PromotionHandler) List(c *gin.Context) {
	catalogue, err := h.promotions.Catalogue(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewCatalogueResponse(catalogue))
}

// Refresh rebuilds the catalogue from Sapo
func (h *PromotionHandler) Refresh(c *gin.Context) {
	result, err := h.promotions.Refresh(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// OrderGifts loads a Core order and returns the gifts it qualifies for
func (h *PromotionHandler) OrderGifts(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		h.BadRequest(c, "order id must be a positive integer")
		return
	}

	o, err := h.promotions.ApplyToOrder(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewOrderGiftsResponse(o))
}
