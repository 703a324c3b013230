package sapo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/promotion"
)

// MaxPromotionPageSize is the largest page Sapo serves for promotion lists
const MaxPromotionPageSize = 250

type programWire struct {
	ID             int64   `json:"id"`
	TenantID       int64   `json:"tenant_id"`
	Name           string  `json:"name"`
	Code           string  `json:"code"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	StartDate      *string `json:"start_date"`
	EndDate        *string `json:"end_date"`
	Description    string  `json:"description"`
	LocationIDs    []int64 `json:"location_ids"`
	OrderSourceIDs []int64 `json:"order_source_ids"`
}

func (w programWire) toProgram() promotion.Program {
	return promotion.Program{
		ID:          w.ID,
		TenantID:    w.TenantID,
		Name:        w.Name,
		Code:        w.Code,
		Type:        w.Type,
		Status:      w.Status,
		StartDate:   parseRemoteTime(w.StartDate),
		EndDate:     parseRemoteTime(w.EndDate),
		Description: w.Description,
		LocationIDs: w.LocationIDs,
		SourceIDs:   w.OrderSourceIDs,
	}
}

type goodsLabelWire struct {
	GoodsID    looseInt64 `json:"goods_id"`
	GoodsLabel string     `json:"goods_label"`
}

type conditionWire struct {
	GoodsRangeFrom      looseInt64       `json:"goods_range_from"`
	GoodsCondition      looseString      `json:"goods_condition"`
	GoodsConditionLabel []goodsLabelWire `json:"goods_condition_label"`
}

// conditionGiftWire is an entry of a condition item's "items"; gifts carry
// their variant and quantity in a JSON-encoded "detail" string
type conditionGiftWire struct {
	Type                string           `json:"type"`
	Detail              json.RawMessage  `json:"detail"`
	GoodsConditionLabel []goodsLabelWire `json:"goods_condition_label"`
}

type giftDetailWire struct {
	ConditionInclude looseInt64 `json:"condition_include"`
	Quantity         looseInt64 `json:"quantity"`
}

type conditionItemWire struct {
	ID         int64               `json:"id"`
	Conditions []conditionWire     `json:"conditions"`
	Items      []conditionGiftWire `json:"items"`
	Multiple   bool                `json:"multiple"`
	Limit      looseInt64          `json:"limit"`
	Group      looseString         `json:"group"`
	GroupLimit looseInt64          `json:"group_limit"`
}

func (w conditionItemWire) toConditionItem() (promotion.ConditionItem, error) {
	item := promotion.ConditionItem{
		ID:         w.ID,
		Multiple:   w.Multiple,
		Limit:      w.Limit.ptr(),
		Group:      w.Group.ptr(),
		GroupLimit: w.GroupLimit.ptr(),
	}
	for _, c := range w.Conditions {
		threshold := c.GoodsRangeFrom.Value
		if !c.GoodsRangeFrom.Valid || threshold < 1 {
			threshold = 1
		}
		cond := promotion.Condition{
			VariantIDs: splitIDs(c.GoodsCondition.Value),
			Threshold:  threshold,
		}
		if len(c.GoodsConditionLabel) > 0 {
			cond.Label = c.GoodsConditionLabel[0].GoodsLabel
		}
		item.Conditions = append(item.Conditions, cond)
	}
	for _, g := range w.Items {
		if g.Type != "gift" {
			continue
		}
		detail, err := decodeGiftDetail(g.Detail)
		if err != nil {
			return item, fmt.Errorf("condition item %d: %w", w.ID, err)
		}
		quantity := detail.Quantity.Value
		if !detail.Quantity.Valid {
			quantity = 1
		}
		line := promotion.GiftLine{
			VariantID: detail.ConditionInclude.Value,
			Quantity:  quantity,
		}
		if len(g.GoodsConditionLabel) > 0 {
			line.Name = g.GoodsConditionLabel[0].GoodsLabel
		}
		item.Gifts = append(item.Gifts, line)
	}
	return item, nil
}

// decodeGiftDetail accepts the detail either as a JSON string holding an object or as the object itself
func decodeGiftDetail(raw json.RawMessage) (giftDetailWire, error) {
	var detail giftDetailWire
	if len(raw) == 0 || string(raw) == "null" {
		return detail, fmt.Errorf("gift has no detail")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return detail, fmt.Errorf("gift detail: %w", err)
		}
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &detail); err != nil {
		return detail, fmt.Errorf("gift detail: %w", err)
	}
	return detail, nil
}

// ProgramPage is one page of promotion programs, without their conditions
type ProgramPage struct {
	Programs []promotion.Program
	Metadata PageMetadata
}

// ListPromotionPrograms returns one page of programs with the given status ("active", "all", ...)
func (c *CoreClient) ListPromotionPrograms(ctx context.Context, status string, page, limit int) (*ProgramPage, error) {
	if limit <= 0 || limit > MaxPromotionPageSize {
		limit = MaxPromotionPageSize
	}
	if page <= 0 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("statuses", status)

	resp, err := c.do(ctx, http.MethodGet, "promotion_programs_v2/list.json", q, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Metadata      PageMetadata  `json:"metadata"`
		PromotionList []programWire `json:"promotion_list"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}

	out := &ProgramPage{Metadata: payload.Metadata, Programs: make([]promotion.Program, 0, len(payload.PromotionList))}
	for _, w := range payload.PromotionList {
		out.Programs = append(out.Programs, w.toProgram())
	}
	return out, nil
}

// ListAllPromotionPrograms walks every page of programs with status
func (c *CoreClient) ListAllPromotionPrograms(ctx context.Context, status string, pageSize int) ([]promotion.Program, error) {
	var all []promotion.Program
	for page := 1; ; page++ {
		p, err := c.ListPromotionPrograms(ctx, status, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Programs...)
		if len(p.Programs) == 0 || len(all) >= p.Metadata.Total || len(p.Programs) < pageLimit(p.Metadata.Limit, pageSize) {
			return all, nil
		}
	}
}

func pageLimit(reported, requested int) int {
	if reported > 0 {
		return reported
	}
	if requested <= 0 || requested > MaxPromotionPageSize {
		return MaxPromotionPageSize
	}
	return requested
}

// GetProgramConditions returns the condition items of a program. Gift lines
// carry the label Sapo reports as their name; SKU, unit and opt1 are left for
// the caller to fill from variant lookups. A condition item that cannot be
// decoded is skipped with a warning.
func (c *CoreClient) GetProgramConditions(ctx context.Context, programID int64) ([]promotion.ConditionItem, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("promotion_programs_v2/%d/conditions.json", programID), nil, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		ConditionItems []conditionItemWire `json:"condition_items"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}

	items := make([]promotion.ConditionItem, 0, len(payload.ConditionItems))
	for _, w := range payload.ConditionItems {
		item, err := w.toConditionItem()
		if err != nil {
			c.logger.Warn("Skipping malformed condition item",
				zap.Int64("program_id", programID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
