// Package promotion contains gift-by-variant promotion programs and the gift
// applier that derives an order's free lines from them.
package promotion

import (
	"fmt"
	"time"
)

// StatusActive is the only program status the applier considers
const StatusActive = "active"

// Program is a promotion program, read-only once loaded
type Program struct {
	ID             int64           `json:"id"`
	TenantID       int64           `json:"tenant_id,omitempty"`
	Name           string          `json:"name"`
	Code           string          `json:"code,omitempty"`
	Type           string          `json:"type,omitempty"`
	Status         string          `json:"status"`
	StartDate      *time.Time      `json:"start_date"`
	EndDate        *time.Time      `json:"end_date"`
	Description    string          `json:"description,omitempty"`
	LocationIDs    []int64         `json:"location_ids,omitempty"`
	SourceIDs      []int64         `json:"order_source_ids,omitempty"`
	ConditionItems []ConditionItem `json:"condition_items"`
}

// ConditionItem is one (qualifying set, threshold, multiple, gifts) tuple.
// When several conditions are listed, the first one met applies.
type ConditionItem struct {
	ID         int64       `json:"id,omitempty"`
	Conditions []Condition `json:"conditions"`
	Multiple   bool        `json:"multiple"`
	Limit      *int64      `json:"limit,omitempty"`
	Group      *string     `json:"group,omitempty"`
	GroupLimit *int64      `json:"group_limit,omitempty"`
	Gifts      []GiftLine  `json:"gifts"`
}

// Condition is a qualifying variant set with a minimum quantity
type Condition struct {
	VariantIDs []int64 `json:"variant_ids"`
	Threshold  int64   `json:"threshold"`
	Label      string  `json:"label,omitempty"`
}

// GiftLine is one free variant granted per multiplier unit.
// SKU, Unit and Opt1 stay nil when the variant lookup failed.
type GiftLine struct {
	VariantID int64   `json:"variant_id"`
	Name      string  `json:"variant_name,omitempty"`
	Quantity  int64   `json:"quantity"`
	SKU       *string `json:"sku"`
	Unit      *string `json:"unit"`
	Opt1      *string `json:"opt1"`
}

// Validate checks the invariants the applier relies on
func (p *Program) Validate() error {
	if p.ID == 0 {
		return fmt.Errorf("promotion: program without id")
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return fmt.Errorf("promotion: program %d ends before it starts", p.ID)
	}
	for i, item := range p.ConditionItems {
		if len(item.Conditions) == 0 {
			return fmt.Errorf("promotion: program %d condition item %d has no conditions", p.ID, i)
		}
		for _, c := range item.Conditions {
			if c.Threshold <= 0 {
				return fmt.Errorf("promotion: program %d condition item %d has threshold %d", p.ID, i, c.Threshold)
			}
		}
		for _, g := range item.Gifts {
			if g.VariantID == 0 || g.Quantity <= 0 {
				return fmt.Errorf("promotion: program %d condition item %d has an invalid gift line", p.ID, i)
			}
		}
	}
	return nil
}

// ActiveAt reports whether the program runs at now. Missing endpoints are open.
func (p *Program) ActiveAt(now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if p.StartDate != nil && now.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && now.After(*p.EndDate) {
		return false
	}
	return true
}

// AllowsLocation reports whether the program accepts orders from locationID.
// An empty allow-list accepts every location.
func (p *Program) AllowsLocation(locationID int64) bool {
	return len(p.LocationIDs) == 0 || containsID(p.LocationIDs, locationID)
}

// AllowsSource reports whether the program accepts orders from sourceID.
// An empty allow-list accepts every source.
func (p *Program) AllowsSource(sourceID int64) bool {
	return len(p.SourceIDs) == 0 || containsID(p.SourceIDs, sourceID)
}

// GiftVariantIDs returns the distinct gift variant ids in first-seen order
func (p *Program) GiftVariantIDs() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, item := range p.ConditionItems {
		for _, g := range item.Gifts {
			if _, ok := seen[g.VariantID]; ok {
				continue
			}
			seen[g.VariantID] = struct{}{}
			ids = append(ids, g.VariantID)
		}
	}
	return ids
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
