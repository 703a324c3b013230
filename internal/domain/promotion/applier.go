package promotion

import (
	"time"

	"github.com/giadungplus/opscore/internal/domain/order"
)

// Multiplier returns how many times a condition item's gifts are granted
// for matched qualifying units. A multiple item grants once; otherwise the
// grant steps every threshold units.
func Multiplier(matched, threshold int64, multiple bool) int64 {
	if threshold <= 0 {
		threshold = 1
	}
	if matched < threshold {
		return 0
	}
	if multiple {
		return 1
	}
	return matched / threshold
}

// MatchedQuantity sums the quantities of order lines whose variant is in variantIDs
func MatchedQuantity(o *order.Order, variantIDs []int64) int64 {
	set := make(map[int64]struct{}, len(variantIDs))
	for _, id := range variantIDs {
		set[id] = struct{}{}
	}
	var total int64
	for _, line := range o.LineItems {
		if _, ok := set[line.VariantID]; ok {
			total += line.Qty()
		}
	}
	return total
}

// Applicable reports whether program p can grant gifts on o at now
func Applicable(p *Program, o *order.Order, now time.Time) bool {
	return p.ActiveAt(now) && p.AllowsLocation(o.LocationID) && p.AllowsSource(o.SourceID)
}

// ComputeGifts returns the gifts the catalogue grants to o at now.
// Programs are visited in catalogue order; the result does not depend on o.Gifts.
func ComputeGifts(o *order.Order, programs []Program, now time.Time) []order.Gift {
	var gifts []order.Gift
	for i := range programs {
		p := &programs[i]
		if !Applicable(p, o, now) {
			continue
		}
		for _, item := range p.ConditionItems {
			gifts = append(gifts, giftsForItem(p, item, o)...)
		}
	}
	return gifts
}

func giftsForItem(p *Program, item ConditionItem, o *order.Order) []order.Gift {
	for _, cond := range item.Conditions {
		threshold := cond.Threshold
		if threshold <= 0 {
			threshold = 1
		}
		matched := MatchedQuantity(o, cond.VariantIDs)
		multiplier := Multiplier(matched, threshold, item.Multiple)
		if multiplier == 0 {
			continue
		}

		gifts := make([]order.Gift, 0, len(item.Gifts))
		for _, line := range item.Gifts {
			gifts = append(gifts, order.Gift{
				VariantID:   line.VariantID,
				Name:        line.Name,
				Quantity:    line.Quantity * multiplier,
				ProgramID:   p.ID,
				ProgramName: p.Name,
				SKU:         line.SKU,
				Unit:        line.Unit,
				Opt1:        line.Opt1,
			})
		}
		return gifts
	}
	return nil
}

// Apply replaces o.Gifts with the gifts the catalogue grants at now.
// Applying it repeatedly yields the same gifts.
func Apply(o *order.Order, programs []Program, now time.Time) {
	o.Gifts = ComputeGifts(o, programs, now)
}
