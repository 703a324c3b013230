package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreatedOnLayout is the timestamp layout Sapo Core uses for created_on
const CreatedOnLayout = "2006-01-02T15:04:05Z"

// Order is a Sapo Core order
type Order struct {
	ID              int64         `json:"id"`
	Code            string        `json:"code"`
	ReferenceNumber string        `json:"reference_number,omitempty"`
	Channel         string        `json:"channel,omitempty"`
	ConnectionID    int64         `json:"connection_id,omitempty"`
	LocationID      int64         `json:"location_id"`
	SourceID        int64         `json:"source_id,omitempty"`
	Status          string        `json:"status"`
	CreatedOn       string        `json:"created_on,omitempty"`
	LineItems       []LineItem    `json:"order_line_items"`
	Fulfillments    []Fulfillment `json:"fulfillments"`

	// Gifts is derived by the gift applier and never sent back to Sapo
	Gifts []Gift `json:"gifts,omitempty"`
}

// LineItem is one order line. Quantity and price arrive as JSON numbers
// that may carry a fractional part.
type LineItem struct {
	ID               int64               `json:"id"`
	ProductID        int64               `json:"product_id,omitempty"`
	VariantID        int64               `json:"variant_id,omitempty"`
	SKU              string              `json:"sku,omitempty"`
	Unit             string              `json:"unit,omitempty"`
	Quantity         decimal.Decimal     `json:"quantity"`
	Price            decimal.Decimal     `json:"price"`
	LineAmount       decimal.Decimal     `json:"line_amount"`
	IsPackSize       bool                `json:"is_packsize,omitempty"`
	PackSizeQuantity decimal.NullDecimal `json:"pack_size_quantity"`
	PackSizeRootID   *int64              `json:"pack_size_root_id,omitempty"`
}

// Fulfillment is one shipping attempt of an order
type Fulfillment struct {
	ID              int64     `json:"id"`
	StockLocationID int64     `json:"stock_location_id,omitempty"`
	Status          string    `json:"status,omitempty"`
	Shipment        *Shipment `json:"shipment,omitempty"`
}

// Shipment carries carrier data of a fulfillment
type Shipment struct {
	ID           int64  `json:"id,omitempty"`
	TrackingCode string `json:"tracking_code,omitempty"`
	ServiceName  string `json:"service_name,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Gift is a free line attached to an order by a promotion program
type Gift struct {
	VariantID   int64   `json:"variant_id"`
	Name        string  `json:"variant_name,omitempty"`
	Quantity    int64   `json:"quantity"`
	ProgramID   int64   `json:"program_id"`
	ProgramName string  `json:"program_name,omitempty"`
	SKU         *string `json:"sku"`
	Unit        *string `json:"unit"`
	Opt1        *string `json:"opt1"`
}

// Qty returns the line quantity as whole units
func (l LineItem) Qty() int64 {
	return l.Quantity.IntPart()
}

// ExpansionRatio returns how many root-variant units one unit of this line
// represents. Lines without a pack-size root expand 1:1.
func (l LineItem) ExpansionRatio() int64 {
	if l.PackSizeRootID == nil || !l.PackSizeQuantity.Valid {
		return 1
	}
	if n := l.PackSizeQuantity.Decimal.IntPart(); n > 0 {
		return n
	}
	return 1
}

// RealVariantID returns the variant the warehouse actually ships
func (l LineItem) RealVariantID() int64 {
	if l.PackSizeRootID != nil && *l.PackSizeRootID != 0 {
		return *l.PackSizeRootID
	}
	return l.VariantID
}

// RealItem is a line item after pack-size expansion
type RealItem struct {
	VariantID int64 `json:"variant_id"`
	// SourceVariantID is the pack variant that expanded into this item, 0 for plain lines
	SourceVariantID int64           `json:"old_id"`
	Quantity        int64           `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

// RealItems expands pack-size lines into root variant units and merges lines
// that land on the same root. Unit prices are the line total divided by the
// expanded quantity. Lines without a variant (fees, discounts) are skipped.
func (o *Order) RealItems() []RealItem {
	type acc struct {
		item  RealItem
		total decimal.Decimal
	}
	var order []int64
	byVariant := make(map[int64]*acc)

	for _, line := range o.LineItems {
		variantID := line.RealVariantID()
		if variantID == 0 {
			continue
		}
		qty := line.Qty() * line.ExpansionRatio()
		if qty <= 0 {
			continue
		}
		total := line.LineAmount
		if total.IsZero() {
			total = line.Price.Mul(line.Quantity)
		}

		a, ok := byVariant[variantID]
		if !ok {
			a = &acc{item: RealItem{VariantID: variantID}}
			if variantID != line.VariantID {
				a.item.SourceVariantID = line.VariantID
			}
			byVariant[variantID] = a
			order = append(order, variantID)
		}
		a.item.Quantity += qty
		a.total = a.total.Add(total)
	}

	items := make([]RealItem, 0, len(order))
	for _, id := range order {
		a := byVariant[id]
		a.item.UnitPrice = a.total.Div(decimal.NewFromInt(a.item.Quantity)).Round(2)
		items = append(items, a.item)
	}
	return items
}

// LatestFulfillment returns the last fulfillment, or nil
func (o *Order) LatestFulfillment() *Fulfillment {
	if len(o.Fulfillments) == 0 {
		return nil
	}
	return &o.Fulfillments[len(o.Fulfillments)-1]
}

// TrackingCode returns the tracking code of the latest fulfillment, trimmed
func (o *Order) TrackingCode() string {
	f := o.LatestFulfillment()
	if f == nil || f.Shipment == nil {
		return ""
	}
	return strings.TrimSpace(f.Shipment.TrackingCode)
}

// HasTrackingCode reports whether the order has been prepared
func (o *Order) HasTrackingCode() bool {
	return o.TrackingCode() != ""
}

// CreatedAt parses CreatedOn. The second return is false when the timestamp
// is missing or unparseable.
func (o *Order) CreatedAt() (time.Time, bool) {
	if o.CreatedOn == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(CreatedOnLayout, o.CreatedOn); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, o.CreatedOn); err == nil {
		return t, true
	}
	return time.Time{}, false
}
