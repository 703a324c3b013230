package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOrderJSON = `{
	"id": 9001,
	"code": "SON12345",
	"reference_number": "250301ABCXYZ",
	"channel": "Sàn TMĐT - Shopee",
	"location_id": 241737,
	"source_id": 1880152,
	"status": "finalized",
	"created_on": "2026-03-01T02:10:00Z",
	"order_line_items": [
		{"id": 1, "variant_id": 100, "sku": "SP-100", "quantity": 2.0, "price": 50000, "line_amount": 100000},
		{"id": 2, "variant_id": 200, "sku": "SP-200-P3", "quantity": 1, "price": 90000, "line_amount": 90000,
		 "is_packsize": true, "pack_size_quantity": 3, "pack_size_root_id": 201},
		{"id": 3, "variant_id": null, "quantity": 1, "price": 15000, "line_amount": 15000},
		{"id": 4, "variant_id": 201, "sku": "SP-201", "quantity": 1, "price": 30000, "line_amount": 30000}
	],
	"fulfillments": [
		{"id": 11, "shipment": {"tracking_code": ""}},
		{"id": 12, "shipment": {"tracking_code": " SPXVN0123 ", "service_name": "SPX Instant", "note": "{\"pks\":1}"}}
	]
}`

func decodeSampleOrder(t *testing.T) Order {
	t.Helper()
	var o Order
	require.NoError(t, json.Unmarshal([]byte(sampleOrderJSON), &o))
	return o
}

func TestOrder_Decode(t *testing.T) {
	o := decodeSampleOrder(t)

	assert.Equal(t, int64(9001), o.ID)
	assert.Equal(t, "250301ABCXYZ", o.ReferenceNumber)
	assert.Equal(t, int64(241737), o.LocationID)
	require.Len(t, o.LineItems, 4)
	assert.Equal(t, int64(2), o.LineItems[0].Qty())
	assert.True(t, o.LineItems[1].IsPackSize)
	assert.Equal(t, int64(3), o.LineItems[1].ExpansionRatio())
	assert.Equal(t, int64(201), o.LineItems[1].RealVariantID())
	assert.Equal(t, int64(0), o.LineItems[2].VariantID)
}

func TestOrder_TrackingCode(t *testing.T) {
	o := decodeSampleOrder(t)
	assert.Equal(t, "SPXVN0123", o.TrackingCode())
	assert.True(t, o.HasTrackingCode())

	t.Run("only the latest fulfillment counts", func(t *testing.T) {
		o := Order{Fulfillments: []Fulfillment{
			{ID: 1, Shipment: &Shipment{TrackingCode: "OLD"}},
			{ID: 2, Shipment: &Shipment{TrackingCode: "   "}},
		}}
		assert.False(t, o.HasTrackingCode())
	})

	t.Run("no shipment", func(t *testing.T) {
		o := Order{Fulfillments: []Fulfillment{{ID: 1}}}
		assert.False(t, o.HasTrackingCode())
	})

	t.Run("no fulfillments", func(t *testing.T) {
		assert.Nil(t, (&Order{}).LatestFulfillment())
		assert.False(t, (&Order{}).HasTrackingCode())
	})
}

func TestOrder_CreatedAt(t *testing.T) {
	o := decodeSampleOrder(t)
	created, ok := o.CreatedAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 2, 10, 0, 0, time.UTC), created)

	_, ok = (&Order{CreatedOn: "yesterday"}).CreatedAt()
	assert.False(t, ok)
	_, ok = (&Order{}).CreatedAt()
	assert.False(t, ok)

	withOffset := &Order{CreatedOn: "2026-03-01T09:10:00+07:00"}
	created, ok = withOffset.CreatedAt()
	require.True(t, ok)
	assert.True(t, created.Equal(time.Date(2026, 3, 1, 2, 10, 0, 0, time.UTC)))
}

func TestOrder_RealItems(t *testing.T) {
	o := decodeSampleOrder(t)
	items := o.RealItems()
	require.Len(t, items, 2)

	assert.Equal(t, int64(100), items[0].VariantID)
	assert.Equal(t, int64(2), items[0].Quantity)
	assert.Equal(t, int64(0), items[0].SourceVariantID)
	assert.True(t, decimal.NewFromInt(50000).Equal(items[0].UnitPrice))

	// 1 pack of 3 at 90000 plus 1 single at 30000 => 4 units, 120000 total
	assert.Equal(t, int64(201), items[1].VariantID)
	assert.Equal(t, int64(4), items[1].Quantity)
	assert.Equal(t, int64(200), items[1].SourceVariantID)
	assert.True(t, decimal.NewFromInt(30000).Equal(items[1].UnitPrice))
}

func TestLineItem_ExpansionRatio_WithoutRoot(t *testing.T) {
	line := LineItem{VariantID: 5, Quantity: decimal.NewFromInt(2)}
	assert.Equal(t, int64(1), line.ExpansionRatio())
	assert.Equal(t, int64(5), line.RealVariantID())
}
