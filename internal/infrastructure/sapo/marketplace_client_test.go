package sapo

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/order"
)

func TestMarketplaceClient_ListOrders(t *testing.T) {
	doer := newStubDoer().on(http.MethodGet, "/v2/orders", `{"orders":[
		{"id":101,"sapo_order_id":9,"channel_order_number":"2510ABC","connection_id":134366,"shipping_carrier_name":"SPX Instant"},
		{"id":102,"sapo_order_id":10,"channel_order_number":"2510ABD","connection_id":134366,"shipping_carrier_name":"Nhanh"}
	],"metadata":{"total":2,"page":1,"limit":50}}`)
	client := NewMarketplaceClient(doer, "https://market-place.sapoapps.vn/", "319911", []string{"134366", "155687"}, nil)

	page, err := client.ListOrders(context.Background(), MarketplaceOrderFilter{
		Limit:              50,
		Statuses:           order.PendingShipStatuses(),
		ShippingCarrierIDs: []string{"1", "2"},
		SortBy:             "ISSUED_AT",
		OrderBy:            "desc",
	})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.True(t, page.Orders[0].IsExpress())
	assert.Equal(t, int64(9), page.Orders[0].SapoOrderID)

	req := doer.requests[0]
	assert.Equal(t, integration.SessionMarketplace, doer.kinds[0])
	assert.Equal(t, "https://market-place.sapoapps.vn/v2/orders", req.URL)
	q := req.Query
	assert.Equal(t, "1", q.Get("page"))
	assert.Equal(t, "50", q.Get("limit"))
	assert.Equal(t, "134366,155687", q.Get("connectionIds"))
	assert.Equal(t, "319911", q.Get("accountId"))
	assert.Equal(t, "PROCESSED,READY_TO_SHIP,RETRY_SHIP", q.Get("channelOrderStatus"))
	assert.Equal(t, "1,2", q.Get("shippingCarrierIds"))
	assert.Equal(t, "ISSUED_AT", q.Get("sortBy"))
	assert.Equal(t, "desc", q.Get("orderBy"))
	assert.False(t, q.Has("query"))
}

func TestMarketplaceClient_InitConfirm(t *testing.T) {
	doer := newStubDoer().on(http.MethodGet, "/v2/orders/confirm/init", `{"data":{"init_success":{"shopee":[{
		"connection_id":134366,
		"logistic":{"address_list":[{"address_id":"7788"},{"address_id":1}]},
		"init_confirms":[{"pick_up_shopee_models":[{"time_slot_list":[{"pickup_time_id":1760500000},{"pickup_time_id":1760510000}]}]}]
	}]},"init_fail":[]}}`)
	client := NewMarketplaceClient(doer, "https://market-place.sapoapps.vn", "319911", nil, nil)

	res, err := client.InitConfirm(context.Background(), []int64{101, 102})
	require.NoError(t, err)
	pc, ok := res.First()
	require.True(t, ok)
	assert.Equal(t, int64(134366), pc.ConnectionID)
	assert.Equal(t, int64(7788), pc.AddressID)
	assert.Equal(t, order.PickupTimeID("1760500000"), pc.PickupTimeID)

	q := doer.requests[0].Query
	assert.Equal(t, "101,102", q.Get("ids"))
	assert.Equal(t, "319911", q.Get("accountId"))
}

func TestMarketplaceClient_InitConfirmNoShop(t *testing.T) {
	doer := newStubDoer().on(http.MethodGet, "/v2/orders/confirm/init", `{"data":{"init_success":{"shopee":[]}}}`)
	client := NewMarketplaceClient(doer, "https://market-place.sapoapps.vn", "319911", nil, nil)

	res, err := client.InitConfirm(context.Background(), []int64{101})
	require.NoError(t, err)
	_, ok := res.First()
	assert.False(t, ok)
}

func TestMarketplaceClient_InitConfirmWithoutSlots(t *testing.T) {
	doer := newStubDoer().on(http.MethodGet, "/v2/orders/confirm/init", `{"data":{"init_success":{"shopee":[{
		"connection_id":"134366","logistic":{"address_list":[]},"init_confirms":[]
	}]}}}`)
	client := NewMarketplaceClient(doer, "https://market-place.sapoapps.vn", "319911", nil, nil)

	res, err := client.InitConfirm(context.Background(), []int64{101})
	require.NoError(t, err)
	pc, ok := res.First()
	require.True(t, ok)
	assert.Equal(t, int64(134366), pc.ConnectionID)
	assert.Zero(t, pc.AddressID)
	assert.True(t, pc.PickupTimeID.IsAbsent())
}

func TestMarketplaceClient_ConfirmOrders(t *testing.T) {
	doer := newStubDoer().on(http.MethodPut, "/v2/orders/confirm",
		`{"data":{"list_error":[]}}`,
		`{"data":{"list_error":[{"order_list":[{"order_id":103,"error":"Đơn hàng đã được xử lý"}]}]}}`)
	client := NewMarketplaceClient(doer, "https://market-place.sapoapps.vn", "319911", nil, nil)

	items := []order.ConfirmItem{
		{ConnectionID: 1, OrderID: 101, PickupTimeID: "1760500000", PickUpType: order.PickUpTypePickup, AddressID: 10},
		{ConnectionID: 2, OrderID: 103, PickupTimeID: "0", PickUpType: order.PickUpTypePickup, AddressID: 20},
		{ConnectionID: 1, OrderID: 102, PickupTimeID: "", PickUpType: order.PickUpTypePickup, AddressID: 10},
	}
	res, err := client.ConfirmOrders(context.Background(), items)
	require.NoError(t, err)
	assert.False(t, res.OK())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, int64(103), res.Failures[0].OrderID)
	assert.Equal(t, "Đơn hàng đã được xử lý", res.FirstError())

	require.Len(t, doer.requests, 2)
	assert.Equal(t, "319911", doer.requests[0].Query.Get("accountId"))

	first := doer.bodyOf(t, 0)["confirm_order_request_model"].([]any)
	require.Len(t, first, 1)
	model := first[0].(map[string]any)
	assert.Equal(t, float64(1), model["connection_id"])
	assert.Equal(t, map[string]any{"pick_up_type": float64(1), "address_id": float64(10)}, model["shopee_logistic"])
	orders := model["order_models"].([]any)
	require.Len(t, orders, 2)
	assert.Equal(t, map[string]any{"order_id": float64(101), "pickup_time_id": "1760500000"}, orders[0])
	assert.Equal(t, map[string]any{"order_id": float64(102)}, orders[1])

	second := doer.bodyOf(t, 1)["confirm_order_request_model"].([]any)
	secondOrders := second[0].(map[string]any)["order_models"].([]any)
	assert.Equal(t, map[string]any{"order_id": float64(103)}, secondOrders[0])
}

func TestMarketplaceClient_ConfirmOrdersStopsOnError(t *testing.T) {
	doer := newStubDoer()
	client := NewMarketplaceClient(doer, "https://market-place.sapoapps.vn", "319911", nil, nil)

	_, err := client.ConfirmOrders(context.Background(), []order.ConfirmItem{
		{ConnectionID: 1, OrderID: 101, PickUpType: 1, AddressID: 10},
		{ConnectionID: 2, OrderID: 102, PickUpType: 1, AddressID: 20},
	})
	require.Error(t, err)
	assert.Len(t, doer.requests, 1)
}
