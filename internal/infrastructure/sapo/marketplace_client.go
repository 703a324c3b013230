package sapo

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/order"
)

// MarketplaceClient wraps the Sapo Marketplace API that aggregates channel orders
type MarketplaceClient struct {
	doer          Doer
	baseURL       string
	accountID     string
	connectionIDs []string
	logger        *zap.Logger
}

// NewMarketplaceClient creates a Marketplace facade. connectionIDs are the
// shop connections listed when a filter does not name its own.
func NewMarketplaceClient(doer Doer, baseURL, accountID string, connectionIDs []string, logger *zap.Logger) *MarketplaceClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketplaceClient{
		doer:          doer,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		accountID:     accountID,
		connectionIDs: connectionIDs,
		logger:        logger.Named("sapo.marketplace"),
	}
}

func (c *MarketplaceClient) do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	return c.doer.Do(ctx, integration.SessionMarketplace, &Request{
		Method: method,
		URL:    c.baseURL + "/" + strings.TrimPrefix(path, "/"),
		Query:  query,
		Body:   body,
	})
}

// MarketplaceOrderFilter selects marketplace orders
type MarketplaceOrderFilter struct {
	Page               int
	Limit              int
	ConnectionIDs      []string
	Statuses           []string
	ShippingCarrierIDs []string
	Query              string
	SortBy             string
	OrderBy            string
}

func (c *MarketplaceClient) values(f MarketplaceOrderFilter) url.Values {
	q := url.Values{}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page))
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	connections := f.ConnectionIDs
	if len(connections) == 0 {
		connections = c.connectionIDs
	}
	if len(connections) > 0 {
		q.Set("connectionIds", strings.Join(connections, ","))
	}
	if c.accountID != "" {
		q.Set("accountId", c.accountID)
	}
	if len(f.Statuses) > 0 {
		q.Set("channelOrderStatus", strings.Join(f.Statuses, ","))
	}
	if len(f.ShippingCarrierIDs) > 0 {
		q.Set("shippingCarrierIds", strings.Join(f.ShippingCarrierIDs, ","))
	}
	if f.Query != "" {
		q.Set("query", f.Query)
	}
	if f.SortBy != "" {
		q.Set("sortBy", f.SortBy)
	}
	if f.OrderBy != "" {
		q.Set("orderBy", f.OrderBy)
	}
	return q
}

// MarketplaceOrderPage is one page of marketplace orders, in server order
type MarketplaceOrderPage struct {
	Orders   []order.MarketplaceOrder `json:"orders"`
	Metadata PageMetadata             `json:"metadata"`
}

// ListOrders returns one page of marketplace orders
func (c *MarketplaceClient) ListOrders(ctx context.Context, filter MarketplaceOrderFilter) (*MarketplaceOrderPage, error) {
	resp, err := c.do(ctx, http.MethodGet, "v2/orders", c.values(filter), nil)
	if err != nil {
		return nil, err
	}
	var page MarketplaceOrderPage
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ---------------------------------------------------------------------------
// Pickup confirmation
// ---------------------------------------------------------------------------

type initConfirmWire struct {
	Data struct {
		InitSuccess struct {
			Shopee []initShopBlockWire `json:"shopee"`
		} `json:"init_success"`
	} `json:"data"`
}

type initShopBlockWire struct {
	ConnectionID looseInt64 `json:"connection_id"`
	Logistic     struct {
		AddressList []struct {
			AddressID looseInt64 `json:"address_id"`
		} `json:"address_list"`
	} `json:"logistic"`
	InitConfirms []struct {
		PickUpShopeeModels []struct {
			TimeSlotList []struct {
				PickupTimeID order.PickupTimeID `json:"pickup_time_id"`
			} `json:"time_slot_list"`
		} `json:"pick_up_shopee_models"`
	} `json:"init_confirms"`
}

func (b initShopBlockWire) toPickupContext() order.PickupContext {
	pc := order.PickupContext{ConnectionID: b.ConnectionID.Value}
	if len(b.Logistic.AddressList) > 0 {
		pc.AddressID = b.Logistic.AddressList[0].AddressID.Value
	}
	if len(b.InitConfirms) > 0 {
		models := b.InitConfirms[0].PickUpShopeeModels
		if len(models) > 0 && len(models[0].TimeSlotList) > 0 {
			pc.PickupTimeID = models[0].TimeSlotList[0].PickupTimeID
		}
	}
	return pc
}

// InitConfirmResult holds one pickup context per Shopee shop that accepted init
type InitConfirmResult struct {
	Contexts []order.PickupContext
}

// First returns the first pickup context; ok is false when init failed for every shop
func (r InitConfirmResult) First() (order.PickupContext, bool) {
	if len(r.Contexts) == 0 {
		return order.PickupContext{}, false
	}
	return r.Contexts[0], true
}

// InitConfirm asks for the shop pickup address and available pickup slots of orders
func (c *MarketplaceClient) InitConfirm(ctx context.Context, orderIDs []int64) (*InitConfirmResult, error) {
	ids := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	q := url.Values{}
	q.Set("accountId", c.accountID)
	q.Set("ids", strings.Join(ids, ","))

	resp, err := c.do(ctx, http.MethodGet, "v2/orders/confirm/init", q, nil)
	if err != nil {
		return nil, err
	}
	var payload initConfirmWire
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}

	result := &InitConfirmResult{}
	for _, block := range payload.Data.InitSuccess.Shopee {
		result.Contexts = append(result.Contexts, block.toPickupContext())
	}
	return result, nil
}

type orderModelWire struct {
	OrderID      int64  `json:"order_id"`
	PickupTimeID string `json:"pickup_time_id,omitempty"`
}

type confirmRequestModelWire struct {
	ConnectionID   int64            `json:"connection_id"`
	OrderModels    []orderModelWire `json:"order_models"`
	ShopeeLogistic struct {
		PickUpType int   `json:"pick_up_type"`
		AddressID  int64 `json:"address_id"`
	} `json:"shopee_logistic"`
}

type confirmRequestWire struct {
	ConfirmOrderRequestModel []confirmRequestModelWire `json:"confirm_order_request_model"`
}

type confirmResponseWire struct {
	Data struct {
		ListError []struct {
			OrderList []struct {
				OrderID looseInt64 `json:"order_id"`
				Error   string     `json:"error"`
			} `json:"order_list"`
		} `json:"list_error"`
	} `json:"data"`
}

func buildConfirmRequest(group order.ConfirmGroup) confirmRequestWire {
	model := confirmRequestModelWire{ConnectionID: group.Key.ConnectionID}
	model.ShopeeLogistic.PickUpType = group.Key.PickUpType
	model.ShopeeLogistic.AddressID = group.Key.AddressID
	for _, item := range group.Items {
		m := orderModelWire{OrderID: item.OrderID}
		if !item.PickupTimeID.IsAbsent() {
			m.PickupTimeID = string(item.PickupTimeID)
		}
		model.OrderModels = append(model.OrderModels, m)
	}
	return confirmRequestWire{ConfirmOrderRequestModel: []confirmRequestModelWire{model}}
}

// ConfirmOrders commits pickup schedules. Items are grouped by
// (connection, pick up type, address) and each group is sent as its own
// request. Orders the remote refused are returned as failures; a transport
// or HTTP error stops at the failing group and is returned with the failures
// collected so far.
func (c *MarketplaceClient) ConfirmOrders(ctx context.Context, items []order.ConfirmItem) (order.ConfirmResult, error) {
	var result order.ConfirmResult
	q := url.Values{}
	q.Set("accountId", c.accountID)

	for _, group := range order.GroupConfirmItems(items) {
		resp, err := c.do(ctx, http.MethodPut, "v2/orders/confirm", q, buildConfirmRequest(group))
		if err != nil {
			return result, err
		}
		var payload confirmResponseWire
		if err := resp.Decode(&payload); err != nil {
			return result, err
		}
		for _, le := range payload.Data.ListError {
			if len(le.OrderList) == 0 {
				result.Failures = append(result.Failures, order.ConfirmFailure{})
				continue
			}
			for _, o := range le.OrderList {
				result.Failures = append(result.Failures, order.ConfirmFailure{OrderID: o.OrderID.Value, Error: o.Error})
			}
		}
		c.logger.Info("Confirm request sent",
			zap.Int64("connection_id", group.Key.ConnectionID),
			zap.Int64("address_id", group.Key.AddressID),
			zap.Int("orders", len(group.Items)),
			zap.Int("failures", len(result.Failures)),
		)
	}
	return result, nil
}
