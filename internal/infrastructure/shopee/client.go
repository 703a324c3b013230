package shopee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/infrastructure/telemetry"
)

const (
	// DefaultBaseURL is the seller centre API root
	DefaultBaseURL = "https://banhang.shopee.vn/api/v3"

	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 * 1024 * 1024

	searchCategoryOrderSN = 1
	orderListTabAll       = 100
	shippingModePickup    = "pickup"
)

// Config holds Shopee API settings
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Clients hands out a Client per shop, loading the shop's headers on demand
type Clients struct {
	registry   *Registry
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClients creates a client factory over registry
func NewClients(registry *Registry, cfg Config, logger *zap.Logger) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Clients{
		registry:   registry,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:     logger.Named("shopee"),
	}
}

// ForConnection returns a client for the shop linked through connectionID
func (c *Clients) ForConnection(connectionID int64) (*Client, error) {
	shop, err := c.registry.ByConnection(connectionID)
	if err != nil {
		return nil, err
	}
	return c.forShop(shop)
}

// ForShop returns a client for a shop given by connection id or name
func (c *Clients) ForShop(key string) (*Client, error) {
	shop, err := c.registry.Resolve(key)
	if err != nil {
		return nil, err
	}
	return c.forShop(shop)
}

// Redispatch asks Shopee for a new rider on the order orderSN of the shop
// linked through connectionID
func (c *Clients) Redispatch(ctx context.Context, connectionID int64, orderSN string) error {
	client, err := c.ForConnection(connectionID)
	if err != nil {
		return err
	}
	return client.Redispatch(ctx, orderSN)
}

func (c *Clients) forShop(shop Shop) (*Client, error) {
	headers, err := c.registry.Headers(shop)
	if errors.Is(err, ErrDanglingHeader) && len(headers) > 0 {
		c.logger.Warn("Header file ends with a name and no value", zap.String("shop", shop.Name), zap.Error(err))
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return NewClient(c.httpClient, c.baseURL, shop, headers, c.logger), nil
}

// Client calls the seller centre API as one shop
type Client struct {
	httpClient *http.Client
	baseURL    string
	shop       Shop
	headers    map[string]string
	logger     *zap.Logger
}

// NewClient creates a client sending headers on every request
func NewClient(httpClient *http.Client, baseURL string, shop Shop, headers map[string]string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		shop:       shop,
		headers:    sanitizeHeaders(headers),
		logger:     logger.With(zap.String("shop", shop.Name)),
	}
}

// Shop returns the shop this client acts as
func (c *Client) Shop() Shop {
	return c.shop
}

// sanitizeHeaders drops headers net/http must own. A copied accept-encoding
// would also stop the transport from decompressing responses.
func sanitizeHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		name := strings.ToLower(strings.TrimSpace(k))
		if name == "" || strings.HasPrefix(name, ":") {
			continue
		}
		switch name {
		case "host", "content-length", "connection", "accept-encoding":
			continue
		}
		out[name] = v
	}
	return out
}

// SearchOrderID finds the Shopee order id of an order serial number
func (c *Client) SearchOrderID(ctx context.Context, orderSN string) (int64, error) {
	q := url.Values{}
	q.Set("keyword", orderSN)
	q.Set("category", strconv.Itoa(searchCategoryOrderSN))
	q.Set("order_list_tab", strconv.Itoa(orderListTabAll))

	var data searchHintData
	if err := c.call(ctx, "search_order", http.MethodGet, "order/get_order_list_search_bar_hint", q, nil, &data); err != nil {
		return 0, err
	}
	for _, hit := range data.OrderSNResult.List {
		if hit.OrderID != 0 {
			return int64(hit.OrderID), nil
		}
	}
	return 0, fmt.Errorf("%w: shopee order %s", integration.ErrRemoteNotFound, orderSN)
}

// GetPackages returns the packages of an order
func (c *Client) GetPackages(ctx context.Context, orderID int64) (*OrderPackages, error) {
	q := url.Values{}
	q.Set("order_id", strconv.FormatInt(orderID, 10))

	var data packageData
	if err := c.call(ctx, "get_package", http.MethodGet, "order/get_package", q, nil, &data); err != nil {
		return nil, err
	}
	out := &OrderPackages{OrderID: orderID}
	for _, p := range data.OrderInfo.PackageList {
		if p.PackageNumber != "" {
			out.Packages = append(out.Packages, p)
		}
	}
	return out, nil
}

// GetPickup returns the pickup address and logistics channel of a package
func (c *Client) GetPickup(ctx context.Context, orderID int64, packageNumber string) (*Pickup, error) {
	q := cdsQuery()
	q.Set("order_id", strconv.FormatInt(orderID, 10))
	q.Set("package_number", packageNumber)

	var data pickupData
	if err := c.call(ctx, "get_pickup", http.MethodGet, "shipment/get_pickup", q, nil, &data); err != nil {
		return nil, err
	}
	if data.PickupAddressID == 0 || data.ChannelID == 0 {
		return nil, fmt.Errorf("%w: no pickup address for order %d", integration.ErrRemoteConflict, orderID)
	}
	return &Pickup{AddressID: int64(data.PickupAddressID), ChannelID: int64(data.ChannelID)}, nil
}

// GetPickupTimeSlots lists pickup windows for orders at an address
func (c *Client) GetPickupTimeSlots(ctx context.Context, orderIDs []int64, pickup Pickup) ([]TimeSlot, error) {
	ids := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	q := cdsQuery()
	q.Set("order_ids", strings.Join(ids, ","))
	q.Set("address_id", strconv.FormatInt(pickup.AddressID, 10))
	q.Set("channel_id", strconv.FormatInt(pickup.ChannelID, 10))

	var data timeSlotsData
	if err := c.call(ctx, "get_pickup_time_slots", http.MethodGet, "shipment/get_pickup_time_slots", q, nil, &data); err != nil {
		return nil, err
	}
	slots := make([]TimeSlot, 0, len(data.TimeSlots))
	for _, s := range data.TimeSlots {
		slots = append(slots, TimeSlot{ID: int64(s.ID), Value: string(s.Value), Title: s.Title})
	}
	return slots, nil
}

// ArrangeShipment asks Shopee to send a rider for one package, using the
// first available pickup slot at the package's pickup address
func (c *Client) ArrangeShipment(ctx context.Context, orderID int64, packageNumber string) error {
	pickup, err := c.GetPickup(ctx, orderID, packageNumber)
	if err != nil {
		return err
	}
	slots, err := c.GetPickupTimeSlots(ctx, []int64{orderID}, *pickup)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return fmt.Errorf("%w: no pickup time slot for order %d", integration.ErrRemoteConflict, orderID)
	}

	req := arrangeRequest{
		PickupTime:      slots[0].Value,
		PickupAddressID: pickup.AddressID,
		ShippingMode:    shippingModePickup,
	}
	req.GroupInfo.PrimaryPackageNumber = packageNumber
	req.GroupInfo.PackageList = []packageRef{{OrderID: orderID, PackageNumber: packageNumber}}

	if err := c.call(ctx, "arrange_shipment", http.MethodPost, "shipment/update_shipment_group_info", cdsQuery(), req, nil); err != nil {
		return err
	}
	c.logger.Info("Shipment arranged",
		zap.Int64("order_id", orderID),
		zap.String("package_number", packageNumber),
		zap.String("pickup_time", slots[0].Value),
	)
	return nil
}

// Redispatch finds an order by serial number and arranges pickup of its first package
func (c *Client) Redispatch(ctx context.Context, orderSN string) error {
	orderID, err := c.SearchOrderID(ctx, orderSN)
	if err != nil {
		return err
	}
	packages, err := c.GetPackages(ctx, orderID)
	if err != nil {
		return err
	}
	if len(packages.Packages) == 0 {
		return fmt.Errorf("%w: shopee order %s has no package", integration.ErrRemoteConflict, orderSN)
	}
	return c.ArrangeShipment(ctx, orderID, packages.Packages[0].PackageNumber)
}

// cdsQuery carries the client request id Shopee expects on shipment calls
func cdsQuery() url.Values {
	q := url.Values{}
	q.Set("SPC_CDS", uuid.NewString())
	q.Set("SPC_CDS_VER", "2")
	return q
}

func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	ctx, span := telemetry.StartClientSpan(ctx, "shopee", op,
		telemetry.AttrHTTPMethod.String(method),
		telemetry.AttrHTTPPath.String(path),
		telemetry.AttrShop.String(c.shop.Name),
	)
	defer span.End()

	err := c.do(ctx, method, path, query, body, out)
	if err != nil {
		telemetry.RecordError(span, err)
		c.logger.Warn("Shopee call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("shopee: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("shopee: build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: shopee %s: %v", integration.ErrRemoteUnavailable, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: shopee %s: read body: %v", integration.ErrRemoteUnavailable, path, err)
	}
	if err := statusError(resp.StatusCode, path); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: shopee %s: %v", integration.ErrRemoteInvalidResponse, path, err)
	}
	if env.Code != nil && *env.Code != 0 {
		return fmt.Errorf("%w: shopee %s: code %d: %s", integration.ErrRemoteConflict, path, *env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: shopee %s: %v", integration.ErrRemoteInvalidResponse, path, err)
	}
	return nil
}

// statusError maps HTTP failures. Shopee cookies cannot be refreshed
// automatically, so 401 and 403 surface as a failed login for the shop.
func statusError(status int, path string) error {
	var sentinel error
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = integration.ErrAuthFailed
	case status == http.StatusNotFound:
		sentinel = integration.ErrRemoteNotFound
	case status == http.StatusTooManyRequests:
		sentinel = integration.ErrRemoteRateLimited
	case status >= 500:
		sentinel = integration.ErrRemoteUnavailable
	default:
		sentinel = integration.ErrRemoteConflict
	}
	return fmt.Errorf("%w: shopee %s: HTTP %d", sentinel, path, status)
}
