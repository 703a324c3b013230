package sapo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/order"
)

// Doer sends a request through an authenticated session; *Manager implements it
type Doer interface {
	Do(ctx context.Context, kind integration.SessionKind, req *Request) (*Response, error)
}

var _ Doer = (*Manager)(nil)

// coreDefaultHeaders are sent on every Core request
var coreDefaultHeaders = map[string]string{
	"x-sapo-client":    "sapo-frontend-v3",
	"x-sapo-serviceid": "sapo-frontend-v3",
	"accept":           "application/json",
	"content-type":     "application/json",
}

// TimePackingLayout is how packing time is written into shipment notes
const TimePackingLayout = "15:04 02-01-2006"

// CoreClient wraps the Sapo Core admin API
type CoreClient struct {
	doer    Doer
	baseURL string
	logger  *zap.Logger
}

// NewCoreClient creates a Core facade rooted at baseURL (e.g. https://shop.mysapogo.com/admin)
func NewCoreClient(doer Doer, baseURL string, logger *zap.Logger) *CoreClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoreClient{
		doer:    doer,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.Named("sapo.core"),
	}
}

func (c *CoreClient) do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	return c.doer.Do(ctx, integration.SessionCore, &Request{
		Method:  method,
		URL:     c.baseURL + "/" + strings.TrimPrefix(path, "/"),
		Query:   query,
		Body:    body,
		Headers: coreDefaultHeaders,
	})
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderFilter selects Core orders
type OrderFilter struct {
	Page         int
	Limit        int
	Query        string
	Statuses     []string
	LocationIDs  []int64
	CreatedOnMin *time.Time
	CreatedOnMax *time.Time
	Extra        url.Values
}

func (f OrderFilter) values() url.Values {
	q := url.Values{}
	for k, vs := range f.Extra {
		q[k] = append([]string(nil), vs...)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Query != "" {
		q.Set("query", f.Query)
	}
	if len(f.Statuses) > 0 {
		q.Set("status", strings.Join(f.Statuses, ","))
	}
	if len(f.LocationIDs) > 0 {
		ids := make([]string, len(f.LocationIDs))
		for i, id := range f.LocationIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		q.Set("location_ids", strings.Join(ids, ","))
	}
	if f.CreatedOnMin != nil {
		q.Set("created_on_min", f.CreatedOnMin.UTC().Format(order.CreatedOnLayout))
	}
	if f.CreatedOnMax != nil {
		q.Set("created_on_max", f.CreatedOnMax.UTC().Format(order.CreatedOnLayout))
	}
	return q
}

// PageMetadata is the paging block of list responses
type PageMetadata struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// OrderPage is one page of Core orders
type OrderPage struct {
	Orders   []order.Order `json:"orders"`
	Metadata PageMetadata  `json:"metadata"`
}

// GetOrder returns one order by id
func (c *CoreClient) GetOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("orders/%d.json", orderID), nil, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Order *order.Order `json:"order"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Order == nil {
		return nil, fmt.Errorf("%w: order %d", integration.ErrRemoteNotFound, orderID)
	}
	return payload.Order, nil
}

// ListOrders returns one page of orders matching filter
func (c *CoreClient) ListOrders(ctx context.Context, filter OrderFilter) (*OrderPage, error) {
	resp, err := c.do(ctx, http.MethodGet, "orders.json", filter.values(), nil)
	if err != nil {
		return nil, err
	}
	var page OrderPage
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetOrderByReference finds the order whose reference number (marketplace order id) matches ref
func (c *CoreClient) GetOrderByReference(ctx context.Context, ref string) (*order.Order, error) {
	page, err := c.ListOrders(ctx, OrderFilter{Query: ref, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(page.Orders) == 0 {
		return nil, fmt.Errorf("%w: order with reference %s", integration.ErrRemoteNotFound, ref)
	}
	return &page.Orders[0], nil
}

// ---------------------------------------------------------------------------
// Variants
// ---------------------------------------------------------------------------

// Variant is the subset of a Core variant used to enrich gift lines
type Variant struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	SKU       *string `json:"sku"`
	Unit      *string `json:"unit"`
	Opt1      *string `json:"opt1"`
}

// GetVariant returns one variant by id
func (c *CoreClient) GetVariant(ctx context.Context, variantID int64) (*Variant, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("variants/%d.json", variantID), nil, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Variant *Variant `json:"variant"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Variant == nil {
		return nil, fmt.Errorf("%w: variant %d", integration.ErrRemoteNotFound, variantID)
	}
	return payload.Variant, nil
}

// ---------------------------------------------------------------------------
// Fulfillments and shipment notes
// ---------------------------------------------------------------------------

// FulfillmentDocument is a fulfillment as returned by Sapo. It keeps every
// remote field so that a read-modify-write PUT does not drop any of them.
type FulfillmentDocument struct {
	Fulfillment order.Fulfillment
	raw         map[string]json.RawMessage
}

// SetShipmentNote replaces the shipment note in both views of the document
func (d *FulfillmentDocument) SetShipmentNote(note string) error {
	rawShipment, ok := d.raw["shipment"]
	if !ok || string(rawShipment) == "null" {
		return fmt.Errorf("%w: fulfillment %d has no shipment", integration.ErrRemoteInvalidResponse, d.Fulfillment.ID)
	}
	var shipment map[string]json.RawMessage
	if err := json.Unmarshal(rawShipment, &shipment); err != nil {
		return fmt.Errorf("%w: shipment: %v", integration.ErrRemoteInvalidResponse, err)
	}
	encoded, err := json.Marshal(note)
	if err != nil {
		return err
	}
	shipment["note"] = encoded
	if d.raw["shipment"], err = json.Marshal(shipment); err != nil {
		return err
	}
	if d.Fulfillment.Shipment != nil {
		d.Fulfillment.Shipment.Note = note
	}
	return nil
}

// MarshalJSON writes the complete remote document
func (d *FulfillmentDocument) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

func decodeFulfillmentDocument(resp *Response) (*FulfillmentDocument, error) {
	var payload struct {
		Fulfillment json.RawMessage `json:"fulfillment"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.Fulfillment) == 0 || string(payload.Fulfillment) == "null" {
		return nil, fmt.Errorf("%w: response has no fulfillment", integration.ErrRemoteInvalidResponse)
	}
	doc := &FulfillmentDocument{}
	if err := json.Unmarshal(payload.Fulfillment, &doc.Fulfillment); err != nil {
		return nil, fmt.Errorf("%w: fulfillment: %v", integration.ErrRemoteInvalidResponse, err)
	}
	if err := json.Unmarshal(payload.Fulfillment, &doc.raw); err != nil {
		return nil, fmt.Errorf("%w: fulfillment: %v", integration.ErrRemoteInvalidResponse, err)
	}
	return doc, nil
}

// GetShipment returns the fulfillment (with its shipment) by fulfillment id
func (c *CoreClient) GetShipment(ctx context.Context, fulfillmentID int64) (*FulfillmentDocument, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("shipments/%d.json", fulfillmentID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeFulfillmentDocument(resp)
}

// UpdateFulfillment PUTs the full document back to the order
func (c *CoreClient) UpdateFulfillment(ctx context.Context, orderID int64, doc *FulfillmentDocument) (*FulfillmentDocument, error) {
	body := map[string]any{"fulfillment": doc}
	resp, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("orders/%d/fulfillments/%d.json", orderID, doc.Fulfillment.ID), nil, body)
	if err != nil {
		return nil, err
	}
	return decodeFulfillmentDocument(resp)
}

// ShipmentNoteUpdate is the packing metadata written into a shipment note
type ShipmentNoteUpdate struct {
	PackingStatus int
	Carrier       string    // falls back to the shipment's service name
	Packer        string    // skipped when blank
	PackedAt      time.Time // skipped when zero
}

// UpdateShipmentNote merges update into the shipment note of a fulfillment
// and writes it back in the compact short-key encoding. The Shopee id is
// dropped from the note; every other existing key is kept in place.
func (c *CoreClient) UpdateShipmentNote(ctx context.Context, orderID, fulfillmentID int64, update ShipmentNoteUpdate) (string, error) {
	doc, err := c.GetShipment(ctx, fulfillmentID)
	if err != nil {
		return "", err
	}
	shipment := doc.Fulfillment.Shipment
	if shipment == nil {
		return "", fmt.Errorf("%w: fulfillment %d has no shipment", integration.ErrRemoteInvalidResponse, fulfillmentID)
	}

	note := order.ParseNoteLenient(shipment.Note)
	note.Delete(order.NoteKeyShopeeID)
	if err := note.Set(order.NoteKeyPackingStatus, update.PackingStatus); err != nil {
		return "", err
	}
	if carrier := strings.TrimSpace(update.Carrier); carrier != "" {
		err = note.Set(order.NoteKeyCarrier, carrier)
	} else if service := strings.TrimSpace(shipment.ServiceName); service != "" {
		err = note.Set(order.NoteKeyCarrier, service)
	}
	if err != nil {
		return "", err
	}
	if !update.PackedAt.IsZero() {
		if err := note.Set(order.NoteKeyTimePacking, update.PackedAt.Format(TimePackingLayout)); err != nil {
			return "", err
		}
	}
	if packer := strings.TrimSpace(update.Packer); packer != "" {
		if err := note.Set(order.NoteKeyPacker, packer); err != nil {
			return "", err
		}
	}

	compact, err := note.Compact()
	if err != nil {
		return "", err
	}
	if err := doc.SetShipmentNote(compact); err != nil {
		return "", err
	}
	if _, err := c.UpdateFulfillment(ctx, orderID, doc); err != nil {
		return "", err
	}

	c.logger.Info("Shipment note updated",
		zap.Int64("order_id", orderID),
		zap.Int64("fulfillment_id", fulfillmentID),
		zap.Int("packing_status", update.PackingStatus),
	)
	return compact, nil
}
