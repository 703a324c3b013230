package order

import (
	"encoding/json"
	"strconv"
)

// Marketplace channel order statuses that still need carrier action
const (
	ChannelStatusProcessed   = "PROCESSED"
	ChannelStatusReadyToShip = "READY_TO_SHIP"
	ChannelStatusRetryShip   = "RETRY_SHIP"
)

// PendingShipStatuses returns the statuses the express reconciler pulls
func PendingShipStatuses() []string {
	return []string{ChannelStatusProcessed, ChannelStatusReadyToShip, ChannelStatusRetryShip}
}

// PickUpTypePickup is the marketplace pick_up_type for carrier pickup
const PickUpTypePickup = 1

// MarketplaceOrder is one aggregated order from Sapo Marketplace
type MarketplaceOrder struct {
	ID                  int64  `json:"id"`
	SapoOrderID         int64  `json:"sapo_order_id"`
	ChannelOrderNumber  string `json:"channel_order_number"`
	ConnectionID        int64  `json:"connection_id"`
	ChannelOrderStatus  string `json:"channel_order_status,omitempty"`
	ShippingCarrierName string `json:"shipping_carrier_name"`
}

// IsExpress reports whether the order ships with an express carrier
func (o MarketplaceOrder) IsExpress() bool {
	return IsExpressCarrier(o.ShippingCarrierName)
}

// PickupTimeID is a marketplace pickup slot id. The remote returns it as a
// number or a string depending on the channel; it is always sent as a string.
type PickupTimeID string

// UnmarshalJSON accepts numbers, strings and null
func (p *PickupTimeID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = PickupTimeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = PickupTimeID(n.String())
	return nil
}

// IsAbsent reports whether the slot must be omitted from a confirm request.
// The remote distinguishes a missing slot from a zero slot.
func (p PickupTimeID) IsAbsent() bool {
	switch p {
	case "", "0":
		return true
	}
	if f, err := strconv.ParseFloat(string(p), 64); err == nil && f == 0 {
		return true
	}
	return false
}

// ConfirmItem is one order's pickup commitment
type ConfirmItem struct {
	ConnectionID int64
	OrderID      int64
	PickupTimeID PickupTimeID
	PickUpType   int
	AddressID    int64
}

// ConfirmGroupKey groups confirm items into one remote request
type ConfirmGroupKey struct {
	ConnectionID int64
	PickUpType   int
	AddressID    int64
}

// ConfirmGroup is the set of items sharing one ConfirmGroupKey
type ConfirmGroup struct {
	Key   ConfirmGroupKey
	Items []ConfirmItem
}

// GroupConfirmItems groups items by (connection, pick up type, address),
// keeping first-seen order for both groups and items.
func GroupConfirmItems(items []ConfirmItem) []ConfirmGroup {
	var groups []ConfirmGroup
	index := make(map[ConfirmGroupKey]int)
	for _, item := range items {
		key := ConfirmGroupKey{
			ConnectionID: item.ConnectionID,
			PickUpType:   item.PickUpType,
			AddressID:    item.AddressID,
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, ConfirmGroup{Key: key})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// PickupContext is what init_confirm returns for one order
type PickupContext struct {
	ConnectionID int64
	AddressID    int64
	PickupTimeID PickupTimeID
}

// ConfirmItem builds the pickup commitment for orderID
func (c PickupContext) ConfirmItem(orderID int64) ConfirmItem {
	return ConfirmItem{
		ConnectionID: c.ConnectionID,
		OrderID:      orderID,
		PickupTimeID: c.PickupTimeID,
		PickUpType:   PickUpTypePickup,
		AddressID:    c.AddressID,
	}
}

// ConfirmFailure is one order the remote refused to confirm
type ConfirmFailure struct {
	OrderID int64  `json:"order_id"`
	Error   string `json:"error"`
}

// ConfirmResult summarizes a confirm_orders call
type ConfirmResult struct {
	Failures []ConfirmFailure
}

// OK reports whether every order was confirmed
func (r ConfirmResult) OK() bool {
	return len(r.Failures) == 0
}

// FirstError returns the first remote error message, if any
func (r ConfirmResult) FirstError() string {
	for _, f := range r.Failures {
		if f.Error != "" {
			return f.Error
		}
	}
	if len(r.Failures) > 0 {
		return "unknown error"
	}
	return ""
}
