package shopee

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// envelope is the common Shopee response wrapper
type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type searchHintData struct {
	OrderSNResult struct {
		List []struct {
			OrderID flexInt64 `json:"order_id"`
			OrderSN string    `json:"order_sn"`
		} `json:"list"`
	} `json:"order_sn_result"`
}

// Package is one shipping package of a Shopee order
type Package struct {
	PackageNumber string `json:"package_number"`
}

// OrderPackages lists the packages of one order
type OrderPackages struct {
	OrderID  int64     `json:"order_id"`
	Packages []Package `json:"package_list"`
}

type packageData struct {
	OrderInfo struct {
		OrderID     flexInt64 `json:"order_id"`
		PackageList []Package `json:"package_list"`
	} `json:"order_info"`
}

// Pickup is where and through which channel a rider collects a package
type Pickup struct {
	AddressID int64
	ChannelID int64
}

type pickupData struct {
	PickupAddressID flexInt64 `json:"pickup_address_id"`
	ChannelID       flexInt64 `json:"channel_id"`
}

// TimeSlot is an available pickup window; Value is what arrange expects
type TimeSlot struct {
	ID    int64
	Value string
	Title string
}

type timeSlotsData struct {
	TimeSlots []struct {
		ID    flexInt64  `json:"id"`
		Value flexString `json:"value"`
		Title string     `json:"title"`
	} `json:"time_slots"`
}

type packageRef struct {
	OrderID       int64  `json:"order_id"`
	PackageNumber string `json:"package_number"`
}

type arrangeRequest struct {
	Remark          string `json:"remark"`
	PickupTime      string `json:"pickup_time"`
	PickupAddressID int64  `json:"pickup_address_id"`
	SellerRealName  string `json:"seller_real_name"`
	ShippingMode    string `json:"shipping_mode"`
	GroupInfo       struct {
		GroupShipmentID      int64        `json:"group_shipment_id"`
		PrimaryPackageNumber string       `json:"primary_package_number"`
		PackageList          []packageRef `json:"package_list"`
	} `json:"group_info"`
}

// flexInt64 decodes a number or numeric string
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt64(n)
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

// flexString decodes a string or number as text
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(bytes.TrimSpace(data))
	return nil
}
