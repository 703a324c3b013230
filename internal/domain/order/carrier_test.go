package order

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/unicode/norm"
)

func swapCase(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func TestIsExpressCarrier(t *testing.T) {
	tests := []struct {
		name    string
		carrier string
		want    bool
	}{
		{"same day", "Giao Trong Ngày", true},
		{"within day", "SPX trong ngày", true},
		{"hoa toc diacritics", "Hoả Tốc - SPX", true},
		{"hoa toc ascii", "HOA TOC", true},
		{"grab", "GrabExpress", true},
		{"be delivery joined", "beDelivery", true},
		{"be delivery spaced", "Be Delivery", true},
		{"ahamove", "AhaMove", true},
		{"instant", "SPX Instant", true},
		{"standard", "SPX Express", false},
		{"ghn", "Giao Hàng Nhanh", false},
		{"empty", "", false},
		{"blank", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpressCarrier(tt.carrier))
		})
	}
}

func TestIsExpressCarrier_CaseInsensitive(t *testing.T) {
	names := []string{"Hoả Tốc", "Giao Trong Ngày", "grab bike", "Ninja Van", "AHAMOVE", "Instant"}
	for _, name := range names {
		assert.Equal(t, IsExpressCarrier(name), IsExpressCarrier(swapCase(name)), name)
		assert.Equal(t, IsExpressCarrier(name), IsExpressCarrier(name), name)
	}
}

func TestIsExpressCarrier_DecomposedDiacritics(t *testing.T) {
	decomposed := norm.NFD.String("Hoả tốc")
	assert.NotEqual(t, "Hoả tốc", decomposed)
	assert.True(t, IsExpressCarrier(decomposed))
}

func TestMarketplaceOrder_IsExpress(t *testing.T) {
	assert.True(t, MarketplaceOrder{ShippingCarrierName: "Hỏa tốc trong ngày"}.IsExpress())
	assert.False(t, MarketplaceOrder{ShippingCarrierName: "J&T Express"}.IsExpress())
}
