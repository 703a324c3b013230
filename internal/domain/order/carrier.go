package order

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// expressCarrierMarkers is the authoritative list of carrier name fragments
// that mark a same-day shipment. Entries are stored folded and NFC-normalized.
var expressCarrierMarkers = []string{
	"trong ngày",
	"giao trong ngày",
	"hoả tốc",
	"hoa toc",
	"grab",
	"bedelivery",
	"be delivery",
	"ahamove",
	"instant",
}

func init() {
	for i, m := range expressCarrierMarkers {
		expressCarrierMarkers[i] = foldCarrierName(m)
	}
}

// foldCarrierName case-folds and NFC-normalizes a carrier name so that
// composed and decomposed Vietnamese diacritics compare equal.
// A new Caser per call, since cases.Caser is not safe for concurrent use.
func foldCarrierName(name string) string {
	return cases.Fold().String(norm.NFC.String(name))
}

// IsExpressCarrier reports whether a shipping carrier name denotes an express
// (same-day) carrier. The check is case-insensitive.
func IsExpressCarrier(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	folded := foldCarrierName(name)
	for _, marker := range expressCarrierMarkers {
		if strings.Contains(folded, marker) {
			return true
		}
	}
	return false
}
