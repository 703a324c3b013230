package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/promotion"
)

func strPtr(s string) *string { return &s }

func samplePrograms() []promotion.Program {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	return []promotion.Program{
		{
			ID:          9001,
			Name:        "Mua 2 tặng 1 <combo>",
			Status:      promotion.StatusActive,
			StartDate:   &start,
			LocationIDs: []int64{241737},
			ConditionItems: []promotion.ConditionItem{{
				Conditions: []promotion.Condition{{VariantIDs: []int64{11, 12}, Threshold: 2}},
				Gifts: []promotion.GiftLine{{
					VariantID: 77, Name: "Quà tặng", Quantity: 1,
					SKU: strPtr("GIFT-77"), Unit: strPtr("cái"),
				}},
			}},
		},
	}
}

func TestPromotionFileCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "promotions.json")
	c := NewPromotionFileCache(path, nil)
	cachedAt := time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC)

	require.NoError(t, c.Save(samplePrograms(), cachedAt))

	snap, err := c.Load()
	require.NoError(t, err)
	assert.True(t, snap.CachedAt.Equal(cachedAt))
	assert.Equal(t, samplePrograms(), snap.Programs)
	assert.Zero(t, snap.Skipped)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestPromotionFileCache_CompactEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promotions.json")
	c := NewPromotionFileCache(path, nil)
	require.NoError(t, c.Save(samplePrograms(), time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, `{"cached_at":"2026-10-15T10:30:00Z","promotions":[{"id":9001,`)
	assert.Contains(t, body, `"Mua 2 tặng 1 <combo>"`)
	assert.NotContains(t, body, `\u`)
	assert.NotContains(t, body, "\n")
}

func TestPromotionFileCache_SkipsMalformedPrograms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promotions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cached_at":"2026-10-15T09:12:44.501223","promotions":[
		{"id":1,"name":"ok","status":"active","condition_items":[{"conditions":[{"variant_ids":[5],"threshold":1}],"multiple":true,"gifts":[{"variant_id":6,"quantity":1}]}]},
		{"id":2,"name":"zero threshold","status":"active","condition_items":[{"conditions":[{"variant_ids":[5],"threshold":0}],"gifts":[]}]},
		"not a program",
		{"id":3,"status":"active","condition_items":[]}
	]}`), 0o600))

	core, logs := observer.New(zapcore.WarnLevel)
	c := NewPromotionFileCache(path, zap.New(core))

	snap, err := c.Load()
	require.NoError(t, err)
	require.Len(t, snap.Programs, 2)
	assert.Equal(t, int64(1), snap.Programs[0].ID)
	assert.Equal(t, int64(3), snap.Programs[1].ID)
	assert.Equal(t, 2, snap.Skipped)
	assert.Equal(t, 2, logs.FilterMessage("Skipping malformed promotion program").Len())
	assert.Equal(t, 2026, snap.CachedAt.Year())
}

func TestPromotionFileCache_InvalidData(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
	}{
		{"missing file", nil},
		{"not json", strPtr("{promotions")},
		{"bad timestamp", strPtr(`{"cached_at":"yesterday","promotions":[]}`)},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0o600))
			}
			_, err := NewPromotionFileCache(path, nil).Load()
			assert.ErrorIs(t, err, integration.ErrPromotionDataInvalid, "case %d", i)
		})
	}
}
