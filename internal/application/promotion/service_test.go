package promotion

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/order"
	"github.com/giadungplus/opscore/internal/domain/promotion"
	"github.com/giadungplus/opscore/internal/infrastructure/cache"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
)

func strPtr(s string) *string { return &s }

type fakeCatalog struct {
	mu             sync.Mutex
	programs       []promotion.Program
	listErr        error
	conditions     map[int64][]promotion.ConditionItem
	conditionErrs  map[int64]error
	variants       map[int64]*sapo.Variant
	orders         map[int64]*order.Order
	variantCalls   map[int64]int
	listedStatus   string
	listedPageSize int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		conditions:    make(map[int64][]promotion.ConditionItem),
		conditionErrs: make(map[int64]error),
		variants:      make(map[int64]*sapo.Variant),
		orders:        make(map[int64]*order.Order),
		variantCalls:  make(map[int64]int),
	}
}

func (f *fakeCatalog) ListAllPromotionPrograms(_ context.Context, status string, pageSize int) ([]promotion.Program, error) {
	f.listedStatus = status
	f.listedPageSize = pageSize
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]promotion.Program, len(f.programs))
	copy(out, f.programs)
	return out, nil
}

func (f *fakeCatalog) GetProgramConditions(_ context.Context, programID int64) ([]promotion.ConditionItem, error) {
	if err := f.conditionErrs[programID]; err != nil {
		return nil, err
	}
	return f.conditions[programID], nil
}

func (f *fakeCatalog) GetVariant(_ context.Context, variantID int64) (*sapo.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variantCalls[variantID]++
	v, ok := f.variants[variantID]
	if !ok {
		return nil, integration.ErrRemoteNotFound
	}
	return v, nil
}

func (f *fakeCatalog) GetOrder(_ context.Context, orderID int64) (*order.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, integration.ErrRemoteNotFound
	}
	return o, nil
}

func giftItem(threshold int64, qualifying []int64, gifts ...promotion.GiftLine) promotion.ConditionItem {
	return promotion.ConditionItem{
		Conditions: []promotion.Condition{{VariantIDs: qualifying, Threshold: threshold}},
		Gifts:      gifts,
	}
}

func seededCatalog() *fakeCatalog {
	f := newFakeCatalog()
	f.programs = []promotion.Program{
		{ID: 1, Name: "Mua 2 tặng khăn", Status: promotion.StatusActive},
		{ID: 2, Name: "Mua nồi tặng khăn", Status: promotion.StatusActive},
	}
	f.conditions[1] = []promotion.ConditionItem{
		giftItem(2, []int64{100}, promotion.GiftLine{VariantID: 900, Quantity: 1}),
	}
	f.conditions[2] = []promotion.ConditionItem{
		giftItem(1, []int64{200},
			promotion.GiftLine{VariantID: 900, Quantity: 1},
			promotion.GiftLine{VariantID: 901, Quantity: 2}),
	}
	f.variants[900] = &sapo.Variant{ID: 900, Name: "Khăn lau", SKU: strPtr("GIFT-900"), Unit: strPtr("cái")}
	return f
}

func newTestService(t *testing.T, api CatalogAPI, logger *zap.Logger, now time.Time) (*Service, *cache.PromotionFileCache) {
	t.Helper()
	store := cache.NewPromotionFileCache(filepath.Join(t.TempDir(), "promotions.json"), logger)
	svc := NewService(api, store, 50, logger, WithClock(func() time.Time { return now }))
	return svc, store
}

func TestRefresh_EnrichesGiftsOncePerVariant(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	api := seededCatalog()
	svc, store := newTestService(t, api, zap.New(core), now)

	result, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, promotion.StatusActive, api.listedStatus)
	assert.Equal(t, 50, api.listedPageSize)
	assert.Equal(t, 2, result.Programs)
	assert.Equal(t, 0, result.SkippedPrograms)
	assert.Equal(t, 1, result.Variants)
	assert.Equal(t, 1, result.MissingVariants)
	assert.Equal(t, map[int64]int{900: 1, 901: 1}, api.variantCalls)

	catalogue, err := svc.Catalogue(context.Background())
	require.NoError(t, err)
	require.Len(t, catalogue.Programs, 2)

	towel := catalogue.Programs[1].ConditionItems[0].Gifts[0]
	assert.Equal(t, "Khăn lau", towel.Name)
	require.NotNil(t, towel.SKU)
	assert.Equal(t, "GIFT-900", *towel.SKU)

	unknown := catalogue.Programs[1].ConditionItems[0].Gifts[1]
	assert.Nil(t, unknown.SKU)
	assert.Nil(t, unknown.Unit)
	assert.Equal(t, 1, logs.FilterMessage("Gift variant lookup failed").Len())

	snapshot, err := store.Load()
	require.NoError(t, err)
	assert.True(t, snapshot.CachedAt.Equal(now))
	assert.Len(t, snapshot.Programs, 2)
}

func TestRefresh_SkipsBadPrograms(t *testing.T) {
	api := seededCatalog()
	api.programs = append(api.programs,
		promotion.Program{ID: 3, Status: promotion.StatusActive},
		promotion.Program{ID: 4, Status: promotion.StatusActive},
	)
	api.conditionErrs[3] = integration.ErrRemoteUnavailable
	api.conditions[4] = []promotion.ConditionItem{giftItem(0, []int64{100})}

	svc, _ := newTestService(t, api, zap.NewNop(), time.Now())
	result, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Programs)
	assert.Equal(t, 2, result.SkippedPrograms)
}

func TestRefresh_ListFailureKeepsCatalogue(t *testing.T) {
	api := seededCatalog()
	svc, _ := newTestService(t, api, zap.NewNop(), time.Now())
	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	api.listErr = integration.ErrAuthFailed
	_, err = svc.Refresh(context.Background())
	assert.ErrorIs(t, err, integration.ErrAuthFailed)

	catalogue, err := svc.Catalogue(context.Background())
	require.NoError(t, err)
	assert.Len(t, catalogue.Programs, 2)
}

func TestCatalogue_LoadsCacheLazily(t *testing.T) {
	api := seededCatalog()
	path := filepath.Join(t.TempDir(), "promotions.json")
	store := cache.NewPromotionFileCache(path, zap.NewNop())
	require.NoError(t, store.Save([]promotion.Program{{ID: 5, Status: promotion.StatusActive}}, time.Now()))

	svc := NewService(api, store, 50, nil)
	catalogue, err := svc.Catalogue(context.Background())
	require.NoError(t, err)
	require.Len(t, catalogue.Programs, 1)
	assert.Equal(t, int64(5), catalogue.Programs[0].ID)
}

func TestCatalogue_MissingCache(t *testing.T) {
	store := cache.NewPromotionFileCache(filepath.Join(t.TempDir(), "missing.json"), zap.NewNop())
	svc := NewService(newFakeCatalog(), store, 50, nil)

	_, err := svc.Catalogue(context.Background())
	require.Error(t, err)
	assert.True(t, IsDataInvalid(err))
	assert.False(t, IsDataInvalid(errors.New("other")))
}

func TestApplyToOrder(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	api := seededCatalog()
	api.orders[42] = &order.Order{
		ID:         42,
		Code:       "SON42",
		LocationID: 1,
		LineItems: []order.LineItem{
			{VariantID: 100, Quantity: decimal.NewFromInt(2)},
			{VariantID: 300, Quantity: decimal.NewFromInt(1)},
		},
	}
	svc, _ := newTestService(t, api, zap.NewNop(), now)
	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	o, err := svc.ApplyToOrder(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, o.Gifts, 1)
	assert.Equal(t, int64(900), o.Gifts[0].VariantID)
	assert.Equal(t, int64(1), o.Gifts[0].Quantity)
	assert.Equal(t, int64(1), o.Gifts[0].ProgramID)

	// applying twice yields the same gifts
	require.NoError(t, svc.Apply(context.Background(), o))
	assert.Len(t, o.Gifts, 1)

	_, err = svc.ApplyToOrder(context.Background(), 7)
	assert.ErrorIs(t, err, integration.ErrRemoteNotFound)
}

func TestRefresh_RejectsConcurrentRefresh(t *testing.T) {
	svc, _ := newTestService(t, seededCatalog(), zap.NewNop(), time.Now())
	svc.refreshMu.Lock()
	defer svc.refreshMu.Unlock()

	_, err := svc.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)
}
