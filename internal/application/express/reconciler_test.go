package express

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/order"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
)

var testNow = time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeMarketplace struct {
	mu        sync.Mutex
	orders    []order.MarketplaceOrder
	listErrs  []error
	filters   []sapo.MarketplaceOrderFilter
	inits     map[int64]*sapo.InitConfirmResult
	initCalls [][]int64
	confirmed [][]order.ConfirmItem
	results   map[int64]order.ConfirmResult
}

func (f *fakeMarketplace) ListOrders(_ context.Context, filter sapo.MarketplaceOrderFilter) (*sapo.MarketplaceOrderPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &sapo.MarketplaceOrderPage{Orders: f.orders}, nil
}

func (f *fakeMarketplace) InitConfirm(_ context.Context, orderIDs []int64) (*sapo.InitConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls = append(f.initCalls, orderIDs)
	if res, ok := f.inits[orderIDs[0]]; ok {
		return res, nil
	}
	return &sapo.InitConfirmResult{}, nil
}

func (f *fakeMarketplace) ConfirmOrders(_ context.Context, items []order.ConfirmItem) (order.ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, items)
	return f.results[items[0].OrderID], nil
}

type fakeCore struct {
	orders map[int64]*order.Order
	calls  []int64
}

func (f *fakeCore) GetOrder(_ context.Context, orderID int64) (*order.Order, error) {
	f.calls = append(f.calls, orderID)
	o, ok := f.orders[orderID]
	if !ok {
		return nil, integration.ErrRemoteNotFound
	}
	return o, nil
}

type redispatch struct {
	connectionID int64
	orderSN      string
}

type fakeShippers struct {
	errs  map[string]error
	calls []redispatch
}

func (f *fakeShippers) Redispatch(_ context.Context, connectionID int64, orderSN string) error {
	f.calls = append(f.calls, redispatch{connectionID, orderSN})
	return f.errs[orderSN]
}

type fakeSessions struct {
	kinds []integration.SessionKind
	err   error
}

func (f *fakeSessions) Ensure(_ context.Context, kind integration.SessionKind) error {
	f.kinds = append(f.kinds, kind)
	return f.err
}

// fakeClock advances only when the reconciler sleeps
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type fixture struct {
	marketplace *fakeMarketplace
	core        *fakeCore
	shippers    *fakeShippers
	sessions    *fakeSessions
	clock       *fakeClock
}

func newFixture() *fixture {
	return &fixture{
		marketplace: &fakeMarketplace{inits: map[int64]*sapo.InitConfirmResult{}, results: map[int64]order.ConfirmResult{}},
		core:        &fakeCore{orders: map[int64]*order.Order{}},
		shippers:    &fakeShippers{errs: map[string]error{}},
		sessions:    &fakeSessions{},
		clock:       &fakeClock{now: testNow},
	}
}

func (f *fixture) reconciler(cfg Config, logger *zap.Logger) *Reconciler {
	return NewReconciler(cfg, f.marketplace, f.core, f.shippers, f.sessions, logger,
		WithClock(f.clock.Now, f.clock.Sleep))
}

func expressOrder(id, sapoID int64, sn string) order.MarketplaceOrder {
	return order.MarketplaceOrder{
		ID:                  id,
		SapoOrderID:         sapoID,
		ChannelOrderNumber:  sn,
		ConnectionID:        10925,
		ChannelOrderStatus:  order.ChannelStatusReadyToShip,
		ShippingCarrierName: "Hỏa Tốc - Ahamove",
	}
}

func sapoOrder(id int64, tracking string, age time.Duration) *order.Order {
	o := &order.Order{
		ID:         id,
		Code:       fmt.Sprintf("SON%d", id),
		LocationID: 241737,
		CreatedOn:  testNow.Add(-age).Format(order.CreatedOnLayout),
	}
	if tracking != "" {
		o.Fulfillments = []order.Fulfillment{{ID: id * 10, Shipment: &order.Shipment{TrackingCode: tracking}}}
	}
	return o
}

func pickupFor(connectionID, addressID int64, slot order.PickupTimeID) *sapo.InitConfirmResult {
	return &sapo.InitConfirmResult{Contexts: []order.PickupContext{{
		ConnectionID: connectionID,
		AddressID:    addressID,
		PickupTimeID: slot,
	}}}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	minAge := 50 * time.Minute
	tests := []struct {
		name  string
		order *order.Order
		want  Class
	}{
		{"missing order", nil, ClassSkip},
		{"tracking code", sapoOrder(1, "SPXVN0123", 5*time.Minute), ClassPrepared},
		{"blank tracking code", sapoOrder(1, "  ", 2*time.Hour), ClassNeedsPrepare},
		{"older than threshold", sapoOrder(1, "", 51*time.Minute), ClassNeedsPrepare},
		{"exactly at threshold", sapoOrder(1, "", 50*time.Minute), ClassSkip},
		{"too young", sapoOrder(1, "", 10*time.Minute), ClassSkip},
		{"unparseable created_on", &order.Order{ID: 1, CreatedOn: "hôm qua"}, ClassNeedsPrepare},
		{"missing created_on", &order.Order{ID: 1}, ClassNeedsPrepare},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.order, testNow, minAge))
		})
	}
}

func TestReconciler_MixedTick(t *testing.T) {
	f := newFixture()
	f.marketplace.orders = []order.MarketplaceOrder{
		expressOrder(1, 101, "2510150AAA"),
		expressOrder(2, 102, "2510150BBB"),
		expressOrder(3, 103, "2510150CCC"),
		{ID: 4, SapoOrderID: 104, ChannelOrderNumber: "2510150DDD", ShippingCarrierName: "Giao Hàng Nhanh"},
	}
	f.core.orders[101] = sapoOrder(101, "SPXVN0123", 20*time.Minute)
	f.core.orders[102] = sapoOrder(102, "", 2*time.Hour)
	f.core.orders[103] = sapoOrder(103, "", 10*time.Minute)
	f.marketplace.inits[2] = pickupFor(10925, 29719283, "1760511600")

	summary, err := f.reconciler(DefaultConfig(), nil).Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Prepared)
	assert.Equal(t, 1, summary.Unprepared)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.FindShipperSuccess)
	assert.Zero(t, summary.FindShipperFailed)
	assert.Equal(t, 1, summary.PrepareSuccess)
	assert.Zero(t, summary.PrepareFailed)
	assert.Zero(t, summary.Deferred)
	assert.NotEmpty(t, summary.RunID)

	assert.Equal(t, []redispatch{{10925, "2510150AAA"}}, f.shippers.calls)
	assert.Equal(t, [][]int64{{2}}, f.marketplace.initCalls)
	assert.Equal(t, [][]order.ConfirmItem{{{
		ConnectionID: 10925,
		OrderID:      2,
		PickupTimeID: "1760511600",
		PickUpType:   order.PickUpTypePickup,
		AddressID:    29719283,
	}}}, f.marketplace.confirmed)
	assert.Equal(t, []int64{101, 102, 103}, f.core.calls, "non-express orders are never joined")
	assert.Equal(t, []time.Duration{2 * time.Second}, f.clock.sleeps)
}

func TestReconciler_ListFilter(t *testing.T) {
	f := newFixture()
	cfg := DefaultConfig()
	cfg.CarrierIDs = []string{"134097", "1285481"}
	r := f.reconciler(cfg, nil)

	_, err := r.Run(context.Background(), 0)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, f.marketplace.filters, 2)
	filter := f.marketplace.filters[0]
	assert.Equal(t, 50, filter.Limit)
	assert.Equal(t, []string{"PROCESSED", "READY_TO_SHIP", "RETRY_SHIP"}, filter.Statuses)
	assert.Equal(t, []string{"134097", "1285481"}, filter.ShippingCarrierIDs)
	assert.Equal(t, "ISSUED_AT", filter.SortBy)
	assert.Equal(t, "desc", filter.OrderBy)
	assert.Equal(t, 10, f.marketplace.filters[1].Limit)
}

func TestReconciler_NoOrders(t *testing.T) {
	f := newFixture()

	summary, err := f.reconciler(DefaultConfig(), nil).Run(context.Background(), 0)
	require.NoError(t, err)

	summary.RunID = ""
	summary.StartedAt = time.Time{}
	summary.FinishedAt = time.Time{}
	assert.Equal(t, Summary{}, summary)
	assert.Len(t, f.marketplace.filters, 1)
	assert.Empty(t, f.core.calls)
	assert.Empty(t, f.marketplace.initCalls)
	assert.Empty(t, f.shippers.calls)
	assert.Empty(t, f.clock.sleeps)
}

func TestReconciler_FailuresDoNotAbortTick(t *testing.T) {
	f := newFixture()
	f.marketplace.orders = []order.MarketplaceOrder{
		expressOrder(1, 101, "SN-A"),
		expressOrder(2, 102, "SN-B"),
		expressOrder(3, 103, "SN-C"),
		expressOrder(4, 104, "SN-D"),
		expressOrder(5, 105, "SN-E"),
		expressOrder(6, 0, "SN-F"),
		expressOrder(7, 107, "SN-G"),
	}
	f.core.orders[101] = sapoOrder(101, "T1", time.Hour)
	f.core.orders[102] = sapoOrder(102, "T2", time.Hour)
	f.core.orders[103] = sapoOrder(103, "", time.Hour)
	f.core.orders[104] = sapoOrder(104, "", time.Hour)
	f.core.orders[105] = sapoOrder(105, "", time.Hour)
	f.shippers.errs["SN-A"] = integration.ErrRemoteConflict
	f.marketplace.inits[3] = pickupFor(10925, 1, "")
	f.marketplace.results[3] = order.ConfirmResult{Failures: []order.ConfirmFailure{{OrderID: 3, Error: "order status changed"}}}
	f.marketplace.inits[5] = pickupFor(10925, 1, "77")

	core, logs := observer.New(zapcore.InfoLevel)
	summary, err := f.reconciler(DefaultConfig(), zap.New(core)).Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 2, summary.Prepared)
	assert.Equal(t, 3, summary.Unprepared)
	assert.Equal(t, 2, summary.Skipped, "unlinked order and missing Sapo order")
	assert.Equal(t, 1, summary.FindShipperSuccess)
	assert.Equal(t, 1, summary.FindShipperFailed)
	assert.Equal(t, 1, summary.PrepareSuccess)
	assert.Equal(t, 2, summary.PrepareFailed, "confirm rejected and no shop in init")
	assert.Len(t, f.clock.sleeps, 4)

	failed := logs.FilterMessage("Find shipper failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "REMOTE_CONFLICT", failed[0].ContextMap()["error_code"])
	assert.Equal(t, 1, logs.FilterMessage("Express reconcile finished").Len())
}

func TestReconciler_LocationFilter(t *testing.T) {
	f := newFixture()
	f.marketplace.orders = []order.MarketplaceOrder{expressOrder(1, 101, "SN-A"), expressOrder(2, 102, "SN-B")}
	f.core.orders[101] = sapoOrder(101, "T1", time.Hour)
	other := sapoOrder(102, "T2", time.Hour)
	other.LocationID = 548744
	f.core.orders[102] = other

	cfg := DefaultConfig()
	cfg.LocationID = 241737
	summary, err := f.reconciler(cfg, nil).Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Prepared)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, []redispatch{{10925, "SN-A"}}, f.shippers.calls)
}

func TestReconciler_AuthLostRetriesOnce(t *testing.T) {
	f := newFixture()
	f.marketplace.listErrs = []error{integration.ErrAuthLost}
	f.marketplace.orders = []order.MarketplaceOrder{expressOrder(1, 101, "SN-A")}
	f.core.orders[101] = sapoOrder(101, "T1", time.Hour)

	summary, err := f.reconciler(DefaultConfig(), nil).Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, []integration.SessionKind{integration.SessionMarketplace}, f.sessions.kinds)
	assert.Len(t, f.marketplace.filters, 2)
	assert.Equal(t, 1, summary.FindShipperSuccess)
}

func TestReconciler_AuthLostAndLoginPending(t *testing.T) {
	f := newFixture()
	f.marketplace.listErrs = []error{integration.ErrAuthLost}
	f.sessions.err = integration.ErrAuthTimeout

	_, err := f.reconciler(DefaultConfig(), nil).Run(context.Background(), 0)
	assert.ErrorIs(t, err, integration.ErrAuthTimeout)
	assert.Len(t, f.marketplace.filters, 1, "the call is not retried without a session")
}

func TestReconciler_ListFailure(t *testing.T) {
	f := newFixture()
	f.marketplace.listErrs = []error{integration.ErrRemoteUnavailable}

	_, err := f.reconciler(DefaultConfig(), nil).Run(context.Background(), 0)
	assert.ErrorIs(t, err, integration.ErrRemoteUnavailable)
	assert.Empty(t, f.sessions.kinds)
}

func TestReconciler_SoftDeadlineDefersRemainingOrders(t *testing.T) {
	f := newFixture()
	f.marketplace.orders = []order.MarketplaceOrder{
		expressOrder(1, 101, "SN-A"),
		expressOrder(2, 102, "SN-B"),
		expressOrder(3, 103, "SN-C"),
		expressOrder(4, 104, "SN-D"),
	}
	f.core.orders[101] = sapoOrder(101, "T1", time.Hour)
	f.core.orders[102] = sapoOrder(102, "T2", time.Hour)
	f.core.orders[103] = sapoOrder(103, "T3", time.Hour)
	f.core.orders[104] = sapoOrder(104, "", time.Hour)

	// calls at +0s and +2s fit; the third would start at +4s
	r := f.reconciler(DefaultConfig(), nil)
	summary, err := r.run(context.Background(), 0, testNow.Add(3*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Prepared)
	assert.Equal(t, 1, summary.Unprepared)
	assert.Equal(t, 2, summary.FindShipperSuccess)
	assert.Equal(t, 2, summary.Deferred)
	assert.Zero(t, summary.PrepareSuccess+summary.PrepareFailed)
	assert.Empty(t, f.marketplace.initCalls)
}

func TestReconciler_RunTick(t *testing.T) {
	f := newFixture()
	f.marketplace.listErrs = []error{errors.New("boom")}
	r := f.reconciler(DefaultConfig(), nil)

	assert.Error(t, r.RunTick(context.Background(), testNow.Add(time.Minute)))
	assert.NoError(t, r.RunTick(context.Background(), testNow.Add(time.Minute)))
}

func TestReconciler_RunsDoNotOverlap(t *testing.T) {
	f := newFixture()
	r := f.reconciler(DefaultConfig(), nil)

	r.runMu.Lock()
	_, err := r.Run(context.Background(), 0)
	r.runMu.Unlock()

	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, f.marketplace.filters)
}
