package express

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/order"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
	"github.com/giadungplus/opscore/internal/infrastructure/telemetry"
)

// ErrRunInProgress is returned when a reconcile run is requested while another is running
var ErrRunInProgress = errors.New("express: reconcile run already in progress")

// MarketplaceAPI is the part of the Sapo Marketplace facade the reconciler uses
type MarketplaceAPI interface {
	ListOrders(ctx context.Context, filter sapo.MarketplaceOrderFilter) (*sapo.MarketplaceOrderPage, error)
	InitConfirm(ctx context.Context, orderIDs []int64) (*sapo.InitConfirmResult, error)
	ConfirmOrders(ctx context.Context, items []order.ConfirmItem) (order.ConfirmResult, error)
}

// CoreAPI is the part of the Sapo Core facade the reconciler uses
type CoreAPI interface {
	GetOrder(ctx context.Context, orderID int64) (*order.Order, error)
}

// ShipperFinder asks the marketplace for a new rider on a prepared order
type ShipperFinder interface {
	Redispatch(ctx context.Context, connectionID int64, orderSN string) error
}

// SessionEnsurer brings a Sapo session back after authentication was lost
type SessionEnsurer interface {
	Ensure(ctx context.Context, kind integration.SessionKind) error
}

// Config holds reconciler settings
type Config struct {
	Limit      int           // orders fetched per run
	MinAge     time.Duration // unprepared orders older than this get a pickup slot
	CallDelay  time.Duration // pause between remote calls
	CarrierIDs []string      // server-side carrier filter
	LocationID int64         // 0 processes every location
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Limit:     50,
		MinAge:    50 * time.Minute,
		CallDelay: 2 * time.Second,
	}
}

// Summary counts what one run did
type Summary struct {
	RunID              string    `json:"run_id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Total              int       `json:"total"`
	Prepared           int       `json:"prepared"`
	Unprepared         int       `json:"unprepared"`
	Skipped            int       `json:"skipped"`
	FindShipperSuccess int       `json:"find_shipper_success"`
	FindShipperFailed  int       `json:"find_shipper_failed"`
	PrepareSuccess     int       `json:"prepare_success"`
	PrepareFailed      int       `json:"prepare_failed"`
	Deferred           int       `json:"deferred"`
}

func (s Summary) fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", s.RunID),
		zap.Int("total", s.Total),
		zap.Int("prepared", s.Prepared),
		zap.Int("unprepared", s.Unprepared),
		zap.Int("skipped", s.Skipped),
		zap.Int("find_shipper_success", s.FindShipperSuccess),
		zap.Int("find_shipper_failed", s.FindShipperFailed),
		zap.Int("prepare_success", s.PrepareSuccess),
		zap.Int("prepare_failed", s.PrepareFailed),
		zap.Int("deferred", s.Deferred),
	}
}

type candidate struct {
	mp   order.MarketplaceOrder
	core *order.Order
}

// Reconciler keeps express orders moving: prepared orders get a new rider,
// stale unprepared orders get a pickup slot. Runs never overlap.
type Reconciler struct {
	config      Config
	marketplace MarketplaceAPI
	core        CoreAPI
	shippers    ShipperFinder
	sessions    SessionEnsurer
	metrics     *telemetry.OpsMetrics
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	runMu sync.Mutex
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithMetrics records run outcomes
func WithMetrics(metrics *telemetry.OpsMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = metrics
	}
}

// WithClock replaces time.Now and the inter-call sleep
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewReconciler creates a reconciler
func NewReconciler(
	config Config,
	marketplace MarketplaceAPI,
	core CoreAPI,
	shippers ShipperFinder,
	sessions SessionEnsurer,
	logger *zap.Logger,
	opts ...Option,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.Limit <= 0 {
		config.Limit = defaults.Limit
	}
	if config.MinAge <= 0 {
		config.MinAge = defaults.MinAge
	}
	r := &Reconciler{
		config:      config,
		marketplace: marketplace,
		core:        core,
		shippers:    shippers,
		sessions:    sessions,
		logger:      logger.Named("express"),
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reconciles up to limit express orders. A limit of zero or less uses the
// configured default. The run has no deadline.
func (r *Reconciler) Run(ctx context.Context, limit int) (Summary, error) {
	return r.run(ctx, limit, time.Time{})
}

// RunTick runs with the configured limit, deferring orders not reached by deadline
func (r *Reconciler) RunTick(ctx context.Context, deadline time.Time) error {
	_, err := r.run(ctx, 0, deadline)
	return err
}

func (r *Reconciler) run(ctx context.Context, limit int, deadline time.Time) (Summary, error) {
	if !r.runMu.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer r.runMu.Unlock()

	if limit <= 0 {
		limit = r.config.Limit
	}
	summary := Summary{RunID: uuid.NewString(), StartedAt: r.now()}
	logger := r.logger.With(zap.String("run_id", summary.RunID))

	ctx, span := telemetry.StartSpan(ctx, "express.reconcile",
		telemetry.AttrRunID.String(summary.RunID),
		telemetry.AttrLimit.Int(limit),
	)
	defer span.End()

	logger.Info("Express reconcile started", zap.Int("limit", limit), zap.Time("deadline", deadline))

	err := r.reconcile(ctx, logger, limit, deadline, &summary)
	summary.FinishedAt = r.now()
	duration := summary.FinishedAt.Sub(summary.StartedAt)

	r.metrics.RecordExpressOrders(ctx, "find_shipper", "success", summary.FindShipperSuccess)
	r.metrics.RecordExpressOrders(ctx, "find_shipper", "failed", summary.FindShipperFailed)
	r.metrics.RecordExpressOrders(ctx, "prepare", "success", summary.PrepareSuccess)
	r.metrics.RecordExpressOrders(ctx, "prepare", "failed", summary.PrepareFailed)
	r.metrics.RecordExpressOrders(ctx, "skip", "skipped", summary.Skipped)
	r.metrics.RecordExpressOrders(ctx, "defer", "deferred", summary.Deferred)
	span.SetAttributes(telemetry.AttrOrdersCount.Int(summary.Total))

	if err != nil {
		telemetry.RecordError(span, err)
		r.metrics.RecordExpressRun(ctx, "error", duration)
		logger.Error("Express reconcile aborted", append(summary.fields(), zap.Error(err))...)
		return summary, err
	}
	r.metrics.RecordExpressRun(ctx, "success", duration)
	logger.Info("Express reconcile finished", append(summary.fields(), zap.Duration("duration", duration))...)
	return summary, nil
}

func (r *Reconciler) reconcile(ctx context.Context, logger *zap.Logger, limit int, deadline time.Time, summary *Summary) error {
	orders, err := r.listExpress(ctx, limit)
	if err != nil {
		return err
	}
	summary.Total = len(orders)
	if len(orders) == 0 {
		return nil
	}

	var prepared, unprepared []candidate
	for i, mp := range orders {
		if r.pastDeadline(deadline) {
			summary.Deferred += len(orders) - i
			logger.Warn("Soft deadline reached while classifying", zap.Int("deferred", summary.Deferred))
			break
		}
		c, class := r.classify(ctx, logger, mp)
		switch class {
		case ClassPrepared:
			prepared = append(prepared, c)
		case ClassNeedsPrepare:
			unprepared = append(unprepared, c)
		default:
			summary.Skipped++
		}
	}
	summary.Prepared = len(prepared)
	summary.Unprepared = len(unprepared)

	calls := 0
	for i, c := range prepared {
		if err := r.pace(ctx, &calls); err != nil {
			return err
		}
		if r.pastDeadline(deadline) {
			summary.Deferred += len(prepared) - i + len(unprepared)
			logger.Warn("Soft deadline reached, leaving orders for the next tick", zap.Int("deferred", summary.Deferred))
			return nil
		}
		if err := r.findShipper(ctx, c); err != nil {
			summary.FindShipperFailed++
			logger.Warn("Find shipper failed", orderFields(c, err)...)
			continue
		}
		summary.FindShipperSuccess++
		logger.Info("Find shipper succeeded", orderFields(c, nil)...)
	}

	for i, c := range unprepared {
		if err := r.pace(ctx, &calls); err != nil {
			return err
		}
		if r.pastDeadline(deadline) {
			summary.Deferred += len(unprepared) - i
			logger.Warn("Soft deadline reached, leaving orders for the next tick", zap.Int("deferred", summary.Deferred))
			return nil
		}
		if err := r.prepare(ctx, c); err != nil {
			summary.PrepareFailed++
			logger.Warn("Prepare failed", orderFields(c, err)...)
			continue
		}
		summary.PrepareSuccess++
		logger.Info("Prepare succeeded", orderFields(c, nil)...)
	}
	return nil
}

// listExpress fetches pending-ship orders and keeps those with an express carrier
func (r *Reconciler) listExpress(ctx context.Context, limit int) ([]order.MarketplaceOrder, error) {
	filter := sapo.MarketplaceOrderFilter{
		Page:               1,
		Limit:              limit,
		Statuses:           order.PendingShipStatuses(),
		ShippingCarrierIDs: r.config.CarrierIDs,
		SortBy:             "ISSUED_AT",
		OrderBy:            "desc",
	}
	var page *sapo.MarketplaceOrderPage
	err := r.withSession(ctx, integration.SessionMarketplace, func(ctx context.Context) error {
		var err error
		page, err = r.marketplace.ListOrders(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list express orders: %w", err)
	}

	orders := make([]order.MarketplaceOrder, 0, len(page.Orders))
	for _, o := range page.Orders {
		if o.IsExpress() {
			orders = append(orders, o)
		}
	}
	if dropped := len(page.Orders) - len(orders); dropped > 0 {
		r.logger.Debug("Dropped non-express orders", zap.Int("count", dropped))
	}
	return orders, nil
}

// classify joins a marketplace order with its Sapo order. Orders that cannot
// be joined, or belong to another location, are skipped.
func (r *Reconciler) classify(ctx context.Context, logger *zap.Logger, mp order.MarketplaceOrder) (candidate, Class) {
	c := candidate{mp: mp}
	if mp.SapoOrderID == 0 {
		logger.Debug("Order not linked to Sapo, skipping", zap.String("order_sn", mp.ChannelOrderNumber))
		return c, ClassSkip
	}

	err := r.withSession(ctx, integration.SessionCore, func(ctx context.Context) error {
		var err error
		c.core, err = r.core.GetOrder(ctx, mp.SapoOrderID)
		return err
	})
	if err != nil {
		logger.Warn("Cannot load Sapo order, skipping",
			zap.String("order_sn", mp.ChannelOrderNumber),
			zap.Int64("sapo_order_id", mp.SapoOrderID),
			zap.Error(err),
		)
		return c, ClassSkip
	}
	if r.config.LocationID != 0 && c.core.LocationID != r.config.LocationID {
		return c, ClassSkip
	}
	return c, Classify(c.core, r.now(), r.config.MinAge)
}

func (r *Reconciler) findShipper(ctx context.Context, c candidate) error {
	if c.mp.ChannelOrderNumber == "" {
		return fmt.Errorf("%w: order %d has no channel order number", integration.ErrRemoteConflict, c.mp.ID)
	}
	if c.mp.ConnectionID == 0 {
		return fmt.Errorf("%w: order %s has no connection", integration.ErrShopNotFound, c.mp.ChannelOrderNumber)
	}
	return r.shippers.Redispatch(ctx, c.mp.ConnectionID, c.mp.ChannelOrderNumber)
}

// prepare confirms a pickup for an unprepared order using the first pickup
// address and slot the marketplace offers
func (r *Reconciler) prepare(ctx context.Context, c candidate) error {
	var init *sapo.InitConfirmResult
	err := r.withSession(ctx, integration.SessionMarketplace, func(ctx context.Context) error {
		var err error
		init, err = r.marketplace.InitConfirm(ctx, []int64{c.mp.ID})
		return err
	})
	if err != nil {
		return fmt.Errorf("init confirm: %w", err)
	}
	pickup, ok := init.First()
	if !ok {
		return fmt.Errorf("%w: init confirm offered no shop for order %d", integration.ErrRemoteConflict, c.mp.ID)
	}

	var result order.ConfirmResult
	err = r.withSession(ctx, integration.SessionMarketplace, func(ctx context.Context) error {
		var err error
		result, err = r.marketplace.ConfirmOrders(ctx, []order.ConfirmItem{pickup.ConfirmItem(c.mp.ID)})
		return err
	})
	if err != nil {
		return fmt.Errorf("confirm orders: %w", err)
	}
	if !result.OK() {
		return fmt.Errorf("%w: confirm rejected: %s", integration.ErrRemoteConflict, result.FirstError())
	}
	return nil
}

// withSession runs call and, if the session manager gave up on authentication,
// waits for the session to come back and retries the call once
func (r *Reconciler) withSession(ctx context.Context, kind integration.SessionKind, call func(ctx context.Context) error) error {
	err := call(ctx)
	if !errors.Is(err, integration.ErrAuthLost) || r.sessions == nil {
		return err
	}
	r.logger.Warn("Authentication lost, waiting for session", zap.String("session", kind.String()))
	if err := r.sessions.Ensure(ctx, kind); err != nil {
		return err
	}
	return call(ctx)
}

// pace waits between remote calls; the first call of a run goes out at once
func (r *Reconciler) pace(ctx context.Context, calls *int) error {
	defer func() { *calls++ }()
	if *calls == 0 || r.config.CallDelay <= 0 {
		return nil
	}
	return r.sleep(ctx, r.config.CallDelay)
}

func (r *Reconciler) pastDeadline(deadline time.Time) bool {
	return !deadline.IsZero() && !r.now().Before(deadline)
}

func orderFields(c candidate, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("order_sn", c.mp.ChannelOrderNumber),
		zap.Int64("marketplace_order_id", c.mp.ID),
		zap.Int64("connection_id", c.mp.ConnectionID),
	}
	if c.core != nil {
		fields = append(fields, zap.String("order_code", c.core.Code))
	}
	if err != nil {
		fields = append(fields, zap.Error(err), zap.String("error_code", integration.ErrorCode(err)))
	}
	return fields
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
