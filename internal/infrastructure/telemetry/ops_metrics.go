package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when an instrument set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// Metric attribute keys. Span keys live in tracing.go.
const (
	MetricSession = attribute.Key("session")
	MetricOutcome = attribute.Key("outcome")
	MetricReason  = attribute.Key("reason")
	MetricAction  = attribute.Key("action")
)

// Login outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// OpsMetrics holds the instruments recorded by the session manager,
// the express reconciler and the promotion catalogue.
// A nil *OpsMetrics is valid and records nothing.
type OpsMetrics struct {
	logins           *Counter
	loginDuration    *Histogram
	invalidations    *Counter
	authRetries      *Counter
	expressOrders    *Counter
	expressRuns      *Counter
	expressDuration  *Histogram
	promotionRefresh *Counter
}

// LoginDurationBuckets covers browser logins, which take tens of seconds (seconds)
var LoginDurationBuckets = []float64{5, 10, 20, 30, 45, 60, 90, 120, 180}

// NewOpsMetrics creates the instrument set on meter
func NewOpsMetrics(meter metric.Meter) (*OpsMetrics, error) {
	b, err := NewInstruments(meter)
	if err != nil {
		return nil, err
	}
	m := &OpsMetrics{
		logins:        b.Counter("sapo_login_total", "Browser logins by session and outcome", "{logins}"),
		loginDuration: b.Seconds("sapo_login_duration_seconds", "Wall time of a browser login", LoginDurationBuckets...),
		invalidations: b.Counter("sapo_session_invalidations_total", "Sessions marked invalid", "{invalidations}"),
		authRetries:   b.Counter("sapo_auth_retries_total", "Requests retried after an authentication failure", "{retries}"),
		expressOrders: b.Counter("express_orders_total", "Express orders handled by action and outcome", "{orders}"),
		expressRuns:   b.Counter("express_runs_total", "Reconciler runs by outcome", "{runs}"),
		expressDuration: b.Seconds("express_run_duration_seconds", "Wall time of one reconciler run",
			1, 5, 15, 30, 60, 120, 240, 300),
		promotionRefresh: b.Counter("promotion_refresh_total", "Promotion catalogue refreshes by outcome", "{refreshes}"),
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordLogin records one finished browser login
func (m *OpsMetrics) RecordLogin(ctx context.Context, session, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{MetricSession.String(session), MetricOutcome.String(outcome)}
	m.logins.Inc(ctx, attrs...)
	m.loginDuration.Observe(ctx, d, attrs...)
}

// RecordInvalidation records a session being marked invalid
func (m *OpsMetrics) RecordInvalidation(ctx context.Context, session, reason string) {
	if m == nil {
		return
	}
	m.invalidations.Inc(ctx, MetricSession.String(session), MetricReason.String(reason))
}

// RecordAuthRetry records a request retried after an auth failure
func (m *OpsMetrics) RecordAuthRetry(ctx context.Context, session string) {
	if m == nil {
		return
	}
	m.authRetries.Inc(ctx, MetricSession.String(session))
}

// RecordExpressOrders adds n orders for an action ("find_shipper" or "prepare")
func (m *OpsMetrics) RecordExpressOrders(ctx context.Context, action, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expressOrders.Add(ctx, int64(n), MetricAction.String(action), MetricOutcome.String(outcome))
}

// RecordExpressRun records one reconciler run
func (m *OpsMetrics) RecordExpressRun(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.expressRuns.Inc(ctx, MetricOutcome.String(outcome))
	m.expressDuration.Observe(ctx, d, MetricOutcome.String(outcome))
}

// RecordPromotionRefresh records one catalogue refresh
func (m *OpsMetrics) RecordPromotionRefresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.promotionRefresh.Inc(ctx, MetricOutcome.String(outcome))
}
