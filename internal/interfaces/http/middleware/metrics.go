package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/giadungplus/opscore/internal/infrastructure/telemetry"
)

// httpDurationBuckets covers fast status calls up to manual reconcile runs
var httpDurationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// httpMetrics holds the HTTP instruments.
type httpMetrics struct {
	requests *telemetry.Counter
	latency  *telemetry.Histogram
	inFlight metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	b, err := telemetry.NewInstruments(meter)
	if err != nil {
		return nil, err
	}
	m := &httpMetrics{
		requests: b.Counter("http_server_request_total", "HTTP requests by route and status class", "{request}"),
		latency:  b.Seconds("http_server_request_duration_seconds", "HTTP request latency", httpDurationBuckets...),
		inFlight: b.InFlight("http_server_active_requests", "HTTP requests being served", "{request}"),
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// HTTPMetrics returns a middleware recording request count, latency and
// in-flight requests. A nil or disabled provider yields a pass-through.
func HTTPMetrics(mp *telemetry.MeterProvider) gin.HandlerFunc {
	if mp == nil || !mp.IsEnabled() {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return HTTPMetricsWithMeter(mp.Meter("http.server"))
}

// HTTPMetricsWithMeter returns HTTP metrics middleware using an existing meter.
func HTTPMetricsWithMeter(meter metric.Meter) gin.HandlerFunc {
	metrics, err := newHTTPMetrics(meter)
	if err != nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		metrics.inFlight.Add(ctx, 1)
		c.Next()
		metrics.inFlight.Add(ctx, -1)

		recordHTTPMetrics(ctx, metrics, c.Request.Method, getRoutePattern(c), c.Writer.Status(), time.Since(start))
	}
}

func recordHTTPMetrics(ctx context.Context, metrics *httpMetrics, method, route string, status int, d time.Duration) {
	base := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	}
	metrics.requests.Inc(ctx, append(base, attribute.String("http.status_class", StatusClass(status)))...)
	metrics.latency.Observe(ctx, d, base...)
}

// getRoutePattern returns the matched route, not the raw path, to keep
// attribute cardinality bounded.
func getRoutePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}

// StatusClass groups a status code into 2xx, 3xx, 4xx or 5xx
func StatusClass(status int) string {
	if status < 200 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
