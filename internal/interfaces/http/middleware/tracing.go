// Package middleware provides HTTP middleware for the operator endpoints.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxRequestIDLength caps request IDs taken from an inbound header
const maxRequestIDLength = 128

// gateOutcomeKey holds why RequireSessions stopped a request
const gateOutcomeKey = "session_gate"

// Tracing starts a server span per request, named "METHOD route", e.g.
// "GET /api/v1/orders/:id/gifts". Disabled tracing yields a pass-through.
func Tracing(serviceName string, enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return otelgin.Middleware(serviceName)
}

// AnnotateSpan tags the server span with the request ID and, once the
// handler chain returns, with the session gate outcome and error status.
// It must run after Tracing and the request ID middleware.
func AnnotateSpan() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			c.Next()
			return
		}
		if id := RequestIDOf(c); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}

		c.Next()

		if outcome := c.GetString(gateOutcomeKey); outcome != "" {
			span.SetAttributes(attribute.String("opscore.session_gate", outcome))
		}
		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			return
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		switch {
		case c.GetString(gateOutcomeKey) == gateLoginInProgress:
			// Ok is final, so otelgin cannot mark this retry hint as an error
			span.SetStatus(codes.Ok, "")
		case status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		if len(c.Errors) > 0 {
			span.SetAttributes(attribute.StringSlice("gin.errors", c.Errors.Errors()))
		}
	}
}

// RequestIDOf returns the request ID set by the logger middleware, falling
// back to a truncated X-Request-ID header.
func RequestIDOf(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	id := c.GetHeader("X-Request-ID")
	if len(id) > maxRequestIDLength {
		id = id[:maxRequestIDLength]
	}
	return id
}
