package sapo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/infrastructure/telemetry"
)

// DefaultSentinel must appear in a short 200 body for it to count as a real response
const DefaultSentinel = "{"

// Request is one call through an authenticated session
type Request struct {
	Method   string
	URL      string
	Query    url.Values
	Body     any // JSON-encoded when non-nil
	Headers  map[string]string
	Sentinel string // overrides DefaultSentinel
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrRemoteInvalidResponse, err)
	}
	return nil
}

// Do sends req with the credentials of kind. Auth failures (401, 403 or a
// short 200 body) invalidate the session, re-ensure it and retry up to
// AuthRetries times with exponential backoff; after that ErrAuthLost is
// returned. Any other failure is returned immediately.
func (m *Manager) Do(ctx context.Context, kind integration.SessionKind, req *Request) (*Response, error) {
	payload, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	path := pathOf(req.URL)

	ctx, span := telemetry.StartClientSpan(ctx, "sapo", kind.String(),
		telemetry.AttrSession.String(kind.String()),
		telemetry.AttrHTTPMethod.String(req.Method),
		telemetry.AttrHTTPPath.String(path),
	)
	defer span.End()

	b := m.newBackOff()
	for attempt := 0; ; attempt++ {
		creds, gen, err := m.Credentials(ctx, kind)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		resp, err := m.send(ctx, creds, req, payload)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		span.SetAttributes(telemetry.AttrHTTPStatus.Int(resp.StatusCode))

		reason := m.authFailure(resp, req)
		if reason == "" {
			if err := StatusError(resp.StatusCode, resp.Body); err != nil {
				telemetry.RecordError(span, err)
				return resp, err
			}
			return resp, nil
		}

		if reason == ReasonShortBody {
			m.logger.Warn("Short response body treated as auth failure",
				zap.String("session", kind.String()),
				zap.String("method", req.Method),
				zap.String("path", path),
				zap.Int("body_len", len(resp.Body)),
				zap.Int("threshold", m.cfg.ShortBodyThreshold),
			)
		}
		m.invalidate(ctx, kind, gen, reason)

		if attempt >= m.cfg.AuthRetries {
			err := fmt.Errorf("%w: %s %s rejected after %d retries (%s)",
				integration.ErrAuthLost, req.Method, path, attempt, reason)
			telemetry.RecordError(span, err)
			return nil, err
		}

		wait := b.NextBackOff()
		m.metrics.RecordAuthRetry(ctx, kind.String())
		span.AddEvent("auth_retry", trace.WithAttributes(
			telemetry.AttrAttempt.Int(attempt+1),
			telemetry.AttrRetryReason.String(reason),
		))
		m.logger.Info("Retrying request after auth failure",
			zap.String("session", kind.String()),
			zap.String("path", path),
			zap.String("reason", reason),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
		)
		if err := m.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (m *Manager) authFailure(resp *Response, req *Request) string {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ReasonHTTP401
	case http.StatusForbidden:
		return ReasonHTTP403
	case http.StatusOK:
		if m.cfg.ShortBodyThreshold <= 0 || len(resp.Body) >= m.cfg.ShortBodyThreshold {
			return ""
		}
		sentinel := req.Sentinel
		if sentinel == "" {
			sentinel = DefaultSentinel
		}
		if !bytes.Contains(resp.Body, []byte(sentinel)) {
			return ReasonShortBody
		}
	}
	return ""
}

func (m *Manager) send(ctx context.Context, creds integration.Credentials, req *Request, payload []byte) (*Response, error) {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("sapo: build request: %w", err)
	}
	for k, v := range creds.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", integration.ErrRemoteUnavailable, req.Method, pathOf(req.URL), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", integration.ErrRemoteUnavailable, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// newBackOff yields RetryBackoff, then doubles up to MaxBackoff
func (m *Manager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = m.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func encodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sapo: encode request body: %w", err)
	}
	return data, nil
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
