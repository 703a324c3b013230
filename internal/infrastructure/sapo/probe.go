package sapo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

// Prober checks whether stored credentials are still accepted by Sapo
type Prober interface {
	Probe(ctx context.Context, kind integration.SessionKind, creds integration.Credentials) error
}

// HTTPProber probes with one cheap authenticated GET per session kind:
// Core lists a single order, Marketplace reads the staff scopes.
type HTTPProber struct {
	httpClient     *http.Client
	coreBaseURL    string
	marketBaseURL  string
	staffID        string
	minCoreBodyLen int
}

var _ Prober = (*HTTPProber)(nil)

// NewHTTPProber creates a prober. minCoreBodyLen is the smallest Core body accepted as a real order page.
func NewHTTPProber(client *http.Client, coreBaseURL, marketBaseURL, staffID string, minCoreBodyLen int) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{
		httpClient:     client,
		coreBaseURL:    strings.TrimSuffix(coreBaseURL, "/"),
		marketBaseURL:  strings.TrimSuffix(marketBaseURL, "/"),
		staffID:        staffID,
		minCoreBodyLen: minCoreBodyLen,
	}
}

// Probe returns nil when creds are accepted for kind
func (p *HTTPProber) Probe(ctx context.Context, kind integration.SessionKind, creds integration.Credentials) error {
	var (
		target  string
		headers = map[string]string{}
	)
	switch kind {
	case integration.SessionCore:
		target = p.coreBaseURL + "/orders.json?limit=1"
		for k, v := range coreDefaultHeaders {
			headers[k] = v
		}
	case integration.SessionMarketplace:
		target = fmt.Sprintf("%s/api/staffs/%s/scopes", p.marketBaseURL, p.staffID)
	default:
		return fmt.Errorf("sapo: unknown session kind %q", kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("sapo: build probe request: %w", err)
	}
	for k, v := range creds.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: probe %s: %v", integration.ErrRemoteUnavailable, kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: probe %s: read body: %v", integration.ErrRemoteUnavailable, kind, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: probe %s returned HTTP %d", integration.ErrAuthFailed, kind, resp.StatusCode)
	}

	switch kind {
	case integration.SessionCore:
		if len(body) < p.minCoreBodyLen {
			return fmt.Errorf("%w: probe core body too short (%d bytes)", integration.ErrAuthFailed, len(body))
		}
	case integration.SessionMarketplace:
		if !strings.Contains(string(body), "sapo_account_id") {
			return fmt.Errorf("%w: probe marketplace scopes missing sapo_account_id", integration.ErrAuthFailed)
		}
	}
	return nil
}
