package sapo

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

// maxResponseSize is the maximum response size read from Sapo (10MB)
const maxResponseSize = 10 * 1024 * 1024

// Reasons a session was invalidated, used in logs and metrics
const (
	ReasonHTTP401   = "http_401"
	ReasonHTTP403   = "http_403"
	ReasonShortBody = "short_body"
	ReasonManual    = "manual"
	ReasonExpired   = "expired"
)

// StatusError maps a non-2xx, non-auth HTTP status to the integration taxonomy.
func StatusError(status int, body []byte) error {
	var sentinel error
	switch {
	case status == http.StatusNotFound:
		sentinel = integration.ErrRemoteNotFound
	case status == http.StatusTooManyRequests:
		sentinel = integration.ErrRemoteRateLimited
	case status >= 500:
		sentinel = integration.ErrRemoteUnavailable
	case status >= 400:
		// 400, 409 and 422 all mean the remote refused what was asked
		sentinel = integration.ErrRemoteConflict
	default:
		return nil
	}
	return fmt.Errorf("%w: HTTP %d: %s", sentinel, status, snippet(body))
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
