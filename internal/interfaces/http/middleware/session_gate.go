package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
)

// LoadingPath serves the page browsers wait on while a Sapo login runs
const LoadingPath = "/loading"

// RetryAfterSeconds is the Retry-After hint sent with AUTH_IN_PROGRESS
const RetryAfterSeconds = 2

// session gate outcomes recorded for AnnotateSpan
const (
	gateLoginInProgress = "login_in_progress"
	gateLoginFailed     = "login_failed"
)

// SessionChecker reports without blocking whether a Sapo session can serve
// a request. Implementations start a login when none is usable.
type SessionChecker interface {
	TryEnsure(ctx context.Context, kind integration.SessionKind) integration.EnsureResult
}

// RequireSessions lets the request through only when every listed session is
// ready. While a login runs, API clients get 503 with Retry-After and browsers
// are redirected to the loading page.
func RequireSessions(checker SessionChecker, kinds ...integration.SessionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, kind := range kinds {
			res := checker.TryEnsure(c.Request.Context(), kind)
			switch res.Status {
			case integration.EnsureReady:
				continue
			case integration.EnsureInProgress:
				AbortAuthInProgress(c)
				return
			default:
				err := res.Err
				if err == nil {
					err = integration.ErrAuthFailed
				}
				c.Set(gateOutcomeKey, gateLoginFailed)
				status, resp := dto.FromError(err, RequestIDOf(c))
				c.AbortWithStatusJSON(status, resp)
				return
			}
		}
		c.Next()
	}
}

// AbortAuthInProgress answers a request that hit a running login
func AbortAuthInProgress(c *gin.Context) {
	c.Set(gateOutcomeKey, gateLoginInProgress)
	if c.Request.Method == http.MethodGet && WantsHTML(c.Request) {
		c.Redirect(http.StatusFound, LoadingPath+"?next="+url.QueryEscape(c.Request.URL.RequestURI()))
		c.Abort()
		return
	}
	c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeAuthInProgress,
		"Sapo login in progress, retry shortly",
		RequestIDOf(c),
	))
}

// WantsHTML reports whether the client prefers an HTML page over JSON
func WantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.HasPrefix(accept, "application/json")
}
