package handler

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
	"github.com/giadungplus/opscore/internal/interfaces/http/middleware"
)

var loadingPage = template.Must(template.New("loading").Parse(`<!doctype html>
<html lang="vi">
<head>
<meta charset="utf-8">
<title>Đang đăng nhập Sapo</title>
<style>body{font-family:sans-serif;text-align:center;margin-top:15vh;color:#333}</style>
</head>
<body>
<h1>Đang đăng nhập Sapo…</h1>
<p>Trang sẽ tự tải lại sau {{.Refresh}} giây.</p>
<ul>{{range .Sessions}}<li>{{.Kind}}: {{.Status}}</li>{{end}}</ul>
</body>
</html>
`))

type loadingView struct {
	Refresh  int
	Sessions []integration.EnsureResult
}

// HealthHandler serves liveness and the login waiting page
type HealthHandler struct {
	BaseHandler
	sessions  SessionService
	startedAt time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(sessions SessionService) *HealthHandler {
	return &HealthHandler{sessions: sessions, startedAt: time.Now()}
}

// Health reports process liveness. Sessions that are not ready do not make
// the process unhealthy.
func (h *HealthHandler) Health(c *gin.Context) {
	status := dto.NewSessionStatusResponse(h.sessions.Sessions())
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"sessions_ready": status.Ready,
	})
}

// Loading redirects to next once both sessions are ready and otherwise
// renders a page that reloads itself, starting a login if none runs.
func (h *HealthHandler) Loading(c *gin.Context) {
	next := safeNext(c.Query("next"))

	results := make([]integration.EnsureResult, 0, 2)
	ready := true
	for _, kind := range integration.AllSessionKinds() {
		res := h.sessions.TryEnsure(c.Request.Context(), kind)
		ready = ready && res.Ready()
		results = append(results, res)
	}
	if ready {
		c.Redirect(http.StatusFound, next)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Refresh", fmt.Sprintf("%d; url=%s?next=%s",
		middleware.RetryAfterSeconds, middleware.LoadingPath, url.QueryEscape(next)))
	c.Status(http.StatusOK)
	view := loadingView{Refresh: middleware.RetryAfterSeconds, Sessions: results}
	if err := loadingPage.Execute(c.Writer, view); err != nil {
		_ = c.Error(err)
	}
}

// safeNext keeps redirects on this host
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/api/v1/session/status"
	}
	return next
}
