package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/interfaces/http/handler"
	"github.com/giadungplus/opscore/internal/interfaces/http/middleware"
)

// Handlers groups the operator endpoint handlers
type Handlers struct {
	Health    *handler.HealthHandler
	Session   *handler.SessionHandler
	Express   *handler.ExpressHandler
	Promotion *handler.PromotionHandler
	Auth      *handler.AuthHandler // nil when operator auth is disabled
}

// Options tunes route registration
type Options struct {
	// RequestTimeout bounds every API call except manual reconcile runs
	RequestTimeout time.Duration
	// Tokens validates operator bearer tokens on every /api/v1 group; nil disables auth
	Tokens middleware.TokenValidator
}

// RegisterOperatorRoutes wires the operator endpoints onto engine.
// Every /api/v1 group except token issuance requires an operator token.
// Routes that call Sapo are gated on session readiness so a running login
// answers 503 or redirects to the loading page instead of blocking.
func RegisterOperatorRoutes(engine *gin.Engine, h Handlers, sessions middleware.SessionChecker, opts Options) {
	engine.GET("/health", h.Health.Health)
	engine.GET(middleware.LoadingPath, h.Health.Loading)

	core := middleware.RequireSessions(sessions, integration.SessionCore)
	both := middleware.RequireSessions(sessions, integration.SessionCore, integration.SessionMarketplace)
	timeout := middleware.Timeout(opts.RequestTimeout)
	operator := middleware.RequireOperator(opts.Tokens)

	var groups []*group
	if h.Auth != nil {
		login := newGroup("/auth", timeout)
		login.post("/token", h.Auth.Token)
		groups = append(groups, login)
	}

	session := newGroup("/session", operator, timeout)
	session.get("/status", h.Session.Status)
	session.post("/invalidate", h.Session.Invalidate)

	// manual runs may walk the whole queue, so no request timeout
	express := newGroup("/express", operator)
	express.post("/run", both, h.Express.Run)

	promotions := newGroup("/promotions", operator, timeout)
	promotions.get("", h.Promotion.List)
	promotions.post("/refresh", core, h.Promotion.Refresh)

	orders := newGroup("/orders", operator, timeout)
	orders.get("/:id/gifts", core, h.Promotion.OrderGifts)

	mount(engine, append(groups, session, express, promotions, orders)...)
}
