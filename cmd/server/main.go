package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/application/express"
	"github.com/giadungplus/opscore/internal/application/promotion"
	"github.com/giadungplus/opscore/internal/infrastructure/auth"
	"github.com/giadungplus/opscore/internal/infrastructure/browser"
	"github.com/giadungplus/opscore/internal/infrastructure/cache"
	"github.com/giadungplus/opscore/internal/infrastructure/config"
	"github.com/giadungplus/opscore/internal/infrastructure/logger"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
	"github.com/giadungplus/opscore/internal/infrastructure/scheduler"
	"github.com/giadungplus/opscore/internal/infrastructure/shopee"
	"github.com/giadungplus/opscore/internal/infrastructure/telemetry"
	"github.com/giadungplus/opscore/internal/interfaces/http/handler"
	"github.com/giadungplus/opscore/internal/interfaces/http/middleware"
	"github.com/giadungplus/opscore/internal/interfaces/http/router"
)

const (
	maxBodyBytes    = 1 << 20
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ops backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	opsMetrics, err := telemetry.NewOpsMetrics(meterProvider.Meter("opscore"))
	if err != nil {
		log.Fatal("Failed to create ops metrics", zap.Error(err))
	}

	// Session stores: Redis when enabled, token files otherwise
	stores, err := cache.NewSessionStoreFactory(cfg.Redis, cfg.Sapo, cache.WithLogger(log)).CreateStores(ctx)
	if err != nil {
		log.Fatal("Failed to create session stores", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("Error closing session stores", zap.Error(err))
		}
	}()

	provider, err := browser.NewProvider(browser.Config{
		AdminURL:  cfg.Sapo.CoreBaseURL,
		LoginURL:  cfg.Sapo.LoginURL,
		Username:  cfg.Sapo.Username,
		Password:  cfg.Sapo.Password,
		RemoteURL: cfg.Browser.RemoteURL,
		Headless:  cfg.Browser.Headless,
		NoSandbox: cfg.Browser.NoSandbox,
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   cfg.Browser.Timeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to create browser login provider", zap.Error(err))
	}
	defer provider.Close()

	sessions := newSessionManager(cfg, provider, stores, opsMetrics, log)
	defer sessions.Close()
	sessions.Restore(ctx)

	core := sapo.NewCoreClient(sessions, cfg.Sapo.CoreBaseURL, log)
	marketplace := sapo.NewMarketplaceClient(sessions, cfg.Sapo.MarketplaceBaseURL, cfg.Sapo.AccountID, cfg.Sapo.ConnectionIDs, log)

	registry, err := shopee.LoadRegistry(cfg.Shopee.ShopsFile)
	if err != nil {
		log.Fatal("Failed to load Shopee shop registry", zap.Error(err))
	}
	shops := shopee.NewClients(registry, shopee.Config{
		BaseURL: cfg.Shopee.BaseURL,
		Timeout: cfg.Shopee.RequestTimeout,
	}, log)

	reconciler := express.NewReconciler(express.Config{
		Limit:      cfg.Express.Limit,
		MinAge:     cfg.Express.MinAge,
		CallDelay:  cfg.Express.CallDelay,
		CarrierIDs: cfg.Express.CarrierIDs,
		LocationID: cfg.Express.LocationID,
	}, marketplace, core, shops, sessions, log, express.WithMetrics(opsMetrics))

	var trigger *scheduler.IntervalTrigger
	if cfg.Express.Enabled {
		trigger, err = newExpressTrigger(cfg.Express, reconciler, log)
		if err != nil {
			log.Fatal("Failed to create express trigger", zap.Error(err))
		}
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start express trigger", zap.Error(err))
		}
	} else {
		log.Info("Express reconciler schedule disabled; manual runs only")
	}

	promotions := promotion.NewService(
		core,
		cache.NewPromotionFileCache(cfg.Promotion.CacheFile, log),
		cfg.Promotion.PageSize,
		log,
		promotion.WithMetrics(opsMetrics),
	)
	if _, err := promotions.Load(ctx); err != nil {
		log.Warn("Promotion catalogue not loaded; refresh required", zap.Error(err))
	}

	handlers := router.Handlers{
		Health:    handler.NewHealthHandler(sessions),
		Session:   handler.NewSessionHandler(sessions),
		Express:   handler.NewExpressHandler(reconciler),
		Promotion: handler.NewPromotionHandler(promotions),
	}
	opts := router.Options{RequestTimeout: requestTimeout}
	if cfg.Auth.Enabled {
		operators, err := auth.ParseOperators(cfg.Auth.Operators)
		if err != nil {
			log.Fatal("Failed to parse operators", zap.Error(err))
		}
		tokens := auth.NewTokenService(cfg.Auth)
		handlers.Auth = handler.NewAuthHandler(operators, tokens)
		opts.Tokens = tokens
		log.Info("Operator auth enabled", zap.Int("operators", operators.Len()))
	} else {
		log.Warn("Operator auth disabled; /api/v1 is open")
	}

	engine := newEngine(cfg, meterProvider, log)
	router.RegisterOperatorRoutes(engine, handlers, sessions, opts)

	// Create HTTP server with config
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if trigger != nil {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Warn("Express trigger did not stop cleanly", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func newSessionManager(
	cfg *config.Config,
	provider *browser.Provider,
	stores *cache.SessionStores,
	metrics *telemetry.OpsMetrics,
	log *zap.Logger,
) *sapo.Manager {
	probeClient := &http.Client{Timeout: cfg.Sapo.RequestTimeout}
	opts := []sapo.Option{
		sapo.WithTokenStore(stores.Tokens),
		sapo.WithMetrics(metrics),
		sapo.WithProber(sapo.NewHTTPProber(
			probeClient,
			cfg.Sapo.CoreBaseURL,
			cfg.Sapo.MarketplaceBaseURL,
			cfg.Sapo.StaffID,
			cfg.Sapo.ShortBodyThreshold,
		)),
	}
	if stores.Lock != nil {
		opts = append(opts, sapo.WithLoginLock(stores.Lock))
	}

	return sapo.NewManager(provider, sapo.Config{
		TokenTTL:           cfg.Sapo.TokenTTL,
		LoginWait:          cfg.Sapo.LoginWait,
		WaitPoll:           cfg.Sapo.WaitPoll,
		LoginTimeout:       cfg.Sapo.LoginTimeout,
		AuthRetries:        cfg.Sapo.AuthRetries,
		RetryBackoff:       cfg.Sapo.RetryBackoff,
		ShortBodyThreshold: cfg.Sapo.ShortBodyThreshold,
		RequestTimeout:     cfg.Sapo.RequestTimeout,
	}, log, opts...)
}

func newExpressTrigger(cfg config.ExpressConfig, job scheduler.Job, log *zap.Logger) (*scheduler.IntervalTrigger, error) {
	hours, err := scheduler.NewWorkingHours(cfg.Timezone, cfg.WeekdayStart, cfg.WeekdayEnd, cfg.SundayStart, cfg.SundayEnd)
	if err != nil {
		return nil, err
	}
	return scheduler.NewIntervalTrigger(scheduler.IntervalTriggerConfig{
		Name:           "express",
		Interval:       cfg.Interval,
		DeadlineMargin: cfg.DeadlineMargin,
		Hours:          &hours,
		RunOnStart:     true,
	}, job, log)
}

func newEngine(cfg *config.Config, meterProvider *telemetry.MeterProvider, log *zap.Logger) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logger.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Tracing(cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled))
	engine.Use(middleware.AnnotateSpan())
	engine.Use(middleware.HTTPMetrics(meterProvider))
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(maxBodyBytes))
	return engine
}
