// Package app wires the modules into a running HTTP application.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/homeglow/server/internal/module/auth"
	"github.com/homeglow/server/internal/module/billing"
	"github.com/homeglow/server/internal/module/credits"
	"github.com/homeglow/server/internal/module/enhance"
	"github.com/homeglow/server/internal/module/enhance/provider"
	"github.com/homeglow/server/internal/module/history"
	"github.com/homeglow/server/internal/module/storage"
	"github.com/homeglow/server/internal/shared/cache"
	"github.com/homeglow/server/internal/shared/config"
	"github.com/homeglow/server/internal/shared/database"
	"github.com/homeglow/server/internal/shared/events"
	"github.com/homeglow/server/internal/shared/httpclient"
	"github.com/homeglow/server/internal/shared/logger"
	"github.com/homeglow/server/internal/shared/metrics"
	"github.com/homeglow/server/internal/shared/middleware"
)

// providerCallTimeout bounds one single-shot provider request.
const providerCallTimeout = 60 * time.Second

// App represents the application.
type App struct {
	config  *config.Config
	db      *gorm.DB
	redis   *redis.Client
	router  *gin.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Event infrastructure
	eventBus *events.Bus

	// Modules
	jwt            *auth.JWTManager
	authHandler    *auth.Handler
	enhanceHandler *enhance.Handler
	creditsHandler *credits.Handler
	historyHandler *history.Handler
	billingHandler *billing.Handler
	reconciler     *credits.Reconciler
	objectStore    *storage.S3Store
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	app := &App{
		config:   cfg,
		logger:   log,
		metrics:  metrics.New("homeglow", prometheus.DefaultRegisterer),
		eventBus: events.NewBus(log),
	}
	app.metrics.Subscribe(app.eventBus)

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	// Redis is optional: rate limiting is skipped and reset tokens stay in memory.
	if cfg.Redis.Address != "" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", zap.Error(err))
		} else {
			app.redis = redisClient
		}
	}

	if err := app.initModules(context.Background()); err != nil {
		app.Stop()
		return nil, fmt.Errorf("init modules: %w", err)
	}

	app.router = app.setupRouter()
	app.registerRoutes()

	app.reconciler.Start(context.Background())

	return app, nil
}

// initModules builds every module and its dependencies.
func (a *App) initModules(ctx context.Context) error {
	cfg := a.config

	if cfg.Database.AutoMigrate {
		models := append(credits.Models(), &history.Record{}, &auth.User{})
		models = append(models, billing.Models()...)
		if err := database.Migrate(a.db, models...); err != nil {
			return err
		}
	}

	// Object storage
	store, err := storage.NewS3Store(ctx, &storage.S3Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	})
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	a.objectStore = store

	client := httpclient.New(cfg.HTTP, providerCallTimeout)
	persister := storage.NewPersister(store, cfg.Storage.PublicBaseURL, client, a.logger)

	// Credits
	ledger := credits.NewLedger(
		credits.NewRepository(a.db),
		a.eventBus,
		a.logger,
		credits.WithSignupGrant(cfg.Credits.SignupGrant),
		credits.WithAnomalyObserver(a.metrics),
	)
	a.reconciler = credits.NewReconciler(ledger, credits.ReconcilerConfig{
		Interval:    cfg.Credits.ReconcileInterval,
		BatchSize:   cfg.Credits.ReconcileBatch,
		MaxAttempts: cfg.Credits.ReconcileMaxAttempt,
	}, a.logger)
	a.creditsHandler = credits.NewHandler(ledger)

	// History
	historyService := history.NewService(history.NewRepository(a.db))
	a.historyHandler = history.NewHandler(historyService)

	// Auth
	a.jwt = auth.NewJWTManager(&auth.JWTConfig{
		Secret:            cfg.Auth.JWTSecret,
		AccessTokenExpiry: cfg.Auth.AccessTokenExpiry,
		Issuer:            cfg.Auth.Issuer,
	})
	var resets auth.ResetStore = auth.NewMemoryResetStore()
	if a.redis != nil {
		resets = auth.NewRedisResetStore(a.redis)
	}
	authService := auth.NewService(
		auth.NewUserRepository(a.db),
		resets,
		a.jwt,
		ledger,
		&auth.ServiceConfig{ResetTokenExpiry: cfg.Auth.ResetTokenExpiry},
		a.logger,
		auth.WithNotifier(auth.NewLogNotifier(a.logger, cfg.Auth.LogResetTokens)),
	)
	a.authHandler = auth.NewHandler(authService)

	// Enhancement
	registry := a.buildProviders(client, persister)
	active, err := registry.Get(provider.Type(cfg.Enhance.Provider))
	if err != nil {
		return fmt.Errorf("select provider (supported: %v): %w", registry.SupportedTypes(), err)
	}

	routes := []enhance.Option{
		enhance.WithPublisher(a.eventBus),
		enhance.WithProviderObserver(a.metrics),
	}
	for mode, name := range cfg.Enhance.Modes {
		p, err := registry.Get(provider.Type(name))
		if err != nil {
			return fmt.Errorf("route mode %s: %w", mode, err)
		}
		routes = append(routes, enhance.WithModeProvider(provider.Mode(mode), p))
	}

	guests := make(map[provider.Type]bool, len(cfg.Enhance.Guests))
	for name, allowed := range cfg.Enhance.Guests {
		guests[provider.Type(name)] = allowed
	}
	enhanceService := enhance.NewService(active, ledger, historyService, persister, enhance.Config{
		Guests:               guests,
		PersistRemoteResults: cfg.Enhance.PersistRemoteResults,
		JobTimeout:           cfg.Enhance.JobTimeout,
		BatchConcurrency:     cfg.Enhance.BatchConcurrency,
		MaxBatchSize:         cfg.Enhance.MaxBatchSize,
	}, a.logger, routes...)
	if err := enhance.RegisterValidators(); err != nil {
		return fmt.Errorf("register validators: %w", err)
	}
	a.enhanceHandler = enhance.NewHandler(enhanceService, cfg.Server.MaxUploadMB<<20)

	// Billing
	billingService, webhook := a.buildBilling(ledger)
	if err := billingService.SeedCatalog(ctx); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}
	a.billingHandler = billing.NewHandler(billingService, webhook, a.logger)

	a.logger.Info("modules initialized",
		zap.String("provider", string(active.Type())),
		zap.Any("modes", cfg.Enhance.Modes),
		zap.Bool("redis", a.redis != nil),
	)
	return nil
}

// buildProviders registers every provider integration behind a circuit breaker.
func (a *App) buildProviders(client *http.Client, store provider.ObjectStore) *provider.Registry {
	cfg := a.config

	jobs := make(map[provider.Mode]provider.JobConfig, len(cfg.Vance.Jobs))
	for mode, job := range cfg.Vance.Jobs {
		jobs[provider.Mode(mode)] = provider.JobConfig{
			Name:        job.Name,
			Module:      job.Module,
			Params:      job.Params,
			PromptParam: job.PromptParam,
		}
	}

	retry := provider.DefaultRetryPolicy()
	if cfg.Vance.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Vance.MaxAttempts
	}
	if cfg.Vance.BackoffStep > 0 {
		retry.Backoff = provider.LinearBackoff(cfg.Vance.BackoffStep)
	}
	retry.OnAttempt = func(_ int, err error) {
		a.metrics.RecordProviderAttempt(string(provider.TypeVance), err)
	}

	pedra := provider.NewPedraClient(provider.PedraConfig{
		APIKey:         cfg.Pedra.APIKey,
		BaseURL:        cfg.Pedra.BaseURL,
		StandardPrompt: cfg.Pedra.StandardPrompt,
		Timeout:        cfg.Pedra.Timeout,
	}, client, store, a.logger)

	vance := provider.NewVanceClient(provider.VanceConfig{
		APIKey:       cfg.Vance.APIKey,
		BaseURL:      cfg.Vance.BaseURL,
		Timeout:      cfg.Vance.Timeout,
		PollInterval: cfg.Vance.PollInterval,
		MaxPolls:     cfg.Vance.MaxPolls,
		Jobs:         jobs,
		Retry:        retry,
	}, client, store, a.logger)

	breaker := provider.BreakerConfig{
		MaxFailures: cfg.Enhance.BreakerFailures,
		Timeout:     cfg.Enhance.BreakerTimeout,
		OnStateChange: func(p provider.Type, from, to gobreaker.State) {
			a.logger.Warn("provider breaker state changed",
				zap.String("provider", string(p)),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			a.metrics.SetBreakerState(string(p), int(to))
		},
	}

	registry := provider.NewRegistry()
	registry.Register(provider.NewBreaker(pedra, breaker))
	registry.Register(provider.NewBreaker(vance, breaker))
	return registry
}

// buildBilling picks Stripe when a secret key is configured and the mock
// checkout otherwise.
func (a *App) buildBilling(ledger *credits.Ledger) (*billing.Service, billing.WebhookParser) {
	cfg := a.config.Stripe

	var (
		checkout billing.Checkout = billing.NewMockCheckout("/success")
		webhook  billing.WebhookParser
	)
	if cfg.SecretKey != "" {
		checkout = billing.NewStripeCheckout(&billing.StripeConfig{
			SecretKey:     cfg.SecretKey,
			WebhookSecret: cfg.WebhookSecret,
			SuccessURL:    cfg.SuccessURL,
			CancelURL:     cfg.CancelURL,
		})
	}
	if cfg.WebhookSecret != "" {
		webhook = billing.NewStripeWebhook(cfg.WebhookSecret)
	}

	service := billing.NewService(billing.NewRepository(a.db), checkout, ledger, a.logger)
	return service, webhook
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Apply global middleware
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	r.MaxMultipartMemory = a.config.Server.MaxUploadMB << 20

	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// health reports dependency reachability.
func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}

	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
		} else {
			checks["redis"] = "ok"
		}
	}

	if err := a.objectStore.Ping(ctx); err != nil {
		checks["storage"] = "down"
	} else {
		checks["storage"] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

// registerRoutes registers routes for all modules.
func (a *App) registerRoutes() {
	v1 := a.router.Group("/api/v1")

	// Public routes (no auth required)
	publicRouter := v1.Group("")

	// Protected routes (requires auth)
	protectedRouter := v1.Group("", middleware.RequireAuth(a.jwt))

	// Enhancement accepts guests when the active provider allows them.
	var limiter middleware.Limiter
	if a.redis != nil {
		limiter = cache.NewRateLimiter(a.redis)
	}
	enhanceRouter := v1.Group("",
		middleware.OptionalAuth(a.jwt),
		middleware.RateLimitByUser(limiter, a.config.Enhance.RateLimit, a.config.Enhance.RateLimitWindow, a.logger),
	)
	a.enhanceHandler.RegisterRoutes(enhanceRouter)

	a.authHandler.RegisterRoutes(publicRouter)
	a.billingHandler.RegisterRoutes(publicRouter)

	a.authHandler.RegisterProtectedRoutes(protectedRouter)
	a.creditsHandler.RegisterRoutes(protectedRouter)
	a.historyHandler.RegisterRoutes(protectedRouter)
	a.billingHandler.RegisterProtectedRoutes(protectedRouter)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stop stops the application and releases resources.
func (a *App) Stop() {
	if a.reconciler != nil {
		a.reconciler.Stop()
	}

	if a.redis != nil {
		_ = a.redis.Close()
	}

	if a.db != nil {
		_ = database.Close(a.db)
	}

	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
