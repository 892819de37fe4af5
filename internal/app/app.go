package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/echocast/core/internal/config"
	"github.com/echocast/core/internal/database"
	"github.com/echocast/core/internal/middleware"
	"github.com/echocast/core/internal/modules/gateway"
	"github.com/echocast/core/internal/modules/health"
	"github.com/echocast/core/internal/modules/llm"
	"github.com/echocast/core/internal/modules/pipeline"
	pkgcron "github.com/echocast/core/internal/pkg/cron"
	jwtpkg "github.com/echocast/core/internal/pkg/jwt"
	"github.com/echocast/core/internal/pkg/nativelog"
	pkgredis "github.com/echocast/core/internal/pkg/redis"
	"github.com/echocast/core/internal/pkg/snapshotstore"
)

// App holds all application dependencies.
type App struct {
	cfg        *config.AppConfig
	router     *gin.Engine
	db         *gorm.DB
	hub        *gateway.Hub
	svc        *pipeline.Service
	monitor    *health.Whistleblower
	dispatcher *pipeline.Dispatcher
	sched      *pkgcron.Scheduler
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// New initializes the application: config → DB → Redis → pipeline → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	applyRuntimeSettings(cfg, logger)

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.Redis.URLValue())
	if err != nil {
		if !cfg.IsDev() {
			return nil, fmt.Errorf("redis: %w", err)
		}
		logger.Warn("redis unavailable, gateway fan-out and snapshots fall back to process memory", zap.Error(err))
		rc = nil
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(buildCORS(cfg))
	router.Use(middleware.Attach())
	if rc != nil {
		router.Use(middleware.RateLimit(rc, logger))
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := gateway.NewHub(rc, logger, middleware.ValidateToken)
	go hub.Run(ctx)

	dispatcher := pipeline.NewDispatcher(logger)
	go dispatcher.Run(ctx)
	bridgeGateway(dispatcher, hub)

	var snapshots snapshotstore.Store
	if rc != nil {
		snapshots = snapshotstore.NewRedis(rc)
	} else {
		snapshots = snapshotstore.NewMemory()
	}

	svc := pipeline.NewService(cfg.Pipeline, buildAIClient(cfg.AI, logger), dispatcher, snapshots, db, logger)

	monitor := health.New(cfg.Health, svc, svc, dispatcher, db, logger)
	go monitor.Run(ctx)

	sched := pkgcron.New()
	registerCronJobs(sched, db, cfg, svc, logger)
	go sched.Start(ctx)

	app := &App{
		cfg:        cfg,
		router:     router,
		db:         db,
		hub:        hub,
		svc:        svc,
		monitor:    monitor,
		dispatcher: dispatcher,
		sched:      sched,
		logger:     logger,
		cancel:     cancel,
	}
	app.registerRoutes()

	return app, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops sessions and cleans up background goroutines.
func (a *App) Shutdown() {
	for _, sessionID := range a.svc.Sessions() {
		if err := a.svc.Stop(sessionID); err != nil {
			a.logger.Warn("session stop on shutdown failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	a.cancel()
}

func applyRuntimeSettings(cfg *config.AppConfig, logger *zap.Logger) {
	if dir := strings.TrimSpace(cfg.Paths.Logs); dir != "" {
		_ = os.Setenv(nativelog.EnvLogDir, dir)
	}

	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		jwtpkg.SetSecret(secret)
	} else {
		logger.Warn("jwt_secret is empty, using built-in default secret")
	}
}

// buildAIClient returns the configured provider client, or the mock
// client when no provider is usable. The mock keeps the whole pipeline
// operable in development without credentials.
func buildAIClient(cfg config.AIConfig, logger *zap.Logger) llm.Client {
	for _, provider := range cfg.Providers {
		if provider.Enabled && strings.EqualFold(strings.TrimSpace(provider.Type), "Mock") {
			logger.Info("mock AI provider enabled", zap.String("provider", provider.ID))
			return &llm.MockClient{}
		}
	}

	client, err := llm.NewProviderClient(cfg)
	if err != nil {
		logger.Warn("no enabled AI provider, narration falls back to the mock client", zap.Error(err))
		return &llm.MockClient{}
	}
	return client
}

// bridgeGateway forwards pipeline events to WebSocket clients. Admin
// clients see everything; live listeners only get the narration stream.
func bridgeGateway(dispatcher *pipeline.Dispatcher, hub *gateway.Hub) {
	liveEvents := map[string]bool{
		pipeline.EventNarrationQueued:    true,
		pipeline.EventQueueUpdated:       true,
		pipeline.EventNarrationStarted:   true,
		pipeline.EventNarrationStreaming: true,
		pipeline.EventNarrationCompleted: true,
		pipeline.EventThreadProcessed:    true,
	}

	dispatcher.Subscribe(func(evt pipeline.Event) {
		hub.BroadcastAdmin(evt.Name, evt)
		if liveEvents[evt.Name] {
			hub.BroadcastLive(evt.Name, evt)
		}
	})
}
