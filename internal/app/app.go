package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	redisclient "github.com/coursetrail/coursetrail-backend/internal/clients/redis"
	"github.com/coursetrail/coursetrail-backend/internal/db"
	"github.com/coursetrail/coursetrail-backend/internal/handlers"
	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/middleware"
	"github.com/coursetrail/coursetrail-backend/internal/observability"
	"github.com/coursetrail/coursetrail-backend/internal/ratelimit"
	"github.com/coursetrail/coursetrail-backend/internal/repos"
	"github.com/coursetrail/coursetrail-backend/internal/server"
	"github.com/coursetrail/coursetrail-backend/internal/services"
	"github.com/coursetrail/coursetrail-backend/internal/sse"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Redis  *goredis.Client
	Router *gin.Engine
	Cfg    Config
	Hub    *sse.Hub

	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	// Redis is optional: without it the limiter runs on its in-process
	// fallback and notifications stay hub-local.
	rdb, err := redisclient.NewClient(log)
	if err != nil {
		log.Warn("redis unavailable, running degraded", "error", err)
		rdb = nil
	}

	hub := sse.NewHub(log)
	var bus redisclient.NotifyBus
	if rdb != nil {
		bus = redisclient.NewNotifyBus(log, rdb)
	}

	progressRepo := repos.NewCourseProgressRepo(theDB, log)
	attemptRepo := repos.NewQuizAttemptRepo(theDB, log)
	eventRepo := repos.NewProgressEventRepo(theDB, log)
	courseRepo := repos.NewCourseRepo(theDB, log)

	milestoneStore := services.NewSessionMilestoneStore()
	milestones := services.NewMilestoneEvaluator(log, milestoneStore, newNotifier(log, bus, hub), cfg.MilestoneThresholds)
	ingestSvc := services.NewIngestService(theDB, log, progressRepo, attemptRepo, eventRepo, courseRepo, milestones)
	progressSvc := services.NewProgressService(theDB, log, progressRepo, attemptRepo)
	healthSvc := services.NewHealthService(theDB, rdb, log)

	limiter := ratelimit.NewSlidingWindow(log, rdb, cfg.RateLimit)
	authMw := middleware.NewAuthMiddleware(log, cfg.JWTSecretKey)
	rateLimitMw := middleware.NewRateLimitMiddleware(log, limiter)

	router := server.NewRouter(server.RouterConfig{
		ServiceName:     cfg.ServiceName,
		AllowOrigins:    cfg.AllowOrigins,
		HealthHandler:   handlers.NewHealthHandler(healthSvc),
		ProgressHandler: handlers.NewProgressHandler(log, ingestSvc, progressSvc),
		SSEHandler:      handlers.NewSSEHandler(log, hub),
		AuthMiddleware:  authMw,
		RateLimit:       rateLimitMw,
	})

	a := &App{
		Log:          log,
		DB:           theDB,
		Redis:        rdb,
		Router:       router,
		Cfg:          cfg,
		Hub:          hub,
		otelShutdown: otelShutdown,
	}

	if bus != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		bus.StartForwarder(ctx, hub.PublishToUser)
	}
	return a, nil
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
