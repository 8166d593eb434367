package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/harmonicarena/roomsrv/internal/auth"
	"github.com/harmonicarena/roomsrv/internal/blobstore"
	"github.com/harmonicarena/roomsrv/internal/broadcaster"
	"github.com/harmonicarena/roomsrv/internal/bus"
	"github.com/harmonicarena/roomsrv/internal/config"
	"github.com/harmonicarena/roomsrv/internal/health"
	"github.com/harmonicarena/roomsrv/internal/hub"
	"github.com/harmonicarena/roomsrv/internal/logging"
	"github.com/harmonicarena/roomsrv/internal/middleware"
	"github.com/harmonicarena/roomsrv/internal/ratelimit"
	"github.com/harmonicarena/roomsrv/internal/room"
	"github.com/harmonicarena/roomsrv/internal/spectator"
	"github.com/harmonicarena/roomsrv/internal/sqlitedb"
	"github.com/harmonicarena/roomsrv/internal/tracing"
	"github.com/harmonicarena/roomsrv/internal/upload"
)

func main() {
	envPaths := []string{".env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	log := logging.GetLogger()
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTELCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "roomsrv", cfg.OTELCollectorAddr)
		if err != nil {
			log.Warn("tracing disabled: failed to init exporter", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	db, err := sqlitedb.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatal("failed to open sqlite store", zap.Error(err))
	}
	defer db.Close()

	storage, err := blobstore.Open(cfg.BadgerDir)
	if err != nil {
		log.Fatal("failed to open blob store", zap.Error(err))
	}
	defer storage.Close()

	var redisClient *redis.Client
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer busService.Close()
		redisClient = busService.Client()
	} else {
		log.Warn("redis disabled, running in single-instance mode")
	}

	rateLimiter, err := ratelimit.New(cfg, redisClient)
	if err != nil {
		log.Fatal("failed to build rate limiter", zap.Error(err))
	}

	var validator hub.TokenValidator
	if cfg.SkipAuth {
		log.Warn("authentication disabled (SKIP_AUTH=true), do not use in production")
		validator = &auth.MockValidator{}
	} else {
		auth0Domain := os.Getenv("AUTH0_DOMAIN")
		auth0Audience := os.Getenv("AUTH0_AUDIENCE")
		if auth0Domain == "" || auth0Audience == "" {
			log.Fatal("AUTH0_DOMAIN and AUTH0_AUDIENCE are required when SKIP_AUTH is not set")
		}
		v, err := auth.NewValidator(ctx, auth0Domain, auth0Audience)
		if err != nil {
			log.Fatal("failed to build auth validator", zap.Error(err))
		}
		validator = v
	}

	registry := room.NewRegistry()

	pipelineCfg := upload.DefaultConfig()
	pipelineCfg.Enabled = cfg.SaveReplays
	pipelineCfg.Concurrency = cfg.ReplayUploaderConcurrency
	pipeline := upload.New(pipelineCfg, db, storage, log)

	h := hub.New(registry, db, validator, busService, rateLimiter, cfg.DevelopmentMode)
	spectators := spectator.New(pipeline, h)
	h.SetSpectators(spectators)

	meta := broadcaster.New(db, h, log)
	meta.Start()
	defer meta.Stop()

	router := gin.Default()
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	corsCfg.AllowCredentials = true
	router.Use(cors.New(corsCfg))

	router.Use(rateLimiter.GlobalMiddleware())

	router.GET("/ws", h.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(busService, db, storage)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", zap.Error(err))
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error("hub shutdown incomplete", zap.Error(err))
	}
	pipeline.Dispose()

	log.Info("server exited")
}
