package main

import (
	"context"
	"crypto/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"scheduler-service/internal/app"
	"scheduler-service/internal/bootstrap"
	"scheduler-service/internal/calsync/google"
	appconfig "scheduler-service/internal/config"
	"scheduler-service/internal/server"
	"scheduler-service/internal/store/postgres"
	"scheduler-service/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := bootstrap.BuildRuntime(ctx, cfg, postgres.New(pool), registry, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	appInstance := &app.App{
		Store:        rt.Store,
		Orchestrator: rt.Orchestrator,
		Bulk:         rt.Bulk,
		Calendar:     rt.Calendar,
		Logger:       logger,
		StateKey:     stateKey(cfg, logger),
		Granularity:  time.Duration(cfg.SlotGranularityMinutes) * time.Minute,
	}
	if cfg.GoogleCalendarEnabled() {
		appInstance.OAuth = google.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	router := appInstance.NewRouter(app.RouterOptions{
		Auth:     app.AuthMiddleware(cfg.StaticTokens, cfg.JWTHMACSecret),
		Limiter:  app.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Gatherer: registry,
	})

	logger.Info("starting scheduler API", "env", cfg.Env, "port", cfg.Port)
	if err := server.Run(ctx, router, cfg.Port, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// stateKey returns the OAuth state signing key. Without a configured secret
// a random key is used, so pending connect flows do not survive restarts.
func stateKey(cfg *appconfig.Config, logger *logging.Logger) []byte {
	if cfg.OAuthStateSecret != "" {
		return []byte(cfg.OAuthStateSecret)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		logger.Error("failed to generate oauth state key", "error", err)
		os.Exit(1)
	}
	return key
}
