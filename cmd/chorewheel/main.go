package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/jwhitfield/chorewheel/internal/database"
	"github.com/jwhitfield/chorewheel/internal/logging"
	"github.com/jwhitfield/chorewheel/internal/notify"
	"github.com/jwhitfield/chorewheel/internal/server"
	"github.com/jwhitfield/chorewheel/internal/swap"
)

func main() {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := logging.Setup(os.Getenv("CHOREWHEEL_LOG_LEVEL"), os.Getenv("CHOREWHEEL_LOG_FORMAT"))

	port := envOr("CHOREWHEEL_PORT", "8080")
	dbPath := envOr("CHOREWHEEL_DB_PATH", "chorewheel.db")

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := server.Config{
		VAPIDPublicKey:  os.Getenv("CHOREWHEEL_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("CHOREWHEEL_VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: envOr("CHOREWHEEL_VAPID_SUBSCRIBER", "mailto:admin@localhost"),
	}
	if cfg.VAPIDPublicKey == "" {
		logger.Info("VAPID keys not configured, web push disabled",
			"hint", "generate a pair and set CHOREWHEEL_VAPID_PUBLIC_KEY / CHOREWHEEL_VAPID_PRIVATE_KEY")
		if pub, priv, err := notify.GenerateVAPIDKeys(); err == nil {
			logger.Info("example keys", "public", pub, "private", priv)
		}
	}

	srv := server.New(db, cfg, logger)

	sweeper := swap.NewSweeper(srv.SwapService(), logger.With("component", "sweeper"))
	if err := sweeper.Start(); err != nil {
		logger.Error("start swap sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// Housekeeping: expired sessions and stale rate-limit buckets.
	housekeeping := cron.New()
	housekeeping.AddFunc("@daily", func() {
		if n, err := srv.SessionStore().DeleteExpired(); err != nil {
			logger.Error("session cleanup", "error", err)
		} else if n > 0 {
			logger.Info("deleted expired sessions", "count", n)
		}
	})
	housekeeping.AddFunc("@hourly", func() { srv.RateLimiter().Cleanup() })
	housekeeping.Start()
	defer housekeeping.Stop()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("chorewheel listening", "port", port, "db", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
