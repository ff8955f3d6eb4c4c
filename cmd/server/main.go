package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/api"
	"github.com/Meirlen/Tabys-sub000/internal/audience"
	"github.com/Meirlen/Tabys-sub000/internal/clock"
	"github.com/Meirlen/Tabys-sub000/internal/config"
	"github.com/Meirlen/Tabys-sub000/internal/db"
	"github.com/Meirlen/Tabys-sub000/internal/email"
	"github.com/Meirlen/Tabys-sub000/internal/metrics"
	"github.com/Meirlen/Tabys-sub000/internal/queue"
	"github.com/Meirlen/Tabys-sub000/internal/ratelimiter"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
	"github.com/Meirlen/Tabys-sub000/internal/service"
	"github.com/Meirlen/Tabys-sub000/internal/telegram"
	"github.com/Meirlen/Tabys-sub000/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := queue.New()
	clk := clock.System

	broadcastRepo := repository.NewPgBroadcastRepository(pool)
	authRepo := repository.NewPgAuthRepository(pool)
	moderationRepo := repository.NewPgModerationRepository(pool)

	tg := telegram.NewBotClient(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramTimeout)
	mail := email.NewHTTPClient(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, cfg.EmailTimeout)
	limiter := ratelimiter.New(cfg.RateLimit)
	resolver := audience.NewResolver(authRepo)

	broadcastSvc := service.NewBroadcastService(broadcastRepo, resolver, q, clk, logger)
	otpSvc := service.NewOtpService(authRepo, clk, cfg.JWTSecret, cfg.SessionTTL, logger)

	// ---- background workers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	drainPool := worker.NewPool(cfg, q, broadcastRepo, tg, limiter, clk, logger, m.PoolHooks())
	drainPool.Start(workerCtx)

	schedulerW := worker.NewSchedulerWorker(broadcastRepo, broadcastSvc, cfg.SchedulerInterval, clk, logger)
	go schedulerW.Run(workerCtx)

	watcher := worker.NewModerationWatcher(
		moderationRepo, authRepo, broadcastSvc, mail,
		worker.WatcherConfig{
			Interval:    cfg.ModerationInterval,
			URL:         cfg.ModerationURL,
			TitleMarker: cfg.ModerationTitleMarker,
		},
		clk, logger, m.WatcherHooks(),
	)
	if err := watcher.Start(workerCtx); err != nil {
		logger.Fatal("failed to start moderation watcher", zap.Error(err))
	}

	// Queue depth gauges are sampled, not event-driven.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				urgent, normal := q.Depths()
				m.QueueDepthUrgent.Set(float64(urgent))
				m.QueueDepthNormal.Set(float64(normal))
			}
		}
	}()

	// ---- HTTP server ----
	router := api.NewRouter(broadcastSvc, otpSvc, q, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the watcher's tick loop before tearing down the workers it
	// feeds broadcasts into.
	watcher.Stop()

	// 3. Signal all remaining workers to stop claiming new deliveries.
	cancelWorkers()

	// 4. Wait for in-flight drain workers to finish their current claim.
	// Unsent deliveries stay pending and are re-claimed after restart.
	drainPool.Wait()

	logger.Info("server stopped cleanly")
}
