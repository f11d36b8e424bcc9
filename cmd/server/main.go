// Command server starts the video-insight-pipeline control-surface HTTP
// server: the small, non-core API spec.md §6 describes for triggering and
// inspecting the pipeline. Ingestion, analysis, and fan-in all run in
// cmd/worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	asynqadp "github.com/fairyhunter13/video-insight-pipeline/internal/adapter/queue/asynq"
	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/video-insight-pipeline/internal/app"
	"github.com/fairyhunter13/video-insight-pipeline/internal/config"
	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	channelRepo := postgres.NewChannelRepo(pool)
	contentRepo := postgres.NewContentRepo(pool)
	segmentRepo := postgres.NewSegmentRepo(pool)
	quotaRepo := postgres.NewQuotaRepo(pool)

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(postgres.NewPoolBeginner(pool), cfg.DataRetentionDays, cfg.DLQMaxAge)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("dlq_max_age", cfg.DLQMaxAge), slog.Duration("interval", cfg.CleanupInterval))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	tier := quota.Tier(cfg.QuotaTier)
	mode := quota.TokenEstimateMode(cfg.TokenEstimateMode)
	ledger := quota.NewLedger(rdb, tier, mode, quotaRepo)

	target := asynqadp.RedisTarget{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queue := asynqadp.New(target)
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()
	faninCtl := pipeline.NewFanInController(contentRepo, segmentRepo, queue)

	scheduler := asynqadp.NewScheduler(target)
	go func() {
		if err := scheduler.Run(); err != nil {
			slog.Error("scheduler error", slog.Any("error", err))
		}
	}()
	defer scheduler.Shutdown()
	if channels, err := channelRepo.List(ctx); err != nil {
		slog.Error("failed to list channels for scheduler registration", slog.Any("error", err))
	} else {
		for _, ch := range channels {
			if ch.CronPattern == "" {
				continue
			}
			if _, err := scheduler.RegisterChannelDiscovery(ch.ID, ch.CronPattern); err != nil {
				slog.Error("failed to register channel discovery", slog.String("channel_id", ch.ID), slog.Any("error", err))
			}
		}
	}

	dbCheck := func(ctx context.Context) error { return pool.Ping(ctx) }
	redisCheck := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

	srv := httpserver.NewServer(cfg, channelRepo, contentRepo, segmentRepo, queue, ledger, faninCtl, tier, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
