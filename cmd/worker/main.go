// Command worker runs the six pipeline stage handlers against the durable
// queue: Discovery, Metadata, Chunk-Planning, Segment-Analysis, Combination,
// and Stats (spec.md §4.E). It also hosts the cron scheduler that re-fires
// Discovery for every channel on its configured cadence.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/observability"
	asynqadp "github.com/fairyhunter13/video-insight-pipeline/internal/adapter/queue/asynq"
	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/video-insight-pipeline/internal/adapter/source/youtube"
	"github.com/fairyhunter13/video-insight-pipeline/internal/config"
	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
	"github.com/fairyhunter13/video-insight-pipeline/internal/pipeline"
	"github.com/fairyhunter13/video-insight-pipeline/internal/quota"
	"github.com/fairyhunter13/video-insight-pipeline/internal/ratelimit"
	"github.com/fairyhunter13/video-insight-pipeline/internal/selector"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil { //nolint:gosec // internal metrics endpoint
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()

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
	promptRepo := postgres.NewPromptRepo(pool)
	quotaRepo := postgres.NewQuotaRepo(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	tier := quota.Tier(cfg.QuotaTier)
	mode := quota.TokenEstimateMode(cfg.TokenEstimateMode)
	ledger := quota.NewLedger(rdb, tier, mode, quotaRepo)
	sel := selector.New(ledger, tier)
	coord := ratelimit.New(ledger)
	tokens := tokencount.NewCounter()

	maxElapsed, initialInterval, maxInterval, multiplier := cfg.GetAIBackoffConfig()
	aiClient := gemini.New(gemini.Config{
		APIKey:          cfg.GeminiAPIKey,
		BaseURL:         cfg.GeminiBaseURL,
		MaxElapsedTime:  maxElapsed,
		InitialInterval: initialInterval,
		MaxInterval:     maxInterval,
		Multiplier:      multiplier,
	})

	source, err := youtube.New(ctx, cfg.YouTubeAPIKey)
	if err != nil {
		slog.Error("youtube client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	target := asynqadp.RedisTarget{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queue := asynqadp.New(target)
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()

	faninCtl := pipeline.NewFanInController(contentRepo, segmentRepo, queue)

	handlers := map[string]pipeline.Handler{
		pipeline.QueueChannelDiscovery: pipeline.NewDiscoveryHandler(channelRepo, contentRepo, source, queue),
		pipeline.QueueContentMetadata:  pipeline.NewMetadataHandler(contentRepo, source, queue),
		pipeline.QueueContentProcessing: pipeline.NewChunkPlanningHandler(
			contentRepo, segmentRepo, promptRepo, queue,
			float64(cfg.MaxSegmentSec), float64(cfg.SegmentOverlapSec),
		),
		pipeline.QueueSegmentAnalysis: pipeline.NewSegmentAnalysisHandler(
			contentRepo, segmentRepo, promptRepo, aiClient, tokens, sel, coord, faninCtl,
			pipeline.SegmentAnalysisConfig{
				MaxAttempts:     cfg.MaxAttemptsAnalysis,
				StreamBufferCap: cfg.StreamBufferCap,
				WorkerID:        workerID(),
			},
		),
		pipeline.QueueCombination: pipeline.NewCombinationHandler(contentRepo, segmentRepo),
		pipeline.QueueStats:       pipeline.NewStatsHandler(contentRepo, source),
	}

	retryCfg := buildRetryConfig(cfg)

	worker := asynqadp.NewWorker(target, cfg.ConsumerMaxConcurrency, queue, handlers, quotaRepo, retryCfg)

	scheduler := asynqadp.NewScheduler(target)
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

	errCh := make(chan error, 2)
	go func() {
		slog.Info("worker starting", slog.Int("concurrency", cfg.ConsumerMaxConcurrency))
		errCh <- worker.Run()
	}()
	go func() {
		errCh <- scheduler.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			slog.Error("worker error", slog.Any("error", err))
		}
	}

	scheduler.Shutdown()
	worker.Shutdown()
}

// buildRetryConfig merges the individually configured retry tunables with
// DefaultRetryConfig's error classification lists; unlike the teacher's
// config this module has no single aggregate retry section.
func buildRetryConfig(cfg config.Config) domain.RetryConfig {
	def := domain.DefaultRetryConfig()
	return domain.RetryConfig{
		MaxRetries:         cfg.RetryMaxRetries,
		InitialDelay:       cfg.RetryInitialDelay,
		MaxDelay:           cfg.RetryMaxDelay,
		Multiplier:         cfg.RetryMultiplier,
		Jitter:             cfg.RetryJitter,
		RetryableErrors:    def.RetryableErrors,
		NonRetryableErrors: def.NonRetryableErrors,
	}
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}
