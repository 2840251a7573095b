package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bakkerme/mini-reddit/internal/api"
	"github.com/bakkerme/mini-reddit/internal/cache"
	"github.com/bakkerme/mini-reddit/internal/config"
	"github.com/bakkerme/mini-reddit/internal/core"
	"github.com/bakkerme/mini-reddit/internal/feed"
	"github.com/bakkerme/mini-reddit/internal/markdown"
	"github.com/bakkerme/mini-reddit/internal/observability/metrics"
	"github.com/bakkerme/mini-reddit/internal/observability/otelx"
	"github.com/bakkerme/mini-reddit/internal/sources/reddit"
	"github.com/bakkerme/mini-reddit/internal/sources/reddit/impl"
	"github.com/bakkerme/mini-reddit/internal/subscriptions"
	"github.com/bakkerme/mini-reddit/internal/warmup"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	env := config.LoadEnv()

	listenAddr := flag.String("listen", env.ListenAddr, "http listen address")
	logLevel := flag.String("log-level", env.LogLevel, "log level (debug, info, warn, error)")
	warmSchedule := flag.String("warmup-schedule", env.Warmup.Schedule, "cron schedule for feed warm-up; empty disables it")
	warmOnStart := flag.Bool("warm-on-start", env.Warmup.OnStart, "assemble the feed once before serving")
	flag.Parse()

	env.ListenAddr = *listenAddr
	env.LogLevel = *logLevel
	env.Warmup.Schedule = *warmSchedule
	env.Warmup.OnStart = *warmOnStart

	logger, err := core.NewLogger(os.Stdout, env.LogLevel, env.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	slog.SetDefault(logger)

	if err := env.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	defaults, err := reddit.FetchOptions{
		Limit:     env.Feed.Limit,
		Sort:      reddit.Sort(env.Feed.Sort),
		Timeframe: reddit.Timeframe(env.Feed.Timeframe),
		CacheTTL:  env.Feed.CacheTTL,
	}.Normalize()
	if err != nil {
		log.Fatalf("invalid feed defaults: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otelx.Init(ctx, logger, env.OTel, otelx.Upstream{BaseURL: env.Reddit.BaseURL, UserAgent: env.Reddit.UserAgent})
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	if env.MetricsEnabled {
		metrics.MustRegister(prometheus.DefaultRegisterer)
	}

	subs, err := openSubscriptions(env.Subscriptions)
	if err != nil {
		log.Fatalf("failed to open subscriptions: %v", err)
	}
	defer subs.Close()

	// One cache for the life of the process, shared by every fetch.
	contentCache := cache.New[any]()
	fetcher := impl.NewFetcher(logger, env.Reddit.HTTPTimeout, env.Reddit.UserAgent, env.Reddit.BaseURL, contentCache)
	assembler := feed.New(fetcher, logger, env.Feed.MaxConcurrency)

	warmer := warmup.New(logger, env.Warmup.Schedule, env.Warmup.Timezone, assembler, subs, defaults)
	if env.Warmup.OnStart {
		if _, err := warmer.RunOnce(ctx); err != nil {
			logger.Warn("initial warm-up failed", "error", err)
		}
	}
	if env.Warmup.Schedule != "" {
		if err := warmer.Start(ctx); err != nil {
			log.Fatalf("failed to start warm-up: %v", err)
		}
	}

	server := api.NewServer(logger, fetcher, assembler, subs, markdown.New(), api.Config{
		Defaults:       defaults,
		MetricsEnabled: env.MetricsEnabled,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(env.ListenAddr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	warmer.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("http shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", "error", err)
	}
}

func openSubscriptions(cfg config.SubscriptionsEnvConfig) (subscriptions.Store, error) {
	if cfg.Backend == "badger" {
		return subscriptions.OpenBadgerStore(cfg.BadgerPath, cfg.Defaults)
	}
	return subscriptions.OpenFileStore(cfg.Path, cfg.Defaults)
}
