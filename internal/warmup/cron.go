// Package warmup periodically assembles the subscribed feed so that
// interactive requests find a warm cache.
package warmup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bakkerme/mini-reddit/internal/feed"
	"github.com/bakkerme/mini-reddit/internal/sources/reddit"
	"github.com/robfig/cron/v3"
)

// FeedBuilder assembles a feed for a set of channels.
type FeedBuilder interface {
	Build(ctx context.Context, channels []string, options reddit.FetchOptions) feed.Result
}

// ChannelLister returns the channels to warm.
type ChannelLister interface {
	List(ctx context.Context) ([]string, error)
}

type Warmer struct {
	schedule string
	timezone string
	builder  FeedBuilder
	channels ChannelLister
	options  reddit.FetchOptions
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func New(logger *slog.Logger, schedule, timezone string, builder FeedBuilder, channels ChannelLister, options reddit.FetchOptions) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		schedule: schedule,
		timezone: timezone,
		builder:  builder,
		channels: channels,
		options:  options,
		logger:   logger,
	}
}

func (w *Warmer) Validate() error {
	if w.schedule == "" {
		return fmt.Errorf("cron schedule is required")
	}
	if _, err := cron.ParseStandard(w.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", w.schedule, err)
	}
	if w.timezone != "" {
		if _, err := time.LoadLocation(w.timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	if w.builder == nil || w.channels == nil {
		return fmt.Errorf("warmup requires a feed builder and a channel lister")
	}
	return nil
}

// Start schedules RunOnce until ctx is done or Stop is called. A run that is
// still going when the next tick fires causes that tick to be skipped.
func (w *Warmer) Start(ctx context.Context) error {
	if err := w.Validate(); err != nil {
		return err
	}

	location := time.UTC
	if w.timezone != "" {
		tz, err := time.LoadLocation(w.timezone)
		if err != nil {
			return err
		}
		location = tz
	}

	c := cron.New(
		cron.WithLocation(location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(w.schedule, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Warn("feed warm-up failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.cron != nil {
		w.mu.Unlock()
		return fmt.Errorf("warmup already started")
	}
	w.cron = c
	w.mu.Unlock()

	c.Start()
	w.logger.Info("feed warm-up scheduled", "schedule", w.schedule, "timezone", location.String())

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running warm-up to finish.
func (w *Warmer) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce assembles the feed for the current subscriptions.
func (w *Warmer) RunOnce(ctx context.Context) (feed.Result, error) {
	channels, err := w.channels.List(ctx)
	if err != nil {
		return feed.Result{}, fmt.Errorf("list subscriptions: %w", err)
	}
	start := time.Now()
	result := w.builder.Build(ctx, channels, w.options)
	w.logger.Info("feed warmed",
		"channels", len(channels),
		"posts", len(result.Posts),
		"failures", len(result.Failures),
		"duration", time.Since(start),
	)
	return result, nil
}
