// Package feed merges the listings of several channels into one feed.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bakkerme/mini-reddit/internal/core"
	"github.com/bakkerme/mini-reddit/internal/observability/metrics"
	"github.com/bakkerme/mini-reddit/internal/sources/reddit"
)

const defaultMaxConcurrency = 4

// Failure records a channel that contributed no posts.
type Failure struct {
	Channel string `json:"channel"`
	Err     error  `json:"-"`
	Message string `json:"error"`
}

// Result is an assembled feed, newest post first.
type Result struct {
	Posts    []reddit.Post `json:"posts"`
	Failures []Failure     `json:"failures,omitempty"`
}

// Assembler fetches every channel concurrently and waits for all of them.
// One channel failing never cancels or hides the others.
type Assembler struct {
	fetcher        reddit.Fetcher
	logger         *slog.Logger
	maxConcurrency int
}

func New(fetcher reddit.Fetcher, logger *slog.Logger, maxConcurrency int) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Assembler{fetcher: fetcher, logger: logger, maxConcurrency: maxConcurrency}
}

// Build fetches channels with options and merges the results. Each post is
// stamped with the channel name it was requested under. Duplicate and blank
// channel names are skipped.
func (a *Assembler) Build(ctx context.Context, channels []string, options reddit.FetchOptions) Result {
	channels = uniqueChannels(channels)
	logger := core.LoggerFromContextOr(ctx, a.logger)

	type outcome struct {
		posts []reddit.Post
		err   error
	}
	outcomes := make([]outcome, len(channels))

	sem := make(chan struct{}, a.maxConcurrency)
	var wg sync.WaitGroup
	for i, channel := range channels {
		i, channel := i, channel
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			outcomes[i] = outcome{err: ctx.Err()}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			posts, err := a.fetcher.FetchListing(ctx, channel, options)
			outcomes[i] = outcome{posts: posts, err: err}
		}()
	}
	wg.Wait()

	var result Result
	for i, channel := range channels {
		o := outcomes[i]
		if o.err != nil {
			reason := failureReason(o.err)
			logger.Warn("feed channel failed", "channel", channel, "reason", reason, "error", o.err)
			metrics.IncFeedChannelFailure(reason)
			result.Failures = append(result.Failures, Failure{Channel: channel, Err: o.err, Message: o.err.Error()})
			continue
		}
		for _, post := range o.posts {
			post.Subreddit = channel
			result.Posts = append(result.Posts, post)
		}
	}

	sort.SliceStable(result.Posts, func(i, j int) bool {
		return result.Posts[i].CreatedUTC > result.Posts[j].CreatedUTC
	})
	if result.Posts == nil {
		result.Posts = []reddit.Post{}
	}

	logger.Debug("feed assembled", "channels", len(channels), "posts", len(result.Posts), "failures", len(result.Failures))
	return result
}

// failureReason maps a fetch error onto a small fixed set of metric labels.
func failureReason(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, reddit.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, reddit.ErrNotFound):
		return "not_found"
	case errors.Is(err, reddit.ErrInvalidOptions):
		return "invalid_options"
	case reddit.StatusCode(err) != 0:
		return "upstream_" + strconv.Itoa(reddit.StatusCode(err))
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return "decode"
	default:
		return "other"
	}
}

func uniqueChannels(channels []string) []string {
	seen := make(map[string]bool, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = reddit.CleanChannel(ch)
		key := strings.ToLower(ch)
		if ch == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ch)
	}
	return out
}
