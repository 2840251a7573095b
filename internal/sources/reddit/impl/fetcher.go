package impl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bakkerme/mini-reddit/internal/cache"
	"github.com/bakkerme/mini-reddit/internal/observability/metrics"
	"github.com/bakkerme/mini-reddit/internal/observability/otelx"
	"github.com/bakkerme/mini-reddit/internal/sources/reddit"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL   = "https://www.reddit.com"
	DefaultUserAgent = "mini-reddit/0.1"

	operationListing = "listing"
	operationPost    = "post"
)

// Fetcher reads the public reddit JSON endpoints and caches normalized
// results in a shared cache.
type Fetcher struct {
	client      *http.Client
	baseURL     string
	userAgent   string
	maxBodySize int64
	cache       *cache.Cache[any]
	logger      *slog.Logger
	tracer      trace.Tracer
}

var _ reddit.Fetcher = (*Fetcher)(nil)

// NewFetcher builds a fetcher. store is shared with every other fetcher of the
// process; a nil store gets a private one.
func NewFetcher(logger *slog.Logger, timeout time.Duration, userAgent, baseURL string, store *cache.Cache[any]) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if store == nil {
		store = cache.New[any]()
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		userAgent:   userAgent,
		maxBodySize: 10 << 20, // 10 MiB
		cache:       store,
		logger:      logger,
		tracer:      otelx.Tracer(otelx.RedditScope),
	}
}

// FetchListing returns one page of posts for channel. The result is a copy;
// mutating it never changes what later cache hits return.
func (f *Fetcher) FetchListing(ctx context.Context, channel string, options reddit.FetchOptions) ([]reddit.Post, error) {
	channel = reddit.CleanChannel(channel)
	if channel == "" {
		return nil, fmt.Errorf("%w: channel is required", reddit.ErrInvalidOptions)
	}
	options, err := options.Normalize()
	if err != nil {
		return nil, err
	}

	key := reddit.ListingFingerprint(channel, options)
	computed := false
	value, err := f.cache.GetOrCompute(key, options.CacheTTL, func() (any, error) {
		computed = true
		return f.fetchListing(ctx, channel, options)
	})
	metrics.ObserveCacheLookup(operationListing, !computed)
	if err != nil {
		return nil, err
	}
	posts, ok := value.([]reddit.Post)
	if !ok {
		return nil, fmt.Errorf("cache entry %q holds %T, want []reddit.Post", key, value)
	}
	return reddit.ClonePosts(posts), nil
}

// FetchPostWithComments returns a post with its full comment tree. Only
// options.CacheTTL is used; the fingerprint ignores every other option.
func (f *Fetcher) FetchPostWithComments(ctx context.Context, channel, postID string, options reddit.FetchOptions) (reddit.PostWithComments, error) {
	channel = reddit.CleanChannel(channel)
	postID = strings.TrimSpace(postID)
	if channel == "" || postID == "" {
		return reddit.PostWithComments{}, fmt.Errorf("%w: channel and post id are required", reddit.ErrInvalidOptions)
	}
	ttl := options.CacheTTL
	if ttl <= 0 {
		ttl = reddit.DefaultCacheTTL
	}

	key := reddit.PostFingerprint(channel, postID)
	computed := false
	value, err := f.cache.GetOrCompute(key, ttl, func() (any, error) {
		computed = true
		return f.fetchPost(ctx, channel, postID)
	})
	metrics.ObserveCacheLookup(operationPost, !computed)
	if err != nil {
		return reddit.PostWithComments{}, err
	}
	result, ok := value.(reddit.PostWithComments)
	if !ok {
		return reddit.PostWithComments{}, fmt.Errorf("cache entry %q holds %T, want reddit.PostWithComments", key, value)
	}
	return result.Clone(), nil
}

func (f *Fetcher) fetchListing(ctx context.Context, channel string, options reddit.FetchOptions) ([]reddit.Post, error) {
	endpoint := fmt.Sprintf("%s/r/%s/%s.json", f.baseURL, url.PathEscape(channel), options.Sort)
	query := url.Values{}
	query.Set("limit", strconv.Itoa(options.Limit))
	if options.Sort.UsesTimeframe() {
		query.Set("t", string(options.Timeframe))
	}
	endpoint += "?" + query.Encode()

	ctx, span := f.tracer.Start(ctx, "reddit.fetch_listing", trace.WithAttributes(
		attribute.String("reddit.channel", channel),
		attribute.String("reddit.sort", string(options.Sort)),
		attribute.Int("reddit.limit", options.Limit),
	))
	defer span.End()

	var payload reddit.Listing[reddit.PostThing]
	if err := f.getJSON(ctx, operationListing, endpoint, &payload); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	posts := reddit.NormalizeListing(payload)
	span.SetAttributes(attribute.Int("reddit.posts", len(posts)))
	f.logger.Debug("reddit listing fetched", "channel", channel, "sort", options.Sort, "posts", len(posts))
	return posts, nil
}

func (f *Fetcher) fetchPost(ctx context.Context, channel, postID string) (reddit.PostWithComments, error) {
	endpoint := fmt.Sprintf("%s/r/%s/comments/%s.json", f.baseURL, url.PathEscape(channel), url.PathEscape(postID))

	ctx, span := f.tracer.Start(ctx, "reddit.fetch_post", trace.WithAttributes(
		attribute.String("reddit.channel", channel),
		attribute.String("reddit.post_id", postID),
	))
	defer span.End()

	var parts []json.RawMessage
	if err := f.getJSON(ctx, operationPost, endpoint, &parts); err != nil {
		recordSpanError(span, err)
		return reddit.PostWithComments{}, err
	}
	if len(parts) == 0 {
		recordSpanError(span, reddit.ErrNotFound)
		return reddit.PostWithComments{}, fmt.Errorf("%w: r/%s post %s", reddit.ErrNotFound, channel, postID)
	}

	var postListing reddit.Listing[reddit.PostThing]
	if err := json.Unmarshal(parts[0], &postListing); err != nil {
		recordSpanError(span, err)
		return reddit.PostWithComments{}, fmt.Errorf("decode reddit post: %w", err)
	}
	posts := reddit.NormalizeListing(postListing)
	if len(posts) == 0 {
		recordSpanError(span, reddit.ErrNotFound)
		return reddit.PostWithComments{}, fmt.Errorf("%w: r/%s post %s", reddit.ErrNotFound, channel, postID)
	}

	comments := []reddit.Comment{}
	if len(parts) > 1 {
		var commentListing reddit.Listing[reddit.CommentThing]
		if err := json.Unmarshal(parts[1], &commentListing); err != nil {
			recordSpanError(span, err)
			return reddit.PostWithComments{}, fmt.Errorf("decode reddit comments: %w", err)
		}
		comments = reddit.BuildComments(commentListing.Data.Children, 0)
	}

	span.SetAttributes(attribute.Int("reddit.top_level_comments", len(comments)))
	f.logger.Debug("reddit post fetched", "channel", channel, "post_id", postID, "top_level_comments", len(comments))
	return reddit.PostWithComments{Post: posts[0], Comments: comments}, nil
}

// getJSON issues a GET and decodes a 2xx body into out. Transport failures
// wrap reddit.ErrUnavailable, other statuses become *reddit.UpstreamError.
func (f *Fetcher) getJSON(ctx context.Context, operation, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ObserveUpstreamRequest(operation, "unavailable", time.Since(start))
		f.logger.Warn("reddit request failed", "operation", operation, "url", endpoint, "error", err)
		return fmt.Errorf("%w: %w", reddit.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		metrics.ObserveUpstreamRequest(operation, strconv.Itoa(resp.StatusCode), time.Since(start))
		f.logger.Warn("reddit returned error status", "operation", operation, "url", endpoint, "status", resp.StatusCode)
		return &reddit.UpstreamError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, f.maxBodySize)).Decode(out); err != nil {
		metrics.ObserveUpstreamRequest(operation, "decode_error", time.Since(start))
		return fmt.Errorf("decode reddit response: %w", err)
	}
	metrics.ObserveUpstreamRequest(operation, "ok", time.Since(start))
	return nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	status := reddit.StatusCode(err)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if errors.Is(err, reddit.ErrUnavailable) {
		span.SetAttributes(attribute.Bool("reddit.unavailable", true))
	}
	span.SetStatus(codes.Error, err.Error())
}
