package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	ListenAddr     string
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	Reddit         RedditEnvConfig
	Feed           FeedEnvConfig
	Warmup         WarmupEnvConfig
	Subscriptions  SubscriptionsEnvConfig
	OTel           OTelEnvConfig
}

type RedditEnvConfig struct {
	BaseURL     string
	UserAgent   string
	HTTPTimeout time.Duration
}

// FeedEnvConfig holds the default fetch options. Sort and Timeframe are
// validated when they are turned into fetch options.
type FeedEnvConfig struct {
	Limit          int
	Sort           string
	Timeframe      string
	CacheTTL       time.Duration
	MaxConcurrency int
}

// WarmupEnvConfig enables the scheduled warm-up when Schedule is set.
// OnStart assembles the feed once before the server starts.
type WarmupEnvConfig struct {
	Schedule string
	Timezone string
	OnStart  bool
}

type SubscriptionsEnvConfig struct {
	Backend    string // "file" or "badger"
	Path       string
	BadgerPath string
	Defaults   []string
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

func LoadEnv() EnvConfig {
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	return EnvConfig{
		ListenAddr:     listenAddr(envString("LISTEN_ADDR", ":3000"), envString("PORT", "")),
		LogLevel:       envString("LOG_LEVEL", "info"),
		LogFormat:      strings.ToLower(envString("LOG_FORMAT", "text")),
		MetricsEnabled: envBool("METRICS_ENABLED", true),
		Reddit: RedditEnvConfig{
			BaseURL:     envString("REDDIT_BASE_URL", "https://www.reddit.com"),
			UserAgent:   envString("REDDIT_USER_AGENT", "mini-reddit/0.1"),
			HTTPTimeout: envDuration("REDDIT_HTTP_TIMEOUT", 10*time.Second),
		},
		Feed: FeedEnvConfig{
			Limit:          envInt("FEED_LIMIT", 25),
			Sort:           strings.ToLower(envString("FEED_SORT", "hot")),
			Timeframe:      strings.ToLower(envString("FEED_TIMEFRAME", "day")),
			CacheTTL:       envDuration("FEED_CACHE_TTL", 30*time.Minute),
			MaxConcurrency: envInt("FEED_MAX_CONCURRENCY", 4),
		},
		Warmup: WarmupEnvConfig{
			Schedule: envString("WARMUP_SCHEDULE", ""),
			Timezone: envString("WARMUP_TIMEZONE", ""),
			OnStart:  envBool("WARM_ON_START", false),
		},
		Subscriptions: SubscriptionsEnvConfig{
			Backend:    strings.ToLower(envString("SUBSCRIPTIONS_BACKEND", "file")),
			Path:       envString("SUBSCRIPTIONS_PATH", "data/subscriptions.yaml"),
			BadgerPath: envString("SUBSCRIPTIONS_BADGER_PATH", "data/badger"),
			Defaults:   envList("SUBSCRIPTIONS_DEFAULTS", []string{"galatasaray", "soccer"}),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "mini-reddit")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
	}
}

// Validate reports settings that would fail at startup.
func (c EnvConfig) Validate() error {
	switch c.Subscriptions.Backend {
	case "file":
		if strings.TrimSpace(c.Subscriptions.Path) == "" {
			return fmt.Errorf("SUBSCRIPTIONS_PATH is required for the file backend")
		}
	case "badger":
		if strings.TrimSpace(c.Subscriptions.BadgerPath) == "" {
			return fmt.Errorf("SUBSCRIPTIONS_BADGER_PATH is required for the badger backend")
		}
	default:
		return fmt.Errorf("unsupported SUBSCRIPTIONS_BACKEND %q (expected file or badger)", c.Subscriptions.Backend)
	}
	if c.Feed.MaxConcurrency < 1 {
		return fmt.Errorf("FEED_MAX_CONCURRENCY must be at least 1")
	}
	if _, err := url.ParseRequestURI(c.Reddit.BaseURL); err != nil {
		return fmt.Errorf("invalid REDDIT_BASE_URL: %w", err)
	}
	return nil
}

// listenAddr applies PORT, as set by most hosting platforms, to addr.
func listenAddr(addr, port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return addr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, port)
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := parseDurationExtended(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList reads a comma separated list. An unset key yields fallback; a key
// set to "-" yields an empty list.
func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if v == "-" {
		return []string{}
	}
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}
