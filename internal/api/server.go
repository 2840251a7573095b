// Package api serves the feed, listings, threads and subscriptions as JSON.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bakkerme/mini-reddit/internal/core"
	"github.com/bakkerme/mini-reddit/internal/feed"
	"github.com/bakkerme/mini-reddit/internal/markdown"
	"github.com/bakkerme/mini-reddit/internal/observability/metrics"
	"github.com/bakkerme/mini-reddit/internal/sources/reddit"
	"github.com/bakkerme/mini-reddit/internal/subscriptions"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FeedBuilder assembles a feed for a set of channels.
type FeedBuilder interface {
	Build(ctx context.Context, channels []string, options reddit.FetchOptions) feed.Result
}

type Config struct {
	// Defaults fill any fetch option a request does not set.
	Defaults       reddit.FetchOptions
	MetricsEnabled bool
}

type Server struct {
	echo     *echo.Echo
	logger   *slog.Logger
	fetcher  reddit.Fetcher
	feed     FeedBuilder
	subs     subscriptions.Store
	renderer *markdown.Renderer
	config   Config
}

func NewServer(logger *slog.Logger, fetcher reddit.Fetcher, builder FeedBuilder, subs subscriptions.Store, renderer *markdown.Renderer, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil {
		renderer = markdown.New()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		logger:   logger,
		fetcher:  fetcher,
		feed:     builder,
		subs:     subs,
		renderer: renderer,
		config:   cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	// Outside the request logger so the recorded status is the one written
	// by the error handler.
	if cfg.MetricsEnabled {
		e.Use(metrics.EchoMiddleware())
	}
	e.Use(s.requestLogger())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType},
	}))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.config.MetricsEnabled {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	api := s.echo.Group("/api")
	api.GET("/feed", s.handleFeed)
	api.GET("/r/:channel", s.handleListing)
	api.GET("/r/:channel/comments/:id", s.handlePost)
	api.GET("/resolve", s.handleResolve)

	subs := api.Group("/subs")
	subs.GET("", s.handleListSubs)
	subs.POST("", s.handleAddSub)
	subs.DELETE("/:channel", s.handleRemoveSub)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requestLogger attaches a request-scoped logger to the request context.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := core.WithRequestID(c.Request().Context(), id)
			ctx = core.WithLogger(ctx, s.logger.With("request_id", id))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// handleError renders every error as {"error": "..."} with a status derived
// from the reddit and subscriptions error types.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		core.LoggerFromContextOr(c.Request().Context(), s.logger).Error("request error", "status", status, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Error: message})
	}
	if err != nil {
		s.logger.Error("write error response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}

	switch {
	case errors.Is(err, reddit.ErrInvalidOptions), errors.Is(err, subscriptions.ErrInvalidChannel):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, reddit.ErrNotFound):
		return http.StatusNotFound, "post not found"
	case errors.Is(err, reddit.ErrUnavailable):
		return http.StatusServiceUnavailable, "reddit is unavailable"
	}
	if code := reddit.StatusCode(err); code != 0 {
		if code == http.StatusNotFound {
			return http.StatusNotFound, "not found on reddit"
		}
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}
