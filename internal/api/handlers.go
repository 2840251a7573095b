package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bakkerme/mini-reddit/internal/core"
	"github.com/bakkerme/mini-reddit/internal/feed"
	"github.com/bakkerme/mini-reddit/internal/markdown"
	"github.com/bakkerme/mini-reddit/internal/sources/reddit"

	"github.com/labstack/echo/v4"
)

type feedResponse struct {
	Channels []string       `json:"channels"`
	Posts    []reddit.Post  `json:"posts"`
	Failures []feed.Failure `json:"failures,omitempty"`
}

type listingResponse struct {
	Channel string        `json:"channel"`
	Posts   []reddit.Post `json:"posts"`
}

type postView struct {
	reddit.Post
	SelftextRendered string `json:"selftext_rendered,omitempty"`
}

// commentView shadows the embedded Replies with rendered children.
type commentView struct {
	reddit.Comment
	BodyRendered string        `json:"body_rendered"`
	Replies      []commentView `json:"replies"`
}

type threadResponse struct {
	Post     postView      `json:"post"`
	Comments []commentView `json:"comments"`
}

type resolveResponse struct {
	Channel string `json:"channel"`
	PostID  string `json:"post_id"`
	APIPath string `json:"api_path"`
}

type subsResponse struct {
	Subscriptions []string `json:"subscriptions"`
}

type subRequest struct {
	Channel string `json:"channel" form:"channel"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "mini-reddit",
	})
}

func (s *Server) handleFeed(c echo.Context) error {
	ctx := c.Request().Context()
	options, err := s.fetchOptions(c)
	if err != nil {
		return err
	}
	channels, err := s.subs.List(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	result := s.feed.Build(ctx, channels, options)
	return c.JSON(http.StatusOK, feedResponse{
		Channels: channels,
		Posts:    result.Posts,
		Failures: result.Failures,
	})
}

func (s *Server) handleListing(c echo.Context) error {
	options, err := s.fetchOptions(c)
	if err != nil {
		return err
	}
	channel := reddit.CleanChannel(c.Param("channel"))
	posts, err := s.fetcher.FetchListing(c.Request().Context(), channel, options)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listingResponse{Channel: channel, Posts: posts})
}

func (s *Server) handlePost(c echo.Context) error {
	options, err := s.fetchOptions(c)
	if err != nil {
		return err
	}
	channel := reddit.CleanChannel(c.Param("channel"))
	thread, err := s.fetcher.FetchPostWithComments(c.Request().Context(), channel, c.Param("id"), options)
	if err != nil {
		return err
	}

	logger := core.LoggerFromContextOr(c.Request().Context(), s.logger)
	post := postView{Post: thread.Post}
	if thread.Post.Selftext != "" || thread.Post.SelftextHTML != "" {
		post.SelftextRendered = s.render(thread.Post.Selftext, thread.Post.SelftextHTML, logger.Warn)
	}
	return c.JSON(http.StatusOK, threadResponse{
		Post:     post,
		Comments: s.commentViews(thread.Comments, logger.Warn),
	})
}

func (s *Server) handleResolve(c echo.Context) error {
	raw := strings.TrimSpace(c.QueryParam("url"))
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url query parameter is required")
	}
	ref, ok := reddit.ParseContentURL(raw)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "not a reddit post url")
	}
	return c.JSON(http.StatusOK, resolveResponse{
		Channel: ref.Channel,
		PostID:  ref.PostID,
		APIPath: fmt.Sprintf("/api/r/%s/comments/%s", ref.Channel, ref.PostID),
	})
}

func (s *Server) handleListSubs(c echo.Context) error {
	channels, err := s.subs.List(c.Request().Context())
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	return c.JSON(http.StatusOK, subsResponse{Subscriptions: channels})
}

func (s *Server) handleAddSub(c echo.Context) error {
	var req subRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	channels, err := s.subs.Add(c.Request().Context(), req.Channel)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, subsResponse{Subscriptions: channels})
}

func (s *Server) handleRemoveSub(c echo.Context) error {
	channels, err := s.subs.Remove(c.Request().Context(), c.Param("channel"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, subsResponse{Subscriptions: channels})
}

// fetchOptions overlays the limit, sort and t (or timeframe) query
// parameters on the configured defaults.
func (s *Server) fetchOptions(c echo.Context) (reddit.FetchOptions, error) {
	options := s.config.Defaults
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			return options, echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
		}
		options.Limit = n
	}
	if v := c.QueryParam("sort"); v != "" {
		options.Sort = reddit.Sort(v)
	}
	tf := c.QueryParam("t")
	if tf == "" {
		tf = c.QueryParam("timeframe")
	}
	if tf != "" {
		options.Timeframe = reddit.Timeframe(tf)
	}
	return options.Normalize()
}

func (s *Server) commentViews(comments []reddit.Comment, warn func(string, ...any)) []commentView {
	out := make([]commentView, 0, len(comments))
	for _, cm := range comments {
		out = append(out, commentView{
			Comment:      cm,
			BodyRendered: s.render(cm.Body, cm.BodyHTML, warn),
			Replies:      s.commentViews(cm.Replies, warn),
		})
	}
	return out
}

// render prefers the markdown source and falls back to reddit's own HTML.
func (s *Server) render(source, upstreamHTML string, warn func(string, ...any)) string {
	out, err := s.renderer.Render(source)
	if err == nil && out != "" {
		return out
	}
	if err != nil {
		warn("markdown render failed", "error", err)
	}
	return markdown.DecodeEntities(upstreamHTML)
}
