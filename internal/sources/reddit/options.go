package reddit

import (
	"fmt"
	"strings"
	"time"
)

// Sort is a listing sort mode.
type Sort string

const (
	SortHot           Sort = "hot"
	SortNew           Sort = "new"
	SortTop           Sort = "top"
	SortRising        Sort = "rising"
	SortControversial Sort = "controversial"
)

// Timeframe limits top and controversial listings to a time window.
type Timeframe string

const (
	TimeframeHour  Timeframe = "hour"
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
	TimeframeAll   Timeframe = "all"
)

const (
	DefaultLimit     = 25
	DefaultSort      = SortHot
	DefaultTimeframe = TimeframeDay
	DefaultCacheTTL  = 30 * time.Minute
)

// FetchOptions controls a single fetch call.
type FetchOptions struct {
	Limit     int
	Sort      Sort
	Timeframe Timeframe
	CacheTTL  time.Duration
}

// UsesTimeframe reports whether the sort mode accepts a timeframe qualifier.
func (s Sort) UsesTimeframe() bool {
	return s == SortTop || s == SortControversial
}

func (s Sort) valid() bool {
	switch s {
	case SortHot, SortNew, SortTop, SortRising, SortControversial:
		return true
	}
	return false
}

func (t Timeframe) valid() bool {
	switch t {
	case TimeframeHour, TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeYear, TimeframeAll:
		return true
	}
	return false
}

// Normalize fills defaults and validates sort and timeframe.
func (o FetchOptions) Normalize() (FetchOptions, error) {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	o.Sort = Sort(strings.ToLower(strings.TrimSpace(string(o.Sort))))
	if o.Sort == "" {
		o.Sort = DefaultSort
	}
	if !o.Sort.valid() {
		return o, fmt.Errorf("%w: unsupported sort %q", ErrInvalidOptions, o.Sort)
	}
	o.Timeframe = Timeframe(strings.ToLower(strings.TrimSpace(string(o.Timeframe))))
	if o.Timeframe == "" {
		o.Timeframe = DefaultTimeframe
	}
	if !o.Timeframe.valid() {
		return o, fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidOptions, o.Timeframe)
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	return o, nil
}

// CleanChannel trims whitespace, slashes and a leading "r/" from a channel name.
func CleanChannel(channel string) string {
	channel = strings.Trim(strings.TrimSpace(channel), "/")
	if len(channel) >= 2 && strings.EqualFold(channel[:2], "r/") {
		channel = channel[2:]
	}
	return strings.Trim(channel, "/")
}

// ListingFingerprint is the cache key for a listing fetch. options must be normalized.
func ListingFingerprint(channel string, options FetchOptions) string {
	return fmt.Sprintf("listing:%s:%d:%s:%s", channel, options.Limit, options.Sort, options.Timeframe)
}

// PostFingerprint is the cache key for a post-with-comments fetch.
func PostFingerprint(channel, postID string) string {
	return fmt.Sprintf("post:%s:%s", channel, postID)
}
