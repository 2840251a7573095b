package impl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bakkerme/mini-reddit/internal/cache"
	"github.com/bakkerme/mini-reddit/internal/sources/reddit"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

const listingBody = `{"kind":"Listing","data":{"children":[
	{"kind":"t3","data":{"id":"p1","title":"First","url":"https://example.com/1","permalink":"/r/golang/comments/p1/first/","created_utc":1700000100,"author":"alice","num_comments":3,"score":10,"subreddit":"golang","selftext":""}},
	{"kind":"t3","data":{"id":"p2","title":"Second","url":"https://i.redd.it/p2.png","post_hint":"image","permalink":"/r/golang/comments/p2/second/","created_utc":1700000000,"author":"bob","num_comments":0,"score":5,"subreddit":"golang","selftext":"hi","selftext_html":"&lt;p&gt;hi&lt;/p&gt;"}}
]}}`

const postBody = `[
	{"kind":"Listing","data":{"children":[
		{"kind":"t3","data":{"id":"p1","title":"First","url":"https://v.redd.it/xyz","permalink":"/r/golang/comments/p1/first/","created_utc":1700000100,"author":"alice","subreddit":"golang","is_video":true,
			"secure_media":{"reddit_video":{"fallback_url":"https://v.redd.it/xyz/DASH_720.mp4?source=fallback","hls_url":"https://v.redd.it/xyz/HLSPlaylist.m3u8","has_audio":true}}}}
	]}},
	{"kind":"Listing","data":{"children":[
		{"kind":"t1","data":{"id":"c1","author":"carol","body":"top","replies":{"kind":"Listing","data":{"children":[
			{"kind":"t1","data":{"id":"c2","author":"dave","body":"nested","replies":""}}
		]}}}},
		{"kind":"t1","data":{"id":"c3","author":"[deleted]","body":"[removed]","replies":{"kind":"Listing","data":{"children":[
			{"kind":"t1","data":{"id":"c4","author":"erin","body":"orphan","replies":""}}
		]}}}},
		{"kind":"more","data":{"id":"m1","count":12,"children":["c9"]}}
	]}}
]`

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func newTestFetcher(store *cache.Cache[any], rt roundTripFunc) *Fetcher {
	f := NewFetcher(nil, 2*time.Second, "mini-reddit-test/1.0", "http://reddit.test", store)
	f.client = &http.Client{Transport: rt}
	return f
}

func TestFetcher_FetchListing(t *testing.T) {
	t.Parallel()

	var gotURL, gotUA string
	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		gotURL = r.URL.String()
		gotUA = r.Header.Get("User-Agent")
		return jsonResponse(r, http.StatusOK, listingBody), nil
	})

	posts, err := f.FetchListing(context.Background(), "golang", reddit.FetchOptions{Limit: 10, Sort: reddit.SortNew})
	if err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	if gotURL != "http://reddit.test/r/golang/new.json?limit=10" {
		t.Fatalf("url = %q", gotURL)
	}
	if gotUA != "mini-reddit-test/1.0" {
		t.Fatalf("User-Agent = %q", gotUA)
	}
	if len(posts) != 2 || posts[0].ID != "p1" || posts[1].ID != "p2" {
		t.Fatalf("posts = %+v", posts)
	}
	if posts[0].Permalink != "https://www.reddit.com/r/golang/comments/p1/first/" {
		t.Fatalf("permalink = %q", posts[0].Permalink)
	}
	if !posts[1].Media.HasImage || posts[1].SelftextHTML != "&lt;p&gt;hi&lt;/p&gt;" {
		t.Fatalf("second post = %+v", posts[1])
	}
}

func TestFetcher_FetchListingTimeframeOnlyForRankedSorts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		opts reddit.FetchOptions
		want string
	}{
		{reddit.FetchOptions{Limit: 5, Sort: reddit.SortNew, Timeframe: reddit.TimeframeWeek}, "/r/pics/new.json?limit=5"},
		{reddit.FetchOptions{Limit: 5, Sort: reddit.SortTop, Timeframe: reddit.TimeframeWeek}, "/r/pics/top.json?limit=5&t=week"},
		{reddit.FetchOptions{Limit: 5, Sort: reddit.SortControversial, Timeframe: reddit.TimeframeAll}, "/r/pics/controversial.json?limit=5&t=all"},
		{reddit.FetchOptions{}, "/r/pics/hot.json?limit=25"},
	}

	for _, tc := range cases {
		var got string
		f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
			got = r.URL.RequestURI()
			return jsonResponse(r, http.StatusOK, `{"data":{"children":[]}}`), nil
		})
		if _, err := f.FetchListing(context.Background(), "pics", tc.opts); err != nil {
			t.Fatalf("FetchListing(%+v) error = %v", tc.opts, err)
		}
		if got != tc.want {
			t.Fatalf("FetchListing(%+v) requested %q, want %q", tc.opts, got, tc.want)
		}
	}
}

func TestFetcher_FetchListingServesFromCache(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(r, http.StatusOK, listingBody), nil
	})

	opts := reddit.FetchOptions{Sort: reddit.SortHot}
	for i := 0; i < 3; i++ {
		if _, err := f.FetchListing(context.Background(), "golang", opts); err != nil {
			t.Fatalf("FetchListing() error = %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls.Load())
	}

	// A different sort is a different fingerprint.
	if _, err := f.FetchListing(context.Background(), "golang", reddit.FetchOptions{Sort: reddit.SortNew}); err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream calls = %d, want 2", calls.Load())
	}
}

func TestFetcher_FetchListingCacheExpires(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	store := cache.NewWithClock[any](func() time.Time { return now })
	var calls int
	f := newTestFetcher(store, func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(r, http.StatusOK, listingBody), nil
	})

	opts := reddit.FetchOptions{CacheTTL: time.Minute}
	if _, err := f.FetchListing(context.Background(), "golang", opts); err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := f.FetchListing(context.Background(), "golang", opts); err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", calls)
	}
}

func TestFetcher_UpstreamErrorIsNotCached(t *testing.T) {
	t.Parallel()

	var calls int
	status := http.StatusInternalServerError
	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		calls++
		if status != http.StatusOK {
			return jsonResponse(r, status, `{"message":"boom"}`), nil
		}
		return jsonResponse(r, http.StatusOK, listingBody), nil
	})

	_, err := f.FetchListing(context.Background(), "golang", reddit.FetchOptions{})
	var upstream *reddit.UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected UpstreamError 500, got %v", err)
	}
	if reddit.StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("StatusCode() = %d", reddit.StatusCode(err))
	}

	status = http.StatusOK
	posts, err := f.FetchListing(context.Background(), "golang", reddit.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	if len(posts) != 2 || calls != 2 {
		t.Fatalf("posts = %d, calls = %d; want 2 and 2", len(posts), calls)
	}
}

func TestFetcher_TransportFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	_, err := f.FetchListing(context.Background(), "golang", reddit.FetchOptions{})
	if !errors.Is(err, reddit.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var upstream *reddit.UpstreamError
	if errors.As(err, &upstream) {
		t.Fatalf("transport failure should not be an UpstreamError")
	}

	_, err = f.FetchPostWithComments(context.Background(), "golang", "p1", reddit.FetchOptions{})
	if !errors.Is(err, reddit.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for post fetch, got %v", err)
	}
}

func TestFetcher_InvalidOptionsNeverReachUpstream(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", r.URL)
		return nil, errors.New("unexpected")
	})

	if _, err := f.FetchListing(context.Background(), "golang", reddit.FetchOptions{Sort: "best"}); !errors.Is(err, reddit.ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
	if _, err := f.FetchListing(context.Background(), "  ", reddit.FetchOptions{}); !errors.Is(err, reddit.ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for empty channel, got %v", err)
	}
}

func TestFetcher_FetchPostWithComments(t *testing.T) {
	t.Parallel()

	var gotPath string
	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		if r.URL.RawQuery != "" {
			return nil, fmt.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		return jsonResponse(r, http.StatusOK, postBody), nil
	})

	got, err := f.FetchPostWithComments(context.Background(), "golang", "p1", reddit.FetchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("FetchPostWithComments() error = %v", err)
	}
	if gotPath != "/r/golang/comments/p1.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if got.Post.ID != "p1" || !got.Post.Media.HasVideo {
		t.Fatalf("post = %+v", got.Post)
	}
	if got.Post.Media.AudioURL != "https://v.redd.it/xyz/DASH_AUDIO_128.mp4?source=fallback" {
		t.Fatalf("audio url = %q", got.Post.Media.AudioURL)
	}
	if len(got.Comments) != 1 {
		t.Fatalf("top-level comments = %+v, want only c1", got.Comments)
	}
	top := got.Comments[0]
	if top.ID != "c1" || top.Depth != 0 || len(top.Replies) != 1 || top.Replies[0].ID != "c2" || top.Replies[0].Depth != 1 {
		t.Fatalf("comment tree = %+v", top)
	}
}

func TestFetcher_FetchPostWithCommentsCachedAcrossOptions(t *testing.T) {
	t.Parallel()

	var calls int
	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(r, http.StatusOK, postBody), nil
	})

	if _, err := f.FetchPostWithComments(context.Background(), "golang", "p1", reddit.FetchOptions{Limit: 3}); err != nil {
		t.Fatalf("first fetch error = %v", err)
	}
	if _, err := f.FetchPostWithComments(context.Background(), "golang", "p1", reddit.FetchOptions{Limit: 50, Sort: reddit.SortTop}); err != nil {
		t.Fatalf("second fetch error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls)
	}
}

func TestFetcher_FetchPostWithCommentsNotFound(t *testing.T) {
	t.Parallel()

	bodies := []string{
		`[]`,
		`[{"kind":"Listing","data":{"children":[]}},{"kind":"Listing","data":{"children":[]}}]`,
	}
	for _, body := range bodies {
		var calls int
		f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
			calls++
			return jsonResponse(r, http.StatusOK, body), nil
		})
		_, err := f.FetchPostWithComments(context.Background(), "golang", "missing", reddit.FetchOptions{})
		if !errors.Is(err, reddit.ErrNotFound) {
			t.Fatalf("body %s: expected ErrNotFound, got %v", body, err)
		}
		// Not cached: a second call goes upstream again.
		_, _ = f.FetchPostWithComments(context.Background(), "golang", "missing", reddit.FetchOptions{})
		if calls != 2 {
			t.Fatalf("body %s: upstream calls = %d, want 2", body, calls)
		}
	}
}

func TestFetcher_FetchPostWithCommentsUpstream404(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNotFound, `{"error":404}`), nil
	})
	_, err := f.FetchPostWithComments(context.Background(), "golang", "gone", reddit.FetchOptions{})
	if reddit.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected upstream 404, got %v", err)
	}
}

func TestFetcher_ConcurrentFetchesOnWarmCacheSkipUpstream(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(r, http.StatusOK, listingBody), nil
	})
	opts := reddit.FetchOptions{Sort: reddit.SortTop, Timeframe: reddit.TimeframeWeek}

	if _, err := f.FetchListing(context.Background(), "golang", opts); err != nil {
		t.Fatalf("warm-up error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.FetchListing(context.Background(), "golang", opts); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent fetch error = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream calls = %d, want 1 (warm-up only)", calls.Load())
	}
}

// Two cold fetches for the same fingerprint are not coalesced: each may reach
// upstream before either stores its result.
func TestFetcher_ConcurrentColdFetchesMayBothReachUpstream(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	arrived := make(chan struct{}, 2)
	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		arrived <- struct{}{}
		<-release
		return jsonResponse(r, http.StatusOK, listingBody), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.FetchListing(context.Background(), "golang", reddit.FetchOptions{}); err != nil {
				t.Errorf("FetchListing() error = %v", err)
			}
		}()
	}
	<-arrived
	<-arrived
	close(release)
	wg.Wait()

	if calls.Load() != 2 {
		t.Fatalf("upstream calls = %d, want 2", calls.Load())
	}

	// Once stored, the entry serves later callers.
	if _, err := f.FetchListing(context.Background(), "golang", reddit.FetchOptions{}); err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream calls after warm = %d, want 2", calls.Load())
	}
}

func TestFetcher_CachedResultsAreNotShared(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f := newTestFetcher(nil, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		if strings.Contains(r.URL.Path, "/comments/") {
			return jsonResponse(r, http.StatusOK, postBody), nil
		}
		return jsonResponse(r, http.StatusOK, listingBody), nil
	})
	ctx := context.Background()

	first, err := f.FetchListing(ctx, "golang", reddit.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	first[0].Title = "changed"
	second, err := f.FetchListing(ctx, "golang", reddit.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	if second[0].Title != "First" {
		t.Fatalf("cached listing was modified through a returned slice: %q", second[0].Title)
	}

	thread, err := f.FetchPostWithComments(ctx, "golang", "p1", reddit.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchPostWithComments() error = %v", err)
	}
	thread.Post.Title = "changed"
	thread.Comments[0].Replies[0].Body = "changed"
	again, err := f.FetchPostWithComments(ctx, "golang", "p1", reddit.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchPostWithComments() error = %v", err)
	}
	if again.Post.Title != "First" || again.Comments[0].Replies[0].Body != "nested" {
		t.Fatalf("cached thread was modified through a returned value: %+v", again)
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream calls = %d, want 2", calls.Load())
	}
}
