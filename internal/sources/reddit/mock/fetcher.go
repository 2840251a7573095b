package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/bakkerme/mini-reddit/internal/sources/reddit"
)

// Fetcher is an in-memory reddit.Fetcher keyed by channel.
type Fetcher struct {
	Listings    map[string][]reddit.Post
	ListingErrs map[string]error
	Posts       map[string]reddit.PostWithComments
	PostErr     error

	mu    sync.Mutex
	Calls []string
}

func (f *Fetcher) FetchListing(ctx context.Context, channel string, options reddit.FetchOptions) ([]reddit.Post, error) {
	_ = ctx
	_ = options
	f.record("listing:" + channel)
	if err := f.ListingErrs[channel]; err != nil {
		return nil, err
	}
	posts := f.Listings[channel]
	out := make([]reddit.Post, len(posts))
	copy(out, posts)
	return out, nil
}

func (f *Fetcher) FetchPostWithComments(ctx context.Context, channel, postID string, options reddit.FetchOptions) (reddit.PostWithComments, error) {
	_ = ctx
	_ = options
	f.record("post:" + channel + ":" + postID)
	if f.PostErr != nil {
		return reddit.PostWithComments{}, f.PostErr
	}
	result, ok := f.Posts[postID]
	if !ok {
		return reddit.PostWithComments{}, fmt.Errorf("%w: %s", reddit.ErrNotFound, postID)
	}
	return result, nil
}

// CallCount returns how many fetches were made so far.
func (f *Fetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

func (f *Fetcher) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}
