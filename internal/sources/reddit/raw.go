package reddit

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Listing is the `{data: {children: [...]}}` envelope reddit wraps around
// every collection.
type Listing[T any] struct {
	Data struct {
		Children []T `json:"children"`
	} `json:"data"`
}

// PostThing is one child of a post listing.
type PostThing struct {
	Kind string   `json:"kind"`
	Data *RawPost `json:"data"`
}

// RawPost mirrors the subset of a reddit t3 payload that is normalized.
type RawPost struct {
	ID                  string                      `json:"id"`
	Title               string                      `json:"title"`
	URL                 string                      `json:"url"`
	URLOverriddenByDest string                      `json:"url_overridden_by_dest"`
	Permalink           string                      `json:"permalink"`
	CreatedUTC          float64                     `json:"created_utc"`
	Author              string                      `json:"author"`
	NumComments         int                         `json:"num_comments"`
	Score               int                         `json:"score"`
	Subreddit           string                      `json:"subreddit"`
	Selftext            string                      `json:"selftext"`
	SelftextHTML        *string                     `json:"selftext_html"`
	PostHint            string                      `json:"post_hint"`
	IsVideo             bool                        `json:"is_video"`
	IsGallery           bool                        `json:"is_gallery"`
	Thumbnail           string                      `json:"thumbnail"`
	Media               *RawMedia                   `json:"media"`
	SecureMedia         *RawMedia                   `json:"secure_media"`
	MediaMetadata       map[string]RawMediaMetadata `json:"media_metadata"`
	GalleryData         *RawGalleryData             `json:"gallery_data"`
}

// RawMedia holds the reddit-hosted video payload, when any.
type RawMedia struct {
	RedditVideo *RawRedditVideo `json:"reddit_video"`
}

// RawRedditVideo is a v.redd.it video descriptor.
type RawRedditVideo struct {
	FallbackURL string `json:"fallback_url"`
	HLSURL      string `json:"hls_url"`
	DashURL     string `json:"dash_url"`
	HasAudio    bool   `json:"has_audio"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// RawMediaMetadata describes one gallery image.
type RawMediaMetadata struct {
	Status string          `json:"status"`
	E      string          `json:"e"`
	S      *RawMediaSource `json:"s"`
}

// RawMediaSource is the full-size rendition of a gallery image.
type RawMediaSource struct {
	U   string `json:"u"`
	GIF string `json:"gif"`
	MP4 string `json:"mp4"`
	X   int    `json:"x"`
	Y   int    `json:"y"`
}

// RawGalleryData carries the display order of gallery images.
type RawGalleryData struct {
	Items []struct {
		MediaID string `json:"media_id"`
	} `json:"items"`
}

// CommentThing is one child of a comment listing. Kind is "t1" for comments
// and "more" for load-more stubs.
type CommentThing struct {
	Kind string      `json:"kind"`
	Data *RawComment `json:"data"`
}

// RawComment mirrors a reddit t1 payload.
type RawComment struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	Body       string     `json:"body"`
	BodyHTML   *string    `json:"body_html"`
	Score      int        `json:"score"`
	CreatedUTC float64    `json:"created_utc"`
	Replies    RawReplies `json:"replies"`
}

// RawReplies decodes the replies field, which reddit sends either as an empty
// string or as a nested listing.
type RawReplies struct {
	Children []CommentThing
}

func (r *RawReplies) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		r.Children = nil
		return nil
	}
	var listing Listing[CommentThing]
	if err := json.Unmarshal(trimmed, &listing); err != nil {
		return err
	}
	r.Children = listing.Data.Children
	return nil
}

// NormalizePost maps a raw payload onto Post.
func NormalizePost(raw RawPost) Post {
	url := raw.URL
	if raw.URLOverriddenByDest != "" {
		url = raw.URLOverriddenByDest
	}
	post := Post{
		ID:          raw.ID,
		Title:       raw.Title,
		URL:         url,
		Permalink:   canonicalPostURL(raw.Permalink),
		CreatedUTC:  raw.CreatedUTC,
		Author:      raw.Author,
		NumComments: raw.NumComments,
		Score:       raw.Score,
		Subreddit:   raw.Subreddit,
		Selftext:    raw.Selftext,
		Media:       ExtractMedia(raw),
	}
	if raw.SelftextHTML != nil {
		post.SelftextHTML = *raw.SelftextHTML
	}
	return post
}

// NormalizeListing maps every child carrying a post payload, preserving order.
func NormalizeListing(listing Listing[PostThing]) []Post {
	posts := make([]Post, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Data == nil {
			continue
		}
		posts = append(posts, NormalizePost(*child.Data))
	}
	return posts
}

func canonicalPostURL(permalink string) string {
	if permalink == "" {
		return ""
	}
	if strings.HasPrefix(permalink, "http://") || strings.HasPrefix(permalink, "https://") {
		return permalink
	}
	if strings.HasPrefix(permalink, "/") {
		return "https://www.reddit.com" + permalink
	}
	return "https://www.reddit.com/" + permalink
}
