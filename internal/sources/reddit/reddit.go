package reddit

import (
	"context"
	"slices"
	"time"
)

// DeletedAuthor is the author value reddit uses for removed accounts.
const DeletedAuthor = "[deleted]"

// Post is a normalized reddit submission.
type Post struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Permalink    string    `json:"permalink"`
	CreatedUTC   float64   `json:"created_utc"`
	Author       string    `json:"author"`
	NumComments  int       `json:"num_comments"`
	Score        int       `json:"score"`
	Subreddit    string    `json:"subreddit"`
	Selftext     string    `json:"selftext"`
	SelftextHTML string    `json:"selftext_html,omitempty"`
	Media        MediaInfo `json:"media"`
}

// CreatedAt converts CreatedUTC into a time.
func (p Post) CreatedAt() time.Time {
	sec := int64(p.CreatedUTC)
	nsec := int64((p.CreatedUTC - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// Clone returns a copy that shares no slices with p.
func (p Post) Clone() Post {
	p.Media.GalleryItems = slices.Clone(p.Media.GalleryItems)
	return p
}

// ClonePosts deep-copies posts so callers can never reach a cached value.
func ClonePosts(posts []Post) []Post {
	if posts == nil {
		return nil
	}
	out := make([]Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
	}
	return out
}

// MediaInfo describes the media attached to a post. URL fields are empty when
// the media kind does not apply.
type MediaInfo struct {
	HasImage      bool          `json:"has_image"`
	HasVideo      bool          `json:"has_video"`
	HasGallery    bool          `json:"has_gallery"`
	ImageURL      string        `json:"image_url,omitempty"`
	VideoURL      string        `json:"video_url,omitempty"`
	AudioURL      string        `json:"audio_url,omitempty"`
	HLSURL        string        `json:"hls_url,omitempty"`
	DashURL       string        `json:"dash_url,omitempty"`
	ThumbnailURL  string        `json:"thumbnail_url,omitempty"`
	HasAudioTrack bool          `json:"has_audio_track"`
	GalleryItems  []GalleryItem `json:"gallery_items,omitempty"`
}

// GalleryItem is a single image of a gallery post.
type GalleryItem struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Comment is a node of a normalized comment tree. Depth is 0 for top-level comments.
type Comment struct {
	ID         string    `json:"id"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	BodyHTML   string    `json:"body_html,omitempty"`
	Score      int       `json:"score"`
	CreatedUTC float64   `json:"created_utc"`
	Depth      int       `json:"depth"`
	Replies    []Comment `json:"replies"`
}

// CloneComments deep-copies a comment forest.
func CloneComments(comments []Comment) []Comment {
	if comments == nil {
		return nil
	}
	out := make([]Comment, len(comments))
	for i, c := range comments {
		c.Replies = CloneComments(c.Replies)
		out[i] = c
	}
	return out
}

// PostWithComments is a single post together with its top-level comment trees.
type PostWithComments struct {
	Post     Post      `json:"post"`
	Comments []Comment `json:"comments"`
}

// Clone returns a copy that shares no slices with p.
func (p PostWithComments) Clone() PostWithComments {
	return PostWithComments{Post: p.Post.Clone(), Comments: CloneComments(p.Comments)}
}

// ContentRef identifies a post by channel and post id.
type ContentRef struct {
	Channel string `json:"channel"`
	PostID  string `json:"post_id"`
}

// Fetcher retrieves normalized reddit content.
type Fetcher interface {
	FetchListing(ctx context.Context, channel string, options FetchOptions) ([]Post, error)
	FetchPostWithComments(ctx context.Context, channel, postID string, options FetchOptions) (PostWithComments, error)
}
