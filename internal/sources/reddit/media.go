package reddit

import (
	"regexp"
	"sort"
	"strings"
)

type audioPattern struct {
	match       *regexp.Regexp
	replacement string
}

// audioPatterns are tried in order against the fallback URL path. Newer
// uploads name renditions DASH_720.mp4, older ones DASH_720 with no extension.
var audioPatterns = []audioPattern{
	{match: regexp.MustCompile(`DASH_\d+\.mp4`), replacement: "DASH_AUDIO_128.mp4"},
	{match: regexp.MustCompile(`DASH_\d+`), replacement: "DASH_audio"},
}

// ExtractMedia derives the media descriptor of a raw post.
func ExtractMedia(raw RawPost) MediaInfo {
	var info MediaInfo

	if raw.PostHint == "image" {
		if u := postURL(raw); u != "" {
			info.HasImage = true
			info.ImageURL = u
		}
	}

	if raw.IsVideo {
		if video := redditVideo(raw); video != nil {
			info.HasVideo = true
			info.VideoURL = video.FallbackURL
			info.HLSURL = video.HLSURL
			info.DashURL = video.DashURL
			info.HasAudioTrack = video.HasAudio
			if video.HasAudio {
				info.AudioURL = AudioURL(video.FallbackURL)
			}
		}
	}

	if raw.IsGallery && raw.MediaMetadata != nil {
		info.HasGallery = true
		info.GalleryItems = galleryItems(raw)
	}

	if isAbsoluteURL(raw.Thumbnail) {
		info.ThumbnailURL = raw.Thumbnail
	}

	return info
}

// AudioURL derives the audio-only rendition from a video fallback URL. The
// query string is kept as-is. It returns "" when no pattern matches.
func AudioURL(fallbackURL string) string {
	if fallbackURL == "" {
		return ""
	}
	path, query, hasQuery := strings.Cut(fallbackURL, "?")
	for _, p := range audioPatterns {
		loc := p.match.FindStringIndex(path)
		if loc == nil {
			continue
		}
		rewritten := path[:loc[0]] + p.replacement + path[loc[1]:]
		if hasQuery {
			return rewritten + "?" + query
		}
		return rewritten
	}
	return ""
}

func postURL(raw RawPost) string {
	if raw.URLOverriddenByDest != "" {
		return raw.URLOverriddenByDest
	}
	return raw.URL
}

func redditVideo(raw RawPost) *RawRedditVideo {
	if raw.SecureMedia != nil && raw.SecureMedia.RedditVideo != nil {
		return raw.SecureMedia.RedditVideo
	}
	if raw.Media != nil && raw.Media.RedditVideo != nil {
		return raw.Media.RedditVideo
	}
	return nil
}

func galleryItems(raw RawPost) []GalleryItem {
	ids := make([]string, 0, len(raw.MediaMetadata))
	seen := make(map[string]bool, len(raw.MediaMetadata))
	if raw.GalleryData != nil {
		for _, item := range raw.GalleryData.Items {
			if _, ok := raw.MediaMetadata[item.MediaID]; !ok || seen[item.MediaID] {
				continue
			}
			seen[item.MediaID] = true
			ids = append(ids, item.MediaID)
		}
	}
	rest := make([]string, 0, len(raw.MediaMetadata))
	for id := range raw.MediaMetadata {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	ids = append(ids, rest...)

	items := make([]GalleryItem, 0, len(ids))
	for _, id := range ids {
		source := raw.MediaMetadata[id].S
		if source == nil {
			continue
		}
		u := source.U
		if u == "" {
			u = source.GIF
		}
		if u == "" {
			continue
		}
		items = append(items, GalleryItem{
			URL:    strings.ReplaceAll(u, "&amp;", "&"),
			Width:  source.X,
			Height: source.Y,
		})
	}
	return items
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
