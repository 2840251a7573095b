package reddit

import (
	"regexp"
	"strings"
)

var contentPathPattern = regexp.MustCompile(`(?:^|/)r/([A-Za-z0-9_]+)/comments/([A-Za-z0-9]+)(?:/|$)`)

// ParseContentURL extracts the channel and post id from a post link such as
// https://www.reddit.com/r/golang/comments/abc123/title/. Scheme and host are
// optional. Anything else reports false.
func ParseContentURL(raw string) (ContentRef, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return ContentRef{}, false
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	m := contentPathPattern.FindStringSubmatch(s)
	if m == nil {
		return ContentRef{}, false
	}
	return ContentRef{Channel: m[1], PostID: m[2]}, true
}
