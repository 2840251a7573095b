package reddit

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable reports that reddit could not be reached at all.
	ErrUnavailable = errors.New("reddit unavailable")
	// ErrNotFound reports a successful response that carried no post.
	ErrNotFound = errors.New("reddit post not found")
	// ErrInvalidOptions reports fetch options rejected before any request.
	ErrInvalidOptions = errors.New("invalid reddit fetch options")
)

// UpstreamError is returned when reddit answers with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Status     string
}

func (e *UpstreamError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("reddit api error: %s", status)
}

// StatusCode extracts the upstream status from err, or 0 when err is not an UpstreamError.
func StatusCode(err error) int {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.StatusCode
	}
	return 0
}
