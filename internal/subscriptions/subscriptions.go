// Package subscriptions stores the list of channels a reader follows.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bakkerme/mini-reddit/internal/sources/reddit"
)

// DefaultChannels seed a store that has never been written.
var DefaultChannels = []string{"galatasaray", "soccer"}

// ErrInvalidChannel reports a channel name that cannot be subscribed to.
var ErrInvalidChannel = errors.New("invalid channel name")

var channelPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Store persists subscriptions. Add and Remove return the resulting list.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, channel string) ([]string, error)
	Remove(ctx context.Context, channel string) ([]string, error)
	Close() error
}

// Normalize trims a channel name and strips a leading "r/".
func Normalize(channel string) (string, error) {
	name := reddit.CleanChannel(channel)
	if name == "" || !channelPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	return name, nil
}

func appendChannel(channels []string, name string) ([]string, bool) {
	for _, existing := range channels {
		if strings.EqualFold(existing, name) {
			return channels, false
		}
	}
	return append(channels, name), true
}

func removeChannel(channels []string, name string) ([]string, bool) {
	out := make([]string, 0, len(channels))
	removed := false
	for _, existing := range channels {
		if strings.EqualFold(existing, name) {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	return out, removed
}

func cleanDefaults(defaults []string) []string {
	out := []string{}
	for _, d := range defaults {
		name, err := Normalize(d)
		if err != nil {
			continue
		}
		out, _ = appendChannel(out, name)
	}
	return out
}
