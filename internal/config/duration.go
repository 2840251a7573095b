package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationTerm = regexp.MustCompile(`^([0-9]+(?:\.[0-9]*)?|\.[0-9]+)([a-zA-Zµμ]+)`)

// parseDurationExtended accepts everything time.ParseDuration does plus the
// units d (24h) and w (7d), e.g. "30m", "7d", "1w2d3h", "-1.5d".
func parseDurationExtended(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if !strings.ContainsAny(s, "dw") {
		return time.ParseDuration(s)
	}

	sign := ""
	if s[0] == '-' || s[0] == '+' {
		sign, s = s[:1], s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	var rewritten strings.Builder
	rewritten.WriteString(sign)
	for s != "" {
		m := durationTerm.FindStringSubmatch(s)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		s = s[len(m[0]):]

		hoursPer := 0.0
		switch m[2] {
		case "d":
			hoursPer = 24
		case "w":
			hoursPer = 7 * 24
		default:
			rewritten.WriteString(m[0])
			continue
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		rewritten.WriteString(strconv.FormatFloat(n*hoursPer, 'f', -1, 64))
		rewritten.WriteByte('h')
	}
	return time.ParseDuration(rewritten.String())
}
