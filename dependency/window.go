package dependency

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is used whenever a window string cannot be parsed.
const DefaultWindow = 7 * 24 * time.Hour

var windowPattern = regexp.MustCompile(`^(\d+)\s*(ms|s|m|h|d|w)$`)

var windowUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
}

// ParseWindow parses strings such as "30m", "24h", "7d" or "2w". Malformed input falls back
// to DefaultWindow and is logged at debug level.
func ParseWindow(raw string, logger *zap.Logger) time.Duration {
	window, ok := parseWindow(raw)
	if !ok {
		if logger != nil {
			logger.Debug("malformed time window, using default",
				zap.String("window", raw),
				zap.Duration("default", DefaultWindow))
		}
		return DefaultWindow
	}
	return window
}

// ValidWindow reports whether raw parses without falling back to the default.
func ValidWindow(raw string) bool {
	_, ok := parseWindow(raw)
	return ok
}

func parseWindow(raw string) (time.Duration, bool) {
	match := windowPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if match == nil {
		return 0, false
	}
	amount, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return time.Duration(amount) * windowUnits[match[2]], true
}
