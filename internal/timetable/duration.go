package timetable

import (
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// ParseHumanDuration reads lengths such as "1h 30m", "2h", "45m" or a bare
// number of minutes. Only positive durations are accepted.
func ParseHumanDuration(s string) (time.Duration, bool) {
	return parseHumanDuration(s)
}

func parseHumanDuration(s string) (time.Duration, bool) {
	compact := strings.ToLower(strings.Join(strings.Fields(s), ""))
	if compact == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(compact); err == nil {
		d := time.Duration(n) * time.Minute
		return d, d > 0
	}
	compact = strings.NewReplacer("hours", "h", "hour", "h", "hrs", "h", "hr", "h",
		"minutes", "m", "minute", "m", "mins", "m", "min", "m").Replace(compact)
	d, err := str2duration.ParseDuration(compact)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
