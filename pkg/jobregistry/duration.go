package jobregistry

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRuntime is the estimated runtime used when none is given.
const DefaultRuntime = time.Hour

var runtimePattern = regexp.MustCompile(`^([0-9]+):([0-9]{2})$`)

// ParseDuration parses an estimated runtime written as H:MM (one or more
// hour digits, exactly two minute digits). Empty input yields
// DefaultRuntime.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRuntime, nil
	}
	m := runtimePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q (expected hours:minutes, e.g. 2:30)", ErrInvalidDuration, s)
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, s, err)
	}
	minutes, _ := strconv.Atoi(m[2])
	if minutes > 59 {
		return 0, fmt.Errorf("%w: %q (minutes must be 00-59)", ErrInvalidDuration, s)
	}
	maxHours := (math.MaxInt64 - int64(minutes)*int64(time.Minute)) / int64(time.Hour)
	if int64(hours) > maxHours {
		return 0, fmt.Errorf("%w: %q (runtime too large)", ErrInvalidDuration, s)
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}

// FormatDuration renders d in the H:MM form accepted by ParseDuration.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Minute)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
