package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrInvalidWindow     = errors.New("start time must be before end time")
)

var (
	DefaultStart = civil.Time{Hour: 9}
	DefaultEnd   = civil.Time{Hour: 17}
)

// ParseTimeOfDay parses "HH:MM" wall-clock times. "HH:MM:00" is accepted
// for stored values; any other seconds are refused since scheduling works
// in whole minutes.
func ParseTimeOfDay(s string) (civil.Time, error) {
	raw := strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if t.Second() != 0 || t.Nanosecond() != 0 {
			return civil.Time{}, fmt.Errorf("%w: %q has seconds", ErrInvalidTimeFormat, s)
		}
		return civil.TimeOf(t), nil
	}
	return civil.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
}

// FormatTimeOfDay renders t as "HH:MM".
func FormatTimeOfDay(t civil.Time) string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight, dropping seconds.
func Minutes(t civil.Time) int {
	return t.Hour*60 + t.Minute
}

// TimeFromMinutes is the inverse of Minutes.
func TimeFromMinutes(m int) civil.Time {
	return civil.Time{Hour: m / 60, Minute: m % 60}
}
