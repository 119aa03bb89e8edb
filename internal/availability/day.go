package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownDay = errors.New("unknown day of week")

// DayOfWeek is a weekday in weekday-then-weekend order, Monday first.
type DayOfWeek int

const (
	Monday DayOfWeek = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Days lists every day in the fixed iteration order used by the legacy adapter.
var Days = [7]DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var dayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func (d DayOfWeek) String() string {
	if !d.Valid() {
		return fmt.Sprintf("DayOfWeek(%d)", int(d))
	}
	return dayNames[d]
}

func (d DayOfWeek) Valid() bool {
	return d >= Monday && d <= Sunday
}

// ParseDayOfWeek accepts full lower/upper case names ("monday", "Monday").
func ParseDayOfWeek(s string) (DayOfWeek, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range dayNames {
		if n == name {
			return DayOfWeek(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDay, s)
}

// DayOf maps a time.Weekday (Sunday = 0) onto DayOfWeek.
func DayOf(wd time.Weekday) DayOfWeek {
	if wd == time.Sunday {
		return Sunday
	}
	return DayOfWeek(wd - 1)
}

func (d DayOfWeek) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDay, int(d))
	}
	return []byte(dayNames[d]), nil
}

func (d *DayOfWeek) UnmarshalText(b []byte) error {
	parsed, err := ParseDayOfWeek(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
