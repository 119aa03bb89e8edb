package availability

import (
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
)

// DayWindow is one day of the recurring weekly template.
type DayWindow struct {
	Enabled bool
	Start   civil.Time
	End     civil.Time
}

// Validate enforces Start < End on enabled days only.
func (w DayWindow) Validate() error {
	if !w.Enabled {
		return nil
	}
	if Minutes(w.Start) >= Minutes(w.End) {
		return fmt.Errorf("%w: %s-%s", ErrInvalidWindow, FormatTimeOfDay(w.Start), FormatTimeOfDay(w.End))
	}
	return nil
}

func (w DayWindow) sameHours(o DayWindow) bool {
	return Minutes(w.Start) == Minutes(o.Start) && Minutes(w.End) == Minutes(o.End)
}

type dayWindowJSON struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (w DayWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(dayWindowJSON{
		Enabled:   w.Enabled,
		StartTime: FormatTimeOfDay(w.Start),
		EndTime:   FormatTimeOfDay(w.End),
	})
}

func (w *DayWindow) UnmarshalJSON(b []byte) error {
	var raw dayWindowJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	start, err := ParseTimeOfDay(raw.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseTimeOfDay(raw.EndTime)
	if err != nil {
		return err
	}
	*w = DayWindow{Enabled: raw.Enabled, Start: start, End: end}
	return nil
}

// WeeklyAvailability is the canonical recurring template, one window per day.
// It is a value type: With returns a modified copy.
type WeeklyAvailability [7]DayWindow

// NewWeeklyAvailability returns every day disabled with 09:00-17:00 hours.
func NewWeeklyAvailability() WeeklyAvailability {
	var w WeeklyAvailability
	for _, d := range Days {
		w[d] = DayWindow{Start: DefaultStart, End: DefaultEnd}
	}
	return w
}

func (w WeeklyAvailability) Day(d DayOfWeek) DayWindow {
	return w[d]
}

func (w WeeklyAvailability) With(d DayOfWeek, win DayWindow) WeeklyAvailability {
	w[d] = win
	return w
}

// EnabledDays returns enabled days in Monday..Sunday order.
func (w WeeklyAvailability) EnabledDays() []DayOfWeek {
	var out []DayOfWeek
	for _, d := range Days {
		if w[d].Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Validate reports the first enabled day whose window is empty or inverted.
func (w WeeklyAvailability) Validate() error {
	for _, d := range Days {
		if err := w[d].Validate(); err != nil {
			return fmt.Errorf("%s: %w", d, err)
		}
	}
	return nil
}

// Equivalent compares enabled flags and, for enabled days, hours.
// Hours on disabled days carry no meaning and are ignored.
func (w WeeklyAvailability) Equivalent(o WeeklyAvailability) bool {
	for _, d := range Days {
		if w[d].Enabled != o[d].Enabled {
			return false
		}
		if w[d].Enabled && !w[d].sameHours(o[d]) {
			return false
		}
	}
	return true
}

// UniformHours reports whether all enabled days share identical hours.
func (w WeeklyAvailability) UniformHours() bool {
	var first *DayWindow
	for _, d := range Days {
		if !w[d].Enabled {
			continue
		}
		win := w[d]
		if first == nil {
			first = &win
			continue
		}
		if !first.sameHours(win) {
			return false
		}
	}
	return true
}

var errMissingDay = errors.New("weekly availability missing day")

func (w WeeklyAvailability) MarshalJSON() ([]byte, error) {
	m := make(map[string]DayWindow, len(Days))
	for _, d := range Days {
		m[d.String()] = w[d]
	}
	return json.Marshal(m)
}

// UnmarshalJSON requires exactly the seven day keys; unknown or missing keys fail.
func (w *WeeklyAvailability) UnmarshalJSON(b []byte) error {
	var m map[string]DayWindow
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out WeeklyAvailability
	var seen [7]bool
	for key, win := range m {
		d, err := ParseDayOfWeek(key)
		if err != nil {
			return err
		}
		out[d] = win
		seen[d] = true
	}
	for _, d := range Days {
		if !seen[d] {
			return fmt.Errorf("%w: %s", errMissingDay, d)
		}
	}
	*w = out
	return nil
}
