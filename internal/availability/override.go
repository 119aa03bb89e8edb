package availability

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Override replaces the weekly template for a single date. IsAvailable=false
// closes the whole date; IsAvailable=true opens [Start, End) even when the
// weekly day is disabled.
type Override struct {
	Date        civil.Date
	Start       civil.Time
	End         civil.Time
	IsAvailable bool
}

type overrideJSON struct {
	Date        civil.Date `json:"date"`
	StartTime   string     `json:"startTime"`
	EndTime     string     `json:"endTime"`
	IsAvailable bool       `json:"isAvailable"`
}

func (o Override) MarshalJSON() ([]byte, error) {
	return json.Marshal(overrideJSON{
		Date:        o.Date,
		StartTime:   FormatTimeOfDay(o.Start),
		EndTime:     FormatTimeOfDay(o.End),
		IsAvailable: o.IsAvailable,
	})
}

// UnmarshalJSON tolerates missing times on closures ("isAvailable": false).
func (o *Override) UnmarshalJSON(b []byte) error {
	var raw overrideJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Override{Date: raw.Date, IsAvailable: raw.IsAvailable}
	if raw.StartTime != "" || raw.IsAvailable {
		start, err := ParseTimeOfDay(raw.StartTime)
		if err != nil {
			return err
		}
		out.Start = start
	}
	if raw.EndTime != "" || raw.IsAvailable {
		end, err := ParseTimeOfDay(raw.EndTime)
		if err != nil {
			return err
		}
		out.End = end
	}
	*o = out
	return nil
}

func (o Override) Validate() error {
	if !o.Date.IsValid() {
		return fmt.Errorf("override date %q is not a valid date", o.Date)
	}
	if err := o.Window().Validate(); err != nil {
		return fmt.Errorf("override %s: %w", o.Date, err)
	}
	return nil
}

// Window converts the override into the DayWindow used for its date.
func (o Override) Window() DayWindow {
	return DayWindow{Enabled: o.IsAvailable, Start: o.Start, End: o.End}
}

// IndexOverrides keys overrides by date; a later entry for the same date wins.
func IndexOverrides(overrides []Override) map[civil.Date]Override {
	idx := make(map[civil.Date]Override, len(overrides))
	for _, o := range overrides {
		idx[o.Date] = o
	}
	return idx
}

// WindowOn returns the effective window for date: the override when one
// exists, otherwise the weekly entry for the date's weekday.
func (w WeeklyAvailability) WindowOn(date civil.Date, overrides map[civil.Date]Override) DayWindow {
	if o, ok := overrides[date]; ok {
		return o.Window()
	}
	return w[WeekdayOf(date)]
}

// WeekdayOf returns the DayOfWeek of a calendar date.
func WeekdayOf(date civil.Date) DayOfWeek {
	return DayOf(date.In(time.UTC).Weekday())
}
