package availability

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LegacyAvailability is the older persisted profile shape:
//
//	{"availableDays": ["monday", ...],
//	 "availableHours": {"start": "09:00", "end": "17:00",
//	                    "monday": {"startTime": "09:00", "endTime": "12:00"}}}
//
// The global start/end pair and the per-day entries may each be absent.
type LegacyAvailability struct {
	AvailableDays  []DayOfWeek `json:"availableDays"`
	AvailableHours LegacyHours `json:"availableHours"`
}

type LegacyHours struct {
	Start  string
	End    string
	PerDay map[DayOfWeek]LegacyDayHours
}

type LegacyDayHours struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (h LegacyHours) hasGlobal() bool {
	return strings.TrimSpace(h.Start) != "" && strings.TrimSpace(h.End) != ""
}

func (h LegacyHours) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(h.PerDay)+2)
	if h.Start != "" {
		m["start"] = h.Start
	}
	if h.End != "" {
		m["end"] = h.End
	}
	for d, hours := range h.PerDay {
		m[d.String()] = hours
	}
	return json.Marshal(m)
}

func (h *LegacyHours) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out LegacyHours
	for key, val := range raw {
		switch key {
		case "start":
			if err := json.Unmarshal(val, &out.Start); err != nil {
				return fmt.Errorf("availableHours.start: %w", err)
			}
		case "end":
			if err := json.Unmarshal(val, &out.End); err != nil {
				return fmt.Errorf("availableHours.end: %w", err)
			}
		default:
			d, err := ParseDayOfWeek(key)
			if err != nil {
				return err
			}
			var hours LegacyDayHours
			if err := json.Unmarshal(val, &hours); err != nil {
				return fmt.Errorf("availableHours.%s: %w", d, err)
			}
			if out.PerDay == nil {
				out.PerDay = make(map[DayOfWeek]LegacyDayHours)
			}
			out.PerDay[d] = hours
		}
	}
	*h = out
	return nil
}

// ToLegacy flattens w into the legacy shape. The global hours come from the
// first enabled day in Monday..Sunday order; every enabled day also gets its
// own per-day entry. With no enabled day the global pair is 09:00-17:00.
func ToLegacy(w WeeklyAvailability) (LegacyAvailability, error) {
	if err := w.Validate(); err != nil {
		return LegacyAvailability{}, err
	}

	out := LegacyAvailability{
		AvailableDays: []DayOfWeek{},
		AvailableHours: LegacyHours{
			Start: FormatTimeOfDay(DefaultStart),
			End:   FormatTimeOfDay(DefaultEnd),
		},
	}

	globalSet := false
	for _, d := range Days {
		win := w[d]
		if !win.Enabled {
			continue
		}
		out.AvailableDays = append(out.AvailableDays, d)
		if !globalSet {
			out.AvailableHours.Start = FormatTimeOfDay(win.Start)
			out.AvailableHours.End = FormatTimeOfDay(win.End)
			globalSet = true
		}
		if out.AvailableHours.PerDay == nil {
			out.AvailableHours.PerDay = make(map[DayOfWeek]LegacyDayHours)
		}
		out.AvailableHours.PerDay[d] = LegacyDayHours{
			StartTime: FormatTimeOfDay(win.Start),
			EndTime:   FormatTimeOfDay(win.End),
		}
	}
	return out, nil
}

// FromLegacy expands the legacy shape. For each day: per-day hours if present,
// else the global pair, else 09:00-17:00. Hours are not auto-corrected; an
// enabled day with start >= end fails with ErrInvalidWindow.
func FromLegacy(l LegacyAvailability) (WeeklyAvailability, error) {
	enabled := make(map[DayOfWeek]bool, len(l.AvailableDays))
	for _, d := range l.AvailableDays {
		if !d.Valid() {
			return WeeklyAvailability{}, fmt.Errorf("%w: %d", ErrUnknownDay, int(d))
		}
		enabled[d] = true
	}

	globalStart, globalEnd := DefaultStart, DefaultEnd
	if l.AvailableHours.hasGlobal() {
		var err error
		if globalStart, err = ParseTimeOfDay(l.AvailableHours.Start); err != nil {
			return WeeklyAvailability{}, fmt.Errorf("availableHours.start: %w", err)
		}
		if globalEnd, err = ParseTimeOfDay(l.AvailableHours.End); err != nil {
			return WeeklyAvailability{}, fmt.Errorf("availableHours.end: %w", err)
		}
	}

	w := NewWeeklyAvailability()
	for _, d := range Days {
		if !enabled[d] {
			continue
		}
		win := DayWindow{Enabled: true, Start: globalStart, End: globalEnd}
		if hours, ok := l.AvailableHours.PerDay[d]; ok {
			start, err := ParseTimeOfDay(hours.StartTime)
			if err != nil {
				return WeeklyAvailability{}, fmt.Errorf("availableHours.%s.startTime: %w", d, err)
			}
			end, err := ParseTimeOfDay(hours.EndTime)
			if err != nil {
				return WeeklyAvailability{}, fmt.Errorf("availableHours.%s.endTime: %w", d, err)
			}
			win.Start, win.End = start, end
		}
		w[d] = win
	}

	if err := w.Validate(); err != nil {
		return WeeklyAvailability{}, err
	}
	return w, nil
}
