package availability

import (
	"encoding/json"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hm(h, m int) civil.Time { return civil.Time{Hour: h, Minute: m} }

func open(start, end civil.Time) DayWindow {
	return DayWindow{Enabled: true, Start: start, End: end}
}

func TestNewWeeklyAvailabilityDefaults(t *testing.T) {
	w := NewWeeklyAvailability()
	for _, d := range Days {
		assert.False(t, w.Day(d).Enabled, d.String())
		assert.Equal(t, DefaultStart, w.Day(d).Start)
		assert.Equal(t, DefaultEnd, w.Day(d).End)
	}
	assert.Empty(t, w.EnabledDays())
}

func TestToLegacyUsesFirstEnabledDayForGlobalHours(t *testing.T) {
	w := NewWeeklyAvailability().
		With(Sunday, open(hm(7, 0), hm(11, 0))).
		With(Wednesday, open(hm(10, 0), hm(14, 30))).
		With(Friday, open(hm(8, 0), hm(12, 0)))

	legacy, err := ToLegacy(w)
	require.NoError(t, err)

	assert.Equal(t, []DayOfWeek{Wednesday, Friday, Sunday}, legacy.AvailableDays)
	assert.Equal(t, "10:00", legacy.AvailableHours.Start)
	assert.Equal(t, "14:30", legacy.AvailableHours.End)
	require.Len(t, legacy.AvailableHours.PerDay, 3)
	assert.Equal(t, LegacyDayHours{StartTime: "07:00", EndTime: "11:00"}, legacy.AvailableHours.PerDay[Sunday])
	assert.Equal(t, LegacyDayHours{StartTime: "08:00", EndTime: "12:00"}, legacy.AvailableHours.PerDay[Friday])
}

func TestToLegacyNoEnabledDays(t *testing.T) {
	legacy, err := ToLegacy(NewWeeklyAvailability())
	require.NoError(t, err)
	assert.Empty(t, legacy.AvailableDays)
	assert.Equal(t, "09:00", legacy.AvailableHours.Start)
	assert.Equal(t, "17:00", legacy.AvailableHours.End)
	assert.Empty(t, legacy.AvailableHours.PerDay)
}

func TestToLegacyRejectsInvertedWindow(t *testing.T) {
	w := NewWeeklyAvailability().With(Tuesday, open(hm(12, 0), hm(9, 0)))
	_, err := ToLegacy(w)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestFromLegacy(t *testing.T) {
	tests := []struct {
		name    string
		legacy  LegacyAvailability
		want    WeeklyAvailability
		wantErr error
	}{
		{
			name: "global hours applied to every enabled day",
			legacy: LegacyAvailability{
				AvailableDays:  []DayOfWeek{Monday, Thursday},
				AvailableHours: LegacyHours{Start: "08:30", End: "16:00"},
			},
			want: NewWeeklyAvailability().
				With(Monday, open(hm(8, 30), hm(16, 0))).
				With(Thursday, open(hm(8, 30), hm(16, 0))),
		},
		{
			name: "per-day hours beat global",
			legacy: LegacyAvailability{
				AvailableDays: []DayOfWeek{Monday, Tuesday},
				AvailableHours: LegacyHours{
					Start: "09:00", End: "17:00",
					PerDay: map[DayOfWeek]LegacyDayHours{Tuesday: {StartTime: "13:00", EndTime: "18:00"}},
				},
			},
			want: NewWeeklyAvailability().
				With(Monday, open(hm(9, 0), hm(17, 0))).
				With(Tuesday, open(hm(13, 0), hm(18, 0))),
		},
		{
			name:   "no hours at all falls back to defaults",
			legacy: LegacyAvailability{AvailableDays: []DayOfWeek{Saturday}},
			want:   NewWeeklyAvailability().With(Saturday, open(DefaultStart, DefaultEnd)),
		},
		{
			name: "malformed global time",
			legacy: LegacyAvailability{
				AvailableDays:  []DayOfWeek{Monday},
				AvailableHours: LegacyHours{Start: "9am", End: "17:00"},
			},
			wantErr: ErrInvalidTimeFormat,
		},
		{
			name: "malformed per-day time",
			legacy: LegacyAvailability{
				AvailableDays: []DayOfWeek{Monday},
				AvailableHours: LegacyHours{
					PerDay: map[DayOfWeek]LegacyDayHours{Monday: {StartTime: "25:00", EndTime: "26:00"}},
				},
			},
			wantErr: ErrInvalidTimeFormat,
		},
		{
			name: "inverted window is not auto-corrected",
			legacy: LegacyAvailability{
				AvailableDays:  []DayOfWeek{Friday},
				AvailableHours: LegacyHours{Start: "17:00", End: "09:00"},
			},
			wantErr: ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromLegacy(tt.legacy)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTripUniformHours(t *testing.T) {
	samples := []WeeklyAvailability{
		NewWeeklyAvailability(),
		NewWeeklyAvailability().With(Monday, open(hm(9, 0), hm(12, 0))),
		NewWeeklyAvailability().
			With(Monday, open(hm(7, 15), hm(15, 45))).
			With(Wednesday, open(hm(7, 15), hm(15, 45))).
			With(Sunday, open(hm(7, 15), hm(15, 45))),
	}
	for _, w := range samples {
		require.True(t, w.UniformHours())
		legacy, err := ToLegacy(w)
		require.NoError(t, err)
		back, err := FromLegacy(legacy)
		require.NoError(t, err)
		assert.Equal(t, w, back)
	}
}

// A legacy writer that only kept the global pair flattens every enabled day
// onto the first enabled day's hours. This is the documented fidelity gap.
func TestRoundTripThroughGlobalOnlyLegacyIsLossy(t *testing.T) {
	w := NewWeeklyAvailability().
		With(Monday, open(hm(9, 0), hm(12, 0))).
		With(Friday, open(hm(13, 0), hm(17, 0)))

	legacy, err := ToLegacy(w)
	require.NoError(t, err)
	legacy.AvailableHours.PerDay = nil

	back, err := FromLegacy(legacy)
	require.NoError(t, err)
	assert.False(t, w.Equivalent(back))
	assert.Equal(t, open(hm(9, 0), hm(12, 0)), back.Day(Friday))
}

func TestLegacyJSONShape(t *testing.T) {
	raw := `{"availableDays":["monday","Tuesday"],"availableHours":{"start":"09:00","end":"17:00","tuesday":{"startTime":"10:00","endTime":"11:00"}}}`

	var legacy LegacyAvailability
	require.NoError(t, json.Unmarshal([]byte(raw), &legacy))
	assert.Equal(t, []DayOfWeek{Monday, Tuesday}, legacy.AvailableDays)
	assert.Equal(t, "09:00", legacy.AvailableHours.Start)
	assert.Equal(t, LegacyDayHours{StartTime: "10:00", EndTime: "11:00"}, legacy.AvailableHours.PerDay[Tuesday])

	out, err := json.Marshal(legacy)
	require.NoError(t, err)
	assert.JSONEq(t, `{"availableDays":["monday","tuesday"],"availableHours":{"start":"09:00","end":"17:00","tuesday":{"startTime":"10:00","endTime":"11:00"}}}`, string(out))
}

func TestLegacyJSONRejectsUnknownDay(t *testing.T) {
	var legacy LegacyAvailability
	err := json.Unmarshal([]byte(`{"availableDays":["funday"],"availableHours":{}}`), &legacy)
	assert.ErrorIs(t, err, ErrUnknownDay)
}
