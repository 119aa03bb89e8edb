package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
	"github.com/hackgods/clinic-booking-scheduler/internal/clock"
	"github.com/hackgods/clinic-booking-scheduler/internal/config"
	"github.com/hackgods/clinic-booking-scheduler/internal/profile"
	redisclient "github.com/hackgods/clinic-booking-scheduler/internal/redis"
	"github.com/hackgods/clinic-booking-scheduler/internal/slots"
	"github.com/hackgods/clinic-booking-scheduler/internal/workflow"
)

// 2024-01-01 is a Monday.
var testNow = time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

type testServer struct {
	handler      http.Handler
	practitioner uuid.UUID
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()
	return newTestServerWithDrafts(t, workflow.NewMemoryDraftStore(time.Hour), deps...)
}

func newTestServerWithDrafts(t *testing.T, drafts workflow.DraftStore, deps ...Dependency) *testServer {
	t.Helper()
	clk := clock.Fixed(testNow)
	prev := timeNow
	timeNow = clk.Now
	t.Cleanup(func() { timeNow = prev })

	cfg := config.Default()
	logger := zerolog.Nop()

	repo := appointment.NewMemoryRepository()
	ledger := appointment.NewService(repo, redisclient.NewLocalCalendarLocker(time.Second), cfg,
		appointment.WithClock(clk), appointment.WithLogger(logger))

	profiles := profile.NewMemoryStore()
	p, err := profiles.Create(context.Background(), profile.Practitioner{
		Name:        "Dr Ada Byron",
		Specialty:   "physiotherapy",
		TimeZone:    "UTC",
		SlotMinutes: 30,
		Weekly: availability.NewWeeklyAvailability().With(availability.Monday, availability.DayWindow{
			Enabled: true, Start: civil.Time{Hour: 9}, End: civil.Time{Hour: 12},
		}),
	})
	require.NoError(t, err)

	finder := slots.NewFinder(profiles, slots.NewGenerator(ledger, clk, cfg.MaxHorizonDays, nil))
	wf := workflow.New(ledger, finder, clk, "GB", nil, logger)

	return &testServer{
		handler: NewRouter(RouterConfig{
			Ledger:         ledger,
			Slots:          finder,
			Profiles:       profiles,
			Workflow:       wf,
			Drafts:         drafts,
			Health:         deps,
			Logger:         logger,
			Env:            "test",
			Version:        "v-test",
			MaxHorizonDays: cfg.MaxHorizonDays,
		}),
		practitioner: p.ID,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) slotBody(start, end string) SlotBody {
	return SlotBody{
		PractitionerID: s.practitioner.String(),
		Date:           "2024-01-01",
		StartTime:      start,
		EndTime:        end,
	}
}

func (s *testServer) reserve(t *testing.T, start, end string) BookingResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/bookings", ReserveRequest{SlotBody: s.slotBody(start, end), ClientID: "client-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BookingResponse](t, rec)
}

func startTimes(bodies []SlotBody) []string {
	out := make([]string, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, b.StartTime)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	tests := []struct {
		name       string
		deps       []Dependency
		wantCode   int
		wantStatus string
	}{
		{"all up", []Dependency{{Name: "postgres", Critical: true, Ping: up}}, http.StatusOK, "ok"},
		{"optional down", []Dependency{{Name: "postgres", Critical: true, Ping: up}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"critical down", []Dependency{{Name: "postgres", Critical: true, Ping: down}}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.deps...)

			live := srv.do(t, http.MethodGet, "/health/live", nil)
			assert.Equal(t, http.StatusOK, live.Code)

			rec := srv.do(t, http.MethodGet, "/health/ready", nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decode[ReadinessResponse](t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "v-test", resp.Version)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestListSlots(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/practitioners/"+srv.practitioner.String()+"/slots?from=2024-01-01&to=2024-01-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[[]SlotBody](t, rec)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}, startTimes(got))
}

func TestListSlotsRejectsBadRanges(t *testing.T) {
	srv := newTestServer(t)
	base := "/practitioners/" + srv.practitioner.String() + "/slots"

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"inverted", "?from=2024-01-10&to=2024-01-01", "invalid_range"},
		{"malformed", "?from=01/01/2024", "invalid_range"},
		{"too long", "?from=2024-01-01&to=2024-12-31", "horizon_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, base+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}

	rec := srv.do(t, http.MethodGet, "/practitioners/"+uuid.NewString()+"/slots", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReserveConflictReturnsFreshSlots(t *testing.T) {
	srv := newTestServer(t)

	b := srv.reserve(t, "09:00", "09:30")
	assert.Equal(t, "pending", b.Status)
	assert.Equal(t, "09:00", b.StartTime)
	require.Len(t, b.History, 1)
	assert.Equal(t, "created", b.History[0].Action)

	rec := srv.do(t, http.MethodPost, "/bookings", ReserveRequest{SlotBody: srv.slotBody("09:00", "09:30"), ClientID: "client-2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[ConflictResponse](t, rec)
	assert.Equal(t, "slot_conflict", conflict.Error)
	assert.Equal(t, []string{"09:30", "10:00", "10:30", "11:00", "11:30"}, startTimes(conflict.AvailableSlots))
}

func TestReserveRejectsSlotsNotOnOffer(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/bookings", ReserveRequest{SlotBody: srv.slotBody("09:10", "09:40")})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/bookings", ReserveRequest{SlotBody: srv.slotBody("9am", "09:30")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time_format", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/bookings", `{"practitioner_id": "x", "surprise": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decode[ErrorResponse](t, rec).Error)
}

func TestBookingLifecycle(t *testing.T) {
	srv := newTestServer(t)
	b := srv.reserve(t, "10:00", "10:30")
	path := "/bookings/" + b.ID.String()

	rec := srv.do(t, http.MethodPost, path+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decode[BookingResponse](t, rec).Status)

	rec = srv.do(t, http.MethodPost, path+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[BookingResponse](t, rec).Status)

	rec = srv.do(t, http.MethodPost, path+"/cancel", CancelRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_terminal", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[BookingResponse](t, rec)
	assert.Equal(t, "completed", got.Status)
	assert.Len(t, got.History, 3)
}

func TestCancelRecordsActorAndReason(t *testing.T) {
	srv := newTestServer(t)
	b := srv.reserve(t, "11:00", "11:30")

	req := httptest.NewRequest(http.MethodPost, "/bookings/"+b.ID.String()+"/cancel", bytes.NewBufferString(`{"reason":"client called"}`))
	req.Header.Set(actorHeader, "front-desk")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "cancelled", decode[BookingResponse](t, rec).Status)

	rec = srv.do(t, http.MethodGet, "/bookings/"+b.ID.String(), nil)
	got := decode[BookingResponse](t, rec)
	require.Len(t, got.History, 2)
	last := got.History[1]
	assert.Equal(t, "front-desk", last.Actor)
	assert.Equal(t, "client called", last.Reason)

	// the interval is free again
	srv.reserve(t, "11:00", "11:30")
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	srv := newTestServer(t)
	b := srv.reserve(t, "09:30", "10:00")

	rec := srv.do(t, http.MethodPost, "/bookings/"+b.ID.String()+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)
}

func TestBookingLookupErrors(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/bookings/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "booking_not_found", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/bookings/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decode[ErrorResponse](t, rec).Error)
}

func TestRescheduleMovesBooking(t *testing.T) {
	srv := newTestServer(t)
	a := srv.reserve(t, "09:00", "09:30")
	b := srv.reserve(t, "10:00", "10:30")

	rec := srv.do(t, http.MethodPost, "/bookings/"+a.ID.String()+"/reschedule", RescheduleRequest{
		Date: "2024-01-01", StartTime: "10:00", EndTime: "10:30",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/bookings/"+a.ID.String()+"/reschedule", RescheduleRequest{
		Date: "2024-01-01", StartTime: "11:00", EndTime: "11:30",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[BookingResponse](t, rec)
	assert.Equal(t, a.ID, moved.ID)
	assert.Equal(t, "11:00", moved.StartTime)

	rec = srv.do(t, http.MethodGet, "/practitioners/"+srv.practitioner.String()+"/bookings?from=2024-01-01&to=2024-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]BookingResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestReserveRejectsSeconds(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/bookings", ReserveRequest{SlotBody: srv.slotBody("09:00:30", "09:30"), ClientID: "client-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time_format", decode[ErrorResponse](t, rec).Error)

	// whole-minute seconds are the same slot
	rec = srv.do(t, http.MethodPost, "/bookings", ReserveRequest{SlotBody: srv.slotBody("09:00:00", "09:30:00"), ClientID: "client-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "09:00", decode[BookingResponse](t, rec).StartTime)
}

func TestRescheduleRefusesSlotsNotOffered(t *testing.T) {
	srv := newTestServer(t)
	a := srv.reserve(t, "09:00", "09:30")
	path := "/bookings/" + a.ID.String() + "/reschedule"

	tests := []struct {
		name string
		req  RescheduleRequest
	}{
		{"closed day", RescheduleRequest{Date: "2024-01-07", StartTime: "03:00", EndTime: "03:07"}},
		{"off grid", RescheduleRequest{Date: "2024-01-01", StartTime: "09:10", EndTime: "09:40"}},
		{"outside hours", RescheduleRequest{Date: "2024-01-01", StartTime: "13:00", EndTime: "13:30"}},
		{"in the past", RescheduleRequest{Date: "2023-12-25", StartTime: "09:00", EndTime: "09:30"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, path, tt.req)
			require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
			assert.Equal(t, "slot_conflict", decode[ConflictResponse](t, rec).Error)
		})
	}

	rec := srv.do(t, http.MethodGet, "/bookings/"+a.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[BookingResponse](t, rec)
	assert.Equal(t, "2024-01-01", got.Date)
	assert.Equal(t, "09:00", got.StartTime)
}

func TestPractitionerCreateAndGet(t *testing.T) {
	srv := newTestServer(t)

	weekly := availability.NewWeeklyAvailability().With(availability.Friday, availability.DayWindow{
		Enabled: true, Start: civil.Time{Hour: 13}, End: civil.Time{Hour: 17},
	})
	rec := srv.do(t, http.MethodPost, "/practitioners", PractitionerRequest{
		Name:         "Dr Grace Hopper",
		TimeZone:     "Europe/London",
		SlotMinutes:  20,
		LeadMinutes:  60,
		Availability: weekly,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[PractitionerResponse](t, rec)
	assert.Equal(t, 60, created.LeadMinutes)
	assert.True(t, created.Availability.Equivalent(weekly))

	rec = srv.do(t, http.MethodGet, "/practitioners/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dr Grace Hopper", decode[PractitionerResponse](t, rec).Name)

	rec = srv.do(t, http.MethodGet, "/practitioners", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PractitionerResponse](t, rec), 2)

	rec = srv.do(t, http.MethodPost, "/practitioners", PractitionerRequest{Name: "", SlotMinutes: 30})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_profile", decode[ErrorResponse](t, rec).Error)
}

func TestAvailabilityLegacyShape(t *testing.T) {
	srv := newTestServer(t)
	path := "/practitioners/" + srv.practitioner.String() + "/availability"

	rec := srv.do(t, http.MethodPut, path+"?format=legacy",
		`{"availableDays":["tuesday"],"availableHours":{"start":"10:00","end":"12:00"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	weekly := decode[availability.WeeklyAvailability](t, rec)
	assert.Equal(t, []availability.DayOfWeek{availability.Tuesday}, weekly.EnabledDays())
	assert.Equal(t, "10:00", availability.FormatTimeOfDay(weekly.Day(availability.Tuesday).Start))

	rec = srv.do(t, http.MethodGet, path+"?format=legacy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	legacy := decode[availability.LegacyAvailability](t, rec)
	assert.Equal(t, []availability.DayOfWeek{availability.Tuesday}, legacy.AvailableDays)
	assert.Equal(t, "12:00", legacy.AvailableHours.End)

	// Monday is no longer offered
	rec = srv.do(t, http.MethodGet, "/practitioners/"+srv.practitioner.String()+"/slots?from=2024-01-01&to=2024-01-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"10:00", "10:30", "11:00", "11:30"}, startTimes(decode[[]SlotBody](t, rec)))
}

func TestAvailabilityRejectsInvertedWindow(t *testing.T) {
	srv := newTestServer(t)
	weekly := availability.NewWeeklyAvailability().With(availability.Monday, availability.DayWindow{
		Enabled: true, Start: civil.Time{Hour: 12}, End: civil.Time{Hour: 9},
	})

	rec := srv.do(t, http.MethodPut, "/practitioners/"+srv.practitioner.String()+"/availability", weekly)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_window", decode[ErrorResponse](t, rec).Error)
}

func TestOverridesCloseAndReopenDate(t *testing.T) {
	srv := newTestServer(t)
	base := "/practitioners/" + srv.practitioner.String()
	slotsPath := base + "/slots?from=2024-01-01&to=2024-01-01"

	rec := srv.do(t, http.MethodPut, base+"/overrides/2024-01-01", `{"isAvailable": false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, slotsPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]SlotBody](t, rec))

	rec = srv.do(t, http.MethodPut, base+"/overrides/2024-01-01", `{"isAvailable": true, "startTime": "14:00", "endTime": "15:00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = srv.do(t, http.MethodGet, slotsPath, nil)
	assert.Equal(t, []string{"14:00", "14:30"}, startTimes(decode[[]SlotBody](t, rec)))

	rec = srv.do(t, http.MethodDelete, base+"/overrides/2024-01-01", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = srv.do(t, http.MethodGet, slotsPath, nil)
	assert.Len(t, decode[[]SlotBody](t, rec), 6)

	rec = srv.do(t, http.MethodPut, base+"/overrides/2024-13-01", `{"isAvailable": false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func (s *testServer) fillDraft(t *testing.T, start, end string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/drafts", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/drafts/" + decode[DraftResponse](t, rec).ID.String()

	slot := s.slotBody(start, end)
	steps := []struct {
		method, path string
		body         any
	}{
		{http.MethodPut, path + "/selection", SelectionRequest{Slot: &slot, Service: "initial assessment", Location: "Camden"}},
		{http.MethodPost, path + "/advance", nil},
		{http.MethodPut, path + "/client", map[string]string{
			"full_name": "Ada Lovelace", "date_of_birth": "1990-05-01", "sex_at_birth": "female",
			"email": "Ada@Example.com", "phone": "+44 20 7946 0000",
		}},
		{http.MethodPost, path + "/advance", nil},
		{http.MethodPut, path + "/address", workflow.Address{Street: "1 Main St", City: "London", Postcode: "SW1A 1AA"}},
	}
	for _, st := range steps {
		rec := s.do(t, st.method, st.path, st.body)
		require.Equal(t, http.StatusOK, rec.Code, "%s %s: %s", st.method, st.path, rec.Body.String())
	}
	return path
}

func TestDraftFlowCommits(t *testing.T) {
	srv := newTestServer(t)
	path := srv.fillDraft(t, "09:00", "09:30")

	rec := srv.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.EnteringAddress, decode[DraftResponse](t, rec).Step)

	rec = srv.do(t, http.MethodPost, path+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[CommitResponse](t, rec)
	assert.False(t, res.Conflict)
	require.NotNil(t, res.Booking)
	assert.Equal(t, "ada@example.com", res.Booking.ClientID)
	assert.Equal(t, workflow.Confirmed, res.Draft.Step)
	require.NotNil(t, res.Draft.BookingID)
	assert.Equal(t, res.Booking.ID, *res.Draft.BookingID)

	rec = srv.do(t, http.MethodPost, path+"/commit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_step", decode[ErrorResponse](t, rec).Error)
}

func TestDraftCommitConflictGoesBackToSelection(t *testing.T) {
	srv := newTestServer(t)
	first := srv.fillDraft(t, "09:00", "09:30")
	second := srv.fillDraft(t, "09:00", "09:30")

	rec := srv.do(t, http.MethodPost, first+"/commit", CommitRequest{ClientID: "client-a"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, second+"/commit", CommitRequest{ClientID: "client-b"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	res := decode[CommitResponse](t, rec)
	assert.True(t, res.Conflict)
	assert.Nil(t, res.Booking)
	assert.Equal(t, workflow.SelectingSlot, res.Draft.Step)
	assert.Nil(t, res.Draft.Selection.Slot)
	assert.Equal(t, workflow.ConflictNotice, res.Draft.Notice)
	assert.Equal(t, "Ada Lovelace", res.Draft.Client.FullName)
	assert.NotContains(t, startTimes(res.Alternatives), "09:00")

	// the stored draft reflects the conflict
	rec = srv.do(t, http.MethodGet, second, nil)
	assert.Equal(t, workflow.SelectingSlot, decode[DraftResponse](t, rec).Step)
}

func TestDraftGatesAndBack(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/drafts", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/drafts/" + decode[DraftResponse](t, rec).ID.String()

	rec = srv.do(t, http.MethodPost, path+"/advance", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	verr := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", verr.Error)
	assert.Contains(t, verr.Fields, "slot")
	assert.Contains(t, verr.Fields, "service")
	assert.Contains(t, verr.Fields, "location")

	rec = srv.do(t, http.MethodPost, path+"/commit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	slot := srv.slotBody("10:00", "10:30")
	rec = srv.do(t, http.MethodPut, path+"/selection", SelectionRequest{Slot: &slot, Service: "review", Location: "Camden"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = srv.do(t, http.MethodPost, path+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.EnteringClientDetails, decode[DraftResponse](t, rec).Step)

	rec = srv.do(t, http.MethodPost, path+"/back", BackRequest{Step: workflow.SelectingSlot})
	require.Equal(t, http.StatusOK, rec.Code)
	back := decode[DraftResponse](t, rec)
	assert.Equal(t, workflow.SelectingSlot, back.Step)
	require.NotNil(t, back.Selection.Slot)
	assert.Equal(t, "10:00", back.Selection.Slot.StartTime)

	rec = srv.do(t, http.MethodPost, path+"/back", BackRequest{Step: workflow.EnteringAddress})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodGet, "/drafts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "draft_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestDraftFlowWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	srv := newTestServerWithDrafts(t, workflow.NewRedisDraftStore(client, time.Hour))

	rec := srv.do(t, http.MethodPost, "/drafts", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	fresh := decode[DraftResponse](t, rec)
	assert.Nil(t, fresh.Client.DateOfBirth)

	rec = srv.do(t, http.MethodGet, "/drafts/"+fresh.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	path := srv.fillDraft(t, "09:00", "09:30")
	rec = srv.do(t, http.MethodPost, path+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[CommitResponse](t, rec)
	require.NotNil(t, res.Draft.Client.DateOfBirth)
	assert.Equal(t, "1990-05-01", res.Draft.Client.DateOfBirth.String())
	assert.False(t, mr.Exists("draft:commit:"+res.Draft.ID.String()), "commit guard released")
}

func TestDraftSelectionMustBeOffered(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/drafts", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/drafts/" + decode[DraftResponse](t, rec).ID.String()

	odd := SlotBody{PractitionerID: srv.practitioner.String(), Date: "2023-06-04", StartTime: "03:00", EndTime: "03:07"}
	rec = srv.do(t, http.MethodPut, path+"/selection", SelectionRequest{Slot: &odd, Service: "review", Location: "Camden"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "slot_conflict", decode[ConflictResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[DraftResponse](t, rec).Selection.Slot, "refused selection is not stored")
}

func TestDraftCommitRechecksAvailability(t *testing.T) {
	srv := newTestServer(t)
	path := srv.fillDraft(t, "09:00", "09:30")

	// the practitioner closes the day after the slot was chosen
	rec := srv.do(t, http.MethodPut, "/practitioners/"+srv.practitioner.String()+"/overrides/2024-01-01", `{"isAvailable": false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, path+"/commit", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	res := decode[CommitResponse](t, rec)
	assert.True(t, res.Conflict)
	assert.Equal(t, workflow.SelectingSlot, res.Draft.Step)
	assert.Nil(t, res.Booking)

	rec = srv.do(t, http.MethodGet, "/practitioners/"+srv.practitioner.String()+"/bookings?from=2024-01-01&to=2024-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]BookingResponse](t, rec))
}

func TestDraftDoubleCommitBooksOnce(t *testing.T) {
	srv := newTestServer(t)
	path := srv.fillDraft(t, "09:00", "09:30")

	const clicks = 4
	codes := make([]int, clicks)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := httptest.NewRequest(http.MethodPost, path+"/commit", nil)
			rec := httptest.NewRecorder()
			srv.handler.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, conflict int
	for _, c := range codes {
		switch c {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		}
	}
	assert.Equal(t, 1, ok, "codes: %v", codes)
	assert.Equal(t, clicks-1, conflict, "codes: %v", codes)

	rec := srv.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decode[DraftResponse](t, rec)
	assert.Equal(t, workflow.Confirmed, stored.Step)
	require.NotNil(t, stored.BookingID)

	rec = srv.do(t, http.MethodGet, "/practitioners/"+srv.practitioner.String()+"/bookings?from=2024-01-01&to=2024-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]BookingResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, *stored.BookingID, list[0].ID)
}
