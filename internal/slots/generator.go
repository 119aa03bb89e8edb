package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
	"github.com/hackgods/clinic-booking-scheduler/internal/clock"
	"github.com/hackgods/clinic-booking-scheduler/internal/observability/metrics"
)

var (
	ErrInvalidRange    = errors.New("invalid slot search range")
	ErrHorizonTooLarge = errors.New("slot search horizon too large")
)

// BookingLister is the ledger read used to hide taken intervals.
type BookingLister interface {
	ListForPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]appointment.Booking, error)
}

// Request describes one slot search. From and To are inclusive calendar
// dates in the practitioner's time zone.
type Request struct {
	PractitionerID uuid.UUID
	Weekly         availability.WeeklyAvailability
	Overrides      []availability.Override
	Duration       time.Duration
	From           civil.Date
	To             civil.Date
	Location       *time.Location
	LeadTime       time.Duration
	// Ignore names a booking whose interval counts as free, so a booking
	// being moved does not block slots next to itself.
	Ignore uuid.UUID
}

type Generator struct {
	bookings       BookingLister
	clock          clock.Clock
	maxHorizonDays int
	metrics        *metrics.SchedulerMetrics
}

func NewGenerator(bookings BookingLister, clk clock.Clock, maxHorizonDays int, m *metrics.SchedulerMetrics) *Generator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Generator{bookings: bookings, clock: clk, maxHorizonDays: maxHorizonDays, metrics: m}
}

// Generate expands the weekly template and overrides into bookable slots,
// ordered by date then start time. Slots that overlap an interval-holding
// booking or start before now+LeadTime are left out.
func (g *Generator) Generate(ctx context.Context, req Request) ([]appointment.Slot, error) {
	if err := g.checkRequest(req); err != nil {
		return nil, err
	}

	var taken []appointment.Slot
	if g.bookings != nil {
		existing, err := g.bookings.ListForPractitioner(ctx, req.PractitionerID, req.From, req.To)
		if err != nil {
			return nil, fmt.Errorf("list bookings: %w", err)
		}
		for _, b := range existing {
			if b.Status.HoldsInterval() && (req.Ignore == uuid.Nil || b.ID != req.Ignore) {
				taken = append(taken, b.Slot())
			}
		}
	}

	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	earliest := g.clock.Now().Add(req.LeadTime)
	step := int(req.Duration / time.Minute)
	overrides := availability.IndexOverrides(req.Overrides)

	out := []appointment.Slot{}
	for date := req.From; !date.After(req.To); date = date.AddDays(1) {
		win := req.Weekly.WindowOn(date, overrides)
		if !win.Enabled {
			continue
		}
		end := availability.Minutes(win.End)
		for start := availability.Minutes(win.Start); start+step <= end; start += step {
			slot := appointment.Slot{
				PractitionerID: req.PractitionerID,
				Date:           date,
				Start:          availability.TimeFromMinutes(start),
				End:            availability.TimeFromMinutes(start + step),
			}
			if slot.StartsAt(loc).Before(earliest) {
				continue
			}
			if overlapsAny(slot, taken) {
				continue
			}
			out = append(out, slot)
		}
	}

	g.metrics.ObserveSlotsGenerated(len(out))
	return out, nil
}

func (g *Generator) checkRequest(req Request) error {
	if req.Duration <= 0 || req.Duration%time.Minute != 0 {
		return fmt.Errorf("%w: duration must be a positive whole number of minutes", ErrInvalidRange)
	}
	if !req.From.IsValid() || !req.To.IsValid() {
		return fmt.Errorf("%w: invalid date", ErrInvalidRange)
	}
	if req.From.After(req.To) {
		return fmt.Errorf("%w: %s is after %s", ErrInvalidRange, req.From, req.To)
	}
	if g.maxHorizonDays > 0 && req.From.AddDays(g.maxHorizonDays).Before(req.To.AddDays(1)) {
		return fmt.Errorf("%w: more than %d days", ErrHorizonTooLarge, g.maxHorizonDays)
	}
	if err := req.Weekly.Validate(); err != nil {
		return err
	}
	for _, o := range req.Overrides {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func overlapsAny(s appointment.Slot, taken []appointment.Slot) bool {
	for _, t := range taken {
		if s.Overlaps(t) {
			return true
		}
	}
	return false
}
