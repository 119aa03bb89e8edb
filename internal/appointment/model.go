package appointment

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
	StatusNoShow    BookingStatus = "no_show"
)

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// Terminal states accept no further transition.
func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

// HoldsInterval reports whether a booking in this state occupies its time.
func (s BookingStatus) HoldsInterval() bool {
	return s != StatusCancelled
}

func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Slot is a candidate interval [Start, End) on one practitioner's calendar.
// It is never stored on its own; Reserve turns it into a Booking.
type Slot struct {
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	Date           civil.Date `json:"date"`
	Start          civil.Time `json:"start_time"`
	End            civil.Time `json:"end_time"`
}

func (s Slot) Validate() error {
	if s.PractitionerID == uuid.Nil {
		return fmt.Errorf("%w: practitioner id is required", ErrInvalidSlot)
	}
	if !s.Date.IsValid() {
		return fmt.Errorf("%w: date %q is not valid", ErrInvalidSlot, s.Date)
	}
	if !s.Start.IsValid() || !s.End.IsValid() {
		return fmt.Errorf("%w: time of day out of range", ErrInvalidSlot)
	}
	if availability.Minutes(s.Start) >= availability.Minutes(s.End) {
		return fmt.Errorf("%w: %s", ErrInvalidSlot, availability.ErrInvalidWindow)
	}
	return nil
}

// Overlaps reports whether two half-open intervals on the same practitioner
// day intersect. Back-to-back slots do not overlap.
func (s Slot) Overlaps(o Slot) bool {
	if s.PractitionerID != o.PractitionerID || s.Date != o.Date {
		return false
	}
	return availability.Minutes(s.Start) < availability.Minutes(o.End) &&
		availability.Minutes(o.Start) < availability.Minutes(s.End)
}

// StartsAt is the instant the slot begins in the practitioner's time zone.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	return time.Date(s.Date.Year, s.Date.Month, s.Date.Day, s.Start.Hour, s.Start.Minute, 0, 0, loc)
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %s-%s", s.Date, availability.FormatTimeOfDay(s.Start), availability.FormatTimeOfDay(s.End))
}

type Action string

const (
	ActionCreated     Action = "created"
	ActionConfirmed   Action = "confirmed"
	ActionCancelled   Action = "cancelled"
	ActionRescheduled Action = "rescheduled"
	ActionCompleted   Action = "completed"
	ActionNoShow      Action = "no_show"
)

// HistoryEntry is one append-only audit record. FromStatus is empty for the
// creation entry; a reschedule keeps FromStatus == ToStatus.
type HistoryEntry struct {
	Action     Action        `json:"action"`
	FromStatus BookingStatus `json:"from_status,omitempty"`
	ToStatus   BookingStatus `json:"to_status"`
	Actor      string        `json:"actor"`
	Reason     string        `json:"reason,omitempty"`
	At         time.Time     `json:"at"`
}

type Booking struct {
	ID             uuid.UUID      `json:"id"`
	PractitionerID uuid.UUID      `json:"practitioner_id"`
	ClientID       string         `json:"client_id"`
	Date           civil.Date     `json:"date"`
	Start          civil.Time     `json:"start_time"`
	End            civil.Time     `json:"end_time"`
	Status         BookingStatus  `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	History        []HistoryEntry `json:"history,omitempty"`
}

func (b Booking) Slot() Slot {
	return Slot{PractitionerID: b.PractitionerID, Date: b.Date, Start: b.Start, End: b.End}
}

const (
	ActorSystem = "system"
)
