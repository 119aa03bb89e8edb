package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
)

type Step int

const (
	SelectingSlot Step = iota
	EnteringClientDetails
	EnteringAddress
	Confirmed
)

var stepNames = [...]string{"selecting_slot", "entering_client_details", "entering_address", "confirmed"}

func (s Step) String() string {
	if s < SelectingSlot || s > Confirmed {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) MarshalText() ([]byte, error) {
	if s < SelectingSlot || s > Confirmed {
		return nil, fmt.Errorf("unknown step %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	for i, name := range stepNames {
		if strings.EqualFold(string(b), name) {
			*s = Step(i)
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", string(b))
}

var (
	ErrInvalidStep = errors.New("operation not allowed at this step")
	ErrDraftClosed = errors.New("draft is already confirmed")
)

type SlotSelection struct {
	Slot     *appointment.Slot `json:"slot,omitempty"`
	Service  string            `json:"service"`
	Location string            `json:"location"`
}

type ClientDetails struct {
	FullName    string      `json:"full_name"`
	DateOfBirth *civil.Date `json:"date_of_birth,omitempty"`
	SexAtBirth  string      `json:"sex_at_birth"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
}

type Address struct {
	Street   string `json:"street"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	// Locale is an ISO country code choosing the postcode rule.
	Locale string `json:"locale,omitempty"`
}

// Draft is the in-progress booking. It is a value: every method returns an
// updated copy and leaves the receiver untouched.
type Draft struct {
	ID        uuid.UUID     `json:"id"`
	Step      Step          `json:"step"`
	Selection SlotSelection `json:"selection"`
	Client    ClientDetails `json:"client"`
	Address   Address       `json:"address"`
	Notice    string        `json:"notice,omitempty"`
	BookingID *uuid.UUID    `json:"booking_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func NewDraft(id uuid.UUID, now time.Time) Draft {
	return Draft{ID: id, Step: SelectingSlot, CreatedAt: now, UpdatedAt: now}
}

func (d Draft) clone() Draft {
	if d.Selection.Slot != nil {
		s := *d.Selection.Slot
		d.Selection.Slot = &s
	}
	if d.BookingID != nil {
		id := *d.BookingID
		d.BookingID = &id
	}
	d.Client = d.Client.clone()
	return d
}

func (c ClientDetails) clone() ClientDetails {
	if c.DateOfBirth != nil {
		dob := *c.DateOfBirth
		c.DateOfBirth = &dob
	}
	return c
}

// WithSelection replaces the slot step data. Data can be edited from any
// step before confirmation; gates are only checked when advancing.
func (d Draft) WithSelection(sel SlotSelection, now time.Time) (Draft, error) {
	if d.Step == Confirmed {
		return d, ErrDraftClosed
	}
	next := d.clone()
	if sel.Slot != nil {
		s := *sel.Slot
		sel.Slot = &s
	}
	next.Selection = sel
	next.Notice = ""
	next.UpdatedAt = now
	return next, nil
}

func (d Draft) WithClient(c ClientDetails, now time.Time) (Draft, error) {
	if d.Step == Confirmed {
		return d, ErrDraftClosed
	}
	next := d.clone()
	next.Client = c.clone()
	next.UpdatedAt = now
	return next, nil
}

func (d Draft) WithAddress(a Address, now time.Time) (Draft, error) {
	if d.Step == Confirmed {
		return d, ErrDraftClosed
	}
	next := d.clone()
	next.Address = a
	next.UpdatedAt = now
	return next, nil
}

// Back moves to any earlier step, keeping everything entered so far.
func (d Draft) Back(to Step, now time.Time) (Draft, error) {
	if d.Step == Confirmed {
		return d, ErrDraftClosed
	}
	if to < SelectingSlot || to >= d.Step {
		return d, fmt.Errorf("%w: cannot go back from %s to %s", ErrInvalidStep, d.Step, to)
	}
	next := d.clone()
	next.Step = to
	next.UpdatedAt = now
	return next, nil
}
