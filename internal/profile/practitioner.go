package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
)

var (
	ErrNotFound       = errors.New("practitioner not found")
	ErrInvalidProfile = errors.New("invalid practitioner profile")
)

// Practitioner carries everything slot search needs about one calendar.
type Practitioner struct {
	ID          uuid.UUID                       `json:"id"`
	Name        string                          `json:"name"`
	Specialty   string                          `json:"specialty,omitempty"`
	TimeZone    string                          `json:"time_zone"`
	SlotMinutes int                             `json:"slot_minutes"`
	LeadTime    time.Duration                   `json:"lead_time"`
	Weekly      availability.WeeklyAvailability `json:"availability"`
	Overrides   []availability.Override         `json:"overrides,omitempty"`
	CreatedAt   time.Time                       `json:"created_at"`
	UpdatedAt   time.Time                       `json:"updated_at"`
}

// Location resolves TimeZone, defaulting to UTC when unset.
func (p Practitioner) Location() (*time.Location, error) {
	if strings.TrimSpace(p.TimeZone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %v", ErrInvalidProfile, p.TimeZone, err)
	}
	return loc, nil
}

func (p Practitioner) SlotDuration() time.Duration {
	return time.Duration(p.SlotMinutes) * time.Minute
}

func (p Practitioner) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if p.SlotMinutes <= 0 || p.SlotMinutes > 24*60 {
		return fmt.Errorf("%w: slot minutes must be between 1 and 1440", ErrInvalidProfile)
	}
	if p.LeadTime < 0 {
		return fmt.Errorf("%w: lead time cannot be negative", ErrInvalidProfile)
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	if err := p.Weekly.Validate(); err != nil {
		return err
	}
	for _, o := range p.Overrides {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Store is the practitioner profile boundary. Reads accept either persisted
// availability shape; writes always store the canonical one.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	List(ctx context.Context) ([]Practitioner, error)
	Create(ctx context.Context, p Practitioner) (*Practitioner, error)
	SaveAvailability(ctx context.Context, id uuid.UUID, weekly availability.WeeklyAvailability) error
	PutOverride(ctx context.Context, id uuid.UUID, o availability.Override) error
	DeleteOverride(ctx context.Context, id uuid.UUID, date civil.Date) error
}
