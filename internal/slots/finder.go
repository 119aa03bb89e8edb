package slots

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/profile"
)

type ProfileReader interface {
	Get(ctx context.Context, id uuid.UUID) (*profile.Practitioner, error)
}

// Finder runs slot searches for a stored practitioner, taking duration,
// lead time and time zone from the profile.
type Finder struct {
	profiles  ProfileReader
	generator *Generator
}

func NewFinder(profiles ProfileReader, generator *Generator) *Finder {
	return &Finder{profiles: profiles, generator: generator}
}

func (f *Finder) Find(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]appointment.Slot, error) {
	return f.find(ctx, practitionerID, from, to, uuid.Nil)
}

func (f *Finder) find(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date, ignore uuid.UUID) ([]appointment.Slot, error) {
	p, err := f.profiles.Get(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}
	return f.generator.Generate(ctx, Request{
		PractitionerID: p.ID,
		Weekly:         p.Weekly,
		Overrides:      p.Overrides,
		Duration:       p.SlotDuration(),
		From:           from,
		To:             to,
		Location:       loc,
		LeadTime:       p.LeadTime,
		Ignore:         ignore,
	})
}

// Offers reports whether slot is currently one of the practitioner's free
// slots. Callers use it to refuse arbitrary intervals before reserving.
func (f *Finder) Offers(ctx context.Context, slot appointment.Slot) (bool, error) {
	return f.offers(ctx, slot, uuid.Nil)
}

// OffersMove is Offers for moving bookingID: the booking's own interval
// counts as free.
func (f *Finder) OffersMove(ctx context.Context, bookingID uuid.UUID, slot appointment.Slot) (bool, error) {
	return f.offers(ctx, slot, bookingID)
}

func (f *Finder) offers(ctx context.Context, slot appointment.Slot, ignore uuid.UUID) (bool, error) {
	free, err := f.find(ctx, slot.PractitionerID, slot.Date, slot.Date, ignore)
	if err != nil {
		return false, err
	}
	for _, s := range free {
		if s == slot {
			return true, nil
		}
	}
	return false, nil
}
