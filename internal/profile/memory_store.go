package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
)

type MemoryStore struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Practitioner
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*Practitioner), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePractitioner(p, true), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Practitioner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Practitioner, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, *clonePractitioner(p, false))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, p Practitioner) (*Practitioner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Overrides = sortedOverrides(availability.IndexOverrides(p.Overrides))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = clonePractitioner(&p, true)
	return clonePractitioner(&p, true), nil
}

func (s *MemoryStore) SaveAvailability(_ context.Context, id uuid.UUID, weekly availability.WeeklyAvailability) error {
	if err := weekly.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.Weekly = weekly
	p.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) PutOverride(_ context.Context, id uuid.UUID, o availability.Override) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	idx := availability.IndexOverrides(p.Overrides)
	idx[o.Date] = o
	p.Overrides = sortedOverrides(idx)
	return nil
}

func (s *MemoryStore) DeleteOverride(_ context.Context, id uuid.UUID, date civil.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	idx := availability.IndexOverrides(p.Overrides)
	if _, ok := idx[date]; !ok {
		return ErrNotFound
	}
	delete(idx, date)
	p.Overrides = sortedOverrides(idx)
	return nil
}

func sortedOverrides(idx map[civil.Date]availability.Override) []availability.Override {
	out := make([]availability.Override, 0, len(idx))
	for _, o := range idx {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func clonePractitioner(p *Practitioner, withOverrides bool) *Practitioner {
	c := *p
	c.Overrides = nil
	if withOverrides && len(p.Overrides) > 0 {
		c.Overrides = append([]availability.Override(nil), p.Overrides...)
	}
	return &c
}
