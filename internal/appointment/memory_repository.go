package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// MemoryRepository keeps bookings in process. A single mutex makes every
// write atomic, which is all the ledger needs from it.
type MemoryRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]*Booking
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bookings: make(map[uuid.UUID]*Booking)}
}

func (r *MemoryRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBooking(b, true), nil
}

func (r *MemoryRepository) ListForPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Booking
	for _, b := range r.bookings {
		if b.PractitionerID != practitionerID || b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, *cloneBooking(b, false))
	}
	sortBookings(out)
	return out, nil
}

func (r *MemoryRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Booking
	for _, b := range r.bookings {
		if b.Status == StatusPending && b.CreatedAt.Before(createdBefore) {
			out = append(out, *cloneBooking(b, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) InsertIfFree(ctx context.Context, b Booking, entry HistoryEntry) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overlapsLocked(b.Slot(), uuid.Nil) {
		return nil, ErrSlotConflict
	}
	stored := b
	stored.UpdatedAt = b.CreatedAt
	stored.History = []HistoryEntry{entry}
	r.bookings[b.ID] = &stored
	return cloneBooking(&stored, true), nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, entry HistoryEntry) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != from {
		return nil, ErrStaleStatus
	}
	b.Status = to
	b.UpdatedAt = entry.At
	b.History = append(b.History, entry)
	return cloneBooking(b, false), nil
}

func (r *MemoryRepository) MoveIfFree(ctx context.Context, id uuid.UUID, expect BookingStatus, to Slot, entry HistoryEntry) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != expect {
		return nil, ErrStaleStatus
	}
	if r.overlapsLocked(to, id) {
		return nil, ErrSlotConflict
	}
	b.Date, b.Start, b.End = to.Date, to.Start, to.End
	b.UpdatedAt = entry.At
	b.History = append(b.History, entry)
	return cloneBooking(b, false), nil
}

func (r *MemoryRepository) overlapsLocked(s Slot, exclude uuid.UUID) bool {
	for id, b := range r.bookings {
		if id == exclude || !b.Status.HoldsInterval() {
			continue
		}
		if b.Slot().Overlaps(s) {
			return true
		}
	}
	return false
}

func cloneBooking(b *Booking, withHistory bool) *Booking {
	c := *b
	c.History = nil
	if withHistory && len(b.History) > 0 {
		c.History = append([]HistoryEntry(nil), b.History...)
	}
	return &c
}

func sortBookings(bs []Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Date != bs[j].Date {
			return bs[i].Date.Before(bs[j].Date)
		}
		return bs[i].Start.Hour*60+bs[i].Start.Minute < bs[j].Start.Hour*60+bs[j].Start.Minute
	})
}
