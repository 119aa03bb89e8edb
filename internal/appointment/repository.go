package appointment

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("booking not found")
	ErrSlotConflict = errors.New("slot overlaps an existing booking")
	// ErrStaleStatus means a compare-and-set on status lost a race.
	ErrStaleStatus = errors.New("booking status changed concurrently")
)

// Repository is the booking persistence boundary. Implementations must make
// InsertIfFree and MoveIfFree atomic per (practitioner, date): the overlap
// check and the write commit together or not at all.
type Repository interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)

	// All statuses, ordered by date then start time. History is not loaded.
	ListForPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]Booking, error)

	// Expiry worker
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Booking, error)

	// Writes
	InsertIfFree(ctx context.Context, b Booking, entry HistoryEntry) (*Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, entry HistoryEntry) (*Booking, error)
	MoveIfFree(ctx context.Context, id uuid.UUID, expect BookingStatus, to Slot, entry HistoryEntry) (*Booking, error)
}
