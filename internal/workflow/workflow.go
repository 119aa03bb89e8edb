package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/clock"
	"github.com/hackgods/clinic-booking-scheduler/internal/observability/metrics"
)

// ConflictNotice is shown when the chosen slot was taken before commit.
const ConflictNotice = "The selected time is no longer available. Please choose another slot."

// refreshDays is how far past the lost slot's date fresh slots are offered.
const refreshDays = 6

type Reserver interface {
	Reserve(ctx context.Context, slot appointment.Slot, clientID string) (*appointment.Booking, error)
}

// SlotFinder generates the practitioner's free slots. Offers reports
// whether one exact slot is among them.
type SlotFinder interface {
	Find(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]appointment.Slot, error)
	Offers(ctx context.Context, slot appointment.Slot) (bool, error)
}

// Workflow drives drafts through their steps. Only Commit touches the ledger.
type Workflow struct {
	ledger        Reserver
	slots         SlotFinder
	clock         clock.Clock
	metrics       *metrics.SchedulerMetrics
	logger        zerolog.Logger
	defaultLocale string
}

func New(ledger Reserver, slots SlotFinder, clk clock.Clock, defaultLocale string, m *metrics.SchedulerMetrics, logger zerolog.Logger) *Workflow {
	if clk == nil {
		clk = clock.Real()
	}
	return &Workflow{
		ledger:        ledger,
		slots:         slots,
		clock:         clk,
		metrics:       m,
		logger:        logger,
		defaultLocale: strings.ToUpper(defaultLocale),
	}
}

func (w *Workflow) Rules() Rules {
	return Rules{DefaultLocale: w.defaultLocale, Today: civil.DateOf(w.clock.Now())}
}

// Now is the timestamp used for draft edits.
func (w *Workflow) Now() time.Time {
	return w.clock.Now().UTC()
}

func (w *Workflow) Start() Draft {
	return NewDraft(uuid.New(), w.Now())
}

func (w *Workflow) Advance(d Draft) (Draft, error) {
	return d.Advance(w.Rules(), w.Now())
}

// CommitResult is the outcome of a commit that reached the ledger. A slot
// that was taken or is no longer offered is a conflict: Draft is back at
// SelectingSlot with Notice set and Alternatives holding freshly generated
// slots. The draft's slot is cleared so nothing is picked on the client's
// behalf.
type CommitResult struct {
	Draft        Draft                `json:"draft"`
	Booking      *appointment.Booking `json:"booking,omitempty"`
	Conflict     bool                 `json:"conflict"`
	Alternatives []appointment.Slot   `json:"alternatives,omitempty"`
}

// Commit reserves the draft's slot. clientID identifies the client to the
// ledger; when empty the normalised email is used.
func (w *Workflow) Commit(ctx context.Context, d Draft, clientID string) (CommitResult, error) {
	if d.Step == Confirmed {
		return CommitResult{Draft: d}, ErrDraftClosed
	}
	if d.Step != EnteringAddress {
		return CommitResult{Draft: d}, fmt.Errorf("%w: commit is only possible from %s", ErrInvalidStep, EnteringAddress)
	}
	if err := d.ValidateAll(w.Rules()); err != nil {
		return CommitResult{Draft: d}, err
	}
	if strings.TrimSpace(clientID) == "" {
		clientID = strings.ToLower(strings.TrimSpace(d.Client.Email))
	}

	slot := *d.Selection.Slot
	offered, err := w.slots.Offers(ctx, slot)
	if err != nil {
		w.metrics.ObserveWorkflowCommit("error")
		return CommitResult{Draft: d}, fmt.Errorf("check slot: %w", err)
	}
	if !offered {
		return w.slotLost(ctx, d, slot), nil
	}

	booking, err := w.ledger.Reserve(ctx, slot, clientID)
	switch {
	case err == nil:
		next := d.clone()
		next.Step = Confirmed
		next.BookingID = &booking.ID
		next.Notice = ""
		next.UpdatedAt = w.Now()
		w.metrics.ObserveWorkflowCommit("ok")
		w.logger.Info().Str("draft_id", d.ID.String()).Str("booking_id", booking.ID.String()).Msg("booking draft committed")
		return CommitResult{Draft: next, Booking: booking}, nil

	case errors.Is(err, appointment.ErrSlotConflict):
		return w.slotLost(ctx, d, slot), nil
	}

	w.metrics.ObserveWorkflowCommit("error")
	return CommitResult{Draft: d}, fmt.Errorf("reserve: %w", err)
}

// slotLost sends the draft back to slot selection with the conflict notice
// and the practitioner's current free slots from the lost slot's date on.
func (w *Workflow) slotLost(ctx context.Context, d Draft, slot appointment.Slot) CommitResult {
	next := d.clone()
	next.Step = SelectingSlot
	next.Selection.Slot = nil
	next.Notice = ConflictNotice
	next.UpdatedAt = w.Now()
	w.metrics.ObserveWorkflowCommit("conflict")
	w.logger.Info().Str("draft_id", d.ID.String()).Str("slot", slot.String()).Msg("booking draft lost its slot")

	alternatives, err := w.slots.Find(ctx, slot.PractitionerID, slot.Date, slot.Date.AddDays(refreshDays))
	if err != nil {
		// the draft is still usable; the client can search again
		w.logger.Warn().Err(err).Str("draft_id", d.ID.String()).Msg("failed to refresh slots after conflict")
	}
	return CommitResult{Draft: next, Conflict: true, Alternatives: alternatives}
}
