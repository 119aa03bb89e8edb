package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
	"github.com/hackgods/clinic-booking-scheduler/internal/clock"
	"github.com/hackgods/clinic-booking-scheduler/internal/config"
	"github.com/hackgods/clinic-booking-scheduler/internal/notify"
	"github.com/hackgods/clinic-booking-scheduler/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-booking-scheduler/internal/redis"
)

var (
	ErrInvalidSlot       = errors.New("invalid slot")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = errors.New("booking is already in a terminal state")
	ErrTimeout           = errors.New("booking store timed out")
)

const expiredHoldReason = "pending hold expired"

var tracer = otel.Tracer("scheduler/appointment")

// Service is the booking ledger. Reserve and Reschedule serialize on the
// practitioner's calendar day; status changes are compare-and-set in the
// repository.
type Service struct {
	repo      Repository
	locker    redisclient.Locker
	notifier  notify.Notifier
	clock     clock.Clock
	metrics   *metrics.SchedulerMetrics
	logger    zerolog.Logger
	opTimeout time.Duration
	holdTTL   time.Duration
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithMetrics(m *metrics.SchedulerMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		locker:    locker,
		notifier:  notify.Nop{},
		clock:     clock.Real(),
		logger:    zerolog.Nop(),
		opTimeout: cfg.OpTimeout,
		holdTTL:   cfg.PendingHoldTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve places a pending hold on slot for clientID. It fails with
// ErrSlotConflict when any interval-holding booking overlaps the slot at
// commit time.
func (s *Service) Reserve(ctx context.Context, slot Slot, clientID string) (_ *Booking, err error) {
	ctx, finish := s.begin(ctx, "reserve", slot.PractitionerID)
	defer func() { err = finish(err) }()

	if err := slot.Validate(); err != nil {
		return nil, err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidSlot)
	}

	var created *Booking
	err = s.locker.WithCalendarLock(ctx, slot.PractitionerID, []civil.Date{slot.Date}, func(lockCtx context.Context) error {
		now := s.clock.Now().UTC()
		b := Booking{
			ID:             uuid.New(),
			PractitionerID: slot.PractitionerID,
			ClientID:       clientID,
			Date:           slot.Date,
			Start:          slot.Start,
			End:            slot.End,
			Status:         StatusPending,
			CreatedAt:      now,
		}
		entry := HistoryEntry{Action: ActionCreated, ToStatus: StatusPending, Actor: clientID, At: now}

		var err error
		created, err = s.repo.InsertIfFree(lockCtx, b, entry)
		return err
	})
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	s.logger.Info().
		Str("booking_id", created.ID.String()).
		Str("practitioner_id", slot.PractitionerID.String()).
		Str("slot", slot.String()).
		Msg("booking reserved")
	return created, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	return s.transition(ctx, "confirm", id, StatusConfirmed, ActionConfirmed, actor, "")
}

// Cancel frees the booking's interval. Cancelling a booking that is already
// terminal returns ErrAlreadyTerminal and changes nothing.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*Booking, error) {
	return s.transition(ctx, "cancel", id, StatusCancelled, ActionCancelled, actor, reason)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	return s.transition(ctx, "complete", id, StatusCompleted, ActionCompleted, actor, "")
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	return s.transition(ctx, "no_show", id, StatusNoShow, ActionNoShow, actor, "")
}

// Reschedule moves a live booking to newSlot in one step. If the new
// interval is taken the booking keeps its current interval.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newSlot Slot, actor string) (_ *Booking, err error) {
	ctx, finish := s.begin(ctx, "reschedule", newSlot.PractitionerID)
	defer func() { err = finish(err) }()

	if err := newSlot.Validate(); err != nil {
		return nil, err
	}
	if actor == "" {
		actor = ActorSystem
	}

	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: booking is %s", ErrAlreadyTerminal, current.Status)
	}
	if current.PractitionerID != newSlot.PractitionerID {
		return nil, fmt.Errorf("%w: reschedule cannot change practitioner", ErrInvalidSlot)
	}

	old := current.Slot()
	var moved *Booking
	err = s.locker.WithCalendarLock(ctx, current.PractitionerID, []civil.Date{old.Date, newSlot.Date}, func(lockCtx context.Context) error {
		entry := HistoryEntry{
			Action:     ActionRescheduled,
			FromStatus: current.Status,
			ToStatus:   current.Status,
			Actor:      actor,
			Reason:     "moved from " + old.String(),
			At:         s.clock.Now().UTC(),
		}
		var err error
		moved, err = s.repo.MoveIfFree(lockCtx, id, current.Status, newSlot, entry)
		return err
	})
	if errors.Is(err, ErrStaleStatus) {
		return nil, s.staleOutcome(ctx, id, ErrInvalidTransition)
	}
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	s.notifier.Notify(ctx, notify.Event{
		Type:           notify.EventBookingRescheduled,
		BookingID:      moved.ID,
		PractitionerID: moved.PractitionerID,
		ClientID:       moved.ClientID,
		Date:           moved.Date.String(),
		StartTime:      availability.FormatTimeOfDay(moved.Start),
		EndTime:        availability.FormatTimeOfDay(moved.End),
		PreviousDate:   old.Date.String(),
		PreviousStart:  availability.FormatTimeOfDay(old.Start),
		PreviousEnd:    availability.FormatTimeOfDay(old.End),
		Actor:          actor,
		OccurredAt:     moved.UpdatedAt,
	})
	s.logger.Info().
		Str("booking_id", id.String()).
		Str("from", old.String()).
		Str("to", newSlot.String()).
		Msg("booking rescheduled")
	return moved, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	return b, nil
}

// ListForPractitioner returns bookings of every status dated within
// [from, to], ordered by date then start time.
func (s *Service) ListForPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]Booking, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidSlot, from, to)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	bookings, err := s.repo.ListForPractitioner(ctx, practitionerID, from, to)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	return bookings, nil
}

// ExpireStalePending cancels pending holds older than the configured hold
// TTL. It is intended to be called by the worker periodically.
func (s *Service) ExpireStalePending(ctx context.Context, limit int) (int, error) {
	if s.holdTTL <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-s.holdTTL)
	stale, err := s.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("find stale pending bookings: %w", s.classify(ctx, err))
	}

	expired := 0
	for _, b := range stale {
		entry := HistoryEntry{
			Action:     ActionCancelled,
			FromStatus: StatusPending,
			ToStatus:   StatusCancelled,
			Actor:      ActorSystem,
			Reason:     expiredHoldReason,
			At:         s.clock.Now().UTC(),
		}
		updated, err := s.repo.UpdateStatus(ctx, b.ID, StatusPending, StatusCancelled, entry)
		if errors.Is(err, ErrStaleStatus) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("failed to expire pending booking")
			continue
		}
		expired++
		s.metrics.IncExpiredHolds()
		s.notifier.Notify(ctx, eventFor(notify.EventBookingCancelled, updated, entry))
	}
	return expired, nil
}

// transition applies one state-machine edge. A lost compare-and-set is
// re-read once so the caller sees the outcome against the latest state.
func (s *Service) transition(ctx context.Context, op string, id uuid.UUID, to BookingStatus, action Action, actor, reason string) (_ *Booking, err error) {
	ctx, finish := s.begin(ctx, op, uuid.Nil)
	defer func() { err = finish(err) }()

	if actor == "" {
		actor = ActorSystem
	}

	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.repo.GetBooking(ctx, id)
		if err != nil {
			return nil, s.classify(ctx, err)
		}
		if err := checkTransition(current.Status, to); err != nil {
			return nil, err
		}

		entry := HistoryEntry{
			Action:     action,
			FromStatus: current.Status,
			ToStatus:   to,
			Actor:      actor,
			Reason:     reason,
			At:         s.clock.Now().UTC(),
		}
		updated, err := s.repo.UpdateStatus(ctx, id, current.Status, to, entry)
		if errors.Is(err, ErrStaleStatus) {
			continue
		}
		if err != nil {
			return nil, s.classify(ctx, err)
		}

		switch to {
		case StatusConfirmed:
			s.notifier.Notify(ctx, eventFor(notify.EventBookingConfirmed, updated, entry))
		case StatusCancelled:
			s.notifier.Notify(ctx, eventFor(notify.EventBookingCancelled, updated, entry))
		}
		s.logger.Info().
			Str("booking_id", id.String()).
			Str("from", string(current.Status)).
			Str("to", string(to)).
			Str("actor", actor).
			Msg("booking status changed")
		return updated, nil
	}
	return nil, s.staleOutcome(ctx, id, ErrInvalidTransition)
}

func checkTransition(from, to BookingStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	if to == StatusCancelled && from.Terminal() {
		return fmt.Errorf("%w: booking is %s", ErrAlreadyTerminal, from)
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// staleOutcome reports why a write lost to a concurrent status change.
func (s *Service) staleOutcome(ctx context.Context, id uuid.UUID, fallback error) error {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return s.classify(ctx, err)
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: booking is %s", ErrAlreadyTerminal, b.Status)
	}
	return fmt.Errorf("%w: booking changed concurrently", fallback)
}

// classify maps infrastructure failures onto ledger errors.
func (s *Service) classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout):
		return err
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return fmt.Errorf("%w: calendar is busy, retry", ErrSlotConflict)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// begin opens the bounded context, span and metric for one ledger write.
func (s *Service) begin(ctx context.Context, op string, practitionerID uuid.UUID) (context.Context, func(error) error) {
	started := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	ctx, span := tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("ledger.op", op)))
	if practitionerID != uuid.Nil {
		span.SetAttributes(attribute.String("practitioner.id", practitionerID.String()))
	}

	return ctx, func(err error) error {
		defer cancel()
		defer span.End()

		result := resultLabel(err)
		s.metrics.ObserveLedgerOp(op, result, time.Since(started))
		span.SetAttributes(attribute.String("ledger.result", result))
		if err != nil && result != "conflict" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if result == "error" || result == "timeout" {
			s.logger.Error().Err(err).Str("op", op).Msg("ledger operation failed")
		}
		return err
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidSlot), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyTerminal):
		return "rejected"
	}
	return "error"
}

func eventFor(t notify.EventType, b *Booking, entry HistoryEntry) notify.Event {
	return notify.Event{
		Type:           t,
		BookingID:      b.ID,
		PractitionerID: b.PractitionerID,
		ClientID:       b.ClientID,
		Date:           b.Date.String(),
		StartTime:      availability.FormatTimeOfDay(b.Start),
		EndTime:        availability.FormatTimeOfDay(b.End),
		Actor:          entry.Actor,
		Reason:         entry.Reason,
		OccurredAt:     entry.At,
	}
}
