package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventBookingConfirmed   EventType = "booking.confirmed"
	EventBookingCancelled   EventType = "booking.cancelled"
	EventBookingRescheduled EventType = "booking.rescheduled"
)

// Event describes a booking transition the outside world may care about.
// Dates are "YYYY-MM-DD", times "HH:MM".
type Event struct {
	Type           EventType `json:"type"`
	BookingID      uuid.UUID `json:"booking_id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	ClientID       string    `json:"client_id"`
	Date           string    `json:"date"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
	PreviousDate   string    `json:"previous_date,omitempty"`
	PreviousStart  string    `json:"previous_start_time,omitempty"`
	PreviousEnd    string    `json:"previous_end_time,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier is fire-and-forget: Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// LogNotifier writes events to the log; used when no Redis is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, evt Event) {
	n.logger.Info().
		Str("event", string(evt.Type)).
		Str("booking_id", evt.BookingID.String()).
		Str("practitioner_id", evt.PractitionerID.String()).
		Str("date", evt.Date).
		Str("start_time", evt.StartTime).
		Msg("booking event")
}
