package api

import (
	"context"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/profile"
	"github.com/hackgods/clinic-booking-scheduler/internal/workflow"
)

// Ledger is the booking surface the handlers use; *appointment.Service
// implements it.
type Ledger interface {
	Reserve(ctx context.Context, slot appointment.Slot, clientID string) (*appointment.Booking, error)
	Confirm(ctx context.Context, id uuid.UUID, actor string) (*appointment.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*appointment.Booking, error)
	Complete(ctx context.Context, id uuid.UUID, actor string) (*appointment.Booking, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, actor string) (*appointment.Booking, error)
	Reschedule(ctx context.Context, id uuid.UUID, newSlot appointment.Slot, actor string) (*appointment.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Booking, error)
	ListForPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]appointment.Booking, error)
}

type SlotSearch interface {
	Find(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]appointment.Slot, error)
	Offers(ctx context.Context, slot appointment.Slot) (bool, error)
	OffersMove(ctx context.Context, bookingID uuid.UUID, slot appointment.Slot) (bool, error)
}

type RouterConfig struct {
	Ledger   Ledger
	Slots    SlotSearch
	Profiles profile.Store
	Workflow *workflow.Workflow
	Drafts   workflow.DraftStore
	Health   []Dependency
	Metrics  http.Handler
	Logger   zerolog.Logger
	Env      string
	Version  string
	// MaxHorizonDays caps the default slot window when "to" is omitted.
	MaxHorizonDays int
}

type handlers struct {
	ledger   Ledger
	slots    SlotSearch
	profiles profile.Store
	workflow *workflow.Workflow
	drafts   workflow.DraftStore
	logger   zerolog.Logger
	horizon  int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware(cfg.Logger))
	r.Use(TracingMiddleware)

	health := NewHealthHandler(cfg.Health, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	h := &handlers{
		ledger:   cfg.Ledger,
		slots:    cfg.Slots,
		profiles: cfg.Profiles,
		workflow: cfg.Workflow,
		drafts:   cfg.Drafts,
		logger:   cfg.Logger,
		horizon:  cfg.MaxHorizonDays,
	}
	if h.horizon <= 0 {
		h.horizon = 90
	}

	r.Route("/practitioners", func(r chi.Router) {
		r.Get("/", h.listPractitioners)
		r.Post("/", h.createPractitioner)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getPractitioner)
			r.Get("/availability", h.getAvailability)
			r.Put("/availability", h.putAvailability)
			r.Put("/overrides/{date}", h.putOverride)
			r.Delete("/overrides/{date}", h.deleteOverride)
			r.Get("/slots", h.listSlots)
			r.Get("/bookings", h.listBookings)
		})
	})

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.reserve)
		r.Get("/{id}", h.getBooking)
		r.Post("/{id}/confirm", h.confirm)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/complete", h.complete)
		r.Post("/{id}/no-show", h.noShow)
		r.Post("/{id}/reschedule", h.reschedule)
	})

	r.Route("/drafts", func(r chi.Router) {
		r.Post("/", h.startDraft)
		r.Get("/{id}", h.getDraft)
		r.Put("/{id}/selection", h.putSelection)
		r.Put("/{id}/client", h.putClient)
		r.Put("/{id}/address", h.putAddress)
		r.Post("/{id}/advance", h.advanceDraft)
		r.Post("/{id}/back", h.backDraft)
		r.Post("/{id}/commit", h.commitDraft)
	})

	return r
}
