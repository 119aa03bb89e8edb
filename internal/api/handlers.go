package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
	"github.com/hackgods/clinic-booking-scheduler/internal/profile"
	"github.com/hackgods/clinic-booking-scheduler/internal/slots"
	"github.com/hackgods/clinic-booking-scheduler/internal/workflow"
)

const (
	genericFailure = "something went wrong, please retry or contact support"
	actorHeader    = "X-Actor"
	maxBodyBytes   = 1 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func actorFrom(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(actorHeader)); a != "" {
		return a
	}
	return "api"
}

// dateRange reads ?from=&to=. A missing from is today; a missing to is
// from plus defaultDays-1.
func dateRange(r *http.Request, defaultDays int) (civil.Date, civil.Date, error) {
	from := civil.DateOf(timeNow())
	if v := r.URL.Query().Get("from"); v != "" {
		d, err := civil.ParseDate(v)
		if err != nil {
			return civil.Date{}, civil.Date{}, slots.ErrInvalidRange
		}
		from = d
	}
	to := from.AddDays(defaultDays - 1)
	if v := r.URL.Query().Get("to"); v != "" {
		d, err := civil.ParseDate(v)
		if err != nil {
			return civil.Date{}, civil.Date{}, slots.ErrInvalidRange
		}
		to = d
	}
	return from, to, nil
}

// handleError maps domain errors to HTTP. Anything unrecognised is logged
// and reported generically so store details never reach the client.
func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Details: "step " + verr.Step.String() + " is incomplete",
			Fields:  verr.Fields,
		})
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, profile.ErrNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", err.Error())
	case errors.Is(err, workflow.ErrDraftNotFound):
		writeError(w, http.StatusNotFound, "draft_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "the selected time is no longer available")
	case errors.Is(err, appointment.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "already_terminal", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, workflow.ErrCommitInProgress):
		writeError(w, http.StatusConflict, "commit_in_progress", err.Error())
	case errors.Is(err, workflow.ErrInvalidStep), errors.Is(err, workflow.ErrDraftClosed):
		writeError(w, http.StatusConflict, "invalid_step", err.Error())
	case errors.Is(err, slots.ErrHorizonTooLarge):
		writeError(w, http.StatusBadRequest, "horizon_too_large", err.Error())
	case errors.Is(err, slots.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, availability.ErrInvalidTimeFormat):
		writeError(w, http.StatusBadRequest, "invalid_time_format", err.Error())
	case errors.Is(err, availability.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
	case errors.Is(err, availability.ErrUnknownDay):
		writeError(w, http.StatusBadRequest, "unknown_day", err.Error())
	case errors.Is(err, appointment.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, profile.ErrInvalidProfile):
		writeError(w, http.StatusBadRequest, "invalid_profile", err.Error())
	case errors.Is(err, appointment.ErrTimeout):
		h.logger.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("booking store timeout")
		writeError(w, http.StatusServiceUnavailable, "timeout", genericFailure)
	default:
		h.logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", genericFailure)
	}
}

// writeConflict answers a lost slot with the practitioner's current free
// slots for that day onward, so the client can pick again.
func (h *handlers) writeConflict(w http.ResponseWriter, r *http.Request, slot appointment.Slot) {
	fresh, err := h.slots.Find(r.Context(), slot.PractitionerID, slot.Date, slot.Date.AddDays(6))
	if err != nil {
		h.logger.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("failed to refresh slots after conflict")
	}
	writeJSON(w, http.StatusConflict, ConflictResponse{
		Error:          "slot_conflict",
		Details:        "the selected time is no longer available, choose another slot",
		AvailableSlots: slotBodies(fresh),
	})
}

func (h *handlers) reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slot, err := req.toSlot()
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	offered, err := h.slots.Offers(r.Context(), slot)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !offered {
		h.writeConflict(w, r, slot)
		return
	}

	b, err := h.ledger.Reserve(r.Context(), slot, req.ClientID)
	if errors.Is(err, appointment.ErrSlotConflict) {
		h.writeConflict(w, r, slot)
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(b))
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	b, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

type transitionFunc func(r *http.Request, id uuid.UUID) (*appointment.Booking, error)

func (h *handlers) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		b, err := fn(r, id)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(b))
	}
}

func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, id uuid.UUID) (*appointment.Booking, error) {
		return h.ledger.Confirm(r.Context(), id, actorFrom(r))
	})(w, r)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, id uuid.UUID) (*appointment.Booking, error) {
		return h.ledger.Complete(r.Context(), id, actorFrom(r))
	})(w, r)
}

func (h *handlers) noShow(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, id uuid.UUID) (*appointment.Booking, error) {
		return h.ledger.MarkNoShow(r.Context(), id, actorFrom(r))
	})(w, r)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	h.transition(func(r *http.Request, id uuid.UUID) (*appointment.Booking, error) {
		return h.ledger.Cancel(r.Context(), id, req.Reason, actorFrom(r))
	})(w, r)
}

func (h *handlers) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	current, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	slot, err := SlotBody{
		PractitionerID: current.PractitionerID.String(),
		Date:           req.Date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
	}.toSlot()
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	offered, err := h.slots.OffersMove(r.Context(), id, slot)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !offered {
		h.writeConflict(w, r, slot)
		return
	}

	b, err := h.ledger.Reschedule(r.Context(), id, slot, actorFrom(r))
	if errors.Is(err, appointment.ErrSlotConflict) {
		h.writeConflict(w, r, slot)
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}
