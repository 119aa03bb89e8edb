package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
	"github.com/hackgods/clinic-booking-scheduler/internal/profile"
	"github.com/hackgods/clinic-booking-scheduler/internal/slots"
)

var timeNow = time.Now

const formatLegacy = "legacy"

func (h *handlers) listPractitioners(w http.ResponseWriter, r *http.Request) {
	list, err := h.profiles.List(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]PractitionerResponse, 0, len(list))
	for i := range list {
		out = append(out, practitionerResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) createPractitioner(w http.ResponseWriter, r *http.Request) {
	req := PractitionerRequest{Availability: availability.NewWeeklyAvailability()}
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.profiles.Create(r.Context(), profile.Practitioner{
		Name:        req.Name,
		Specialty:   req.Specialty,
		TimeZone:    req.TimeZone,
		SlotMinutes: req.SlotMinutes,
		LeadTime:    time.Duration(req.LeadMinutes) * time.Minute,
		Weekly:      req.Availability,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, practitionerResponse(p))
}

func (h *handlers) getPractitioner(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	p, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, practitionerResponse(p))
}

// getAvailability returns the weekly template, in the legacy shape when
// ?format=legacy.
func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	p, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == formatLegacy {
		legacy, err := availability.ToLegacy(p.Weekly)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, legacy)
		return
	}
	writeJSON(w, http.StatusOK, p.Weekly)
}

// putAvailability accepts either shape and always stores the canonical one.
func (h *handlers) putAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	var weekly availability.WeeklyAvailability
	if r.URL.Query().Get("format") == formatLegacy {
		var legacy availability.LegacyAvailability
		if err := json.Unmarshal(body, &legacy); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		weekly, err = availability.FromLegacy(legacy)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
	} else if err := json.Unmarshal(body, &weekly); err != nil {
		h.handleDecodeError(w, r, err)
		return
	}

	if err := h.profiles.SaveAvailability(r.Context(), id, weekly); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weekly)
}

// handleDecodeError keeps domain parse errors (bad time, unknown day,
// inverted window) as their own codes and treats the rest as a malformed body.
func (h *handlers) handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, availability.ErrInvalidTimeFormat) ||
		errors.Is(err, availability.ErrInvalidWindow) ||
		errors.Is(err, availability.ErrUnknownDay) {
		h.handleError(w, r, err)
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
}

func (h *handlers) putOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	date, err := civil.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	var o availability.Override
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if err := json.Unmarshal(body, &o); err != nil {
		h.handleDecodeError(w, r, err)
		return
	}
	o.Date = date

	if err := h.profiles.PutOverride(r.Context(), id, o); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *handlers) deleteOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	date, err := civil.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	if err := h.profiles.DeleteOverride(r.Context(), id, date); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	from, to, err := dateRange(r, 14)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	found, err := h.slots.Find(r.Context(), id, from, to)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotBodies(found))
}

func (h *handlers) listBookings(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	from, to, err := dateRange(r, 14)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if from.AddDays(h.horizon).Before(to.AddDays(1)) {
		h.handleError(w, r, slots.ErrHorizonTooLarge)
		return
	}
	list, err := h.ledger.ListForPractitioner(r.Context(), id, from, to)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]BookingResponse, 0, len(list))
	for i := range list {
		out = append(out, bookingResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}
