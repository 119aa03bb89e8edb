package api

import (
	"net/http"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/workflow"
)

func (h *handlers) startDraft(w http.ResponseWriter, r *http.Request) {
	d := h.workflow.Start()
	if err := h.drafts.Save(r.Context(), d); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, draftResponse(d))
}

// loadDraft reads the {id} draft, writing the error response itself when it
// cannot.
func (h *handlers) loadDraft(w http.ResponseWriter, r *http.Request) (workflow.Draft, bool) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return workflow.Draft{}, false
	}
	d, err := h.drafts.Load(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return workflow.Draft{}, false
	}
	return d, true
}

func (h *handlers) saveDraft(w http.ResponseWriter, r *http.Request, d workflow.Draft, status int) {
	if err := h.drafts.Save(r.Context(), d); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, status, draftResponse(d))
}

func (h *handlers) getDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, draftResponse(d))
}

func (h *handlers) putSelection(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	var req SelectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sel := workflow.SlotSelection{Service: req.Service, Location: req.Location}
	if req.Slot != nil {
		slot, err := req.Slot.toSlot()
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
		sel.Slot = &slot
	}

	next, err := d.WithSelection(sel, h.workflow.Now())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.saveDraft(w, r, next, http.StatusOK)
}

func (h *handlers) putClient(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	var req workflow.ClientDetails
	if !decodeJSON(w, r, &req) {
		return
	}
	next, err := d.WithClient(req, h.workflow.Now())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.saveDraft(w, r, next, http.StatusOK)
}

func (h *handlers) putAddress(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	var req workflow.Address
	if !decodeJSON(w, r, &req) {
		return
	}
	next, err := d.WithAddress(req, h.workflow.Now())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.saveDraft(w, r, next, http.StatusOK)
}

// advanceDraft runs the current step's gate. A failing gate answers 422
// with per-field messages and leaves the stored draft unchanged.
func (h *handlers) advanceDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	next, err := h.workflow.Advance(d)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.saveDraft(w, r, next, http.StatusOK)
}

func (h *handlers) backDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	var req BackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	next, err := d.Back(req.Step, h.workflow.Now())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.saveDraft(w, r, next, http.StatusOK)
}

// commitDraft submits the draft to the ledger. A lost slot is not an error
// for the draft: it is stored back at slot selection and returned with 409
// and fresh alternatives. The draft is loaded only after its commit guard
// is held, so a repeated commit sees the stored outcome of the first.
func (h *handlers) commitDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req CommitRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	release, err := h.drafts.GuardCommit(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer release()

	d, err := h.drafts.Load(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	res, err := h.workflow.Commit(r.Context(), d, req.ClientID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.drafts.Save(r.Context(), res.Draft); err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := CommitResponse{
		Draft:    draftResponse(res.Draft),
		Conflict: res.Conflict,
	}
	if res.Conflict {
		resp.Alternatives = slotBodies(res.Alternatives)
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	resp.Booking = bookingPtr(res.Booking)
	writeJSON(w, http.StatusOK, resp)
}

func bookingPtr(b *appointment.Booking) *BookingResponse {
	if b == nil {
		return nil
	}
	resp := bookingResponse(b)
	return &resp
}
