package api

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
	"github.com/hackgods/clinic-booking-scheduler/internal/profile"
	"github.com/hackgods/clinic-booking-scheduler/internal/workflow"
)

// SlotBody is the wire form of a slot: dates "YYYY-MM-DD", times "HH:MM".
type SlotBody struct {
	PractitionerID string `json:"practitioner_id"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
}

func (b SlotBody) toSlot() (appointment.Slot, error) {
	pid, err := uuid.Parse(b.PractitionerID)
	if err != nil {
		return appointment.Slot{}, fmt.Errorf("%w: practitioner_id must be a valid UUID", appointment.ErrInvalidSlot)
	}
	date, err := civil.ParseDate(b.Date)
	if err != nil {
		return appointment.Slot{}, fmt.Errorf("%w: date must be YYYY-MM-DD", appointment.ErrInvalidSlot)
	}
	start, err := availability.ParseTimeOfDay(b.StartTime)
	if err != nil {
		return appointment.Slot{}, err
	}
	end, err := availability.ParseTimeOfDay(b.EndTime)
	if err != nil {
		return appointment.Slot{}, err
	}
	return appointment.Slot{PractitionerID: pid, Date: date, Start: start, End: end}, nil
}

func slotBody(s appointment.Slot) SlotBody {
	return SlotBody{
		PractitionerID: s.PractitionerID.String(),
		Date:           s.Date.String(),
		StartTime:      availability.FormatTimeOfDay(s.Start),
		EndTime:        availability.FormatTimeOfDay(s.End),
	}
}

func slotBodies(slots []appointment.Slot) []SlotBody {
	out := make([]SlotBody, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotBody(s))
	}
	return out
}

type ReserveRequest struct {
	SlotBody
	ClientID string `json:"client_id"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type HistoryResponse struct {
	Action     string    `json:"action"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type BookingResponse struct {
	ID             uuid.UUID         `json:"id"`
	PractitionerID uuid.UUID         `json:"practitioner_id"`
	ClientID       string            `json:"client_id"`
	Date           string            `json:"date"`
	StartTime      string            `json:"start_time"`
	EndTime        string            `json:"end_time"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	History        []HistoryResponse `json:"history,omitempty"`
}

func bookingResponse(b *appointment.Booking) BookingResponse {
	resp := BookingResponse{
		ID:             b.ID,
		PractitionerID: b.PractitionerID,
		ClientID:       b.ClientID,
		Date:           b.Date.String(),
		StartTime:      availability.FormatTimeOfDay(b.Start),
		EndTime:        availability.FormatTimeOfDay(b.End),
		Status:         string(b.Status),
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
	for _, h := range b.History {
		resp.History = append(resp.History, HistoryResponse{
			Action:     string(h.Action),
			FromStatus: string(h.FromStatus),
			ToStatus:   string(h.ToStatus),
			Actor:      h.Actor,
			Reason:     h.Reason,
			At:         h.At,
		})
	}
	return resp
}

type PractitionerRequest struct {
	Name         string                          `json:"name"`
	Specialty    string                          `json:"specialty"`
	TimeZone     string                          `json:"time_zone"`
	SlotMinutes  int                             `json:"slot_minutes"`
	LeadMinutes  int                             `json:"lead_time_minutes"`
	Availability availability.WeeklyAvailability `json:"availability"`
}

type PractitionerResponse struct {
	ID           uuid.UUID                       `json:"id"`
	Name         string                          `json:"name"`
	Specialty    string                          `json:"specialty,omitempty"`
	TimeZone     string                          `json:"time_zone"`
	SlotMinutes  int                             `json:"slot_minutes"`
	LeadMinutes  int                             `json:"lead_time_minutes"`
	Availability availability.WeeklyAvailability `json:"availability"`
	Overrides    []availability.Override         `json:"overrides,omitempty"`
}

func practitionerResponse(p *profile.Practitioner) PractitionerResponse {
	return PractitionerResponse{
		ID:           p.ID,
		Name:         p.Name,
		Specialty:    p.Specialty,
		TimeZone:     p.TimeZone,
		SlotMinutes:  p.SlotMinutes,
		LeadMinutes:  int(p.LeadTime / time.Minute),
		Availability: p.Weekly,
		Overrides:    p.Overrides,
	}
}

type SelectionRequest struct {
	Slot     *SlotBody `json:"slot"`
	Service  string    `json:"service"`
	Location string    `json:"location"`
}

type BackRequest struct {
	Step workflow.Step `json:"step"`
}

type CommitRequest struct {
	ClientID string `json:"client_id"`
}

type SelectionResponse struct {
	Slot     *SlotBody `json:"slot,omitempty"`
	Service  string    `json:"service"`
	Location string    `json:"location"`
}

type DraftResponse struct {
	ID        uuid.UUID              `json:"id"`
	Step      workflow.Step          `json:"step"`
	Selection SelectionResponse      `json:"selection"`
	Client    workflow.ClientDetails `json:"client"`
	Address   workflow.Address       `json:"address"`
	Notice    string                 `json:"notice,omitempty"`
	BookingID *uuid.UUID             `json:"booking_id,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func draftResponse(d workflow.Draft) DraftResponse {
	resp := DraftResponse{
		ID:   d.ID,
		Step: d.Step,
		Selection: SelectionResponse{
			Service:  d.Selection.Service,
			Location: d.Selection.Location,
		},
		Client:    d.Client,
		Address:   d.Address,
		Notice:    d.Notice,
		BookingID: d.BookingID,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Selection.Slot != nil {
		sb := slotBody(*d.Selection.Slot)
		resp.Selection.Slot = &sb
	}
	return resp
}

type CommitResponse struct {
	Draft        DraftResponse    `json:"draft"`
	Booking      *BookingResponse `json:"booking,omitempty"`
	Conflict     bool             `json:"conflict"`
	Alternatives []SlotBody       `json:"alternatives,omitempty"`
}

type ConflictResponse struct {
	Error          string     `json:"error"`
	Details        string     `json:"details"`
	AvailableSlots []SlotBody `json:"available_slots"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
