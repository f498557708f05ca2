package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type lineItemRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type createAppointmentRequest struct {
	CustomerID     string            `json:"customer_id"`
	PractitionerID string            `json:"practitioner_id" validate:"required"`
	Items          []lineItemRequest `json:"items" validate:"required,min=1,dive"`
	StartTime      time.Time         `json:"start_time" validate:"required"`
	EndTime        time.Time         `json:"end_time" validate:"required,gtfield=StartTime"`
	VoucherCode    string            `json:"voucher_code" validate:"max=64"`
	Note           string            `json:"note" validate:"max=1000"`
}

func (a *API) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	items := make([]booking.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, booking.LineItem{ServiceID: it.ServiceID, Quantity: it.Quantity})
	}
	out, err := a.cfg.Bookings.Create(r.Context(), booking.Draft{
		CustomerID:     req.CustomerID,
		PractitionerID: req.PractitionerID,
		Items:          items,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		VoucherCode:    req.VoucherCode,
		Note:           req.Note,
	}, r.Header.Get("Idempotency-Key"), actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if out.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusCreated, toAppointmentView(out.Appointment))
}

func (a *API) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := a.cfg.Bookings.Get(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentView(appt))
}

func (a *API) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	list, err := a.cfg.Bookings.List(r.Context(), model.AppointmentFilter{
		CustomerID:     strings.TrimSpace(q.Get("customer_id")),
		PractitionerID: strings.TrimSpace(q.Get("practitioner_id")),
		Status:         model.Status(strings.TrimSpace(q.Get("status"))),
		Limit:          limit,
	}, actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	out := make([]appointmentView, 0, len(list))
	for _, appt := range list {
		out = append(out, toAppointmentView(appt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	entries, err := a.cfg.Bookings.History(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	out := make([]historyView, 0, len(entries))
	for _, h := range entries {
		out = append(out, historyView{
			OldStatus: h.OldStatus,
			NewStatus: h.NewStatus,
			ActorKind: string(h.ActorKind),
			ActorID:   h.ActorID,
			Reason:    h.Reason,
			Note:      h.Note,
			ChangedAt: h.ChangedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type updateDetailRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

func (a *API) updateDetail(w http.ResponseWriter, r *http.Request) {
	var req updateDetailRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	appt, err := a.cfg.Bookings.UpdateDetailQuantity(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "detailID"), req.Quantity, actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentView(appt))
}

type confirmRequest struct {
	PractitionerID string `json:"practitioner_id"`
	Note           string `json:"note" validate:"max=1000"`
}

func (a *API) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, a.logger, err)
			return
		}
	}
	res, err := a.cfg.Lifecycle.Transition(r.Context(), lifecycle.Request{
		AppointmentID:  chi.URLParam(r, "id"),
		To:             model.StatusConfirmed,
		Actor:          actorFrom(r),
		Note:           req.Note,
		PractitionerID: strings.TrimSpace(req.PractitionerID),
	})
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentView(res.Appointment))
}

type transitionRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
	Note   string `json:"note" validate:"max=1000"`
}

type transitionResponse struct {
	Appointment appointmentView `json:"appointment"`
	Refund      *refundView     `json:"refund,omitempty"`
}

// transitionTo serves approve, reject and complete. Guards live in lifecycle.
func (a *API) transitionTo(to model.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				writeError(w, r, a.logger, err)
				return
			}
		}
		res, err := a.cfg.Lifecycle.Transition(r.Context(), lifecycle.Request{
			AppointmentID: chi.URLParam(r, "id"),
			To:            to,
			Actor:         actorFrom(r),
			Reason:        req.Reason,
			Note:          req.Note,
		})
		if err != nil {
			writeError(w, r, a.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, transitionResponse{Appointment: toAppointmentView(res.Appointment), Refund: optionalRefund(res.Refund)})
	}
}

func (a *API) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		badRequest(w, r, a.logger, "start must be RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		badRequest(w, r, a.logger, "end must be RFC3339")
		return
	}
	ids, err := a.cfg.Bookings.Availability(r.Context(), q.Get("practitioner_id"), start, end, q.Get("exclude"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": len(ids) == 0, "conflicting_ids": ids})
}

type slotView struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (a *API) slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	if date == "" {
		badRequest(w, r, a.logger, "date is required")
		return
	}
	durationMins, err := queryInt(r, "duration_minutes", 0)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	stepMins, err := queryInt(r, "slot_step_minutes", 0)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	loc := time.UTC
	if tz := strings.TrimSpace(q.Get("timezone")); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			badRequest(w, r, a.logger, "unknown timezone %q", tz)
			return
		}
	}

	free, err := a.cfg.Bookings.Slots(r.Context(), chi.URLParam(r, "id"), booking.SlotQuery{
		Date:         date,
		WorkdayStart: strings.TrimSpace(q.Get("workday_start")),
		WorkdayEnd:   strings.TrimSpace(q.Get("workday_end")),
		Duration:     time.Duration(durationMins) * time.Minute,
		Step:         time.Duration(stepMins) * time.Minute,
		Location:     loc,
	})
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	out := make([]slotView, 0, len(free))
	for _, s := range free {
		out = append(out, slotView{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
