package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/cancellation"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	res, err := a.cfg.Cancellations.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Appointment: toAppointmentView(res.Appointment), Refund: optionalRefund(res.Refund)})
}

func (a *API) listRefunds(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.cfg.Bookings.Get(r.Context(), id, actorFrom(r)); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	list, err := a.cfg.Cancellations.ListRefunds(r.Context(), id)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	out := make([]refundView, 0, len(list))
	for _, rf := range list {
		out = append(out, toRefundView(rf))
	}
	writeJSON(w, http.StatusOK, out)
}

type processRefundRequest struct {
	Status string `json:"status" validate:"required,oneof=completed failed"`
	Method string `json:"method" validate:"omitempty,oneof=cash qr card"`
	Note   string `json:"note" validate:"max=1000"`
}

func (a *API) processRefund(w http.ResponseWriter, r *http.Request) {
	var req processRefundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	rf, err := a.cfg.Cancellations.MarkRefundProcessed(r.Context(), chi.URLParam(r, "id"), cancellation.Outcome{
		Status: model.RefundStatus(req.Status),
		Method: model.RefundMethod(req.Method),
		Note:   req.Note,
	}, actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefundView(rf))
}

func (a *API) requestDoctorCancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	cr, err := a.cfg.Cancellations.RequestDoctorCancel(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCancelRequestView(cr))
}

type decisionResponse struct {
	Request     cancelRequestView `json:"request"`
	Appointment *appointmentView  `json:"appointment,omitempty"`
	Refund      *refundView       `json:"refund,omitempty"`
}

func (a *API) decideDoctorCancel(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decide := a.cfg.Cancellations.RejectDoctorCancel
		if approve {
			decide = a.cfg.Cancellations.ApproveDoctorCancel
		}
		res, err := decide(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			writeError(w, r, a.logger, err)
			return
		}
		out := decisionResponse{Request: toCancelRequestView(res.Request), Refund: optionalRefund(res.Refund)}
		if res.Appointment != nil {
			v := toAppointmentView(*res.Appointment)
			out.Appointment = &v
		}
		writeJSON(w, http.StatusOK, out)
	}
}
