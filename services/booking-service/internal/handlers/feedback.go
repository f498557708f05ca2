package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/feedback"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type feedbackItemRequest struct {
	DetailID string `json:"detail_id" validate:"required"`
	Rating   int    `json:"rating" validate:"required,min=1,max=5"`
	Comment  string `json:"comment" validate:"max=2000"`
}

type submitFeedbackRequest struct {
	Items []feedbackItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (a *API) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req submitFeedbackRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	items := make([]feedback.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, feedback.Item(it))
	}
	rows, err := a.cfg.Feedback.Submit(r.Context(), chi.URLParam(r, "id"), items, actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, feedbackViews(rows))
}

func (a *API) listFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.cfg.Bookings.Get(r.Context(), id, actorFrom(r)); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	rows, err := a.cfg.Feedback.List(r.Context(), id)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackViews(rows))
}

type moderateRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
}

func (a *API) moderateFeedback(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	row, err := a.cfg.Feedback.Moderate(r.Context(), chi.URLParam(r, "id"), model.ModerationStatus(req.Status), actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedbackView(row))
}

func feedbackViews(rows []model.Feedback) []feedbackView {
	out := make([]feedbackView, 0, len(rows))
	for _, f := range rows {
		out = append(out, toFeedbackView(f))
	}
	return out
}
