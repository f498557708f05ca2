package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/invoices"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

func (a *API) invoiceAggregate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.cfg.Bookings.Get(r.Context(), id, actorFrom(r)); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	summary, err := a.cfg.Invoices.Aggregate(r.Context(), id)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryView(summary))
}

type supersedeRequest struct {
	Discount      *int64             `json:"discount" validate:"omitempty,min=0"`
	PaymentMethod string             `json:"payment_method" validate:"omitempty,oneof=cash card qr bank_transfer gateway"`
	Lines         []supersedeLineReq `json:"lines" validate:"omitempty,dive"`
}

type supersedeLineReq struct {
	ServiceID string `json:"service_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
	UnitPrice int64  `json:"unit_price" validate:"min=0"`
}

func (a *API) supersedeInvoice(w http.ResponseWriter, r *http.Request) {
	var req supersedeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	var lines []model.InvoiceLine
	for _, l := range req.Lines {
		lines = append(lines, model.InvoiceLine(l))
	}
	inv, err := a.cfg.Invoices.Supersede(r.Context(), chi.URLParam(r, "id"), invoices.Correction{
		Discount:      req.Discount,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		Lines:         lines,
	}, actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceView(inv))
}
