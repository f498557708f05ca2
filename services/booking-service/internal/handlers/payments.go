package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/payments"
)

func toIntentView(p model.PaymentIntent) intentView {
	return intentView{
		OrderCode:     p.OrderCode,
		AppointmentID: p.AppointmentID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Provider:      p.Provider,
		CheckoutRef:   p.CheckoutRef,
		CheckoutURL:   p.CheckoutURL,
		Status:        p.Status,
	}
}

func (a *API) depositIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := a.cfg.Payments.CreateDepositIntent(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIntentView(intent))
}

type confirmationView struct {
	Outcome       payments.Outcome `json:"outcome"`
	OrderCode     int64            `json:"order_code"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	Status        model.Status     `json:"status,omitempty"`
	InvoiceID     string           `json:"invoice_id,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

func toConfirmationView(c payments.Confirmation) confirmationView {
	v := confirmationView{Outcome: c.Outcome, OrderCode: c.OrderCode}
	if c.Appointment != nil {
		v.AppointmentID = c.Appointment.ID
		v.Status = c.Appointment.Status
	}
	if c.Invoice != nil {
		v.InvoiceID = c.Invoice.ID
	}
	if c.Discrepancy != nil {
		v.AppointmentID = c.Discrepancy.AppointmentID
		v.Reason = c.Discrepancy.Reason
	}
	return v
}

// readWebhookBody reads the raw body, which signatures are computed over.
func (a *API) readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.Webhooks.MaxBodyBytes))
	if err != nil {
		badRequest(w, r, a.logger, "unreadable body")
		return nil, false
	}
	return body, true
}

// paymentCallback accepts the generic gateway callback signed with X-Signature.
func (a *API) paymentCallback(w http.ResponseWriter, r *http.Request) {
	secret := a.cfg.Webhooks.CallbackSecret
	if secret == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not_configured", Message: "payment callback secret is not configured"})
		return
	}
	body, ok := a.readWebhookBody(w, r)
	if !ok {
		return
	}
	if !payments.VerifySignature(body, r.Header.Get("X-Signature"), secret) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_signature", Message: "signature verification failed"})
		return
	}
	cb, err := payments.ParseCallback(body)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	a.applyCallback(w, r, cb)
}

func (a *API) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	secret := a.cfg.Webhooks.StripeSecret
	if secret == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not_configured", Message: "stripe webhook secret is not configured"})
		return
	}
	body, ok := a.readWebhookBody(w, r)
	if !ok {
		return
	}
	cb, handled, err := payments.ParseStripeEvent(body, r.Header.Get("Stripe-Signature"), secret, a.cfg.Webhooks.StripeTolerance)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if !handled {
		a.logger.Debug("stripe event ignored", "event_id", cb.EventID)
		writeJSON(w, http.StatusOK, map[string]string{"outcome": "ignored"})
		return
	}
	a.applyCallback(w, r, cb)
}

// applyCallback acknowledges duplicates and recorded discrepancies with 200 so
// the gateway stops retrying; staff resolve discrepancies out of band.
func (a *API) applyCallback(w http.ResponseWriter, r *http.Request, cb payments.Callback) {
	conf, err := a.cfg.Payments.OnDepositConfirmed(r.Context(), cb)
	if err != nil && conf.Outcome != payments.OutcomeDiscrepancy {
		writeError(w, r, a.logger, err)
		return
	}
	if err != nil {
		a.logger.Warn("payment callback recorded as discrepancy",
			"provider", cb.Provider,
			"order_code", cb.OrderCode,
			"err", err,
		)
	}
	writeJSON(w, http.StatusOK, toConfirmationView(conf))
}

type finalSettlementRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=cash card qr bank_transfer gateway"`
}

func (a *API) finalSettlement(w http.ResponseWriter, r *http.Request) {
	var req finalSettlementRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	inv, err := a.cfg.Payments.CreateFinalSettlement(r.Context(), chi.URLParam(r, "id"), model.PaymentMethod(req.PaymentMethod), actorFrom(r))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceView(inv))
}

func (a *API) reconcileIntent(w http.ResponseWriter, r *http.Request) {
	orderCode, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "orderCode")), 10, 64)
	if err != nil || orderCode <= 0 {
		badRequest(w, r, a.logger, "order code must be a positive integer")
		return
	}
	conf, err := a.cfg.Payments.ReconcileIntent(r.Context(), orderCode, actorFrom(r))
	if err != nil && !errors.Is(err, model.ErrPaymentVerification) {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfirmationView(conf))
}

func (a *API) listDiscrepancies(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	list, err := a.cfg.Payments.ListDiscrepancies(r.Context(), limit)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	out := make([]discrepancyView, 0, len(list))
	for _, d := range list {
		out = append(out, discrepancyView(d))
	}
	writeJSON(w, http.StatusOK, out)
}
