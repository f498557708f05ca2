// Package handlers exposes the booking core over HTTP.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/cancellation"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/feedback"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/invoices"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/payments"
)

type Bookings interface {
	Create(ctx context.Context, d booking.Draft, idempotencyKey string, actor model.Actor) (booking.Created, error)
	Get(ctx context.Context, id string, actor model.Actor) (model.Appointment, error)
	List(ctx context.Context, f model.AppointmentFilter, actor model.Actor) ([]model.Appointment, error)
	History(ctx context.Context, id string, actor model.Actor) ([]model.HistoryEntry, error)
	UpdateDetailQuantity(ctx context.Context, appointmentID, detailID string, quantity int, actor model.Actor) (model.Appointment, error)
	Availability(ctx context.Context, practitionerID string, start, end time.Time, excludeID string) ([]string, error)
	Slots(ctx context.Context, practitionerID string, q booking.SlotQuery) ([]availability.Interval, error)
}

type Lifecycle interface {
	Transition(ctx context.Context, req lifecycle.Request) (lifecycle.Result, error)
}

type Payments interface {
	CreateDepositIntent(ctx context.Context, appointmentID string, actor model.Actor) (model.PaymentIntent, error)
	OnDepositConfirmed(ctx context.Context, cb payments.Callback) (payments.Confirmation, error)
	ReconcileIntent(ctx context.Context, orderCode int64, actor model.Actor) (payments.Confirmation, error)
	ListDiscrepancies(ctx context.Context, limit int) ([]model.PaymentDiscrepancy, error)
	CreateFinalSettlement(ctx context.Context, appointmentID string, method model.PaymentMethod, actor model.Actor) (model.Invoice, error)
}

type Cancellations interface {
	Cancel(ctx context.Context, appointmentID, reason string, actor model.Actor) (cancellation.Result, error)
	MarkRefundProcessed(ctx context.Context, refundID string, out cancellation.Outcome, actor model.Actor) (model.Refund, error)
	ListRefunds(ctx context.Context, appointmentID string) ([]model.Refund, error)
	RequestDoctorCancel(ctx context.Context, appointmentID, reason string, actor model.Actor) (model.DoctorCancelRequest, error)
	ApproveDoctorCancel(ctx context.Context, requestID string, actor model.Actor) (cancellation.DecisionResult, error)
	RejectDoctorCancel(ctx context.Context, requestID string, actor model.Actor) (cancellation.DecisionResult, error)
}

type Invoices interface {
	Aggregate(ctx context.Context, appointmentID string) (invoices.Summary, error)
	Supersede(ctx context.Context, invoiceID string, c invoices.Correction, actor model.Actor) (model.Invoice, error)
}

type Feedback interface {
	Submit(ctx context.Context, appointmentID string, items []feedback.Item, actor model.Actor) ([]model.Feedback, error)
	List(ctx context.Context, appointmentID string) ([]model.Feedback, error)
	Moderate(ctx context.Context, feedbackID string, status model.ModerationStatus, actor model.Actor) (model.Feedback, error)
}

// WebhookConfig holds the secrets used to authenticate payment callbacks.
// An empty secret disables the matching endpoint (503).
type WebhookConfig struct {
	CallbackSecret  string
	StripeSecret    string
	StripeTolerance time.Duration
	MaxBodyBytes    int64
}

type Config struct {
	Bookings      Bookings
	Lifecycle     Lifecycle
	Payments      Payments
	Cancellations Cancellations
	Invoices      Invoices
	Feedback      Feedback
	Verifier      TokenVerifier
	Webhooks      WebhookConfig
	Logger        *slog.Logger
}

type API struct {
	cfg    Config
	logger *slog.Logger
}

// NewRouter mounts the /api/v1 routes. Payment callbacks are public and
// authenticated by signature; everything else needs a caller identity.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Webhooks.StripeTolerance <= 0 {
		cfg.Webhooks.StripeTolerance = 300 * time.Second
	}
	if cfg.Webhooks.MaxBodyBytes <= 0 {
		cfg.Webhooks.MaxBodyBytes = 64 << 10
	}
	api := &API{cfg: cfg, logger: cfg.Logger}
	staffOnly := requireRole(model.ActorStaff, model.ActorAdmin)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(public chi.Router) {
			public.Post("/payments/callback", api.paymentCallback)
			public.Post("/payments/webhooks/stripe", api.stripeWebhook)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireActor(cfg.Verifier, cfg.Logger))

			r.Route("/appointments", func(r chi.Router) {
				r.Post("/", api.createAppointment)
				r.Get("/", api.listAppointments)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", api.getAppointment)
					r.With(requireRole(model.ActorStaff, model.ActorAdmin, model.ActorDoctor)).Get("/history", api.history)
					r.With(staffOnly).Patch("/details/{detailID}", api.updateDetail)

					r.With(staffOnly).Post("/confirm", api.confirm)
					r.Post("/approve", api.transitionTo(model.StatusApproved))
					r.Post("/reject", api.transitionTo(model.StatusRejected))
					r.Post("/complete", api.transitionTo(model.StatusCompleted))
					r.Post("/cancel", api.cancel)

					r.Post("/deposit-intent", api.depositIntent)
					r.With(staffOnly).Post("/final-settlement", api.finalSettlement)
					r.Get("/invoice-aggregate", api.invoiceAggregate)
					r.Get("/refunds", api.listRefunds)
					r.Post("/doctor-cancel-requests", api.requestDoctorCancel)
					r.Post("/feedback", api.submitFeedback)
					r.Get("/feedback", api.listFeedback)
				})
			})

			r.Get("/availability", api.availability)
			r.Get("/practitioners/{id}/slots", api.slots)

			r.Group(func(r chi.Router) {
				r.Use(staffOnly)
				r.Post("/refunds/{id}/process", api.processRefund)
				r.Post("/doctor-cancel-requests/{id}/approve", api.decideDoctorCancel(true))
				r.Post("/doctor-cancel-requests/{id}/reject", api.decideDoctorCancel(false))
				r.Post("/feedback/{id}/moderate", api.moderateFeedback)
				r.Post("/invoices/{id}/supersede", api.supersedeInvoice)
				r.Get("/payments/discrepancies", api.listDiscrepancies)
				r.Post("/payments/intents/{orderCode}/reconcile", api.reconcileIntent)
			})
		})
	})
	return r
}
