package cancellation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
)

type Store interface {
	GetAppointmentForUpdate(ctx context.Context, q db.DBTX, id string) (model.Appointment, error)
	GetRefundForUpdate(ctx context.Context, q db.DBTX, id string) (model.Refund, error)
	ListRefunds(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Refund, error)
	UpdateRefundOutcome(ctx context.Context, q db.DBTX, rf model.Refund) error
	InsertCancelRequest(ctx context.Context, q db.DBTX, cr *model.DoctorCancelRequest) error
	GetCancelRequestForUpdate(ctx context.Context, q db.DBTX, id string) (model.DoctorCancelRequest, error)
	DecideCancelRequest(ctx context.Context, q db.DBTX, cr model.DoctorCancelRequest) error
}

type Transitioner interface {
	Transition(ctx context.Context, req lifecycle.Request) (lifecycle.Result, error)
	TransitionTx(ctx context.Context, q db.DBTX, req lifecycle.Request) (lifecycle.Result, error)
}

type Workflow struct {
	conn    db.Conn
	store   Store
	machine Transitioner
	events  EventWriter
	metrics *metrics.BookingMetrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewWorkflow(conn db.Conn, store Store, machine Transitioner, events EventWriter, m *metrics.BookingMetrics, logger *slog.Logger) *Workflow {
	return &Workflow{
		conn:    conn,
		store:   store,
		machine: machine,
		events:  events,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	Appointment model.Appointment
	Refund      *model.Refund
}

// Cancel closes the appointment. A deposit that was already paid becomes a pending refund.
func (w *Workflow) Cancel(ctx context.Context, appointmentID, reason string, actor model.Actor) (Result, error) {
	res, err := w.machine.Transition(ctx, lifecycle.Request{
		AppointmentID: appointmentID,
		To:            model.StatusCancelled,
		Actor:         actor,
		Reason:        reason,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Appointment: res.Appointment, Refund: res.Refund}, nil
}

type Outcome struct {
	Status model.RefundStatus
	Method model.RefundMethod
	Note   string
}

// MarkRefundProcessed records how staff paid out, or failed to pay out, a pending refund.
func (w *Workflow) MarkRefundProcessed(ctx context.Context, refundID string, out Outcome, actor model.Actor) (model.Refund, error) {
	if !actor.IsStaff() {
		return model.Refund{}, model.ErrForbidden
	}
	switch out.Status {
	case model.RefundCompleted:
		if _, ok := model.ParseRefundMethod(string(out.Method)); !ok {
			return model.Refund{}, fmt.Errorf("%w: refund method must be cash, qr or card", model.ErrInvalidInput)
		}
	case model.RefundFailed:
	default:
		return model.Refund{}, fmt.Errorf("%w: outcome must be completed or failed", model.ErrInvalidInput)
	}

	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return model.Refund{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rf, err := w.store.GetRefundForUpdate(ctx, tx, refundID)
	if err != nil {
		return model.Refund{}, err
	}
	if rf.Status != model.RefundPending {
		return model.Refund{}, fmt.Errorf("%w: refund %s is %s", model.ErrRefundProcessing, rf.ID, rf.Status)
	}

	at := w.now()
	rf.Status = out.Status
	rf.Method = out.Method
	rf.Note = strings.TrimSpace(out.Note)
	rf.ProcessedBy = actor.ID
	rf.ProcessedAt = &at
	if err := w.store.UpdateRefundOutcome(ctx, tx, rf); err != nil {
		return model.Refund{}, err
	}

	evt, err := outbox.NewAppointmentEvent(rf.AppointmentID, outbox.RefundProcessed, map[string]any{
		"refund_id":      rf.ID,
		"appointment_id": rf.AppointmentID,
		"amount":         rf.Amount,
		"status":         rf.Status,
		"method":         rf.Method,
		"processed_by":   rf.ProcessedBy,
		"processed_at":   at.Format(time.RFC3339),
	})
	if err != nil {
		return model.Refund{}, err
	}
	if err := w.events.Insert(ctx, tx, evt); err != nil {
		return model.Refund{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Refund{}, err
	}

	w.metrics.ObserveRefund(string(rf.Status))
	w.logger.Info("refund processed", "refund_id", rf.ID, "appointment_id", rf.AppointmentID, "status", rf.Status)
	return rf, nil
}

func (w *Workflow) ListRefunds(ctx context.Context, appointmentID string) ([]model.Refund, error) {
	return w.store.ListRefunds(ctx, w.conn, appointmentID)
}
