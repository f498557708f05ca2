package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
)

type Store interface {
	GetAppointmentForUpdate(ctx context.Context, q db.DBTX, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, q db.DBTX, c model.StatusChange) error
	InsertHistory(ctx context.Context, q db.DBTX, h model.HistoryEntry) error
	ListInvoices(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Invoice, error)
	LockPractitioner(ctx context.Context, q db.DBTX, practitionerID string) error
	VoidOpenIntents(ctx context.Context, q db.DBTX, appointmentID string) (int64, error)
}

type SlotChecker interface {
	Require(ctx context.Context, q db.DBTX, practitionerID string, start, end time.Time, excludeID string) error
}

// RefundPolicy runs before a cancelled or rejected status is written, so any
// refund record exists before the appointment shows as terminal.
type RefundPolicy interface {
	OpenRefund(ctx context.Context, q db.DBTX, appt model.Appointment, invoices []model.Invoice, to model.Status, reason string) (*model.Refund, error)
}

type EventWriter interface {
	Insert(ctx context.Context, q db.DBTX, evt outbox.Event) error
}

type Request struct {
	AppointmentID string
	To            model.Status
	Actor         model.Actor
	Reason        string
	Note          string
	// PractitionerID assigns the practitioner while confirming.
	PractitionerID string
}

type Result struct {
	Appointment model.Appointment
	From        model.Status
	Refund      *model.Refund

	// VoidedIntents counts the deposit intents closed by a cancellation or rejection.
	VoidedIntents int64
}

type Machine struct {
	conn    db.Beginner
	store   Store
	checker SlotChecker
	refunds RefundPolicy
	events  EventWriter
	metrics *metrics.BookingMetrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewMachine(conn db.Beginner, store Store, checker SlotChecker, refunds RefundPolicy, events EventWriter, m *metrics.BookingMetrics, logger *slog.Logger) *Machine {
	return &Machine{
		conn:    conn,
		store:   store,
		checker: checker,
		refunds: refunds,
		events:  events,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Transition runs TransitionTx in its own transaction.
func (m *Machine) Transition(ctx context.Context, req Request) (Result, error) {
	tx, err := m.conn.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := m.TransitionTx(ctx, tx, req)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return res, nil
}

// TransitionTx moves the appointment to req.To inside the caller's transaction.
// On error nothing has been written that the caller should commit.
func (m *Machine) TransitionTx(ctx context.Context, q db.DBTX, req Request) (Result, error) {
	appt, err := m.store.GetAppointmentForUpdate(ctx, q, req.AppointmentID)
	if err != nil {
		return Result{}, err
	}
	from := appt.Status

	res, err := m.apply(ctx, q, appt, req)
	if err != nil {
		m.metrics.ObserveTransition(string(from), string(req.To), "rejected")
		var sc *model.SlotConflictError
		if errors.As(err, &sc) {
			m.metrics.ObserveSlotConflict("confirm")
		}
		return Result{}, err
	}
	m.metrics.ObserveTransition(string(from), string(req.To), "ok")
	m.logger.Info("appointment status changed",
		"appointment_id", appt.ID,
		"from", from,
		"to", req.To,
		"actor_kind", req.Actor.Kind,
		"actor_id", req.Actor.ID,
		"voided_intents", res.VoidedIntents,
	)
	return res, nil
}

func (m *Machine) apply(ctx context.Context, q db.DBTX, appt model.Appointment, req Request) (Result, error) {
	from, to := appt.Status, req.To
	fail := func(reason string, cause error) error {
		return &model.TransitionError{From: from, To: to, Reason: reason, Err: cause}
	}
	if !Allowed(from, to) {
		return Result{}, fail("not reachable from current status", nil)
	}

	reason := strings.TrimSpace(req.Reason)
	change := model.StatusChange{AppointmentID: appt.ID, From: from, To: to, At: m.now()}

	switch to {
	case model.StatusConfirmed:
		if !req.Actor.IsStaff() {
			return Result{}, fail("only staff can confirm", model.ErrForbidden)
		}
		practitioner := strings.TrimSpace(req.PractitionerID)
		if practitioner == "" {
			practitioner = appt.PractitionerID
		}
		if practitioner == "" {
			return Result{}, fail("a practitioner must be assigned", nil)
		}
		if err := m.store.LockPractitioner(ctx, q, practitioner); err != nil {
			return Result{}, err
		}
		if err := m.checker.Require(ctx, q, practitioner, appt.StartTime, appt.EndTime, appt.ID); err != nil {
			if errors.Is(err, model.ErrSlotConflict) {
				return Result{}, fail("practitioner is no longer free", err)
			}
			return Result{}, err
		}
		change.PractitionerID = practitioner
		change.AssignedStaffID = req.Actor.ID
		appt.PractitionerID = practitioner
		appt.AssignedStaffID = req.Actor.ID

	case model.StatusDeposited, model.StatusPaid:
		if !req.Actor.IsReconciler() {
			return Result{}, fail("only a confirmed payment can move this status", model.ErrForbidden)
		}
		kind := model.InvoiceDeposit
		if to == model.StatusPaid {
			kind = model.InvoiceFinal
		}
		invoices, err := m.store.ListInvoices(ctx, q, appt.ID)
		if err != nil {
			return Result{}, err
		}
		if _, ok := model.ActiveInvoice(invoices, kind); !ok {
			return Result{}, fail(fmt.Sprintf("no %s invoice recorded", kind), nil)
		}

	case model.StatusApproved, model.StatusCompleted:
		if err := m.requireClinician(req.Actor, appt); err != nil {
			return Result{}, fail("", err)
		}

	case model.StatusRejected:
		if err := m.requireClinician(req.Actor, appt); err != nil {
			return Result{}, fail("", err)
		}
		if reason == "" {
			return Result{}, fail("a rejection reason is required", nil)
		}
		change.RejectionReason = reason
		appt.RejectionReason = reason

	case model.StatusCancelled:
		if !canCancel(req.Actor, appt) {
			return Result{}, fail("actor cannot cancel this appointment", model.ErrForbidden)
		}
		if reason == "" {
			return Result{}, fail("a cancel reason is required", nil)
		}
		change.CancelReason = reason
		appt.CancelReason = reason
		at := change.At
		appt.CancelledAt = &at
	}

	var (
		refund *model.Refund
		voided int64
	)
	if to == model.StatusCancelled || to == model.StatusRejected {
		invoices, err := m.store.ListInvoices(ctx, q, appt.ID)
		if err != nil {
			return Result{}, err
		}
		refund, err = m.refunds.OpenRefund(ctx, q, appt, invoices, to, reason)
		if err != nil {
			if errors.Is(err, model.ErrCancellationNotAllowed) {
				return Result{}, fail("", err)
			}
			return Result{}, err
		}
		// Checkouts still open must not take a payment after this.
		voided, err = m.store.VoidOpenIntents(ctx, q, appt.ID)
		if err != nil {
			return Result{}, fmt.Errorf("void payment intents: %w", err)
		}
	}

	if err := m.store.UpdateStatus(ctx, q, change); err != nil {
		return Result{}, err
	}
	if err := m.store.InsertHistory(ctx, q, model.HistoryEntry{
		AppointmentID: appt.ID,
		OldStatus:     from,
		NewStatus:     to,
		ActorKind:     req.Actor.Kind,
		ActorID:       req.Actor.ID,
		Reason:        reason,
		Note:          strings.TrimSpace(req.Note),
		ChangedAt:     change.At,
	}); err != nil {
		return Result{}, err
	}

	evt, err := outbox.NewAppointmentEvent(appt.ID, outbox.AppointmentStatusChanged, map[string]any{
		"appointment_id":  appt.ID,
		"customer_id":     appt.CustomerID,
		"practitioner_id": appt.PractitionerID,
		"from":            from,
		"to":              to,
		"actor_kind":      req.Actor.Kind,
		"actor_id":        req.Actor.ID,
		"reason":          reason,
		"changed_at":      change.At.Format(time.RFC3339),
	})
	if err != nil {
		return Result{}, err
	}
	if err := m.events.Insert(ctx, q, evt); err != nil {
		return Result{}, err
	}

	appt.Status = to
	appt.UpdatedAt = change.At
	return Result{Appointment: appt, From: from, Refund: refund, VoidedIntents: voided}, nil
}

// requireClinician allows staff, admins and the assigned doctor.
func (m *Machine) requireClinician(a model.Actor, appt model.Appointment) error {
	switch {
	case a.IsStaff():
		return nil
	case a.Kind == model.ActorDoctor && appt.PractitionerID != "" && a.ID == appt.PractitionerID:
		return nil
	}
	return model.ErrForbidden
}

// canCancel lets staff cancel anything and customers cancel their own bookings.
// Doctors go through a cancellation request.
func canCancel(a model.Actor, appt model.Appointment) bool {
	if a.IsStaff() {
		return true
	}
	return a.Kind == model.ActorCustomer && a.ID != "" && a.ID == appt.CustomerID
}
