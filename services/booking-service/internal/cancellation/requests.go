package cancellation

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

// RequestDoctorCancel lets the assigned doctor ask staff to cancel an appointment.
func (w *Workflow) RequestDoctorCancel(ctx context.Context, appointmentID, reason string, actor model.Actor) (model.DoctorCancelRequest, error) {
	if actor.Kind != model.ActorDoctor {
		return model.DoctorCancelRequest{}, model.ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.DoctorCancelRequest{}, fmt.Errorf("%w: reason is required", model.ErrInvalidInput)
	}

	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return model.DoctorCancelRequest{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := w.store.GetAppointmentForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return model.DoctorCancelRequest{}, err
	}
	if appt.PractitionerID != actor.ID {
		return model.DoctorCancelRequest{}, model.ErrForbidden
	}
	if !lifecycle.Allowed(appt.Status, model.StatusCancelled) {
		return model.DoctorCancelRequest{}, &model.TransitionError{From: appt.Status, To: model.StatusCancelled, Reason: "appointment is closed"}
	}

	cr := model.DoctorCancelRequest{
		AppointmentID: appt.ID,
		DoctorID:      actor.ID,
		Reason:        reason,
		Status:        model.CancelRequestPending,
	}
	if err := w.store.InsertCancelRequest(ctx, tx, &cr); err != nil {
		return model.DoctorCancelRequest{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.DoctorCancelRequest{}, err
	}
	return cr, nil
}

type DecisionResult struct {
	Request     model.DoctorCancelRequest
	Appointment *model.Appointment
	Refund      *model.Refund
}

// ApproveDoctorCancel cancels the appointment with the doctor's reason in the
// same transaction that closes the request.
func (w *Workflow) ApproveDoctorCancel(ctx context.Context, requestID string, actor model.Actor) (DecisionResult, error) {
	return w.decide(ctx, requestID, actor, model.CancelRequestApproved)
}

func (w *Workflow) RejectDoctorCancel(ctx context.Context, requestID string, actor model.Actor) (DecisionResult, error) {
	return w.decide(ctx, requestID, actor, model.CancelRequestRejected)
}

func (w *Workflow) decide(ctx context.Context, requestID string, actor model.Actor, status model.CancelRequestStatus) (DecisionResult, error) {
	if !actor.IsStaff() {
		return DecisionResult{}, model.ErrForbidden
	}

	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return DecisionResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cr, err := w.store.GetCancelRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return DecisionResult{}, err
	}
	if cr.Status != model.CancelRequestPending {
		return DecisionResult{}, fmt.Errorf("%w: request %s is already %s", model.ErrInvalidInput, cr.ID, cr.Status)
	}

	var out DecisionResult
	if status == model.CancelRequestApproved {
		res, err := w.machine.TransitionTx(ctx, tx, lifecycle.Request{
			AppointmentID: cr.AppointmentID,
			To:            model.StatusCancelled,
			Actor:         actor,
			Reason:        cr.Reason,
			Note:          "doctor cancellation request " + cr.ID,
		})
		if err != nil {
			return DecisionResult{}, err
		}
		out.Appointment = &res.Appointment
		out.Refund = res.Refund
	}

	at := w.now()
	cr.Status = status
	cr.DecidedBy = actor.ID
	cr.DecidedAt = &at
	if err := w.store.DecideCancelRequest(ctx, tx, cr); err != nil {
		return DecisionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return DecisionResult{}, err
	}
	out.Request = cr
	return out, nil
}
