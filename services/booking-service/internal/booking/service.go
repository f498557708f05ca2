// Package booking creates reservations and serves the read side of the
// appointment aggregate. Status changes after creation go through lifecycle.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/pricing"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage"
)

type Store interface {
	LockIdempotencyKey(ctx context.Context, q db.DBTX, customerID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, q db.DBTX, customerID, key, appointmentID string, statusCode int, response []byte) error
	GetServices(ctx context.Context, q db.DBTX, ids []string) (map[string]model.Service, error)
	PractitionerOffers(ctx context.Context, q db.DBTX, practitionerID string, serviceIDs []string) (bool, error)
	GetVoucherByCode(ctx context.Context, q db.DBTX, code string) (model.Voucher, error)
	LockPractitioner(ctx context.Context, q db.DBTX, practitionerID string) error
	InsertAppointment(ctx context.Context, q db.DBTX, a *model.Appointment) error
	InsertHistory(ctx context.Context, q db.DBTX, h model.HistoryEntry) error
	GetAppointment(ctx context.Context, q db.DBTX, id string) (model.Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, q db.DBTX, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, q db.DBTX, f model.AppointmentFilter) ([]model.Appointment, error)
	ListHistory(ctx context.Context, q db.DBTX, appointmentID string) ([]model.HistoryEntry, error)
	UpdateDetailQuantity(ctx context.Context, q db.DBTX, appointmentID, detailID string, quantity int) error
	UpdateAmounts(ctx context.Context, q db.DBTX, appointmentID string, total, deposit int64) error
	VoidOpenIntents(ctx context.Context, q db.DBTX, appointmentID string) (int64, error)
}

type SlotChecker interface {
	Check(ctx context.Context, q db.DBTX, practitionerID string, start, end time.Time, excludeID string) ([]string, error)
	Require(ctx context.Context, q db.DBTX, practitionerID string, start, end time.Time, excludeID string) error
	FreeSlots(ctx context.Context, q db.DBTX, practitionerID string, window availability.Interval, duration, step time.Duration, now time.Time) ([]availability.Interval, error)
}

type EventWriter interface {
	Insert(ctx context.Context, q db.DBTX, evt outbox.Event) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Service struct {
	conn    db.Conn
	store   Store
	checker SlotChecker
	events  EventWriter
	metrics *metrics.BookingMetrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(conn db.Conn, store Store, checker SlotChecker, events EventWriter, m *metrics.BookingMetrics, logger *slog.Logger) *Service {
	return &Service{
		conn:    conn,
		store:   store,
		checker: checker,
		events:  events,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type LineItem struct {
	ServiceID string
	Quantity  int
}

// Draft is a booking request. CustomerID defaults to the actor for customers.
type Draft struct {
	CustomerID     string
	PractitionerID string
	Items          []LineItem
	StartTime      time.Time
	EndTime        time.Time
	VoucherCode    string
	Note           string
}

// Created is the outcome of Create. Replayed is set when an earlier request
// with the same idempotency key already created the appointment.
type Created struct {
	Appointment model.Appointment
	Replayed    bool
}

type createdPayload struct {
	AppointmentID string       `json:"appointment_id"`
	Status        model.Status `json:"status"`
}

// Create books a pending appointment. The practitioner lock is held from the
// overlap check through the insert, and the exclusion constraint backs it up.
func (s *Service) Create(ctx context.Context, d Draft, idempotencyKey string, actor model.Actor) (Created, error) {
	if err := s.normalize(&d, actor); err != nil {
		return Created{}, err
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return Created{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if idempotencyKey != "" {
		rec, exists, err := s.store.LockIdempotencyKey(ctx, tx, d.CustomerID, idempotencyKey)
		if err != nil {
			return Created{}, fmt.Errorf("lock idempotency key: %w", err)
		}
		if exists && rec.Completed() {
			appt, err := s.store.GetAppointment(ctx, tx, rec.AppointmentID)
			if err != nil {
				return Created{}, err
			}
			return Created{Appointment: appt, Replayed: true}, nil
		}
	}

	appt, err := s.build(ctx, tx, d)
	if err != nil {
		return Created{}, err
	}

	if err := s.store.LockPractitioner(ctx, tx, appt.PractitionerID); err != nil {
		return Created{}, fmt.Errorf("lock practitioner: %w", err)
	}
	if err := s.checker.Require(ctx, tx, appt.PractitionerID, appt.StartTime, appt.EndTime, ""); err != nil {
		if errors.Is(err, model.ErrSlotConflict) {
			s.metrics.ObserveSlotConflict("check")
		}
		return Created{}, err
	}
	if err := s.store.InsertAppointment(ctx, tx, &appt); err != nil {
		if errors.Is(err, model.ErrSlotConflict) {
			s.metrics.ObserveSlotConflict("constraint")
		}
		return Created{}, err
	}

	if err := s.store.InsertHistory(ctx, tx, model.HistoryEntry{
		AppointmentID: appt.ID,
		NewStatus:     model.StatusPending,
		ActorKind:     actor.Kind,
		ActorID:       actor.ID,
		Note:          "booked",
		ChangedAt:     appt.CreatedAt,
	}); err != nil {
		return Created{}, fmt.Errorf("insert history: %w", err)
	}

	evt, err := outbox.NewAppointmentEvent(appt.ID, outbox.AppointmentBooked, map[string]any{
		"appointment_id":  appt.ID,
		"customer_id":     appt.CustomerID,
		"practitioner_id": appt.PractitionerID,
		"start_time":      appt.StartTime.Format(time.RFC3339),
		"end_time":        appt.EndTime.Format(time.RFC3339),
		"total_amount":    appt.TotalAmount,
		"deposit_amount":  appt.DepositAmount,
	})
	if err != nil {
		return Created{}, err
	}
	if err := s.events.Insert(ctx, tx, evt); err != nil {
		return Created{}, fmt.Errorf("write outbox event: %w", err)
	}

	if idempotencyKey != "" {
		body, err := json.Marshal(createdPayload{AppointmentID: appt.ID, Status: appt.Status})
		if err != nil {
			return Created{}, err
		}
		if err := s.store.FinalizeIdempotency(ctx, tx, d.CustomerID, idempotencyKey, appt.ID, http.StatusCreated, body); err != nil {
			return Created{}, fmt.Errorf("finalize idempotency key: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, model.ErrSlotConflict) || db.IsConflict(err) {
			s.metrics.ObserveSlotConflict("constraint")
			return Created{}, &model.SlotConflictError{}
		}
		return Created{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"practitioner_id", appt.PractitionerID,
		"start_time", appt.StartTime,
		"total_amount", appt.TotalAmount,
	)
	return Created{Appointment: appt}, nil
}

func (s *Service) normalize(d *Draft, actor model.Actor) error {
	switch {
	case actor.Kind == model.ActorCustomer:
		if d.CustomerID != "" && d.CustomerID != actor.ID {
			return fmt.Errorf("%w: customers book for themselves", model.ErrForbidden)
		}
		d.CustomerID = actor.ID
	case actor.IsStaff():
		if strings.TrimSpace(d.CustomerID) == "" {
			return fmt.Errorf("%w: customer_id is required", model.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: only customers and staff can book", model.ErrForbidden)
	}

	d.CustomerID = strings.TrimSpace(d.CustomerID)
	d.PractitionerID = strings.TrimSpace(d.PractitionerID)
	d.VoucherCode = strings.TrimSpace(d.VoucherCode)
	if d.PractitionerID == "" {
		return fmt.Errorf("%w: practitioner_id is required", model.ErrInvalidInput)
	}
	if !d.StartTime.Before(d.EndTime) {
		return fmt.Errorf("%w: end_time must be after start_time", model.ErrInvalidInput)
	}
	if len(d.Items) == 0 {
		return fmt.Errorf("%w: at least one service is required", model.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(d.Items))
	for i := range d.Items {
		d.Items[i].ServiceID = strings.TrimSpace(d.Items[i].ServiceID)
		it := d.Items[i]
		if it.ServiceID == "" || it.Quantity < 1 {
			return fmt.Errorf("%w: each item needs a service_id and a quantity of at least 1", model.ErrInvalidInput)
		}
		if seen[it.ServiceID] {
			return fmt.Errorf("%w: service %s is listed twice", model.ErrInvalidInput, it.ServiceID)
		}
		seen[it.ServiceID] = true
	}
	return nil
}

// build prices the lines from the catalog and validates the voucher.
func (s *Service) build(ctx context.Context, q db.DBTX, d Draft) (model.Appointment, error) {
	ids := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		ids = append(ids, it.ServiceID)
	}
	catalog, err := s.store.GetServices(ctx, q, ids)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load services: %w", err)
	}
	details := make([]model.Detail, 0, len(d.Items))
	for _, it := range d.Items {
		svc, ok := catalog[it.ServiceID]
		if !ok || !svc.Active {
			return model.Appointment{}, fmt.Errorf("%w: service %s is not bookable", model.ErrInvalidInput, it.ServiceID)
		}
		details = append(details, model.Detail{ServiceID: svc.ID, Quantity: it.Quantity, UnitPrice: svc.Price})
	}

	offers, err := s.store.PractitionerOffers(ctx, q, d.PractitionerID, ids)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("check practitioner services: %w", err)
	}
	if !offers {
		return model.Appointment{}, fmt.Errorf("%w: practitioner %s does not offer every requested service", model.ErrInvalidInput, d.PractitionerID)
	}

	var voucherID string
	if d.VoucherCode != "" {
		v, err := s.store.GetVoucherByCode(ctx, q, d.VoucherCode)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.Appointment{}, fmt.Errorf("%w: unknown voucher %s", model.ErrInvalidInput, d.VoucherCode)
			}
			return model.Appointment{}, fmt.Errorf("load voucher: %w", err)
		}
		if err := pricing.ValidateVoucher(v, d.CustomerID, s.now()); err != nil {
			return model.Appointment{}, err
		}
		voucherID = v.ID
	}

	total := model.DetailsTotal(details)
	if total <= 0 {
		return model.Appointment{}, fmt.Errorf("%w: appointment total must be positive", model.ErrInvalidInput)
	}
	return model.Appointment{
		CustomerID:     d.CustomerID,
		PractitionerID: d.PractitionerID,
		StartTime:      d.StartTime.UTC(),
		EndTime:        d.EndTime.UTC(),
		Status:         model.StatusPending,
		TotalAmount:    total,
		DepositAmount:  pricing.Deposit(total),
		VoucherID:      voucherID,
		Note:           strings.TrimSpace(d.Note),
		Details:        details,
	}, nil
}

// Get returns the appointment if the actor may see it.
func (s *Service) Get(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, s.conn, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !canView(appt, actor) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrForbidden, id)
	}
	return appt, nil
}

// List scopes customers to their own appointments and doctors to theirs.
func (s *Service) List(ctx context.Context, f model.AppointmentFilter, actor model.Actor) ([]model.Appointment, error) {
	switch actor.Kind {
	case model.ActorCustomer:
		f.CustomerID = actor.ID
	case model.ActorDoctor:
		f.PractitionerID = actor.ID
	}
	if f.Status != "" {
		if _, err := model.ParseStatus(string(f.Status)); err != nil {
			return nil, err
		}
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return s.store.ListAppointments(ctx, s.conn, f)
}

func (s *Service) History(ctx context.Context, id string, actor model.Actor) ([]model.HistoryEntry, error) {
	if !actor.IsClinician() {
		return nil, fmt.Errorf("%w: history is visible to staff", model.ErrForbidden)
	}
	if _, err := s.store.GetAppointment(ctx, s.conn, id); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, s.conn, id)
}

// UpdateDetailQuantity corrects a line's quantity before any money has moved.
// The total and deposit are recomputed and open deposit intents are voided,
// so a late callback for the old amount lands as a discrepancy.
func (s *Service) UpdateDetailQuantity(ctx context.Context, appointmentID, detailID string, quantity int, actor model.Actor) (model.Appointment, error) {
	if !actor.IsStaff() {
		return model.Appointment{}, fmt.Errorf("%w: only staff can correct quantities", model.ErrForbidden)
	}
	if quantity < 1 {
		return model.Appointment{}, fmt.Errorf("%w: quantity must be at least 1", model.ErrInvalidInput)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.store.GetAppointmentForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusPending && appt.Status != model.StatusConfirmed {
		return model.Appointment{}, &model.TransitionError{From: appt.Status, To: appt.Status, Reason: "details are frozen once a deposit is paid"}
	}
	if _, ok := appt.Detail(detailID); !ok {
		return model.Appointment{}, fmt.Errorf("%w: detail %s", model.ErrNotFound, detailID)
	}

	if err := s.store.UpdateDetailQuantity(ctx, tx, appointmentID, detailID, quantity); err != nil {
		return model.Appointment{}, err
	}
	for i := range appt.Details {
		if appt.Details[i].ID == detailID {
			appt.Details[i].Quantity = quantity
		}
	}
	appt.TotalAmount = model.DetailsTotal(appt.Details)
	appt.DepositAmount = pricing.Deposit(appt.TotalAmount)
	if err := s.store.UpdateAmounts(ctx, tx, appointmentID, appt.TotalAmount, appt.DepositAmount); err != nil {
		return model.Appointment{}, err
	}
	voided, err := s.store.VoidOpenIntents(ctx, tx, appointmentID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("void payment intents: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment detail corrected",
		"appointment_id", appointmentID,
		"detail_id", detailID,
		"quantity", quantity,
		"total_amount", appt.TotalAmount,
		"voided_intents", voided,
		"actor_id", actor.ID,
	)
	return appt, nil
}

// Availability exposes the overlap check. An empty slice means the range is free.
func (s *Service) Availability(ctx context.Context, practitionerID string, start, end time.Time, excludeID string) ([]string, error) {
	ids, err := s.checker.Check(ctx, s.conn, strings.TrimSpace(practitionerID), start, end, strings.TrimSpace(excludeID))
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	return ids, nil
}

// SlotQuery describes one practitioner work day. Date is YYYY-MM-DD and
// WorkdayStart/WorkdayEnd are HH:MM in Location.
type SlotQuery struct {
	Date         string
	WorkdayStart string
	WorkdayEnd   string
	Duration     time.Duration
	Step         time.Duration
	Location     *time.Location
}

const (
	defaultWorkdayStart = "09:00"
	defaultWorkdayEnd   = "17:00"
	defaultSlotDuration = 30 * time.Minute
)

// Slots lists free ranges for a practitioner on one day.
func (s *Service) Slots(ctx context.Context, practitionerID string, sq SlotQuery) ([]availability.Interval, error) {
	practitionerID = strings.TrimSpace(practitionerID)
	if practitionerID == "" {
		return nil, fmt.Errorf("%w: practitioner is required", model.ErrInvalidInput)
	}
	if sq.WorkdayStart == "" {
		sq.WorkdayStart = defaultWorkdayStart
	}
	if sq.WorkdayEnd == "" {
		sq.WorkdayEnd = defaultWorkdayEnd
	}
	if sq.Duration <= 0 {
		sq.Duration = defaultSlotDuration
	}
	if sq.Step <= 0 {
		sq.Step = sq.Duration
	}
	if sq.Location == nil {
		sq.Location = time.UTC
	}
	window, err := availability.DayWindow(sq.Date, sq.WorkdayStart, sq.WorkdayEnd, sq.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	return s.checker.FreeSlots(ctx, s.conn, practitionerID, window, sq.Duration, sq.Step, s.now())
}

func canView(a model.Appointment, actor model.Actor) bool {
	switch {
	case actor.IsStaff():
		return true
	case actor.Kind == model.ActorCustomer:
		return a.CustomerID == actor.ID
	case actor.Kind == model.ActorDoctor:
		return a.PractitionerID == actor.ID
	}
	return false
}
