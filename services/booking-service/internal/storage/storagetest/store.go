// Package storagetest provides an in-memory stand-in for storage.Store.
//
// Transactions are serialized: Begin blocks until the previous transaction
// commits or rolls back, which gives every transaction the same isolation a
// SELECT ... FOR UPDATE on the touched rows would. Rollback restores the
// snapshot taken at Begin. Uniqueness and exclusion constraints of the real
// schema are reproduced so callers see the same pgconn errors.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage"
)

var errRawSQL = errors.New("storagetest: raw SQL is not supported")

type state struct {
	appointments   map[string]model.Appointment
	history        []model.HistoryEntry
	idempotency    map[string]storage.IdempotencyRecord
	services       map[string]model.Service
	offers         map[string]map[string]bool
	vouchers       map[string]model.Voucher
	memberships    map[string]int
	intents        map[int64]model.PaymentIntent
	providerEvents map[string]bool
	discrepancies  []model.PaymentDiscrepancy
	invoices       []model.Invoice
	refunds        []model.Refund
	feedback       []model.Feedback
	cancelRequests map[string]model.DoctorCancelRequest
	events         []outbox.Event
	nextOrderCode  int64
	nextSerial     int64
}

func newState() *state {
	return &state{
		appointments:   map[string]model.Appointment{},
		idempotency:    map[string]storage.IdempotencyRecord{},
		services:       map[string]model.Service{},
		offers:         map[string]map[string]bool{},
		vouchers:       map[string]model.Voucher{},
		memberships:    map[string]int{},
		intents:        map[int64]model.PaymentIntent{},
		providerEvents: map[string]bool{},
		cancelRequests: map[string]model.DoctorCancelRequest{},
		nextOrderCode:  100000,
	}
}

func (st *state) clone() *state {
	c := *st
	c.appointments = make(map[string]model.Appointment, len(st.appointments))
	for k, v := range st.appointments {
		c.appointments[k] = copyAppointment(v)
	}
	c.history = append([]model.HistoryEntry(nil), st.history...)
	c.idempotency = copyMap(st.idempotency)
	c.services = copyMap(st.services)
	c.offers = make(map[string]map[string]bool, len(st.offers))
	for k, v := range st.offers {
		c.offers[k] = copyMap(v)
	}
	c.vouchers = copyMap(st.vouchers)
	c.memberships = copyMap(st.memberships)
	c.intents = copyMap(st.intents)
	c.providerEvents = copyMap(st.providerEvents)
	c.discrepancies = append([]model.PaymentDiscrepancy(nil), st.discrepancies...)
	c.invoices = make([]model.Invoice, len(st.invoices))
	for i, inv := range st.invoices {
		inv.Lines = append([]model.InvoiceLine(nil), inv.Lines...)
		c.invoices[i] = inv
	}
	c.refunds = append([]model.Refund(nil), st.refunds...)
	c.feedback = append([]model.Feedback(nil), st.feedback...)
	c.cancelRequests = copyMap(st.cancelRequests)
	c.events = append([]outbox.Event(nil), st.events...)
	return &c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyAppointment(a model.Appointment) model.Appointment {
	a.Details = append([]model.Detail(nil), a.Details...)
	return a
}

// Store implements the storage.Store method set plus db.Conn.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	s.txMu.Lock()
	s.mu.Lock()
	snap := s.data.clone()
	s.mu.Unlock()
	return &tx{store: s, snapshot: snap}, nil
}

func (s *Store) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errRawSQL
}

func (s *Store) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errRawSQL
}

func (s *Store) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...any) error { return errRawSQL }

// tx embeds pgx.Tx only to satisfy the interface; the store ignores the query surface.
type tx struct {
	pgx.Tx
	store    *Store
	snapshot *state
	done     bool
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	t.store.data = t.snapshot
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) serial() int64 {
	s.data.nextSerial++
	return s.data.nextSerial
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// AddService seeds a catalog entry offered by the given practitioners.
func (s *Store) AddService(svc model.Service, practitionerIDs ...string) {
	defer s.lock()()
	s.data.services[svc.ID] = svc
	for _, p := range practitionerIDs {
		if s.data.offers[p] == nil {
			s.data.offers[p] = map[string]bool{}
		}
		s.data.offers[p][svc.ID] = true
	}
}

func (s *Store) AddVoucher(v model.Voucher) {
	defer s.lock()()
	s.data.vouchers[v.ID] = v
}

func (s *Store) SetMembership(customerID string, percent int) {
	defer s.lock()()
	s.data.memberships[customerID] = percent
}

// PutAppointment stores an appointment as-is, bypassing constraints.
func (s *Store) PutAppointment(a model.Appointment) model.Appointment {
	defer s.lock()()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	for i := range a.Details {
		if a.Details[i].ID == "" {
			a.Details[i].ID = uuid.NewString()
		}
		a.Details[i].AppointmentID = a.ID
	}
	s.data.appointments[a.ID] = copyAppointment(a)
	return a
}

// Events returns the outbox events committed so far.
func (s *Store) Events() []outbox.Event {
	defer s.lock()()
	return append([]outbox.Event(nil), s.data.events...)
}

// EventTypes lists committed outbox event types in insertion order.
func (s *Store) EventTypes() []string {
	events := s.Events()
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

// Outbox returns a writer that records events in the store's transactional state.
func (s *Store) Outbox() *Outbox {
	return &Outbox{store: s}
}

type Outbox struct {
	store *Store
}

func (o *Outbox) Insert(_ context.Context, _ db.DBTX, evt outbox.Event) error {
	defer o.store.lock()()
	o.store.data.events = append(o.store.data.events, evt)
	return nil
}

func sortAppointments(list []model.Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartTime.After(list[j].StartTime)
	})
}
