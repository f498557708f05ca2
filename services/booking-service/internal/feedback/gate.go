// Package feedback accepts one round of per-service ratings for each paid or
// completed appointment.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
)

type Store interface {
	GetAppointmentForUpdate(ctx context.Context, q db.DBTX, id string) (model.Appointment, error)
	MarkFeedbackGiven(ctx context.Context, q db.DBTX, appointmentID string) (bool, error)
	InsertFeedback(ctx context.Context, q db.DBTX, f *model.Feedback) error
	ListFeedback(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Feedback, error)
	ModerateFeedback(ctx context.Context, q db.DBTX, id string, status model.ModerationStatus, moderatedBy string) (model.Feedback, error)
}

type EventWriter interface {
	Insert(ctx context.Context, q db.DBTX, evt outbox.Event) error
}

type Item struct {
	DetailID string
	Rating   int
	Comment  string
}

const maxCommentLen = 2000

type Gate struct {
	conn    db.Conn
	store   Store
	events  EventWriter
	metrics *metrics.BookingMetrics
	logger  *slog.Logger
}

func NewGate(conn db.Conn, store Store, events EventWriter, m *metrics.BookingMetrics, logger *slog.Logger) *Gate {
	return &Gate{conn: conn, store: store, events: events, metrics: m, logger: logger}
}

// Submit stores one rating per appointment detail. The appointment row stays
// locked while the flag flips and the rows are inserted, and the flag update
// is conditional, so of two racing submissions only one succeeds.
func (g *Gate) Submit(ctx context.Context, appointmentID string, items []Item, actor model.Actor) ([]model.Feedback, error) {
	out, err := g.submit(ctx, appointmentID, items, actor)
	switch {
	case err == nil:
		g.metrics.ObserveFeedback("accepted")
	case errors.Is(err, model.ErrDuplicateFeedback):
		g.metrics.ObserveFeedback("duplicate")
	case errors.Is(err, model.ErrNotEligible):
		g.metrics.ObserveFeedback("not_eligible")
	default:
		g.metrics.ObserveFeedback("rejected")
	}
	return out, err
}

func (g *Gate) submit(ctx context.Context, appointmentID string, items []Item, actor model.Actor) ([]model.Feedback, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one feedback item is required", model.ErrInvalidInput)
	}
	for _, it := range items {
		if it.Rating < 1 || it.Rating > 5 {
			return nil, fmt.Errorf("%w: rating must be between 1 and 5", model.ErrInvalidInput)
		}
		if len(it.Comment) > maxCommentLen {
			return nil, fmt.Errorf("%w: comment is too long", model.ErrInvalidInput)
		}
	}

	tx, err := g.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := g.store.GetAppointmentForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return nil, err
	}
	if actor.Kind != model.ActorCustomer || actor.ID != appt.CustomerID {
		return nil, model.ErrForbidden
	}
	if appt.Status != model.StatusPaid && appt.Status != model.StatusCompleted {
		return nil, fmt.Errorf("%w: appointment is %s", model.ErrNotEligible, appt.Status)
	}
	if appt.IsFeedbackGiven {
		return nil, model.ErrDuplicateFeedback
	}

	seen := map[string]bool{}
	rows := make([]model.Feedback, 0, len(items))
	for _, it := range items {
		d, ok := appt.Detail(it.DetailID)
		if !ok {
			return nil, fmt.Errorf("%w: detail %s is not part of this appointment", model.ErrInvalidInput, it.DetailID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: detail %s is rated twice", model.ErrInvalidInput, d.ID)
		}
		seen[d.ID] = true
		rows = append(rows, model.Feedback{
			AppointmentID: appt.ID,
			DetailID:      d.ID,
			ServiceID:     d.ServiceID,
			CustomerID:    appt.CustomerID,
			Rating:        it.Rating,
			Comment:       strings.TrimSpace(it.Comment),
			Status:        model.ModerationPending,
		})
	}

	flipped, err := g.store.MarkFeedbackGiven(ctx, tx, appt.ID)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, model.ErrDuplicateFeedback
	}
	for i := range rows {
		if err := g.store.InsertFeedback(ctx, tx, &rows[i]); err != nil {
			if db.IsUniqueViolation(err) {
				return nil, model.ErrDuplicateFeedback
			}
			return nil, err
		}
	}

	ratings := make([]map[string]any, 0, len(rows))
	for _, f := range rows {
		ratings = append(ratings, map[string]any{"service_id": f.ServiceID, "rating": f.Rating})
	}
	evt, err := outbox.NewAppointmentEvent(appt.ID, outbox.FeedbackSubmitted, map[string]any{
		"appointment_id":  appt.ID,
		"customer_id":     appt.CustomerID,
		"practitioner_id": appt.PractitionerID,
		"ratings":         ratings,
	})
	if err != nil {
		return nil, err
	}
	if err := g.events.Insert(ctx, tx, evt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	g.logger.Info("feedback submitted", "appointment_id", appt.ID, "items", len(rows))
	return rows, nil
}

func (g *Gate) List(ctx context.Context, appointmentID string) ([]model.Feedback, error) {
	return g.store.ListFeedback(ctx, g.conn, appointmentID)
}

// Moderate approves or rejects a feedback row for publication.
func (g *Gate) Moderate(ctx context.Context, feedbackID string, status model.ModerationStatus, actor model.Actor) (model.Feedback, error) {
	if !actor.IsStaff() {
		return model.Feedback{}, model.ErrForbidden
	}
	if status != model.ModerationApproved && status != model.ModerationRejected {
		return model.Feedback{}, fmt.Errorf("%w: status must be approved or rejected", model.ErrInvalidInput)
	}
	return g.store.ModerateFeedback(ctx, g.conn, feedbackID, status, actor.ID)
}
