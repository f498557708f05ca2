package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptremind/libs/kafkax"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

var recordColumns = []string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}

func newPublisher(t *testing.T) (*Publisher, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPublisher(mock, NewRepository(), logger, PublisherConfig{BatchSize: 10}), mock
}

func TestPublishBatchWritesAndMarks(t *testing.T) {
	p, mock := newPublisher(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).
		WillReturnRows(pgxmock.NewRows(recordColumns).
			AddRow(int64(1), "e-1", "appointment", "appt-1", AppointmentBooked, []byte(`{"a":1}`), "", "", now).
			AddRow(int64(2), "e-2", "appointment", "appt-1", DepositConfirmed, []byte(`{"a":2}`), "", "", now))
	mock.ExpectExec("UPDATE outbox_events").WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	w := &captureWriter{}
	n, err := p.PublishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, AppointmentBooked, w.msgs[0].Topic)
	assert.Equal(t, []byte("appt-1"), w.msgs[0].Key)
	assert.Equal(t, "e-2", kafkax.HeaderValue(w.msgs[1].Headers, kafkax.HeaderEventID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchEmptyCommits(t *testing.T) {
	p, mock := newPublisher(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(pgxmock.NewRows(recordColumns))
	mock.ExpectCommit()

	w := &captureWriter{}
	n, err := p.PublishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.msgs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchKeepsRowsOnWriteFailure(t *testing.T) {
	p, mock := newPublisher(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).
		WillReturnRows(pgxmock.NewRows(recordColumns).
			AddRow(int64(7), "e-7", "appointment", "appt-9", RefundOpened, []byte(`{}`), "", "", time.Now()))
	mock.ExpectRollback()

	_, err := p.PublishBatch(context.Background(), &captureWriter{err: errors.New("broker down")})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	evt, err := NewAppointmentEvent("appt-1", FeedbackSubmitted, map[string]any{"rating": 5})
	require.NoError(t, err)
	assert.Equal(t, "appointment", evt.AggregateType)
	assert.JSONEq(t, `{"rating":5}`, string(evt.Payload))

	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("appointment", "appt-1", FeedbackSubmitted, evt.Payload, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, NewRepository().Insert(context.Background(), mock, evt))
	require.NoError(t, mock.ExpectationsWereMet())
}
