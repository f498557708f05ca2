// Package storage is the Postgres persistence layer for the booking service.
//
// Every method takes the query surface explicitly so callers decide the
// transaction boundary: pass the pool for standalone reads, or a pgx.Tx to
// group writes with their row locks.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type Store struct{}

func New() *Store {
	return &Store{}
}

// LockPractitioner serializes check-then-write sequences for one practitioner until the transaction ends.
func (s *Store) LockPractitioner(ctx context.Context, q db.DBTX, practitionerID string) error {
	_, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, practitionerID)
	return err
}

func newID() string {
	return uuid.NewString()
}

func notFound(err error, what, id string) error {
	if db.IsNotFound(err) {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, what, id)
	}
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func collect[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
