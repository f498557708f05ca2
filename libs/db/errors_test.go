package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	overlap := fmt.Errorf("insert appointment: %w", &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "invoices_active_kind_key"}

	assert.True(t, IsConflict(overlap))
	assert.False(t, IsUniqueViolation(overlap))
	assert.Equal(t, "appointments_no_overlap", ConstraintName(overlap))

	assert.True(t, IsUniqueViolation(dup))
	assert.False(t, IsConflict(dup))

	assert.True(t, IsNotFound(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.Equal(t, "", ConstraintName(errors.New("boom")))
}
