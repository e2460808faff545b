package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
)

func TestClassify(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "patients_cpf_key"})

	assert.Nil(t, classify("op", nil))
	assert.True(t, errors.Is(classify("op", pgx.ErrNoRows), apperr.ErrNotFound))
	assert.True(t, errors.Is(classify("op", dup), apperr.ErrConflict))
	assert.True(t, errors.Is(classify("op", errors.New("conn reset")), apperr.ErrUpstream))
	assert.True(t, IsUniqueViolation(dup))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}
