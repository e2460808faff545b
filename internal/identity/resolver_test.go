package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
)

// fakeRegistry é um registro central em memória com CPF único.
type fakeRegistry struct {
	mu        sync.Mutex
	rows      []Customer
	creates   int
	failWith  error
	raceOnCPF *Customer // inserido "por outro sistema" no momento do Create
}

func (f *fakeRegistry) FindByCPF(_ context.Context, cpf string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for i := range f.rows {
		if f.rows[i].CPF != nil && *f.rows[i].CPF == cpf {
			c := f.rows[i]
			return &c, nil
		}
	}
	return nil, apperr.NotFound("fake.FindByCPF", nil)
}

func (f *fakeRegistry) FindByPhone(_ context.Context, phone string) ([]Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []Customer
	for _, c := range f.rows {
		if c.Phone == phone {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRegistry) Create(_ context.Context, c *Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raceOnCPF != nil {
		f.rows = append(f.rows, *f.raceOnCPF)
		f.raceOnCPF = nil
	}
	if c.CPF != nil {
		for _, r := range f.rows {
			if r.CPF != nil && *r.CPF == *c.CPF {
				return apperr.Conflict("fake.Create", errors.New("duplicate cpf"))
			}
		}
	}
	c.ID = uuid.New()
	f.rows = append(f.rows, *c)
	f.creates++
	return nil
}

func str(s string) *string { return &s }

func newResolver(reg Registry) *Resolver {
	return NewResolver(reg, zerolog.Nop())
}

func TestResolve_CPFWinsOverPhoneAndName(t *testing.T) {
	ctx := context.Background()
	byCPF := Customer{ID: uuid.New(), Name: "Maria S.", Phone: "11900000000", CPF: str("12345678901"), Active: true, RegistrationComplete: true}
	byPhone := Customer{ID: uuid.New(), Name: "Maria Silva", Phone: "11999999999", Active: true, RegistrationComplete: true}
	reg := &fakeRegistry{rows: []Customer{byPhone, byCPF}}

	m, err := newResolver(reg).Resolve(ctx, Query{CPF: "123.456.789-01", Phone: "(11) 99999-9999", Name: "Maria Silva"}, Provision)
	require.NoError(t, err)
	assert.Equal(t, ConfidenceExactCPF, m.Confidence)
	assert.Equal(t, byCPF.ID, m.Record.ID)
	assert.Zero(t, reg.creates)
}

func TestResolve_PhoneAndName(t *testing.T) {
	ctx := context.Background()
	mae := Customer{ID: uuid.New(), Name: "Joana Souza", Phone: "11988887777", Active: true}
	filho := Customer{ID: uuid.New(), Name: "Pedro Souza", Phone: "11988887777", Active: true}
	reg := &fakeRegistry{rows: []Customer{mae, filho}}

	m, err := newResolver(reg).Resolve(ctx, Query{Phone: "+55 11 98888-7777", Name: "PEDRO  souza"}, Provision)
	require.NoError(t, err)
	assert.Equal(t, ConfidencePhoneAndName, m.Confidence)
	assert.Equal(t, filho.ID, m.Record.ID)
	assert.Equal(t, 2, m.Candidates)
}

func TestResolve_AccentInsensitiveName(t *testing.T) {
	ctx := context.Background()
	c := Customer{ID: uuid.New(), Name: "José Araújo", Phone: "11911112222", Active: true}
	reg := &fakeRegistry{rows: []Customer{c}}

	m, err := newResolver(reg).Resolve(ctx, Query{Phone: "11911112222", Name: "jose araujo"}, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, ConfidencePhoneAndName, m.Confidence)
	assert.Equal(t, c.ID, m.Record.ID)
}

func TestResolve_SharedPhoneDifferentNamesNeverMerge(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{}
	r := newResolver(reg)

	ana, err := r.Resolve(ctx, Query{Phone: "11988887777", Name: "Ana"}, Provision)
	require.NoError(t, err)
	require.True(t, ana.Provisioned)

	beatriz, err := r.Resolve(ctx, Query{Phone: "11988887777", Name: "Beatriz"}, Provision)
	require.NoError(t, err)
	require.True(t, beatriz.Provisioned)

	assert.NotEqual(t, ana.Record.ID, beatriz.Record.ID)
	assert.Equal(t, 2, reg.creates)

	again, err := r.Resolve(ctx, Query{Phone: "11988887777", Name: "Ana"}, Provision)
	require.NoError(t, err)
	assert.Equal(t, ConfidencePhoneAndName, again.Confidence)
	assert.Equal(t, ana.Record.ID, again.Record.ID)
}

func TestResolve_PhoneOnlyWhenNameIsPrefix(t *testing.T) {
	ctx := context.Background()
	c := Customer{ID: uuid.New(), Name: "Maria", Phone: "11977776666", Active: true}
	reg := &fakeRegistry{rows: []Customer{c}}

	m, err := newResolver(reg).Resolve(ctx, Query{Phone: "11977776666", Name: "Maria Oliveira"}, Provision)
	require.NoError(t, err)
	assert.Equal(t, ConfidencePhoneOnly, m.Confidence)
	assert.True(t, m.NeedsConfirmation())
	assert.Zero(t, reg.creates)
}

func TestResolve_PhoneOnlyWithoutName(t *testing.T) {
	ctx := context.Background()
	c := Customer{ID: uuid.New(), Name: "Carlos", Phone: "11966665555", Active: true}
	reg := &fakeRegistry{rows: []Customer{c}}

	m, err := newResolver(reg).Resolve(ctx, Query{Phone: "11966665555"}, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, ConfidencePhoneOnly, m.Confidence)
	assert.Equal(t, c.ID, m.Record.ID)
}

func TestResolve_IgnoresInactiveAndForeignCPF(t *testing.T) {
	ctx := context.Background()
	inactive := Customer{ID: uuid.New(), Name: "Lucas", Phone: "11955554444", Active: false}
	otherCPF := Customer{ID: uuid.New(), Name: "Lucas", Phone: "11955554444", CPF: str("99999999999"), Active: true}
	reg := &fakeRegistry{rows: []Customer{inactive, otherCPF}}

	m, err := newResolver(reg).Resolve(ctx, Query{CPF: "11122233344", Phone: "11955554444", Name: "Lucas"}, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, ConfidenceNone, m.Confidence)
	assert.Nil(t, m.Record)
}

func TestResolve_ReadOnlyDoesNotProvision(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{}
	m, err := newResolver(reg).Resolve(ctx, Query{Phone: "11944443333", Name: "Rita"}, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, ConfidenceNone, m.Confidence)
	assert.False(t, m.Provisioned)
	assert.Zero(t, reg.creates)
}

func TestResolve_ProvisionsIncompleteRecordWithCPF(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{}
	m, err := newResolver(reg).Resolve(ctx, Query{CPF: "12345678901", Phone: "11999999999", Name: "Maria Silva"}, Provision)
	require.NoError(t, err)
	require.True(t, m.Provisioned)
	require.NotNil(t, m.Record)
	assert.False(t, m.Record.RegistrationComplete)
	assert.True(t, m.Record.Active)
	assert.Equal(t, "12345678901", *m.Record.CPF)
	assert.Equal(t, "Maria Silva", m.Record.Name)
	assert.True(t, m.NeedsConfirmation())
}

func TestResolve_ProvisionRaceFallsBackToCPF(t *testing.T) {
	ctx := context.Background()
	winner := Customer{ID: uuid.New(), Name: "Maria Silva", Phone: "11999999999", CPF: str("12345678901"), Active: true}
	reg := &fakeRegistry{raceOnCPF: &winner}

	m, err := newResolver(reg).Resolve(ctx, Query{CPF: "12345678901", Phone: "11999999999", Name: "Maria Silva"}, Provision)
	require.NoError(t, err)
	assert.Equal(t, ConfidenceExactCPF, m.Confidence)
	assert.Equal(t, winner.ID, m.Record.ID)
	assert.False(t, m.Provisioned)
}

func TestResolve_UpstreamFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{failWith: errors.New("connection reset by peer")}
	_, err := newResolver(reg).Resolve(ctx, Query{CPF: "12345678901", Phone: "11999999999"}, Provision)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
}

func TestResolve_RequiresPhoneOrCPF(t *testing.T) {
	_, err := newResolver(&fakeRegistry{}).Resolve(context.Background(), Query{Name: "Sem Contato"}, Provision)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
