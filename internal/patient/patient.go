// Package patient keeps the clinic's local patient table in step with resolved
// identities: exactly one local row per CPF, created lazily and never
// overwritten afterwards.
package patient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
)

// Patient is the local patient record.
type Patient struct {
	ID               uuid.UUID        `json:"id"`
	CPF              string           `json:"cpf"`
	Name             string           `json:"name"`
	Phone            string           `json:"phone"`
	BirthDate        *string          `json:"birth_date,omitempty"`
	Email            *string          `json:"email,omitempty"`
	Address          identity.Address `json:"address"`
	InsuranceInfo    json.RawMessage  `json:"insurance_info"`
	EmergencyContact json.RawMessage  `json:"emergency_contact"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Store is the local patient table. Insert returns an apperr Conflict error
// when the CPF already exists; FindByCPF returns apperr NotFound on a miss.
type Store interface {
	FindByCPF(ctx context.Context, cpf string) (*Patient, error)
	Insert(ctx context.Context, p *Patient) error
}

// Input is what the synchronizer needs; CPF is mandatory.
type Input struct {
	CPF       string            `json:"cpf"`
	Name      string            `json:"name"`
	Phone     string            `json:"phone,omitempty"`
	Email     string            `json:"email,omitempty"`
	BirthDate string            `json:"birth_date,omitempty"`
	Address   *identity.Address `json:"address,omitempty"`
}

type Synchronizer struct {
	store Store
	log   zerolog.Logger
}

func NewSynchronizer(store Store, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{store: store, log: log.With().Str("component", "patient-sync").Logger()}
}

var emptyObject = json.RawMessage(`{}`)

// Sync returns the local patient for in.CPF, creating it on first sight.
// created is true only for the call that actually inserted the row.
func (s *Synchronizer) Sync(ctx context.Context, in Input) (p *Patient, created bool, err error) {
	cpf := identity.NormalizeCPF(in.CPF)
	if cpf == "" {
		return nil, false, apperr.Validation("patient.Sync", "cpf is required")
	}
	if len(cpf) != 11 {
		return nil, false, apperr.Validation("patient.Sync", "cpf must have 11 digits")
	}

	existing, err := s.store.FindByCPF(ctx, cpf)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, wrapUpstream("patients.FindByCPF", err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, false, apperr.Validation("patient.Sync", "name is required to create a patient")
	}
	np := &Patient{
		CPF:              cpf,
		Name:             name,
		Phone:            identity.NormalizePhone(in.Phone),
		InsuranceInfo:    emptyObject,
		EmergencyContact: emptyObject,
	}
	if e := strings.TrimSpace(in.Email); e != "" {
		np.Email = &e
	}
	if b := identity.NormalizeDate(in.BirthDate); b != "" {
		np.BirthDate = &b
	} else if strings.TrimSpace(in.BirthDate) != "" {
		s.log.Warn().Msg("unparseable birth date dropped")
	}
	if in.Address != nil {
		np.Address = *in.Address
	}

	err = s.store.Insert(ctx, np)
	if err == nil {
		s.log.Info().Str("patient_id", np.ID.String()).Msg("local patient created")
		return np, true, nil
	}
	if !errors.Is(err, apperr.ErrConflict) {
		return nil, false, wrapUpstream("patients.Insert", err)
	}
	// Concurrent sync for the same CPF won the insert; its row is ours too.
	winner, err := s.store.FindByCPF(ctx, cpf)
	if err != nil {
		return nil, false, wrapUpstream("patients.FindByCPF", err)
	}
	s.log.Debug().Str("patient_id", winner.ID.String()).Msg("insert raced, using existing patient")
	return winner, false, nil
}

func wrapUpstream(op string, err error) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Upstream(op, err)
}
