package repo

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Samoo1234/clinica-sub000/internal/identity"
	"github.com/Samoo1234/clinica-sub000/internal/patient"
)

const patientColumns = `id, cpf, name, phone, birth_date::text, email, address, insurance_info, emergency_contact, created_at`

func scanPatient(row pgx.Row) (*patient.Patient, error) {
	var (
		p                          patient.Patient
		addr, insurance, emergency []byte
	)
	if err := row.Scan(&p.ID, &p.CPF, &p.Name, &p.Phone, &p.BirthDate, &p.Email, &addr, &insurance, &emergency, &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &p.Address); err != nil {
			return nil, err
		}
	}
	p.InsuranceInfo = jsonOrEmpty(insurance)
	p.EmergencyContact = jsonOrEmpty(emergency)
	return &p, nil
}

func jsonOrEmpty(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(b)
}

// PatientByCPF returns the local patient with the given normalized CPF.
func PatientByCPF(ctx context.Context, pool *pgxpool.Pool, cpf string) (*patient.Patient, error) {
	p, err := scanPatient(pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE cpf = $1`, cpf))
	return p, classify("patients.ByCPF", err)
}

// InsertPatient creates the row and fills p.ID and p.CreatedAt. A duplicate
// CPF is an apperr Conflict.
func InsertPatient(ctx context.Context, pool *pgxpool.Pool, p *patient.Patient) error {
	addr, err := json.Marshal(p.Address)
	if err != nil {
		return err
	}
	if p.Address == (identity.Address{}) {
		addr = []byte(`{}`)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO patients (cpf, name, phone, birth_date, email, address, insurance_info, emergency_contact)
		VALUES ($1, $2, $3, $4::date, $5, $6::jsonb, $7::jsonb, $8::jsonb)
		RETURNING id, created_at
	`, p.CPF, p.Name, p.Phone, p.BirthDate, p.Email, string(addr),
		string(jsonOrEmpty(p.InsuranceInfo)), string(jsonOrEmpty(p.EmergencyContact)),
	).Scan(&p.ID, &p.CreatedAt)
	return classify("patients.Insert", err)
}

// PatientStore adapts the package functions to patient.Store.
type PatientStore struct {
	Pool *pgxpool.Pool
}

func (s PatientStore) FindByCPF(ctx context.Context, cpf string) (*patient.Patient, error) {
	return PatientByCPF(ctx, s.Pool, cpf)
}

func (s PatientStore) Insert(ctx context.Context, p *patient.Patient) error {
	return InsertPatient(ctx, s.Pool, p)
}
