package repo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Samoo1234/clinica-sub000/internal/consultation"
)

const medicalRecordColumns = `
	id, consultation_id, patient_id, doctor_id, consultation_date, chief_complaint, anamnesis,
	physical_exam, diagnosis, prescription, follow_up_date::text, created_at`

func scanMedicalRecord(row pgx.Row) (*consultation.MedicalRecord, error) {
	var (
		r    consultation.MedicalRecord
		exam []byte
	)
	err := row.Scan(&r.ID, &r.ConsultationID, &r.PatientID, &r.DoctorID, &r.ConsultationDate,
		&r.ChiefComplaint, &r.Anamnesis, &exam, &r.Diagnosis, &r.Prescription, &r.FollowUpDate, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(exam) > 0 {
		if err := json.Unmarshal(exam, &r.PhysicalExam); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// CreateMedicalRecord inserts the record for r.ConsultationID once. When a
// record already exists it is loaded into r and created is false.
func CreateMedicalRecord(ctx context.Context, pool *pgxpool.Pool, r *consultation.MedicalRecord) (bool, error) {
	exam, err := json.Marshal(r.PhysicalExam)
	if err != nil {
		return false, err
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO medical_records (
			consultation_id, patient_id, doctor_id, consultation_date, chief_complaint, anamnesis,
			physical_exam, diagnosis, prescription, follow_up_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10::date)
		ON CONFLICT (consultation_id) DO NOTHING
		RETURNING id, created_at
	`, r.ConsultationID, r.PatientID, r.DoctorID, r.ConsultationDate, r.ChiefComplaint, r.Anamnesis,
		string(exam), r.Diagnosis, r.Prescription, r.FollowUpDate,
	).Scan(&r.ID, &r.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, classify("medical_records.Create", err)
	}
	existing, err := MedicalRecordByConsultation(ctx, pool, r.ConsultationID)
	if err != nil {
		return false, err
	}
	*r = *existing
	return false, nil
}

func MedicalRecordByConsultation(ctx context.Context, pool *pgxpool.Pool, consultationID uuid.UUID) (*consultation.MedicalRecord, error) {
	r, err := scanMedicalRecord(pool.QueryRow(ctx, `SELECT `+medicalRecordColumns+` FROM medical_records WHERE consultation_id = $1`, consultationID))
	return r, classify("medical_records.ByConsultation", err)
}

// MedicalRecordsByPatient returns the patient's records, newest first.
func MedicalRecordsByPatient(ctx context.Context, pool *pgxpool.Pool, patientID uuid.UUID, limit, offset int) ([]consultation.MedicalRecord, error) {
	rows, err := pool.Query(ctx, `SELECT `+medicalRecordColumns+` FROM medical_records WHERE patient_id = $1
		ORDER BY consultation_date DESC, created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, classify("medical_records.ByPatient", err)
	}
	defer rows.Close()
	list := []consultation.MedicalRecord{}
	for rows.Next() {
		r, err := scanMedicalRecord(rows)
		if err != nil {
			return nil, classify("medical_records.ByPatient", err)
		}
		list = append(list, *r)
	}
	return list, classify("medical_records.ByPatient", rows.Err())
}

// MedicalRecordStore adapts the package functions to consultation.MedicalRecordWriter.
type MedicalRecordStore struct {
	Pool *pgxpool.Pool
}

func (s MedicalRecordStore) Create(ctx context.Context, r *consultation.MedicalRecord) (bool, error) {
	return CreateMedicalRecord(ctx, s.Pool, r)
}

func (s MedicalRecordStore) ByConsultation(ctx context.Context, consultationID uuid.UUID) (*consultation.MedicalRecord, error) {
	return MedicalRecordByConsultation(ctx, s.Pool, consultationID)
}

func (s MedicalRecordStore) ByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]consultation.MedicalRecord, error) {
	return MedicalRecordsByPatient(ctx, s.Pool, patientID, limit, offset)
}
