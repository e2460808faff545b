package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/consultation"
)

const consultationColumns = `
	id, appointment_id, patient_id, doctor_id, status, start_time, end_time,
	physical_exam, chief_complaint, anamnesis, notes, diagnosis, prescription,
	follow_up_date::text, patient_data, external_status_sync, external_status_error,
	external_status_attempts, external_status_synced_at, updated_at`

const openStatuses = `('WAITING', 'IN_PROGRESS')`

func scanConsultation(row pgx.Row) (*consultation.Consultation, error) {
	var (
		c                  consultation.Consultation
		status, syncStatus string
		exam, snapshot     []byte
	)
	err := row.Scan(&c.ID, &c.AppointmentID, &c.PatientID, &c.DoctorID, &status, &c.StartedAt, &c.CompletedAt,
		&exam, &c.ChiefComplaint, &c.Anamnesis, &c.Notes, &c.Diagnosis, &c.Prescription,
		&c.FollowUpDate, &snapshot, &syncStatus, &c.ExternalSync.Error,
		&c.ExternalSync.Attempts, &c.ExternalSync.SyncedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = consultation.Status(status)
	c.ExternalSync.Status = consultation.SyncStatus(syncStatus)
	if len(exam) > 0 {
		if err := json.Unmarshal(exam, &c.Exam); err != nil {
			return nil, err
		}
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &c.Patient); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func scanConsultations(rows pgx.Rows) ([]consultation.Consultation, error) {
	defer rows.Close()
	list := []consultation.Consultation{}
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

func InsertConsultation(ctx context.Context, pool *pgxpool.Pool, c *consultation.Consultation) error {
	exam, err := json.Marshal(c.Exam)
	if err != nil {
		return err
	}
	snap, err := json.Marshal(c.Patient)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO consultations (
			id, appointment_id, patient_id, doctor_id, status, start_time,
			physical_exam, chief_complaint, anamnesis, notes, diagnosis, prescription, follow_up_date,
			patient_data, external_status_sync, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13::date, $14::jsonb, $15, $6, $16)
	`, c.ID, c.AppointmentID, c.PatientID, c.DoctorID, string(c.Status), c.StartedAt,
		string(exam), c.ChiefComplaint, c.Anamnesis, c.Notes, c.Diagnosis, c.Prescription, c.FollowUpDate,
		string(snap), string(c.ExternalSync.Status), c.UpdatedAt)
	return classify("consultations.Insert", err)
}

func ConsultationByID(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*consultation.Consultation, error) {
	c, err := scanConsultation(pool.QueryRow(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = $1`, id))
	return c, classify("consultations.ByID", err)
}

// OpenConsultationByAppointment returns the WAITING/IN_PROGRESS consultation
// of an agenda appointment.
func OpenConsultationByAppointment(ctx context.Context, pool *pgxpool.Pool, appointmentID string) (*consultation.Consultation, error) {
	c, err := scanConsultation(pool.QueryRow(ctx, `
		SELECT `+consultationColumns+` FROM consultations
		WHERE appointment_id = $1 AND status IN `+openStatuses+`
		ORDER BY start_time DESC LIMIT 1
	`, appointmentID))
	return c, classify("consultations.OpenByAppointment", err)
}

// SaveConsultation writes the editable state while the row is still open.
// It returns false when the row exists but is already terminal.
func SaveConsultation(ctx context.Context, pool *pgxpool.Pool, c *consultation.Consultation) (bool, error) {
	exam, err := json.Marshal(c.Exam)
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, `
		UPDATE consultations SET
			status = $2, doctor_id = $3, physical_exam = $4::jsonb,
			chief_complaint = $5, anamnesis = $6, notes = $7, diagnosis = $8, prescription = $9,
			follow_up_date = $10::date, updated_at = $11
		WHERE id = $1 AND status IN `+openStatuses,
		c.ID, string(c.Status), c.DoctorID, string(exam),
		c.ChiefComplaint, c.Anamnesis, c.Notes, c.Diagnosis, c.Prescription,
		c.FollowUpDate, c.UpdatedAt)
	if err != nil {
		return false, classify("consultations.Save", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM consultations WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return false, classify("consultations.Save", err)
	}
	if !exists {
		return false, apperr.NotFound("consultations.Save", nil)
	}
	return false, nil
}

// ListOpenConsultations returns WAITING/IN_PROGRESS rows, oldest first,
// optionally for one doctor.
func ListOpenConsultations(ctx context.Context, pool *pgxpool.Pool, doctorID *string) ([]consultation.Consultation, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+consultationColumns+` FROM consultations
		WHERE status IN `+openStatuses+` AND ($1::text IS NULL OR doctor_id = $1)
		ORDER BY start_time
	`, doctorID)
	if err != nil {
		return nil, classify("consultations.ListOpen", err)
	}
	list, err := scanConsultations(rows)
	return list, classify("consultations.ListOpen", err)
}

func MarkConsultationCompleted(ctx context.Context, pool *pgxpool.Pool, id, patientID uuid.UUID, at time.Time) (bool, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE consultations SET status = 'COMPLETED', end_time = $3, patient_id = $2, updated_at = $3
		WHERE id = $1 AND status IN `+openStatuses,
		id, patientID, at)
	if err != nil {
		return false, classify("consultations.MarkCompleted", err)
	}
	return tag.RowsAffected() == 1, nil
}

func MarkConsultationCancelled(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE consultations SET status = 'CANCELLED', end_time = $2, updated_at = $2
		WHERE id = $1 AND status IN `+openStatuses+`
		  AND NOT EXISTS (SELECT 1 FROM medical_records WHERE consultation_id = $1)`,
		id, at)
	if err != nil {
		return false, classify("consultations.MarkCancelled", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordExternalSync stores the outcome of an agenda write-back. Every
// non-skipped outcome counts as one attempt.
func RecordExternalSync(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID, status consultation.SyncStatus, errMsg *string, at time.Time) error {
	tag, err := pool.Exec(ctx, `
		UPDATE consultations SET
			external_status_sync = $2::text,
			external_status_error = $3,
			external_status_attempts = external_status_attempts + CASE WHEN $2::text = 'SKIPPED' THEN 0 ELSE 1 END,
			external_status_synced_at = CASE WHEN $2::text = 'SYNCED' THEN $4 ELSE external_status_synced_at END,
			updated_at = $4
		WHERE id = $1
	`, id, string(status), errMsg, at)
	if err != nil {
		return classify("consultations.RecordExternalSync", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("consultations.RecordExternalSync", nil)
	}
	return nil
}

// ListPendingExternalSync returns completed consultations whose agenda status
// was never written, oldest first.
func ListPendingExternalSync(ctx context.Context, pool *pgxpool.Pool, limit, maxAttempts int) ([]consultation.Consultation, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+consultationColumns+` FROM consultations
		WHERE status = 'COMPLETED'
		  AND appointment_id IS NOT NULL
		  AND external_status_sync IN ('PENDING', 'FAILED')
		  AND external_status_attempts < $2
		ORDER BY end_time
		LIMIT $1
	`, limit, maxAttempts)
	if err != nil {
		return nil, classify("consultations.ListPendingExternalSync", err)
	}
	list, err := scanConsultations(rows)
	return list, classify("consultations.ListPendingExternalSync", err)
}

// ConsultationStore adapts the package functions to consultation.Store.
type ConsultationStore struct {
	Pool *pgxpool.Pool
}

func (s ConsultationStore) Insert(ctx context.Context, c *consultation.Consultation) error {
	return InsertConsultation(ctx, s.Pool, c)
}

func (s ConsultationStore) Get(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	return ConsultationByID(ctx, s.Pool, id)
}

func (s ConsultationStore) FindOpenByAppointment(ctx context.Context, appointmentID string) (*consultation.Consultation, error) {
	return OpenConsultationByAppointment(ctx, s.Pool, appointmentID)
}

func (s ConsultationStore) Save(ctx context.Context, c *consultation.Consultation) (bool, error) {
	return SaveConsultation(ctx, s.Pool, c)
}

func (s ConsultationStore) ListOpen(ctx context.Context, doctorID *string) ([]consultation.Consultation, error) {
	return ListOpenConsultations(ctx, s.Pool, doctorID)
}

func (s ConsultationStore) MarkCompleted(ctx context.Context, id, patientID uuid.UUID, at time.Time) (bool, error) {
	return MarkConsultationCompleted(ctx, s.Pool, id, patientID, at)
}

func (s ConsultationStore) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return MarkConsultationCancelled(ctx, s.Pool, id, at)
}

func (s ConsultationStore) RecordExternalSync(ctx context.Context, id uuid.UUID, status consultation.SyncStatus, errMsg *string, at time.Time) error {
	return RecordExternalSync(ctx, s.Pool, id, status, errMsg, at)
}

func (s ConsultationStore) ListPendingExternalSync(ctx context.Context, limit, maxAttempts int) ([]consultation.Consultation, error) {
	return ListPendingExternalSync(ctx, s.Pool, limit, maxAttempts)
}
