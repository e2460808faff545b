package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
)

type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further transition or edit.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Open statuses are the ones recovery returns.
var Open = []Status{StatusWaiting, StatusInProgress}

// CanTransition reports whether from -> to is allowed. Staying in the same
// non-terminal status is allowed (repeated saves).
func CanTransition(from, to Status) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case StatusWaiting:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusWaiting || to == StatusCompleted || to == StatusCancelled
	}
	return false
}

// SyncStatus tracks the write-back of "realizado" to the agenda.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
	// SyncSkipped marks consultations with no agenda appointment behind them.
	SyncSkipped SyncStatus = "SKIPPED"
)

type ExternalSync struct {
	Status   SyncStatus `json:"status"`
	Error    *string    `json:"error,omitempty"`
	Attempts int        `json:"attempts"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// PatientSnapshot is the denormalized identity stored with the consultation
// at creation. Later registry changes never touch it.
type PatientSnapshot struct {
	Name       string              `json:"name"`
	CPF        string              `json:"cpf,omitempty"`
	Phone      string              `json:"phone,omitempty"`
	BirthDate  string              `json:"birth_date,omitempty"`
	Email      string              `json:"email,omitempty"`
	RegistryID *uuid.UUID          `json:"registry_id,omitempty"`
	Confidence identity.Confidence `json:"confidence,omitempty"`
	// NeedsConfirmation mirrors identity.Match at creation time.
	NeedsConfirmation bool `json:"needs_confirmation"`
}

type Consultation struct {
	ID             uuid.UUID       `json:"id"`
	AppointmentID  *string         `json:"appointment_id,omitempty"`
	PatientID      *uuid.UUID      `json:"patient_id,omitempty"`
	DoctorID       *string         `json:"doctor_id,omitempty"`
	Status         Status          `json:"status"`
	StartedAt      time.Time       `json:"start_time"`
	CompletedAt    *time.Time      `json:"end_time,omitempty"`
	Exam           Exam            `json:"physical_exam"`
	ChiefComplaint *string         `json:"chief_complaint,omitempty"`
	Anamnesis      *string         `json:"anamnesis,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	Diagnosis      *string         `json:"diagnosis,omitempty"`
	Prescription   *string         `json:"prescription,omitempty"`
	FollowUpDate   *string         `json:"follow_up_date,omitempty"`
	Patient        PatientSnapshot `json:"patient_data"`
	ExternalSync   ExternalSync    `json:"external_status"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Patch is a partial edit. Nil fields are left untouched; Exam is merged per
// sub-section and per eye.
type Patch struct {
	Status         *Status `json:"status,omitempty"`
	DoctorID       *string `json:"doctor_id,omitempty"`
	Exam           *Exam   `json:"physical_exam,omitempty"`
	ChiefComplaint *string `json:"chief_complaint,omitempty"`
	Anamnesis      *string `json:"anamnesis,omitempty"`
	Notes          *string `json:"notes,omitempty"`
	Diagnosis      *string `json:"diagnosis,omitempty"`
	Prescription   *string `json:"prescription,omitempty"`
	FollowUpDate   *string `json:"follow_up_date,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Status == nil && p.DoctorID == nil && p.Exam == nil && p.ChiefComplaint == nil &&
		p.Anamnesis == nil && p.Notes == nil && p.Diagnosis == nil && p.Prescription == nil &&
		p.FollowUpDate == nil
}

// Validate rejects what Update would reject, so a patch can be refused
// before it is queued for auto-save. An empty follow_up_date clears it.
func (p Patch) Validate() error {
	const op = "consultation.Update"
	if p.Status != nil && *p.Status != StatusWaiting && *p.Status != StatusInProgress {
		return apperr.Validation(op, "status must be WAITING or IN_PROGRESS; use finalize or cancel")
	}
	if p.Exam != nil {
		if err := p.Exam.Validate(); err != nil {
			return apperr.Validation(op, err.Error())
		}
	}
	if p.FollowUpDate != nil && *p.FollowUpDate != "" {
		if _, err := time.Parse(time.DateOnly, *p.FollowUpDate); err != nil {
			return apperr.Validation(op, "follow_up_date must be YYYY-MM-DD")
		}
	}
	return nil
}

// Merge folds next on top of p; next wins field by field. Used to coalesce
// rapid edits into one save.
func (p Patch) Merge(next Patch) Patch {
	out := p
	out.Status = pick(next.Status, p.Status)
	out.DoctorID = pick(next.DoctorID, p.DoctorID)
	out.ChiefComplaint = pick(next.ChiefComplaint, p.ChiefComplaint)
	out.Anamnesis = pick(next.Anamnesis, p.Anamnesis)
	out.Notes = pick(next.Notes, p.Notes)
	out.Diagnosis = pick(next.Diagnosis, p.Diagnosis)
	out.Prescription = pick(next.Prescription, p.Prescription)
	out.FollowUpDate = pick(next.FollowUpDate, p.FollowUpDate)
	switch {
	case next.Exam == nil:
	case p.Exam == nil:
		e := *next.Exam
		out.Exam = &e
	default:
		e := p.Exam.Merge(*next.Exam)
		out.Exam = &e
	}
	return out
}

func (c *Consultation) apply(p Patch) {
	if p.Status != nil {
		c.Status = *p.Status
	}
	c.DoctorID = pick(p.DoctorID, c.DoctorID)
	c.ChiefComplaint = pick(p.ChiefComplaint, c.ChiefComplaint)
	c.Anamnesis = pick(p.Anamnesis, c.Anamnesis)
	c.Notes = pick(p.Notes, c.Notes)
	c.Diagnosis = pick(p.Diagnosis, c.Diagnosis)
	c.Prescription = pick(p.Prescription, c.Prescription)
	c.FollowUpDate = pick(p.FollowUpDate, c.FollowUpDate)
	if c.FollowUpDate != nil && *c.FollowUpDate == "" {
		c.FollowUpDate = nil
	}
	if p.Exam != nil {
		c.Exam = c.Exam.Merge(*p.Exam)
	}
}

// MedicalRecord is the immutable clinical record written once by Finalize.
type MedicalRecord struct {
	ID               uuid.UUID `json:"id"`
	ConsultationID   uuid.UUID `json:"consultation_id"`
	PatientID        uuid.UUID `json:"patient_id"`
	DoctorID         *string   `json:"doctor_id,omitempty"`
	ConsultationDate time.Time `json:"consultation_date"`
	ChiefComplaint   *string   `json:"chief_complaint,omitempty"`
	Anamnesis        *string   `json:"anamnesis,omitempty"`
	PhysicalExam     Exam      `json:"physical_exam"`
	Diagnosis        *string   `json:"diagnosis,omitempty"`
	Prescription     *string   `json:"prescription,omitempty"`
	FollowUpDate     *string   `json:"follow_up_date,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store persists consultations. Get returns apperr NotFound on a miss.
//
// Save writes the full editable state (status, clinical fields, doctor) only
// while the stored row is still open; it returns false when the row is
// already terminal. MarkCompleted and MarkCancelled are conditional on the
// row being open and report whether they changed it.
type Store interface {
	Insert(ctx context.Context, c *Consultation) error
	Get(ctx context.Context, id uuid.UUID) (*Consultation, error)
	FindOpenByAppointment(ctx context.Context, appointmentID string) (*Consultation, error)
	Save(ctx context.Context, c *Consultation) (bool, error)
	ListOpen(ctx context.Context, doctorID *string) ([]Consultation, error)
	MarkCompleted(ctx context.Context, id, patientID uuid.UUID, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RecordExternalSync(ctx context.Context, id uuid.UUID, status SyncStatus, errMsg *string, at time.Time) error
}

// MedicalRecordWriter creates the record for a consultation at most once.
// A second call for the same consultation returns the existing row with
// created=false. ByConsultation returns apperr NotFound when there is none.
type MedicalRecordWriter interface {
	Create(ctx context.Context, r *MedicalRecord) (created bool, err error)
	ByConsultation(ctx context.Context, consultationID uuid.UUID) (*MedicalRecord, error)
}
