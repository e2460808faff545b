// Package consultation owns the consultation lifecycle: creation with a
// durable first row, field-level auto-save, recovery of open consultations
// from storage and the finalize saga that produces the medical record.
package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
	"github.com/Samoo1234/clinica-sub000/internal/patient"
	"github.com/Samoo1234/clinica-sub000/internal/schedule"
)

// ErrTerminal is returned for any edit or transition on a COMPLETED or
// CANCELLED consultation.
var ErrTerminal = apperr.Validation("consultation", "consultation is closed")

// ErrRecordWritten is returned by Cancel when finalize already wrote the
// medical record; finalize must be run again to complete the consultation.
var ErrRecordWritten = apperr.Conflict("consultation.Cancel", errors.New("medical record already written, finalize again"))

type IdentityResolver interface {
	Resolve(ctx context.Context, q identity.Query, mode identity.Mode) (identity.Match, error)
}

type PatientSyncer interface {
	Sync(ctx context.Context, in patient.Input) (*patient.Patient, bool, error)
}

// Agenda is the part of the schedule gateway the lifecycle needs.
type Agenda interface {
	GetAppointment(ctx context.Context, id string) (*schedule.Appointment, error)
	UpdateStatus(ctx context.Context, id, status string) (bool, error)
}

// PendingEdits is the auto-save buffer in front of Update. Finalize flushes
// it; Cancel discards it.
type PendingEdits interface {
	Flush(ctx context.Context, id uuid.UUID) error
	Cancel(id uuid.UUID)
}

type Deps struct {
	Store    Store
	Records  MedicalRecordWriter
	Patients PatientSyncer
	Resolver IdentityResolver
	Agenda   Agenda
	Log      zerolog.Logger
}

type Manager struct {
	store    Store
	records  MedicalRecordWriter
	patients PatientSyncer
	resolver IdentityResolver
	agenda   Agenda
	pending  PendingEdits
	log      zerolog.Logger
	now      func() time.Time
}

func NewManager(d Deps) *Manager {
	return &Manager{
		store:    d.Store,
		records:  d.Records,
		patients: d.Patients,
		resolver: d.Resolver,
		agenda:   d.Agenda,
		log:      d.Log.With().Str("component", "consultation").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetPendingEdits attaches the auto-save buffer. The buffer saves through
// Update, so it can only be built after the Manager.
func (m *Manager) SetPendingEdits(p PendingEdits) { m.pending = p }

type CreateInput struct {
	AppointmentID *string         `json:"appointment_id,omitempty"`
	PatientID     *uuid.UUID      `json:"patient_id,omitempty"`
	DoctorID      *string         `json:"doctor_id,omitempty"`
	Patient       PatientSnapshot `json:"patient_data"`
	// Status is WAITING or IN_PROGRESS; empty means IN_PROGRESS.
	Status Status `json:"status,omitempty"`
}

// Create persists the consultation row right away. When an open consultation
// already exists for the same appointment it is returned with created=false.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Consultation, bool, error) {
	const op = "consultation.Create"
	status := in.Status
	if status == "" {
		status = StatusInProgress
	}
	if status != StatusWaiting && status != StatusInProgress {
		return nil, false, apperr.Validation(op, "initial status must be WAITING or IN_PROGRESS")
	}
	snap := in.Patient
	snap.Name = strings.TrimSpace(snap.Name)
	if snap.Name == "" {
		return nil, false, apperr.Validation(op, "patient name is required")
	}
	snap.CPF = identity.NormalizeCPF(snap.CPF)
	if snap.CPF != "" && !identity.ValidCPF(snap.CPF) {
		// CPF digitado errado na agenda: finalize pede o CPF confirmado.
		m.log.Warn().Int("cpf_len", len(snap.CPF)).Msg("malformed cpf dropped from snapshot")
		snap.CPF = ""
		snap.NeedsConfirmation = true
	}
	snap.Phone = identity.NormalizePhone(snap.Phone)
	snap.BirthDate = identity.NormalizeDate(snap.BirthDate)

	apptID := trimmed(in.AppointmentID)
	if apptID != nil {
		existing, err := m.store.FindOpenByAppointment(ctx, *apptID)
		switch {
		case err == nil:
			return existing, false, nil
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, false, upstream("consultations.FindOpenByAppointment", err)
		}
	}

	now := m.now()
	c := &Consultation{
		ID:            uuid.New(),
		AppointmentID: apptID,
		PatientID:     in.PatientID,
		DoctorID:      trimmed(in.DoctorID),
		Status:        status,
		StartedAt:     now,
		Exam:          Exam{Version: ExamVersion},
		Patient:       snap,
		ExternalSync:  ExternalSync{Status: SyncPending},
		UpdatedAt:     now,
	}
	if apptID == nil {
		c.ExternalSync.Status = SyncSkipped
	}

	err := m.store.Insert(ctx, c)
	if err == nil {
		m.log.Info().Str("consultation_id", c.ID.String()).Str("status", string(c.Status)).Msg("consultation created")
		return c, true, nil
	}
	if !errors.Is(err, apperr.ErrConflict) || apptID == nil {
		return nil, false, upstream("consultations.Insert", err)
	}
	// Another request opened this appointment first.
	winner, err := m.store.FindOpenByAppointment(ctx, *apptID)
	if err != nil {
		return nil, false, upstream("consultations.FindOpenByAppointment", err)
	}
	return winner, false, nil
}

// StartFromAppointment loads the agenda row, resolves the person against the
// registry (provisioning if needed) and creates the consultation.
func (m *Manager) StartFromAppointment(ctx context.Context, appointmentID, doctorID string, status Status) (*Consultation, bool, error) {
	const op = "consultation.StartFromAppointment"
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return nil, false, apperr.Validation(op, "appointment_id is required")
	}
	if existing, err := m.store.FindOpenByAppointment(ctx, appointmentID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, upstream("consultations.FindOpenByAppointment", err)
	}

	appt, err := m.agenda.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	if appt.Status == schedule.StatusCancelled {
		return nil, false, apperr.Validation(op, "appointment is cancelled")
	}

	snap := PatientSnapshot{
		Name:      appt.Name,
		CPF:       deref(appt.CPF),
		Phone:     appt.Phone,
		BirthDate: identity.NormalizeDate(deref(appt.BirthDate)),
		Email:     deref(appt.Email),
	}
	match, err := m.resolver.Resolve(ctx, identity.Query{
		CPF:       snap.CPF,
		Phone:     snap.Phone,
		Name:      snap.Name,
		Email:     snap.Email,
		BirthDate: snap.BirthDate,
	}, identity.Provision)
	switch {
	case err == nil:
		applyMatch(&snap, match)
	case errors.Is(err, apperr.ErrValidation):
		// Agenda row without phone or CPF: start anyway, flagged for reception.
		snap.Confidence = identity.ConfidenceNone
		snap.NeedsConfirmation = true
	default:
		return nil, false, err
	}

	if doctorID == "" && appt.Doctor != nil {
		doctorID = appt.Doctor.ID
	}
	in := CreateInput{AppointmentID: &appointmentID, Patient: snap, Status: status}
	if doctorID != "" {
		in.DoctorID = &doctorID
	}
	return m.Create(ctx, in)
}

// applyMatch copies the registry link into the snapshot. Registry data only
// fills gaps and only from strong matches.
func applyMatch(snap *PatientSnapshot, match identity.Match) {
	snap.Confidence = match.Confidence
	snap.NeedsConfirmation = match.NeedsConfirmation()
	rec := match.Record
	if rec == nil {
		return
	}
	id := rec.ID
	snap.RegistryID = &id
	if match.Confidence != identity.ConfidenceExactCPF && match.Confidence != identity.ConfidencePhoneAndName {
		return
	}
	if snap.CPF == "" && rec.CPF != nil {
		snap.CPF = *rec.CPF
	}
	if snap.BirthDate == "" && rec.BirthDate != nil {
		snap.BirthDate = *rec.BirthDate
	}
	if snap.Email == "" && rec.Email != nil {
		snap.Email = *rec.Email
	}
}

// Update merges p into the stored consultation. Status may only move between
// WAITING and IN_PROGRESS here; completion and cancellation have their own
// operations.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, p Patch) (*Consultation, error) {
	const op = "consultation.Update"
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, ErrTerminal
	}
	if p.Status != nil && !CanTransition(c.Status, *p.Status) {
		return nil, apperr.Validation(op, fmt.Sprintf("cannot move from %s to %s", c.Status, *p.Status))
	}
	c.apply(p)
	if err := c.Exam.Validate(); err != nil {
		return nil, apperr.Validation(op, err.Error())
	}
	if p.IsZero() {
		return c, nil
	}
	c.UpdatedAt = m.now()
	saved, err := m.store.Save(ctx, c)
	if err != nil {
		return nil, upstream("consultations.Save", err)
	}
	if !saved {
		return nil, ErrTerminal
	}
	m.log.Debug().Str("consultation_id", id.String()).Msg("consultation saved")
	return c, nil
}

// RecoverInProgress returns every open consultation straight from storage,
// optionally only those of one doctor.
func (m *Manager) RecoverInProgress(ctx context.Context, doctorID *string) ([]Consultation, error) {
	list, err := m.store.ListOpen(ctx, trimmed(doctorID))
	if err != nil {
		return nil, upstream("consultations.ListOpen", err)
	}
	if list == nil {
		list = []Consultation{}
	}
	return list, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, upstream("consultations.Get", err)
	}
	return c, nil
}

// Cancel closes an open consultation without a medical record. Cancelling a
// cancelled consultation is a no-op. A consultation whose finalize stopped
// after writing the record cannot be cancelled.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	if m.pending != nil {
		m.pending.Cancel(id)
	}
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case StatusCancelled:
		return c, nil
	case StatusCompleted:
		return nil, ErrTerminal
	}
	if _, err := m.records.ByConsultation(ctx, id); err == nil {
		m.log.Warn().Str("consultation_id", id.String()).Msg("cancel refused, medical record exists")
		return nil, ErrRecordWritten
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, upstream("medical_records.ByConsultation", err)
	}
	changed, err := m.store.MarkCancelled(ctx, id, m.now())
	if err != nil {
		return nil, upstream("consultations.MarkCancelled", err)
	}
	c, err = m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		switch c.Status {
		case StatusCancelled:
		case StatusCompleted:
			return nil, ErrTerminal
		default:
			// finalize gravou o prontuário entre a checagem e o update
			return nil, ErrRecordWritten
		}
		return c, nil
	}
	m.log.Info().Str("consultation_id", id.String()).Msg("consultation cancelled")
	return c, nil
}

// upstream keeps classified errors as they are and marks the rest as
// storage failures.
func upstream(op string, err error) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Upstream(op, err)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
