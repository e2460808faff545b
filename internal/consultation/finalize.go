package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
	"github.com/Samoo1234/clinica-sub000/internal/patient"
	"github.com/Samoo1234/clinica-sub000/internal/schedule"
)

type Step string

const (
	StepSyncPatient    Step = "SYNC_PATIENT"
	StepMedicalRecord  Step = "CREATE_MEDICAL_RECORD"
	StepMarkCompleted  Step = "MARK_COMPLETED"
	StepExternalStatus Step = "UPDATE_EXTERNAL_STATUS"
)

type Outcome string

const (
	OutcomeDone        Outcome = "DONE"
	OutcomeAlreadyDone Outcome = "ALREADY_DONE"
	OutcomeSkipped     Outcome = "SKIPPED"
	OutcomeFailed      Outcome = "FAILED"
)

// StepOutcome records what one finalize step did.
type StepOutcome struct {
	Step    Step    `json:"step"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
	Err     error   `json:"-"`
}

func done(step Step, created bool) StepOutcome {
	if created {
		return StepOutcome{Step: step, Outcome: OutcomeDone}
	}
	return StepOutcome{Step: step, Outcome: OutcomeAlreadyDone}
}

func failed(step Step, err error) StepOutcome {
	return StepOutcome{Step: step, Outcome: OutcomeFailed, Error: err.Error(), Err: err}
}

// FinalizeInput carries the last clinical edits and, when the consultation
// snapshot has none, the patient's CPF.
type FinalizeInput struct {
	Patch
	CPF string `json:"cpf,omitempty"`
}

type FinalizeResult struct {
	Consultation    *Consultation `json:"consultation"`
	PatientID       uuid.UUID     `json:"patient_id"`
	MedicalRecordID uuid.UUID     `json:"medical_record_id"`
	Steps           []StepOutcome `json:"steps"`
	Warnings        []string      `json:"warnings,omitempty"`
	// Warning is a PartialFinalization error when only the agenda write-back
	// failed. The consultation is still completed.
	Warning error `json:"-"`
}

// Partial reports whether finalize completed with the agenda out of sync.
func (r *FinalizeResult) Partial() bool { return r.Warning != nil }

// Finalize runs the saga. Steps run in order and are never rolled back:
//
//  1. ensure the local patient (by CPF)
//  2. create the medical record (once per consultation)
//  3. mark the consultation COMPLETED
//  4. best effort, set the agenda appointment to "realizado"
//
// Failures in steps 1-3 abort and are returned as errors; nothing is marked
// complete. A failure in step 4 returns a result with Warning set and the
// consultation flagged for the reconcile job. Running Finalize again on a
// completed consultation re-checks every step and retries step 4.
func (m *Manager) Finalize(ctx context.Context, id uuid.UUID, in FinalizeInput) (*FinalizeResult, error) {
	const op = "consultation.Finalize"
	log := m.log.With().Str("consultation_id", id.String()).Logger()

	if m.pending != nil {
		if err := m.pending.Flush(ctx, id); err != nil && !errors.Is(err, ErrTerminal) {
			return nil, fmt.Errorf("flush pending edits: %w", err)
		}
	}

	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case StatusCancelled:
		return nil, ErrTerminal
	case StatusCompleted:
		if !in.Patch.IsZero() {
			log.Warn().Msg("finalize on completed consultation, clinical edits ignored")
		}
	default:
		p := in.Patch
		inProgress := StatusInProgress
		p.Status = &inProgress
		if c, err = m.Update(ctx, id, p); err != nil {
			return nil, err
		}
	}

	res := &FinalizeResult{Consultation: c}

	// 1
	cpf := c.Patient.CPF
	if !identity.ValidCPF(cpf) {
		cpf = identity.NormalizeCPF(in.CPF)
	}
	if cpf == "" {
		return nil, stepErr(StepSyncPatient, apperr.Validation(op, "patient cpf is required to finalize"))
	}
	pat, created, err := m.patients.Sync(ctx, patient.Input{
		CPF:       cpf,
		Name:      c.Patient.Name,
		Phone:     c.Patient.Phone,
		Email:     c.Patient.Email,
		BirthDate: c.Patient.BirthDate,
	})
	if err != nil {
		log.Error().Err(err).Str("step", string(StepSyncPatient)).Msg("finalize aborted")
		return nil, stepErr(StepSyncPatient, err)
	}
	res.PatientID = pat.ID
	res.Steps = append(res.Steps, done(StepSyncPatient, created))

	// 2
	rec := &MedicalRecord{
		ConsultationID:   c.ID,
		PatientID:        pat.ID,
		DoctorID:         c.DoctorID,
		ConsultationDate: c.StartedAt,
		ChiefComplaint:   c.ChiefComplaint,
		Anamnesis:        c.Anamnesis,
		PhysicalExam:     c.Exam,
		Diagnosis:        c.Diagnosis,
		Prescription:     c.Prescription,
		FollowUpDate:     c.FollowUpDate,
	}
	created, err = m.records.Create(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("step", string(StepMedicalRecord)).Msg("finalize aborted")
		return nil, stepErr(StepMedicalRecord, upstream("medical_records.Create", err))
	}
	res.MedicalRecordID = rec.ID
	res.Steps = append(res.Steps, done(StepMedicalRecord, created))

	// 3
	if c.Status == StatusCompleted {
		res.Steps = append(res.Steps, done(StepMarkCompleted, false))
	} else {
		changed, err := m.store.MarkCompleted(ctx, c.ID, pat.ID, m.now())
		if err != nil {
			log.Error().Err(err).Str("step", string(StepMarkCompleted)).Msg("finalize aborted")
			return nil, stepErr(StepMarkCompleted, upstream("consultations.MarkCompleted", err))
		}
		if c, err = m.Get(ctx, id); err != nil {
			return nil, stepErr(StepMarkCompleted, err)
		}
		if c.Status != StatusCompleted {
			log.Error().Str("status", string(c.Status)).Msg("consultation closed concurrently, medical record already written")
			return nil, stepErr(StepMarkCompleted, ErrTerminal)
		}
		res.Steps = append(res.Steps, done(StepMarkCompleted, changed))
	}
	res.Consultation = c

	// 4
	out := m.SyncExternalStatus(ctx, c)
	res.Steps = append(res.Steps, out)
	if out.Outcome == OutcomeFailed {
		res.Warning = apperr.PartialFinalization(op, out.Err)
		res.Warnings = append(res.Warnings, "agenda status not updated, will be retried: "+out.Error)
	}
	if fresh, err := m.Get(ctx, id); err == nil {
		res.Consultation = fresh
	}
	log.Info().Str("patient_id", pat.ID.String()).Str("medical_record_id", rec.ID.String()).
		Bool("partial", res.Partial()).Msg("consultation finalized")
	return res, nil
}

// SyncExternalStatus is finalize step 4 on its own: it writes "realizado" to
// the agenda and records the attempt. The reconcile job calls it for
// consultations whose earlier attempt failed.
func (m *Manager) SyncExternalStatus(ctx context.Context, c *Consultation) StepOutcome {
	log := m.log.With().Str("consultation_id", c.ID.String()).Str("step", string(StepExternalStatus)).Logger()
	skip := func() StepOutcome {
		if c.ExternalSync.Status != SyncSkipped {
			if err := m.store.RecordExternalSync(ctx, c.ID, SyncSkipped, nil, m.now()); err != nil {
				log.Warn().Err(err).Msg("could not record skipped sync")
			}
		}
		return StepOutcome{Step: StepExternalStatus, Outcome: OutcomeSkipped}
	}
	switch {
	case c.AppointmentID == nil:
		return skip()
	case c.ExternalSync.Status == SyncSynced:
		return done(StepExternalStatus, false)
	}

	ok, err := m.agenda.UpdateStatus(ctx, *c.AppointmentID, schedule.StatusDone)
	if errors.Is(err, schedule.ErrDisabled) {
		log.Debug().Msg("agenda disabled, status write skipped")
		return skip()
	}
	if err == nil && !ok {
		err = errors.New("agenda refused status update")
	}
	if err != nil {
		msg := truncate(err.Error(), 500)
		if rerr := m.store.RecordExternalSync(ctx, c.ID, SyncFailed, &msg, m.now()); rerr != nil {
			log.Error().Err(rerr).Msg("could not record failed sync")
		}
		log.Warn().Err(err).Str("appointment_id", *c.AppointmentID).Msg("agenda status update failed")
		return failed(StepExternalStatus, err)
	}
	if rerr := m.store.RecordExternalSync(ctx, c.ID, SyncSynced, nil, m.now()); rerr != nil {
		log.Error().Err(rerr).Msg("could not record sync")
	}
	return done(StepExternalStatus, true)
}

func stepErr(step Step, err error) error {
	return fmt.Errorf("finalize %s: %w", strings.ToLower(string(step)), err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
