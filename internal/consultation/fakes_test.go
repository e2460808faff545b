package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
	"github.com/Samoo1234/clinica-sub000/internal/patient"
	"github.com/Samoo1234/clinica-sub000/internal/schedule"
)

// memStore guarda as consultas serializadas em JSON, como uma tabela faria,
// para que nenhum ponteiro vaze entre chamadas.
type memStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID][]byte
	saves int
	// beforeInsert simula outra requisição abrindo o mesmo agendamento.
	beforeInsert func(s *memStore)
	failSave     error
	failComplete error
}

func newMemStore() *memStore { return &memStore{rows: map[uuid.UUID][]byte{}} }

func (s *memStore) put(c Consultation) {
	b, _ := json.Marshal(c)
	s.rows[c.ID] = b
}

func (s *memStore) load(id uuid.UUID) (Consultation, bool) {
	b, ok := s.rows[id]
	if !ok {
		return Consultation{}, false
	}
	var c Consultation
	_ = json.Unmarshal(b, &c)
	return c, true
}

func (s *memStore) all() []Consultation {
	out := make([]Consultation, 0, len(s.rows))
	for id := range s.rows {
		c, _ := s.load(id)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *memStore) openByAppointment(appt string) (Consultation, bool) {
	for _, c := range s.all() {
		if c.AppointmentID != nil && *c.AppointmentID == appt && !c.Status.Terminal() {
			return c, true
		}
	}
	return Consultation{}, false
}

func (s *memStore) Insert(_ context.Context, c *Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeInsert != nil {
		f := s.beforeInsert
		s.beforeInsert = nil
		f(s)
	}
	if c.AppointmentID != nil {
		if _, ok := s.openByAppointment(*c.AppointmentID); ok {
			return apperr.Conflict("mem.Insert", errors.New("duplicate open consultation for appointment"))
		}
	}
	s.put(*c)
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.load(id)
	if !ok {
		return nil, apperr.NotFound("mem.Get", nil)
	}
	return &c, nil
}

func (s *memStore) FindOpenByAppointment(_ context.Context, appt string) (*Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.openByAppointment(appt)
	if !ok {
		return nil, apperr.NotFound("mem.FindOpenByAppointment", nil)
	}
	return &c, nil
}

func (s *memStore) Save(_ context.Context, c *Consultation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return false, s.failSave
	}
	cur, ok := s.load(c.ID)
	if !ok {
		return false, apperr.NotFound("mem.Save", nil)
	}
	if cur.Status.Terminal() {
		return false, nil
	}
	cur.Status = c.Status
	cur.DoctorID = c.DoctorID
	cur.Exam = c.Exam
	cur.ChiefComplaint = c.ChiefComplaint
	cur.Anamnesis = c.Anamnesis
	cur.Notes = c.Notes
	cur.Diagnosis = c.Diagnosis
	cur.Prescription = c.Prescription
	cur.FollowUpDate = c.FollowUpDate
	cur.UpdatedAt = c.UpdatedAt
	s.put(cur)
	s.saves++
	return true, nil
}

func (s *memStore) ListOpen(_ context.Context, doctorID *string) ([]Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Consultation{}
	for _, c := range s.all() {
		if c.Status.Terminal() {
			continue
		}
		if doctorID != nil && (c.DoctorID == nil || *c.DoctorID != *doctorID) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) MarkCompleted(_ context.Context, id, patientID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failComplete != nil {
		return false, s.failComplete
	}
	c, ok := s.load(id)
	if !ok || c.Status.Terminal() {
		return false, nil
	}
	c.Status = StatusCompleted
	c.CompletedAt = &at
	c.PatientID = &patientID
	s.put(c)
	return true, nil
}

func (s *memStore) MarkCancelled(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.load(id)
	if !ok || c.Status.Terminal() {
		return false, nil
	}
	c.Status = StatusCancelled
	c.CompletedAt = &at
	s.put(c)
	return true, nil
}

func (s *memStore) RecordExternalSync(_ context.Context, id uuid.UUID, st SyncStatus, errMsg *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.load(id)
	if !ok {
		return apperr.NotFound("mem.RecordExternalSync", nil)
	}
	c.ExternalSync.Status = st
	c.ExternalSync.Error = errMsg
	if st != SyncSkipped {
		c.ExternalSync.Attempts++
	}
	if st == SyncSynced {
		c.ExternalSync.SyncedAt = &at
	}
	s.put(c)
	return nil
}

type memRecords struct {
	mu   sync.Mutex
	rows map[uuid.UUID]MedicalRecord
	err  error
}

func newMemRecords() *memRecords { return &memRecords{rows: map[uuid.UUID]MedicalRecord{}} }

func (r *memRecords) Create(_ context.Context, rec *MedicalRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if existing, ok := r.rows[rec.ConsultationID]; ok {
		*rec = existing
		return false, nil
	}
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now()
	r.rows[rec.ConsultationID] = *rec
	return true, nil
}

func (r *memRecords) ByConsultation(_ context.Context, consultationID uuid.UUID) (*MedicalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[consultationID]
	if !ok {
		return nil, apperr.NotFound("mem.ByConsultation", nil)
	}
	return &rec, nil
}

// memPatients é a tabela local de pacientes; os testes a usam atrás do
// patient.Synchronizer de verdade, com as mesmas validações de CPF e nome.
type memPatients struct {
	mu    sync.Mutex
	byCPF map[string]patient.Patient
	err   error
}

func newMemPatients() *memPatients { return &memPatients{byCPF: map[string]patient.Patient{}} }

func (s *memPatients) FindByCPF(_ context.Context, cpf string) (*patient.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.byCPF[cpf]
	if !ok {
		return nil, apperr.NotFound("mem.FindByCPF", nil)
	}
	return &p, nil
}

func (s *memPatients) Insert(_ context.Context, p *patient.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCPF[p.CPF]; ok {
		return apperr.Conflict("mem.Insert", errors.New("duplicate cpf"))
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	s.byCPF[p.CPF] = *p
	return nil
}

type fakeResolver struct {
	match identity.Match
	err   error
	last  identity.Query
	mode  identity.Mode
}

func (f *fakeResolver) Resolve(_ context.Context, q identity.Query, mode identity.Mode) (identity.Match, error) {
	f.last, f.mode = q, mode
	return f.match, f.err
}

type fakeAgenda struct {
	mu       sync.Mutex
	appts    map[string]schedule.Appointment
	updates  []string
	fail     error
	refuse   bool
	disabled bool
}

func newFakeAgenda() *fakeAgenda { return &fakeAgenda{appts: map[string]schedule.Appointment{}} }

func (a *fakeAgenda) GetAppointment(_ context.Context, id string) (*schedule.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ap, ok := a.appts[id]
	if !ok {
		return nil, apperr.NotFound("agenda.GetAppointment", nil)
	}
	return &ap, nil
}

func (a *fakeAgenda) UpdateStatus(_ context.Context, id, status string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disabled {
		return false, schedule.ErrDisabled
	}
	if a.fail != nil {
		return false, a.fail
	}
	if a.refuse {
		return false, nil
	}
	a.updates = append(a.updates, id+"="+status)
	return true, nil
}

type fakePending struct {
	flushed   []uuid.UUID
	cancelled []uuid.UUID
	onFlush   func(id uuid.UUID) error
}

func (p *fakePending) Flush(_ context.Context, id uuid.UUID) error {
	p.flushed = append(p.flushed, id)
	if p.onFlush != nil {
		return p.onFlush(id)
	}
	return nil
}

func (p *fakePending) Cancel(id uuid.UUID) { p.cancelled = append(p.cancelled, id) }
