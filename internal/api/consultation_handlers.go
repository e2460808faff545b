package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Samoo1234/clinica-sub000/internal/auth"
	"github.com/Samoo1234/clinica-sub000/internal/consultation"
)

type CreateConsultationRequest struct {
	AppointmentID string                       `json:"appointment_id"`
	DoctorID      string                       `json:"doctor_id"`
	Status        consultation.Status          `json:"status"`
	PatientID     *uuid.UUID                   `json:"patient_id"`
	Patient       consultation.PatientSnapshot `json:"patient_data"`
}

func consultationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, `{"error":"invalid consultation id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// CreateConsultation abre a consulta a partir do agendamento (appointment_id)
// ou de um snapshot explícito do paciente. 201 quando criou, 200 quando já
// havia uma consulta aberta para o agendamento.
func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req CreateConsultationRequest
	if !decode(w, r, &req) {
		return
	}
	doctorID := strings.TrimSpace(req.DoctorID)
	if d := auth.DoctorIDFrom(r.Context()); d != nil {
		doctorID = *d
	}

	var (
		c       *consultation.Consultation
		created bool
		err     error
	)
	if apptID := strings.TrimSpace(req.AppointmentID); apptID != "" {
		c, created, err = h.Consultations.StartFromAppointment(r.Context(), apptID, doctorID, req.Status)
	} else {
		in := consultation.CreateInput{PatientID: req.PatientID, Patient: req.Patient, Status: req.Status}
		if doctorID != "" {
			in.DoctorID = &doctorID
		}
		c, created, err = h.Consultations.Create(r.Context(), in)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		h.audit(r, "CONSULTATION_CREATED", "consultation", &c.ID, c.PatientID, map[string]any{"appointment_id": c.AppointmentID})
	}
	writeJSON(w, code, c)
}

// ListInProgress is the recovery screen: open consultations of the logged
// doctor (admin may pass ?doctor_id=).
func (h *Handler) ListInProgress(w http.ResponseWriter, r *http.Request) {
	doctorID := auth.DoctorIDFrom(r.Context())
	if role, _ := auth.Actor(r.Context()); doctorID == nil && role == auth.RoleAdmin {
		if d := strings.TrimSpace(r.URL.Query().Get("doctor_id")); d != "" {
			doctorID = &d
		}
	}
	list, err := h.Consultations.RecoverInProgress(r.Context(), doctorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consultations": list})
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	c, err := h.Consultations.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "CONSULTATION_VIEWED", "consultation", &c.ID, c.PatientID, nil)
	writeJSON(w, http.StatusOK, c)
}

// PatchConsultation is the auto-save endpoint. Edits are coalesced and
// written after a quiet period (202); ?flush=1 writes them now and returns
// the saved consultation.
func (h *Handler) PatchConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	var p consultation.Patch
	if !decode(w, r, &p) {
		return
	}
	// O que seria rejeitado no save assíncrono é rejeitado aqui.
	if err := p.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Consultations.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if c.Status.Terminal() {
		h.writeError(w, r, consultation.ErrTerminal)
		return
	}

	if !p.IsZero() {
		if err := h.Autosave.Submit(id, p); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if r.URL.Query().Get("flush") != "1" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	h.flushAndGet(w, r, id)
}

// FlushConsultation grava já as edições pendentes (ex.: médico saiu da tela).
func (h *Handler) FlushConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	h.flushAndGet(w, r, id)
}

func (h *Handler) flushAndGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.Autosave.Flush(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Consultations.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// FinalizeConsultation runs the finalize saga. A failed agenda update still
// answers 200, with warnings; the reconcile job retries it.
func (h *Handler) FinalizeConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	// corpo opcional: últimas edições + CPF confirmado na recepção
	var in consultation.FinalizeInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}
	res, err := h.Consultations.Finalize(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Partial() {
		h.logger(r).Warn().Str("consultation_id", id.String()).Err(res.Warning).Msg("consultation finalized with warnings")
	}
	h.audit(r, "CONSULTATION_FINALIZED", "consultation", &id, &res.PatientID, map[string]any{"steps": res.Steps})
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CancelConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	c, err := h.Consultations.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "CONSULTATION_CANCELLED", "consultation", &c.ID, c.PatientID, nil)
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GetConsultationRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	rec, err := h.Records.ByConsultation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "MEDICAL_RECORD_VIEWED", "medical_record", &rec.ID, &rec.PatientID, nil)
	writeJSON(w, http.StatusOK, rec)
}
