package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Samoo1234/clinica-sub000/internal/patient"
)

// SyncPatient garante o paciente local para o CPF (201 quando criou).
func (h *Handler) SyncPatient(w http.ResponseWriter, r *http.Request) {
	var in patient.Input
	if !decode(w, r, &in) {
		return
	}
	p, created, err := h.Patients.Sync(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"patient": p, "created": created})
}

func (h *Handler) ListPatientRecords(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(mux.Vars(r)["patientId"])
	if err != nil {
		http.Error(w, `{"error":"invalid patient_id"}`, http.StatusBadRequest)
		return
	}
	limit, offset := ParseLimitOffset(r)
	list, err := h.Records.ByPatient(r.Context(), patientID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "MEDICAL_RECORDS_LISTED", "patient", &patientID, &patientID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"medical_records": list, "limit": limit, "offset": offset})
}
