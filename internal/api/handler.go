// Package api exposes the consultation core over HTTP (gorilla/mux).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/auth"
	"github.com/Samoo1234/clinica-sub000/internal/autosave"
	"github.com/Samoo1234/clinica-sub000/internal/consultation"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
	"github.com/Samoo1234/clinica-sub000/internal/patient"
	"github.com/Samoo1234/clinica-sub000/internal/repo"
	"github.com/Samoo1234/clinica-sub000/internal/schedule"
)

// Consultations is the part of *consultation.Manager the handlers use.
type Consultations interface {
	Create(ctx context.Context, in consultation.CreateInput) (*consultation.Consultation, bool, error)
	StartFromAppointment(ctx context.Context, appointmentID, doctorID string, status consultation.Status) (*consultation.Consultation, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
	RecoverInProgress(ctx context.Context, doctorID *string) ([]consultation.Consultation, error)
	Finalize(ctx context.Context, id uuid.UUID, in consultation.FinalizeInput) (*consultation.FinalizeResult, error)
	Cancel(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
}

// Autosaver is the coalescer in front of Manager.Update.
type Autosaver interface {
	Submit(id uuid.UUID, p consultation.Patch) error
	Flush(ctx context.Context, id uuid.UUID) error
}

type IdentityResolver interface {
	Resolve(ctx context.Context, q identity.Query, mode identity.Mode) (identity.Match, error)
}

type RegistryCompleter interface {
	CompleteRegistration(ctx context.Context, id uuid.UUID, upd identity.Customer) (*identity.Customer, error)
}

type PatientSyncer interface {
	Sync(ctx context.Context, in patient.Input) (*patient.Patient, bool, error)
}

type RecordReader interface {
	ByConsultation(ctx context.Context, consultationID uuid.UUID) (*consultation.MedicalRecord, error)
	ByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]consultation.MedicalRecord, error)
}

// Auditor grava a trilha de acesso. Falha não derruba a request.
type Auditor interface {
	Record(ctx context.Context, ev repo.AuditEvent) error
}

type Handler struct {
	Consultations Consultations
	Autosave      Autosaver
	Identity      IdentityResolver
	Registry      RegistryCompleter
	Patients      PatientSyncer
	Records       RecordReader
	Agenda        schedule.Gateway
	Audit         Auditor
	// Ready checks the databases; nil = always ready.
	Ready func(ctx context.Context) error
	Log   zerolog.Logger
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the apperr taxonomy to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, consultation.ErrTerminal):
		code = http.StatusConflict
	case errors.Is(err, autosave.ErrClosed):
		code = http.StatusServiceUnavailable
	default:
		switch apperr.KindOf(err) {
		case apperr.KindValidation:
			code = http.StatusUnprocessableEntity
		case apperr.KindNotFound:
			code = http.StatusNotFound
		case apperr.KindConflict:
			code = http.StatusConflict
		case apperr.KindUpstream:
			code = http.StatusBadGateway
		}
	}
	log := h.logger(r)
	if code >= 500 {
		log.Error().Err(err).Int("status", code).Msg("request failed")
	} else {
		log.Debug().Err(err).Int("status", code).Msg("request rejected")
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal"
	}
	writeJSON(w, code, map[string]string{"error": msg, "kind": string(apperr.KindOf(err))})
}

// logger prefers the request logger set by middleware.AccessLog.
func (h *Handler) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.Log
}

func (h *Handler) audit(r *http.Request, action, resourceType string, resourceID, patientID *uuid.UUID, meta any) {
	if h.Audit == nil {
		return
	}
	role, userID := auth.Actor(r.Context())
	ev := repo.AuditEvent{
		Action:       action,
		ActorRole:    role,
		ActorID:      userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		PatientID:    patientID,
		RequestID:    r.Header.Get("X-Request-ID"),
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		Metadata:     meta,
	}
	if err := h.Audit.Record(r.Context(), ev); err != nil {
		h.logger(r).Warn().Err(err).Str("action", action).Msg("audit event not recorded")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			h.logger(r).Warn().Err(err).Msg("not ready")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
