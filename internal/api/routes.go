package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Samoo1234/clinica-sub000/internal/auth"
	"github.com/Samoo1234/clinica-sub000/internal/middleware"
)

// Router monta as rotas. /health e /ready são públicas; /api exige Bearer JWT.
func (h *Handler) Router(secret []byte) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.Readiness).Methods(http.MethodGet)

	anyone := middleware.RequireRole(auth.RoleDoctor, auth.RoleReception, auth.RoleAdmin)
	clinical := middleware.RequireRole(auth.RoleDoctor, auth.RoleAdmin)
	front := middleware.RequireRole(auth.RoleReception, auth.RoleAdmin)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(middleware.RequireAuth(secret))

	protected.Handle("/appointments", anyone(http.HandlerFunc(h.ListAppointments))).Methods(http.MethodGet)
	protected.Handle("/identity/resolve", anyone(http.HandlerFunc(h.ResolveIdentity))).Methods(http.MethodPost)
	protected.Handle("/identity/{id}/complete", front(http.HandlerFunc(h.CompleteRegistration))).Methods(http.MethodPost)
	protected.Handle("/patients/sync", anyone(http.HandlerFunc(h.SyncPatient))).Methods(http.MethodPost)
	protected.Handle("/patients/{patientId}/medical-records", clinical(http.HandlerFunc(h.ListPatientRecords))).Methods(http.MethodGet)

	protected.Handle("/consultations", clinical(http.HandlerFunc(h.CreateConsultation))).Methods(http.MethodPost)
	protected.Handle("/consultations/in-progress", clinical(http.HandlerFunc(h.ListInProgress))).Methods(http.MethodGet)
	protected.Handle("/consultations/{id}", clinical(http.HandlerFunc(h.GetConsultation))).Methods(http.MethodGet)
	protected.Handle("/consultations/{id}", clinical(http.HandlerFunc(h.PatchConsultation))).Methods(http.MethodPatch)
	protected.Handle("/consultations/{id}/flush", clinical(http.HandlerFunc(h.FlushConsultation))).Methods(http.MethodPost)
	protected.Handle("/consultations/{id}/finalize", clinical(http.HandlerFunc(h.FinalizeConsultation))).Methods(http.MethodPost)
	protected.Handle("/consultations/{id}/cancel", anyone(http.HandlerFunc(h.CancelConsultation))).Methods(http.MethodPost)
	protected.Handle("/consultations/{id}/medical-record", clinical(http.HandlerFunc(h.GetConsultationRecord))).Methods(http.MethodGet)
	return r
}
