package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/auth"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
	"github.com/Samoo1234/clinica-sub000/internal/schedule"
)

// IdentityView é o resumo da resolução exibido na lista da agenda.
type IdentityView struct {
	RegistryID        *uuid.UUID          `json:"registry_id,omitempty"`
	Confidence        identity.Confidence `json:"confidence"`
	NeedsConfirmation bool                `json:"needs_confirmation"`
	Candidates        int                 `json:"candidates"`
}

type AppointmentView struct {
	schedule.Appointment
	Identity *IdentityView `json:"identity,omitempty"`
}

// ListAppointments lista a agenda externa e resolve cada linha contra o
// cadastro central sem gravar nada (ReadOnly).
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := schedule.Filters{
		Date:     q.Get("data"),
		From:     q.Get("de"),
		To:       q.Get("ate"),
		Status:   q.Get("status"),
		DoctorID: q.Get("medico_id"),
	}
	if f.Status != "" && !schedule.ValidStatus(f.Status) {
		http.Error(w, `{"error":"invalid status"}`, http.StatusBadRequest)
		return
	}
	// médico só vê a própria agenda
	if d := auth.DoctorIDFrom(r.Context()); d != nil {
		f.DoctorID = *d
	}

	list, err := h.Agenda.ListAppointments(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AppointmentView, len(list))
	resolve := h.Identity != nil
	for i, a := range list {
		out[i].Appointment = a
		if !resolve {
			continue
		}
		m, err := h.Identity.Resolve(r.Context(), identity.Query{
			CPF:   deref(a.CPF),
			Phone: a.Phone,
			Name:  a.Name,
		}, identity.ReadOnly)
		switch {
		case err == nil:
			v := &IdentityView{Confidence: m.Confidence, NeedsConfirmation: m.NeedsConfirmation(), Candidates: m.Candidates}
			if m.Record != nil {
				v.RegistryID = &m.Record.ID
			}
			out[i].Identity = v
		case errors.Is(err, apperr.ErrValidation):
			out[i].Identity = &IdentityView{Confidence: identity.ConfidenceNone, NeedsConfirmation: true}
		default:
			// cadastro fora do ar: devolve a agenda sem a coluna de identidade
			h.logger(r).Warn().Err(err).Msg("identity resolution unavailable for listing")
			resolve = false
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
