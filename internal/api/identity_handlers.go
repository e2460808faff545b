package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Samoo1234/clinica-sub000/internal/identity"
)

type ResolveResponse struct {
	identity.Match
	NeedsConfirmation bool `json:"needs_confirmation"`
}

// ResolveIdentity resolve (e provisiona, se preciso) a pessoa no cadastro central.
// Match fraco não é erro: volta 200 com needs_confirmation=true.
func (h *Handler) ResolveIdentity(w http.ResponseWriter, r *http.Request) {
	var q identity.Query
	if !decode(w, r, &q) {
		return
	}
	m, err := h.Identity.Resolve(r.Context(), q, identity.Provision)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Match: m, NeedsConfirmation: m.NeedsConfirmation()})
}

// CompleteRegistration is the reception confirming a provisioned record.
func (h *Handler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
		return
	}
	var upd identity.Customer
	if !decode(w, r, &upd) {
		return
	}
	c, err := h.Registry.CompleteRegistration(r.Context(), id, upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "REGISTRY_COMPLETED", "registry_customer", &c.ID, nil, nil)
	writeJSON(w, http.StatusOK, c)
}
