// Package schedule talks to the third-party scheduling system (agenda). This
// service only reads appointments and, best effort, writes back a status.
package schedule

import (
	"context"
	"errors"
)

// ErrDisabled is returned by status writes when no agenda URL is configured.
var ErrDisabled = errors.New("schedule: agenda integration disabled")

// Status values used by the agenda.
const (
	StatusPending   = "pendente"
	StatusConfirmed = "confirmado"
	StatusDone      = "realizado"
	StatusCancelled = "cancelado"
	StatusNoShow    = "faltou"
)

type Doctor struct {
	ID   string `json:"id"`
	Name string `json:"nome"`
}

// Appointment is an agenda row. Date is YYYY-MM-DD, Time is HH:MM.
type Appointment struct {
	ID        string  `json:"id"`
	Name      string  `json:"nome"`
	Phone     string  `json:"telefone"`
	Email     *string `json:"email,omitempty"`
	CPF       *string `json:"cpf,omitempty"`
	BirthDate *string `json:"data_nascimento,omitempty"`
	Date      string  `json:"data"`
	Time      string  `json:"horario"`
	Status    string  `json:"status"`
	Doctor    *Doctor `json:"medico,omitempty"`
}

// Filters narrows a listing. Empty fields are not sent.
type Filters struct {
	Date     string `json:"data,omitempty"`
	From     string `json:"de,omitempty"`
	To       string `json:"ate,omitempty"`
	Status   string `json:"status,omitempty"`
	DoctorID string `json:"medico_id,omitempty"`
}

// Gateway is the agenda as seen by the rest of the service.
type Gateway interface {
	ListAppointments(ctx context.Context, f Filters) ([]Appointment, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	// UpdateStatus reports false when the agenda refused the change without
	// a transport error (e.g. unknown id), and ErrDisabled when there is no
	// agenda to write to.
	UpdateStatus(ctx context.Context, id, status string) (bool, error)
}

// ValidStatus reports whether s is one of the agenda's known statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusDone, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}
