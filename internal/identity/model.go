package identity

import (
	"context"

	"github.com/google/uuid"
)

// Address is the structured address shared by registry customers and local patients.
type Address struct {
	Street       string `json:"logradouro,omitempty"`
	Number       string `json:"numero,omitempty"`
	Complement   string `json:"complemento,omitempty"`
	Neighborhood string `json:"bairro,omitempty"`
	City         string `json:"cidade,omitempty"`
	State        string `json:"estado,omitempty"`
	Zip          string `json:"cep,omitempty"`
}

// IsZero reports whether no field is filled.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Customer is a row of the shared central registry.
// CPF, when present, is unique in the registry; Phone is not.
type Customer struct {
	ID                   uuid.UUID `json:"id"`
	Code                 *string   `json:"codigo,omitempty"`
	Name                 string    `json:"nome"`
	Phone                string    `json:"telefone"`
	CPF                  *string   `json:"cpf,omitempty"`
	RG                   *string   `json:"rg,omitempty"`
	Email                *string   `json:"email,omitempty"`
	BirthDate            *string   `json:"data_nascimento,omitempty"`
	Address              *Address  `json:"endereco,omitempty"`
	RegistrationComplete bool      `json:"cadastro_completo"`
	Active               bool      `json:"active"`
}

// Registry is the central customer registry as seen by the resolver.
// FindByCPF returns an apperr NotFound error on a miss; Create returns an
// apperr Conflict error when the CPF is already registered.
type Registry interface {
	FindByCPF(ctx context.Context, cpf string) (*Customer, error)
	FindByPhone(ctx context.Context, phone string) ([]Customer, error)
	Create(ctx context.Context, c *Customer) error
}

type Confidence string

const (
	ConfidenceExactCPF     Confidence = "EXACT_CPF"
	ConfidencePhoneAndName Confidence = "PHONE_AND_NAME"
	ConfidencePhoneOnly    Confidence = "PHONE_ONLY"
	ConfidenceNone         Confidence = "NONE"
)

// Mode selects whether a miss provisions a new registry record.
type Mode int

const (
	// Provision creates a minimal, incomplete registry record on a miss.
	Provision Mode = iota
	// ReadOnly never writes; listing screens use it.
	ReadOnly
)

// Query is the loosely-specified person coming from the scheduling system.
type Query struct {
	CPF       string `json:"cpf,omitempty"`
	Phone     string `json:"telefone"`
	Name      string `json:"nome"`
	Email     string `json:"email,omitempty"`
	BirthDate string `json:"data_nascimento,omitempty"`
}

// Match is a resolution result annotated with how strong the signal was.
type Match struct {
	Record      *Customer  `json:"record"`
	Confidence  Confidence `json:"confidence"`
	Provisioned bool       `json:"provisioned"`
	// Candidates is how many active registry rows shared the phone.
	Candidates int `json:"candidates"`
}

// NeedsConfirmation is the "registration incomplete" state: the match is weak
// or the registry row still lacks a complete registration.
func (m Match) NeedsConfirmation() bool {
	if m.Record == nil {
		return true
	}
	switch m.Confidence {
	case ConfidencePhoneOnly, ConfidenceNone:
		return true
	}
	return !m.Record.RegistrationComplete
}
