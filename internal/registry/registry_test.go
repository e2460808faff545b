package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samoo1234/clinica-sub000/internal/identity"
)

func TestFromCustomerNormalizesKeys(t *testing.T) {
	cpf := "123.456.789-01"
	row := fromCustomer(identity.Customer{
		Name:    "  Maria Silva ",
		Phone:   "+55 (11) 99999-9999",
		CPF:     &cpf,
		Address: &identity.Address{City: "São Paulo", State: "SP"},
		Active:  true,
	})
	require.NotNil(t, row.CPF)
	assert.Equal(t, "12345678901", *row.CPF)
	assert.Equal(t, "11999999999", row.Telefone)
	assert.Equal(t, "Maria Silva", row.Nome)
	require.NotNil(t, row.Endereco)
	assert.Equal(t, "São Paulo", row.Endereco.Data().City)
}

func TestFromCustomerDropsEmptyCPFAndAddress(t *testing.T) {
	empty := " - "
	row := fromCustomer(identity.Customer{Name: "Ana", Phone: "11988887777", CPF: &empty, Address: &identity.Address{}})
	assert.Nil(t, row.CPF)
	assert.Nil(t, row.Endereco)
}

func TestToCustomerTrimsBirthDate(t *testing.T) {
	bd := "1980-05-04T00:00:00Z"
	c := toCustomer(Cliente{ID: uuid.New(), Nome: "João", Telefone: "11911112222", DataNascimento: &bd, CadastroCompleto: true, Active: true})
	require.NotNil(t, c.BirthDate)
	assert.Equal(t, "1980-05-04", *c.BirthDate)
	assert.True(t, c.RegistrationComplete)
	assert.Nil(t, c.Address)
}

func TestFromCustomerNormalizesBirthDate(t *testing.T) {
	br, bad := "04/05/1980", "maio de 80"
	row := fromCustomer(identity.Customer{Name: "João", Phone: "11911112222", BirthDate: &br})
	require.NotNil(t, row.DataNascimento)
	assert.Equal(t, "1980-05-04", *row.DataNascimento)

	row = fromCustomer(identity.Customer{Name: "João", Phone: "11911112222", BirthDate: &bad})
	assert.Nil(t, row.DataNascimento)
}
