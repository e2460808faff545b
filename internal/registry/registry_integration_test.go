//go:build integration

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
)

func openRegistryForTest(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REGISTRY_DATABASE_URL")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("REGISTRY_DATABASE_URL/DATABASE_URL not set")
		return nil
	}
	c, err := Open(url, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// uniqueDigits gera 11 dígitos a partir do relógio para não colidir entre execuções.
func uniqueDigits() string {
	return fmt.Sprintf("%011d", time.Now().UnixNano()%100000000000)
}

func TestIntegration_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	c := openRegistryForTest(t)
	cpf := uniqueDigits()
	phone := "119" + cpf[:8]

	cust := &identity.Customer{Name: "Maria Silva", Phone: phone, CPF: &cpf, Active: true}
	require.NoError(t, c.Create(ctx, cust))
	assert.False(t, cust.RegistrationComplete)

	byCPF, err := c.FindByCPF(ctx, cpf)
	require.NoError(t, err)
	assert.Equal(t, cust.ID, byCPF.ID)

	byPhone, err := c.FindByPhone(ctx, phone)
	require.NoError(t, err)
	require.Len(t, byPhone, 1)

	dup := &identity.Customer{Name: "Outra Maria", Phone: phone, CPF: &cpf, Active: true}
	err = c.Create(ctx, dup)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	email := "maria@example.com"
	done, err := c.CompleteRegistration(ctx, cust.ID, identity.Customer{Email: &email})
	require.NoError(t, err)
	assert.True(t, done.RegistrationComplete)
	require.NotNil(t, done.Email)
	assert.Equal(t, email, *done.Email)
}

func TestIntegration_FindByCPFMiss(t *testing.T) {
	c := openRegistryForTest(t)
	_, err := c.FindByCPF(context.Background(), "00000000000")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
