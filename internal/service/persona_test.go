package service

import (
	"context"
	"testing"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonaService_Create(t *testing.T) {
	s := newMemStore()
	svc := NewPersonaService(memPersonas{s}, NewMockUUIDGenerator("p-1"))

	p, err := svc.Create(context.Background(), CreatePersonaInput{
		TenantID:   "t1",
		Name:       " Carla ",
		Role:       domain.PersonaRoleGatekeeper,
		PainPoints: []string{"orçamento apertado"},
	})

	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, "Carla", p.Name)
	assert.NotNil(t, p.PersonalityTraits)

	list, err := svc.List(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPersonaService_CreateRejectsBadRole(t *testing.T) {
	svc := NewPersonaService(memPersonas{newMemStore()}, NewMockUUIDGenerator("p-1"))

	_, err := svc.Create(context.Background(), CreatePersonaInput{TenantID: "t1", Name: "X", Role: "ceo"})

	assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
}

func TestPersonaService_GetAndRandomAreTenantScoped(t *testing.T) {
	s := newMemStore()
	svc := NewPersonaService(memPersonas{s}, NewMockUUIDGenerator("p-1"))
	ctx := context.Background()

	_, err := svc.Random(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNoPersonas)

	_, err = svc.Create(ctx, CreatePersonaInput{TenantID: "t1", Name: "Rui", Role: domain.PersonaRoleUser})
	require.NoError(t, err)

	p, err := svc.Random(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)

	_, err = svc.Get(ctx, "t2", "p-1")
	assert.ErrorIs(t, err, domain.ErrPersonaNotFound)

	_, err = svc.Get(ctx, "", "p-1")
	assert.ErrorIs(t, err, domain.ErrTenantViolation)
}
