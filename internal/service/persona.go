package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
)

// PersonaService manages the simulated customers of a company.
type PersonaService struct {
	repo    PersonaRepository
	uuidGen UUIDGenerator
}

func NewPersonaService(repo PersonaRepository, uuidGen UUIDGenerator) *PersonaService {
	if uuidGen == nil {
		uuidGen = &DefaultUUIDGenerator{}
	}
	return &PersonaService{repo: repo, uuidGen: uuidGen}
}

// CreatePersonaInput describes a new persona.
type CreatePersonaInput struct {
	TenantID          string
	Name              string
	Role              domain.PersonaRole
	PersonalityTraits map[string]any
	PainPoints        []string
	Objections        []string
	Background        string
}

func (s *PersonaService) Create(ctx context.Context, in CreatePersonaInput) (*domain.Persona, error) {
	if in.TenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	p := &domain.Persona{
		ID:                s.uuidGen.NewString(),
		TenantID:          in.TenantID,
		Name:              strings.TrimSpace(in.Name),
		Role:              in.Role,
		PersonalityTraits: in.PersonalityTraits,
		PainPoints:        in.PainPoints,
		Objections:        in.Objections,
		Background:        in.Background,
		CreatedAt:         time.Now().UTC(),
	}
	if p.PersonalityTraits == nil {
		p.PersonalityTraits = map[string]any{}
	}
	if err := domain.ValidatePersona(p); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid persona", err)
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PersonaService) List(ctx context.Context, tenantID string) ([]*domain.Persona, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	return s.repo.List(ctx, tenantID)
}

func (s *PersonaService) Get(ctx context.Context, tenantID, id string) (*domain.Persona, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	return s.repo.Get(ctx, tenantID, id)
}

// Random picks one of the tenant's personas.
func (s *PersonaService) Random(ctx context.Context, tenantID string) (*domain.Persona, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	return s.repo.Random(ctx, tenantID)
}
