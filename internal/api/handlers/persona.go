package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/api"
	"github.com/cloo-solutions/salesdojo/internal/api/middleware"
	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/go-chi/chi/v5"
)

type PersonaService interface {
	Create(ctx context.Context, in service.CreatePersonaInput) (*domain.Persona, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Persona, error)
	List(ctx context.Context, tenantID string) ([]*domain.Persona, error)
	Random(ctx context.Context, tenantID string) (*domain.Persona, error)
}

type PersonaHandler struct {
	svc PersonaService
}

func NewPersonaHandler(svc PersonaService) *PersonaHandler {
	return &PersonaHandler{svc: svc}
}

type CreatePersonaRequest struct {
	Name              string         `json:"name"`
	Role              string         `json:"role"`
	PersonalityTraits map[string]any `json:"personality_traits"`
	PainPoints        []string       `json:"pain_points"`
	Objections        []string       `json:"objections"`
	Background        string         `json:"background"`
}

type PersonaResponse struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Role              string         `json:"role"`
	PersonalityTraits map[string]any `json:"personality_traits"`
	PainPoints        []string       `json:"pain_points"`
	Objections        []string       `json:"objections"`
	Background        string         `json:"background"`
	CreatedAt         time.Time      `json:"created_at"`
}

func personaToResponse(p *domain.Persona) *PersonaResponse {
	resp := &PersonaResponse{
		ID:                p.ID,
		Name:              p.Name,
		Role:              string(p.Role),
		PersonalityTraits: p.PersonalityTraits,
		PainPoints:        p.PainPoints,
		Objections:        p.Objections,
		Background:        p.Background,
		CreatedAt:         p.CreatedAt,
	}
	if resp.PainPoints == nil {
		resp.PainPoints = []string{}
	}
	if resp.Objections == nil {
		resp.Objections = []string{}
	}
	return resp
}

func (h *PersonaHandler) Create(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreatePersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	role := domain.PersonaRole(req.Role)
	if !role.IsValid() {
		api.Error(w, http.StatusBadRequest, "invalid persona role")
		return
	}

	p, err := h.svc.Create(r.Context(), service.CreatePersonaInput{
		TenantID:          companyID,
		Name:              req.Name,
		Role:              role,
		PersonalityTraits: req.PersonalityTraits,
		PainPoints:        req.PainPoints,
		Objections:        req.Objections,
		Background:        req.Background,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, personaToResponse(p))
}

func (h *PersonaHandler) List(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	personas, err := h.svc.List(r.Context(), companyID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	out := make([]*PersonaResponse, len(personas))
	for i, p := range personas {
		out[i] = personaToResponse(p)
	}
	api.Success(w, http.StatusOK, out)
}

func (h *PersonaHandler) Get(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	p, err := h.svc.Get(r.Context(), companyID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, personaToResponse(p))
}

func (h *PersonaHandler) Random(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	p, err := h.svc.Random(r.Context(), companyID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, personaToResponse(p))
}
