package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/api"
	"github.com/cloo-solutions/salesdojo/internal/api/middleware"
	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/pagination"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/go-chi/chi/v5"
)

type SessionService interface {
	Start(ctx context.Context, in service.StartInput) (*domain.CallSession, error)
	End(ctx context.Context, in service.EndInput) (*domain.CallSession, error)
	Abandon(ctx context.Context, tenantID, sessionID string, reason domain.EndReason) (*domain.CallSession, error)
	Get(ctx context.Context, tenantID, sessionID string) (*domain.CallSession, error)
	List(ctx context.Context, tenantID, cursor string, limit int) (pagination.Page[*domain.CallSession], error)
}

type SessionHandler struct {
	svc SessionService
}

func NewSessionHandler(svc SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// TranscriptEntryDTO is a transcript line on the wire. TS may be omitted by
// providers that do not timestamp lines.
type TranscriptEntryDTO struct {
	Role    string     `json:"role"`
	Content string     `json:"content"`
	TS      *time.Time `json:"ts,omitempty"`
}

func (e TranscriptEntryDTO) toDomain() domain.TranscriptEntry {
	out := domain.TranscriptEntry{Role: e.Role, Content: e.Content}
	if e.TS != nil {
		out.Timestamp = *e.TS
	}
	return out
}

func transcriptFromDTO(in []TranscriptEntryDTO) []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(in))
	for i, e := range in {
		out[i] = e.toDomain()
	}
	return out
}

type SessionResponse struct {
	SessionID       string               `json:"session_id"`
	PersonaID       string               `json:"persona_id"`
	ExternalCallID  string               `json:"external_call_id,omitempty"`
	CallURL         string               `json:"call_url,omitempty"`
	State           string               `json:"state"`
	EndReason       string               `json:"end_reason,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
	DurationSeconds *int                 `json:"duration_seconds,omitempty"`
	Transcript      []TranscriptEntryDTO `json:"transcript,omitempty"`
}

func sessionToResponse(s *domain.CallSession) *SessionResponse {
	resp := &SessionResponse{
		SessionID:       s.ID,
		PersonaID:       s.PersonaID,
		ExternalCallID:  s.ExternalCallID,
		CallURL:         s.CallURL,
		State:           string(s.State),
		EndReason:       string(s.EndReason),
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.DurationSeconds,
	}
	for _, e := range s.Transcript {
		ts := e.Timestamp
		resp.Transcript = append(resp.Transcript, TranscriptEntryDTO{Role: e.Role, Content: e.Content, TS: &ts})
	}
	return resp
}

type StartSessionRequest struct {
	PersonaID string `json:"persona_id"`
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// the body is optional
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.svc.Start(r.Context(), service.StartInput{TenantID: companyID, PersonaID: req.PersonaID})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, sessionToResponse(session))
}

type SessionListResponse struct {
	Items   []*SessionResponse `json:"items"`
	Cursor  string             `json:"cursor,omitempty"`
	HasMore bool               `json:"has_more"`
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	page, err := h.svc.List(r.Context(), companyID, cursor, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*SessionResponse, len(page.Items))
	for i, s := range page.Items {
		items[i] = sessionToResponse(s)
	}
	api.Success(w, http.StatusOK, SessionListResponse{
		Items:   items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	session, err := h.svc.Get(r.Context(), companyID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	resp := sessionToResponse(session)
	if resp.Transcript == nil {
		resp.Transcript = []TranscriptEntryDTO{}
	}
	api.Success(w, http.StatusOK, resp)
}

type EndSessionRequest struct {
	DurationSeconds *int                 `json:"duration_seconds"`
	Transcript      []TranscriptEntryDTO `json:"transcript"`
}

type SessionAck struct {
	SessionID       string `json:"session_id"`
	State           string `json:"state"`
	EndReason       string `json:"end_reason"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
}

func ackOf(s *domain.CallSession) SessionAck {
	return SessionAck{
		SessionID:       s.ID,
		State:           string(s.State),
		EndReason:       string(s.EndReason),
		DurationSeconds: s.DurationSeconds,
	}
}

// End completes a session. Entries without ts are stamped with the time
// the request arrived.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
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

	var req EndSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	received := time.Now().UTC()
	transcript := transcriptFromDTO(req.Transcript)
	for i := range transcript {
		if transcript[i].Timestamp.IsZero() {
			transcript[i].Timestamp = received
		}
	}

	session, err := h.svc.End(r.Context(), service.EndInput{
		TenantID:        companyID,
		SessionID:       id,
		DurationSeconds: req.DurationSeconds,
		Transcript:      transcript,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, ackOf(session))
}

func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
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

	session, err := h.svc.Abandon(r.Context(), companyID, id, domain.EndReasonClientDisconnected)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, ackOf(session))
}
