package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/pagination"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Start(ctx context.Context, in service.StartInput) (*domain.CallSession, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionService) End(ctx context.Context, in service.EndInput) (*domain.CallSession, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionService) Abandon(ctx context.Context, tenantID, sessionID string, reason domain.EndReason) (*domain.CallSession, error) {
	args := m.Called(ctx, tenantID, sessionID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionService) Get(ctx context.Context, tenantID, sessionID string) (*domain.CallSession, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionService) List(ctx context.Context, tenantID, cursor string, limit int) (pagination.Page[*domain.CallSession], error) {
	args := m.Called(ctx, tenantID, cursor, limit)
	return args.Get(0).(pagination.Page[*domain.CallSession]), args.Error(1)
}

func newTestSession(state domain.SessionState) *domain.CallSession {
	cs := domain.NewCallSession("session-1", testCompanyID, "persona-1", time.Date(2026, 1, 11, 9, 0, 0, 0, time.UTC))
	cs.State = state
	cs.ExternalCallID = "call-1"
	cs.CallURL = "https://vapi.example/web/call-1"
	return cs
}

func TestSessionHandler_Start(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)
	svc.On("Start", mock.Anything, service.StartInput{TenantID: testCompanyID, PersonaID: "persona-1"}).
		Return(newTestSession(domain.SessionStateOngoing), nil)

	w := httptest.NewRecorder()
	handler.Start(w, requestWithCompanyID(http.MethodPost, "/sessions", []byte(`{"persona_id":"persona-1"}`)))

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp SessionResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Equal(t, "persona-1", resp.PersonaID)
	assert.Equal(t, "call-1", resp.ExternalCallID)
	assert.Equal(t, "ongoing", resp.State)
	assert.NotEmpty(t, resp.CallURL)
}

func TestSessionHandler_Start_EmptyBodyPicksRandomPersona(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)
	svc.On("Start", mock.Anything, service.StartInput{TenantID: testCompanyID}).
		Return(nil, domain.ErrNoPersonas)

	w := httptest.NewRecorder()
	handler.Start(w, requestWithCompanyID(http.MethodPost, "/sessions", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertExpectations(t)
}

func TestSessionHandler_Start_ProviderFailure(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)
	svc.On("Start", mock.Anything, mock.Anything).Return(nil, domain.ErrCallCreationFailed)

	w := httptest.NewRecorder()
	handler.Start(w, requestWithCompanyID(http.MethodPost, "/sessions", []byte(`{}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionHandler_List(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)
	svc.On("List", mock.Anything, testCompanyID, "abc", 5).Return(pagination.Page[*domain.CallSession]{
		Items:      []*domain.CallSession{newTestSession(domain.SessionStateCompleted)},
		NextCursor: "next",
		HasMore:    true,
	}, nil)

	w := httptest.NewRecorder()
	handler.List(w, requestWithCompanyID(http.MethodGet, "/sessions?cursor=abc&limit=5", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp SessionListResponse
	decodeData(t, w, &resp)
	assert.Len(t, resp.Items, 1)
	assert.Equal(t, "next", resp.Cursor)
	assert.True(t, resp.HasMore)
}

func TestSessionHandler_List_BadLimit(t *testing.T) {
	handler := NewSessionHandler(new(MockSessionService))

	w := httptest.NewRecorder()
	handler.List(w, requestWithCompanyID(http.MethodGet, "/sessions?limit=-1", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_Get(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)
	cs := newTestSession(domain.SessionStateOngoing)
	cs.Transcript = []domain.TranscriptEntry{
		{Role: "user", Content: "Oi", Timestamp: cs.StartedAt.Add(time.Second)},
	}
	svc.On("Get", mock.Anything, testCompanyID, "session-1").Return(cs, nil)

	req := withURLParam(requestWithCompanyID(http.MethodGet, "/sessions/session-1", nil), "id", "session-1")
	w := httptest.NewRecorder()
	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	decodeData(t, w, &resp)
	require.Len(t, resp.Transcript, 1)
	assert.Equal(t, "Oi", resp.Transcript[0].Content)
}

func TestSessionHandler_Get_NotFound(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)
	svc.On("Get", mock.Anything, testCompanyID, "nope").Return(nil, domain.ErrSessionNotFound)

	req := withURLParam(requestWithCompanyID(http.MethodGet, "/", nil), "id", "nope")
	w := httptest.NewRecorder()
	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_End(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)

	done := newTestSession(domain.SessionStateCompleted)
	done.EndReason = domain.EndReasonUserEnded
	secs := 95
	done.DurationSeconds = &secs

	svc.On("End", mock.Anything, mock.MatchedBy(func(in service.EndInput) bool {
		return in.TenantID == testCompanyID &&
			in.SessionID == "session-1" &&
			in.DurationSeconds != nil && *in.DurationSeconds == 95 &&
			len(in.Transcript) == 2 &&
			in.Transcript[0].Timestamp.Equal(time.Date(2026, 1, 11, 9, 0, 5, 0, time.UTC)) &&
			!in.Transcript[1].Timestamp.IsZero()
	})).Return(done, nil)

	body := `{"duration_seconds":95,"transcript":[
		{"role":"user","content":"Bom dia","ts":"2026-01-11T09:00:05Z"},
		{"role":"assistant","content":"Quem fala?"}]}`
	req := withURLParam(requestWithCompanyID(http.MethodPost, "/sessions/session-1/end", []byte(body)), "id", "session-1")
	w := httptest.NewRecorder()
	handler.End(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var ack SessionAck
	decodeData(t, w, &ack)
	assert.Equal(t, "completed", ack.State)
	assert.Equal(t, "user_ended", ack.EndReason)
	svc.AssertExpectations(t)
}

func TestSessionHandler_End_AlreadyTerminal(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)
	svc.On("End", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidTransition)

	req := withURLParam(requestWithCompanyID(http.MethodPost, "/", []byte(`{}`)), "id", "session-1")
	w := httptest.NewRecorder()
	handler.End(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionHandler_End_InvalidBody(t *testing.T) {
	handler := NewSessionHandler(new(MockSessionService))

	req := withURLParam(requestWithCompanyID(http.MethodPost, "/", []byte(`{"duration_seconds":"long"}`)), "id", "session-1")
	w := httptest.NewRecorder()
	handler.End(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_Abandon(t *testing.T) {
	svc := new(MockSessionService)
	handler := NewSessionHandler(svc)
	abandoned := newTestSession(domain.SessionStateAbandoned)
	abandoned.EndReason = domain.EndReasonClientDisconnected
	svc.On("Abandon", mock.Anything, testCompanyID, "session-1", domain.EndReasonClientDisconnected).Return(abandoned, nil)

	req := withURLParam(requestWithCompanyID(http.MethodPost, "/", nil), "id", "session-1")
	w := httptest.NewRecorder()
	handler.Abandon(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var ack SessionAck
	decodeData(t, w, &ack)
	assert.Equal(t, "abandoned", ack.State)
	assert.Equal(t, "client_disconnected", ack.EndReason)
}
