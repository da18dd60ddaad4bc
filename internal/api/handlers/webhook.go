package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/api"
	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/logging"
	"github.com/cloo-solutions/salesdojo/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// WebhookService applies provider events to the session state machine.
type WebhookService interface {
	HandleCallStarted(ctx context.Context, ev *domain.WebhookEvent) (domain.WebhookOutcome, error)
	HandleCallEnded(ctx context.Context, ev *domain.WebhookEvent, payload domain.CallEnded) (domain.WebhookOutcome, error)
	HandleTranscript(ctx context.Context, ev *domain.WebhookEvent, payload domain.TranscriptUpdate) (domain.WebhookOutcome, error)
	HandleContextRequest(ctx context.Context, ev *domain.WebhookEvent, payload domain.ContextRequest) (string, domain.WebhookOutcome, error)
}

// WebhookHandler translates wire events into typed state machine calls.
// It owns no transition logic.
type WebhookHandler struct {
	svc    WebhookService
	logger logrus.FieldLogger
}

func NewWebhookHandler(svc WebhookService, logger logrus.FieldLogger) *WebhookHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebhookHandler{svc: svc, logger: logger}
}

type webhookMetadata struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	PersonaID string `json:"persona_id"`
}

type webhookEnvelope struct {
	Event          string          `json:"event"`
	ExternalCallID string          `json:"external_call_id"`
	Sequence       *int64          `json:"sequence"`
	Timestamp      *time.Time      `json:"timestamp"`
	Metadata       webhookMetadata `json:"metadata"`
	Payload        json.RawMessage `json:"payload"`
}

type callEndedPayload struct {
	DurationSeconds *int                 `json:"duration_seconds"`
	Transcript      []TranscriptEntryDTO `json:"transcript"`
}

// transcriptPayload carries either a batch of entries or a single line.
type transcriptPayload struct {
	Entries []TranscriptEntryDTO `json:"entries"`
	TranscriptEntryDTO
}

type contextRequestPayload struct {
	Query string `json:"query"`
}

type WebhookStatusResponse struct {
	Status string `json:"status"`
}

type ContextResponse struct {
	Context string `json:"context"`
}

func decodeEvent(body []byte) (*domain.WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.ErrMalformedWebhook.WithCause(err)
	}
	ev := &domain.WebhookEvent{
		Type:           domain.WebhookEventType(env.Event),
		ExternalCallID: env.ExternalCallID,
		Metadata: domain.WebhookMetadata{
			TenantID:  env.Metadata.TenantID,
			SessionID: env.Metadata.SessionID,
			PersonaID: env.Metadata.PersonaID,
		},
		Sequence:  env.Sequence,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePayload(ev *domain.WebhookEvent, into any) error {
	if len(ev.Payload) == 0 || string(ev.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(ev.Payload, into); err != nil {
		return domain.ErrMalformedWebhook.WithCause(fmt.Errorf("%s payload: %w", ev.Type, err))
	}
	return nil
}

// Handle dispatches one provider event. assistant.request answers with the
// retrieved context; every other event answers with ok or duplicate.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	ev, err := decodeEvent(body)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	log := logging.FromContext(r.Context(), h.logger).WithFields(logrus.Fields{
		"event":            ev.Type,
		"external_call_id": ev.ExternalCallID,
		"tenant_id":        ev.Metadata.TenantID,
		"session_id":       ev.Metadata.SessionID,
	})

	if ev.Type == domain.EventAssistantRequest {
		h.contextRequest(w, r, ev, log)
		return
	}

	var outcome domain.WebhookOutcome
	switch ev.Type {
	case domain.EventCallStarted:
		outcome, err = h.svc.HandleCallStarted(r.Context(), ev)
	case domain.EventCallEnded:
		var p callEndedPayload
		if err = decodePayload(ev, &p); err == nil {
			outcome, err = h.svc.HandleCallEnded(r.Context(), ev, domain.CallEnded{
				DurationSeconds: p.DurationSeconds,
				Transcript:      transcriptFromDTO(p.Transcript),
			})
		}
	case domain.EventCallTranscript:
		var p transcriptPayload
		if err = decodePayload(ev, &p); err == nil {
			entries := p.Entries
			if len(entries) == 0 && p.Role != "" {
				entries = []TranscriptEntryDTO{p.TranscriptEntryDTO}
			}
			outcome, err = h.svc.HandleTranscript(r.Context(), ev, domain.TranscriptUpdate{
				Entries: transcriptFromDTO(entries),
			})
		}
	}
	if err != nil {
		h.reject(w, r, err, log)
		return
	}

	status := "ok"
	if outcome == domain.WebhookDuplicate {
		status = "duplicate"
	}
	api.JSON(w, http.StatusOK, WebhookStatusResponse{Status: status})
}

// contextRequest never fails the live call for a server-side problem:
// those answer with empty context. Routing errors still map to statuses.
func (h *WebhookHandler) contextRequest(w http.ResponseWriter, r *http.Request, ev *domain.WebhookEvent, log logrus.FieldLogger) {
	var p contextRequestPayload
	if err := decodePayload(ev, &p); err != nil {
		api.HandleError(w, err)
		return
	}

	text, _, err := h.svc.HandleContextRequest(r.Context(), ev, domain.ContextRequest{Query: p.Query})
	if err != nil {
		if api.DomainErrorToHTTP(err) < http.StatusInternalServerError {
			h.reject(w, r, err, log)
			return
		}
		log.WithError(err).Error("context request failed, answering with empty context")
		telemetry.CaptureError(r.Context(), err)
		text = ""
	}
	api.JSON(w, http.StatusOK, ContextResponse{Context: text})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, r *http.Request, err error, log logrus.FieldLogger) {
	if status := api.DomainErrorToHTTP(err); status >= http.StatusInternalServerError {
		log.WithError(err).Error("webhook processing failed")
		telemetry.CaptureError(r.Context(), err)
	} else {
		log.WithError(err).Warn("webhook rejected")
	}
	api.HandleError(w, err)
}
