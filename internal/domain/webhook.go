package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookEventType names a notification from the call provider.
type WebhookEventType string

const (
	EventCallStarted      WebhookEventType = "call.started"
	EventCallEnded        WebhookEventType = "call.ended"
	EventCallTranscript   WebhookEventType = "call.transcript"
	EventAssistantRequest WebhookEventType = "assistant.request"
)

// IsValid reports whether t is an event this service handles.
func (t WebhookEventType) IsValid() bool {
	switch t {
	case EventCallStarted, EventCallEnded, EventCallTranscript, EventAssistantRequest:
		return true
	}
	return false
}

// WebhookMetadata is echoed back by the provider from call creation.
type WebhookMetadata struct {
	TenantID  string
	SessionID string
	PersonaID string
}

// WebhookEvent is the typed envelope of a provider notification. Payload
// holds the raw event body; Sequence and Timestamp are optional.
type WebhookEvent struct {
	Type           WebhookEventType
	ExternalCallID string
	Metadata       WebhookMetadata
	Sequence       *int64
	Timestamp      *time.Time
	Payload        []byte
}

// Validate rejects envelopes that cannot be routed to a session.
func (e *WebhookEvent) Validate() error {
	switch {
	case e == nil:
		return ErrMalformedWebhook
	case !e.Type.IsValid():
		return ErrUnknownWebhookEvent.WithCause(fmt.Errorf("%q", e.Type))
	case strings.TrimSpace(e.ExternalCallID) == "":
		return ErrMalformedWebhook.WithCause(fmt.Errorf("external_call_id is required"))
	case e.Metadata.TenantID == "":
		return ErrMalformedWebhook.WithCause(fmt.Errorf("metadata.tenant_id is required"))
	case e.Metadata.SessionID == "":
		return ErrMalformedWebhook.WithCause(fmt.Errorf("metadata.session_id is required"))
	}
	// Ids are uuids in storage; anything else is the sender's mistake.
	if err := uuid.Validate(e.Metadata.TenantID); err != nil {
		return ErrMalformedWebhook.WithCause(fmt.Errorf("metadata.tenant_id: %w", err))
	}
	if err := uuid.Validate(e.Metadata.SessionID); err != nil {
		return ErrMalformedWebhook.WithCause(fmt.Errorf("metadata.session_id: %w", err))
	}
	return nil
}

// IdempotencyKey identifies the logical delivery. Redeliveries of the same
// event produce the same key. The discriminator is the sequence when
// present, then the timestamp, then a digest of the payload.
func (e *WebhookEvent) IdempotencyKey() string {
	var disc string
	switch {
	case e.Sequence != nil:
		disc = "seq:" + strconv.FormatInt(*e.Sequence, 10)
	case e.Timestamp != nil:
		disc = "ts:" + e.Timestamp.UTC().Format(time.RFC3339Nano)
	default:
		sum := sha256.Sum256(e.Payload)
		disc = "sha:" + hex.EncodeToString(sum[:12])
	}
	return e.ExternalCallID + "|" + string(e.Type) + "|" + disc
}

// OccurredAt returns the event's own timestamp or fallback.
func (e *WebhookEvent) OccurredAt(fallback time.Time) time.Time {
	if e.Timestamp != nil {
		return *e.Timestamp
	}
	return fallback
}

// CallEnded is the typed payload of a call.ended event.
type CallEnded struct {
	DurationSeconds *int
	Transcript      []TranscriptEntry
}

// TranscriptUpdate is the typed payload of a call.transcript event.
type TranscriptUpdate struct {
	Entries []TranscriptEntry
}

// ContextRequest is the typed payload of an assistant.request event.
type ContextRequest struct {
	Query string
}

// WebhookOutcome tells the dispatcher what happened to an event.
type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
)
