package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// SessionState is the lifecycle state of a call session.
type SessionState string

const (
	SessionStatePending   SessionState = "pending"
	SessionStateOngoing   SessionState = "ongoing"
	SessionStateCompleted SessionState = "completed"
	SessionStateAbandoned SessionState = "abandoned"
)

// IsValid reports whether s is a known state.
func (s SessionState) IsValid() bool {
	switch s {
	case SessionStatePending, SessionStateOngoing, SessionStateCompleted, SessionStateAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateAbandoned
}

// CanTransitionTo reports whether next is a forward move from s.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	switch s {
	case SessionStatePending:
		return next == SessionStateOngoing || next == SessionStateCompleted || next == SessionStateAbandoned
	case SessionStateOngoing:
		return next == SessionStateCompleted || next == SessionStateAbandoned
	}
	return false
}

// ParseSessionState converts raw into a SessionState.
func ParseSessionState(raw string) (SessionState, error) {
	s := SessionState(raw)
	if !s.IsValid() {
		return "", ErrInvalidSessionState.WithCause(fmt.Errorf("%q", raw))
	}
	return s, nil
}

// EndReason records why a session reached a terminal state.
type EndReason string

const (
	EndReasonProviderEnded      EndReason = "provider_ended"
	EndReasonUserEnded          EndReason = "user_ended"
	EndReasonClientDisconnected EndReason = "client_disconnected"
	EndReasonWatchdogTimeout    EndReason = "watchdog_timeout"
	EndReasonCallCreationFailed EndReason = "call_creation_failed"
)

// Transcript roles used by the service itself. Provider roles pass through.
const (
	TranscriptRoleQuery   = "context_query"
	TranscriptRoleContext = "context"
)

// TranscriptEntry is one utterance or context exchange. Entries are
// append-only and ordered by Timestamp, not by arrival.
type TranscriptEntry struct {
	Role      string
	Content   string
	Timestamp time.Time
	DedupKey  string
}

// ValidateTranscriptEntry checks the fields every entry needs.
func ValidateTranscriptEntry(e TranscriptEntry) error {
	switch {
	case strings.TrimSpace(e.Role) == "":
		return ErrMalformedWebhook.WithCause(fmt.Errorf("transcript entry role is required"))
	case e.Timestamp.IsZero():
		return ErrMalformedWebhook.WithCause(fmt.Errorf("transcript entry timestamp is required"))
	}
	return nil
}

// SortTranscript orders entries by their own timestamp. Entries with equal
// timestamps keep their relative order.
func SortTranscript(entries []TranscriptEntry) {
	slices.SortStableFunc(entries, func(a, b TranscriptEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// CallSession tracks one live voice interaction. State only moves forward;
// see SessionState.CanTransitionTo.
type CallSession struct {
	ID              string
	TenantID        string
	PersonaID       string
	ExternalCallID  string
	CallURL         string
	State           SessionState
	EndReason       EndReason
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	UpdatedAt       time.Time
	Transcript      []TranscriptEntry
}

// NewCallSession creates a session in the pending state.
func NewCallSession(id, tenantID, personaID string, now time.Time) *CallSession {
	return &CallSession{
		ID:        id,
		TenantID:  tenantID,
		PersonaID: personaID,
		State:     SessionStatePending,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// ValidateCallSession validates a CallSession instance
func ValidateCallSession(s *CallSession) error {
	switch {
	case s == nil:
		return fmt.Errorf("call session cannot be nil")
	case s.ID == "":
		return fmt.Errorf("call session ID is required")
	case s.TenantID == "":
		return ErrTenantViolation.WithCause(fmt.Errorf("call session %s has no tenant", s.ID))
	case s.PersonaID == "":
		return fmt.Errorf("call session PersonaID is required")
	case !s.State.IsValid():
		return ErrInvalidSessionState
	}
	return nil
}

func (s *CallSession) transition(next SessionState, now time.Time) error {
	if !s.State.CanTransitionTo(next) {
		return ErrInvalidTransition.WithCause(fmt.Errorf("%s -> %s", s.State, next))
	}
	s.State = next
	s.UpdatedAt = now
	return nil
}

// Acknowledge records the provider's acceptance of the call and moves a
// pending session to ongoing.
func (s *CallSession) Acknowledge(externalCallID, callURL string, now time.Time) error {
	if s.State != SessionStatePending {
		return ErrInvalidTransition.WithCause(fmt.Errorf("acknowledge in state %s", s.State))
	}
	if externalCallID == "" {
		return ErrCallCreationFailed.WithCause(fmt.Errorf("provider returned no call id"))
	}
	s.ExternalCallID = externalCallID
	s.CallURL = callURL
	return s.transition(SessionStateOngoing, now)
}

// MarkStarted applies a "call started" notification. It returns false
// when the session was already ongoing.
func (s *CallSession) MarkStarted(now time.Time) (bool, error) {
	if s.State == SessionStateOngoing {
		return false, nil
	}
	if err := s.transition(SessionStateOngoing, now); err != nil {
		return false, err
	}
	return true, nil
}

// Complete ends the session normally. When durationSeconds is nil the
// duration is derived from StartedAt.
func (s *CallSession) Complete(now time.Time, durationSeconds *int, reason EndReason) error {
	if durationSeconds != nil && *durationSeconds < 0 {
		return ErrInvalidDurationSeconds
	}
	if err := s.transition(SessionStateCompleted, now); err != nil {
		return err
	}
	s.finish(now, durationSeconds, reason)
	return nil
}

// Abandon ends the session without completion.
func (s *CallSession) Abandon(now time.Time, reason EndReason) error {
	if err := s.transition(SessionStateAbandoned, now); err != nil {
		return err
	}
	s.finish(now, nil, reason)
	return nil
}

func (s *CallSession) finish(now time.Time, durationSeconds *int, reason EndReason) {
	ended := now
	s.EndedAt = &ended
	s.EndReason = reason

	d := durationSeconds
	if d == nil {
		secs := int(math.Max(0, now.Sub(s.StartedAt).Seconds()))
		d = &secs
	}
	s.DurationSeconds = d
}

// IsExpired reports whether a non-terminal session has outlived maxAge.
func (s *CallSession) IsExpired(now time.Time, maxAge time.Duration) bool {
	return !s.State.IsTerminal() && now.Sub(s.StartedAt) > maxAge
}
