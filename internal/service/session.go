package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/metrics"
	"github.com/cloo-solutions/salesdojo/internal/pagination"
	"github.com/cloo-solutions/salesdojo/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// SessionRepository persists call sessions and their transcripts.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.CallSession) error
	Get(ctx context.Context, tenantID, id string) (*domain.CallSession, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, tenantID, id string) (*domain.CallSession, error)
	Save(ctx context.Context, s *domain.CallSession) error
	// AppendTranscript skips entries whose DedupKey is already stored and
	// returns how many were written.
	AppendTranscript(ctx context.Context, tenantID, sessionID string, entries []domain.TranscriptEntry) (int, error)
	Transcript(ctx context.Context, tenantID, sessionID string) ([]domain.TranscriptEntry, error)
	// List returns up to limit+1 sessions, newest first, after cursor.
	List(ctx context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]*domain.CallSession, error)
	// ListExpired returns open sessions of any tenant started before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CallSession, error)
}

// WebhookRecord is the stored outcome of one logical webhook delivery.
type WebhookRecord struct {
	TenantID       string
	IdempotencyKey string
	SessionID      string
	Event          domain.WebhookEventType
	Context        string
	ReceivedAt     time.Time
}

// WebhookEventRepository remembers processed deliveries.
type WebhookEventRepository interface {
	// Record stores rec and reports false when its key was already stored.
	Record(ctx context.Context, rec *WebhookRecord) (bool, error)
	Get(ctx context.Context, tenantID, key string) (*WebhookRecord, error)
}

// PersonaRepository reads and writes personas.
type PersonaRepository interface {
	Create(ctx context.Context, p *domain.Persona) error
	Get(ctx context.Context, tenantID, id string) (*domain.Persona, error)
	List(ctx context.Context, tenantID string) ([]*domain.Persona, error)
	// Random returns ErrNoPersonas when the tenant has none.
	Random(ctx context.Context, tenantID string) (*domain.Persona, error)
}

// CallProvider creates and ends calls at the external voice platform.
type CallProvider interface {
	CreateCall(ctx context.Context, session *domain.CallSession, persona *domain.Persona) (externalCallID, callURL string, err error)
	EndCall(ctx context.Context, externalCallID string) error
}

// ContextRetriever renders the knowledge relevant to a query.
type ContextRetriever interface {
	Context(ctx context.Context, q domain.RetrievalQuery) (string, error)
}

// SessionConfig holds the session timing knobs.
type SessionConfig struct {
	RetrievalTimeout         time.Duration
	CallTimeout              time.Duration
	MaxDuration              time.Duration
	TranscriptContextLogging bool
}

// SessionService drives the call session state machine. Every transition
// runs under a row lock together with its webhook dedup record.
type SessionService struct {
	sessions  SessionRepository
	personas  PersonaRepository
	webhooks  WebhookEventRepository
	tx        TxRunner
	provider  CallProvider
	retriever ContextRetriever
	cfg       SessionConfig
	uuidGen   UUIDGenerator
	now       Clock
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
}

// SessionDeps are the collaborators of a SessionService.
type SessionDeps struct {
	Sessions  SessionRepository
	Personas  PersonaRepository
	Webhooks  WebhookEventRepository
	Tx        TxRunner
	Provider  CallProvider
	Retriever ContextRetriever
	UUIDGen   UUIDGenerator
	Clock     Clock
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
}

func NewSessionService(deps SessionDeps, cfg SessionConfig) *SessionService {
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = 300 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 15 * time.Minute
	}
	s := &SessionService{
		sessions:  deps.Sessions,
		personas:  deps.Personas,
		webhooks:  deps.Webhooks,
		tx:        deps.Tx,
		provider:  deps.Provider,
		retriever: deps.Retriever,
		cfg:       cfg,
		uuidGen:   deps.UUIDGen,
		now:       deps.Clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	if s.uuidGen == nil {
		s.uuidGen = &DefaultUUIDGenerator{}
	}
	if s.now == nil {
		s.now = utcNow
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	return s
}

// StartInput starts a session. An empty PersonaID picks one at random.
type StartInput struct {
	TenantID  string
	PersonaID string
}

// Start creates a pending session, asks the provider for a call and moves
// the session to ongoing. When the call cannot be created the session is
// abandoned and the error returned, so no pending session is left behind.
func (s *SessionService) Start(ctx context.Context, in StartInput) (*domain.CallSession, error) {
	if in.TenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	if s.provider == nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "call provider is not configured")
	}
	ctx, span := telemetry.StartSpan(ctx, "SessionService.Start", telemetry.SpanAttributes{
		TenantID: in.TenantID,
	})
	defer span.End()

	var (
		persona *domain.Persona
		err     error
	)
	if in.PersonaID == "" {
		persona, err = s.personas.Random(ctx, in.TenantID)
	} else {
		persona, err = s.personas.Get(ctx, in.TenantID, in.PersonaID)
	}
	if err != nil {
		return nil, err
	}

	session := domain.NewCallSession(s.uuidGen.NewString(), in.TenantID, persona.ID, s.now())
	if err := domain.ValidateCallSession(session); err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	s.metrics.SessionTransition(string(domain.SessionStatePending))

	log := s.logger.WithFields(logrus.Fields{
		"tenant_id":  in.TenantID,
		"session_id": session.ID,
		"persona_id": persona.ID,
	})

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	externalID, callURL, callErr := s.provider.CreateCall(callCtx, session, persona)
	cancel()

	if callErr == nil && externalID == "" {
		callErr = errors.New("provider returned no call id")
	}
	if callErr != nil {
		span.SetError(callErr)
		log.WithError(callErr).Error("call creation failed, abandoning session")
		if _, err := s.transition(ctx, in.TenantID, session.ID, func(cs *domain.CallSession) error {
			return cs.Abandon(s.now(), domain.EndReasonCallCreationFailed)
		}); err != nil {
			log.WithError(err).Error("failed to abandon session after call creation failure")
		}
		return nil, domain.ErrCallCreationFailed.WithCause(callErr)
	}

	updated, err := s.transition(ctx, in.TenantID, session.ID, func(cs *domain.CallSession) error {
		switch cs.State {
		case domain.SessionStatePending:
			return cs.Acknowledge(externalID, callURL, s.now())
		case domain.SessionStateOngoing:
			// call.started arrived before the acknowledgement was stored
			cs.ExternalCallID = externalID
			cs.CallURL = callURL
			cs.UpdatedAt = s.now()
			return nil
		}
		return domain.ErrInvalidTransition.WithCause(fmt.Errorf("acknowledge in state %s", cs.State))
	})
	if err != nil {
		s.endProviderCall(ctx, externalID, log)
		return nil, err
	}

	log.WithField("external_call_id", externalID).Info("session started")
	return updated, nil
}

// EndInput ends a session at the client's request.
type EndInput struct {
	TenantID        string
	SessionID       string
	DurationSeconds *int
	Transcript      []domain.TranscriptEntry
}

// End appends the final transcript, completes the session and asks the
// provider to hang up.
func (s *SessionService) End(ctx context.Context, in EndInput) (*domain.CallSession, error) {
	if in.TenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	for _, e := range in.Transcript {
		if err := domain.ValidateTranscriptEntry(e); err != nil {
			return nil, err
		}
	}

	entries := make([]domain.TranscriptEntry, len(in.Transcript))
	for i, e := range in.Transcript {
		e.DedupKey = "end|" + strconv.Itoa(i)
		entries[i] = e
	}

	updated, err := s.transitionWith(ctx, in.TenantID, in.SessionID, entries, func(cs *domain.CallSession) error {
		return cs.Complete(s.now(), in.DurationSeconds, domain.EndReasonUserEnded)
	})
	if err != nil {
		return nil, err
	}

	s.endProviderCall(ctx, updated.ExternalCallID, s.logger.WithField("session_id", updated.ID))
	return updated, nil
}

// Abandon ends a session without completion.
func (s *SessionService) Abandon(ctx context.Context, tenantID, sessionID string, reason domain.EndReason) (*domain.CallSession, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	updated, err := s.transition(ctx, tenantID, sessionID, func(cs *domain.CallSession) error {
		return cs.Abandon(s.now(), reason)
	})
	if err != nil {
		return nil, err
	}
	s.endProviderCall(ctx, updated.ExternalCallID, s.logger.WithField("session_id", updated.ID))
	return updated, nil
}

// Get returns the session with its transcript in timestamp order.
func (s *SessionService) Get(ctx context.Context, tenantID, sessionID string) (*domain.CallSession, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	session, err := s.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	transcript, err := s.sessions.Transcript(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	domain.SortTranscript(transcript)
	session.Transcript = transcript
	return session, nil
}

// List pages through the tenant's sessions, newest first.
func (s *SessionService) List(ctx context.Context, tenantID, cursor string, limit int) (pagination.Page[*domain.CallSession], error) {
	if tenantID == "" {
		return pagination.Page[*domain.CallSession]{}, domain.ErrTenantViolation
	}
	c, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return pagination.Page[*domain.CallSession]{}, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	limit = pagination.ClampLimit(limit)

	rows, err := s.sessions.List(ctx, tenantID, c, limit)
	if err != nil {
		return pagination.Page[*domain.CallSession]{}, err
	}
	return pagination.NewPage(rows, limit, func(cs *domain.CallSession) (string, time.Time) {
		return cs.ID, cs.StartedAt
	}), nil
}

// AbandonExpired abandons open sessions older than the maximum duration
// and returns how many were closed.
func (s *SessionService) AbandonExpired(ctx context.Context, limit int) (int, error) {
	now := s.now()
	expired, err := s.sessions.ListExpired(ctx, now.Add(-s.cfg.MaxDuration), limit)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, cs := range expired {
		_, err := s.transition(ctx, cs.TenantID, cs.ID, func(locked *domain.CallSession) error {
			if !locked.IsExpired(s.now(), s.cfg.MaxDuration) {
				return errNotExpired
			}
			return locked.Abandon(s.now(), domain.EndReasonWatchdogTimeout)
		})
		switch {
		case errors.Is(err, errNotExpired), errors.Is(err, domain.ErrInvalidTransition):
			continue
		case err != nil:
			return closed, err
		}
		closed++
		s.endProviderCall(ctx, cs.ExternalCallID, s.logger.WithField("session_id", cs.ID))
	}
	return closed, nil
}

var errNotExpired = errors.New("session no longer expired")

// HandleCallStarted confirms the session is ongoing.
func (s *SessionService) HandleCallStarted(ctx context.Context, ev *domain.WebhookEvent) (domain.WebhookOutcome, error) {
	return s.applyEvent(ctx, ev, nil, func(cs *domain.CallSession) error {
		_, err := cs.MarkStarted(ev.OccurredAt(s.now()))
		return err
	})
}

// HandleCallEnded stores the final transcript and completes the session.
func (s *SessionService) HandleCallEnded(ctx context.Context, ev *domain.WebhookEvent, payload domain.CallEnded) (domain.WebhookOutcome, error) {
	entries, err := keyedEntries(ev, payload.Transcript, s.now())
	if err != nil {
		return "", err
	}
	return s.applyEvent(ctx, ev, entries, func(cs *domain.CallSession) error {
		return cs.Complete(ev.OccurredAt(s.now()), payload.DurationSeconds, domain.EndReasonProviderEnded)
	})
}

// HandleTranscript appends transcript entries to an open session.
func (s *SessionService) HandleTranscript(ctx context.Context, ev *domain.WebhookEvent, payload domain.TranscriptUpdate) (domain.WebhookOutcome, error) {
	entries, err := keyedEntries(ev, payload.Entries, s.now())
	if err != nil {
		return "", err
	}
	return s.applyEvent(ctx, ev, entries, requireOpen)
}

// HandleContextRequest answers a mid-call context lookup. Retrieval runs
// under RetrievalTimeout; on timeout or error the answer is empty and the
// call goes on. A redelivered request gets the context stored the first
// time.
func (s *SessionService) HandleContextRequest(ctx context.Context, ev *domain.WebhookEvent, payload domain.ContextRequest) (string, domain.WebhookOutcome, error) {
	if err := ev.Validate(); err != nil {
		return "", "", err
	}
	tenantID := ev.Metadata.TenantID
	key := ev.IdempotencyKey()

	prev, err := s.webhooks.Get(ctx, tenantID, key)
	switch {
	case err == nil:
		s.metrics.WebhookEvent(string(ev.Type), string(domain.WebhookDuplicate))
		return prev.Context, domain.WebhookDuplicate, nil
	case !errors.Is(err, domain.ErrEventNotFound):
		return "", "", err
	}

	session, err := s.sessions.Get(ctx, tenantID, ev.Metadata.SessionID)
	if err != nil {
		return "", "", err
	}
	if err := matchCall(session, ev); err != nil {
		return "", "", err
	}
	if err := requireOpen(session); err != nil {
		return "", "", err
	}

	contextText := s.lookup(ctx, session, payload.Query)

	var entries []domain.TranscriptEntry
	if s.cfg.TranscriptContextLogging && payload.Query != "" {
		at := ev.OccurredAt(s.now())
		entries = []domain.TranscriptEntry{
			{Role: domain.TranscriptRoleQuery, Content: payload.Query, Timestamp: at, DedupKey: key + "|query"},
			{Role: domain.TranscriptRoleContext, Content: contextText, Timestamp: at, DedupKey: key + "|context"},
		}
	}

	var stored string
	outcome, err := s.record(ctx, ev, entries, contextText, requireOpen, func(prev *WebhookRecord) {
		stored = prev.Context
	})
	if err != nil {
		return "", "", err
	}
	if outcome == domain.WebhookDuplicate {
		return stored, outcome, nil
	}
	return contextText, outcome, nil
}

// lookup runs retrieval in its own goroutine so the caller can stop
// waiting at the deadline. A late result is discarded.
func (s *SessionService) lookup(ctx context.Context, session *domain.CallSession, query string) string {
	log := s.logger.WithFields(logrus.Fields{
		"tenant_id":  session.TenantID,
		"session_id": session.ID,
	})
	if query == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()

	type answer struct {
		text string
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		text, err := s.retriever.Context(ctx, domain.RetrievalQuery{TenantID: session.TenantID, Text: query})
		done <- answer{text: text, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			if errors.Is(a.err, domain.ErrTenantViolation) {
				log.WithError(a.err).Error("retrieval tenant violation, answering with empty context")
			} else {
				log.WithError(a.err).Warn("retrieval failed, answering with empty context")
			}
			s.metrics.ContextFallback("error")
			return ""
		}
		return a.text
	case <-ctx.Done():
		log.WithField("timeout_ms", s.cfg.RetrievalTimeout.Milliseconds()).Warn("retrieval timed out, answering with empty context")
		s.metrics.ContextFallback("timeout")
		return ""
	}
}

func (s *SessionService) applyEvent(ctx context.Context, ev *domain.WebhookEvent, entries []domain.TranscriptEntry, apply func(*domain.CallSession) error) (domain.WebhookOutcome, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	return s.record(ctx, ev, entries, "", apply, nil)
}

// record applies one webhook delivery atomically: lock the session,
// insert the dedup record, mutate, append transcript entries.
func (s *SessionService) record(
	ctx context.Context,
	ev *domain.WebhookEvent,
	entries []domain.TranscriptEntry,
	contextText string,
	apply func(*domain.CallSession) error,
	onDuplicate func(*WebhookRecord),
) (domain.WebhookOutcome, error) {
	tenantID := ev.Metadata.TenantID
	key := ev.IdempotencyKey()
	ctx, span := telemetry.StartSpan(ctx, "SessionService.webhook", telemetry.SpanAttributes{
		TenantID:  tenantID,
		SessionID: ev.Metadata.SessionID,
		Operation: string(ev.Type),
	})
	defer span.End()

	outcome := domain.WebhookApplied
	var stateBefore, stateAfter domain.SessionState

	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		cs, err := repos.Sessions().GetForUpdate(ctx, tenantID, ev.Metadata.SessionID)
		if err != nil {
			return err
		}
		if err := matchCall(cs, ev); err != nil {
			return err
		}

		inserted, err := repos.WebhookEvents().Record(ctx, &WebhookRecord{
			TenantID:       tenantID,
			IdempotencyKey: key,
			SessionID:      cs.ID,
			Event:          ev.Type,
			Context:        contextText,
			ReceivedAt:     s.now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			outcome = domain.WebhookDuplicate
			if onDuplicate != nil {
				prev, err := repos.WebhookEvents().Get(ctx, tenantID, key)
				if err != nil {
					return err
				}
				onDuplicate(prev)
			}
			return nil
		}

		stateBefore = cs.State
		if err := apply(cs); err != nil {
			return err
		}
		stateAfter = cs.State
		if cs.ExternalCallID == "" {
			cs.ExternalCallID = ev.ExternalCallID
		}
		if err := repos.Sessions().Save(ctx, cs); err != nil {
			return err
		}
		if len(entries) > 0 {
			if _, err := repos.Sessions().AppendTranscript(ctx, tenantID, cs.ID, entries); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.WebhookEvent(string(ev.Type), "rejected")
		if domain.CodeOf(err) == domain.ErrCodeInternalError {
			span.SetError(err)
		}
		return "", err
	}

	s.metrics.WebhookEvent(string(ev.Type), string(outcome))
	if stateAfter != stateBefore {
		s.metrics.SessionTransition(string(stateAfter))
		telemetry.SessionBreadcrumb(ctx, ev.Metadata.SessionID, string(stateBefore), string(stateAfter))
	}
	s.logger.WithFields(logrus.Fields{
		"tenant_id":        tenantID,
		"session_id":       ev.Metadata.SessionID,
		"external_call_id": ev.ExternalCallID,
		"event":            ev.Type,
		"outcome":          outcome,
	}).Debug("webhook processed")
	return outcome, nil
}

// transition runs apply on the locked session and saves it.
func (s *SessionService) transition(ctx context.Context, tenantID, sessionID string, apply func(*domain.CallSession) error) (*domain.CallSession, error) {
	return s.transitionWith(ctx, tenantID, sessionID, nil, apply)
}

func (s *SessionService) transitionWith(ctx context.Context, tenantID, sessionID string, entries []domain.TranscriptEntry, apply func(*domain.CallSession) error) (*domain.CallSession, error) {
	var (
		updated *domain.CallSession
		before  domain.SessionState
	)
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		cs, err := repos.Sessions().GetForUpdate(ctx, tenantID, sessionID)
		if err != nil {
			return err
		}
		before = cs.State
		if err := apply(cs); err != nil {
			return err
		}
		if err := repos.Sessions().Save(ctx, cs); err != nil {
			return err
		}
		if len(entries) > 0 {
			if _, err := repos.Sessions().AppendTranscript(ctx, tenantID, cs.ID, entries); err != nil {
				return err
			}
		}
		updated = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionTransition(string(updated.State))
	telemetry.SessionBreadcrumb(ctx, updated.ID, string(before), string(updated.State))
	return updated, nil
}

func (s *SessionService) endProviderCall(ctx context.Context, externalCallID string, log logrus.FieldLogger) {
	if externalCallID == "" || s.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
	defer cancel()
	if err := s.provider.EndCall(ctx, externalCallID); err != nil {
		log.WithError(err).WithField("external_call_id", externalCallID).Warn("failed to end provider call")
	}
}

// matchCall rejects events whose call id belongs to another call than the
// session's.
func matchCall(cs *domain.CallSession, ev *domain.WebhookEvent) error {
	if cs.ExternalCallID != "" && cs.ExternalCallID != ev.ExternalCallID {
		return domain.ErrSessionNotFound.WithCause(fmt.Errorf("call %s does not belong to session %s", ev.ExternalCallID, cs.ID))
	}
	return nil
}

func requireOpen(cs *domain.CallSession) error {
	if cs.State.IsTerminal() {
		return domain.ErrInvalidTransition.WithCause(fmt.Errorf("session is %s", cs.State))
	}
	return nil
}

// keyedEntries validates provider entries and keys each by its delivery
// and position so a redelivery appends nothing.
func keyedEntries(ev *domain.WebhookEvent, in []domain.TranscriptEntry, received time.Time) ([]domain.TranscriptEntry, error) {
	key := ev.IdempotencyKey()
	out := make([]domain.TranscriptEntry, 0, len(in))
	for i, e := range in {
		if e.Timestamp.IsZero() {
			e.Timestamp = ev.OccurredAt(received)
		}
		if err := domain.ValidateTranscriptEntry(e); err != nil {
			return nil, err
		}
		e.DedupKey = key + "|" + strconv.Itoa(i)
		out = append(out, e)
	}
	return out, nil
}
