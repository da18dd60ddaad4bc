package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/pagination"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository persists call sessions and their transcript entries.
type SessionRepository struct {
	db dbtx
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: pool}
}

func NewSessionRepositoryWithTx(tx dbtx) *SessionRepository {
	return &SessionRepository{db: tx}
}

const sessionColumns = `id, company_id, persona_id, external_call_id, call_url, state, end_reason,
	started_at, ended_at, duration_seconds, updated_at`

func scanSession(row pgx.Row) (*domain.CallSession, error) {
	var (
		s                       domain.CallSession
		externalID, url, reason *string
	)
	if err := row.Scan(&s.ID, &s.TenantID, &s.PersonaID, &externalID, &url, &s.State, &reason,
		&s.StartedAt, &s.EndedAt, &s.DurationSeconds, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.ExternalCallID = derefString(externalID)
	s.CallURL = derefString(url)
	s.EndReason = domain.EndReason(derefString(reason))
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.CallSession) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO call_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.TenantID, s.PersonaID, nullableString(s.ExternalCallID), nullableString(s.CallURL),
		s.State, nullableString(string(s.EndReason)), s.StartedAt, s.EndedAt, s.DurationSeconds, s.UpdatedAt,
	)
	return err
}

func (r *SessionRepository) get(ctx context.Context, tenantID, id, suffix string) (*domain.CallSession, error) {
	if uuid.Validate(id) != nil {
		return nil, domain.ErrSessionNotFound
	}
	s, err := scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE id = $1 AND company_id = $2`+suffix,
		id, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *SessionRepository) Get(ctx context.Context, tenantID, id string) (*domain.CallSession, error) {
	return r.get(ctx, tenantID, id, "")
}

// GetForUpdate must run inside a transaction; the row stays locked until
// it ends.
func (r *SessionRepository) GetForUpdate(ctx context.Context, tenantID, id string) (*domain.CallSession, error) {
	return r.get(ctx, tenantID, id, " FOR UPDATE")
}

func (r *SessionRepository) Save(ctx context.Context, s *domain.CallSession) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE call_sessions SET
			external_call_id = $3, call_url = $4, state = $5, end_reason = $6,
			ended_at = $7, duration_seconds = $8, updated_at = $9
		 WHERE id = $1 AND company_id = $2`,
		s.ID, s.TenantID, nullableString(s.ExternalCallID), nullableString(s.CallURL), s.State,
		nullableString(string(s.EndReason)), s.EndedAt, s.DurationSeconds, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) AppendTranscript(ctx context.Context, tenantID, sessionID string, entries []domain.TranscriptEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO session_transcript_entries (session_id, company_id, role, content, ts, dedup_key)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, dedup_key) DO NOTHING`,
			sessionID, tenantID, e.Role, e.Content, e.Timestamp, nullableString(e.DedupKey),
		)
	}

	br := r.db.SendBatch(ctx, batch)
	written := 0
	for i := range entries {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return written, fmt.Errorf("append transcript entry %d: %w", i, err)
		}
		written += int(tag.RowsAffected())
	}
	return written, br.Close()
}

func (r *SessionRepository) Transcript(ctx context.Context, tenantID, sessionID string) ([]domain.TranscriptEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT role, content, ts, dedup_key FROM session_transcript_entries
		 WHERE session_id = $1 AND company_id = $2
		 ORDER BY ts, id`,
		sessionID, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.TranscriptEntry{}
	for rows.Next() {
		var (
			e   domain.TranscriptEntry
			key *string
		)
		if err := rows.Scan(&e.Role, &e.Content, &e.Timestamp, &key); err != nil {
			return nil, err
		}
		e.DedupKey = derefString(key)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SessionRepository) List(ctx context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]*domain.CallSession, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+sessionColumns+` FROM call_sessions
			 WHERE company_id = $1 AND (started_at, id) < ($2, $3)
			 ORDER BY started_at DESC, id DESC
			 LIMIT $4`,
			tenantID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+sessionColumns+` FROM call_sessions
			 WHERE company_id = $1
			 ORDER BY started_at DESC, id DESC
			 LIMIT $2`,
			tenantID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CallSession, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions
		 WHERE state IN ('pending', 'ongoing') AND started_at < $1
		 ORDER BY started_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]*domain.CallSession, error) {
	defer rows.Close()
	sessions := []*domain.CallSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
