package service

import (
	"context"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/pagination"
)

// memStore is an in-memory stand-in for the Postgres repositories. Each
// transaction runs alone and is rolled back on error.
type memStore struct {
	mu          sync.Mutex
	chunks      map[string]*domain.Chunk
	sources     map[string]*domain.KnowledgeSource
	sessions    map[string]*domain.CallSession
	transcripts map[string][]domain.TranscriptEntry
	events      map[string]*WebhookRecord
	personas    []*domain.Persona

	insertErr error
	// searchExtra is appended to every search result, bypassing filters.
	searchExtra []domain.RetrievalResult
}

func newMemStore() *memStore {
	return &memStore{
		chunks:      map[string]*domain.Chunk{},
		sources:     map[string]*domain.KnowledgeSource{},
		sessions:    map[string]*domain.CallSession{},
		transcripts: map[string][]domain.TranscriptEntry{},
		events:      map[string]*WebhookRecord{},
	}
}

type memSnapshot struct {
	chunks      map[string]*domain.Chunk
	sources     map[string]*domain.KnowledgeSource
	sessions    map[string]*domain.CallSession
	transcripts map[string][]domain.TranscriptEntry
	events      map[string]*WebhookRecord
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	transcripts := make(map[string][]domain.TranscriptEntry, len(s.transcripts))
	for k, v := range s.transcripts {
		transcripts[k] = slices.Clone(v)
	}
	return memSnapshot{
		chunks:      maps.Clone(s.chunks),
		sources:     maps.Clone(s.sources),
		sessions:    maps.Clone(s.sessions),
		transcripts: transcripts,
		events:      maps.Clone(s.events),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = snap.chunks
	s.sources = snap.sources
	s.sessions = snap.sessions
	s.transcripts = snap.transcripts
	s.events = snap.events
}

func (s *memStore) chunkCount(tenantID, sourceName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		if c.TenantID == tenantID && c.SourceName == sourceName {
			n++
		}
	}
	return n
}

func (s *memStore) session(id string) *domain.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.sessions[id]; ok {
		cp := *cs
		return &cp
	}
	return nil
}

func (s *memStore) transcript(sessionID string) []domain.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transcripts[sessionID])
}

func memKey(parts ...string) string { return strings.Join(parts, "|") }

type memChunks struct{ s *memStore }

func (r memChunks) Upsert(_ context.Context, c *domain.Chunk) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if prev, ok := r.s.chunks[c.ID]; ok && prev.TenantID != c.TenantID {
		return domain.ErrTenantViolation
	}
	cp := *c
	r.s.chunks[c.ID] = &cp
	return nil
}

func (r memChunks) InsertBatch(ctx context.Context, chunks []*domain.Chunk) error {
	if r.s.insertErr != nil {
		return r.s.insertErr
	}
	for _, c := range chunks {
		if err := r.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r memChunks) DeleteBySource(_ context.Context, tenantID, sourceName string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, c := range r.s.chunks {
		if c.TenantID == tenantID && c.SourceName == sourceName {
			delete(r.s.chunks, id)
			n++
		}
	}
	return n, nil
}

func (r memChunks) Search(_ context.Context, tenantID string, vector []float32, topK int, threshold float64) ([]domain.RetrievalResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.RetrievalResult
	for _, c := range r.s.chunks {
		if c.TenantID != tenantID || c.Embedding == nil {
			continue
		}
		sim := cosine(vector, c.Embedding)
		if sim < threshold {
			continue
		}
		out = append(out, domain.RetrievalResult{
			ChunkID:    c.ID,
			TenantID:   c.TenantID,
			Content:    c.Content,
			SourceName: c.SourceName,
			SourceType: c.SourceType,
			Similarity: sim,
			CreatedAt:  c.CreatedAt,
		})
	}
	domain.SortResults(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return append(out, r.s.searchExtra...), nil
}

func (r memChunks) Stats(_ context.Context, tenantID string) (*KnowledgeStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := &KnowledgeStats{}
	embedded := map[string]bool{}
	for _, c := range r.s.chunks {
		if c.TenantID != tenantID {
			continue
		}
		stats.Chunks++
		if c.Embedding != nil {
			stats.Embedded++
			embedded[c.SourceName] = true
		}
		if stats.LastUpdated == nil || c.CreatedAt.After(*stats.LastUpdated) {
			at := c.CreatedAt
			stats.LastUpdated = &at
		}
	}
	for _, src := range r.s.sources {
		if src.TenantID != tenantID {
			continue
		}
		stats.Sources++
		if !embedded[src.SourceName] {
			stats.Unready++
		}
	}
	return stats, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type memSources struct{ s *memStore }

func (r memSources) Upsert(_ context.Context, src *domain.KnowledgeSource) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *src
	r.s.sources[memKey(src.TenantID, src.SourceName)] = &cp
	return nil
}

func (r memSources) Get(_ context.Context, tenantID, sourceName string) (*domain.KnowledgeSource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	src, ok := r.s.sources[memKey(tenantID, sourceName)]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	cp := *src
	return &cp, nil
}

func (r memSources) List(_ context.Context, tenantID string) ([]*domain.KnowledgeSource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.KnowledgeSource
	for _, src := range r.s.sources {
		if src.TenantID == tenantID {
			cp := *src
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *domain.KnowledgeSource) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (r memSources) Delete(_ context.Context, tenantID, sourceName string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sources, memKey(tenantID, sourceName))
	return nil
}

type memSessions struct{ s *memStore }

func (r memSessions) Create(_ context.Context, cs *domain.CallSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *cs
	r.s.sessions[cs.ID] = &cp
	return nil
}

func (r memSessions) Get(_ context.Context, tenantID, id string) (*domain.CallSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cs, ok := r.s.sessions[id]
	if !ok || cs.TenantID != tenantID {
		return nil, domain.ErrSessionNotFound
	}
	cp := *cs
	return &cp, nil
}

func (r memSessions) GetForUpdate(ctx context.Context, tenantID, id string) (*domain.CallSession, error) {
	return r.Get(ctx, tenantID, id)
}

func (r memSessions) Save(_ context.Context, cs *domain.CallSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.sessions[cs.ID]
	if !ok || prev.TenantID != cs.TenantID {
		return domain.ErrSessionNotFound
	}
	cp := *cs
	cp.Transcript = nil
	r.s.sessions[cs.ID] = &cp
	return nil
}

func (r memSessions) AppendTranscript(_ context.Context, tenantID, sessionID string, entries []domain.TranscriptEntry) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := r.s.transcripts[sessionID]
	n := 0
	for _, e := range entries {
		if e.DedupKey != "" && slices.ContainsFunc(existing, func(x domain.TranscriptEntry) bool { return x.DedupKey == e.DedupKey }) {
			continue
		}
		existing = append(existing, e)
		n++
	}
	r.s.transcripts[sessionID] = existing
	return n, nil
}

func (r memSessions) Transcript(_ context.Context, tenantID, sessionID string) ([]domain.TranscriptEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.transcripts[sessionID]), nil
}

func (r memSessions) List(_ context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]*domain.CallSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.CallSession
	for _, cs := range r.s.sessions {
		if cs.TenantID != tenantID {
			continue
		}
		if cursor != nil {
			if cs.StartedAt.After(cursor.Timestamp) || (cs.StartedAt.Equal(cursor.Timestamp) && cs.ID >= cursor.LastID) {
				continue
			}
		}
		cp := *cs
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *domain.CallSession) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if len(out) > limit+1 {
		out = out[:limit+1]
	}
	return out, nil
}

func (r memSessions) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]*domain.CallSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.CallSession
	for _, cs := range r.s.sessions {
		if !cs.State.IsTerminal() && cs.StartedAt.Before(cutoff) {
			cp := *cs
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memWebhooks struct{ s *memStore }

func (r memWebhooks) Record(_ context.Context, rec *WebhookRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := memKey(rec.TenantID, rec.IdempotencyKey)
	if _, ok := r.s.events[k]; ok {
		return false, nil
	}
	cp := *rec
	r.s.events[k] = &cp
	return true, nil
}

func (r memWebhooks) Get(_ context.Context, tenantID, k string) (*WebhookRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.events[memKey(tenantID, k)]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	cp := *rec
	return &cp, nil
}

type memPersonas struct{ s *memStore }

func (r memPersonas) Create(_ context.Context, p *domain.Persona) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.personas = append(r.s.personas, p)
	return nil
}

func (r memPersonas) Get(_ context.Context, tenantID, id string) (*domain.Persona, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.personas {
		if p.ID == id && p.TenantID == tenantID {
			return p, nil
		}
	}
	return nil, domain.ErrPersonaNotFound
}

func (r memPersonas) List(_ context.Context, tenantID string) ([]*domain.Persona, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Persona
	for _, p := range r.s.personas {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memPersonas) Random(ctx context.Context, tenantID string) (*domain.Persona, error) {
	list, _ := r.List(ctx, tenantID)
	if len(list) == 0 {
		return nil, domain.ErrNoPersonas
	}
	return list[0], nil
}

type testTxRepos struct{ s *memStore }

func (t *testTxRepos) Chunks() ChunkRepository               { return memChunks{t.s} }
func (t *testTxRepos) Sources() SourceRepository             { return memSources{t.s} }
func (t *testTxRepos) Sessions() SessionRepository           { return memSessions{t.s} }
func (t *testTxRepos) WebhookEvents() WebhookEventRepository { return memWebhooks{t.s} }

type testTxRunner struct {
	mu     sync.Mutex
	store  *memStore
	called int
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.called++

	snap := t.store.snapshot()
	if err := fn(&testTxRepos{s: t.store}); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// MockUUIDGenerator hands out the given ids in order, then "default-uuid".
type MockUUIDGenerator struct {
	mu        sync.Mutex
	uuids     []string
	callCount int
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callCount < len(m.uuids) {
		uuid := m.uuids[m.callCount]
		m.callCount++
		return uuid
	}
	m.callCount++
	return "default-uuid"
}
