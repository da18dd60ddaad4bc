package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository stores knowledge chunks and runs the tenant-scoped
// similarity search.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx dbtx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

const insertChunkSQL = `INSERT INTO knowledge_chunks
	(id, company_id, content, source_type, source_name, chunk_index, embedding, created_at)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func chunkArgs(c *domain.Chunk) []any {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var embedding *pgvector.Vector
	if c.Embedding != nil {
		v := pgvector.NewVector(c.Embedding)
		embedding = &v
	}
	return []any{c.ID, c.TenantID, c.Content, c.SourceType, c.SourceName, c.ChunkIndex, embedding, createdAt}
}

// Upsert inserts c or rewrites the chunk with the same id. An id that
// belongs to another tenant's chunk is left untouched and reported as
// domain.ErrTenantViolation.
func (r *ChunkRepository) Upsert(ctx context.Context, c *domain.Chunk) error {
	tag, err := r.db.Exec(ctx, insertChunkSQL+`
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			chunk_index = EXCLUDED.chunk_index,
			embedding = EXCLUDED.embedding
		WHERE knowledge_chunks.company_id = EXCLUDED.company_id`,
		chunkArgs(c)...,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTenantViolation.WithCause(fmt.Errorf("chunk %s belongs to another tenant", c.ID))
	}
	return nil
}

// InsertBatch writes all chunks in one round trip.
func (r *ChunkRepository) InsertBatch(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(insertChunkSQL, chunkArgs(c)...)
	}
	br := r.db.SendBatch(ctx, batch)
	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return br.Close()
}

func (r *ChunkRepository) DeleteBySource(ctx context.Context, tenantID, sourceName string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_chunks WHERE company_id = $1 AND source_name = $2`,
		tenantID, sourceName,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// searchSQL takes an over-fetched candidate set from the HNSW index, then
// applies the threshold and the total ranking order. The candidate window
// carries the same tie-break as the outer query so equal distances at its
// edge keep the newest rows. Under an approximate index scan the window is
// itself approximate; only exact scans guarantee the total order.
const searchSQL = `
SELECT id, company_id, content, source_type, source_name, similarity, created_at
FROM (
	SELECT id, company_id, content, source_type, source_name, created_at,
	       1 - (embedding <=> $2) AS similarity
	FROM knowledge_chunks
	WHERE company_id = $1 AND embedding IS NOT NULL
	ORDER BY embedding <=> $2, created_at DESC, id
	LIMIT $3
) candidates
WHERE similarity >= $4
ORDER BY similarity DESC, created_at DESC, id
LIMIT $5`

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Search returns the tenant's chunks closest to vector. The HNSW scan is
// made iterative so the tenant filter cannot starve the candidate set.
func (r *ChunkRepository) Search(ctx context.Context, tenantID string, vector []float32, topK int, threshold float64) ([]domain.RetrievalResult, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	b, ok := r.db.(beginner)
	if !ok {
		return r.search(ctx, r.db, tenantID, vector, topK, threshold)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SET LOCAL hnsw.iterative_scan = relaxed_order`); err != nil {
		return nil, err
	}
	results, err := r.search(ctx, tx, tenantID, vector, topK, threshold)
	if err != nil {
		return nil, err
	}
	return results, tx.Commit(ctx)
}

func (r *ChunkRepository) search(ctx context.Context, db dbtx, tenantID string, vector []float32, topK int, threshold float64) ([]domain.RetrievalResult, error) {
	rows, err := db.Query(ctx, searchSQL,
		tenantID, pgvector.NewVector(vector), topK*2+10, threshold, topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.RetrievalResult{}
	for rows.Next() {
		var res domain.RetrievalResult
		if err := rows.Scan(&res.ChunkID, &res.TenantID, &res.Content, &res.SourceType, &res.SourceName, &res.Similarity, &res.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (r *ChunkRepository) Stats(ctx context.Context, tenantID string) (*service.KnowledgeStats, error) {
	var s service.KnowledgeStats
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM knowledge_sources WHERE company_id = $1),
			(SELECT count(*) FROM knowledge_chunks WHERE company_id = $1),
			(SELECT count(*) FROM knowledge_chunks WHERE company_id = $1 AND embedding IS NOT NULL),
			(SELECT max(created_at) FROM knowledge_chunks WHERE company_id = $1),
			(SELECT count(*) FROM knowledge_sources ks
			  WHERE ks.company_id = $1
			    AND NOT EXISTS (
			        SELECT 1 FROM knowledge_chunks kc
			         WHERE kc.company_id = ks.company_id
			           AND kc.source_name = ks.source_name
			           AND kc.embedding IS NOT NULL))`,
		tenantID,
	).Scan(&s.Sources, &s.Chunks, &s.Embedded, &s.LastUpdated, &s.Unready)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
