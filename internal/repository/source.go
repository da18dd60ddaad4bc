package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SourceRepository keeps the last ingestion outcome per source name.
type SourceRepository struct {
	db dbtx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: pool}
}

func NewSourceRepositoryWithTx(tx dbtx) *SourceRepository {
	return &SourceRepository{db: tx}
}

const sourceColumns = `company_id, source_name, source_type, status, message, chunks_stored, archive_key, updated_at`

func (r *SourceRepository) Upsert(ctx context.Context, src *domain.KnowledgeSource) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_sources (`+sourceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (company_id, source_name) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			chunks_stored = EXCLUDED.chunks_stored,
			archive_key = EXCLUDED.archive_key,
			updated_at = EXCLUDED.updated_at`,
		src.TenantID, src.SourceName, src.SourceType, src.Status, src.Message,
		src.ChunksStored, nullableString(src.ArchiveKey), src.UpdatedAt,
	)
	return err
}

func scanSource(row pgx.Row) (*domain.KnowledgeSource, error) {
	var (
		src        domain.KnowledgeSource
		archiveKey *string
	)
	if err := row.Scan(&src.TenantID, &src.SourceName, &src.SourceType, &src.Status,
		&src.Message, &src.ChunksStored, &archiveKey, &src.UpdatedAt); err != nil {
		return nil, err
	}
	src.ArchiveKey = derefString(archiveKey)
	return &src, nil
}

func (r *SourceRepository) Get(ctx context.Context, tenantID, sourceName string) (*domain.KnowledgeSource, error) {
	src, err := scanSource(r.db.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM knowledge_sources WHERE company_id = $1 AND source_name = $2`,
		tenantID, sourceName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	return src, nil
}

func (r *SourceRepository) List(ctx context.Context, tenantID string) ([]*domain.KnowledgeSource, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sourceColumns+` FROM knowledge_sources
		 WHERE company_id = $1
		 ORDER BY updated_at DESC, source_name`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := []*domain.KnowledgeSource{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (r *SourceRepository) Delete(ctx context.Context, tenantID, sourceName string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_sources WHERE company_id = $1 AND source_name = $2`,
		tenantID, sourceName,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}
