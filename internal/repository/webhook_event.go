package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepository stores one row per logical webhook delivery.
type WebhookEventRepository struct {
	db dbtx
}

func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{db: pool}
}

func NewWebhookEventRepositoryWithTx(tx dbtx) *WebhookEventRepository {
	return &WebhookEventRepository{db: tx}
}

// Record inserts rec unless its key is already stored.
func (r *WebhookEventRepository) Record(ctx context.Context, rec *service.WebhookRecord) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO webhook_events (company_id, idempotency_key, session_id, event, context, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (company_id, idempotency_key) DO NOTHING`,
		rec.TenantID, rec.IdempotencyKey, rec.SessionID, rec.Event, nullableString(rec.Context), rec.ReceivedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WebhookEventRepository) Get(ctx context.Context, tenantID, key string) (*service.WebhookRecord, error) {
	var (
		rec     service.WebhookRecord
		ctxText *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT company_id, idempotency_key, session_id, event, context, received_at
		 FROM webhook_events WHERE company_id = $1 AND idempotency_key = $2`,
		tenantID, key,
	).Scan(&rec.TenantID, &rec.IdempotencyKey, &rec.SessionID, &rec.Event, &ctxText, &rec.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	rec.Context = derefString(ctxText)
	return &rec, nil
}
