package repository

import (
	"context"

	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner provides transactional repositories using a pgx pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := &txRepos{tx: tx}
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

type txRepos struct {
	tx pgx.Tx
}

func (r *txRepos) Chunks() service.ChunkRepository {
	return NewChunkRepositoryWithTx(r.tx)
}

func (r *txRepos) Sources() service.SourceRepository {
	return NewSourceRepositoryWithTx(r.tx)
}

func (r *txRepos) Sessions() service.SessionRepository {
	return NewSessionRepositoryWithTx(r.tx)
}

func (r *txRepos) WebhookEvents() service.WebhookEventRepository {
	return NewWebhookEventRepositoryWithTx(r.tx)
}
