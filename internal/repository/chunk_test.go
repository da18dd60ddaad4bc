//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dims = 1536

// axis returns a unit vector along dimension i, optionally tilted toward
// dimension j so that similarity to axis(i) is below 1.
func axis(i int, tilt float32, j int) []float32 {
	v := make([]float32, dims)
	v[i] = 1
	if tilt != 0 {
		v[j] = tilt
	}
	return v
}

func newChunk(tenant, source string, idx int, vec []float32, created time.Time) *domain.Chunk {
	return &domain.Chunk{
		ID:         uuid.NewString(),
		TenantID:   tenant,
		Content:    fmt.Sprintf("%s chunk %d", source, idx),
		SourceType: domain.SourceTypeDocument,
		SourceName: source,
		ChunkIndex: idx,
		Embedding:  vec,
		CreatedAt:  created,
	}
}

func TestChunkRepository(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenantA := testutil.SeedCompany(ctx, t, pool, "A")
	tenantB := testutil.SeedCompany(ctx, t, pool, "B")

	chunks := NewChunkRepository(pool)
	sources := NewSourceRepository(pool)
	base := time.Now().UTC().Truncate(time.Microsecond)

	exact := newChunk(tenantA, "pricing.pdf", 0, axis(0, 0, 0), base)
	older := newChunk(tenantA, "pricing.pdf", 1, axis(0, 0.3, 1), base)
	newer := newChunk(tenantA, "faq.md", 0, axis(0, 0.3, 1), base.Add(time.Minute))
	far := newChunk(tenantA, "faq.md", 1, axis(5, 0, 0), base)
	unembedded := newChunk(tenantA, "faq.md", 2, nil, base)
	foreign := newChunk(tenantB, "pricing.pdf", 0, axis(0, 0, 0), base)

	require.NoError(t, chunks.InsertBatch(ctx, []*domain.Chunk{exact, older, newer, far, unembedded, foreign}))
	for _, name := range []string{"pricing.pdf", "faq.md"} {
		require.NoError(t, sources.Upsert(ctx, &domain.KnowledgeSource{
			TenantID: tenantA, SourceName: name, SourceType: domain.SourceTypeDocument,
			Status: domain.IngestionStatusSuccess, ChunksStored: 2, UpdatedAt: base,
		}))
	}

	t.Run("search is tenant scoped and ranked", func(t *testing.T) {
		res, err := chunks.Search(ctx, tenantA, axis(0, 0, 0), 3, 0.5)
		require.NoError(t, err)
		require.Len(t, res, 3)

		assert.Equal(t, exact.ID, res[0].ChunkID)
		assert.InDelta(t, 1.0, res[0].Similarity, 1e-6)
		// equal similarity: most recent first
		assert.Equal(t, newer.ID, res[1].ChunkID)
		assert.Equal(t, older.ID, res[2].ChunkID)
		for _, r := range res {
			assert.Equal(t, tenantA, r.TenantID)
		}
	})

	t.Run("threshold excludes weak matches", func(t *testing.T) {
		res, err := chunks.Search(ctx, tenantA, axis(0, 0, 0), 10, 0.99)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, exact.ID, res[0].ChunkID)
	})

	t.Run("unknown tenant yields empty result", func(t *testing.T) {
		res, err := chunks.Search(ctx, uuid.NewString(), axis(0, 0, 0), 3, 0)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("empty tenant is rejected", func(t *testing.T) {
		_, err := chunks.Search(ctx, "", axis(0, 0, 0), 3, 0)
		assert.ErrorIs(t, err, domain.ErrTenantViolation)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := chunks.Stats(ctx, tenantA)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Sources)
		assert.Equal(t, 5, stats.Chunks)
		assert.Equal(t, 4, stats.Embedded)
		assert.Equal(t, 0, stats.Unready)
		require.NotNil(t, stats.LastUpdated)
		assert.True(t, stats.LastUpdated.Equal(newer.CreatedAt))
		assert.True(t, stats.Status().IsReady)

		empty, err := chunks.Stats(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, empty.LastUpdated)
		assert.False(t, empty.Status().IsReady)
	})

	t.Run("delete by source leaves other tenants alone", func(t *testing.T) {
		n, err := chunks.DeleteBySource(ctx, tenantA, "pricing.pdf")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		stats, err := chunks.Stats(ctx, tenantA)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Chunks)
		assert.Equal(t, 1, stats.Unready)

		res, err := chunks.Search(ctx, tenantB, axis(0, 0, 0), 3, 0.5)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, foreign.ID, res[0].ChunkID)
	})

	t.Run("upsert updates content", func(t *testing.T) {
		far.Content = "rewritten"
		require.NoError(t, chunks.Upsert(ctx, far))

		res, err := chunks.Search(ctx, tenantA, axis(5, 0, 0), 1, 0.9)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "rewritten", res[0].Content)
	})

	t.Run("upsert refuses another tenant's id", func(t *testing.T) {
		hijack := *foreign
		hijack.TenantID = tenantA
		hijack.Content = "hijacked"

		err := chunks.Upsert(ctx, &hijack)
		assert.ErrorIs(t, err, domain.ErrTenantViolation)

		res, err := chunks.Search(ctx, tenantB, axis(0, 0, 0), 1, 0.5)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, foreign.ID, res[0].ChunkID)
		assert.Equal(t, foreign.Content, res[0].Content)
	})
}

func TestChunkRepository_TiesAtWindowEdgeKeepNewest(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenant := testutil.SeedCompany(ctx, t, pool, "A")
	chunks := NewChunkRepository(pool)
	base := time.Now().UTC().Truncate(time.Microsecond)

	// topK 1 over-fetches 12 candidates; all of these tie on distance.
	var batch []*domain.Chunk
	for i := range 30 {
		batch = append(batch, newChunk(tenant, "faq.md", i, axis(0, 0, 0), base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, chunks.InsertBatch(ctx, batch))

	res, err := chunks.Search(ctx, tenant, axis(0, 0, 0), 1, 0.5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, batch[len(batch)-1].ID, res[0].ChunkID)
}

func TestSourceRepository(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenant := testutil.SeedCompany(ctx, t, pool, "A")
	repo := NewSourceRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	src := &domain.KnowledgeSource{
		TenantID: tenant, SourceName: "deck.pdf", SourceType: domain.SourceTypeDocument,
		Status: domain.IngestionStatusSuccess, Message: "stored 3 chunks", ChunksStored: 3,
		ArchiveKey: tenant + "/deck.pdf", UpdatedAt: now,
	}
	require.NoError(t, repo.Upsert(ctx, src))

	src.ChunksStored = 5
	src.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.Upsert(ctx, src))
	require.NoError(t, repo.Upsert(ctx, &domain.KnowledgeSource{
		TenantID: tenant, SourceName: "notes", SourceType: domain.SourceTypeManual,
		Status: domain.IngestionStatusSuccess, ChunksStored: 1, UpdatedAt: now,
	}))

	got, err := repo.Get(ctx, tenant, "deck.pdf")
	require.NoError(t, err)
	assert.Equal(t, 5, got.ChunksStored)
	assert.Equal(t, tenant+"/deck.pdf", got.ArchiveKey)

	list, err := repo.List(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "deck.pdf", list[0].SourceName)
	assert.Empty(t, list[1].ArchiveKey)

	require.NoError(t, repo.Delete(ctx, tenant, "deck.pdf"))
	assert.ErrorIs(t, repo.Delete(ctx, tenant, "deck.pdf"), domain.ErrSourceNotFound)
	_, err = repo.Get(ctx, tenant, "deck.pdf")
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}
