//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/pagination"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/cloo-solutions/salesdojo/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenant := testutil.SeedCompany(ctx, t, pool, "A")
	other := testutil.SeedCompany(ctx, t, pool, "B")
	persona := testutil.SeedPersona(ctx, t, pool, tenant, "Marina")

	repo := NewSessionRepository(pool)
	base := time.Now().UTC().Truncate(time.Microsecond)

	s := domain.NewCallSession(uuid.NewString(), tenant, persona, base)
	require.NoError(t, repo.Create(ctx, s))

	t.Run("get is tenant scoped", func(t *testing.T) {
		got, err := repo.Get(ctx, tenant, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatePending, got.State)
		assert.Empty(t, got.ExternalCallID)

		_, err = repo.Get(ctx, other, s.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = repo.Get(ctx, tenant, "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("save", func(t *testing.T) {
		require.NoError(t, s.Acknowledge("call-1", "https://vapi/web/call-1", base.Add(time.Second)))
		require.NoError(t, repo.Save(ctx, s))

		d := 90
		require.NoError(t, s.Complete(base.Add(2*time.Minute), &d, domain.EndReasonProviderEnded))
		require.NoError(t, repo.Save(ctx, s))

		got, err := repo.Get(ctx, tenant, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStateCompleted, got.State)
		assert.Equal(t, "call-1", got.ExternalCallID)
		assert.Equal(t, domain.EndReasonProviderEnded, got.EndReason)
		require.NotNil(t, got.DurationSeconds)
		assert.Equal(t, 90, *got.DurationSeconds)
		require.NotNil(t, got.EndedAt)
	})

	t.Run("transcript dedup and order", func(t *testing.T) {
		entries := []domain.TranscriptEntry{
			{Role: "user", Content: "second", Timestamp: base.Add(2 * time.Second), DedupKey: "k|1"},
			{Role: "assistant", Content: "first", Timestamp: base.Add(time.Second), DedupKey: "k|0"},
		}
		n, err := repo.AppendTranscript(ctx, tenant, s.ID, entries)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = repo.AppendTranscript(ctx, tenant, s.ID, entries)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = repo.AppendTranscript(ctx, tenant, s.ID, []domain.TranscriptEntry{
			{Role: "user", Content: "no key", Timestamp: base.Add(3 * time.Second)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := repo.Transcript(ctx, tenant, s.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "first", got[0].Content)
		assert.Equal(t, "second", got[1].Content)
		assert.Equal(t, "no key", got[2].Content)

		foreign, err := repo.Transcript(ctx, other, s.ID)
		require.NoError(t, err)
		assert.Empty(t, foreign)
	})

	t.Run("cursor listing", func(t *testing.T) {
		for i := 1; i <= 4; i++ {
			require.NoError(t, repo.Create(ctx, domain.NewCallSession(uuid.NewString(), tenant, persona, base.Add(time.Duration(i)*time.Minute))))
		}

		first, err := repo.List(ctx, tenant, nil, 2)
		require.NoError(t, err)
		require.Len(t, first, 3)
		assert.True(t, first[0].StartedAt.After(first[1].StartedAt))

		cur := &pagination.Cursor{LastID: first[1].ID, Timestamp: first[1].StartedAt}
		second, err := repo.List(ctx, tenant, cur, 10)
		require.NoError(t, err)
		assert.Len(t, second, 3)
		for _, s := range second {
			assert.True(t, s.StartedAt.Before(first[1].StartedAt))
		}

		none, err := repo.List(ctx, other, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("expired open sessions", func(t *testing.T) {
		expired, err := repo.ListExpired(ctx, base.Add(150*time.Second), 10)
		require.NoError(t, err)
		// the completed session is excluded; sessions started at +1m and +2m are open
		assert.Len(t, expired, 2)
		for _, e := range expired {
			assert.False(t, e.State.IsTerminal())
		}
	})
}

func TestSessionRepository_GetForUpdateInTx(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenant := testutil.SeedCompany(ctx, t, pool, "A")
	persona := testutil.SeedPersona(ctx, t, pool, tenant, "Marina")
	now := time.Now().UTC().Truncate(time.Microsecond)
	s := domain.NewCallSession(uuid.NewString(), tenant, persona, now)
	require.NoError(t, NewSessionRepository(pool).Create(ctx, s))

	runner := NewTxRunner(pool)
	rec := &service.WebhookRecord{
		TenantID: tenant, IdempotencyKey: "call-1|call.started|seq:1", SessionID: s.ID,
		Event: domain.EventCallStarted, ReceivedAt: now,
	}

	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		locked, err := repos.Sessions().GetForUpdate(ctx, tenant, s.ID)
		if err != nil {
			return err
		}
		fresh, err := repos.WebhookEvents().Record(ctx, rec)
		if err != nil {
			return err
		}
		assert.True(t, fresh)
		if _, err := locked.MarkStarted(now); err != nil {
			return err
		}
		return repos.Sessions().Save(ctx, locked)
	})
	require.NoError(t, err)

	t.Run("duplicate record", func(t *testing.T) {
		events := NewWebhookEventRepository(pool)
		fresh, err := events.Record(ctx, rec)
		require.NoError(t, err)
		assert.False(t, fresh)

		got, err := events.Get(ctx, tenant, rec.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.SessionID)
		assert.Equal(t, domain.EventCallStarted, got.Event)

		_, err = events.Get(ctx, tenant, "missing")
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	t.Run("rollback discards the record", func(t *testing.T) {
		rolledBack := &service.WebhookRecord{
			TenantID: tenant, IdempotencyKey: "call-1|call.ended|seq:2", SessionID: s.ID,
			Event: domain.EventCallEnded, ReceivedAt: now,
		}
		err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
			if _, err := repos.WebhookEvents().Record(ctx, rolledBack); err != nil {
				return err
			}
			return domain.ErrInvalidTransition
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = NewWebhookEventRepository(pool).Get(ctx, tenant, rolledBack.IdempotencyKey)
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	got, err := NewSessionRepository(pool).Get(ctx, tenant, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateOngoing, got.State)
}

func TestPersonaRepository(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	tenant := testutil.SeedCompany(ctx, t, pool, "A")
	other := testutil.SeedCompany(ctx, t, pool, "B")
	repo := NewPersonaRepository(pool)

	_, err := repo.Random(ctx, tenant)
	assert.ErrorIs(t, err, domain.ErrNoPersonas)

	p := &domain.Persona{
		ID:                uuid.NewString(),
		TenantID:          tenant,
		Name:              "Marina",
		Role:              domain.PersonaRoleGatekeeper,
		PersonalityTraits: map[string]any{"patience": "low"},
		PainPoints:        []string{"cold calls"},
		Background:        "Assistant",
		CreatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.Get(ctx, tenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "low", got.PersonalityTraits["patience"])
	assert.Equal(t, []string{"cold calls"}, got.PainPoints)
	assert.Empty(t, got.Objections)

	_, err = repo.Get(ctx, other, p.ID)
	assert.ErrorIs(t, err, domain.ErrPersonaNotFound)

	random, err := repo.Random(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, p.ID, random.ID)

	list, err := repo.List(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
