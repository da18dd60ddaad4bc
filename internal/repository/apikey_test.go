//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyAndAPIKeyRepositories(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	companies := NewCompanyRepository(pool)
	keys := NewAPIKeyRepository(pool)

	company := &domain.Company{
		ID:        uuid.NewString(),
		Name:      "Acme",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, companies.Create(ctx, company))

	t.Run("duplicate company name", func(t *testing.T) {
		err := companies.Create(ctx, &domain.Company{ID: uuid.NewString(), Name: "Acme", CreatedAt: time.Now()})
		assert.ErrorIs(t, err, domain.ErrCompanyAlreadyExists)
	})

	t.Run("lookup", func(t *testing.T) {
		byID, err := companies.GetByID(ctx, company.ID)
		require.NoError(t, err)
		assert.Equal(t, "Acme", byID.Name)

		byName, err := companies.GetByName(ctx, "Acme")
		require.NoError(t, err)
		assert.Equal(t, company.ID, byName.ID)

		_, err = companies.GetByName(ctx, "Globex")
		assert.ErrorIs(t, err, domain.ErrCompanyNotFound)

		all, err := companies.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	key1 := &domain.APIKey{ID: uuid.NewString(), CompanyID: company.ID, Name: "Key 1", KeyHash: "hash1", CreatedAt: time.Now().UTC().Truncate(time.Microsecond)}
	key2 := &domain.APIKey{ID: uuid.NewString(), CompanyID: company.ID, Name: "Key 2", KeyHash: "hash2", CreatedAt: time.Now().UTC().Add(time.Second).Truncate(time.Microsecond)}
	require.NoError(t, keys.Create(ctx, key1))
	require.NoError(t, keys.Create(ctx, key2))

	t.Run("keys by company newest first", func(t *testing.T) {
		list, err := keys.GetByCompanyID(ctx, company.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "Key 2", list[0].Name)
		assert.Equal(t, "Key 1", list[1].Name)
	})

	t.Run("orphan key", func(t *testing.T) {
		err := keys.Create(ctx, &domain.APIKey{ID: uuid.NewString(), CompanyID: uuid.NewString(), Name: "x", KeyHash: "h", CreatedAt: time.Now()})
		assert.Error(t, err)
	})

	t.Run("duplicate hash", func(t *testing.T) {
		err := keys.Create(ctx, &domain.APIKey{ID: uuid.NewString(), CompanyID: company.ID, Name: "dup", KeyHash: "hash1", CreatedAt: time.Now()})
		assert.ErrorIs(t, err, domain.ErrAPIKeyAlreadyExists)
	})

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, keys.Revoke(ctx, key1.ID))

		got, err := keys.GetByHash(ctx, "hash1")
		require.NoError(t, err)
		assert.True(t, got.IsRevoked())

		assert.ErrorIs(t, keys.Revoke(ctx, key1.ID), domain.ErrAPIKeyNotFound)
		_, err = keys.GetByHash(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
	})
}
