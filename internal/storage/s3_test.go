//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/cloo-solutions/salesdojo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRustFSContainer(ctx, t)
	defer rc.Terminate(ctx)

	archive, err := NewArchive(ctx, ArchiveConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "dojo-documents",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, archive.EnsureBucket(ctx))
	require.NoError(t, archive.EnsureBucket(ctx))

	key := "company-1/pricing.pdf"
	require.NoError(t, archive.Put(ctx, key, []byte("%PDF-1.4 fake"), "application/pdf"))

	got, err := archive.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(got))

	require.NoError(t, archive.Put(ctx, key, []byte("v2"), ""))
	got, err = archive.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, archive.Delete(ctx, key))
	_, err = archive.Get(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.NoError(t, archive.Delete(ctx, key))
}
