package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrievalQueryResolve(t *testing.T) {
	defaults := RetrievalDefaults{TopK: 3, MaxTopK: 10, Threshold: 0.75}
	half := 0.5
	tooHigh := 1.5

	topK, threshold, err := RetrievalQuery{TenantID: "t1", Text: "q"}.Resolve(defaults)
	require.NoError(t, err)
	assert.Equal(t, 3, topK)
	assert.InDelta(t, 0.75, threshold, 1e-9)

	topK, threshold, err = RetrievalQuery{TenantID: "t1", TopK: 5, Threshold: &half}.Resolve(defaults)
	require.NoError(t, err)
	assert.Equal(t, 5, topK)
	assert.InDelta(t, 0.5, threshold, 1e-9)

	_, _, err = RetrievalQuery{TenantID: "t1", TopK: 11}.Resolve(defaults)
	assert.True(t, errors.Is(err, ErrInvalidRetrievalQuery))

	_, _, err = RetrievalQuery{TenantID: "t1", Threshold: &tooHigh}.Resolve(defaults)
	assert.True(t, errors.Is(err, ErrInvalidRetrievalQuery))

	_, _, err = RetrievalQuery{Text: "q"}.Resolve(defaults)
	assert.True(t, errors.Is(err, ErrTenantViolation))
}

func TestSortResultsTieBreak(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	results := []RetrievalResult{
		{ChunkID: "a", Similarity: 0.8, CreatedAt: older},
		{ChunkID: "b", Similarity: 0.9, CreatedAt: older},
		{ChunkID: "c", Similarity: 0.8, CreatedAt: newer},
		{ChunkID: "d", Similarity: 0.8, CreatedAt: newer},
	}

	SortResults(results)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.ChunkID)
	}
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))

	got := FormatContext([]RetrievalResult{
		{SourceType: SourceTypeDocument, SourceName: "catalog.pdf", Similarity: 0.873, Content: " Delivery in 5 days. "},
		{SourceType: SourceTypeWebsite, SourceName: "https://acme.test/faq", Similarity: 0.8, Content: "Returns accepted."},
	})

	assert.Equal(t,
		"[Source 1 - document: catalog.pdf] (relevance: 87%)\nDelivery in 5 days.\n\n"+
			"[Source 2 - website: https://acme.test/faq] (relevance: 80%)\nReturns accepted.",
		got)
}
