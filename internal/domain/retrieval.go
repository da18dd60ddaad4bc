package domain

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// RetrievalQuery asks for the chunks of one tenant closest to Text.
// A zero TopK or nil Threshold means "use the configured default".
type RetrievalQuery struct {
	TenantID  string
	Text      string
	TopK      int
	Threshold *float64
}

// RetrievalDefaults carries the configured ranking limits.
type RetrievalDefaults struct {
	TopK      int
	MaxTopK   int
	Threshold float64
}

// Resolve validates q and returns its effective top-k and threshold.
func (q RetrievalQuery) Resolve(d RetrievalDefaults) (int, float64, error) {
	if q.TenantID == "" {
		return 0, 0, ErrTenantViolation.WithCause(fmt.Errorf("retrieval without tenant"))
	}

	topK := q.TopK
	if topK == 0 {
		topK = d.TopK
	}
	if topK < 0 || (d.MaxTopK > 0 && topK > d.MaxTopK) {
		return 0, 0, ErrInvalidRetrievalQuery.WithCause(fmt.Errorf("top_k must be between 1 and %d", d.MaxTopK))
	}

	threshold := d.Threshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return 0, 0, ErrInvalidRetrievalQuery.WithCause(fmt.Errorf("similarity_threshold must be between 0 and 1"))
	}
	return topK, threshold, nil
}

// RetrievalResult is one ranked hit. Similarity is 1 - cosine distance.
type RetrievalResult struct {
	ChunkID    string
	TenantID   string
	Content    string
	SourceName string
	SourceType SourceType
	Similarity float64
	CreatedAt  time.Time
}

// CompareResults orders by similarity descending, then most recent
// created_at, then chunk id so the order is total.
func CompareResults(a, b RetrievalResult) int {
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ChunkID, b.ChunkID)
}

// SortResults sorts results in ranking order.
func SortResults(results []RetrievalResult) {
	slices.SortStableFunc(results, CompareResults)
}

// FormatContext renders ranked results as numbered blocks for a live
// conversation. An empty slice yields an empty string.
func FormatContext(results []RetrievalResult) string {
	if len(results) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(results))
	for i, r := range results {
		blocks = append(blocks, fmt.Sprintf("[Source %d - %s: %s] (relevance: %.0f%%)\n%s",
			i+1, r.SourceType, r.SourceName, r.Similarity*100, strings.TrimSpace(r.Content)))
	}
	return strings.Join(blocks, "\n\n")
}
