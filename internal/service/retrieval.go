package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/metrics"
	"github.com/cloo-solutions/salesdojo/internal/telemetry"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// QueryEmbedder embeds a single live query.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher is the read side of the knowledge store.
type ChunkSearcher interface {
	Search(ctx context.Context, tenantID string, vector []float32, topK int, threshold float64) ([]domain.RetrievalResult, error)
}

// RetrievalEngine turns free text into the ranked chunks of one tenant.
type RetrievalEngine struct {
	embedder QueryEmbedder
	store    ChunkSearcher
	defaults domain.RetrievalDefaults
	vectors  *cache.Cache
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
}

// NewRetrievalEngine creates a RetrievalEngine. Query vectors are cached
// for cacheTTL; zero disables the cache.
func NewRetrievalEngine(
	embedder QueryEmbedder,
	store ChunkSearcher,
	defaults domain.RetrievalDefaults,
	cacheTTL time.Duration,
	logger logrus.FieldLogger,
	m *metrics.Metrics,
) *RetrievalEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &RetrievalEngine{
		embedder: embedder,
		store:    store,
		defaults: defaults,
		logger:   logger,
		metrics:  m,
	}
	if cacheTTL > 0 {
		e.vectors = cache.New(cacheTTL, 2*cacheTTL)
	}
	return e
}

// Defaults returns the configured ranking limits.
func (e *RetrievalEngine) Defaults() domain.RetrievalDefaults {
	return e.defaults
}

// Retrieve returns at most top-k chunks of q.TenantID whose similarity
// clears the threshold, in ranking order. Blank text or no match yields an
// empty slice and no error.
func (e *RetrievalEngine) Retrieve(ctx context.Context, q domain.RetrievalQuery) ([]domain.RetrievalResult, error) {
	topK, threshold, err := q.Resolve(e.defaults)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "RetrievalEngine.Retrieve", telemetry.SpanAttributes{
		TenantID:  q.TenantID,
		Operation: "retrieve",
	})
	defer span.End()

	started := time.Now()
	defer func() { e.metrics.ObserveRetrieval(time.Since(started)) }()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []domain.RetrievalResult{}, nil
	}

	vector, err := e.queryVector(ctx, text)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	hits, err := e.store.Search(ctx, q.TenantID, vector, topK, threshold)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	results := make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if h.TenantID != q.TenantID {
			err := domain.ErrTenantViolation.WithCause(fmt.Errorf("chunk %s of tenant %s returned for tenant %s", h.ChunkID, h.TenantID, q.TenantID))
			e.logger.WithError(err).WithField("tenant_id", q.TenantID).Error("knowledge store leaked a foreign chunk")
			telemetry.CaptureError(ctx, err)
			return nil, err
		}
		if h.Similarity < threshold {
			continue
		}
		results = append(results, h)
	}

	domain.SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Context retrieves and renders the result as a prompt-ready block.
func (e *RetrievalEngine) Context(ctx context.Context, q domain.RetrievalQuery) (string, error) {
	results, err := e.Retrieve(ctx, q)
	if err != nil {
		return "", err
	}
	return domain.FormatContext(results), nil
}

func (e *RetrievalEngine) queryVector(ctx context.Context, text string) ([]float32, error) {
	if e.vectors == nil {
		return e.embedder.EmbedOne(ctx, text)
	}

	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])
	if v, ok := e.vectors.Get(key); ok {
		return v.([]float32), nil
	}

	vector, err := e.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	e.vectors.SetDefault(key, vector)
	return vector, nil
}
