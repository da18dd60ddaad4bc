package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/metrics"
	"github.com/cloo-solutions/salesdojo/internal/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// EmbeddingProvider turns texts into vectors, one per input and in input
// order. A provider must be safe for concurrent use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig controls batching, pacing and retries of provider calls.
type EmbedderConfig struct {
	BatchSize int
	// RatePerSec caps provider calls across all callers of one Embedder.
	// Zero disables pacing.
	RatePerSec float64
	// Parallel is the number of batches of one EmbedAll call in flight.
	Parallel int
	Retry    retry.Policy
	// Retryable classifies provider errors. Nil retries everything.
	Retryable retry.Classifier
}

// EmbeddingOutcome is the result for one input text.
type EmbeddingOutcome struct {
	Vector []float32
	Err    error
}

// Embedder batches texts for an EmbeddingProvider. It keeps no per-call
// state; the rate limiter is shared by every concurrent caller.
type Embedder struct {
	provider EmbeddingProvider
	cfg      EmbedderConfig
	limiter  *rate.Limiter
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewEmbedder(provider EmbeddingProvider, cfg EmbedderConfig, logger logrus.FieldLogger, m *metrics.Metrics) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 2
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Embedder{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		metrics:  m,
	}
}

// EmbedAll embeds texts in batches of BatchSize. The returned slice is
// aligned with texts. A batch that keeps failing marks only its own
// texts as failed; other batches are unaffected. When a batch is
// rejected outright (not a transient error), its texts are retried one
// by one so a single bad input cannot sink its neighbours.
func (e *Embedder) EmbedAll(ctx context.Context, texts []string) []EmbeddingOutcome {
	out := make([]EmbeddingOutcome, len(texts))
	if len(texts) == 0 {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallel)

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		g.Go(func() error {
			e.embedBatch(gctx, texts[start:end], out[start:end])
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// EmbedOne embeds a single text, typically a live query. The caller's
// deadline bounds the retries.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string, out []EmbeddingOutcome) {
	vectors, err := e.call(ctx, texts)
	if err == nil {
		for i, v := range vectors {
			out[i] = EmbeddingOutcome{Vector: v}
		}
		return
	}

	if len(texts) == 1 || ctx.Err() != nil || e.isRetryable(err) {
		e.logger.WithError(err).WithField("batch_size", len(texts)).Warn("embedding batch failed")
		for i := range out {
			out[i] = EmbeddingOutcome{Err: domain.ErrEmbeddingFailed.WithCause(err)}
		}
		return
	}

	e.logger.WithError(err).WithField("batch_size", len(texts)).Info("embedding batch rejected, retrying inputs individually")
	for i, text := range texts {
		v, err := e.call(ctx, []string{text})
		if err != nil {
			out[i] = EmbeddingOutcome{Err: domain.ErrEmbeddingFailed.WithCause(err)}
			continue
		}
		out[i] = EmbeddingOutcome{Vector: v[0]}
	}
}

func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	notify := func(err error, attempt int, wait time.Duration) {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
			"inputs":  len(texts),
		}).Debug("embedding call failed, backing off")
	}

	return retry.Value(ctx, e.cfg.Retry, func(ctx context.Context) ([][]float32, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		started := time.Now()
		vectors, err := e.provider.Embed(ctx, texts)
		if err != nil {
			e.metrics.EmbeddingRequest("error", time.Since(started))
			return nil, err
		}
		if len(vectors) != len(texts) {
			e.metrics.EmbeddingRequest("error", time.Since(started))
			return nil, errors.New("embedding provider returned a mismatched batch")
		}
		e.metrics.EmbeddingRequest("success", time.Since(started))
		return vectors, nil
	}, e.cfg.Retryable, notify)
}

func (e *Embedder) isRetryable(err error) bool {
	if e.cfg.Retryable == nil {
		return true
	}
	return e.cfg.Retryable(err)
}
