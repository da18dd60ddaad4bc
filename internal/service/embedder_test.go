package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/logging"
	"github.com/cloo-solutions/salesdojo/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 64

var (
	errTransient = errors.New("429 too many requests")
	errRejected  = errors.New("400 invalid input")
)

// bagEmbedder maps each lower-cased word to a hashed dimension, so texts
// sharing words are close in cosine space.
type bagEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	// failFirst makes the first n calls fail with errTransient.
	failFirst int
	// reject fails any batch containing this text with errRejected.
	reject string
	delay  time.Duration
}

func (b *bagEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.batches = append(b.batches, texts)
	call := len(b.batches)
	b.mu.Unlock()

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if call <= b.failFirst {
		return nil, errTransient
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if b.reject != "" && t == b.reject {
			return nil, errRejected
		}
		out[i] = bagVector(t)
	}
	return out, nil
}

func (b *bagEmbedder) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *bagEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	v, err := b.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func bagVector(text string) []float32 {
	v := make([]float32, testDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,;:!?")))
		v[h.Sum32()%testDims]++
	}
	return v
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func transientOnly(err error) bool { return errors.Is(err, errTransient) }

func newTestEmbedder(p EmbeddingProvider, batch int) *Embedder {
	return NewEmbedder(p, EmbedderConfig{
		BatchSize: batch,
		Parallel:  2,
		Retry:     fastPolicy(),
		Retryable: transientOnly,
	}, logging.Discard(), nil)
}

func TestEmbedder_EmbedAllBatchesAndAligns(t *testing.T) {
	provider := &bagEmbedder{}
	e := newTestEmbedder(provider, 2)

	texts := []string{"one", "two", "three", "four", "five"}
	out := e.EmbedAll(context.Background(), texts)

	require.Len(t, out, len(texts))
	for i, o := range out {
		require.NoError(t, o.Err)
		assert.Equal(t, bagVector(texts[i]), o.Vector)
	}
	assert.Equal(t, 3, provider.calls())
}

func TestEmbedder_RetriesTransientErrors(t *testing.T) {
	provider := &bagEmbedder{failFirst: 2}
	e := newTestEmbedder(provider, 10)

	out := e.EmbedAll(context.Background(), []string{"a", "b"})

	for _, o := range out {
		require.NoError(t, o.Err)
	}
	assert.Equal(t, 3, provider.calls())
}

func TestEmbedder_ExhaustedRetriesFailOnlyThatBatch(t *testing.T) {
	provider := &bagEmbedder{failFirst: 3}
	e := NewEmbedder(provider, EmbedderConfig{
		BatchSize: 2,
		Parallel:  1,
		Retry:     fastPolicy(),
		Retryable: transientOnly,
	}, logging.Discard(), nil)

	out := e.EmbedAll(context.Background(), []string{"a", "b", "c"})

	assert.ErrorIs(t, out[0].Err, domain.ErrEmbeddingFailed)
	assert.ErrorIs(t, out[1].Err, domain.ErrEmbeddingFailed)
	require.NoError(t, out[2].Err)
	assert.NotNil(t, out[2].Vector)
}

func TestEmbedder_RejectedBatchFallsBackToSingleInputs(t *testing.T) {
	provider := &bagEmbedder{reject: "poison"}
	e := newTestEmbedder(provider, 3)

	out := e.EmbedAll(context.Background(), []string{"good one", "poison", "good two"})

	require.NoError(t, out[0].Err)
	assert.ErrorIs(t, out[1].Err, domain.ErrEmbeddingFailed)
	require.NoError(t, out[2].Err)
	// one rejected batch, then three single calls
	assert.Equal(t, 4, provider.calls())
}

func TestEmbedder_EmbedOne(t *testing.T) {
	e := newTestEmbedder(&bagEmbedder{}, 8)

	v, err := e.EmbedOne(context.Background(), "prazo de entrega")

	require.NoError(t, err)
	assert.Equal(t, bagVector("prazo de entrega"), v)
}

func TestEmbedder_EmptyInput(t *testing.T) {
	provider := &bagEmbedder{}
	e := newTestEmbedder(provider, 8)

	assert.Empty(t, e.EmbedAll(context.Background(), nil))
	assert.Zero(t, provider.calls())
}
