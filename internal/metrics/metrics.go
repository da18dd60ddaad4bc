// Package metrics defines the Prometheus collectors of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "salesdojo"

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	RetrievalLatency   prometheus.Histogram
	ContextFallbacks   *prometheus.CounterVec
	IngestionItems     *prometheus.CounterVec
	ChunksStored       prometheus.Counter
	EmbeddingRequests  *prometheus.CounterVec
	EmbeddingLatency   prometheus.Histogram
	WebhookEvents      *prometheus.CounterVec
	SessionTransitions *prometheus.CounterVec
	PagesScraped       *prometheus.CounterVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RetrievalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Latency of knowledge retrieval including query embedding",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
		}),
		ContextFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_fallbacks_total",
			Help:      "Live context requests answered with empty context, by reason",
		}, []string{"reason"}),
		IngestionItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_items_total",
			Help:      "Ingested sources by source type and status",
		}, []string{"source_type", "status"}),
		ChunksStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_stored_total",
			Help:      "Chunks written to the knowledge store",
		}),
		EmbeddingRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider calls by outcome",
		}, []string{"outcome"}),
		EmbeddingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Latency of a single embedding provider call",
			Buckets:   prometheus.DefBuckets,
		}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Call provider webhook events by event type and outcome",
		}, []string{"event", "outcome"}),
		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Call session state transitions by target state",
		}, []string{"state"}),
		PagesScraped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraper_pages_total",
			Help:      "Website pages fetched by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalLatency.Observe(d.Seconds())
}

func (m *Metrics) ContextFallback(reason string) {
	if m == nil {
		return
	}
	m.ContextFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) IngestionItem(sourceType, status string, chunks int) {
	if m == nil {
		return
	}
	m.IngestionItems.WithLabelValues(sourceType, status).Inc()
	m.ChunksStored.Add(float64(chunks))
}

func (m *Metrics) EmbeddingRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(outcome).Inc()
	m.EmbeddingLatency.Observe(d.Seconds())
}

func (m *Metrics) WebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) PageScraped(outcome string) {
	if m == nil {
		return
	}
	m.PagesScraped.WithLabelValues(outcome).Inc()
}
