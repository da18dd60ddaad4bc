package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/metrics"
	"github.com/cloo-solutions/salesdojo/internal/telemetry"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// Extractor turns raw document bytes into plain text.
type Extractor interface {
	Extract(name string, data []byte) (string, error)
}

// SiteCrawler fetches the pages of a website.
type SiteCrawler interface {
	Crawl(ctx context.Context, req domain.CrawlRequest) ([]domain.CrawledPage, error)
}

// BatchEmbedder embeds many texts and reports per-text outcomes.
type BatchEmbedder interface {
	EmbedAll(ctx context.Context, texts []string) []EmbeddingOutcome
}

// IngestionOrchestrator runs extraction, chunking, embedding and storage
// for each input independently. One input's failure never affects another.
type IngestionOrchestrator struct {
	chunker   *Chunker
	embedder  BatchEmbedder
	tx        TxRunner
	extractor Extractor
	archive   DocumentArchive
	crawler   SiteCrawler
	pool      *ants.Pool
	uuidGen   UUIDGenerator
	now       Clock
	dims      int
	maxUpload int64
	maxPages  int
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
}

// IngestionOption configures an IngestionOrchestrator.
type IngestionOption func(*IngestionOrchestrator) error

// WithConcurrency sets how many inputs are processed at once.
func WithConcurrency(n int) IngestionOption {
	return func(o *IngestionOrchestrator) error {
		if n < 1 {
			n = 1
		}
		if o.pool != nil {
			o.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		o.pool = pool
		return nil
	}
}

// WithExtractor sets the document text extractor.
func WithExtractor(e Extractor) IngestionOption {
	return func(o *IngestionOrchestrator) error {
		o.extractor = e
		return nil
	}
}

// WithArchive stores raw uploads before they are chunked.
func WithArchive(a DocumentArchive) IngestionOption {
	return func(o *IngestionOrchestrator) error {
		o.archive = a
		return nil
	}
}

// WithCrawler enables website ingestion. maxPages caps every request.
func WithCrawler(c SiteCrawler, maxPages int) IngestionOption {
	return func(o *IngestionOrchestrator) error {
		o.crawler = c
		o.maxPages = maxPages
		return nil
	}
}

// WithLimits sets the expected embedding dimension and the upload cap in
// bytes. Zero leaves a limit unchecked.
func WithLimits(dims int, maxUploadBytes int64) IngestionOption {
	return func(o *IngestionOrchestrator) error {
		o.dims = dims
		o.maxUpload = maxUploadBytes
		return nil
	}
}

// WithIngestionLogger sets the logger.
func WithIngestionLogger(l logrus.FieldLogger) IngestionOption {
	return func(o *IngestionOrchestrator) error {
		if l != nil {
			o.logger = l
		}
		return nil
	}
}

// WithIngestionMetrics sets the metrics sink.
func WithIngestionMetrics(m *metrics.Metrics) IngestionOption {
	return func(o *IngestionOrchestrator) error {
		o.metrics = m
		return nil
	}
}

// WithIngestionIDs overrides id generation and the clock (for testing).
func WithIngestionIDs(gen UUIDGenerator, now Clock) IngestionOption {
	return func(o *IngestionOrchestrator) error {
		if gen != nil {
			o.uuidGen = gen
		}
		if now != nil {
			o.now = now
		}
		return nil
	}
}

// NewIngestionOrchestrator creates an orchestrator. Call Close to release
// its worker pool.
func NewIngestionOrchestrator(chunker *Chunker, embedder BatchEmbedder, tx TxRunner, opts ...IngestionOption) (*IngestionOrchestrator, error) {
	o := &IngestionOrchestrator{
		chunker:  chunker,
		embedder: embedder,
		tx:       tx,
		uuidGen:  &DefaultUUIDGenerator{},
		now:      utcNow,
		logger:   logrus.StandardLogger(),
	}

	for _, opt := range append([]IngestionOption{WithConcurrency(4)}, opts...) {
		if err := opt(o); err != nil {
			o.Close()
			return nil, err
		}
	}
	return o, nil
}

// Close releases the worker pool.
func (o *IngestionOrchestrator) Close() {
	if o.pool != nil {
		o.pool.Release()
	}
}

// IngestDocuments processes docs concurrently and returns one report per
// input, in input order.
func (o *IngestionOrchestrator) IngestDocuments(ctx context.Context, docs []domain.Document) []domain.IngestionReport {
	reports := make([]domain.IngestionReport, len(docs))

	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		err := o.pool.Submit(func() {
			defer wg.Done()
			reports[i] = o.ingest(ctx, doc)
		})
		if err != nil {
			wg.Done()
			reports[i] = o.fail(doc, fmt.Errorf("ingestion pool unavailable: %w", err))
		}
	}
	wg.Wait()

	return reports
}

// IngestText stores free text under a manual source name.
func (o *IngestionOrchestrator) IngestText(ctx context.Context, tenantID, sourceName, content string) domain.IngestionReport {
	return o.ingest(ctx, domain.Document{
		TenantID:   tenantID,
		SourceName: domain.SanitizeSourceName(sourceName),
		SourceType: domain.SourceTypeManual,
		Text:       content,
	})
}

// IngestWebsite crawls req.URL and stores each page as its own source,
// named by the page URL.
func (o *IngestionOrchestrator) IngestWebsite(ctx context.Context, req domain.CrawlRequest) ([]domain.IngestionReport, error) {
	if req.TenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	if o.crawler == nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "website ingestion is not configured")
	}
	if req.MaxPages <= 0 || (o.maxPages > 0 && req.MaxPages > o.maxPages) {
		req.MaxPages = o.maxPages
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestionOrchestrator.IngestWebsite", telemetry.SpanAttributes{
		TenantID:   req.TenantID,
		SourceName: req.URL,
		Operation:  "crawl",
	})
	defer span.End()

	pages, err := o.crawler.Crawl(ctx, req)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	var (
		docs    []domain.Document
		reports []domain.IngestionReport
	)
	for _, p := range pages {
		if p.Err != nil {
			o.metrics.PageScraped("error")
			reports = append(reports, domain.IngestionReport{
				SourceName: p.URL,
				Status:     domain.IngestionStatusError,
				Message:    p.Err.Error(),
			})
			o.metrics.IngestionItem(string(domain.SourceTypeWebsite), string(domain.IngestionStatusError), 0)
			continue
		}
		o.metrics.PageScraped("ok")
		docs = append(docs, domain.Document{
			TenantID:   req.TenantID,
			SourceName: p.URL,
			SourceType: domain.SourceTypeWebsite,
			Text:       p.Text,
		})
	}

	return append(o.IngestDocuments(ctx, docs), reports...), nil
}

func (o *IngestionOrchestrator) ingest(ctx context.Context, doc domain.Document) domain.IngestionReport {
	ctx, span := telemetry.StartSpan(ctx, "IngestionOrchestrator.ingest", telemetry.SpanAttributes{
		TenantID:   doc.TenantID,
		SourceName: doc.SourceName,
		Operation:  string(doc.SourceType),
	})
	defer span.End()

	log := o.logger.WithFields(logrus.Fields{
		"tenant_id":   doc.TenantID,
		"source_name": doc.SourceName,
		"source_type": doc.SourceType,
	})

	switch {
	case doc.TenantID == "":
		return o.fail(doc, domain.ErrTenantViolation)
	case doc.SourceName == "":
		return o.fail(doc, domain.ErrMissingRequiredField.WithCause(errors.New("source name is required")))
	case !doc.SourceType.IsValid():
		return o.fail(doc, domain.ErrInvalidSourceType)
	case o.maxUpload > 0 && int64(len(doc.Raw)) > o.maxUpload:
		return o.fail(doc, domain.ErrDocumentTooLarge)
	}

	text := doc.Text
	if !doc.HasText() {
		if o.extractor == nil {
			return o.fail(doc, domain.ErrUnsupportedDocument)
		}
		var err error
		if text, err = o.extractor.Extract(doc.SourceName, doc.Raw); err != nil {
			return o.fail(doc, err)
		}
	}

	items, truncated, err := o.chunker.Split(doc, text)
	if err != nil {
		return o.fail(doc, err)
	}
	if truncated {
		log.WithField("max_chunks", o.chunker.MaxChunks()).Warn("document exceeds chunk cap, remainder dropped")
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	outcomes := o.embedder.EmbedAll(ctx, texts)

	now := o.now()
	chunks := make([]*domain.Chunk, 0, len(items))
	var firstErr error
	for i, it := range items {
		if outcomes[i].Err != nil {
			if firstErr == nil {
				firstErr = outcomes[i].Err
			}
			continue
		}
		c := &domain.Chunk{
			ID:         o.uuidGen.NewString(),
			TenantID:   doc.TenantID,
			Content:    it.Text,
			SourceType: doc.SourceType,
			SourceName: doc.SourceName,
			ChunkIndex: it.Index,
			Embedding:  outcomes[i].Vector,
			CreatedAt:  now,
		}
		dims := o.dims
		if dims == 0 {
			dims = len(c.Embedding)
		}
		if err := domain.ValidateChunk(c, dims); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		chunks = append(chunks, c)
	}
	failed := len(items) - len(chunks)

	if len(chunks) == 0 {
		return o.fail(doc, fmt.Errorf("no chunk could be embedded: %w", firstErr))
	}

	archiveKey := ""
	if o.archive != nil && !doc.HasText() {
		key := doc.TenantID + "/" + doc.SourceName
		if err := o.archive.Put(ctx, key, doc.Raw, contentTypeFor(doc.SourceName)); err != nil {
			log.WithError(err).Warn("failed to archive document, continuing without archive")
		} else {
			archiveKey = key
		}
	}

	message := fmt.Sprintf("stored %d chunks", len(chunks))
	if failed > 0 {
		message += fmt.Sprintf(", %d failed", failed)
	}
	if truncated {
		message += fmt.Sprintf(", truncated at %d", o.chunker.MaxChunks())
	}

	err = o.tx.WithTx(ctx, func(repos TxRepositories) error {
		if _, err := repos.Chunks().DeleteBySource(ctx, doc.TenantID, doc.SourceName); err != nil {
			return err
		}
		if err := repos.Chunks().InsertBatch(ctx, chunks); err != nil {
			return err
		}
		return repos.Sources().Upsert(ctx, &domain.KnowledgeSource{
			TenantID:     doc.TenantID,
			SourceName:   doc.SourceName,
			SourceType:   doc.SourceType,
			Status:       domain.IngestionStatusSuccess,
			Message:      message,
			ChunksStored: len(chunks),
			ArchiveKey:   archiveKey,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		span.SetError(err)
		return o.fail(doc, domain.ErrStorageOperation.WithCause(err))
	}

	log.WithFields(logrus.Fields{
		"chunks_stored": len(chunks),
		"chunks_failed": failed,
		"truncated":     truncated,
	}).Info("source ingested")
	o.metrics.IngestionItem(string(doc.SourceType), string(domain.IngestionStatusSuccess), len(chunks))

	return domain.IngestionReport{
		SourceName:   doc.SourceName,
		Status:       domain.IngestionStatusSuccess,
		Message:      message,
		ChunksStored: len(chunks),
		ChunksFailed: failed,
		Truncated:    truncated,
	}
}

func (o *IngestionOrchestrator) fail(doc domain.Document, err error) domain.IngestionReport {
	o.logger.WithError(err).WithFields(logrus.Fields{
		"tenant_id":   doc.TenantID,
		"source_name": doc.SourceName,
	}).Warn("ingestion failed")
	o.metrics.IngestionItem(string(doc.SourceType), string(domain.IngestionStatusError), 0)

	return domain.IngestionReport{
		SourceName: doc.SourceName,
		Status:     domain.IngestionStatusError,
		Message:    err.Error(),
	}
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
