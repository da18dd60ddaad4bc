package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// ChunkRepository persists chunks and answers tenant-scoped similarity
// searches. Every method takes the tenant explicitly.
type ChunkRepository interface {
	Upsert(ctx context.Context, c *domain.Chunk) error
	InsertBatch(ctx context.Context, chunks []*domain.Chunk) error
	DeleteBySource(ctx context.Context, tenantID, sourceName string) (int64, error)
	Search(ctx context.Context, tenantID string, vector []float32, topK int, threshold float64) ([]domain.RetrievalResult, error)
	Stats(ctx context.Context, tenantID string) (*KnowledgeStats, error)
}

// SourceRepository tracks the known sources of each tenant.
type SourceRepository interface {
	Upsert(ctx context.Context, src *domain.KnowledgeSource) error
	Get(ctx context.Context, tenantID, sourceName string) (*domain.KnowledgeSource, error)
	List(ctx context.Context, tenantID string) ([]*domain.KnowledgeSource, error)
	Delete(ctx context.Context, tenantID, sourceName string) error
}

// DocumentArchive keeps the raw bytes of uploaded documents.
type DocumentArchive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// KnowledgeStats are the raw counters behind a KnowledgeStatus.
type KnowledgeStats struct {
	Sources     int
	Chunks      int
	Embedded    int
	LastUpdated *time.Time
	// Unready counts known sources without any embedded chunk.
	Unready int
}

// Status derives the readiness summary. A tenant with no sources is not
// ready.
func (s KnowledgeStats) Status() *domain.KnowledgeStatus {
	return &domain.KnowledgeStatus{
		TotalDocuments:  s.Sources,
		TotalChunks:     s.Chunks,
		TotalEmbeddings: s.Embedded,
		LastUpdated:     s.LastUpdated,
		IsReady:         s.Sources > 0 && s.Unready == 0,
	}
}

// KnowledgeService answers status queries and removes sources.
type KnowledgeService struct {
	chunks  ChunkRepository
	sources SourceRepository
	tx      TxRunner
	archive DocumentArchive
	logger  logrus.FieldLogger
}

// NewKnowledgeService creates a KnowledgeService. archive may be nil.
func NewKnowledgeService(chunks ChunkRepository, sources SourceRepository, tx TxRunner, archive DocumentArchive, logger logrus.FieldLogger) *KnowledgeService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KnowledgeService{
		chunks:  chunks,
		sources: sources,
		tx:      tx,
		archive: archive,
		logger:  logger,
	}
}

// Status summarises the tenant's knowledge base.
func (s *KnowledgeService) Status(ctx context.Context, tenantID string) (*domain.KnowledgeStatus, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Status", telemetry.SpanAttributes{
		TenantID: tenantID,
	})
	defer span.End()

	stats, err := s.chunks.Stats(ctx, tenantID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return stats.Status(), nil
}

// Sources lists the tenant's known sources, most recently updated first.
func (s *KnowledgeService) Sources(ctx context.Context, tenantID string) ([]*domain.KnowledgeSource, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantViolation
	}
	return s.sources.List(ctx, tenantID)
}

// DeleteSource removes every chunk sharing (tenantID, sourceName) and the
// source record, and returns the number of chunks removed.
func (s *KnowledgeService) DeleteSource(ctx context.Context, tenantID, sourceName string) (int64, error) {
	if tenantID == "" {
		return 0, domain.ErrTenantViolation
	}
	if sourceName == "" {
		return 0, domain.ErrMissingRequiredField
	}
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.DeleteSource", telemetry.SpanAttributes{
		TenantID:   tenantID,
		SourceName: sourceName,
	})
	defer span.End()

	var (
		deleted    int64
		archiveKey string
	)
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		n, err := repos.Chunks().DeleteBySource(ctx, tenantID, sourceName)
		if err != nil {
			return err
		}
		deleted = n

		src, err := repos.Sources().Get(ctx, tenantID, sourceName)
		switch {
		case errors.Is(err, domain.ErrSourceNotFound):
			if n == 0 {
				return domain.ErrSourceNotFound
			}
			return nil
		case err != nil:
			return err
		}
		archiveKey = src.ArchiveKey
		return repos.Sources().Delete(ctx, tenantID, sourceName)
	})
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	if archiveKey != "" && s.archive != nil {
		if err := s.archive.Delete(ctx, archiveKey); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id":   tenantID,
				"source_name": sourceName,
			}).Warn("failed to delete archived document")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":       tenantID,
		"source_name":     sourceName,
		"entries_deleted": deleted,
	}).Info("knowledge source deleted")
	return deleted, nil
}
