package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/salesdojo/internal/callprovider"
	"github.com/cloo-solutions/salesdojo/internal/config"
	"github.com/cloo-solutions/salesdojo/internal/database"
	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/extract"
	"github.com/cloo-solutions/salesdojo/internal/logging"
	"github.com/cloo-solutions/salesdojo/internal/metrics"
	"github.com/cloo-solutions/salesdojo/internal/openai"
	"github.com/cloo-solutions/salesdojo/internal/repository"
	"github.com/cloo-solutions/salesdojo/internal/retry"
	"github.com/cloo-solutions/salesdojo/internal/scraper"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/cloo-solutions/salesdojo/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

var errNoEmbeddings = errors.New("knowledge ingestion and search need DOJO_OPENAI_API_KEY")

// app holds the process wide dependencies shared by serve and the
// knowledge commands.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	pool     *pgxpool.Pool
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	companies *repository.CompanyRepository
	apiKeys   *repository.APIKeyRepository
	personas  *repository.PersonaRepository
	chunks    *repository.ChunkRepository
	sources   *repository.SourceRepository
	sessions  *repository.SessionRepository
	webhooks  *repository.WebhookEventRepository
	tx        *repository.TxRunner

	archive *storage.Archive
}

// newApp loads configuration and connects to Postgres.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		registry:  reg,
		metrics:   metrics.New(reg),
		companies: repository.NewCompanyRepository(pool),
		apiKeys:   repository.NewAPIKeyRepository(pool),
		personas:  repository.NewPersonaRepository(pool),
		chunks:    repository.NewChunkRepository(pool),
		sources:   repository.NewSourceRepository(pool),
		sessions:  repository.NewSessionRepository(pool),
		webhooks:  repository.NewWebhookEventRepository(pool),
		tx:        repository.NewTxRunner(pool),
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func (a *app) authService() *service.AuthService {
	return service.NewAuthService(a.companies, a.apiKeys, &service.DefaultUUIDGenerator{})
}

func (a *app) personaService() *service.PersonaService {
	return service.NewPersonaService(a.personas, &service.DefaultUUIDGenerator{})
}

// openArchive connects the document archive when S3 is configured.
func (a *app) openArchive(ctx context.Context) error {
	if !a.cfg.HasS3() || a.archive != nil {
		return nil
	}
	archive, err := storage.NewArchive(ctx, storage.ArchiveConfig{
		Endpoint:        a.cfg.S3Endpoint,
		Region:          a.cfg.S3Region,
		AccessKeyID:     a.cfg.S3AccessKey,
		SecretAccessKey: a.cfg.S3SecretKey,
		Bucket:          a.cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to create document archive: %w", err)
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	a.logger.WithField("bucket", a.cfg.S3Bucket).Info("document archive ready")
	a.archive = archive
	return nil
}

// documentArchive returns the archive as the interface services expect,
// nil when none is configured.
func (a *app) documentArchive() service.DocumentArchive {
	if a.archive == nil {
		return nil
	}
	return a.archive
}

func (a *app) knowledgeService() *service.KnowledgeService {
	return service.NewKnowledgeService(a.chunks, a.sources, a.tx, a.documentArchive(), a.logger)
}

// embedder returns nil when no embedding provider is configured.
func (a *app) embedder() *service.Embedder {
	if !a.cfg.HasOpenAI() {
		return nil
	}
	client := openai.NewClientWithConfig(openai.Config{
		APIKey:              a.cfg.OpenAIAPIKey,
		EmbeddingModel:      goopenai.EmbeddingModel(a.cfg.EmbeddingModel),
		EmbeddingDimensions: a.cfg.EmbeddingDimensions,
	})
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = a.cfg.EmbeddingMaxRetries
	policy.BaseDelay = a.cfg.EmbeddingBaseDelay
	policy.MaxDelay = a.cfg.EmbeddingMaxDelay

	return service.NewEmbedder(client, service.EmbedderConfig{
		BatchSize:  a.cfg.EmbeddingBatchSize,
		RatePerSec: a.cfg.EmbeddingRatePerSec,
		Retry:      policy,
		Retryable:  openai.IsRetryable,
	}, a.logger.WithField("component", "embedder"), a.metrics)
}

// ingestion builds the orchestrator. The caller closes it.
func (a *app) ingestion(embedder *service.Embedder) (*service.IngestionOrchestrator, error) {
	if embedder == nil {
		return nil, errNoEmbeddings
	}
	crawler := scraper.New(scraper.Config{
		UserAgent:  a.cfg.ScraperUserAgent,
		Timeout:    a.cfg.ScraperTimeout,
		RatePerSec: a.cfg.ScraperRatePerSec,
		MaxPages:   a.cfg.ScraperMaxPages,
	}, a.logger.WithField("component", "scraper"))

	opts := []service.IngestionOption{
		service.WithConcurrency(a.cfg.IngestConcurrency),
		service.WithExtractor(extract.New()),
		service.WithCrawler(crawler, a.cfg.ScraperMaxPages),
		service.WithLimits(a.cfg.EmbeddingDimensions, a.cfg.MaxUploadBytes()),
		service.WithIngestionLogger(a.logger.WithField("component", "ingestion")),
		service.WithIngestionMetrics(a.metrics),
	}
	if archive := a.documentArchive(); archive != nil {
		opts = append(opts, service.WithArchive(archive))
	}
	return service.NewIngestionOrchestrator(service.NewChunker(service.ChunkConfig{
		MaxChars:  a.cfg.ChunkMaxChars,
		MinChars:  a.cfg.ChunkMinChars,
		Overlap:   a.cfg.ChunkOverlap,
		MaxChunks: a.cfg.ChunkMaxPerSource,
	}), embedder, a.tx, opts...)
}

func (a *app) retrieval(embedder *service.Embedder) (*service.RetrievalEngine, error) {
	if embedder == nil {
		return nil, errNoEmbeddings
	}
	return service.NewRetrievalEngine(embedder, a.chunks, domain.RetrievalDefaults{
		TopK:      a.cfg.MaxResults,
		MaxTopK:   a.cfg.MaxTopK,
		Threshold: a.cfg.SimilarityThreshold,
	}, a.cfg.QueryCacheTTL, a.logger.WithField("component", "retrieval"), a.metrics), nil
}

// callProvider builds the voice platform client, nil when unconfigured.
func (a *app) callProvider() (*callprovider.Client, error) {
	if !a.cfg.HasCallProvider() {
		return nil, nil
	}
	profile, err := callprovider.LoadProfile(a.cfg.AssistantProfile)
	if err != nil {
		return nil, err
	}
	return callprovider.New(callprovider.Config{
		APIKey:        a.cfg.VapiAPIKey,
		BaseURL:       a.cfg.VapiBaseURL,
		WebhookURL:    a.cfg.VapiWebhookURL,
		WebhookSecret: a.cfg.VapiWebhookSecret,
		Timeout:       a.cfg.CallProviderTimeout,
	}, profile, a.logger.WithField("component", "callprovider")), nil
}
