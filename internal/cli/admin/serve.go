package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/api/handlers"
	"github.com/cloo-solutions/salesdojo/internal/database"
	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/jobs"
	"github.com/cloo-solutions/salesdojo/internal/server"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/cloo-solutions/salesdojo/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the sales dojo API server, the webhook receiver and the session watchdog",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides DOJO_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	if cfg.HasSentry() {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: cfg.SentryTracesSampleRate,
			Logger:           logger,
		})
		if err != nil {
			logger.WithError(err).Warn("telemetry init failed, continuing without tracing")
		} else {
			defer shutdownTelemetry()
		}
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if _, err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if cfg.InitCompanyName != "" {
		if err := bootstrapInitialCompany(ctx, a); err != nil {
			return fmt.Errorf("failed to bootstrap initial company: %w", err)
		}
	}

	if err := a.openArchive(ctx); err != nil {
		return err
	}

	var (
		ingestor  handlers.Ingestor        = noOpIngestor{}
		retriever handlers.Retriever       = noOpRetriever{}
		contexts  service.ContextRetriever = noOpRetriever{}
		provider  service.CallProvider     = noOpCallProvider{}
	)
	if embedder := a.embedder(); embedder != nil {
		orchestrator, err := a.ingestion(embedder)
		if err != nil {
			return err
		}
		defer orchestrator.Close()
		engine, err := a.retrieval(embedder)
		if err != nil {
			return err
		}
		ingestor, retriever, contexts = orchestrator, engine, engine
	} else {
		logger.Warn("DOJO_OPENAI_API_KEY not set, knowledge ingestion and retrieval are disabled")
	}

	client, err := a.callProvider()
	if err != nil {
		return err
	}
	if client != nil {
		provider = client
	} else {
		logger.Warn("DOJO_VAPI_API_KEY not set, sessions cannot start calls")
	}
	if cfg.VapiWebhookSecret == "" {
		logger.Warn("DOJO_VAPI_WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	sessionSvc := service.NewSessionService(service.SessionDeps{
		Sessions:  a.sessions,
		Personas:  a.personas,
		Webhooks:  a.webhooks,
		Tx:        a.tx,
		Provider:  provider,
		Retriever: contexts,
		Logger:    logger.WithField("component", "sessions"),
		Metrics:   a.metrics,
	}, service.SessionConfig{
		RetrievalTimeout:         cfg.RetrievalTimeout,
		CallTimeout:              cfg.CallProviderTimeout,
		MaxDuration:              cfg.SessionMaxDuration,
		TranscriptContextLogging: cfg.TranscriptContextLogging,
	})

	watchdog := jobs.NewWorker("session-watchdog",
		jobs.NewSessionWatchdog(sessionSvc, 0, logger),
		cfg.WatchdogInterval, logger)
	go watchdog.Start(ctx)

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:    a.authService(),
		KnowledgeHandler: handlers.NewKnowledgeHandler(ingestor, a.knowledgeService(), retriever, cfg.MaxUploadBytes()),
		SessionHandler:   handlers.NewSessionHandler(sessionSvc),
		WebhookHandler:   handlers.NewWebhookHandler(sessionSvc, logger),
		PersonaHandler:   handlers.NewPersonaHandler(a.personaService()),
		WebhookSecret:    cfg.VapiWebhookSecret,
		Logger:           logger,
		MaxBodyBytes:     cfg.MaxBodyBytes(),
		UploadBodyBytes:  10 * cfg.MaxUploadBytes(),
		MetricsHandler:   promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			watchdog.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	watchdog.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

var (
	errKnowledgeDisabled = domain.NewDomainError(domain.ErrCodeInternalError, "knowledge base not configured: DOJO_OPENAI_API_KEY required")
	errCallsDisabled     = domain.NewDomainError(domain.ErrCodeInternalError, "call provider not configured: DOJO_VAPI_API_KEY required")
)

type noOpIngestor struct{}

func (noOpIngestor) IngestDocuments(ctx context.Context, docs []domain.Document) []domain.IngestionReport {
	out := make([]domain.IngestionReport, len(docs))
	for i, d := range docs {
		out[i] = domain.IngestionReport{SourceName: d.SourceName, Status: domain.IngestionStatusError, Message: errKnowledgeDisabled.Message}
	}
	return out
}

func (noOpIngestor) IngestText(ctx context.Context, tenantID, sourceName, content string) domain.IngestionReport {
	return domain.IngestionReport{SourceName: sourceName, Status: domain.IngestionStatusError, Message: errKnowledgeDisabled.Message}
}

func (noOpIngestor) IngestWebsite(ctx context.Context, req domain.CrawlRequest) ([]domain.IngestionReport, error) {
	return nil, errKnowledgeDisabled
}

type noOpRetriever struct{}

func (noOpRetriever) Retrieve(ctx context.Context, q domain.RetrievalQuery) ([]domain.RetrievalResult, error) {
	return nil, errKnowledgeDisabled
}

func (noOpRetriever) Context(ctx context.Context, q domain.RetrievalQuery) (string, error) {
	return "", errKnowledgeDisabled
}

type noOpCallProvider struct{}

func (noOpCallProvider) CreateCall(ctx context.Context, session *domain.CallSession, persona *domain.Persona) (string, string, error) {
	return "", "", errCallsDisabled
}

func (noOpCallProvider) EndCall(ctx context.Context, externalCallID string) error {
	return nil
}

func bootstrapInitialCompany(ctx context.Context, a *app) error {
	cfg := a.cfg
	authSvc := a.authService()
	log := a.logger.WithField("company", cfg.InitCompanyName)

	company, err := authSvc.GetCompanyByName(ctx, cfg.InitCompanyName)
	switch {
	case errors.Is(err, domain.ErrCompanyNotFound):
		company, err = authSvc.CreateCompany(ctx, cfg.InitCompanyName)
		if err != nil {
			return fmt.Errorf("failed to create company: %w", err)
		}
		log.WithField("company_id", company.ID).Info("bootstrap: created company")
	case err != nil:
		return fmt.Errorf("failed to check existing company: %w", err)
	default:
		log.WithField("company_id", company.ID).Info("bootstrap: company already exists")
	}

	if cfg.InitAPIKey == "" {
		return nil
	}
	if !domain.IsWellFormedAPIKey(cfg.InitAPIKey) {
		return fmt.Errorf("invalid DOJO_INIT_API_KEY format (expected '%s<64 hex chars>')", domain.APIKeyPrefix)
	}
	if _, err := authSvc.ValidateAPIKey(ctx, cfg.InitAPIKey); err == nil {
		log.Info("bootstrap: API key already exists")
		return nil
	}
	if err := authSvc.CreateAPIKeyWithToken(ctx, company.ID, "bootstrap", cfg.InitAPIKey); err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	log.WithFields(logrus.Fields{"company_id": company.ID}).Info("bootstrap: created API key")
	return nil
}
