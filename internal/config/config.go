package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Environment     string        `envconfig:"ENVIRONMENT" default:"development"`
	MaxBodyMB       int64         `envconfig:"MAX_BODY_MB" default:"5"`
	MaxUploadMB     int64         `envconfig:"MAX_UPLOAD_MB" default:"50"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMinConns int32  `envconfig:"DATABASE_MIN_CONNS" default:"2"`
	MigrationsPath   string `envconfig:"MIGRATIONS_PATH" default:"file://migrations"`

	OpenAIAPIKey        string        `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingBatchSize  int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"64"`
	EmbeddingMaxRetries int           `envconfig:"EMBEDDING_MAX_RETRIES" default:"5"`
	EmbeddingBaseDelay  time.Duration `envconfig:"EMBEDDING_BASE_DELAY" default:"500ms"`
	EmbeddingMaxDelay   time.Duration `envconfig:"EMBEDDING_MAX_DELAY" default:"10s"`
	EmbeddingRatePerSec float64       `envconfig:"EMBEDDING_RATE_PER_SEC" default:"5"`

	ChunkMaxChars     int `envconfig:"CHUNK_MAX_CHARS" default:"1000"`
	ChunkMinChars     int `envconfig:"CHUNK_MIN_CHARS" default:"300"`
	ChunkOverlap      int `envconfig:"CHUNK_OVERLAP" default:"150"`
	ChunkMaxPerSource int `envconfig:"CHUNK_MAX_PER_SOURCE" default:"2000"`

	SimilarityThreshold float64       `envconfig:"RAG_SIMILARITY_THRESHOLD" default:"0.75"`
	MaxResults          int           `envconfig:"RAG_MAX_RESULTS" default:"3"`
	MaxTopK             int           `envconfig:"RAG_MAX_TOP_K" default:"10"`
	RetrievalTimeout    time.Duration `envconfig:"RETRIEVAL_TIMEOUT" default:"300ms"`
	QueryCacheTTL       time.Duration `envconfig:"QUERY_CACHE_TTL" default:"10m"`

	IngestConcurrency int `envconfig:"INGEST_CONCURRENCY" default:"4"`

	ScraperMaxPages   int           `envconfig:"SCRAPER_MAX_PAGES" default:"50"`
	ScraperUserAgent  string        `envconfig:"SCRAPER_USER_AGENT" default:"SalesAIDojo/1.0"`
	ScraperTimeout    time.Duration `envconfig:"SCRAPER_TIMEOUT" default:"30s"`
	ScraperRatePerSec float64       `envconfig:"SCRAPER_RATE_PER_SEC" default:"2"`

	VapiAPIKey          string        `envconfig:"VAPI_API_KEY"`
	VapiBaseURL         string        `envconfig:"VAPI_BASE_URL" default:"https://api.vapi.ai"`
	VapiWebhookSecret   string        `envconfig:"VAPI_WEBHOOK_SECRET"`
	VapiWebhookURL      string        `envconfig:"VAPI_WEBHOOK_URL"`
	AssistantProfile    string        `envconfig:"ASSISTANT_PROFILE"`
	CallProviderTimeout time.Duration `envconfig:"CALL_PROVIDER_TIMEOUT" default:"30s"`

	SessionMaxDuration       time.Duration `envconfig:"SESSION_MAX_DURATION" default:"15m"`
	WatchdogInterval         time.Duration `envconfig:"WATCHDOG_INTERVAL" default:"30s"`
	TranscriptContextLogging bool          `envconfig:"TRANSCRIPT_CONTEXT_LOGGING" default:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"dojo-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN              string  `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"1.0"`
	LogLevel               string  `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat              string  `envconfig:"LOG_FORMAT" default:"json"`

	// Bootstrap: create an initial company and API key on startup
	InitCompanyName string `envconfig:"INIT_COMPANY_NAME"`
	InitAPIKey      string `envconfig:"INIT_API_KEY"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("DOJO", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks constraints that span more than one variable.
func (c *Config) Validate() error {
	var errs []error
	if c.ChunkMaxChars <= 0 {
		errs = append(errs, errors.New("CHUNK_MAX_CHARS must be positive"))
	}
	if c.ChunkMinChars < 0 || c.ChunkMinChars > c.ChunkMaxChars {
		errs = append(errs, errors.New("CHUNK_MIN_CHARS must be between 0 and CHUNK_MAX_CHARS"))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxChars {
		errs = append(errs, errors.New("CHUNK_OVERLAP must be smaller than CHUNK_MAX_CHARS"))
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("RAG_SIMILARITY_THRESHOLD must be between 0 and 1"))
	}
	if c.MaxResults <= 0 || c.MaxResults > c.MaxTopK {
		errs = append(errs, errors.New("RAG_MAX_RESULTS must be between 1 and RAG_MAX_TOP_K"))
	}
	if c.RetrievalTimeout <= 0 {
		errs = append(errs, errors.New("RETRIEVAL_TIMEOUT must be positive"))
	}
	if c.EmbeddingDimensions <= 0 || c.EmbeddingBatchSize <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIMENSIONS and EMBEDDING_BATCH_SIZE must be positive"))
	}
	if c.IngestConcurrency <= 0 {
		errs = append(errs, errors.New("INGEST_CONCURRENCY must be positive"))
	}
	if c.SessionMaxDuration <= 0 || c.WatchdogInterval <= 0 {
		errs = append(errs, errors.New("SESSION_MAX_DURATION and WATCHDOG_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasCallProvider() bool {
	return c.VapiAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// MaxBodyBytes is the default request body limit.
func (c *Config) MaxBodyBytes() int64 {
	return c.MaxBodyMB << 20
}

// MaxUploadBytes is the per-document upload limit.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
