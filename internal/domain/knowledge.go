package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SourceType tells where a chunk's text came from.
type SourceType string

const (
	SourceTypeDocument SourceType = "document"
	SourceTypeWebsite  SourceType = "website"
	SourceTypeManual   SourceType = "manual"
)

// IsValid reports whether s is a known source type.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeDocument, SourceTypeWebsite, SourceTypeManual:
		return true
	}
	return false
}

// ParseSourceType converts raw into a SourceType.
func ParseSourceType(raw string) (SourceType, error) {
	st := SourceType(strings.ToLower(strings.TrimSpace(raw)))
	if !st.IsValid() {
		return "", ErrInvalidSourceType.WithCause(fmt.Errorf("%q", raw))
	}
	return st, nil
}

// Chunk is a bounded segment of ingested text with its embedding.
// TenantID is set once at creation and never reassigned.
type Chunk struct {
	ID         string
	TenantID   string
	Content    string
	SourceType SourceType
	SourceName string
	ChunkIndex int
	Embedding  []float32
	CreatedAt  time.Time
}

// ValidateChunk checks a chunk before it reaches storage. dims is the
// configured embedding dimension; a nil embedding is allowed.
func ValidateChunk(c *Chunk, dims int) error {
	switch {
	case c == nil:
		return fmt.Errorf("chunk cannot be nil")
	case c.TenantID == "":
		return ErrTenantViolation.WithCause(fmt.Errorf("chunk %s has no tenant", c.ID))
	case c.ID == "":
		return fmt.Errorf("chunk ID is required")
	case strings.TrimSpace(c.Content) == "":
		return fmt.Errorf("chunk Content is required")
	case c.SourceName == "":
		return fmt.Errorf("chunk SourceName is required")
	case !c.SourceType.IsValid():
		return ErrInvalidSourceType
	case c.Embedding != nil && len(c.Embedding) != dims:
		return ErrEmbeddingDimension.WithCause(fmt.Errorf("got %d, want %d", len(c.Embedding), dims))
	}
	return nil
}

// Document is one ingestion input: either raw bytes to extract or raw text.
type Document struct {
	TenantID   string
	SourceName string
	SourceType SourceType
	Raw        []byte
	Text       string
}

// HasText reports whether the document already carries extracted text.
func (d Document) HasText() bool {
	return d.Raw == nil
}

// IngestionItem is one chunk-sized unit of work produced by the chunker
// and consumed by the embedder. It is owned by a single ingestion run.
type IngestionItem struct {
	TenantID   string
	SourceName string
	SourceType SourceType
	Index      int
	Text       string
}

// IngestionStatus is the per-source outcome of an ingestion run.
type IngestionStatus string

const (
	IngestionStatusSuccess IngestionStatus = "success"
	IngestionStatusError   IngestionStatus = "error"
)

// IngestionReport describes what happened to one input. Truncated is set
// when the document had more text than the chunk cap allowed; the stored
// chunks then cover only its beginning.
type IngestionReport struct {
	SourceName   string
	Status       IngestionStatus
	Message      string
	ChunksStored int
	ChunksFailed int
	Truncated    bool
}

// KnowledgeSource records the last ingestion of a source name. The set
// of sources is what readiness is measured against.
type KnowledgeSource struct {
	TenantID     string
	SourceName   string
	SourceType   SourceType
	Status       IngestionStatus
	Message      string
	ChunksStored int
	ArchiveKey   string
	UpdatedAt    time.Time
}

// KnowledgeStatus summarises a tenant's knowledge base.
type KnowledgeStatus struct {
	TotalDocuments  int
	TotalChunks     int
	TotalEmbeddings int
	LastUpdated     *time.Time
	IsReady         bool
}

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}_\-.]`)

// SanitizeSourceName strips any directory part and replaces characters other
// than letters, digits, underscore, dash and dot with underscores. Website sources keep
// their URL and are not passed here.
func SanitizeSourceName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// CrawlRequest asks for the pages of one website.
type CrawlRequest struct {
	TenantID          string
	URL               string
	MaxPages          int
	IncludeSubdomains bool
}

// CrawledPage is the extracted main text of one fetched page. Err is set
// when the page could not be fetched or yielded no text.
type CrawledPage struct {
	URL   string
	Title string
	Text  string
	Err   error
}
