package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/api"
	"github.com/cloo-solutions/salesdojo/internal/api/middleware"
	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Ingestor turns documents, text and websites into stored chunks.
type Ingestor interface {
	IngestDocuments(ctx context.Context, docs []domain.Document) []domain.IngestionReport
	IngestText(ctx context.Context, tenantID, sourceName, content string) domain.IngestionReport
	IngestWebsite(ctx context.Context, req domain.CrawlRequest) ([]domain.IngestionReport, error)
}

// KnowledgeService reads and prunes a company's knowledge base.
type KnowledgeService interface {
	Status(ctx context.Context, tenantID string) (*domain.KnowledgeStatus, error)
	Sources(ctx context.Context, tenantID string) ([]*domain.KnowledgeSource, error)
	DeleteSource(ctx context.Context, tenantID, sourceName string) (int64, error)
}

// Retriever ranks stored chunks against a query.
type Retriever interface {
	Retrieve(ctx context.Context, q domain.RetrievalQuery) ([]domain.RetrievalResult, error)
}

type KnowledgeHandler struct {
	ingest    Ingestor
	knowledge KnowledgeService
	retriever Retriever
	maxUpload int64
}

// NewKnowledgeHandler creates the handler. maxUpload caps a single uploaded
// file; larger files are reported as failed items.
func NewKnowledgeHandler(ingest Ingestor, knowledge KnowledgeService, retriever Retriever, maxUpload int64) *KnowledgeHandler {
	return &KnowledgeHandler{ingest: ingest, knowledge: knowledge, retriever: retriever, maxUpload: maxUpload}
}

type IngestionReportResponse struct {
	SourceName   string `json:"source_name"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	ChunksStored int    `json:"chunks_stored"`
	ChunksFailed int    `json:"chunks_failed,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
}

func reportToResponse(r domain.IngestionReport) IngestionReportResponse {
	return IngestionReportResponse{
		SourceName:   r.SourceName,
		Status:       string(r.Status),
		Message:      r.Message,
		ChunksStored: r.ChunksStored,
		ChunksFailed: r.ChunksFailed,
		Truncated:    r.Truncated,
	}
}

func reportsToResponse(reports []domain.IngestionReport) []IngestionReportResponse {
	out := make([]IngestionReportResponse, len(reports))
	for i, r := range reports {
		out[i] = reportToResponse(r)
	}
	return out
}

// UploadDocuments ingests the multipart "files" parts of the request.
func (h *KnowledgeHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		api.Error(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	var docs []domain.Document
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			api.Error(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		if part.FormName() != "files" || part.FileName() == "" {
			part.Close()
			continue
		}
		doc, err := h.readPart(companyID, part)
		part.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			api.Error(w, http.StatusBadRequest, "failed to read uploaded file")
			return
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		api.Error(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	reports := h.ingest.IngestDocuments(r.Context(), docs)
	api.Success(w, http.StatusOK, reportsToResponse(reports))
}

// readPart reads at most maxUpload+1 bytes so oversized files reach the
// orchestrator as such and fail on their own.
func (h *KnowledgeHandler) readPart(companyID string, part *multipart.Part) (domain.Document, error) {
	var src io.Reader = part
	if h.maxUpload > 0 {
		src = io.LimitReader(part, h.maxUpload+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return domain.Document{}, err
	}
	if _, err := io.Copy(io.Discard, part); err != nil {
		return domain.Document{}, err
	}
	if data == nil {
		data = []byte{}
	}
	return domain.Document{
		TenantID:   companyID,
		SourceName: domain.SanitizeSourceName(part.FileName()),
		SourceType: domain.SourceTypeDocument,
		Raw:        data,
	}, nil
}

type IngestTextRequest struct {
	SourceName string `json:"source_name"`
	Content    string `json:"content"`
}

func (h *KnowledgeHandler) IngestText(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req IngestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SourceName) == "" {
		api.Error(w, http.StatusBadRequest, "source_name is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	report := h.ingest.IngestText(r.Context(), companyID, req.SourceName, req.Content)
	api.Success(w, http.StatusOK, reportToResponse(report))
}

type IngestWebsiteRequest struct {
	URL               string `json:"url"`
	MaxPages          int    `json:"max_pages"`
	IncludeSubdomains bool   `json:"include_subdomains"`
}

func (h *KnowledgeHandler) IngestWebsite(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req IngestWebsiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		api.Error(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.MaxPages < 0 {
		api.Error(w, http.StatusBadRequest, "max_pages must not be negative")
		return
	}

	reports, err := h.ingest.IngestWebsite(r.Context(), domain.CrawlRequest{
		TenantID:          companyID,
		URL:               req.URL,
		MaxPages:          req.MaxPages,
		IncludeSubdomains: req.IncludeSubdomains,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, reportsToResponse(reports))
}

type KnowledgeStatusResponse struct {
	TotalDocuments  int        `json:"total_documents"`
	TotalChunks     int        `json:"total_chunks"`
	TotalKBEntries  int        `json:"total_kb_entries"`
	TotalEmbeddings int        `json:"total_embeddings"`
	LastUpdated     *time.Time `json:"last_updated"`
	IsReady         bool       `json:"is_ready"`
}

func (h *KnowledgeHandler) Status(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	st, err := h.knowledge.Status(r.Context(), companyID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, KnowledgeStatusResponse{
		TotalDocuments:  st.TotalDocuments,
		TotalChunks:     st.TotalChunks,
		TotalKBEntries:  st.TotalChunks,
		TotalEmbeddings: st.TotalEmbeddings,
		LastUpdated:     st.LastUpdated,
		IsReady:         st.IsReady,
	})
}

type KnowledgeSourceResponse struct {
	SourceName   string    `json:"source_name"`
	SourceType   string    `json:"source_type"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	ChunksStored int       `json:"chunks_stored"`
	Archived     bool      `json:"archived"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (h *KnowledgeHandler) Sources(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sources, err := h.knowledge.Sources(r.Context(), companyID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	out := make([]KnowledgeSourceResponse, len(sources))
	for i, s := range sources {
		out[i] = KnowledgeSourceResponse{
			SourceName:   s.SourceName,
			SourceType:   string(s.SourceType),
			Status:       string(s.Status),
			Message:      s.Message,
			ChunksStored: s.ChunksStored,
			Archived:     s.ArchiveKey != "",
			UpdatedAt:    s.UpdatedAt,
		}
	}
	api.Success(w, http.StatusOK, out)
}

type DeleteSourceResponse struct {
	SourceName     string `json:"source_name"`
	EntriesDeleted int64  `json:"entries_deleted"`
}

// DeleteSource removes a source. Website sources are URLs, so the path
// segment arrives escaped.
func (h *KnowledgeHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	name, err := url.PathUnescape(chi.URLParam(r, "source_name"))
	if err != nil || strings.TrimSpace(name) == "" {
		api.Error(w, http.StatusBadRequest, "source_name is required")
		return
	}

	deleted, err := h.knowledge.DeleteSource(r.Context(), companyID, name)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, DeleteSourceResponse{SourceName: name, EntriesDeleted: deleted})
}

type SearchRequest struct {
	Query               string   `json:"query"`
	MaxResults          int      `json:"max_results"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

type SearchResultResponse struct {
	ChunkID    string    `json:"chunk_id"`
	Content    string    `json:"content"`
	SourceName string    `json:"source_name"`
	SourceType string    `json:"source_type"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}

type SearchResponse struct {
	Query   string                 `json:"query"`
	Results []SearchResultResponse `json:"results"`
	Context string                 `json:"context"`
}

func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.GetCompanyID(r.Context())
	if companyID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MaxResults < 0 {
		api.Error(w, http.StatusBadRequest, fmt.Sprintf("max_results must not be negative, got %d", req.MaxResults))
		return
	}

	results, err := h.retriever.Retrieve(r.Context(), domain.RetrievalQuery{
		TenantID:  companyID,
		Text:      req.Query,
		TopK:      req.MaxResults,
		Threshold: req.SimilarityThreshold,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	out := make([]SearchResultResponse, len(results))
	for i, res := range results {
		out[i] = SearchResultResponse{
			ChunkID:    res.ChunkID,
			Content:    res.Content,
			SourceName: res.SourceName,
			SourceType: string(res.SourceType),
			Similarity: res.Similarity,
			CreatedAt:  res.CreatedAt,
		}
	}
	api.Success(w, http.StatusOK, SearchResponse{
		Query:   req.Query,
		Results: out,
		Context: domain.FormatContext(results),
	})
}
