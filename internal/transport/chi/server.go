// Package chi exposes the pipeline over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
	healthuc "github.com/raks07/jarvis-data-injestion/internal/usecase/health"
	ingestionuc "github.com/raks07/jarvis-data-injestion/internal/usecase/ingestion"
	qauc "github.com/raks07/jarvis-data-injestion/internal/usecase/qa"
)

// Error response codes returned to clients.
const (
	codeBadRequest         = "bad_request"
	codeValidationFailed   = "validation_failed"
	codeDocumentNotFound   = "document_not_found"
	codeHistoryNotFound    = "history_not_found"
	codeNoResults          = "no_results"
	codeQuotaExceeded      = "embedding_quota_exceeded"
	codeEmbeddingProvider  = "embedding_provider_error"
	codeGenerationFailed   = "generation_failed"
	codeIndexInconsistency = "index_inconsistency"
	codeInternalError      = "internal_error"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IngestionService is the write-path surface consumed by the HTTP layer.
type IngestionService interface {
	Ingest(ctx context.Context, req ingestionuc.Request) (domain.Document, error)
	Get(ctx context.Context, id string) (domain.Document, error)
	List(ctx context.Context, cursor string, limit int) ([]domain.Document, string, error)
	Delete(ctx context.Context, id string) error
	Rebuild(ctx context.Context) error
}

// AnswerService is the read-path surface consumed by the HTTP layer.
type AnswerService interface {
	Ask(ctx context.Context, req qauc.Request) (domain.Answer, error)
	History(ctx context.Context, userID string, limit, offset int) ([]domain.HistoryRecord, error)
	HistoryRecord(ctx context.Context, id string) (domain.HistoryRecord, error)
}

// SelectionService manages per-user document selections.
type SelectionService interface {
	Set(ctx context.Context, userID string, documentIDs []string) error
	Get(ctx context.Context, userID string) ([]string, error)
	Clear(ctx context.Context, userID string) error
}

// HealthService aggregates readiness checks.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers.
type Server struct {
	ingestion     IngestionService
	answers       AnswerService
	selections    SelectionService
	health        HealthService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ingestion IngestionService,
	answers AnswerService,
	selections SelectionService,
	health HealthService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ingestion:  ingestion,
		answers:    answers,
		selections: selections,
		health:     health,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrInvalidConfiguration, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrChunkNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrHistoryNotFound, http.StatusNotFound, codeHistoryNotFound),
		sentinelHandler(domain.ErrNoResults, http.StatusNotFound, codeNoResults),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, codeQuotaExceeded),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, codeEmbeddingProvider),
		sentinelHandler(domain.ErrGenerationFailed, http.StatusBadGateway, codeGenerationFailed),
		sentinelHandler(domain.ErrIndexInconsistency, http.StatusInternalServerError, codeIndexInconsistency),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.IngestDocument)
		r.Get("/documents", s.ListDocuments)
		r.Get("/documents/{id}", s.GetDocument)
		r.Delete("/documents/{id}", s.DeleteDocument)
		r.Post("/ask", s.Ask)
		r.Get("/history", s.GetHistory)
		r.Get("/history/{id}", s.GetHistoryRecord)
		r.Get("/selections/{userID}", s.GetSelection)
		r.Put("/selections/{userID}", s.PutSelection)
		r.Delete("/selections/{userID}", s.DeleteSelection)
		r.Post("/index/rebuild", s.RebuildIndex)
	})
	r.Get("/healthz", s.Liveness)
	r.Get("/readyz", s.Readiness)
	r.Get("/metrics", s.Metrics)
}

type ingestRequest struct {
	ExternalID string `json:"external_id,omitempty"`
	Title      string `json:"title,omitempty"`
	SourceURI  string `json:"source_uri,omitempty"`
	Text       string `json:"text"`
}

type documentResponse struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	SourceURI  string    `json:"source_uri,omitempty"`
	Version    int       `json:"version"`
	Status     string    `json:"status"`
	IngestedAt time.Time `json:"ingested_at"`
	ChunkCount int       `json:"chunk_count"`
}

type documentListResponse struct {
	Items      []documentResponse `json:"items"`
	HasMore    bool               `json:"has_more"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// IngestDocument handles POST /api/v1/documents.
func (s *Server) IngestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	doc, err := s.ingestion.Ingest(r.Context(), ingestionuc.Request{
		ExternalID: req.ExternalID,
		Title:      req.Title,
		SourceURI:  req.SourceURI,
		Text:       req.Text,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, documentToResponse(doc))
}

// GetDocument handles GET /api/v1/documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ingestion.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// DeleteDocument handles DELETE /api/v1/documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.ingestion.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListDocuments handles GET /api/v1/documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, codeValidationFailed, "limit must be a non-negative integer")
			return
		}
	}

	docs, nextCursor, err := s.ingestion.List(r.Context(), cursor, limit)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]documentResponse, len(docs))
	for i, d := range docs {
		items[i] = documentToResponse(d)
	}

	writeJSON(w, http.StatusOK, documentListResponse{
		Items:      items,
		HasMore:    nextCursor != "",
		NextCursor: nextCursor,
	})
}

type askRequest struct {
	UserID      string   `json:"user_id,omitempty"`
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type citationResponse struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

type answerResponse struct {
	Question  string             `json:"question"`
	Answer    string             `json:"answer"`
	Citations []citationResponse `json:"citations"`
}

// Ask handles POST /api/v1/ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	answer, err := s.answers.Ask(r.Context(), qauc.Request{
		UserID:      req.UserID,
		Question:    req.Question,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	citations := make([]citationResponse, len(answer.Citations))
	for i, c := range answer.Citations {
		citations[i] = citationResponse{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Excerpt:    c.Excerpt,
			Score:      c.Score,
		}
	}

	writeJSON(w, http.StatusOK, answerResponse{
		Question:  answer.Question,
		Answer:    answer.Text,
		Citations: citations,
	})
}

type historyRecordResponse struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id,omitempty"`
	Question  string             `json:"question"`
	Answer    string             `json:"answer"`
	Citations []citationResponse `json:"citations"`
	AskedAt   time.Time          `json:"asked_at"`
}

type historyListResponse struct {
	Items []historyRecordResponse `json:"items"`
}

func historyToResponse(rec domain.HistoryRecord) historyRecordResponse {
	citations := make([]citationResponse, len(rec.Citations))
	for i, c := range rec.Citations {
		citations[i] = citationResponse{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Excerpt:    c.Excerpt,
			Score:      c.Score,
		}
	}
	return historyRecordResponse{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Question:  rec.Question,
		Answer:    rec.Answer,
		Citations: citations,
		AskedAt:   rec.AskedAt,
	}
}

// GetHistory handles GET /api/v1/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "user_id is required")
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	recs, err := s.answers.History(r.Context(), userID, limit, offset)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]historyRecordResponse, len(recs))
	for i, rec := range recs {
		items[i] = historyToResponse(rec)
	}
	writeJSON(w, http.StatusOK, historyListResponse{Items: items})
}

// GetHistoryRecord handles GET /api/v1/history/{id}.
func (s *Server) GetHistoryRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.answers.HistoryRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, historyToResponse(rec))
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, name+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

type selectionRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

type selectionResponse struct {
	UserID      string   `json:"user_id"`
	DocumentIDs []string `json:"document_ids"`
}

// GetSelection handles GET /api/v1/selections/{userID}.
func (s *Server) GetSelection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ids, err := s.selections.Get(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, selectionResponse{UserID: userID, DocumentIDs: ids})
}

// PutSelection handles PUT /api/v1/selections/{userID}.
func (s *Server) PutSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := s.selections.Set(r.Context(), userID, req.DocumentIDs); err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, selectionResponse{UserID: userID, DocumentIDs: req.DocumentIDs})
}

// DeleteSelection handles DELETE /api/v1/selections/{userID}.
func (s *Server) DeleteSelection(w http.ResponseWriter, r *http.Request) {
	if err := s.selections.Clear(r.Context(), chi.URLParam(r, "userID")); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RebuildIndex handles POST /api/v1/index/rebuild.
func (s *Server) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.ingestion.Rebuild(r.Context()); err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Liveness handles GET /healthz. Process-up check only.
func (s *Server) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Readiness handles GET /readyz.
func (s *Server) Readiness(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func documentToResponse(d domain.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		ExternalID: d.ExternalID,
		Title:      d.Title,
		SourceURI:  d.SourceURI,
		Version:    d.Version,
		Status:     string(d.Status),
		IngestedAt: d.IngestedAt,
		ChunkCount: d.ChunkCount,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidInput,
		domain.ErrInvalidConfiguration,
		domain.ErrDocumentNotFound,
		domain.ErrChunkNotFound,
		domain.ErrHistoryNotFound,
		domain.ErrNoResults,
		domain.ErrEmbeddingQuotaExceeded,
		domain.ErrEmbeddingUnavailable,
		domain.ErrGenerationFailed,
		domain.ErrIndexInconsistency,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
