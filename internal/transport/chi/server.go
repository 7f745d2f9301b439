// Package chi is the HTTP transport: routing, request decoding, and the
// mapping from domain sentinels to response codes.
package chi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/metrics"
	healthuc "github.com/lumatv/nextup/internal/usecase/health"
	"github.com/lumatv/nextup/internal/usecase/recommend"
)

// ErrorCode is the machine-readable error discriminator in responses.
type ErrorCode string

const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeNotFound            ErrorCode = "not_found"
	CodeInvalidVector       ErrorCode = "invalid_vector"
	CodeProviderUnavailable ErrorCode = "provider_unavailable"
	CodeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Recommender is the serving surface the transport depends on.
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (domain.RankedList, error)
	SubmitFeedback(ctx context.Context, in domain.Interaction) error
	GetLearningProgress(ctx context.Context, userID string) (domain.LearningProgress, error)
	EraseUser(ctx context.Context, userID string) error
}

// Catalog is the content ingestion surface.
type Catalog interface {
	Upsert(ctx context.Context, c domain.ContentVector) error
	Delete(ctx context.Context, id string) error
}

// Health reports component status.
type Health interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server hosts the HTTP API.
type Server struct {
	recommender   Recommender
	catalog       Catalog
	health        Health
	logger        *zap.Logger
	apiKeys       []string
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(recommender Recommender, catalog Catalog, health Health, apiKeys []string, logger *zap.Logger) *Server {
	s := &Server{
		recommender: recommender,
		catalog:     catalog,
		health:      health,
		apiKeys:     apiKeys,
		logger:      logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrInvalidVector, http.StatusBadRequest, CodeInvalidVector),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrProviderUnavailable, http.StatusBadGateway, CodeProviderUnavailable),
	}
	return s
}

// Routes builds the router with middleware applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(BearerAuthMiddleware(s.apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/recommendations", s.handleRecommend)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/users/{userID}/progress", s.handleProgress)
		r.Delete("/users/{userID}", s.handleEraseUser)
		r.Put("/content/{contentID}", s.handleUpsertContent)
		r.Delete("/content/{contentID}", s.handleDeleteContent)
	})
	return r
}

// recommendRequest is the POST /v1/recommendations body. K is a pointer so
// an absent k (use the default size) is told apart from an explicit zero.
type recommendRequest struct {
	UserID      string                `json:"user_id"`
	Query       string                `json:"query,omitempty"`
	Context     domain.SessionContext `json:"context"`
	K           *int                  `json:"k,omitempty"`
	ContentType string                `json:"content_type,omitempty"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	k := 0
	if req.K != nil {
		if *req.K < 1 {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "k must be at least 1")
			return
		}
		k = *req.K
	}

	list, err := s.recommender.Recommend(r.Context(), recommend.Request{
		UserID:      req.UserID,
		Query:       req.Query,
		Context:     req.Context,
		K:           k,
		ContentType: req.ContentType,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var in domain.Interaction
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.recommender.SubmitFeedback(r.Context(), in); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	progress, err := s.recommender.GetLearningProgress(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleEraseUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.recommender.EraseUser(r.Context(), userID); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertContent(w http.ResponseWriter, r *http.Request) {
	var c domain.ContentVector
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	c.ID = chi.URLParam(r, "contentID")

	if err := s.catalog.Upsert(r.Context(), c); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Delete(r.Context(), chi.URLParam(r, "contentID")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrInvalidVector,
		domain.ErrNotFound,
		domain.ErrProviderUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
