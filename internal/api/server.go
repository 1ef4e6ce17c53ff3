// Package api exposes the review queue, run control, sample ingest, and
// report export over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lumenware/triage/internal/labeler"
	"github.com/lumenware/triage/internal/report"
	"github.com/lumenware/triage/internal/sample"
)

// LabelStore is the label persistence the API reads and writes.
type LabelStore interface {
	ListLabelsByStatus(ctx context.Context, statuses ...labeler.Status) ([]labeler.LabelRecord, error)
	GetLabel(ctx context.Context, conversationID string) (*labeler.LabelRecord, error)
	ApplyHumanLabel(ctx context.Context, conversationID string, fields labeler.LabelRecord, actor string) (*labeler.LabelRecord, error)
	ListAudit(ctx context.Context, conversationID string) ([]labeler.AuditEntry, error)
}

// RunControl retries previously failed runs.
type RunControl interface {
	RetryFailed(ctx context.Context, runID uuid.UUID) (*labeler.Run, error)
}

// RunReader reads run bookkeeping.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*labeler.Run, error)
}

// SampleIngestor accepts new reference samples and rebuilds the index.
type SampleIngestor interface {
	Ingest(ctx context.Context, records []sample.Record) error
}

// ReportBuilder assembles the export view.
type ReportBuilder interface {
	Build(ctx context.Context) (*report.Report, error)
}

// LibraryProvider supplies the current label vocabulary for validating
// human overrides.
type LibraryProvider interface {
	Current() *sample.Library
}

// Deps bundles everything the server serves.
type Deps struct {
	Labels  LabelStore
	Runs    RunControl
	RunRead RunReader
	Samples SampleIngestor
	Reports ReportBuilder
	Library LibraryProvider
}

type Server struct {
	router  *chi.Mux
	port    int
	labels  LabelStore
	runs    RunControl
	runRead RunReader
	samples SampleIngestor
	reports ReportBuilder
	library LibraryProvider
	logger  *slog.Logger
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		labels:  deps.Labels,
		runs:    deps.Runs,
		runRead: deps.RunRead,
		samples: deps.Samples,
		reports: deps.Reports,
		library: deps.Library,
		logger:  logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		if apiToken != "" {
			r.Use(bearerAuth(apiToken))
		}
		r.Get("/reviews", s.listReviews)
		r.Post("/reviews/{conversationID}", s.applyReview)
		r.Get("/reviews/{conversationID}/audit", s.listAudit)
		r.Get("/runs/{runID}", s.getRun)
		r.Post("/runs/{runID}/retry", s.retryRun)
		r.Post("/samples", s.ingestSamples)
		r.Get("/reports/labels", s.reportJSON)
		r.Get("/reports/labels.csv", s.reportCSV)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for embedding in a custom http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != token {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listReviews handles GET /api/v1/reviews. Without a status filter it
// returns the review queue: needs_review plus failed records.
func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	statuses := []labeler.Status{labeler.StatusNeedsReview, labeler.StatusFailed}
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = statuses[:0]
		for _, part := range strings.Split(raw, ",") {
			switch st := labeler.Status(strings.TrimSpace(part)); st {
			case labeler.StatusCompleted, labeler.StatusNeedsReview, labeler.StatusFailed:
				statuses = append(statuses, st)
			default:
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
		}
	}

	records, err := s.labels.ListLabelsByStatus(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("list reviews failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}
	if records == nil {
		records = []labeler.LabelRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": records, "count": len(records)})
}

// reviewRequest is a human label override.
type reviewRequest struct {
	LabelPrimary   string   `json:"label_primary"`
	LabelSecondary []string `json:"label_secondary"`
	Reasoning      string   `json:"reasoning"`
	Actor          string   `json:"actor"`
}

// applyReview handles POST /api/v1/reviews/{conversationID}. The override
// must use labels from the current vocabulary and always lands as a
// completed record with an audit entry.
func (s *Server) applyReview(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}
	if req.LabelPrimary == "" {
		writeError(w, http.StatusBadRequest, "label_primary is required")
		return
	}

	lib := s.library.Current()
	if !lib.HasLabel(req.LabelPrimary) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("label %q is not in the vocabulary", req.LabelPrimary))
		return
	}
	for _, sec := range req.LabelSecondary {
		if !lib.HasLabel(sec) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("label %q is not in the vocabulary", sec))
			return
		}
	}

	existing, err := s.labels.GetLabel(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("load label failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load label record")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no label record for conversation %s", conversationID))
		return
	}

	rec, err := s.labels.ApplyHumanLabel(r.Context(), conversationID, labeler.LabelRecord{
		LabelPrimary:   req.LabelPrimary,
		LabelSecondary: req.LabelSecondary,
		Reasoning:      req.Reasoning,
	}, req.Actor)
	if err != nil {
		s.logger.Error("apply human label failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to apply label")
		return
	}

	s.logger.Info("human label applied",
		"conversation_id", conversationID,
		"label", req.LabelPrimary,
		"actor", req.Actor,
	)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	entries, err := s.labels.ListAudit(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("list audit failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []labeler.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries, "count": len(entries)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.runRead.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// retryRun handles POST /api/v1/runs/{runID}/retry. Only ids still failed
// or unreviewed are resubmitted.
func (s *Server) retryRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.runs.RetryFailed(r.Context(), runID)
	if err != nil {
		s.logger.Error("retry run failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type sampleIngestRequest struct {
	Samples []sample.Record `json:"samples"`
}

// ingestSamples handles POST /api/v1/samples. The new records are
// persisted and the library and vector index are rebuilt before returning.
func (s *Server) ingestSamples(w http.ResponseWriter, r *http.Request) {
	var req sampleIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "samples must not be empty")
		return
	}

	if err := s.samples.Ingest(r.Context(), req.Samples); err != nil {
		s.logger.Error("sample ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("ingest failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingested": len(req.Samples)})
}

func (s *Server) reportJSON(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Build(r.Context())
	if err != nil {
		s.logger.Error("report build failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) reportCSV(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Build(r.Context())
	if err != nil {
		s.logger.Error("report build failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="labels.csv"`)
	if err := rep.WriteCSV(w); err != nil {
		s.logger.Error("report csv write failed", "error", err)
	}
}
