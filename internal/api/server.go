package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/polizaops/triage/internal/engine"
	"github.com/polizaops/triage/internal/store"
	"github.com/polizaops/triage/internal/taxonomy"
	"github.com/polizaops/triage/internal/transcript"
)

// ClassifyFunc runs the pipeline for one call. In production it is a thin
// closure over the processor; tests plug in fakes.
type ClassifyFunc func(ctx context.Context, callID string, turns []transcript.RawTurn) (*engine.Decision, error)

// ReviewStore is the persistence surface the review endpoints need. Satisfied
// by *store.Store; nil when the service runs without a database.
type ReviewStore interface {
	ListRecent(ctx context.Context, limit int) ([]store.DecisionRecord, error)
	UpdateReviewStatus(ctx context.Context, decisionID uuid.UUID, status, note string) error
}

type Server struct {
	router       *chi.Mux
	port         int
	classify     ClassifyFunc
	tax          *taxonomy.Store
	reviews      ReviewStore
	taxonomyPath string
	apiToken     string
	logger       *slog.Logger
}

func NewServer(port int, classify ClassifyFunc, tax *taxonomy.Store, reviews ReviewStore, taxonomyPath, apiToken string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:       router,
		port:         port,
		classify:     classify,
		tax:          tax,
		reviews:      reviews,
		taxonomyPath: taxonomyPath,
		apiToken:     apiToken,
		logger:       logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/triage/status", s.status)
	router.Post("/api/v1/triage/classify", s.handleClassify)
	router.Get("/api/v1/triage/decisions", s.handleDecisions)
	router.Post("/api/v1/triage/decisions/{id}/review", s.handleReview)
	router.Get("/api/v1/triage/taxonomy", s.handleTaxonomy)
	router.Post("/api/v1/triage/taxonomy/reload", s.handleTaxonomyReload)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":        "triage",
		"taxonomy_pairs": s.tax.Len(),
	})
}

type classifyRequest struct {
	CallID string               `json:"call_id"`
	Turns  []transcript.RawTurn `json:"turns"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	d, err := s.classify(r.Context(), req.CallID, req.Turns)
	if err != nil {
		var malformed *transcript.MalformedError
		if errors.As(err, &malformed) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("classify failed", "call_id", req.CallID, "error", err)
		writeError(w, http.StatusInternalServerError, "classification failed")
		return
	}

	writeJSON(w, http.StatusOK, DecisionJSON(d))
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.reviews.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list decisions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing decisions failed")
		return
	}
	if records == nil {
		records = []store.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": records})
}

type reviewRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

var reviewStatuses = map[string]bool{
	"accepted":  true,
	"corrected": true,
	"dismissed": true,
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if s.apiToken != "" && r.Header.Get("Authorization") != "Bearer "+s.apiToken {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid decision id")
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !reviewStatuses[req.Status] {
		writeError(w, http.StatusBadRequest, "status must be accepted, corrected or dismissed")
		return
	}

	if err := s.reviews.UpdateReviewStatus(r.Context(), id, req.Status, req.Note); err != nil {
		s.logger.Error("review update failed", "decision_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "review update failed")
		return
	}
	s.logger.Info("decision reviewed", "decision_id", id, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	entries := s.tax.Entries()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"tipo":         e.Tipo,
			"motivo":       e.Motivo,
			"humanOnly":    e.HumanOnly,
			"requiresRamo": e.RequiresRamo,
			"priorityTier": e.PriorityTier,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) handleTaxonomyReload(w http.ResponseWriter, r *http.Request) {
	if s.apiToken != "" && r.Header.Get("Authorization") != "Bearer "+s.apiToken {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if s.taxonomyPath == "" {
		writeError(w, http.StatusConflict, "no taxonomy CSV configured")
		return
	}

	entries, err := taxonomy.ReadFile(s.taxonomyPath)
	if err != nil {
		s.logger.Error("taxonomy reload failed", "path", s.taxonomyPath, "error", err)
		writeError(w, http.StatusInternalServerError, "taxonomy reload failed")
		return
	}
	if err := s.tax.Reload(entries); err != nil {
		s.logger.Error("taxonomy reload rejected", "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.logger.Info("taxonomy reloaded", "pairs", len(entries))
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true, "pairs": len(entries)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
