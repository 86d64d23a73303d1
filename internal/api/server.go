// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/govbrnews/harvester/internal/harvest"
	"github.com/govbrnews/harvester/internal/metrics"
	"github.com/govbrnews/harvester/internal/source"
)

const dateLayout = "2006-01-02"

// Source timestamps are anchored at the fixed Brasília offset, so the
// inclusive day window has to be built there: min at midnight, max at the
// last second of the end date. Parsing the bounds as UTC would push the
// window three hours early and silently exclude end-date articles.
var brasilia = time.FixedZone("-03", -3*60*60)

// Runner executes one harvest request.
type Runner interface {
	Run(ctx context.Context, req harvest.Request) (harvest.RunMetrics, error)
}

// Server wires HTTP handlers to the harvest coordinator.
type Server struct {
	router chi.Router
	runner Runner
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runner: runner, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/scrape/agencies", s.scrapeFamily(source.FamilyGovBR))
	r.Post("/scrape/ebc", s.scrapeFamily(source.FamilyEBC))

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scrapeRequest struct {
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Sources     []string `json:"sources"`
	AllowUpdate bool     `json:"allow_update"`
	// Sequential defaults to true when the key is absent.
	Sequential *bool `json:"sequential"`
}

func (r scrapeRequest) sequential() bool {
	return r.Sequential == nil || *r.Sequential
}

type scrapeResponse struct {
	Status            string                `json:"status"`
	StartDate         string                `json:"start_date"`
	EndDate           string                `json:"end_date"`
	ArticlesScraped   int                   `json:"articles_scraped"`
	ArticlesSaved     int                   `json:"articles_saved"`
	AgenciesProcessed []string              `json:"agencies_processed"`
	Errors            []harvest.SourceError `json:"errors"`
	Message           string                `json:"message"`
}

func (s *Server) scrapeFamily(family source.Family) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.StartDate == "" {
			writeError(w, http.StatusBadRequest, "start_date is required")
			return
		}
		minDate, err := time.ParseInLocation(dateLayout, req.StartDate, brasilia)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_date %q", req.StartDate))
			return
		}
		endDate := req.EndDate
		if endDate == "" {
			endDate = req.StartDate
		}
		maxDate, err := time.ParseInLocation(dateLayout, endDate, brasilia)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_date %q", endDate))
			return
		}
		if maxDate.Before(minDate) {
			writeError(w, http.StatusBadRequest, "end_date is before start_date")
			return
		}
		maxDate = maxDate.Add(24*time.Hour - time.Second)

		s.logger.Info("scrape requested",
			zap.String("family", string(family)),
			zap.Strings("sources", req.Sources),
			zap.String("start_date", req.StartDate),
			zap.String("end_date", endDate),
			zap.Bool("sequential", req.sequential()),
			zap.Bool("allow_update", req.AllowUpdate),
		)

		m, err := s.runner.Run(r.Context(), harvest.Request{
			Sources:     req.Sources,
			Family:      family,
			MinDate:     minDate,
			MaxDate:     maxDate,
			Sequential:  req.sequential(),
			AllowUpdate: req.AllowUpdate,
		})
		if err != nil {
			s.logger.Error("scrape failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		status, message := deriveStatus(m, family)
		writeJSON(w, http.StatusOK, scrapeResponse{
			Status:            status,
			StartDate:         req.StartDate,
			EndDate:           endDate,
			ArticlesScraped:   m.ArticlesScraped,
			ArticlesSaved:     m.ArticlesSaved,
			AgenciesProcessed: m.AgenciesProcessed,
			Errors:            m.Errors,
			Message:           message,
		})
	}
}

// deriveStatus maps run metrics to the caller-visible outcome: failed
// when every source failed, partial when some did, completed otherwise.
// The EBC route names its outcome and surfaces the first failure.
func deriveStatus(m harvest.RunMetrics, family source.Family) (string, string) {
	switch {
	case len(m.Errors) > 0 && len(m.AgenciesProcessed) == 0:
		if family == source.FamilyEBC {
			return "failed", fmt.Sprintf("EBC scraping failed: %s", m.Errors[0].Error)
		}
		return "failed", "All sources failed"
	case len(m.Errors) > 0:
		return "partial", fmt.Sprintf("Completed with %d error(s)", len(m.Errors))
	default:
		if family == source.FamilyEBC {
			return "completed", "EBC scraping completed"
		}
		return "completed", "Scraping completed"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
