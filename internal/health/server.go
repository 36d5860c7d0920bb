// Package health exposes the monitor's snapshot over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/vietddude/depwatch/internal/core/domain"
	"github.com/vietddude/depwatch/internal/monitor/scheduler"
)

// Monitor is the read and admin surface the server needs.
type Monitor interface {
	Snapshot() domain.Snapshot
	Dependency(id string) (domain.DependencyReport, bool)
	CheckNow(ctx context.Context, id string) (domain.DependencyState, error)
	ResetCircuitBreaker(id string) bool
}

// Config configures the HTTP server.
type Config struct {
	Port int
	// JWTSecret enables HS256 bearer auth on admin routes when set.
	JWTSecret string
	// CheckRate is the on-demand checks allowed per second for each dependency.
	CheckRate  float64
	CheckBurst int
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor  Monitor
	cfg      Config
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	server   *http.Server

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer creates a new health server. gatherer backs /metrics.
func NewServer(monitor Monitor, cfg Config, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if cfg.CheckRate <= 0 {
		cfg.CheckRate = 0.2
	}
	if cfg.CheckBurst <= 0 {
		cfg.CheckBurst = 1
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		monitor:  monitor,
		cfg:      cfg,
		gatherer: gatherer,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/health/dependencies/{id}", func(r chi.Router) {
		r.Get("/", s.handleDependency)
		r.With(s.rateLimit).Post("/check", s.handleCheck)
		r.With(s.requireAdmin).Post("/reset", s.handleReset)
	})
	r.Get("/health/categories/{category}", s.handleCategory)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("Health server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.Snapshot()
	writeJSON(w, statusCode(snap.OverallStatus), snap)
}

func (s *Server) handleDependency(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, ok := s.monitor.Dependency(id)
	if !ok {
		writeError(w, http.StatusNotFound, "dependency not found: "+id)
		return
	}
	writeJSON(w, statusCode(rep.State.Status), rep)
}

type categoryResponse struct {
	Category     domain.Category           `json:"category"`
	Status       domain.Status             `json:"status"`
	Dependencies []domain.DependencyReport `json:"dependencies"`
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	category := domain.Category(chi.URLParam(r, "category"))
	snap := s.monitor.Snapshot()

	var reports []domain.DependencyReport
	for _, rep := range snap.Dependencies {
		if rep.Category == category {
			reports = append(reports, rep)
		}
	}
	if len(reports) == 0 {
		writeError(w, http.StatusNotFound, "no dependencies in category: "+string(category))
		return
	}

	sortReports(reports)
	overall := scheduler.OverallStatus(reports)
	writeJSON(w, statusCode(overall), categoryResponse{
		Category:     category,
		Status:       overall,
		Dependencies: reports,
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.monitor.CheckNow(r.Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dependency not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rep, _ := s.monitor.Dependency(id)
	writeJSON(w, statusCode(rep.State.Status), rep)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.monitor.ResetCircuitBreaker(id) {
		writeError(w, http.StatusNotFound, "dependency not found: "+id)
		return
	}
	s.logger.Info("Circuit breaker reset via API", "dependency", id, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "reset": true})
}

// rateLimit throttles on-demand checks per dependency.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		lim := s.limiter(id)
		if !lim.Allow() {
			retry := int(math.Ceil(1 / s.cfg.CheckRate))
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
			writeError(w, http.StatusTooManyRequests, "too many on-demand checks for "+id)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.CheckRate), s.cfg.CheckBurst)
		s.limiters[id] = lim
	}
	return lim
}

// requireAdmin validates an HS256 bearer token when a secret is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if _, err := ParseToken(s.cfg.JWTSecret, raw); err != nil {
			s.logger.Warn("Rejected admin token", "remote", r.RemoteAddr, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func statusCode(st domain.Status) int {
	if st == domain.StatusHealthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sortReports(reports []domain.DependencyReport) {
	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
}
