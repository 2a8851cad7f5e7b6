// Package api serves scheduler status, cancellation and metrics over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phil777/paperwork/pkg/auth"
	"github.com/phil777/paperwork/pkg/jobs"
	"github.com/phil777/paperwork/pkg/logging"
	"github.com/phil777/paperwork/pkg/middleware"
	"github.com/phil777/paperwork/pkg/sysinfo"
)

// Handler handles status API requests
type Handler struct {
	gatherer prometheus.Gatherer
	logger   *logging.Logger
	started  time.Time
	verifier *auth.Verifier
	limiter  *middleware.Limiter

	mu         sync.RWMutex
	schedulers map[string]*jobs.Scheduler
	factories  map[string]*jobs.Factory
}

// NewHandler creates a handler exposing metrics from gatherer
func NewHandler(gatherer prometheus.Gatherer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		gatherer:   gatherer,
		logger:     logger.WithField("component", "api"),
		started:    time.Now(),
		schedulers: make(map[string]*jobs.Scheduler),
		factories:  make(map[string]*jobs.Factory),
	}
}

// AddScheduler exposes s under its name
func (h *Handler) AddScheduler(s *jobs.Scheduler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schedulers[s.Name()] = s
}

// AddFactory makes jobs of f cancelable by factory name
func (h *Handler) AddFactory(f *jobs.Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[f.Name()] = f
}

// RequireKey protects cancellation with an API key. It must be called
// before RegisterRoutes.
func (h *Handler) RequireKey(v *auth.Verifier) {
	h.verifier = v
}

// RateLimit limits requests per client host. It must be called before
// RegisterRoutes.
func (h *Handler) RateLimit(l *middleware.Limiter) {
	h.limiter = l
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(middleware.Logging(h.logger))
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/schedulers", h.ListSchedulers).Methods("GET")
	r.HandleFunc("/schedulers/{name}", h.GetScheduler).Methods("GET")

	var cancel http.Handler = http.HandlerFunc(h.CancelFactory)
	if h.verifier != nil {
		cancel = middleware.RequireAPIKey(h.verifier, h.logger)(cancel)
	}
	r.Handle("/schedulers/{name}/factories/{factory}", cancel).Methods("DELETE")
}

// Router returns a new router with every route registered
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status     string       `json:"status"`
	Uptime     string       `json:"uptime"`
	Schedulers int          `json:"schedulers"`
	Running    int          `json:"running"`
	Host       sysinfo.Info `json:"host"`
}

// Health reports liveness. It answers 503 when a scheduler is stopped.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resp := HealthResponse{
		Status:     "ok",
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Schedulers: len(h.schedulers),
		Host:       sysinfo.Collect(0),
	}
	for _, s := range h.schedulers {
		if s.Running() {
			resp.Running++
		}
	}
	h.mu.RUnlock()

	code := http.StatusOK
	if resp.Running < resp.Schedulers {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// ListSchedulers returns the status of every scheduler, sorted by name
func (h *Handler) ListSchedulers(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	out := make([]jobs.Status, 0, len(h.schedulers))
	for _, s := range h.schedulers {
		out = append(out, s.Snapshot())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

// GetScheduler returns one scheduler status
func (h *Handler) GetScheduler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scheduler(mux.Vars(r)["name"])
	if !ok {
		http.Error(w, "Scheduler not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// CancelFactory cancels every job of a factory on one scheduler. It blocks
// until a matching active job has left the worker.
func (h *Handler) CancelFactory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s, ok := h.scheduler(vars["name"])
	if !ok {
		http.Error(w, "Scheduler not found", http.StatusNotFound)
		return
	}
	h.mu.RLock()
	f, ok := h.factories[vars["factory"]]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "Factory not found", http.StatusNotFound)
		return
	}

	n := s.CancelAll(f)
	h.logger.Info("Canceled jobs", map[string]interface{}{
		"scheduler": s.Name(),
		"factory":   f.Name(),
		"removed":   n,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler": s.Name(),
		"factory":   f.Name(),
		"canceled":  n,
	})
}

func (h *Handler) scheduler(name string) (*jobs.Scheduler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.schedulers[name]
	return s, ok
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
