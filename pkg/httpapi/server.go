// Package httpapi implements the supplemented /health and /metrics HTTP
// surface (SPEC_FULL.md section 12): read-only operator endpoints outside
// the tool surface of spec.md section 6, mirroring the teacher main.go's
// HealthStatus struct + mux.HandleFunc("/health", ...) pattern and exposing
// the Prometheus registry wired up in metrics.go.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker is one named liveness check, e.g. a Store's Migrator.Ping or the
// audit Client's Health. A Checker returning a non-nil error marks that
// check (and the overall /health response) unhealthy; it never panics the
// server.
type Checker func(ctx context.Context) error

// HealthStatus is /health's JSON body.
type HealthStatus struct {
	Status    string            `json:"status"`
	Time      int64             `json:"time"`
	UptimeSec int64             `json:"uptimeSeconds"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Server serves /health and /metrics. It owns no coordination state: it is
// a thin read-only view wired up after the rest of the Handle.
type Server struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	metrics   *Metrics
	startedAt time.Time
	now       func() time.Time
	timeout   time.Duration
}

// NewServer constructs a Server around a Metrics registry.
func NewServer(metrics *Metrics) *Server {
	return &Server{
		checkers:  make(map[string]Checker),
		metrics:   metrics,
		startedAt: time.Now(),
		now:       time.Now,
		timeout:   2 * time.Second,
	}
}

// AddCheck registers a named liveness check, run on every /health request.
func (s *Server) AddCheck(name string, check Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = check
}

// Handler builds the mux. Called once after every check has been
// registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	s.mu.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	status := HealthStatus{
		Status:    "ok",
		Time:      s.now().Unix(),
		UptimeSec: int64(s.now().Sub(s.startedAt).Seconds()),
		Checks:    make(map[string]string, len(checkers)),
	}
	healthy := true
	for name, check := range checkers {
		if err := check(ctx); err != nil {
			healthy = false
			status.Checks[name] = err.Error()
		} else {
			status.Checks[name] = "ok"
		}
	}
	if !healthy {
		status.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
