package introspect

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateSnapshot is the read-only state served at GET /introspect/state:
// no mutation endpoints exist anywhere on this surface, matching
// SPEC_FULL.md §6A's "the one sliver of HTTP transport the kernel owns
// directly is observability, not the out-of-scope perception/action
// transport."
type StateSnapshot struct {
	QueueDepth    map[string]int    `json:"queue_depth"`
	BreakerState  map[string]string `json:"breaker_state"`
	LODLevel      int               `json:"lod_level"`
	BudgetSpentUSD float64          `json:"budget_spent_usd"`
}

// SnapshotFunc produces the current StateSnapshot on demand.
type SnapshotFunc func() StateSnapshot

// Server is the kernel's read-only HTTP surface, built on
// mux.NewRouter(). No CORS handling: this surface is
// operator/monitoring-only, not browser-facing.
type Server struct {
	httpServer *http.Server
	metrics    *Metrics
	snapshot   SnapshotFunc
}

// NewServer builds the introspection server on addr (e.g. ":9090"),
// wiring m's registry into /metrics and snapshot into /introspect/state.
func NewServer(addr string, m *Metrics, snapshot SnapshotFunc) *Server {
	s := &Server{metrics: m, snapshot: snapshot}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/introspect/state", s.handleState).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.snapshot == nil {
		json.NewEncoder(w).Encode(StateSnapshot{})
		return
	}
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Start serves in a background goroutine; errors other than
// ErrServerClosed are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
