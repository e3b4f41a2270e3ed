package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/kestrelhq/keel/internal/runtime"
)

// Server is the admin HTTP API: lease operations, queue administration,
// manual worker passes, ledger reads, and the Prometheus endpoint.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener

	// nowNs supplies the clock for lease evaluations when the caller does
	// not send one. Overridable in tests.
	nowNs func() int64
	nowMs func() int64
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{
		rt:    rt,
		srv:   &http.Server{Handler: cors(mux)},
		nowNs: func() int64 { return time.Now().UnixNano() },
		nowMs: func() int64 { return time.Now().UnixMilli() },
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/lease/acquire", s.handleLease)
	mux.HandleFunc("/v1/lease/renew", s.handleLease)
	mux.HandleFunc("/v1/lease/release", s.handleLease)
	mux.HandleFunc("/v1/schedule/evaluate", s.handleScheduleEvaluate)
	mux.HandleFunc("/v1/queue/enqueue", s.handleEnqueue)
	mux.HandleFunc("/v1/queue/stats", s.handleStats)
	mux.HandleFunc("/v1/queue/deadletters", s.handleDeadLetters)
	mux.HandleFunc("/v1/queue/requeue", s.handleRequeue)
	mux.HandleFunc("/v1/worker/pass", s.handleWorkerPass)
	mux.HandleFunc("/v1/ledger/read", s.handleLedgerRead)
	mux.Handle("/metrics", rt.Metrics().Handler())
	return s
}

// Handler exposes the wrapped mux, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
