// Package api serves the read-only status API of watch mode.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ipsix/coresum/internal/config"
	"github.com/ipsix/coresum/internal/history"
	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/scheduler"
	"github.com/ipsix/coresum/internal/state"
	"github.com/ipsix/coresum/internal/storage"
)

type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	server  *http.Server
	sched   *scheduler.Scheduler
	results *state.RunCache
	runs    *history.RunsStore
	handler http.Handler
}

// New wires the API. runs may be nil, in which case history is served from
// the in-memory cache only.
func New(cfg config.APIConfig, logger *logging.Logger, sched *scheduler.Scheduler, results *state.RunCache, runs *history.RunsStore) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		sched:   sched,
		results: results,
		runs:    runs,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	s.handler = s.buildHandler()
	s.server = &http.Server{
		Addr:              s.cfg.BindAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("api server starting", logging.Field{Key: "addr", Value: s.cfg.BindAddr})
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) Handler() http.Handler {
	if s.handler == nil {
		s.handler = s.buildHandler()
	}
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	register := func(path string, handler http.HandlerFunc) {
		mux.HandleFunc(path, s.withAuth(handler))
		mux.HandleFunc("/api"+path, s.withAuth(handler))
	}
	register("/health", s.handleHealth)
	register("/targets", s.handleTargets)
	register("/targets/trigger/", s.handleTrigger)
	register("/runs/latest", s.handleRunsLatest)
	register("/runs/history", s.handleRunsHistory)
	register("/runs/", s.handleRun)
	return mux
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("api server stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if s.cfg.AuthToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTargets(w http.ResponseWriter, _ *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusOK, []scheduler.JobStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.sched.ListJobs())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "use POST"})
		return
	}
	name := r.URL.Path[strings.LastIndex(r.URL.Path, "/trigger/")+len("/trigger/"):]
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target name required"})
		return
	}
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}
	run, err := s.sched.RunOnce(r.Context(), name)
	if err != nil && run.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunsLatest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.results.Latest())
}

func (s *Server) handleRunsHistory(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if s.runs == nil {
		out := []state.RunSummary{}
		for _, summary := range s.results.History() {
			if target == "" || summary.Target == target {
				out = append(out, summary)
			}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	runs, err := s.runs.List(target)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]state.RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, state.Summarize(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[strings.LastIndex(r.URL.Path, "/runs/")+len("/runs/"):]
	if run, ok := s.results.Run(id); ok {
		writeJSON(w, http.StatusOK, run)
		return
	}
	if s.runs != nil {
		run, err := s.runs.Get(id)
		if err == nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
