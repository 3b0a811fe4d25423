// Package server exposes the workflow engine over HTTP: workflow document
// CRUD, run control (start, abort, pause, resume), an SSE stream of run
// events with history replay, and the artifact store. Runs execute in the
// background; every state transition fans out to connected clients.
package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iosans/loom/internal/flow/artifact"
	"github.com/iosans/loom/internal/flow/engine"
	"github.com/iosans/loom/internal/flow/model"
	"github.com/iosans/loom/internal/flow/state"
	"github.com/iosans/loom/internal/flow/store"
	"github.com/iosans/loom/internal/flow/validate"
)

// Server serves the workflow API. Engine and workflow store are required;
// a nil artifact store disables the artifact endpoints.
type Server struct {
	eng       *engine.Engine
	store     *store.Store
	artifacts *artifact.Store
	runs      *runRegistry
	addr      string
	baseCtx   context.Context
	cancel    context.CancelFunc
	httpSrv   *http.Server
	logger    *log.Logger
}

func New(eng *engine.Engine, st *store.Store, artifacts *artifact.Store, addr string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		eng:       eng,
		store:     st,
		artifacts: artifacts,
		runs:      newRunRegistry(),
		addr:      addr,
		baseCtx:   ctx,
		cancel:    cancel,
		logger:    log.New(os.Stderr, "[loom] ", log.LstdFlags),
	}

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/workflow", s.handleGetWorkflow)
	mux.HandleFunc("PUT /api/workflow", s.handlePutWorkflow)
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/runs/{id}/abort", s.handleAbortRun)
	mux.HandleFunc("POST /api/runs/{id}/pause", s.handlePauseRun)
	mux.HandleFunc("POST /api/runs/{id}/resume", s.handleResumeRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /api/artifacts", s.handleListArtifacts)
	mux.HandleFunc("GET /api/artifacts/{id}", s.handleGetArtifact)
	mux.HandleFunc("DELETE /api/artifacts/{id}", s.handleDeleteArtifact)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// StartRun launches a run of wf in the background and returns its id. Runs
// started here are registered like HTTP-started ones: same snapshot, abort,
// and event-stream endpoints. The scheduler fires through this. Documents
// with error-severity lint findings are refused, the same gate the CLI
// applies before running.
func (s *Server) StartRun(wf *model.Workflow) (string, error) {
	if err := validate.ValidateOrError(wf); err != nil {
		return "", err
	}
	x, err := s.eng.Prepare(wf)
	if err != nil {
		return "", err
	}

	bcast := NewBroadcaster()
	unsub := x.State().Subscribe(func(ev state.Event) {
		bcast.Send(map[string]any(ev))
	})
	ctx, cancel := context.WithCancel(s.baseCtx)

	entry := &runEntry{
		ID:     x.State().ID(),
		Exec:   x,
		Bcast:  bcast,
		cancel: cancel,
	}
	s.runs.Add(entry)

	go func() {
		defer cancel()
		defer bcast.Close()
		defer unsub()
		if err := x.Execute(ctx); err != nil {
			s.logger.Printf("run %s: %v", entry.ID, err)
		}
	}()

	return entry.ID, nil
}

// ListenAndServe starts the server and blocks until shutdown. SIGINT and
// SIGTERM trigger a graceful stop.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.addr)
	s.httpSrv.Addr = s.addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown aborts every run and drains HTTP connections.
func (s *Server) Shutdown() {
	s.runs.AbortAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}

// csrfProtect rejects cross-origin mutating requests. Browsers set the
// Origin header on cross-origin requests, so checking it blocks CSRF from
// remote pages while allowing CLI and same-host callers, which either omit
// Origin or use a localhost one.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
