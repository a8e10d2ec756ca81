// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package dashboard serves the browser UI: a JSON API over the record
// store, job control and a WebSocket relay of job output.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/pubsub/v2"
	"github.com/stagehand-ops/stagehand/internal/db"
	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/model"
)

//go:embed static
var staticFS embed.FS

// JobRunner is the part of jobs.Manager the dashboard drives.
type JobRunner interface {
	Start(ctx context.Context, name, action string, args []string) (*model.Job, error)
	Tail(id string) ([]string, int, bool)
}

// Server wires the HTTP routes to the store, the job runner and the hub.
type Server struct {
	store db.Store
	jobs  JobRunner
	hub   *pubsub.SimpleHub
	mux   *mux.Router

	stopOnce sync.Once
	stopped  chan struct{}
}

// New returns a Server with every route registered.
func New(store db.Store, jobs JobRunner, hub *pubsub.SimpleHub) *Server {
	s := &Server{
		store:   store,
		jobs:    jobs,
		hub:     hub,
		mux:     mux.NewRouter(),
		stopped: make(chan struct{}),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	routeDefinitions := []struct {
		path    string
		method  string
		handler http.HandlerFunc
	}{
		{"/api/instances", http.MethodGet, s.listInstances},
		{"/api/instances", http.MethodPost, s.createInstance},
		{"/api/instances/{name}", http.MethodGet, s.getInstance},
		{"/api/instances/{name}", http.MethodPut, s.updateInstance},
		{"/api/instances/{name}", http.MethodDelete, s.deleteInstance},
		{"/api/instances/{name}/actions/{action}", http.MethodPost, s.startAction},
		{"/api/jobs", http.MethodGet, s.listJobs},
		{"/api/jobs/{id}", http.MethodGet, s.getJob},
		{"/ws/logs", http.MethodGet, s.streamLogs},
	}
	s.mux.Use(requireJSON)
	for _, route := range routeDefinitions {
		s.mux.HandleFunc(route.path, route.handler).Methods(route.method)
	}

	static, _ := fs.Sub(staticFS, "static")
	s.mux.PathPrefix("/").Handler(http.FileServer(http.FS(static))).Methods(http.MethodGet)
	s.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	s.mux.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Stop ends every open log stream.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logging.Infof("dashboard listening on http://%s", ln.Addr())

	select {
	case err := <-errCh:
		s.Stop()
		return err
	case <-ctx.Done():
	}
	s.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
