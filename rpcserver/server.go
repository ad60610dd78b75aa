// Package rpcserver exposes the JSON-RPC 2.0 `/acp` endpoint and its paired
// SSE stream, plus the `/background-tasks` REST surface, over every other
// acpcore package: session.Store for session lifecycle, supervisor.Supervisor
// for upstream processes, orchestrator.Orchestrator for delegation, and
// taskqueue.Worker for deferred work.
package rpcserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/subluminal-labs/acpcore/config"
	"github.com/subluminal-labs/acpcore/orchestrator"
	"github.com/subluminal-labs/acpcore/session"
	"github.com/subluminal-labs/acpcore/store"
	"github.com/subluminal-labs/acpcore/supervisor"
	"github.com/subluminal-labs/acpcore/taskqueue"
	"github.com/subluminal-labs/acpcore/telemetry"
)

// Server wires every long-lived component into one HTTP surface. One
// instance is shared by the whole process.
type Server struct {
	sessions   *session.Store
	supervisor *supervisor.Supervisor
	orch       *orchestrator.Orchestrator
	tasks      *taskqueue.Worker
	presets    *config.PresetRegistry
	workspaces store.WorkspaceStore
	notes      store.NoteStore
	logger     telemetry.Logger

	startedAt time.Time
}

// New constructs a Server. workspaces and notes may be nil if the host
// persistence backend doesn't carry those stores; they are kept on the
// Server but no current handler reads them. logger may be nil.
func New(
	sessions *session.Store,
	sup *supervisor.Supervisor,
	orch *orchestrator.Orchestrator,
	tasks *taskqueue.Worker,
	presets *config.PresetRegistry,
	workspaces store.WorkspaceStore,
	notes store.NoteStore,
	logger telemetry.Logger,
) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		sessions:   sessions,
		supervisor: sup,
		orch:       orch,
		tasks:      tasks,
		presets:    presets,
		workspaces: workspaces,
		notes:      notes,
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// Router builds the complete HTTP handler: the JSON-RPC `/acp` endpoint
// (POST), its paired SSE stream (GET), and the background-task REST
// surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/acp", s.handleRPC)
	r.Get("/acp", s.handleSSE)

	r.Route("/background-tasks", func(r chi.Router) {
		r.Post("/", s.handleEnqueueTask)
		r.Get("/", s.handleListTasks)
		r.Delete("/{id}", s.handleCancelTask)
	})

	return r
}
