// Package api implements the submission API: a thin HTTP adaptor over the
// coordinator's submit/observe/list_tasks verbs, built on a plain
// net/http.ServeMux in the style of the engine's existing health server
// rather than a third-party router.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/fluxion/pkg/coordinator"
	"github.com/cuemby/fluxion/pkg/errors"
	"github.com/cuemby/fluxion/pkg/log"
	"github.com/cuemby/fluxion/pkg/metrics"
	"github.com/cuemby/fluxion/pkg/storage"
	"github.com/cuemby/fluxion/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the submission API's HTTP surface.
type Server struct {
	coord  *coordinator.Coordinator
	store  storage.Store
	mux    *http.ServeMux
	http   *http.Server
	logger zerolog.Logger
}

// NewServer wires the submission API's routes over coord. store is used
// only for the /ready dependency check, not for direct workflow access.
func NewServer(coord *coordinator.Coordinator, store storage.Store) *Server {
	s := &Server{
		coord:  coord,
		store:  store,
		mux:    http.NewServeMux(),
		logger: log.WithComponent("api"),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/workflows", s.handleWorkflows)
	s.mux.HandleFunc("/workflows/", s.handleWorkflowSubpaths)

	return s
}

// Start binds addr and serves until Stop is called or ListenAndServe errors.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      withLogging(s.logger, s.mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("submission API listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// submitRequest is the POST /workflows request body.
type submitRequest struct {
	Blueprint  *types.Blueprint       `json:"blueprint"`
	DockerInfo *types.DockerInfo      `json:"dockerinfo"`
	Inputs     []types.DataReference  `json:"inputs,omitempty"`
}

type submitResponse struct {
	WorkflowID string               `json:"workflow_id"`
	Status     types.WorkflowStatus `json:"status"`
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	workflowID, err := s.coord.Submit(req.Blueprint, req.DockerInfo, req.Inputs)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{WorkflowID: workflowID, Status: types.WorkflowPending})
}

// handleWorkflowSubpaths dispatches GET /workflows/{id} and
// GET /workflows/{id}/tasks, the only two verbs under this prefix.
func (s *Server) handleWorkflowSubpaths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := r.URL.Path[len("/workflows/"):]
	if path == "" {
		writeError(w, http.StatusNotFound, "missing workflow id")
		return
	}

	id := path
	tasksSuffix := "/tasks"
	if len(path) > len(tasksSuffix) && path[len(path)-len(tasksSuffix):] == tasksSuffix {
		id = path[:len(path)-len(tasksSuffix)]
		s.handleListTasks(w, r, id)
		return
	}
	s.handleObserve(w, r, id)
}

type observeResponse struct {
	WorkflowID string               `json:"workflow_id"`
	Status     types.WorkflowStatus `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	TerminalAt *time.Time           `json:"terminal_at,omitempty"`
	Error      *types.ErrorInfo     `json:"error,omitempty"`
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request, id string) {
	view, err := s.coord.Observe(id)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, observeResponse{
		WorkflowID: view.WorkflowID,
		Status:     view.Status,
		CreatedAt:  view.CreatedAt,
		TerminalAt: view.TerminalAt,
		Error:      view.Error,
	})
}

type taskListResponse struct {
	Tasks []coordinator.TaskView `json:"tasks"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, id string) {
	tasks, err := s.coord.ListTasks(id)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeTaxonomyError maps the errors.Kind taxonomy onto HTTP status codes:
// InvalidBlueprint -> 400, NotFound -> 404, anything else -> 500 (the API
// never surfaces post-submission failures synchronously; those are only
// observable through GET /workflows/{id}).
func writeTaxonomyError(w http.ResponseWriter, err error) {
	switch errors.KindOf(err) {
	case errors.InvalidBlueprint:
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.NotFound:
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
