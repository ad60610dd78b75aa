package rpcserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxTaskBodyBytes int64 = 1 << 20

type enqueueTaskRequest struct {
	WorkspaceID string `json:"workspaceId"`
	AgentID     string `json:"agentId"`
	Prompt      string `json:"prompt"`
}

type enqueueTaskResponse struct {
	TaskID string `json:"taskId"`
}

// handleEnqueueTask implements POST /background-tasks.
func (s *Server) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTaskBodyBytes)
	defer func() { _ = r.Body.Close() }()

	var req enqueueTaskRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.Prompt == "" {
		http.Error(w, "agentId and prompt are required", http.StatusBadRequest)
		return
	}

	id, err := s.tasks.Enqueue(r.Context(), req.WorkspaceID, req.AgentID, req.Prompt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, enqueueTaskResponse{TaskID: id})
}

// handleListTasks implements GET /background-tasks?workspaceId=....
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	tasks, err := s.tasks.List(r.Context(), workspaceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleCancelTask implements DELETE /background-tasks/{id}.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "task id is required", http.StatusBadRequest)
		return
	}
	_, ok, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if err := s.tasks.Cancel(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
