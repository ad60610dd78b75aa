package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/subluminal-labs/acpcore/bridge"
	"github.com/subluminal-labs/acpcore/canonical"
	"github.com/subluminal-labs/acpcore/session"
)

const maxRPCBodyBytes int64 = 8 << 20

const serverVersion = "0.1.0"

// handleRPC is the single entry point for every JSON-RPC 2.0 message posted
// to /acp: initialize, session/new, session/prompt, session/load, and
// extension methods (tools/call and names starting with "_").
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	var req rpcRequest
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, newError(nil, codeParseError, "invalid JSON-RPC envelope: "+err.Error()))
		return
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		writeJSON(w, http.StatusOK, newError(req.ID, codeParseError, "trailing data after JSON-RPC envelope"))
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusOK, newError(req.ID, codeInvalidRequest, "method is required"))
		return
	}

	writeJSON(w, http.StatusOK, s.dispatch(r.Context(), req))
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) rpcResponse {
	switch {
	case req.Method == "initialize":
		return s.handleInitialize(req)
	case req.Method == "session/new":
		return s.handleSessionNew(ctx, req)
	case req.Method == "session/prompt":
		return s.handleSessionPrompt(ctx, req)
	case req.Method == "session/load":
		return s.handleSessionLoad(req)
	case req.Method == "tools/call" || strings.HasPrefix(req.Method, "_"):
		return s.handleExtension(ctx, req)
	default:
		return newError(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type initializeResult struct {
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleInitialize(req rpcRequest) rpcResponse {
	return newResult(req.ID, initializeResult{
		Version:      serverVersion,
		Capabilities: []string{"session/new", "session/prompt", "session/load", "tools/call"},
	})
}

type sessionNewParams struct {
	WorkspaceID     string `json:"workspaceId"`
	Cwd             string `json:"cwd"`
	Provider        string `json:"provider"`
	Role            string `json:"role"`
	PresetID        string `json:"presetId"`
	ParentSessionID string `json:"parentSessionId"`
}

type sessionNewResult struct {
	SessionID string `json:"sessionId"`
}

// handleSessionNew resolves provider/role/header from the named preset (if
// any), falling back to the raw provider/role params, creates the session
// record, and spawns its upstream process without sending a prompt — the
// prompt arrives separately via session/prompt. This deliberately does not
// go through orchestrator.Dispatcher: Dispatcher's contract is spawn-and-
// send-immediately (what delegation and background tasks both want), while
// an interactive session/new is spawn-now-prompt-later.
func (s *Server) handleSessionNew(ctx context.Context, req rpcRequest) rpcResponse {
	var params sessionNewParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, codeInvalidParams, "malformed session/new params")
		}
	}

	providerID, role, presetID, header := s.presets.Resolve(params.PresetID)
	if params.Provider != "" {
		providerID = params.Provider
	}
	if params.Role != "" {
		role = params.Role
	}
	if role == "" {
		role = string(session.RoleSolo)
	}
	if providerID == "" {
		return newError(req.ID, codeInvalidParams, "session/new: provider or presetId is required")
	}

	childID := uuid.NewString()
	s.sessions.Upsert(session.NewSessionInput{
		ID:                 childID,
		WorkspaceID:        params.WorkspaceID,
		Cwd:                params.Cwd,
		Provider:           providerID,
		Role:               session.Role(role),
		PresetID:           presetID,
		ParentSessionID:    params.ParentSessionID,
		SystemPromptHeader: header,
	})

	h, err := s.supervisor.Spawn(ctx, childID, providerID, params.Cwd, nil)
	if err != nil {
		s.sessions.DeleteSession(ctx, childID)
		return newError(req.ID, errorCodeFor(err), err.Error())
	}
	s.sessions.Drive(ctx, childID, h)

	return newResult(req.ID, sessionNewResult{SessionID: childID})
}

type sessionPromptParams struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

type sessionPromptResult struct {
	StopReason string `json:"stopReason"`
}

// handleSessionPrompt sends prompt to sessionID's already-spawned process
// and blocks until the turn ends (agent_completed or agent_failed),
// reporting the stop reason. Updates produced along the way still reach any
// SSE listener attached via GET /acp?sessionId=... concurrently; this
// handler only waits for the terminal event.
func (s *Server) handleSessionPrompt(ctx context.Context, req rpcRequest) rpcResponse {
	var params sessionPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newError(req.ID, codeInvalidParams, "malformed session/prompt params")
	}
	if params.SessionID == "" || params.Prompt == "" {
		return newError(req.ID, codeInvalidParams, "session/prompt: sessionId and prompt are required")
	}

	h, ok := s.supervisor.Get(params.SessionID)
	if !ok {
		return newError(req.ID, codeSessionNotFound, "session/prompt: no live process for session "+params.SessionID)
	}

	done := make(chan bridge.Event, 1)
	unsubscribe, ok := s.sessions.Subscribe(params.SessionID, func(ev bridge.Event) {
		if ev.Kind == bridge.EventAgentCompleted || ev.Kind == bridge.EventAgentFailed {
			select {
			case done <- ev:
			default:
			}
		}
	})
	if !ok {
		return newError(req.ID, codeSessionNotFound, "session/prompt: session "+params.SessionID+" not found")
	}
	defer unsubscribe()

	s.sessions.PushUserMessage(ctx, params.SessionID, params.Prompt)
	if err := h.Send(params.Prompt); err != nil {
		return newError(req.ID, errorCodeFor(err), err.Error())
	}

	select {
	case ev := <-done:
		if ev.Kind == bridge.EventAgentFailed {
			msg := "upstream failed"
			code := codeInternalError
			if ev.AgentFailed != nil {
				msg = ev.AgentFailed.Message
				code = codeForErrorKind(ev.AgentFailed.Kind)
			}
			return newError(req.ID, code, msg)
		}
		stopReason := ""
		if ev.AgentCompleted != nil {
			stopReason = ev.AgentCompleted.StopReason
		}
		return newResult(req.ID, sessionPromptResult{StopReason: stopReason})
	case <-ctx.Done():
		return newError(req.ID, codeTimeout, "session/prompt: request cancelled")
	}
}

func codeForErrorKind(k canonical.ErrorKind) int {
	switch k {
	case canonical.ErrorKindUpstreamUnavailable:
		return codeUpstreamUnavailable
	case canonical.ErrorKindUpstreamExited:
		return codeUpstreamExited
	case canonical.ErrorKindCancelled:
		return codeCancelled
	case canonical.ErrorKindTimeout:
		return codeTimeout
	default:
		return codeInternalError
	}
}

type sessionLoadParams struct {
	SessionID string `json:"sessionId"`
}

type sessionLoadResult struct {
	SessionID string             `json:"sessionId"`
	History   []canonical.Update `json:"history"`
}

func (s *Server) handleSessionLoad(req rpcRequest) rpcResponse {
	var params sessionLoadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newError(req.ID, codeInvalidParams, "malformed session/load params")
	}
	if _, ok := s.sessions.Get(params.SessionID); !ok {
		return newError(req.ID, codeSessionNotFound, "session/load: session "+params.SessionID+" not found")
	}
	history, _ := s.sessions.GetHistory(params.SessionID, true)
	return newResult(req.ID, sessionLoadResult{SessionID: params.SessionID, History: history})
}

// handleSSE streams sessionID's canonical updates as they are published:
// first the buffered backlog captured at attach time, then everything
// published afterward, until the client disconnects or the session
// detaches this listener for backpressure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	buffered, live, ok := s.sessions.AttachSSE(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	defer s.sessions.DetachSSE(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, u := range buffered {
		if !s.writeSSEFrame(w, flusher, sessionID, u) {
			return
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-live:
			if !ok {
				return
			}
			if !s.writeSSEFrame(w, flusher, sessionID, u) {
				return
			}
		}
	}
}

// updateNotification is the JSON-RPC notification envelope one SSE frame
// carries. Update is marshalled with canonical.Update's default (untagged)
// field encoding — the same encoding session/hydrate.go depends on to
// rehydrate persisted history, so it is left as-is here rather than
// retagged for this one new consumer; see DESIGN.md.
type updateNotification struct {
	JSONRPC string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  updateNotificationBody `json:"params"`
}

type updateNotificationBody struct {
	SessionID string           `json:"sessionId"`
	Update    canonical.Update `json:"update"`
}

func (s *Server) writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, sessionID string, u canonical.Update) bool {
	frame := updateNotification{
		JSONRPC: jsonrpcVersion,
		Method:  "session/update",
		Params:  updateNotificationBody{SessionID: sessionID, Update: u},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Warn(context.Background(), "rpcserver: marshal SSE frame failed", "session_id", sessionID, "error", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
