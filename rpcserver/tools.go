package rpcserver

import (
	"context"
	"encoding/json"

	"github.com/subluminal-labs/acpcore/orchestrator/taskblock"
	"github.com/subluminal-labs/acpcore/session"
)

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleExtension dispatches every method not covered by the core ACP
// surface: tools/call (orchestration helper tools) and any method starting
// with "_" (skill discovery).
func (s *Server) handleExtension(ctx context.Context, req rpcRequest) rpcResponse {
	if req.Method != "tools/call" {
		return s.handleSkillMethod(req)
	}

	var call toolCallParams
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return newError(req.ID, codeInvalidParams, "malformed tools/call params")
	}
	switch call.Name {
	case "list_agents":
		return s.toolListAgents(req, call.Arguments)
	case "create_agent":
		return s.toolCreateAgent(ctx, req, call.Arguments)
	case "agent_status":
		return s.toolAgentStatus(req, call.Arguments)
	default:
		return newError(req.ID, codeMethodNotFound, "unknown tool: "+call.Name)
	}
}

// handleSkillMethod answers "_skills/list" by listing every registered
// specialist preset as a named skill — the closest concept this runtime
// already has to spec.md's "named skills".
func (s *Server) handleSkillMethod(req rpcRequest) rpcResponse {
	if req.Method != "_skills/list" {
		return newError(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
	presets := s.presets.List()
	out := make([]skillSummary, 0, len(presets))
	for _, p := range presets {
		out = append(out, skillSummary{ID: p.ID, Role: p.Role, Provider: p.Provider})
	}
	return newResult(req.ID, struct {
		Skills []skillSummary `json:"skills"`
	}{Skills: out})
}

type skillSummary struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Provider string `json:"provider"`
}

type listAgentsParams struct {
	WorkspaceID string `json:"workspaceId"`
}

type agentSummary struct {
	SessionID       string `json:"sessionId"`
	Role            string `json:"role"`
	Provider        string `json:"provider"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
}

func (s *Server) toolListAgents(req rpcRequest, raw json.RawMessage) rpcResponse {
	var params listAgentsParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return newError(req.ID, codeInvalidParams, "malformed list_agents arguments")
		}
	}
	recs := s.sessions.ListSessions(params.WorkspaceID)
	out := make([]agentSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, agentSummary{
			SessionID:       rec.ID,
			Role:            rec.Role,
			Provider:        rec.Provider,
			ParentSessionID: rec.ParentSessionID,
		})
	}
	return newResult(req.ID, struct {
		Agents []agentSummary `json:"agents"`
	}{Agents: out})
}

type createAgentParams struct {
	ParentSessionID  string `json:"parentSessionId"`
	Role             string `json:"role"`
	Title            string `json:"title"`
	Objective        string `json:"objective"`
	Scope            string `json:"scope"`
	Inputs           string `json:"inputs"`
	DefinitionOfDone string `json:"definitionOfDone"`
	Verification     string `json:"verification"`
	OutputRequired   string `json:"outputRequired"`
}

type createAgentResult struct {
	SessionID string `json:"sessionId"`
}

// toolCreateAgent delegates one ad-hoc task to a new specialist session
// under parentSessionId, reusing Orchestrator.Delegate exactly as
// Orchestrator.IngestCoordinatorOutput would for an extracted task block.
func (s *Server) toolCreateAgent(ctx context.Context, req rpcRequest, raw json.RawMessage) rpcResponse {
	var params createAgentParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return newError(req.ID, codeInvalidParams, "malformed create_agent arguments")
	}
	if params.ParentSessionID == "" || params.Role == "" {
		return newError(req.ID, codeInvalidParams, "create_agent: parentSessionId and role are required")
	}

	task := taskblock.Task{
		Title:            params.Title,
		Objective:        params.Objective,
		Scope:            params.Scope,
		Inputs:           params.Inputs,
		DefinitionOfDone: params.DefinitionOfDone,
		Verification:     params.Verification,
		OutputRequired:   params.OutputRequired,
	}
	childID, err := s.orch.Delegate(ctx, params.ParentSessionID, task, session.Role(params.Role))
	if err != nil {
		return newError(req.ID, errorCodeFor(err), err.Error())
	}
	return newResult(req.ID, createAgentResult{SessionID: childID})
}

type agentStatusParams struct {
	SessionID string `json:"sessionId"`
}

type agentStatusResult struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
	Provider  string `json:"provider"`
	Alive     bool   `json:"alive"`
}

func (s *Server) toolAgentStatus(req rpcRequest, raw json.RawMessage) rpcResponse {
	var params agentStatusParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return newError(req.ID, codeInvalidParams, "malformed agent_status arguments")
	}
	rec, ok := s.sessions.Get(params.SessionID)
	if !ok {
		return newError(req.ID, codeSessionNotFound, "agent_status: session "+params.SessionID+" not found")
	}
	alive := false
	if h, ok := s.supervisor.Get(params.SessionID); ok {
		alive = h.Alive()
	}
	return newResult(req.ID, agentStatusResult{
		SessionID: rec.ID,
		Role:      rec.Role,
		Provider:  rec.Provider,
		Alive:     alive,
	})
}
