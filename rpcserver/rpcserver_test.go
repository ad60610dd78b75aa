package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/subluminal-labs/acpcore/config"
	"github.com/subluminal-labs/acpcore/orchestrator"
	"github.com/subluminal-labs/acpcore/provider"
	"github.com/subluminal-labs/acpcore/session"
	"github.com/subluminal-labs/acpcore/store/memstore"
	"github.com/subluminal-labs/acpcore/supervisor"
	"github.com/subluminal-labs/acpcore/taskqueue"
	"github.com/subluminal-labs/acpcore/trace"
)

// scriptResolver runs an inline shell script in place of a real provider
// binary, the same test double supervisor_test.go and taskqueue_test.go use.
type scriptResolver struct{ script string }

func (r scriptResolver) Resolve(_ context.Context, _ string) (string, []string, error) {
	return "/bin/sh", []string{"-c", r.script}, nil
}

func newTestServer(t *testing.T, resolver supervisor.BinaryResolver) (*Server, *session.Store, *memstore.Store) {
	t.Helper()
	persist := memstore.New()
	tunables := config.Defaults()
	providers := provider.NewRegistry()
	recorder := trace.NewRecorder(trace.NewMemoryJournal(0), nil, 5, time.Second)
	sessions := session.New(tunables, persist, providers, recorder, nil, nil, nil)

	sup := supervisor.New(resolver, nil, 5*time.Second, time.Second)
	presets := config.NewPresetRegistry([]config.Preset{
		{ID: "implementor-default", Role: "IMPLEMENTOR", Provider: "generic", Model: "m1", SystemPromptHeader: "you implement"},
	})

	dispatcher := orchestrator.NewInlineDispatcher(sup, sessions)
	orch := orchestrator.New(sessions, dispatcher, presets, 1, nil, nil, nil, nil)

	worker := taskqueue.New(tunables, persist, sessions, sup, presets, nil)
	sessions.SetProgressSink(worker)

	srv := New(sessions, sup, orch, worker, presets, persist, persist, nil)
	return srv, sessions, persist
}

func doRPC(t *testing.T, srv *Server, method string, params any) rpcResponse {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: jsonrpcVersion, ID: json.RawMessage(`1`), Method: method, Params: raw})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/acp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleRPC(rec, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestInitialize_ReturnsVersionAndCapabilities(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, scriptResolver{"sleep 1"})

	resp := doRPC(t, srv, "initialize", nil)
	require.Nil(t, resp.Error)

	var result initializeResult
	require.NoError(t, remarshal(resp.Result, &result))
	require.Equal(t, serverVersion, result.Version)
	require.Contains(t, result.Capabilities, "session/prompt")
}

func TestSessionNew_SpawnsSessionAndReturnsID(t *testing.T) {
	t.Parallel()
	srv, sessions, _ := newTestServer(t, scriptResolver{"sleep 1"})

	resp := doRPC(t, srv, "session/new", sessionNewParams{
		WorkspaceID: "ws1", Provider: "generic", Role: "SOLO",
	})
	require.Nil(t, resp.Error)

	var result sessionNewResult
	require.NoError(t, remarshal(resp.Result, &result))
	require.NotEmpty(t, result.SessionID)

	rec, ok := sessions.Get(result.SessionID)
	require.True(t, ok)
	require.Equal(t, "ws1", rec.WorkspaceID)
	require.Equal(t, "generic", rec.Provider)
}

func TestSessionNew_UsesPresetWhenGiven(t *testing.T) {
	t.Parallel()
	srv, sessions, _ := newTestServer(t, scriptResolver{"sleep 1"})

	resp := doRPC(t, srv, "session/new", sessionNewParams{WorkspaceID: "ws1", PresetID: "implementor-default"})
	require.Nil(t, resp.Error)

	var result sessionNewResult
	require.NoError(t, remarshal(resp.Result, &result))

	rec, ok := sessions.Get(result.SessionID)
	require.True(t, ok)
	require.Equal(t, "IMPLEMENTOR", rec.Role)
	require.Equal(t, "implementor-default", rec.PresetID)
}

func TestSessionNew_NoProviderOrPreset_ReturnsInvalidParams(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, scriptResolver{"sleep 1"})

	resp := doRPC(t, srv, "session/new", sessionNewParams{WorkspaceID: "ws1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestSessionPrompt_NoLiveProcess_ReturnsSessionNotFound(t *testing.T) {
	t.Parallel()
	srv, sessions, _ := newTestServer(t, scriptResolver{"sleep 1"})
	sessions.Upsert(session.NewSessionInput{ID: "orphan", Provider: "generic", WorkspaceID: "ws1"})

	resp := doRPC(t, srv, "session/prompt", sessionPromptParams{SessionID: "orphan", Prompt: "hi"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeSessionNotFound, resp.Error.Code)
}

func TestSessionPrompt_WaitsForTurnCompleteAndReturnsStopReason(t *testing.T) {
	t.Parallel()
	script := `sleep 0.2; echo '{"params":{"sessionId":"x","update":{"type":"turn_complete","stop_reason":"end_turn"}}}'; sleep 1`
	srv, _, _ := newTestServer(t, scriptResolver{script})

	newResp := doRPC(t, srv, "session/new", sessionNewParams{WorkspaceID: "ws1", Provider: "generic"})
	require.Nil(t, newResp.Error)
	var newResult sessionNewResult
	require.NoError(t, remarshal(newResp.Result, &newResult))

	promptResp := doRPC(t, srv, "session/prompt", sessionPromptParams{SessionID: newResult.SessionID, Prompt: "do it"})
	require.Nil(t, promptResp.Error)

	var result sessionPromptResult
	require.NoError(t, remarshal(promptResp.Result, &result))
	require.Equal(t, "end_turn", result.StopReason)
}

func TestSessionLoad_ReturnsHistory(t *testing.T) {
	t.Parallel()
	srv, sessions, _ := newTestServer(t, scriptResolver{"sleep 1"})
	sessions.Upsert(session.NewSessionInput{ID: "sess1", Provider: "generic", WorkspaceID: "ws1"})
	sessions.PushUserMessage(context.Background(), "sess1", "hello there")

	resp := doRPC(t, srv, "session/load", sessionLoadParams{SessionID: "sess1"})
	require.Nil(t, resp.Error)

	var result sessionLoadResult
	require.NoError(t, remarshal(resp.Result, &result))
	require.Equal(t, "sess1", result.SessionID)
	require.Len(t, result.History, 1)
}

func TestSessionLoad_UnknownSession_ReturnsSessionNotFound(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, scriptResolver{"sleep 1"})

	resp := doRPC(t, srv, "session/load", sessionLoadParams{SessionID: "nope"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeSessionNotFound, resp.Error.Code)
}

func TestToolsCall_ListAgents(t *testing.T) {
	t.Parallel()
	srv, sessions, _ := newTestServer(t, scriptResolver{"sleep 1"})
	sessions.Upsert(session.NewSessionInput{ID: "sess1", Provider: "generic", WorkspaceID: "ws1", Role: session.RoleSolo})

	resp := doRPC(t, srv, "tools/call", toolCallParams{Name: "list_agents", Arguments: json.RawMessage(`{"workspaceId":"ws1"}`)})
	require.Nil(t, resp.Error)

	var result struct {
		Agents []agentSummary `json:"agents"`
	}
	require.NoError(t, remarshal(resp.Result, &result))
	require.Len(t, result.Agents, 1)
	require.Equal(t, "sess1", result.Agents[0].SessionID)
}

func TestToolsCall_CreateAgent_DelegatesViaOrchestrator(t *testing.T) {
	t.Parallel()
	srv, sessions, _ := newTestServer(t, scriptResolver{"sleep 1"})
	sessions.Upsert(session.NewSessionInput{ID: "parent", Provider: "claude", WorkspaceID: "ws1", Cwd: "/work"})

	args := createAgentParams{ParentSessionID: "parent", Role: "IMPLEMENTOR", Title: "Fix bug", Objective: "fix it"}
	resp := doRPC(t, srv, "tools/call", toolCallParams{Name: "create_agent", Arguments: marshalT(t, args)})
	require.Nil(t, resp.Error)

	var result createAgentResult
	require.NoError(t, remarshal(resp.Result, &result))
	require.NotEmpty(t, result.SessionID)

	child, ok := sessions.Get(result.SessionID)
	require.True(t, ok)
	require.Equal(t, "parent", child.ParentSessionID)
	require.Equal(t, "implementor-default", child.PresetID)
}

func TestToolsCall_AgentStatus_UnknownSession(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, scriptResolver{"sleep 1"})

	resp := doRPC(t, srv, "tools/call", toolCallParams{Name: "agent_status", Arguments: json.RawMessage(`{"sessionId":"nope"}`)})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeSessionNotFound, resp.Error.Code)
}

func TestSkillsList_ReturnsRegisteredPresets(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, scriptResolver{"sleep 1"})

	resp := doRPC(t, srv, "_skills/list", nil)
	require.Nil(t, resp.Error)

	var result struct {
		Skills []skillSummary `json:"skills"`
	}
	require.NoError(t, remarshal(resp.Result, &result))
	require.Len(t, result.Skills, 1)
	require.Equal(t, "implementor-default", result.Skills[0].ID)
}

func TestUnknownMethod_ReturnsMethodNotFound(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, scriptResolver{"sleep 1"})

	resp := doRPC(t, srv, "whatever", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestHandleSSE_StreamsBufferedUpdatesThenStopsOnDisconnect(t *testing.T) {
	t.Parallel()
	srv, sessions, _ := newTestServer(t, scriptResolver{"sleep 1"})
	sessions.Upsert(session.NewSessionInput{ID: "sess1", Provider: "generic", WorkspaceID: "ws1"})
	sessions.PushNotification(context.Background(), "sess1", json.RawMessage(`{"params":{"sessionId":"sess1","update":{"type":"message","role":"assistant","text":"hello"}}}`))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/acp?sessionId=sess1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "session/update")
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleSSE did not return after client disconnect")
	}

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestBackgroundTasks_EnqueueListCancel(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, scriptResolver{"sleep 1"})
	router := srv.Router()

	enqueueBody, err := json.Marshal(enqueueTaskRequest{WorkspaceID: "ws1", AgentID: "generic", Prompt: "do it"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/background-tasks", bytes.NewReader(enqueueBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var enqueued enqueueTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enqueued))
	require.NotEmpty(t, enqueued.TaskID)

	listReq := httptest.NewRequest(http.MethodGet, "/background-tasks?workspaceId=ws1", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	require.Contains(t, listRec.Body.String(), enqueued.TaskID)

	delReq := httptest.NewRequest(http.MethodDelete, "/background-tasks/"+enqueued.TaskID, nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusNoContent, delRec.Code)
}

func TestBackgroundTasks_CancelUnknown_ReturnsNotFound(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, scriptResolver{"sleep 1"})
	router := srv.Router()

	req := httptest.NewRequest(http.MethodDelete, "/background-tasks/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func remarshal(v any, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func marshalT(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
