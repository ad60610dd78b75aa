package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/subluminal-labs/acpcore/canonical"
)

func TestBridge_DeferredRead_EmitsInProgressThenCompleted(t *testing.T) {
	t.Parallel()

	b := New(nil)
	now := time.Now()

	events := b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCall, Timestamp: now,
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c1", ToolName: "read", Input: map[string]any{}},
	})
	require.Len(t, events, 1)
	require.Equal(t, EventReadBlock, events[0].Kind)
	require.Empty(t, events[0].Read.Files)

	events = b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCallUpdate, Timestamp: now,
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c1", ToolName: "read", Input: map[string]any{"filePath": "/a.ts"}},
	})
	require.Len(t, events, 1)
	require.Equal(t, []string{"/a.ts"}, events[0].Read.Files)

	events = b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCallUpdate, Timestamp: now,
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c1", ToolName: "read", Status: canonical.ToolStatusCompleted, Output: "…"},
	})
	require.Len(t, events, 1)
	require.Equal(t, canonical.ToolStatusCompleted, events[0].Read.Status)
	require.Equal(t, []string{"/a.ts"}, events[0].Read.Files, "classification and accumulated input survive across updates")
}

func TestBridge_ImmediateBash_EmitsTerminalBlocks(t *testing.T) {
	t.Parallel()

	b := New(nil)
	now := time.Now()

	events := b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCall, Timestamp: now,
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c2", ToolName: "bash", Input: map[string]any{"command": "npm test"}, InputFinalized: true},
	})
	require.Len(t, events, 1)
	require.Equal(t, EventTerminalBlock, events[0].Kind)
	require.Equal(t, "npm test", events[0].Terminal.Command)
	require.Equal(t, canonical.ToolStatusRunning, events[0].Terminal.Status)

	events = b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCallUpdate, Timestamp: now,
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c2", ToolName: "bash", Status: canonical.ToolStatusCompleted, Output: "All tests passed"},
	})
	require.Len(t, events, 1)
	require.Equal(t, "npm test", events[0].Terminal.Command)
	require.Equal(t, canonical.ToolStatusCompleted, events[0].Terminal.Status)
	require.Equal(t, "All tests passed", events[0].Terminal.Output)
}

func TestBridge_ToolCallUpdate_ClearsTrackedOnTerminalStatus(t *testing.T) {
	t.Parallel()

	b := New(nil)
	now := time.Now()
	b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCall, Timestamp: now,
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c3", ToolName: "write", Input: map[string]any{"path": "a.go"}},
	})
	b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCallUpdate, Timestamp: now,
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c3", ToolName: "write", Status: canonical.ToolStatusCompleted},
	})
	require.Empty(t, b.tracked)
}

func TestBridge_TurnComplete_EmitsUsageThenCompleted(t *testing.T) {
	t.Parallel()

	b := New(nil)
	events := b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindTurnComplete, Timestamp: time.Now(),
		TurnComplete: &canonical.TurnCompletePayload{StopReason: "end_turn", Usage: &canonical.Usage{InputTokens: 10, OutputTokens: 20}},
	})
	require.Len(t, events, 2)
	require.Equal(t, EventUsageReported, events[0].Kind)
	require.Equal(t, EventAgentCompleted, events[1].Kind)
	require.Equal(t, "end_turn", events[1].AgentCompleted.StopReason)
}

func TestBridge_TurnComplete_NoUsage_EmitsOnlyCompleted(t *testing.T) {
	t.Parallel()

	b := New(nil)
	events := b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindTurnComplete, Timestamp: time.Now(),
		TurnComplete: &canonical.TurnCompletePayload{StopReason: "cancelled"},
	})
	require.Len(t, events, 1)
	require.Equal(t, EventAgentCompleted, events[0].Kind)
}

func TestBridge_Cleanup_ClearsTrackedState(t *testing.T) {
	t.Parallel()

	b := New(nil)
	b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCall, Timestamp: time.Now(),
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c4", ToolName: "bash"},
	})
	require.Len(t, b.tracked, 1)
	b.Cleanup()
	require.Empty(t, b.tracked)
}

func TestBridge_EditChanges_ClassifiesDeleteAndMove(t *testing.T) {
	t.Parallel()

	b := New(nil)
	events := b.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCall, Timestamp: time.Now(),
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c5", ToolName: "delete", Input: map[string]any{"path": "old.go"}},
	})
	require.Equal(t, ChangeTypeDelete, events[0].FileChanges.Changes[0].ChangeType)

	b2 := New(nil)
	events = b2.Ingest(canonical.Update{
		SessionID: "S1", Kind: canonical.KindToolCall, Timestamp: time.Now(),
		ToolCall: &canonical.ToolCallPayload{ToolCallID: "c6", ToolName: "move", Input: map[string]any{"from_path": "a.go", "to_path": "b.go"}},
	})
	require.Equal(t, ChangeTypeMove, events[0].FileChanges.Changes[0].ChangeType)
	require.Equal(t, "a.go", events[0].FileChanges.Changes[0].FromPath)
	require.Equal(t, "b.go", events[0].FileChanges.Changes[0].Path)
}
