package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subluminal-labs/acpcore/canonical"
)

func TestClaude_Behavior(t *testing.T) {
	t.Parallel()

	b := NewClaude().Behavior()
	require.False(t, b.DeferredInput)
	require.True(t, b.Streaming)
}

func TestClaude_Normalize_ToolCallHasFinalizedInput(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"params":{"sessionId":"s1","update":{
		"sessionUpdate":"tool_call",
		"toolCallId":"tc-1",
		"title":"Read",
		"rawInput":{"path":"main.go"},
		"status":"in_progress"
	}}}`)
	updates, err := NewClaude().Normalize("s1", raw)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	u := updates[0]
	require.Equal(t, canonical.KindToolCall, u.Kind)
	require.True(t, u.ToolCall.InputFinalized)
	require.Equal(t, canonical.ToolStatusRunning, u.ToolCall.Status)
	require.Equal(t, "main.go", u.ToolCall.Input["path"])
}

func TestClaude_Normalize_PlanMapsStatuses(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"params":{"sessionId":"s1","update":{
		"sessionUpdate":"plan",
		"entries":[
			{"content":"write tests","status":"completed"},
			{"content":"fix bug","status":"in_progress"},
			{"content":"ship it","status":"pending"}
		]
	}}}`)
	updates, err := NewClaude().Normalize("s1", raw)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	items := updates[0].PlanItems
	require.Len(t, items, 3)
	require.Equal(t, canonical.PlanItemDone, items[0].Status)
	require.Equal(t, canonical.PlanItemInProgress, items[1].Status)
	require.Equal(t, canonical.PlanItemPending, items[2].Status)
}

func TestClaude_Normalize_TurnCompleteCarriesUsage(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"params":{"sessionId":"s1","update":{
		"sessionUpdate":"turn_complete",
		"stopReason":"end_turn",
		"usage":{"inputTokens":12,"outputTokens":34}
	}}}`)
	updates, err := NewClaude().Normalize("s1", raw)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, "end_turn", updates[0].TurnComplete.StopReason)
	require.Equal(t, int64(12), updates[0].TurnComplete.Usage.InputTokens)
}

func TestClaude_Normalize_UnknownKindDrops(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"params":{"sessionId":"s1","update":{"sessionUpdate":"something_new"}}}`)
	updates, err := NewClaude().Normalize("s1", raw)
	require.NoError(t, err)
	require.Nil(t, updates)
}

func TestClaude_Normalize_MalformedInputReturnsNilNotError(t *testing.T) {
	t.Parallel()

	updates, err := NewClaude().Normalize("s1", []byte(`not json`))
	require.NoError(t, err)
	require.Nil(t, updates)
}
