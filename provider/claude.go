package provider

import (
	"encoding/json"
	"time"

	"github.com/subluminal-labs/acpcore/canonical"
)

// Claude adapts the upstream "claude" agent binary's wire dialect. Claude
// announces tool calls with arguments already complete, so Behavior().
// DeferredInput is false.
type Claude struct{}

// NewClaude constructs the Claude adapter.
func NewClaude() *Claude { return &Claude{} }

// Behavior reports Claude's immediate-input, chunked-streaming wire shape.
func (c *Claude) Behavior() Behavior {
	return Behavior{DeferredInput: false, Streaming: true}
}

// wireEnvelope is the subset of the upstream JSON-RPC notification every
// provider dialect shares: a "session/update" method carrying a
// provider-shaped "update" object.
type wireEnvelope struct {
	Params struct {
		SessionID string          `json:"sessionId"`
		Update    json.RawMessage `json:"update"`
	} `json:"params"`
}

// claudeUpdate mirrors the upstream claude-code ACP dialect's update shape.
type claudeUpdate struct {
	SessionUpdate string `json:"sessionUpdate"`

	// tool_call / tool_call_update fields.
	ToolCallID string         `json:"toolCallId"`
	Title      string         `json:"title"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	RawInput   map[string]any `json:"rawInput"`

	// Content is shaped differently depending on SessionUpdate: a content
	// block array for tool_call/tool_call_update, a single content object
	// for agent_message_chunk/agent_thought_chunk. Decoded on demand by
	// toolContentText and chunkText below.
	Content json.RawMessage `json:"content"`

	// plan fields.
	Entries []struct {
		Content string `json:"content"`
		Status  string `json:"status"`
	} `json:"entries"`

	// turn-complete fields.
	StopReason string `json:"stopReason"`
	Usage      *struct {
		InputTokens  int64 `json:"inputTokens"`
		OutputTokens int64 `json:"outputTokens"`
	} `json:"usage"`
}

// Normalize implements Adapter for the Claude dialect. Claude tool_call
// notifications always carry complete rawInput, so no InputFinalized
// reconciliation is needed beyond the status mapping.
func (c *Claude) Normalize(sessionID string, raw json.RawMessage) ([]canonical.Update, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil
	}
	var u claudeUpdate
	if err := json.Unmarshal(env.Params.Update, &u); err != nil {
		return nil, nil
	}

	now := time.Now().UTC()
	switch u.SessionUpdate {
	case "tool_call":
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "claude",
			Kind:      canonical.KindToolCall,
			Timestamp: now,
			ToolCall: &canonical.ToolCallPayload{
				ToolCallID:     u.ToolCallID,
				ToolName:       u.Title,
				Input:          u.RawInput,
				InputFinalized: true,
				Status:         mapToolStatus(u.Status),
			},
		}}, nil
	case "tool_call_update":
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "claude",
			Kind:      canonical.KindToolCallUpdate,
			Timestamp: now,
			ToolCall: &canonical.ToolCallPayload{
				ToolCallID:     u.ToolCallID,
				Input:          u.RawInput,
				InputFinalized: true,
				Status:         mapToolStatus(u.Status),
				Output:         toolContentText(u.Content),
			},
		}}, nil
	case "agent_message_chunk":
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "claude",
			Kind:      canonical.KindAgentMessage,
			Timestamp: now,
			Message:   &canonical.MessagePayload{Text: chunkText(u.Content), IsChunk: true},
		}}, nil
	case "agent_thought_chunk":
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "claude",
			Kind:      canonical.KindAgentThought,
			Timestamp: now,
			Message:   &canonical.MessagePayload{Text: chunkText(u.Content), IsChunk: true},
		}}, nil
	case "plan":
		items := make([]canonical.PlanItem, 0, len(u.Entries))
		for _, e := range u.Entries {
			items = append(items, canonical.PlanItem{Title: e.Content, Status: mapPlanStatus(e.Status)})
		}
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "claude",
			Kind:      canonical.KindPlanUpdate,
			Timestamp: now,
			PlanItems: items,
		}}, nil
	case "turn_complete":
		var usage *canonical.Usage
		if u.Usage != nil {
			usage = &canonical.Usage{InputTokens: u.Usage.InputTokens, OutputTokens: u.Usage.OutputTokens}
		}
		return []canonical.Update{{
			SessionID:    sessionID,
			Provider:     "claude",
			Kind:         canonical.KindTurnComplete,
			Timestamp:    now,
			TurnComplete: &canonical.TurnCompletePayload{StopReason: u.StopReason, Usage: usage},
		}}, nil
	default:
		return nil, nil
	}
}

// toolContentText extracts the first block's text from a tool_call_update's
// content array, the shape Claude uses for tool output.
func toolContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil || len(blocks) == 0 {
		return ""
	}
	return blocks[0].Text
}

// chunkText extracts the text from an agent_message_chunk/agent_thought_chunk's
// single content object.
func chunkText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var block struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return ""
	}
	return block.Text
}

func mapToolStatus(s string) canonical.ToolStatus {
	switch s {
	case "in_progress", "running":
		return canonical.ToolStatusRunning
	case "completed":
		return canonical.ToolStatusCompleted
	case "failed", "error":
		return canonical.ToolStatusFailed
	default:
		return canonical.ToolStatusPending
	}
}

func mapPlanStatus(s string) canonical.PlanItemStatus {
	switch s {
	case "in_progress":
		return canonical.PlanItemInProgress
	case "completed":
		return canonical.PlanItemDone
	case "failed":
		return canonical.PlanItemFailed
	case "cancelled", "canceled":
		return canonical.PlanItemCanceled
	default:
		return canonical.PlanItemPending
	}
}
