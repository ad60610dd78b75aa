package provider

import (
	"encoding/json"
	"time"

	"github.com/subluminal-labs/acpcore/canonical"
)

// Generic adapts any upstream agent that announces a tool call before its
// arguments are final: the initial tool_call carries only a name and
// placeholder/partial input, with the real arguments arriving piecemeal on
// subsequent tool_call_update notifications (the deferred-input shape). It
// is the fallback adapter for any provider identifier the registry does not
// recognise.
type Generic struct{}

// NewGeneric constructs the generic deferred-input adapter.
func NewGeneric() *Generic { return &Generic{} }

// Behavior reports the deferred-input, non-streaming wire shape assumed for
// unrecognised providers.
func (g *Generic) Behavior() Behavior {
	return Behavior{DeferredInput: true, Streaming: false}
}

// genericUpdate is a provider-agnostic best-effort shape. Multi-word field
// names are read in snake_case only (tool_call_id, input_delta, ...);
// camelCase variants such as toolCallId are not recognised.
type genericUpdate struct {
	Type string `json:"type"`

	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Input      map[string]any `json:"input"`
	Delta      map[string]any `json:"input_delta"`
	Done       bool           `json:"done"`
	Status     string         `json:"status"`
	Output     any            `json:"output"`

	Role string `json:"role"`
	Text string `json:"text"`

	Plan []struct {
		Step   string `json:"step"`
		Status string `json:"status"`
	} `json:"plan"`

	StopReason string `json:"stop_reason"`
}

// Normalize implements Adapter for the generic dialect. A tool_call_update's
// input_delta is reported through ToolCallPayload.Input
// verbatim; callers merge it into the accumulated input themselves (see
// trace.Recorder), since Generic has no way to know the deferred shape's
// merge semantics beyond shallow key overlay.
func (g *Generic) Normalize(sessionID string, raw json.RawMessage) ([]canonical.Update, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil
	}
	var u genericUpdate
	if err := json.Unmarshal(env.Params.Update, &u); err != nil {
		return nil, nil
	}

	now := time.Now().UTC()
	switch u.Type {
	case "tool_call":
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "generic",
			Kind:      canonical.KindToolCall,
			Timestamp: now,
			ToolCall: &canonical.ToolCallPayload{
				ToolCallID:     u.ToolCallID,
				ToolName:       u.ToolName,
				Input:          u.Input,
				InputFinalized: u.Done,
				Status:         canonical.ToolStatusPending,
			},
		}}, nil
	case "tool_call_update":
		input := u.Delta
		if input == nil {
			input = u.Input
		}
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "generic",
			Kind:      canonical.KindToolCallUpdate,
			Timestamp: now,
			ToolCall: &canonical.ToolCallPayload{
				ToolCallID:     u.ToolCallID,
				Input:          input,
				InputFinalized: u.Done,
				Status:         mapToolStatus(u.Status),
				Output:         u.Output,
			},
		}}, nil
	case "message":
		kind := canonical.KindAgentMessage
		if u.Role == "thought" {
			kind = canonical.KindAgentThought
		} else if u.Role == "user" {
			kind = canonical.KindUserMessage
		}
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "generic",
			Kind:      kind,
			Timestamp: now,
			Message:   &canonical.MessagePayload{Text: u.Text, IsChunk: false},
		}}, nil
	case "plan":
		items := make([]canonical.PlanItem, 0, len(u.Plan))
		for _, p := range u.Plan {
			items = append(items, canonical.PlanItem{Title: p.Step, Status: mapPlanStatus(p.Status)})
		}
		return []canonical.Update{{
			SessionID: sessionID,
			Provider:  "generic",
			Kind:      canonical.KindPlanUpdate,
			Timestamp: now,
			PlanItems: items,
		}}, nil
	case "turn_complete":
		return []canonical.Update{{
			SessionID:    sessionID,
			Provider:     "generic",
			Kind:         canonical.KindTurnComplete,
			Timestamp:    now,
			TurnComplete: &canonical.TurnCompletePayload{StopReason: u.StopReason},
		}}, nil
	default:
		return nil, nil
	}
}

// HandleDeferredInput implements DeferredInputHandler. update must be a
// KindToolCallUpdate for toolCallID; anything else returns nil.
func (g *Generic) HandleDeferredInput(toolCallID string, update canonical.Update) *canonical.ToolCallPayload {
	if update.Kind != canonical.KindToolCallUpdate || update.ToolCall == nil {
		return nil
	}
	if update.ToolCall.ToolCallID != toolCallID && update.ToolCall.ToolCallID != "" {
		return nil
	}
	return update.ToolCall
}
