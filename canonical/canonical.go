// Package canonical defines the provider-independent update that flows
// between every other package in acpcore. Every adapter, recorder, store, and
// bridge speaks this type and nothing else: raw wire formats are normalised
// at the provider boundary and never leak past it.
package canonical

import "time"

// Kind enumerates the canonical update variants a provider adapter can
// produce. Kind is closed: adapters are total functions over these
// constructors, never over ad-hoc strings.
type Kind string

const (
	// KindToolCall announces a tool invocation, with input known immediately
	// or deferred to a later KindToolCallUpdate (see Adapter.Behavior).
	KindToolCall Kind = "tool_call"
	// KindToolCallUpdate carries new input and/or status/output for a
	// previously announced tool call.
	KindToolCallUpdate Kind = "tool_call_update"
	// KindUserMessage carries a message authored by the human user.
	KindUserMessage Kind = "user_message"
	// KindAgentMessage carries assistant-authored text, possibly one chunk
	// of a larger streamed message (see Message.IsChunk).
	KindAgentMessage Kind = "agent_message"
	// KindAgentThought carries assistant "thinking" content, streamed the
	// same way as KindAgentMessage.
	KindAgentThought Kind = "agent_thought"
	// KindPlanUpdate carries the agent's current plan as an ordered list of
	// plan items.
	KindPlanUpdate Kind = "plan_update"
	// KindTurnComplete marks the end of one prompt/response turn.
	KindTurnComplete Kind = "turn_complete"
	// KindError carries a synthetic or upstream-reported failure.
	KindError Kind = "error"
)

// ToolStatus is the canonical status set every provider's status string is
// coerced into.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

// PlanItemStatus is the canonical status set for one plan item.
type PlanItemStatus string

const (
	PlanItemPending    PlanItemStatus = "pending"
	PlanItemInProgress PlanItemStatus = "in_progress"
	PlanItemDone       PlanItemStatus = "done"
	PlanItemFailed     PlanItemStatus = "failed"
	PlanItemCanceled   PlanItemStatus = "canceled"
)

// ErrorKind classifies a canonical error update. Matches acperrors.Kind for
// the subset of error kinds that can legitimately surface on the wire.
type ErrorKind string

const (
	ErrorKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrorKindUpstreamExited      ErrorKind = "upstream_exited"
	ErrorKindCancelled           ErrorKind = "cancelled"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindUnknown             ErrorKind = "unknown"
)

type (
	// Update is the single type that crosses module boundaries between the
	// provider adapter, trace recorder, session store, and event bridge. Only
	// one of the payload fields is populated, selected by Kind.
	Update struct {
		// SessionID identifies the session this update belongs to.
		SessionID string
		// Provider is the normalised provider identifier that produced this
		// update (see provider.NormalizeIdentifier).
		Provider string
		// Kind selects which payload field is populated.
		Kind Kind
		// Timestamp is when the provider adapter produced this update, not
		// when any later component observes it.
		Timestamp time.Time

		// ToolCall is populated when Kind is KindToolCall or
		// KindToolCallUpdate.
		ToolCall *ToolCallPayload
		// Message is populated when Kind is KindUserMessage,
		// KindAgentMessage, or KindAgentThought.
		Message *MessagePayload
		// PlanItems is populated when Kind is KindPlanUpdate.
		PlanItems []PlanItem
		// TurnComplete is populated when Kind is KindTurnComplete.
		TurnComplete *TurnCompletePayload
		// Error is populated when Kind is KindError.
		Error *ErrorPayload

		// Raw carries the original wire message for components that need
		// best-effort, provider-specific detail (e.g. VCS-context hints).
		// Never interpreted outside the provider package.
		Raw any
	}

	// ToolCallPayload describes one tool call, either its announcement
	// (KindToolCall) or a later update to it (KindToolCallUpdate).
	ToolCallPayload struct {
		// ToolCallID identifies the call within the session.
		ToolCallID string
		// ToolName is the upstream-reported tool name, used for kind
		// classification by the event bridge.
		ToolName string
		// Input is the known argument set so far. May be empty/nil when
		// InputFinalized is false.
		Input map[string]any
		// InputFinalized is true once Input holds the complete, final
		// argument set. See Adapter.Behavior for the two provider shapes
		// this distinguishes.
		InputFinalized bool
		// Status is the canonical status, present on updates and implied
		// "pending" on the initial announcement.
		Status ToolStatus
		// Output is the tool's result payload, present once Status is
		// ToolStatusCompleted or ToolStatusFailed.
		Output any
	}

	// MessagePayload carries one chunk (or the whole, for non-streaming
	// providers) of user, assistant, or thought text.
	MessagePayload struct {
		// Text is the message content.
		Text string
		// IsChunk is true when more chunks for the same logical message may
		// follow. Consecutive chunks are consolidated by session.Consolidate.
		IsChunk bool
	}

	// PlanItem is one line item in an agent-reported plan.
	PlanItem struct {
		// Title is the human-readable plan step description.
		Title string
		// Status is the canonical plan item status.
		Status PlanItemStatus
	}

	// TurnCompletePayload carries the outcome of one prompt/response turn.
	TurnCompletePayload struct {
		// StopReason is the upstream-reported reason the turn ended (e.g.
		// "end_turn", "cancelled", "error").
		StopReason string
		// Usage carries token usage when the upstream reported it. Nil when
		// not reported.
		Usage *Usage
	}

	// Usage carries token accounting for one turn.
	Usage struct {
		InputTokens  int64
		OutputTokens int64
	}

	// ErrorPayload describes a canonical error update.
	ErrorPayload struct {
		// Kind classifies the error for policy purposes (see acperrors).
		Kind ErrorKind
		// Message is a human-readable description.
		Message string
	}
)

// IsMessageChunkKind reports whether k is one of the streamed message kinds
// (agent message or agent thought), used by components that consolidate
// chunk runs.
func IsMessageChunkKind(k Kind) bool {
	return k == KindAgentMessage || k == KindAgentThought
}
