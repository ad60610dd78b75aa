// Package bridge translates the canonical update stream into a
// higher-level semantic event stream describing what an agent is doing:
// reading, editing, executing, thinking. It maintains per-tool-call state
// across updates so a tool's block event carries consistent kind and
// accumulated fields from announcement through completion.
package bridge

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/subluminal-labs/acpcore/canonical"
	"github.com/subluminal-labs/acpcore/telemetry"
)

// EventKind enumerates the semantic block variants a Bridge emits.
type EventKind string

const (
	EventAgentStarted   EventKind = "agent_started"
	EventAgentCompleted EventKind = "agent_completed"
	EventAgentFailed    EventKind = "agent_failed"
	EventPlanUpdated    EventKind = "plan_updated"
	EventMessageBlock   EventKind = "message_block"
	EventThoughtBlock   EventKind = "thought_block"
	EventReadBlock      EventKind = "read_block"
	EventFileChanges    EventKind = "file_changes_block"
	EventTerminalBlock  EventKind = "terminal_block"
	EventMCPBlock       EventKind = "mcp_block"
	EventToolCallBlock  EventKind = "tool_call_block"
	EventUsageReported  EventKind = "usage_reported"
)

// ChangeType classifies one file mutation within a FileChangesPayload.
type ChangeType string

const (
	ChangeTypeEdit   ChangeType = "edit"
	ChangeTypeDelete ChangeType = "delete"
	ChangeTypeMove   ChangeType = "move"
)

type (
	// Event is the single tagged-variant type Bridge.Ingest produces, mirroring
	// canonical.Update's Kind-selector shape one level up the stack.
	Event struct {
		SessionID string
		Kind      EventKind
		Timestamp time.Time

		AgentCompleted *AgentCompletedPayload
		AgentFailed    *AgentFailedPayload
		PlanUpdated    *PlanUpdatedPayload
		Message        *MessageBlockPayload
		Read           *ReadBlockPayload
		FileChanges    *FileChangesPayload
		Terminal       *TerminalBlockPayload
		MCP            *MCPBlockPayload
		ToolCall       *ToolCallBlockPayload
		Usage          *UsageReportedPayload
	}

	AgentCompletedPayload struct {
		StopReason string
	}

	AgentFailedPayload struct {
		Kind    canonical.ErrorKind
		Message string
	}

	PlanUpdatedPayload struct {
		Items []canonical.PlanItem
	}

	MessageBlockPayload struct {
		Text    string
		IsChunk bool
	}

	ReadBlockPayload struct {
		ToolCallID string
		Status     canonical.ToolStatus
		Files      []string
		Output     any
	}

	FileChange struct {
		Path       string
		ChangeType ChangeType
		FromPath   string
	}

	FileChangesPayload struct {
		ToolCallID string
		Status     canonical.ToolStatus
		Changes    []FileChange
		Output     any
	}

	TerminalBlockPayload struct {
		ToolCallID string
		Status     canonical.ToolStatus
		Command    string
		Output     any
	}

	MCPBlockPayload struct {
		ToolCallID string
		Status     canonical.ToolStatus
		Input      map[string]any
		Output     any
	}

	ToolCallBlockPayload struct {
		ToolCallID string
		ToolName   string
		Status     canonical.ToolStatus
		Input      map[string]any
		Output     any
	}

	UsageReportedPayload struct {
		Usage canonical.Usage
	}
)

// AgentStarted constructs the one-shot event a session store emits when a
// new session's bridge is created, before any canonical update arrives.
func AgentStarted(sessionID string, at time.Time) Event {
	return Event{SessionID: sessionID, Kind: EventAgentStarted, Timestamp: at}
}

// trackedToolCall is a Bridge's per-tool-call state, keyed by tool-call ID.
type trackedToolCall struct {
	toolName string
	kind     ToolKind
	status   canonical.ToolStatus
	input    map[string]any
	output   any
}

// Bridge converts one session's canonical update stream into semantic
// events. Its tracked tool-call state is guarded by mu, so Ingest and
// Cleanup may be called from multiple goroutines.
type Bridge struct {
	mu      sync.Mutex
	tracked map[string]*trackedToolCall
	metrics telemetry.Metrics
}

// New constructs an empty Bridge. metrics may be nil.
func New(metrics telemetry.Metrics) *Bridge {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Bridge{tracked: make(map[string]*trackedToolCall), metrics: metrics}
}

// Cleanup discards all tracked tool-call state. Called when a session is
// deleted; the Bridge may be reused afterward (it will simply start empty).
func (b *Bridge) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracked = make(map[string]*trackedToolCall)
}

// Ingest consumes one canonical update and returns the semantic events it
// produces, in emission order. Most updates produce exactly one event;
// turn_complete may produce two (usage_reported then agent_completed).
func (b *Bridge) Ingest(u canonical.Update) []Event {
	switch u.Kind {
	case canonical.KindToolCall:
		return b.ingestToolCall(u)
	case canonical.KindToolCallUpdate:
		return b.ingestToolCallUpdate(u)
	case canonical.KindAgentMessage:
		return []Event{{SessionID: u.SessionID, Kind: EventMessageBlock, Timestamp: u.Timestamp,
			Message: &MessageBlockPayload{Text: textOf(u.Message), IsChunk: isChunk(u.Message)}}}
	case canonical.KindAgentThought:
		return []Event{{SessionID: u.SessionID, Kind: EventThoughtBlock, Timestamp: u.Timestamp,
			Message: &MessageBlockPayload{Text: textOf(u.Message), IsChunk: isChunk(u.Message)}}}
	case canonical.KindPlanUpdate:
		return []Event{{SessionID: u.SessionID, Kind: EventPlanUpdated, Timestamp: u.Timestamp,
			PlanUpdated: &PlanUpdatedPayload{Items: u.PlanItems}}}
	case canonical.KindTurnComplete:
		return b.ingestTurnComplete(u)
	case canonical.KindError:
		msg := ""
		var kind canonical.ErrorKind
		if u.Error != nil {
			msg = u.Error.Message
			kind = u.Error.Kind
		}
		return []Event{{SessionID: u.SessionID, Kind: EventAgentFailed, Timestamp: u.Timestamp,
			AgentFailed: &AgentFailedPayload{Kind: kind, Message: msg}}}
	default:
		return nil
	}
}

func (b *Bridge) ingestToolCall(u canonical.Update) []Event {
	if u.ToolCall == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	kind := ClassifyTool(u.ToolCall.ToolName)
	b.tracked[u.ToolCall.ToolCallID] = &trackedToolCall{
		toolName: u.ToolCall.ToolName,
		kind:     kind,
		status:   canonical.ToolStatusRunning,
		input:    u.ToolCall.Input,
	}
	b.metrics.IncCounter("acpcore_tool_calls_total", 1, "kind", string(kind))
	return []Event{blockFor(u.SessionID, u.Timestamp, u.ToolCall.ToolCallID, kind, b.tracked[u.ToolCall.ToolCallID])}
}

func (b *Bridge) ingestToolCallUpdate(u canonical.Update) []Event {
	if u.ToolCall == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := u.ToolCall.ToolCallID
	tc, ok := b.tracked[id]
	if !ok {
		kind := ClassifyTool(u.ToolCall.ToolName)
		tc = &trackedToolCall{toolName: u.ToolCall.ToolName, kind: kind, status: canonical.ToolStatusRunning}
		b.tracked[id] = tc
	}

	if len(u.ToolCall.Input) > 0 {
		tc.input = mergeFields(tc.input, u.ToolCall.Input)
	}
	if u.ToolCall.Status != "" {
		tc.status = u.ToolCall.Status
	}
	if u.ToolCall.Output != nil {
		tc.output = u.ToolCall.Output
	}

	ev := blockFor(u.SessionID, u.Timestamp, id, tc.kind, tc)

	if tc.status == canonical.ToolStatusCompleted || tc.status == canonical.ToolStatusFailed {
		delete(b.tracked, id)
	}
	return []Event{ev}
}

func (b *Bridge) ingestTurnComplete(u canonical.Update) []Event {
	var events []Event
	if u.TurnComplete != nil && u.TurnComplete.Usage != nil {
		events = append(events, Event{SessionID: u.SessionID, Kind: EventUsageReported, Timestamp: u.Timestamp,
			Usage: &UsageReportedPayload{Usage: *u.TurnComplete.Usage}})
	}
	stopReason := ""
	if u.TurnComplete != nil {
		stopReason = u.TurnComplete.StopReason
	}
	events = append(events, Event{SessionID: u.SessionID, Kind: EventAgentCompleted, Timestamp: u.Timestamp,
		AgentCompleted: &AgentCompletedPayload{StopReason: stopReason}})
	return events
}

// mergeFields overlays delta onto base: new values override, missing
// values inherit from base.
func mergeFields(base, delta map[string]any) map[string]any {
	if len(delta) == 0 {
		return base
	}
	merged := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] = v
	}
	return merged
}

func blockFor(sessionID string, ts time.Time, toolCallID string, kind ToolKind, tc *trackedToolCall) Event {
	base := Event{SessionID: sessionID, Timestamp: ts}
	switch kind {
	case ToolKindRead:
		base.Kind = EventReadBlock
		base.Read = &ReadBlockPayload{ToolCallID: toolCallID, Status: tc.status, Files: readFiles(tc.input), Output: tc.output}
	case ToolKindEdit:
		base.Kind = EventFileChanges
		base.FileChanges = &FileChangesPayload{ToolCallID: toolCallID, Status: tc.status, Changes: editChanges(tc.toolName, tc.input), Output: tc.output}
	case ToolKindExecute:
		base.Kind = EventTerminalBlock
		base.Terminal = &TerminalBlockPayload{ToolCallID: toolCallID, Status: tc.status, Command: commandOf(tc.input), Output: tc.output}
	case ToolKindMCP:
		base.Kind = EventMCPBlock
		base.MCP = &MCPBlockPayload{ToolCallID: toolCallID, Status: tc.status, Input: tc.input, Output: tc.output}
	default:
		base.Kind = EventToolCallBlock
		base.ToolCall = &ToolCallBlockPayload{ToolCallID: toolCallID, ToolName: tc.toolName, Status: tc.status, Input: tc.input, Output: tc.output}
	}
	return base
}

var readStringFields = []string{"path", "file_path", "filePath", "file", "filename", "pattern", "glob"}
var readArrayFields = []string{"paths", "files", "file_paths"}

func readFiles(input map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, key := range readStringFields {
		if v, ok := input[key].(string); ok {
			add(v)
		}
	}
	for _, key := range readArrayFields {
		items, ok := input[key].([]any)
		if !ok {
			continue
		}
		for _, it := range items {
			if s, ok := it.(string); ok {
				add(s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func editChanges(toolName string, input map[string]any) []FileChange {
	n := strings.ToLower(strings.TrimSpace(toolName))
	var changeType ChangeType
	switch {
	case n == "delete" || strings.HasPrefix(n, "delete_") || strings.Contains(n, "_delete"):
		changeType = ChangeTypeDelete
	case n == "move" || n == "rename":
		changeType = ChangeTypeMove
	default:
		changeType = ChangeTypeEdit
	}

	path := firstString(input, "path", "file_path", "new_path", "to_path")
	fc := FileChange{Path: path, ChangeType: changeType}
	if changeType == ChangeTypeMove {
		fc.FromPath = firstString(input, "from_path", "source_path", "old_path")
	}
	return []FileChange{fc}
}

var commandFields = []string{"command", "cmd", "script", "shell_command"}

func commandOf(input map[string]any) string {
	return firstString(input, commandFields...)
}

func firstString(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func textOf(m *canonical.MessagePayload) string {
	if m == nil {
		return ""
	}
	return m.Text
}

func isChunk(m *canonical.MessagePayload) bool {
	return m != nil && m.IsChunk
}
