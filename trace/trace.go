// Package trace reassembles the canonical update stream for one session
// into complete (tool_call, tool_result) pairs and periodic message traces,
// and records them to a durable journal.
package trace

import (
	"context"
	"time"

	"github.com/subluminal-labs/acpcore/canonical"
)

// RecordType distinguishes the kinds of trace record a Recorder emits.
type RecordType string

const (
	RecordTypeToolCall     RecordType = "tool_call"
	RecordTypeToolResult   RecordType = "tool_result"
	RecordTypeAgentMessage RecordType = "agent_message"
	RecordTypeAgentThought RecordType = "agent_thought"
	RecordTypeUserMessage  RecordType = "user_message"
)

// Record is one durable trace entry. VCS and file-range extraction are
// best-effort: their absence never blocks recording.
type Record struct {
	SessionID   string
	Type        RecordType
	Contributor string
	Timestamp   time.Time

	Tool         *ToolSection
	Conversation *ConversationSection
	VCS          *VCSContext
	Files        []FileRange
}

// ToolSection carries the tool-call half of a trace record.
type ToolSection struct {
	ToolCallID string
	ToolName   string
	Input      map[string]any
	Output     any
	Status     canonical.ToolStatus
}

// ConversationSection carries the message half of a trace record.
type ConversationSection struct {
	Role string
	Text string
}

// VCSContext is a best-effort snapshot of the working tree at the moment a
// trace record was produced.
type VCSContext struct {
	Branch string
	Dirty  bool
}

// FileRange names one file a tool call referenced, extracted from its
// input.
type FileRange struct {
	Path string
}

// Journal is the durable trace sink. Recorder calls Record once per emitted
// trace; implementations must not block the canonical-update pipeline for
// long.
type Journal interface {
	Record(ctx context.Context, rec Record) error
}
