package trace

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/subluminal-labs/acpcore/canonical"
	"github.com/subluminal-labs/acpcore/telemetry"
)

// pendingToolCall is the trace recorder's internal bookkeeping for a tool
// call whose input has not yet been finalised. Kept package-private: only
// Recorder's dedup/merge logic needs it.
type pendingToolCall struct {
	toolName   string
	input      map[string]any
	arrivedAt  time.Time
	finalized  bool
	toolCallEmitted bool
}

// sessionState holds one session's buffers and pending tool calls, each
// guarded by its own mutex so one session's traffic never blocks another's.
type sessionState struct {
	mu            sync.Mutex
	pending       map[string]*pendingToolCall
	messageBuffer strings.Builder
	thoughtBuffer strings.Builder
}

// Recorder consumes the canonical update stream for a session, reassembles
// (tool_call, tool_result) pairs, and flushes accumulated prose into
// periodic message traces.
type Recorder struct {
	journal        Journal
	logger         telemetry.Logger
	flushThreshold int
	gitTimeout     time.Duration

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewRecorder constructs a Recorder writing to journal. flushThreshold is
// the character count at which a streamed message/thought buffer is
// flushed; gitTimeout bounds best-effort VCS snapshot lookups.
func NewRecorder(journal Journal, logger telemetry.Logger, flushThreshold int, gitTimeout time.Duration) *Recorder {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Recorder{
		journal:        journal,
		logger:         logger,
		flushThreshold: flushThreshold,
		gitTimeout:     gitTimeout,
		sessions:       make(map[string]*sessionState),
	}
}

func (r *Recorder) state(sessionID string) *sessionState {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sessions[sessionID]; ok {
		return s
	}
	s = &sessionState{pending: make(map[string]*pendingToolCall)}
	r.sessions[sessionID] = s
	return s
}

// DeleteSession discards a session's pending tool calls and buffers
// silently.
func (r *Recorder) DeleteSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Ingest records traces for one canonical update. Failures in VCS
// snapshotting or file-range extraction are swallowed; only a
// Journal.Record error is returned.
func (r *Recorder) Ingest(ctx context.Context, u canonical.Update) error {
	switch u.Kind {
	case canonical.KindToolCall:
		return r.ingestToolCall(ctx, u)
	case canonical.KindToolCallUpdate:
		return r.ingestToolCallUpdate(ctx, u)
	case canonical.KindAgentMessage:
		return r.ingestMessageChunk(ctx, u, RecordTypeAgentMessage)
	case canonical.KindAgentThought:
		return r.ingestMessageChunk(ctx, u, RecordTypeAgentThought)
	case canonical.KindUserMessage:
		return r.emitMessage(ctx, u, RecordTypeUserMessage)
	case canonical.KindTurnComplete:
		return r.FlushSession(ctx, u.SessionID, u.Provider)
	default:
		return nil
	}
}

func (r *Recorder) ingestToolCall(ctx context.Context, u canonical.Update) error {
	if u.ToolCall == nil {
		return nil
	}
	st := r.state(u.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if u.ToolCall.InputFinalized {
		return r.emitToolCallLocked(ctx, u, u.ToolCall.Input)
	}
	st.pending[u.ToolCall.ToolCallID] = &pendingToolCall{
		toolName:  u.ToolCall.ToolName,
		input:     u.ToolCall.Input,
		arrivedAt: u.Timestamp,
	}
	return nil
}

func (r *Recorder) ingestToolCallUpdate(ctx context.Context, u canonical.Update) error {
	if u.ToolCall == nil {
		return nil
	}
	st := r.state(u.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	id := u.ToolCall.ToolCallID
	pending, ok := st.pending[id]
	terminal := u.ToolCall.Status == canonical.ToolStatusCompleted || u.ToolCall.Status == canonical.ToolStatusFailed
	hasOutput := u.ToolCall.Output != nil

	if !ok {
		// No prior pending entry: best-effort tool_result only.
		if terminal || hasOutput {
			return r.emitToolResultLocked(ctx, u, nil)
		}
		return nil
	}

	merged := mergeInput(pending.input, u.ToolCall.Input)
	pending.input = merged
	if u.ToolCall.InputFinalized {
		pending.finalized = true
	}

	if !pending.toolCallEmitted && (pending.finalized || len(merged) > 0) {
		if err := r.emitToolCallLocked(ctx, u, merged); err != nil {
			return err
		}
		pending.toolCallEmitted = true
	}

	if terminal || hasOutput {
		if err := r.emitToolResultLocked(ctx, u, merged); err != nil {
			return err
		}
		delete(st.pending, id)
	}
	return nil
}

// mergeInput overlays delta onto base, delta's keys taking precedence, for
// reconciling deferred tool-call input.
func mergeInput(base, delta map[string]any) map[string]any {
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

func (r *Recorder) emitToolCallLocked(ctx context.Context, u canonical.Update, input map[string]any) error {
	rec := Record{
		SessionID:   u.SessionID,
		Type:        RecordTypeToolCall,
		Contributor: u.Provider,
		Timestamp:   u.Timestamp,
		Tool: &ToolSection{
			ToolCallID: u.ToolCall.ToolCallID,
			ToolName:   u.ToolCall.ToolName,
			Input:      input,
			Status:     canonical.ToolStatusPending,
		},
		Files: extractFileRanges(input),
	}
	rec.VCS = snapshotVCS(ctx, r.gitTimeout)
	return r.journal.Record(ctx, rec)
}

func (r *Recorder) emitToolResultLocked(ctx context.Context, u canonical.Update, input map[string]any) error {
	rec := Record{
		SessionID:   u.SessionID,
		Type:        RecordTypeToolResult,
		Contributor: u.Provider,
		Timestamp:   u.Timestamp,
		Tool: &ToolSection{
			ToolCallID: u.ToolCall.ToolCallID,
			ToolName:   u.ToolCall.ToolName,
			Input:      input,
			Output:     u.ToolCall.Output,
			Status:     u.ToolCall.Status,
		},
		Files: extractFileRanges(input),
	}
	rec.VCS = snapshotVCS(ctx, r.gitTimeout)
	return r.journal.Record(ctx, rec)
}

func (r *Recorder) ingestMessageChunk(ctx context.Context, u canonical.Update, typ RecordType) error {
	if u.Message == nil {
		return nil
	}
	st := r.state(u.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	buf := r.bufferFor(st, typ)
	if !u.Message.IsChunk {
		if err := r.flushBufferLocked(ctx, st, u.SessionID, u.Provider, typ); err != nil {
			return err
		}
		return r.emitConversationLocked(ctx, u, typ, u.Message.Text)
	}

	buf.WriteString(u.Message.Text)
	if buf.Len() >= r.flushThreshold {
		return r.flushBufferLocked(ctx, st, u.SessionID, u.Provider, typ)
	}
	return nil
}

func (r *Recorder) bufferFor(st *sessionState, typ RecordType) *strings.Builder {
	if typ == RecordTypeAgentThought {
		return &st.thoughtBuffer
	}
	return &st.messageBuffer
}

func (r *Recorder) flushBufferLocked(ctx context.Context, st *sessionState, sessionID, provider string, typ RecordType) error {
	buf := r.bufferFor(st, typ)
	if buf.Len() == 0 {
		return nil
	}
	text := buf.String()
	buf.Reset()
	return r.journal.Record(ctx, Record{
		SessionID:    sessionID,
		Type:         typ,
		Contributor:  provider,
		Timestamp:    time.Now().UTC(),
		Conversation: &ConversationSection{Role: roleFor(typ), Text: text},
	})
}

func (r *Recorder) emitConversationLocked(ctx context.Context, u canonical.Update, typ RecordType, text string) error {
	return r.journal.Record(ctx, Record{
		SessionID:    u.SessionID,
		Type:         typ,
		Contributor:  u.Provider,
		Timestamp:    u.Timestamp,
		Conversation: &ConversationSection{Role: roleFor(typ), Text: text},
	})
}

func roleFor(typ RecordType) string {
	switch typ {
	case RecordTypeAgentThought:
		return "thought"
	case RecordTypeUserMessage:
		return "user"
	default:
		return "assistant"
	}
}

func (r *Recorder) emitMessage(ctx context.Context, u canonical.Update, typ RecordType) error {
	if u.Message == nil {
		return nil
	}
	return r.emitConversationLocked(ctx, u, typ, u.Message.Text)
}

// FlushSession drains both streamed-message buffers for sessionID. Called
// on turn_complete and again at end-of-prompt or end-of-session so no
// buffered prose is lost.
func (r *Recorder) FlushSession(ctx context.Context, sessionID, provider string) error {
	st := r.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := r.flushBufferLocked(ctx, st, sessionID, provider, RecordTypeAgentMessage); err != nil {
		return err
	}
	return r.flushBufferLocked(ctx, st, sessionID, provider, RecordTypeAgentThought)
}

// extractFileRanges pulls file paths referenced by a tool call's input,
// best-effort.
func extractFileRanges(input map[string]any) []FileRange {
	if len(input) == 0 {
		return nil
	}
	var out []FileRange
	for _, key := range []string{"path", "file_path"} {
		if v, ok := input[key].(string); ok && v != "" {
			out = append(out, FileRange{Path: v})
		}
	}
	return out
}
