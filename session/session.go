// Package session is the single source of truth for live sessions: per-
// session history, SSE fan-out, memory bounds, and the bridge → subscriber
// event plane. Exactly one Store exists per process.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subluminal-labs/acpcore/bridge"
	"github.com/subluminal-labs/acpcore/canonical"
	"github.com/subluminal-labs/acpcore/config"
	"github.com/subluminal-labs/acpcore/provider"
	"github.com/subluminal-labs/acpcore/store"
	"github.com/subluminal-labs/acpcore/telemetry"
	"github.com/subluminal-labs/acpcore/trace"
)

// Role is the specialist role a session was spawned to perform.
type Role string

const (
	RoleCoordinator Role = "COORDINATOR"
	RoleImplementor Role = "IMPLEMENTOR"
	RoleVerifier    Role = "VERIFIER"
	RoleSolo        Role = "SOLO"
)

// NewSessionInput describes a session to create via Upsert.
type NewSessionInput struct {
	ID                 string
	WorkspaceID        string
	Cwd                string
	Provider           string
	Role               Role
	PresetID           string
	ParentSessionID    string
	SystemPromptHeader string
	CreatedAt          time.Time
}

// Stats is the snapshot Store.MemoryStats returns.
type Stats struct {
	Sessions      int
	ActiveSSE     int
	StreamingMode int
	TotalHistory  int
	TotalBuffered int
	Stale         int
}

// entry is one session's live, mutable state, each guarded by its own
// mutex so one session's traffic never blocks another's.
type entry struct {
	mu sync.Mutex

	rec store.SessionRecord

	history    []canonical.Update
	pending    []canonical.Update
	historySeq int

	streamingMode bool
	sse           *sseListener

	bridge    *bridge.Bridge
	subs      map[int]func(bridge.Event)
	nextSubID int

	lastActivity time.Time
}

// Store is the process-wide live session registry.
type Store struct {
	tunables  config.Tunables
	persist   store.Store
	providers *provider.Registry
	recorder  *trace.Recorder
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	redis     *redis.Client

	mu       sync.RWMutex
	sessions map[string]*entry

	hydrated sync.Once

	progress ProgressSink
}

// New constructs a Store. redisClient may be nil; when given it is stored
// but nothing is published to it, so SSE fan-out is in-process only either
// way (no cross-process pub/sub re-attach).
func New(tunables config.Tunables, persist store.Store, providers *provider.Registry, recorder *trace.Recorder, logger telemetry.Logger, metrics telemetry.Metrics, redisClient *redis.Client) *Store {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Store{
		tunables:  tunables,
		persist:   persist,
		providers: providers,
		recorder:  recorder,
		logger:    logger,
		metrics:   metrics,
		redis:     redisClient,
		sessions:  make(map[string]*entry),
	}
}

// Upsert inserts or updates a session record. A brand-new session gets a
// fresh event bridge and emits one agent_started event to any subscriber
// registered by the time Upsert returns (there typically are none yet;
// Upsert is usually followed immediately by Subscribe).
func (s *Store) Upsert(in NewSessionInput) {
	s.mu.Lock()
	e, exists := s.sessions[in.ID]
	if !exists {
		e = &entry{
			subs:         make(map[int]func(bridge.Event)),
			bridge:       bridge.New(s.metrics),
			lastActivity: now(in.CreatedAt),
		}
		s.sessions[in.ID] = e
	}
	count := len(s.sessions)
	s.mu.Unlock()
	if !exists {
		s.metrics.RecordGauge("acpcore_active_sessions", float64(count))
	}

	e.mu.Lock()
	e.rec = store.SessionRecord{
		ID:                 in.ID,
		WorkspaceID:        in.WorkspaceID,
		Cwd:                in.Cwd,
		Provider:           in.Provider,
		Role:               string(in.Role),
		PresetID:           in.PresetID,
		ParentSessionID:    in.ParentSessionID,
		CreatedAt:          now(in.CreatedAt),
		SystemPromptHeader: in.SystemPromptHeader,
	}
	e.mu.Unlock()

	if !exists {
		s.dispatch(e, bridge.AgentStarted(in.ID, e.rec.CreatedAt))
	}
}

func now(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// get returns the entry for sessionID, or nil if unknown.
func (s *Store) get(sessionID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

// ListSessions returns every session sorted by creation time, newest
// first. workspaceID filters to one workspace; empty returns all.
func (s *Store) ListSessions(workspaceID string) []store.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SessionRecord, 0, len(s.sessions))
	for _, e := range s.sessions {
		e.mu.Lock()
		rec := e.rec
		e.mu.Unlock()
		if workspaceID != "" && rec.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// DeleteSession tears down a session's bridge, subscribers, buffers, and
// pending traces, then best-effort deletes its durable record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.metrics.RecordGauge("acpcore_active_sessions", float64(count))

	e.mu.Lock()
	if e.sse != nil {
		e.sse.close()
		e.sse = nil
	}
	e.subs = nil
	e.bridge.Cleanup()
	e.mu.Unlock()

	s.recorder.DeleteSession(sessionID)

	if err := s.persist.DeleteSession(ctx, sessionID); err != nil {
		s.logger.Warn(ctx, "session: persistence delete failed", "session_id", sessionID, "error", err)
	}
}

// RenameSession updates a session's system prompt header (display title).
func (s *Store) RenameSession(ctx context.Context, sessionID, title string) {
	e := s.get(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.rec.SystemPromptHeader = title
	rec := e.rec
	e.mu.Unlock()
	if err := s.persist.SaveSession(ctx, rec); err != nil {
		s.logger.Warn(ctx, "session: persistence rename failed", "session_id", sessionID, "error", err)
	}
}

// MarkFirstPromptSent flips the first-prompt-sent metadata flag.
func (s *Store) MarkFirstPromptSent(ctx context.Context, sessionID string) {
	e := s.get(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.rec.FirstPromptSent = true
	rec := e.rec
	e.mu.Unlock()
	if err := s.persist.SaveSession(ctx, rec); err != nil {
		s.logger.Warn(ctx, "session: persistence mark-first-prompt failed", "session_id", sessionID, "error", err)
	}
}

// UpdateMode toggles whether sessionID's prompt response is being
// delivered over a dedicated response stream. While set, SSE fan-out from
// PushNotification is suppressed (history, trace, and bridge still run) to
// avoid double delivery; history, trace, and bridge semantics are
// otherwise unaffected.
func (s *Store) UpdateMode(sessionID string, streaming bool) {
	e := s.get(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.streamingMode = streaming
	e.mu.Unlock()
}

// Get returns a session's durable record, if known.
func (s *Store) Get(sessionID string) (store.SessionRecord, bool) {
	e := s.get(sessionID)
	if e == nil {
		return store.SessionRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// MemoryStats reports live session counts: total sessions, how many have
// an active SSE attachment, how many are in streaming mode, total buffered
// history/pending entries, and how many are idle enough to be swept.
func (s *Store) MemoryStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Sessions: len(s.sessions)}
	staleCutoff := time.Now().Add(-s.tunables.IdleThreshold)
	for _, e := range s.sessions {
		e.mu.Lock()
		if e.sse != nil {
			stats.ActiveSSE++
		}
		if e.streamingMode {
			stats.StreamingMode++
		}
		stats.TotalHistory += len(e.history)
		stats.TotalBuffered += len(e.pending)
		if e.sse == nil && !e.streamingMode && e.lastActivity.Before(staleCutoff) {
			stats.Stale++
		}
		e.mu.Unlock()
	}
	return stats
}
