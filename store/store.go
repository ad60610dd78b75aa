// Package store defines acpcore's pluggable durable-persistence interface
// and the record shapes it carries. The core never talks to a database
// directly — every durable read/write crosses one of the interfaces below,
// leaving the concrete backend (store/memstore, store/mongostore, or a
// host-supplied implementation) free to vary.
package store

import (
	"context"
	"time"
)

// WorkspaceStatus is the lifecycle state of a Workspace.
type WorkspaceStatus string

const (
	WorkspaceStatusActive   WorkspaceStatus = "active"
	WorkspaceStatusArchived WorkspaceStatus = "archived"
)

// Workspace is the top-level tenant boundary every session, task, and note
// scopes to.
type Workspace struct {
	ID        string
	Title     string
	Status    WorkspaceStatus
	CreatedAt time.Time
}

// SessionRecord is the durable projection of a live session, used for
// hydration at startup and for persistence across restarts.
type SessionRecord struct {
	ID                 string
	WorkspaceID        string
	Cwd                string
	Provider           string
	Role               string
	PresetID           string
	ParentSessionID    string
	CreatedAt          time.Time
	FirstPromptSent    bool
	SystemPromptHeader string
}

// HistoryRecord is one durable history entry: a session identifier plus the
// raw canonical update JSON, in append order.
type HistoryRecord struct {
	SessionID string
	Sequence  int
	UpdateRaw []byte
	CreatedAt time.Time
}

// TaskStatus is a background task's state in its PENDING → RUNNING →
// {COMPLETED, FAILED} lifecycle.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// BackgroundTask is a durable queue entry for deferred delegated work.
type BackgroundTask struct {
	ID              string
	WorkspaceID     string
	TargetAgent     string
	Prompt          string
	Status          TaskStatus
	ResultSessionID string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ToolCallCount   int
	InputTokens     int64
	OutputTokens    int64
	CurrentActivity string
	LastActivityAt  time.Time
}

// Note is a free-form annotation consumed by orchestration helper tools, not
// by the core pipeline itself.
type Note struct {
	ID          string
	WorkspaceID string
	Text        string
	CreatedAt   time.Time
}

// SessionStore persists session records.
type SessionStore interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, id string) error
	RenameSession(ctx context.Context, id, title string) error
	ListSessions(ctx context.Context, workspaceID string) ([]SessionRecord, error)
	GetSession(ctx context.Context, id string) (SessionRecord, bool, error)
}

// HistoryStore persists per-session history.
type HistoryStore interface {
	SaveHistory(ctx context.Context, rec HistoryRecord) error
	LoadHistory(ctx context.Context, sessionID string) ([]HistoryRecord, error)
}

// TaskStore persists background tasks.
type TaskStore interface {
	SaveTask(ctx context.Context, task BackgroundTask) error
	ListTasks(ctx context.Context, workspaceID string) ([]BackgroundTask, error)
	GetTask(ctx context.Context, id string) (BackgroundTask, bool, error)
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, errMsg string) error
	FindTaskBySession(ctx context.Context, sessionID string) (BackgroundTask, bool, error)
	// CompareAndSwapStatus atomically transitions a task from `from` to `to`,
	// returning false without error if another worker already won the race.
	CompareAndSwapStatus(ctx context.Context, id string, from, to TaskStatus) (bool, error)
}

// WorkspaceStore persists workspaces, consumed by orchestration helpers.
type WorkspaceStore interface {
	SaveWorkspace(ctx context.Context, ws Workspace) error
	GetWorkspace(ctx context.Context, id string) (Workspace, bool, error)
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
}

// NoteStore persists notes, consumed by orchestration helpers.
type NoteStore interface {
	SaveNote(ctx context.Context, note Note) error
	ListNotes(ctx context.Context, workspaceID string) ([]Note, error)
}

// Store bundles the five persistence interfaces the core depends on behind
// one handle.
type Store interface {
	SessionStore
	HistoryStore
	TaskStore
	WorkspaceStore
	NoteStore
}
