// Package memstore implements store.Store in memory with no durability,
// using a defensive-copy-on-read-and-write pattern throughout. Suitable for
// tests and local development; data does not survive a process restart.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/subluminal-labs/acpcore/store"
)

// Store implements store.Store with no durability. All operations are
// thread-safe via a single sync.RWMutex; records are defensively copied on
// read and write.
type Store struct {
	mu sync.RWMutex

	sessions   map[string]store.SessionRecord
	history    map[string][]store.HistoryRecord
	tasks      map[string]store.BackgroundTask
	workspaces map[string]store.Workspace
	notes      map[string][]store.Note
}

// New constructs an empty Store, immediately ready for use.
func New() *Store {
	return &Store{
		sessions:   make(map[string]store.SessionRecord),
		history:    make(map[string][]store.HistoryRecord),
		tasks:      make(map[string]store.BackgroundTask),
		workspaces: make(map[string]store.Workspace),
		notes:      make(map[string][]store.Note),
	}
}

func (s *Store) SaveSession(_ context.Context, rec store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.history, id)
	return nil
}

func (s *Store) RenameSession(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil
	}
	rec.SystemPromptHeader = title
	s.sessions[id] = rec
	return nil
}

func (s *Store) ListSessions(_ context.Context, workspaceID string) ([]store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if workspaceID != "" && rec.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetSession(_ context.Context, id string) (store.SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok, nil
}

func (s *Store) SaveHistory(_ context.Context, rec store.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[rec.SessionID] = append(s.history[rec.SessionID], rec)
	return nil
}

func (s *Store) LoadHistory(_ context.Context, sessionID string) ([]store.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.history[sessionID]
	out := make([]store.HistoryRecord, len(src))
	copy(out, src)
	return out, nil
}

func (s *Store) SaveTask(_ context.Context, task store.BackgroundTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *Store) ListTasks(_ context.Context, workspaceID string) ([]store.BackgroundTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.BackgroundTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if workspaceID != "" && t.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetTask(_ context.Context, id string) (store.BackgroundTask, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *Store) UpdateTaskStatus(_ context.Context, id string, status store.TaskStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Status = status
	t.Error = errMsg
	s.tasks[id] = t
	return nil
}

func (s *Store) FindTaskBySession(_ context.Context, sessionID string) (store.BackgroundTask, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.ResultSessionID == sessionID {
			return t, true, nil
		}
	}
	return store.BackgroundTask{}, false, nil
}

// CompareAndSwapStatus implements the optimistic PENDING→RUNNING flip a
// dispatch loop needs: it succeeds only if the task's current status still
// equals from at the moment of the swap.
func (s *Store) CompareAndSwapStatus(_ context.Context, id string, from, to store.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	s.tasks[id] = t
	return true, nil
}

func (s *Store) SaveWorkspace(_ context.Context, ws store.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.ID] = ws
	return nil
}

func (s *Store) GetWorkspace(_ context.Context, id string) (store.Workspace, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	return ws, ok, nil
}

func (s *Store) ListWorkspaces(_ context.Context) ([]store.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveNote(_ context.Context, note store.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[note.WorkspaceID] = append(s.notes[note.WorkspaceID], note)
	return nil
}

func (s *Store) ListNotes(_ context.Context, workspaceID string) ([]store.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.notes[workspaceID]
	out := make([]store.Note, len(src))
	copy(out, src)
	return out, nil
}

var _ store.Store = (*Store)(nil)
