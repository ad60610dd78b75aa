// Package taskqueue holds deferred work durably and dispatches it without
// blocking the request that enqueued it: a polling worker periodically
// claims PENDING background tasks, spawns a session for each one the same
// way an interactive session/new call would, and later reconciles RUNNING
// tasks against the live session registry.
package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subluminal-labs/acpcore/acperrors"
	"github.com/subluminal-labs/acpcore/canonical"
	"github.com/subluminal-labs/acpcore/config"
	"github.com/subluminal-labs/acpcore/session"
	"github.com/subluminal-labs/acpcore/store"
	"github.com/subluminal-labs/acpcore/supervisor"
	"github.com/subluminal-labs/acpcore/telemetry"
)

// Worker is the singleton background-task dispatcher. One instance is
// shared by every workspace.
type Worker struct {
	tasks      store.TaskStore
	sessions   *session.Store
	supervisor *supervisor.Supervisor
	presets    *config.PresetRegistry
	logger     telemetry.Logger

	dispatchInterval   time.Duration
	completionInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Worker against tunables' DispatchInterval/
// CompletionScanInterval cadence. logger may be nil.
func New(tunables config.Tunables, tasks store.TaskStore, sessions *session.Store, sup *supervisor.Supervisor, presets *config.PresetRegistry, logger telemetry.Logger) *Worker {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Worker{
		tasks:               tasks,
		sessions:            sessions,
		supervisor:          sup,
		presets:             presets,
		logger:              logger,
		dispatchInterval:    tunables.DispatchInterval,
		completionInterval:  tunables.CompletionScanInterval,
	}
}

// Enqueue persists a new PENDING task and returns its identifier. agentID
// may name either a raw provider identifier or a preset ID; it is resolved
// to a provider/role pair at dispatch time, not at enqueue time, so a
// preset registered later still resolves correctly.
func (w *Worker) Enqueue(ctx context.Context, workspaceID, agentID, prompt string) (string, error) {
	now := time.Now().UTC()
	task := store.BackgroundTask{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		TargetAgent: agentID,
		Prompt:      prompt,
		Status:      store.TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.tasks.SaveTask(ctx, task); err != nil {
		return "", acperrors.Wrap(acperrors.KindPersistenceError, "taskqueue: enqueue failed", err)
	}
	return task.ID, nil
}

// List returns every task for workspaceID, oldest first. An empty
// workspaceID returns every task across every workspace.
func (w *Worker) List(ctx context.Context, workspaceID string) ([]store.BackgroundTask, error) {
	return w.tasks.ListTasks(ctx, workspaceID)
}

// Get returns one task by ID.
func (w *Worker) Get(ctx context.Context, taskID string) (store.BackgroundTask, bool, error) {
	return w.tasks.GetTask(ctx, taskID)
}

// Cancel marks a still-PENDING task FAILED so dispatchPending never claims
// it. The same CompareAndSwapStatus a dispatch loop uses to claim a task is
// used here to win the race against one: if the swap fails, dispatchPending
// (or another Cancel) already claimed it first, and this call is a no-op.
// A task that has already been claimed RUNNING runs to completion; its
// child session is unaffected by Cancel.
func (w *Worker) Cancel(ctx context.Context, taskID string) error {
	ok, err := w.tasks.CompareAndSwapStatus(ctx, taskID, store.TaskStatusPending, store.TaskStatusRunning)
	if err != nil {
		return acperrors.Wrap(acperrors.KindPersistenceError, "taskqueue: cancel failed", err)
	}
	if !ok {
		return nil
	}
	if err := w.tasks.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed, "cancelled"); err != nil {
		return acperrors.Wrap(acperrors.KindPersistenceError, "taskqueue: cancel failed", err)
	}
	return nil
}

// Start launches the dispatch and completion-scan loops. Starting an
// already-running Worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(2)
	go w.loop(loopCtx, w.dispatchInterval, w.dispatchPending)
	go w.loop(loopCtx, w.completionInterval, w.checkCompletions)
}

// Stop halts both loops and waits for them to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// dispatchPending fetches every PENDING task and, for each, atomically
// claims it and starts its child session. A task another worker already
// claimed is silently skipped.
func (w *Worker) dispatchPending(ctx context.Context) {
	tasks, err := w.tasks.ListTasks(ctx, "")
	if err != nil {
		w.logger.Warn(ctx, "taskqueue: list pending tasks failed", "error", err)
		return
	}
	for _, t := range tasks {
		if t.Status != store.TaskStatusPending {
			continue
		}
		ok, err := w.tasks.CompareAndSwapStatus(ctx, t.ID, store.TaskStatusPending, store.TaskStatusRunning)
		if err != nil {
			w.logger.Warn(ctx, "taskqueue: claim failed", "task_id", t.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		w.dispatchOne(ctx, t)
	}
}

func (w *Worker) dispatchOne(ctx context.Context, t store.BackgroundTask) {
	provider, role, presetID, header := w.presets.Resolve(t.TargetAgent)
	if role == "" {
		role = string(session.RoleSolo)
	}

	childID := uuid.NewString()
	w.sessions.Upsert(session.NewSessionInput{
		ID:                 childID,
		WorkspaceID:        t.WorkspaceID,
		Provider:           provider,
		Role:               session.Role(role),
		PresetID:           presetID,
		SystemPromptHeader: header,
	})

	h, err := w.supervisor.Spawn(ctx, childID, provider, "", nil)
	if err != nil {
		w.fail(ctx, t.ID, err)
		return
	}
	w.sessions.Drive(ctx, childID, h)

	if err := h.Send(t.Prompt); err != nil {
		w.fail(ctx, t.ID, err)
		return
	}

	if err := w.tasks.SaveTask(ctx, store.BackgroundTask{
		ID:              t.ID,
		WorkspaceID:     t.WorkspaceID,
		TargetAgent:     t.TargetAgent,
		Prompt:          t.Prompt,
		Status:          store.TaskStatusRunning,
		ResultSessionID: childID,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       time.Now().UTC(),
	}); err != nil {
		w.logger.Warn(ctx, "taskqueue: record result session failed", "task_id", t.ID, "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, taskID string, err error) {
	if uerr := w.tasks.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed, err.Error()); uerr != nil {
		w.logger.Warn(ctx, "taskqueue: mark failed failed", "task_id", taskID, "error", uerr)
	}
}

// checkCompletions reconciles every RUNNING task that has a recorded
// session against the live session registry: once the session store no
// longer lists that session (it was reaped by the sweeper), the task
// transitions to COMPLETED.
func (w *Worker) checkCompletions(ctx context.Context) {
	tasks, err := w.tasks.ListTasks(ctx, "")
	if err != nil {
		w.logger.Warn(ctx, "taskqueue: list running tasks failed", "error", err)
		return
	}
	for _, t := range tasks {
		if t.Status != store.TaskStatusRunning || t.ResultSessionID == "" {
			continue
		}
		if _, ok := w.sessions.Get(t.ResultSessionID); ok {
			continue
		}
		if err := w.tasks.UpdateTaskStatus(ctx, t.ID, store.TaskStatusCompleted, ""); err != nil {
			w.logger.Warn(ctx, "taskqueue: mark completed failed", "task_id", t.ID, "error", err)
		}
	}
}

// ReportProgress implements session.ProgressSink: it looks up the task
// bound to sessionID (if any) and folds one canonical update into that
// task's progress counters. Sessions with no bound task are a silent no-op,
// not an error, since most sessions are interactive, not task-bound.
func (w *Worker) ReportProgress(ctx context.Context, sessionID string, u canonical.Update) error {
	t, ok, err := w.tasks.FindTaskBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	switch u.Kind {
	case canonical.KindToolCall:
		t.ToolCallCount++
		if u.ToolCall != nil {
			t.CurrentActivity = fmt.Sprintf("running %s", u.ToolCall.ToolName)
		}
	case canonical.KindAgentMessage, canonical.KindAgentThought:
		if u.Message != nil && u.Message.Text != "" {
			t.CurrentActivity = summarize(u.Message.Text)
		}
	case canonical.KindTurnComplete:
		if u.TurnComplete != nil && u.TurnComplete.Usage != nil {
			t.InputTokens += u.TurnComplete.Usage.InputTokens
			t.OutputTokens += u.TurnComplete.Usage.OutputTokens
		}
	}
	t.LastActivityAt = u.Timestamp
	t.UpdatedAt = time.Now().UTC()

	return w.tasks.SaveTask(ctx, t)
}

// summarize truncates text to a short single-line activity label.
func summarize(text string) string {
	const maxLen = 80
	for i, r := range text {
		if r == '\n' {
			text = text[:i]
			break
		}
	}
	if len(text) > maxLen {
		return text[:maxLen] + "…"
	}
	return text
}
