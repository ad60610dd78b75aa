package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/subluminal-labs/acpcore/canonical"
	"github.com/subluminal-labs/acpcore/config"
	"github.com/subluminal-labs/acpcore/provider"
	"github.com/subluminal-labs/acpcore/session"
	"github.com/subluminal-labs/acpcore/store"
	"github.com/subluminal-labs/acpcore/store/memstore"
	"github.com/subluminal-labs/acpcore/supervisor"
	"github.com/subluminal-labs/acpcore/trace"
)

// scriptResolver runs an inline shell script, letting tests simulate an
// upstream specialist without a real provider binary.
type scriptResolver struct {
	script string
}

func (r scriptResolver) Resolve(_ context.Context, _ string) (string, []string, error) {
	return "/bin/sh", []string{"-c", r.script}, nil
}

type failingResolver struct{}

func (failingResolver) Resolve(_ context.Context, _ string) (string, []string, error) {
	return "", nil, errSpawnFailed
}

type spawnErr struct{ msg string }

func (e *spawnErr) Error() string { return e.msg }

var errSpawnFailed = &spawnErr{"no binary for provider"}

func newTestWorker(t *testing.T, resolver supervisor.BinaryResolver) (*Worker, *memstore.Store, *session.Store) {
	t.Helper()
	persist := memstore.New()

	tunables := config.Defaults()
	providers := provider.NewRegistry()
	recorder := trace.NewRecorder(trace.NewMemoryJournal(0), nil, 5, time.Second)
	sessions := session.New(tunables, persist, providers, recorder, nil, nil, nil)

	sup := supervisor.New(resolver, nil, 5*time.Second, time.Second)
	presets := config.NewPresetRegistry(nil)

	w := New(tunables, persist, sessions, sup, presets, nil)
	sessions.SetProgressSink(w)
	return w, persist, sessions
}

func TestEnqueue_PersistsPendingTask(t *testing.T) {
	t.Parallel()
	w, persist, _ := newTestWorker(t, scriptResolver{script: "sleep 1"})

	id, err := w.Enqueue(context.Background(), "ws1", "generic", "do the thing")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, ok, err := persist.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskStatusPending, task.Status)
	require.Equal(t, "ws1", task.WorkspaceID)
	require.Equal(t, "do the thing", task.Prompt)
}

func TestDispatchPending_ClaimsAndStartsSession(t *testing.T) {
	t.Parallel()
	w, persist, sessions := newTestWorker(t, scriptResolver{script: "sleep 1"})

	id, err := w.Enqueue(context.Background(), "ws1", "generic", "hello")
	require.NoError(t, err)

	w.dispatchPending(context.Background())

	task, ok, err := persist.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskStatusRunning, task.Status)
	require.NotEmpty(t, task.ResultSessionID)

	_, ok = sessions.Get(task.ResultSessionID)
	require.True(t, ok)
}

func TestDispatchPending_SpawnFailure_MarksFailed(t *testing.T) {
	t.Parallel()
	w, persist, _ := newTestWorker(t, failingResolver{})

	id, err := w.Enqueue(context.Background(), "ws1", "generic", "hello")
	require.NoError(t, err)

	w.dispatchPending(context.Background())

	task, ok, err := persist.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskStatusFailed, task.Status)
	require.NotEmpty(t, task.Error)
}

func TestCheckCompletions_TransitionsRunningToCompletedOnceSessionGone(t *testing.T) {
	t.Parallel()
	w, persist, _ := newTestWorker(t, scriptResolver{script: "exit 0"})

	id, err := w.Enqueue(context.Background(), "ws1", "generic", "hello")
	require.NoError(t, err)
	w.dispatchPending(context.Background())

	task, _, _ := persist.GetTask(context.Background(), id)
	require.Equal(t, store.TaskStatusRunning, task.Status)

	// Simulate the sweeper having reaped the child session.
	require.NoError(t, persist.SaveTask(context.Background(), store.BackgroundTask{
		ID: id, WorkspaceID: "ws1", TargetAgent: "generic", Prompt: "hello",
		Status: store.TaskStatusRunning, ResultSessionID: "some-reaped-session-id",
	}))

	w.checkCompletions(context.Background())

	task, ok, err := persist.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskStatusCompleted, task.Status)
}

func TestCancel_PendingTaskIsMarkedFailed(t *testing.T) {
	t.Parallel()
	w, persist, _ := newTestWorker(t, scriptResolver{script: "sleep 1"})

	id, err := w.Enqueue(context.Background(), "ws1", "generic", "hello")
	require.NoError(t, err)

	require.NoError(t, w.Cancel(context.Background(), id))

	task, ok, err := persist.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskStatusFailed, task.Status)
	require.Equal(t, "cancelled", task.Error)
}

func TestCancel_RunningTaskIsUnaffected(t *testing.T) {
	t.Parallel()
	w, persist, _ := newTestWorker(t, scriptResolver{script: "sleep 1"})

	id, err := w.Enqueue(context.Background(), "ws1", "generic", "hello")
	require.NoError(t, err)
	w.dispatchPending(context.Background())

	require.NoError(t, w.Cancel(context.Background(), id))

	task, ok, err := persist.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskStatusRunning, task.Status)
}

func TestReportProgress_UpdatesCountersForBoundSession(t *testing.T) {
	t.Parallel()
	w, persist, _ := newTestWorker(t, scriptResolver{script: "sleep 1"})

	id, err := w.Enqueue(context.Background(), "ws1", "generic", "hello")
	require.NoError(t, err)
	w.dispatchPending(context.Background())

	task, _, _ := persist.GetTask(context.Background(), id)
	childID := task.ResultSessionID
	require.NotEmpty(t, childID)

	ts := time.Now().UTC()
	err = w.ReportProgress(context.Background(), childID, canonical.Update{
		SessionID: childID,
		Kind:      canonical.KindToolCall,
		Timestamp: ts,
		ToolCall:  &canonical.ToolCallPayload{ToolCallID: "t1", ToolName: "edit_file"},
	})
	require.NoError(t, err)

	err = w.ReportProgress(context.Background(), childID, canonical.Update{
		SessionID: childID,
		Kind:      canonical.KindTurnComplete,
		Timestamp: ts,
		TurnComplete: &canonical.TurnCompletePayload{
			StopReason: "end_turn",
			Usage:      &canonical.Usage{InputTokens: 100, OutputTokens: 50},
		},
	})
	require.NoError(t, err)

	updated, ok, err := persist.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, updated.ToolCallCount)
	require.Equal(t, "running edit_file", updated.CurrentActivity)
	require.EqualValues(t, 100, updated.InputTokens)
	require.EqualValues(t, 50, updated.OutputTokens)
}

func TestReportProgress_UnboundSessionIsNoop(t *testing.T) {
	t.Parallel()
	w, _, _ := newTestWorker(t, scriptResolver{script: "sleep 1"})

	err := w.ReportProgress(context.Background(), "not-a-task-session", canonical.Update{
		SessionID: "not-a-task-session",
		Kind:      canonical.KindToolCall,
		ToolCall:  &canonical.ToolCallPayload{ToolCallID: "t1", ToolName: "edit_file"},
	})
	require.NoError(t, err)
}
