package orchestrator

import (
	"context"

	"go.temporal.io/sdk/client"

	"github.com/subluminal-labs/acpcore/session"
	"github.com/subluminal-labs/acpcore/supervisor"
)

// DispatchRequest describes one child session to start.
type DispatchRequest struct {
	ChildSessionID string
	Provider       string
	Cwd            string
	Env            []string
	Prompt         string
}

// Dispatcher starts a delegated child session and returns as soon as the
// prompt is in flight — it must never block on the child's completion.
// InlineDispatcher is the default, running the child through the same
// in-process supervisor as any other session; TemporalDispatcher hands the
// same request to a durable Temporal workflow instead.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// InlineDispatcher spawns the child's subprocess directly through a
// supervisor.Supervisor and drives its notifications into the session
// store, exactly as an interactive session/new call would.
type InlineDispatcher struct {
	supervisor *supervisor.Supervisor
	sessions   *session.Store
}

// NewInlineDispatcher constructs an InlineDispatcher.
func NewInlineDispatcher(sup *supervisor.Supervisor, sessions *session.Store) *InlineDispatcher {
	return &InlineDispatcher{supervisor: sup, sessions: sessions}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, req DispatchRequest) error {
	h, err := d.supervisor.Spawn(ctx, req.ChildSessionID, req.Provider, req.Cwd, req.Env)
	if err != nil {
		return err
	}
	d.sessions.Drive(ctx, req.ChildSessionID, h)
	return h.Send(req.Prompt)
}

// TemporalDispatcher hands delegation off to a durable Temporal workflow
// instead of driving the child subprocess in-process. The workflow named
// WorkflowName is expected to perform the same spawn-and-send sequence
// InlineDispatcher does, but durably: it must survive a worker restart
// mid-delegation.
type TemporalDispatcher struct {
	Client       client.Client
	TaskQueue    string
	WorkflowName string
}

// NewTemporalDispatcher constructs a TemporalDispatcher.
func NewTemporalDispatcher(c client.Client, taskQueue, workflowName string) *TemporalDispatcher {
	return &TemporalDispatcher{Client: c, TaskQueue: taskQueue, WorkflowName: workflowName}
}

func (d *TemporalDispatcher) Dispatch(ctx context.Context, req DispatchRequest) error {
	opts := client.StartWorkflowOptions{
		ID:        "delegate-" + req.ChildSessionID,
		TaskQueue: d.TaskQueue,
	}
	_, err := d.Client.ExecuteWorkflow(ctx, opts, d.WorkflowName, req)
	return err
}
