// Package orchestrator delegates units of work to child specialist
// sessions and ingests a coordinator's free-form output into delegated
// work, enforcing a configurable concurrency limit on how many delegations
// one coordinator may have running at once.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subluminal-labs/acpcore/acperrors"
	"github.com/subluminal-labs/acpcore/bridge"
	"github.com/subluminal-labs/acpcore/config"
	"github.com/subluminal-labs/acpcore/orchestrator/taskblock"
	"github.com/subluminal-labs/acpcore/session"
	"github.com/subluminal-labs/acpcore/telemetry"
)

// CompletionObserver is notified when a delegated child session finishes,
// successfully or not. Implementations must not block; Orchestrator calls
// it from inside a session event subscriber.
type CompletionObserver interface {
	ChildFinished(parentSessionID, childSessionID string, ev bridge.Event)
}

// CompletionObserverFunc adapts a plain function to CompletionObserver.
type CompletionObserverFunc func(parentSessionID, childSessionID string, ev bridge.Event)

func (f CompletionObserverFunc) ChildFinished(parentSessionID, childSessionID string, ev bridge.Event) {
	f(parentSessionID, childSessionID, ev)
}

// Orchestrator is the process-wide delegation coordinator. One instance is
// shared by every session.
type Orchestrator struct {
	sessions    *session.Store
	dispatcher  Dispatcher
	presets     *config.PresetRegistry
	concurrency int
	observer    CompletionObserver
	logger      telemetry.Logger
	metrics     telemetry.Metrics
	tracer      telemetry.Tracer

	mu       sync.Mutex
	limiters map[string]*limiter
}

// New constructs an Orchestrator. concurrency is the default per-coordinator
// delegation concurrency limit (N); values below 1 are treated as 1.
// observer may be nil. metrics and tracer may be nil.
func New(sessions *session.Store, dispatcher Dispatcher, presets *config.PresetRegistry, concurrency int, observer CompletionObserver, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		sessions:    sessions,
		dispatcher:  dispatcher,
		presets:     presets,
		concurrency: concurrency,
		observer:    observer,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		limiters:    make(map[string]*limiter),
	}
}

// Delegate spawns a new child session to carry out task under role and
// returns its ID immediately, without waiting for the child to finish: the
// provider is resolved from the role's default preset (the preset's Model is
// not used), the
// child session is created with the parent's workspace and working
// directory plus a parent reference, a delegation prompt is composed from
// the task's sections, and the prompt is handed to the dispatcher. The
// caller learns of completion, if at all, only through a registered
// CompletionObserver.
func (o *Orchestrator) Delegate(ctx context.Context, parentSessionID string, task taskblock.Task, role session.Role) (string, error) {
	parent, ok := o.sessions.Get(parentSessionID)
	if !ok {
		return "", acperrors.New(acperrors.KindSessionNotFound, fmt.Sprintf("delegate: parent session %q not found", parentSessionID))
	}

	preset, ok := o.presets.DefaultForRole(string(role))
	if !ok {
		return "", acperrors.New(acperrors.KindInvalidRequest, fmt.Sprintf("delegate: no preset registered for role %q", role))
	}

	childID := uuid.NewString()

	o.sessions.Upsert(session.NewSessionInput{
		ID:                 childID,
		WorkspaceID:        parent.WorkspaceID,
		Cwd:                parent.Cwd,
		Provider:           preset.Provider,
		Role:               role,
		PresetID:           preset.ID,
		ParentSessionID:    parentSessionID,
		SystemPromptHeader: preset.SystemPromptHeader,
	})

	var unsubscribe func()
	unsubscribe, _ = o.sessions.Subscribe(childID, func(ev bridge.Event) {
		if ev.Kind != bridge.EventAgentCompleted && ev.Kind != bridge.EventAgentFailed {
			return
		}
		if o.observer != nil {
			o.observer.ChildFinished(parentSessionID, childID, ev)
		}
		o.releaseSlot(parentSessionID)
		if unsubscribe != nil {
			unsubscribe()
		}
	})

	ctx, span := o.tracer.Start(ctx, "orchestrator.delegate")
	defer span.End()

	dispatchStart := time.Now()
	err := o.dispatcher.Dispatch(ctx, DispatchRequest{
		ChildSessionID: childID,
		Provider:       preset.Provider,
		Cwd:            parent.Cwd,
		Prompt:         composeDelegationPrompt(task),
	})
	o.metrics.RecordTimer("acpcore_delegation_dispatch_latency", time.Since(dispatchStart), "role", string(role), "provider", preset.Provider)
	if err != nil {
		span.RecordError(err)
		if unsubscribe != nil {
			unsubscribe()
		}
		o.sessions.DeleteSession(ctx, childID)
		return "", acperrors.Wrap(acperrors.KindUpstreamUnavailable, "delegate: dispatch failed", err)
	}

	return childID, nil
}

// IngestCoordinatorOutput extracts every task block out of text and
// delegates each one under role, respecting this Orchestrator's configured
// concurrency limit per parent session: a limit of 1 serialises delegation
// one task at a time; a limit above 1 runs up to that many concurrently,
// with the rest waiting for a slot freed by an earlier child's
// agent_completed or agent_failed. Delegation failures are logged and
// skipped rather than aborting the remaining tasks.
func (o *Orchestrator) IngestCoordinatorOutput(ctx context.Context, parentSessionID, text string, role session.Role) (taskblock.Result, error) {
	result := taskblock.Extract(text)
	lim := o.limiterFor(parentSessionID)

	for _, task := range result.Tasks {
		if err := lim.Acquire(ctx); err != nil {
			return result, err
		}
		if _, err := o.Delegate(ctx, parentSessionID, task, role); err != nil {
			lim.Release()
			o.logger.Warn(ctx, "orchestrator: delegate failed", "parent_session_id", parentSessionID, "task_title", task.Title, "error", err)
		}
	}
	return result, nil
}

func (o *Orchestrator) limiterFor(parentSessionID string) *limiter {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.limiters[parentSessionID]
	if !ok {
		l = newLimiter(o.concurrency)
		o.limiters[parentSessionID] = l
	}
	return l
}

func (o *Orchestrator) releaseSlot(parentSessionID string) {
	o.mu.Lock()
	l, ok := o.limiters[parentSessionID]
	o.mu.Unlock()
	if ok {
		l.Release()
	}
}

// composeDelegationPrompt renders a task's parsed sections back into a
// single prompt string for the child specialist.
func composeDelegationPrompt(task taskblock.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", task.Title)
	writeSection(&b, "Objective", task.Objective)
	writeSection(&b, "Scope", task.Scope)
	writeSection(&b, "Inputs", task.Inputs)
	writeSection(&b, "Definition of Done", task.DefinitionOfDone)
	writeSection(&b, "Verification", task.Verification)
	writeSection(&b, "Output Required", task.OutputRequired)
	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, name, body string) {
	if body == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n%s\n\n", name, body)
}
