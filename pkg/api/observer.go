package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from a provider for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay the calling engine.
type Observer interface {
	// OnWorkflowCreated is called after CreateNewWorkflow committed.
	OnWorkflowCreated(ctx context.Context, wf *WorkflowInstance)

	// OnWorkflowPersisted is called after PersistWorkflow (with or without
	// subscriptions) committed. subscriptions is the number of subscriptions
	// created in the same write.
	OnWorkflowPersisted(ctx context.Context, wf *WorkflowInstance, subscriptions int)

	// OnCommandScheduled is called when ScheduleCommand stored a command.
	OnCommandScheduled(ctx context.Context, cmd *ScheduledCommand)

	// OnCommandScheduleFailed is called when ScheduleCommand absorbed an
	// error.
	OnCommandScheduleFailed(ctx context.Context, cmd *ScheduledCommand, err error)

	// OnCommandProcessed is called once per command visited by
	// ProcessCommands. err is nil when the action succeeded and the command
	// was removed; otherwise the command was kept for the next sweep.
	OnCommandProcessed(ctx context.Context, cmd *ScheduledCommand, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowCreated(ctx context.Context, wf *WorkflowInstance)                {}
func (NoopObserver) OnWorkflowPersisted(ctx context.Context, wf *WorkflowInstance, subs int)     {}
func (NoopObserver) OnCommandScheduled(ctx context.Context, cmd *ScheduledCommand)              {}
func (NoopObserver) OnCommandScheduleFailed(ctx context.Context, cmd *ScheduledCommand, err error) {
}
func (NoopObserver) OnCommandProcessed(ctx context.Context, cmd *ScheduledCommand, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowCreated(ctx context.Context, wf *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowCreated(ctx, wf)
	}
}

func (c *CompositeObserver) OnWorkflowPersisted(ctx context.Context, wf *WorkflowInstance, subs int) {
	for _, o := range c.observers {
		o.OnWorkflowPersisted(ctx, wf, subs)
	}
}

func (c *CompositeObserver) OnCommandScheduled(ctx context.Context, cmd *ScheduledCommand) {
	for _, o := range c.observers {
		o.OnCommandScheduled(ctx, cmd)
	}
}

func (c *CompositeObserver) OnCommandScheduleFailed(ctx context.Context, cmd *ScheduledCommand, err error) {
	for _, o := range c.observers {
		o.OnCommandScheduleFailed(ctx, cmd, err)
	}
}

func (c *CompositeObserver) OnCommandProcessed(ctx context.Context, cmd *ScheduledCommand, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnCommandProcessed(ctx, cmd, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs provider events using
// the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowCreated(ctx context.Context, wf *WorkflowInstance) {
	o.Logger.DebugContext(ctx, "workflow_created",
		slog.String("workflow", wf.WorkflowDefinitionID),
		slog.String("instance_id", wf.ID),
		slog.Int("pointers", len(wf.ExecutionPointers)),
	)
}

func (o *LoggingObserver) OnWorkflowPersisted(ctx context.Context, wf *WorkflowInstance, subs int) {
	o.Logger.DebugContext(ctx, "workflow_persisted",
		slog.String("workflow", wf.WorkflowDefinitionID),
		slog.String("instance_id", wf.ID),
		slog.String("status", wf.Status.String()),
		slog.Int("subscriptions", subs),
	)
}

func (o *LoggingObserver) OnCommandScheduled(ctx context.Context, cmd *ScheduledCommand) {
	o.Logger.DebugContext(ctx, "command_scheduled",
		slog.String("command", cmd.CommandName),
		slog.String("data", cmd.Data),
		slog.Time("execute_time", cmd.ExecuteTime),
	)
}

func (o *LoggingObserver) OnCommandScheduleFailed(ctx context.Context, cmd *ScheduledCommand, err error) {
	o.Logger.WarnContext(ctx, "command_schedule_failed",
		slog.String("command", cmd.CommandName),
		slog.String("data", cmd.Data),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnCommandProcessed(ctx context.Context, cmd *ScheduledCommand, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "command_processed",
		slog.String("command", cmd.CommandName),
		slog.String("data", cmd.Data),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters. It implements Observer, and can be
// combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsCreated    atomic.Int64
	workflowsPersisted  atomic.Int64
	subscriptionsAdded  atomic.Int64
	commandsScheduled   atomic.Int64
	commandsRejected    atomic.Int64
	commandsProcessed   atomic.Int64
	commandsRetained    atomic.Int64
	totalCommandRuntime atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsCreated   int64
	WorkflowsPersisted int64
	SubscriptionsAdded int64

	CommandsScheduled int64
	CommandsRejected  int64
	CommandsProcessed int64
	CommandsRetained  int64

	AvgCommandDuration time.Duration
}

func (m *BasicMetrics) OnWorkflowCreated(ctx context.Context, wf *WorkflowInstance) {
	m.workflowsCreated.Add(1)
}

func (m *BasicMetrics) OnWorkflowPersisted(ctx context.Context, wf *WorkflowInstance, subs int) {
	m.workflowsPersisted.Add(1)
	m.subscriptionsAdded.Add(int64(subs))
}

func (m *BasicMetrics) OnCommandScheduled(ctx context.Context, cmd *ScheduledCommand) {
	m.commandsScheduled.Add(1)
}

func (m *BasicMetrics) OnCommandScheduleFailed(ctx context.Context, cmd *ScheduledCommand, err error) {
	m.commandsRejected.Add(1)
}

func (m *BasicMetrics) OnCommandProcessed(ctx context.Context, cmd *ScheduledCommand, err error, d time.Duration) {
	if err != nil {
		m.commandsRetained.Add(1)
		return
	}
	m.commandsProcessed.Add(1)
	m.totalCommandRuntime.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	processed := m.commandsProcessed.Load()
	totalNs := m.totalCommandRuntime.Load()

	var avg time.Duration
	if processed > 0 {
		avg = time.Duration(totalNs / processed)
	}

	return BasicMetricsSnapshot{
		WorkflowsCreated:   m.workflowsCreated.Load(),
		WorkflowsPersisted: m.workflowsPersisted.Load(),
		SubscriptionsAdded: m.subscriptionsAdded.Load(),
		CommandsScheduled:  m.commandsScheduled.Load(),
		CommandsRejected:   m.commandsRejected.Load(),
		CommandsProcessed:  processed,
		CommandsRetained:   m.commandsRetained.Load(),
		AvgCommandDuration: avg,
	}
}
