package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

//
// Helpers
//

// testObserver is a simple Observer implementation used to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	created        int
	persisted      int
	scheduled      int
	scheduleFailed int
	processed      int

	lastPersistSubs int
	lastScheduleErr error
	lastProcessed   struct {
		Cmd      *ScheduledCommand
		Err      error
		Duration time.Duration
	}
}

func (o *testObserver) OnWorkflowCreated(ctx context.Context, wf *WorkflowInstance) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *testObserver) OnWorkflowPersisted(ctx context.Context, wf *WorkflowInstance, subs int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persisted++
	o.lastPersistSubs = subs
}

func (o *testObserver) OnCommandScheduled(ctx context.Context, cmd *ScheduledCommand) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled++
}

func (o *testObserver) OnCommandScheduleFailed(ctx context.Context, cmd *ScheduledCommand, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduleFailed++
	o.lastScheduleErr = err
}

func (o *testObserver) OnCommandProcessed(ctx context.Context, cmd *ScheduledCommand, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed++
	o.lastProcessed.Cmd = cmd
	o.lastProcessed.Err = err
	o.lastProcessed.Duration = d
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(name string) slog.Handler       { return h }

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func newTestInstance() *WorkflowInstance {
	return &WorkflowInstance{
		ID:                   "inst-123",
		WorkflowDefinitionID: "wf-test",
		Status:               WorkflowStatusSuspended,
		ExecutionPointers:    []*ExecutionPointer{{ID: "p1"}, {ID: "p2"}},
	}
}

func newTestCommand() *ScheduledCommand {
	return &ScheduledCommand{
		CommandName: CommandProcessWorkflow,
		Data:        "inst-123",
		ExecuteTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

//
// NoopObserver
//

func TestNoopObserver_DoesNotPanic(t *testing.T) {
	ctx := context.Background()
	var o Observer = NoopObserver{}

	o.OnWorkflowCreated(ctx, newTestInstance())
	o.OnWorkflowPersisted(ctx, newTestInstance(), 2)
	o.OnCommandScheduled(ctx, newTestCommand())
	o.OnCommandScheduleFailed(ctx, newTestCommand(), errors.New("dup"))
	o.OnCommandProcessed(ctx, newTestCommand(), nil, time.Second)
}

//
// CompositeObserver
//

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	o := NewCompositeObserver()
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NewCompositeObserver() to return NoopObserver, got %T", o)
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	single := &testObserver{}
	o := NewCompositeObserver(single, nil)

	if got, ok := o.(*testObserver); !ok || got != single {
		t.Fatalf("expected the single non-nil observer to be returned, got %T (%p)", o, o)
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance()
	cmd := newTestCommand()

	o1 := &testObserver{}
	o2 := &testObserver{}
	co, ok := NewCompositeObserver(o1, o2).(*CompositeObserver)
	if !ok {
		t.Fatalf("expected *CompositeObserver")
	}

	schedErr := errors.New("duplicate key")
	actionErr := errors.New("engine busy")
	co.OnWorkflowCreated(ctx, inst)
	co.OnWorkflowPersisted(ctx, inst, 3)
	co.OnCommandScheduled(ctx, cmd)
	co.OnCommandScheduleFailed(ctx, cmd, schedErr)
	co.OnCommandProcessed(ctx, cmd, actionErr, 2*time.Second)

	for i, o := range []*testObserver{o1, o2} {
		if o.created != 1 || o.persisted != 1 || o.scheduled != 1 || o.scheduleFailed != 1 || o.processed != 1 {
			t.Fatalf("observer %d did not receive all calls: %+v", i+1, o)
		}
		if o.lastPersistSubs != 3 {
			t.Fatalf("observer %d subscriptions=%d, want 3", i+1, o.lastPersistSubs)
		}
		if o.lastScheduleErr != schedErr {
			t.Fatalf("observer %d schedule error mismatch", i+1)
		}
		if o.lastProcessed.Cmd != cmd || o.lastProcessed.Err != actionErr || o.lastProcessed.Duration != 2*time.Second {
			t.Fatalf("observer %d processed mismatch: %+v", i+1, o.lastProcessed)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_OnWorkflowPersisted_EmitsDebugLog(t *testing.T) {
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))
	inst := newTestInstance()

	o.OnWorkflowPersisted(context.Background(), inst, 2)

	if len(h.records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(h.records))
	}
	rec := h.records[0]
	if rec.Level != slog.LevelDebug || rec.Message != "workflow_persisted" {
		t.Fatalf("unexpected record: level=%v msg=%q", rec.Level, rec.Message)
	}
	attrs := attrsToMap(rec)
	if attrs["instance_id"] != inst.ID || attrs["workflow"] != inst.WorkflowDefinitionID {
		t.Fatalf("unexpected attrs: %v", attrs)
	}
	if attrs["status"] != "Suspended" {
		t.Fatalf("expected status=Suspended, got %v", attrs["status"])
	}
	if attrs["subscriptions"] != int64(2) {
		t.Fatalf("expected subscriptions=2, got %v (%T)", attrs["subscriptions"], attrs["subscriptions"])
	}
}

func TestLoggingObserver_ScheduleFailedIsWarning(t *testing.T) {
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnCommandScheduleFailed(context.Background(), newTestCommand(), errors.New("duplicate key"))

	if len(h.records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(h.records))
	}
	rec := h.records[0]
	if rec.Level != slog.LevelWarn || rec.Message != "command_schedule_failed" {
		t.Fatalf("unexpected record: level=%v msg=%q", rec.Level, rec.Message)
	}
	attrs := attrsToMap(rec)
	if attrs["command"] != CommandProcessWorkflow || attrs["data"] != "inst-123" {
		t.Fatalf("unexpected attrs: %v", attrs)
	}
	if attrs["error"] == nil {
		t.Fatalf("expected error attribute")
	}
}

func TestLoggingObserver_OnCommandProcessed_LevelDependsOnError(t *testing.T) {
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))
	ctx := context.Background()

	o.OnCommandProcessed(ctx, newTestCommand(), nil, time.Second)
	o.OnCommandProcessed(ctx, newTestCommand(), errors.New("boom"), 2*time.Second)

	if len(h.records) != 2 {
		t.Fatalf("expected 2 log records, got %d", len(h.records))
	}
	if h.records[0].Level != slog.LevelDebug {
		t.Fatalf("expected success record LevelDebug, got %v", h.records[0].Level)
	}
	if h.records[1].Level != slog.LevelWarn {
		t.Fatalf("expected failure record LevelWarn, got %v", h.records[1].Level)
	}
	if attrsToMap(h.records[1])["duration"] != 2*time.Second {
		t.Fatalf("expected duration attribute on failure record")
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_CountersAndSnapshot(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()
	inst := newTestInstance()
	cmd := newTestCommand()

	m.OnWorkflowCreated(ctx, inst)
	m.OnWorkflowCreated(ctx, inst)
	m.OnWorkflowPersisted(ctx, inst, 2)
	m.OnWorkflowPersisted(ctx, inst, 0)
	m.OnCommandScheduled(ctx, cmd)
	m.OnCommandScheduleFailed(ctx, cmd, errors.New("dup"))

	snap := m.Snapshot()
	if snap.WorkflowsCreated != 2 || snap.WorkflowsPersisted != 2 || snap.SubscriptionsAdded != 2 {
		t.Fatalf("unexpected workflow counters: %+v", snap)
	}
	if snap.CommandsScheduled != 1 || snap.CommandsRejected != 1 {
		t.Fatalf("unexpected schedule counters: %+v", snap)
	}
	if snap.CommandsProcessed != 0 || snap.AvgCommandDuration != 0 {
		t.Fatalf("expected no processed commands yet: %+v", snap)
	}
}

func TestBasicMetrics_OnlySuccessfulCommandsCountDuration(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()
	cmd := newTestCommand()

	m.OnCommandProcessed(ctx, cmd, nil, 1*time.Second)
	m.OnCommandProcessed(ctx, cmd, nil, 3*time.Second)
	m.OnCommandProcessed(ctx, cmd, errors.New("fail"), 10*time.Second)

	snap := m.Snapshot()
	if snap.CommandsProcessed != 2 {
		t.Fatalf("CommandsProcessed=%d, want 2", snap.CommandsProcessed)
	}
	if snap.CommandsRetained != 1 {
		t.Fatalf("CommandsRetained=%d, want 1", snap.CommandsRetained)
	}
	if want := 2 * time.Second; snap.AvgCommandDuration != want {
		t.Fatalf("AvgCommandDuration=%v, want %v", snap.AvgCommandDuration, want)
	}
}
