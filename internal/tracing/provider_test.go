package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petrijr/wfstore/internal/persistence"
	"github.com/petrijr/wfstore/pkg/api"
)

func setupTest() (*Provider, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return Wrap(persistence.NewInMemoryProvider(), "memory", tp), sr
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestWrap_NilTracerProviderUsesGlobal(t *testing.T) {
	p := Wrap(persistence.NewInMemoryProvider(), "memory", nil)
	if p.tracer == nil {
		t.Fatal("expected non-nil tracer")
	}
	if p.Unwrap() == nil {
		t.Fatal("expected inner provider")
	}
}

func TestCreateNewWorkflow_RecordsSpan(t *testing.T) {
	p, sr := setupTest()
	ctx := context.Background()

	id, err := p.CreateNewWorkflow(ctx, &api.WorkflowInstance{WorkflowDefinitionID: "order"})
	if err != nil {
		t.Fatalf("CreateNewWorkflow: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "wfstore.CreateNewWorkflow" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if v, ok := attr(span, "wfstore.instance_id"); !ok || v.AsString() != id {
		t.Fatalf("expected instance_id %q, got %v", id, v.AsString())
	}
	if v, ok := attr(span, "db.system"); !ok || v.AsString() != "memory" {
		t.Fatalf("expected db.system memory, got %v", v.AsString())
	}
	if span.Status().Code == codes.Error {
		t.Fatalf("unexpected error status")
	}
}

func TestPersistWorkflow_RecordsError(t *testing.T) {
	p, sr := setupTest()

	err := p.PersistWorkflow(context.Background(), &api.WorkflowInstance{ID: "missing"})
	if !errors.Is(err, api.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status())
	}
	if len(spans[0].Events()) == 0 {
		t.Fatalf("expected recorded error event")
	}
}

func TestProcessCommands_ChildSpanPerCommand(t *testing.T) {
	p, sr := setupTest()
	ctx := context.Background()
	now := time.Now()

	p.ScheduleCommand(ctx, &api.ScheduledCommand{CommandName: api.CommandProcessWorkflow, Data: "wf-1", ExecuteTime: now.Add(-time.Second)})
	p.ScheduleCommand(ctx, &api.ScheduledCommand{CommandName: api.CommandProcessEvent, Data: "ev-1", ExecuteTime: now.Add(-time.Second)})

	err := p.ProcessCommands(ctx, now, func(ctx context.Context, cmd *api.ScheduledCommand) error {
		if cmd.CommandName == api.CommandProcessEvent {
			return errors.New("handler failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessCommands: %v", err)
	}

	var parent sdktrace.ReadOnlySpan
	children := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		switch s.Name() {
		case "wfstore.ProcessCommands":
			parent = s
		case "wfstore.command/" + api.CommandProcessWorkflow, "wfstore.command/" + api.CommandProcessEvent:
			children[s.Name()] = s
		}
	}
	if parent == nil {
		t.Fatal("missing ProcessCommands span")
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 command spans, got %d", len(children))
	}
	for _, c := range children {
		if c.Parent().SpanID() != parent.SpanContext().SpanID() {
			t.Fatalf("command span %q is not a child of ProcessCommands", c.Name())
		}
	}
	if children["wfstore.command/"+api.CommandProcessEvent].Status().Code != codes.Error {
		t.Fatalf("expected failing command span to carry error status")
	}
	if v, ok := attr(parent, "wfstore.commands"); !ok || v.AsInt64() != 2 {
		t.Fatalf("expected 2 commands on parent span, got %v", v.AsInt64())
	}
}

func TestDelegatesEveryOperation(t *testing.T) {
	p, sr := setupTest()
	ctx := context.Background()
	now := time.Now()

	if err := p.EnsureStoreExists(ctx); err != nil {
		t.Fatalf("EnsureStoreExists: %v", err)
	}
	wf := &api.WorkflowInstance{WorkflowDefinitionID: "order", Status: api.WorkflowStatusRunnable, NextExecution: &now}
	id, err := p.CreateNewWorkflow(ctx, wf)
	if err != nil {
		t.Fatalf("CreateNewWorkflow: %v", err)
	}
	if err := p.PersistWorkflowWithSubscriptions(ctx, wf, []*api.EventSubscription{{WorkflowID: id, EventName: "e", EventKey: "k", SubscribeAsOf: now}}); err != nil {
		t.Fatalf("PersistWorkflowWithSubscriptions: %v", err)
	}
	if ids, err := p.GetRunnableInstances(ctx, now); err != nil || len(ids) != 1 {
		t.Fatalf("GetRunnableInstances: ids=%v err=%v", ids, err)
	}
	if got, err := p.GetWorkflowInstance(ctx, id); err != nil || got == nil {
		t.Fatalf("GetWorkflowInstance: %v", err)
	}
	if got, err := p.GetWorkflowInstances(ctx, api.InstanceFilter{}); err != nil || len(got) != 1 {
		t.Fatalf("GetWorkflowInstances: %v", err)
	}
	if got, err := p.GetWorkflowInstancesByIDs(ctx, []string{id}); err != nil || len(got) != 1 {
		t.Fatalf("GetWorkflowInstancesByIDs: %v", err)
	}

	sub, err := p.GetFirstOpenSubscription(ctx, "e", "k", now)
	if err != nil || sub == nil {
		t.Fatalf("GetFirstOpenSubscription: sub=%v err=%v", sub, err)
	}
	if ok, err := p.SetSubscriptionToken(ctx, sub.ID, "tok", "w", now.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("SetSubscriptionToken: ok=%v err=%v", ok, err)
	}
	if err := p.ClearSubscriptionToken(ctx, sub.ID, "tok"); err != nil {
		t.Fatalf("ClearSubscriptionToken: %v", err)
	}
	if subs, err := p.GetSubscriptions(ctx, "e", "k", now); err != nil || len(subs) != 1 {
		t.Fatalf("GetSubscriptions: %v", err)
	}
	if got, err := p.GetSubscription(ctx, sub.ID); err != nil || got == nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if _, err := p.CreateEventSubscription(ctx, &api.EventSubscription{EventName: "e", EventKey: "k"}); err != nil {
		t.Fatalf("CreateEventSubscription: %v", err)
	}
	if err := p.TerminateSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("TerminateSubscription: %v", err)
	}

	evID, err := p.CreateEvent(ctx, &api.Event{EventName: "e", EventKey: "k", EventTime: now})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if ev, err := p.GetEvent(ctx, evID); err != nil || ev == nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if err := p.MarkEventProcessed(ctx, evID); err != nil {
		t.Fatalf("MarkEventProcessed: %v", err)
	}
	if ids, err := p.GetRunnableEvents(ctx, now); err != nil || len(ids) != 0 {
		t.Fatalf("GetRunnableEvents: ids=%v err=%v", ids, err)
	}
	if err := p.MarkEventUnprocessed(ctx, evID); err != nil {
		t.Fatalf("MarkEventUnprocessed: %v", err)
	}
	if ids, err := p.GetEvents(ctx, "e", "k", now); err != nil || len(ids) != 1 {
		t.Fatalf("GetEvents: ids=%v err=%v", ids, err)
	}
	if err := p.PersistErrors(ctx, []*api.ExecutionError{{WorkflowID: id, Message: "x"}}); err != nil {
		t.Fatalf("PersistErrors: %v", err)
	}
	if !p.SupportsScheduledCommands() {
		t.Fatal("expected scheduled command support")
	}

	if got := len(sr.Ended()); got != 21 {
		t.Fatalf("expected 21 spans, got %d", got)
	}
}
