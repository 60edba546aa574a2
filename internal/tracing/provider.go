// Package tracing adds OpenTelemetry spans around a PersistenceProvider.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/wfstore/pkg/api"
)

const tracerName = "github.com/petrijr/wfstore"

// Provider decorates a PersistenceProvider with one client span per call.
type Provider struct {
	inner  api.PersistenceProvider
	tracer trace.Tracer
	system string
}

// Ensure Provider implements PersistenceProvider.
var _ api.PersistenceProvider = (*Provider)(nil)

// Wrap returns inner decorated with spans. system names the backing store
// (db.system attribute). If tp is nil, the global tracer provider is used.
func Wrap(inner api.PersistenceProvider, system string, tp trace.TracerProvider) *Provider {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Provider{
		inner:  inner,
		tracer: tp.Tracer(tracerName),
		system: system,
	}
}

// Unwrap returns the decorated provider.
func (p *Provider) Unwrap() api.PersistenceProvider {
	return p.inner
}

func (p *Provider) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", p.system),
		attribute.String("db.operation", op),
	)
	return p.tracer.Start(ctx, "wfstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (p *Provider) CreateNewWorkflow(ctx context.Context, wf *api.WorkflowInstance) (id string, err error) {
	ctx, span := p.start(ctx, "CreateNewWorkflow",
		attribute.String("wfstore.workflow_definition", wf.WorkflowDefinitionID),
		attribute.Int("wfstore.pointers", len(wf.ExecutionPointers)),
	)
	defer func() { end(span, err) }()

	id, err = p.inner.CreateNewWorkflow(ctx, wf)
	span.SetAttributes(attribute.String("wfstore.instance_id", id))
	return id, err
}

func (p *Provider) PersistWorkflow(ctx context.Context, wf *api.WorkflowInstance) (err error) {
	ctx, span := p.start(ctx, "PersistWorkflow", attribute.String("wfstore.instance_id", wf.ID))
	defer func() { end(span, err) }()
	return p.inner.PersistWorkflow(ctx, wf)
}

func (p *Provider) PersistWorkflowWithSubscriptions(ctx context.Context, wf *api.WorkflowInstance, subs []*api.EventSubscription) (err error) {
	ctx, span := p.start(ctx, "PersistWorkflowWithSubscriptions",
		attribute.String("wfstore.instance_id", wf.ID),
		attribute.Int("wfstore.subscriptions", len(subs)),
	)
	defer func() { end(span, err) }()
	return p.inner.PersistWorkflowWithSubscriptions(ctx, wf, subs)
}

func (p *Provider) GetRunnableInstances(ctx context.Context, asAt time.Time) (ids []string, err error) {
	ctx, span := p.start(ctx, "GetRunnableInstances")
	defer func() { end(span, err) }()

	ids, err = p.inner.GetRunnableInstances(ctx, asAt)
	span.SetAttributes(attribute.Int("wfstore.results", len(ids)))
	return ids, err
}

func (p *Provider) GetWorkflowInstances(ctx context.Context, filter api.InstanceFilter) (out []*api.WorkflowInstance, err error) {
	ctx, span := p.start(ctx, "GetWorkflowInstances",
		attribute.String("wfstore.filter.type", filter.Type),
		attribute.Int("wfstore.filter.skip", filter.Skip),
		attribute.Int("wfstore.filter.take", filter.Take),
	)
	defer func() { end(span, err) }()

	out, err = p.inner.GetWorkflowInstances(ctx, filter)
	span.SetAttributes(attribute.Int("wfstore.results", len(out)))
	return out, err
}

func (p *Provider) GetWorkflowInstance(ctx context.Context, id string) (wf *api.WorkflowInstance, err error) {
	ctx, span := p.start(ctx, "GetWorkflowInstance", attribute.String("wfstore.instance_id", id))
	defer func() { end(span, err) }()

	wf, err = p.inner.GetWorkflowInstance(ctx, id)
	span.SetAttributes(attribute.Bool("wfstore.found", wf != nil))
	return wf, err
}

func (p *Provider) GetWorkflowInstancesByIDs(ctx context.Context, ids []string) (out []*api.WorkflowInstance, err error) {
	ctx, span := p.start(ctx, "GetWorkflowInstancesByIDs", attribute.Int("wfstore.ids", len(ids)))
	defer func() { end(span, err) }()

	out, err = p.inner.GetWorkflowInstancesByIDs(ctx, ids)
	span.SetAttributes(attribute.Int("wfstore.results", len(out)))
	return out, err
}

func (p *Provider) CreateEventSubscription(ctx context.Context, sub *api.EventSubscription) (id string, err error) {
	ctx, span := p.start(ctx, "CreateEventSubscription",
		attribute.String("wfstore.event_name", sub.EventName),
		attribute.String("wfstore.event_key", sub.EventKey),
	)
	defer func() { end(span, err) }()
	return p.inner.CreateEventSubscription(ctx, sub)
}

func (p *Provider) GetSubscriptions(ctx context.Context, eventName, eventKey string, asOf time.Time) (out []*api.EventSubscription, err error) {
	ctx, span := p.start(ctx, "GetSubscriptions",
		attribute.String("wfstore.event_name", eventName),
		attribute.String("wfstore.event_key", eventKey),
	)
	defer func() { end(span, err) }()

	out, err = p.inner.GetSubscriptions(ctx, eventName, eventKey, asOf)
	span.SetAttributes(attribute.Int("wfstore.results", len(out)))
	return out, err
}

func (p *Provider) TerminateSubscription(ctx context.Context, id string) (err error) {
	ctx, span := p.start(ctx, "TerminateSubscription", attribute.String("wfstore.subscription_id", id))
	defer func() { end(span, err) }()
	return p.inner.TerminateSubscription(ctx, id)
}

func (p *Provider) GetSubscription(ctx context.Context, id string) (sub *api.EventSubscription, err error) {
	ctx, span := p.start(ctx, "GetSubscription", attribute.String("wfstore.subscription_id", id))
	defer func() { end(span, err) }()
	return p.inner.GetSubscription(ctx, id)
}

func (p *Provider) GetFirstOpenSubscription(ctx context.Context, eventName, eventKey string, asOf time.Time) (sub *api.EventSubscription, err error) {
	ctx, span := p.start(ctx, "GetFirstOpenSubscription",
		attribute.String("wfstore.event_name", eventName),
		attribute.String("wfstore.event_key", eventKey),
	)
	defer func() { end(span, err) }()
	return p.inner.GetFirstOpenSubscription(ctx, eventName, eventKey, asOf)
}

func (p *Provider) SetSubscriptionToken(ctx context.Context, id, token, workerID string, expiry time.Time) (ok bool, err error) {
	ctx, span := p.start(ctx, "SetSubscriptionToken",
		attribute.String("wfstore.subscription_id", id),
		attribute.String("wfstore.worker_id", workerID),
	)
	defer func() { end(span, err) }()
	return p.inner.SetSubscriptionToken(ctx, id, token, workerID, expiry)
}

func (p *Provider) ClearSubscriptionToken(ctx context.Context, id, token string) (err error) {
	ctx, span := p.start(ctx, "ClearSubscriptionToken", attribute.String("wfstore.subscription_id", id))
	defer func() { end(span, err) }()
	return p.inner.ClearSubscriptionToken(ctx, id, token)
}

func (p *Provider) CreateEvent(ctx context.Context, ev *api.Event) (id string, err error) {
	ctx, span := p.start(ctx, "CreateEvent",
		attribute.String("wfstore.event_name", ev.EventName),
		attribute.String("wfstore.event_key", ev.EventKey),
	)
	defer func() { end(span, err) }()
	return p.inner.CreateEvent(ctx, ev)
}

func (p *Provider) GetEvent(ctx context.Context, id string) (ev *api.Event, err error) {
	ctx, span := p.start(ctx, "GetEvent", attribute.String("wfstore.event_id", id))
	defer func() { end(span, err) }()
	return p.inner.GetEvent(ctx, id)
}

func (p *Provider) GetRunnableEvents(ctx context.Context, asAt time.Time) (ids []string, err error) {
	ctx, span := p.start(ctx, "GetRunnableEvents")
	defer func() { end(span, err) }()

	ids, err = p.inner.GetRunnableEvents(ctx, asAt)
	span.SetAttributes(attribute.Int("wfstore.results", len(ids)))
	return ids, err
}

func (p *Provider) GetEvents(ctx context.Context, eventName, eventKey string, asOf time.Time) (ids []string, err error) {
	ctx, span := p.start(ctx, "GetEvents",
		attribute.String("wfstore.event_name", eventName),
		attribute.String("wfstore.event_key", eventKey),
	)
	defer func() { end(span, err) }()

	ids, err = p.inner.GetEvents(ctx, eventName, eventKey, asOf)
	span.SetAttributes(attribute.Int("wfstore.results", len(ids)))
	return ids, err
}

func (p *Provider) MarkEventProcessed(ctx context.Context, id string) (err error) {
	ctx, span := p.start(ctx, "MarkEventProcessed", attribute.String("wfstore.event_id", id))
	defer func() { end(span, err) }()
	return p.inner.MarkEventProcessed(ctx, id)
}

func (p *Provider) MarkEventUnprocessed(ctx context.Context, id string) (err error) {
	ctx, span := p.start(ctx, "MarkEventUnprocessed", attribute.String("wfstore.event_id", id))
	defer func() { end(span, err) }()
	return p.inner.MarkEventUnprocessed(ctx, id)
}

func (p *Provider) SupportsScheduledCommands() bool {
	return p.inner.SupportsScheduledCommands()
}

func (p *Provider) ScheduleCommand(ctx context.Context, cmd *api.ScheduledCommand) {
	ctx, span := p.start(ctx, "ScheduleCommand",
		attribute.String("wfstore.command", cmd.CommandName),
		attribute.String("wfstore.command_data", cmd.Data),
	)
	defer span.End()
	p.inner.ScheduleCommand(ctx, cmd)
}

// ProcessCommands also opens a child span around every action run.
func (p *Provider) ProcessCommands(ctx context.Context, asOf time.Time, action api.CommandAction) (err error) {
	ctx, span := p.start(ctx, "ProcessCommands")
	defer func() { end(span, err) }()

	runs := 0
	traced := func(ctx context.Context, cmd *api.ScheduledCommand) (err error) {
		runs++
		ctx, child := p.tracer.Start(ctx, "wfstore.command/"+cmd.CommandName,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attribute.String("wfstore.command_data", cmd.Data)),
		)
		defer func() { end(child, err) }()
		return action(ctx, cmd)
	}

	err = p.inner.ProcessCommands(ctx, asOf, traced)
	span.SetAttributes(attribute.Int("wfstore.commands", runs))
	return err
}

func (p *Provider) PersistErrors(ctx context.Context, errs []*api.ExecutionError) (err error) {
	ctx, span := p.start(ctx, "PersistErrors", attribute.Int("wfstore.errors", len(errs)))
	defer func() { end(span, err) }()
	return p.inner.PersistErrors(ctx, errs)
}

func (p *Provider) EnsureStoreExists(ctx context.Context) (err error) {
	ctx, span := p.start(ctx, "EnsureStoreExists")
	defer func() { end(span, err) }()
	return p.inner.EnsureStoreExists(ctx)
}
