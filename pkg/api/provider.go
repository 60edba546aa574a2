package api

import (
	"context"
	"time"
)

// WorkflowRepository stores workflow instances together with their execution
// pointers.
type WorkflowRepository interface {
	// CreateNewWorkflow assigns a fresh ID to wf and inserts the whole
	// instance tree in a single atomic write. It returns the new ID.
	CreateNewWorkflow(ctx context.Context, wf *WorkflowInstance) (string, error)

	// PersistWorkflow replaces the stored state of an existing instance with
	// wf. Returns ErrWorkflowNotFound if no instance with wf.ID exists.
	PersistWorkflow(ctx context.Context, wf *WorkflowInstance) error

	// PersistWorkflowWithSubscriptions behaves like PersistWorkflow and also
	// creates subs, each with a fresh ID, in the same transaction. On any
	// failure nothing is written and the original error is returned.
	PersistWorkflowWithSubscriptions(ctx context.Context, wf *WorkflowInstance, subs []*EventSubscription) error

	// GetRunnableInstances returns the IDs of every instance whose status is
	// Runnable and whose NextExecution is set and not after asAt.
	// The order is unspecified.
	GetRunnableInstances(ctx context.Context, asAt time.Time) ([]string, error)

	// GetWorkflowInstances returns a page of instances matching filter.
	GetWorkflowInstances(ctx context.Context, filter InstanceFilter) ([]*WorkflowInstance, error)

	// GetWorkflowInstance returns (nil, nil) when the instance does not exist.
	GetWorkflowInstance(ctx context.Context, id string) (*WorkflowInstance, error)

	// GetWorkflowInstancesByIDs returns the instances that exist among ids.
	GetWorkflowInstancesByIDs(ctx context.Context, ids []string) ([]*WorkflowInstance, error)
}

// SubscriptionRepository stores event subscriptions and their reservations.
type SubscriptionRepository interface {
	// CreateEventSubscription assigns a fresh ID to sub and inserts it.
	// Several open subscriptions for the same key are allowed.
	CreateEventSubscription(ctx context.Context, sub *EventSubscription) (string, error)

	// GetSubscriptions returns subscriptions for the key whose SubscribeAsOf
	// is not after asOf.
	GetSubscriptions(ctx context.Context, eventName, eventKey string, asOf time.Time) ([]*EventSubscription, error)

	// TerminateSubscription deletes a subscription. Deleting a subscription
	// that does not exist is not an error.
	TerminateSubscription(ctx context.Context, id string) error

	// GetSubscription returns (nil, nil) when the subscription does not exist.
	GetSubscription(ctx context.Context, id string) (*EventSubscription, error)

	// GetFirstOpenSubscription returns the earliest created open subscription
	// for the key whose SubscribeAsOf is not after asOf, or (nil, nil).
	GetFirstOpenSubscription(ctx context.Context, eventName, eventKey string, asOf time.Time) (*EventSubscription, error)

	// SetSubscriptionToken overwrites the reservation triple without
	// comparing against the current token. The stored expiry is one second
	// before expiry, so a reservation always lapses strictly before the
	// instant the caller was given. An empty token is rejected with
	// ErrEmptySubscriptionToken.
	SetSubscriptionToken(ctx context.Context, id, token, workerID string, expiry time.Time) (bool, error)

	// ClearSubscriptionToken releases a reservation. It fails with
	// ErrSubscriptionTokenMismatch, leaving the row untouched, unless token
	// equals the stored token.
	ClearSubscriptionToken(ctx context.Context, id, token string) error
}

// EventRepository stores published events.
type EventRepository interface {
	CreateEvent(ctx context.Context, ev *Event) (string, error)

	// GetEvent returns (nil, nil) when the event does not exist.
	GetEvent(ctx context.Context, id string) (*Event, error)

	// GetRunnableEvents returns IDs of unprocessed events with EventTime not
	// after asAt.
	GetRunnableEvents(ctx context.Context, asAt time.Time) ([]string, error)

	// GetEvents returns IDs of events for the key with EventTime at or after
	// asOf.
	GetEvents(ctx context.Context, eventName, eventKey string, asOf time.Time) ([]string, error)

	MarkEventProcessed(ctx context.Context, id string) error
	MarkEventUnprocessed(ctx context.Context, id string) error
}

// CommandAction is the side effect run for each due command by
// ProcessCommands.
type CommandAction func(ctx context.Context, cmd *ScheduledCommand) error

// ScheduledCommandRepository stores deferred commands.
type ScheduledCommandRepository interface {
	SupportsScheduledCommands() bool

	// ScheduleCommand stores cmd on a best-effort basis. Failures are logged
	// and reported to the provider's Observer, never to the caller.
	ScheduleCommand(ctx context.Context, cmd *ScheduledCommand)

	// ProcessCommands runs action for every command whose ExecuteTime is
	// before asOf and deletes the ones whose action succeeded. A failing
	// action leaves its command in place for the next sweep and does not
	// stop the sweep. Only loading the due commands or a cancelled ctx
	// produce an error.
	ProcessCommands(ctx context.Context, asOf time.Time, action CommandAction) error
}

// PersistenceProvider is the full contract a host engine needs to keep its
// runtime state in a store.
type PersistenceProvider interface {
	WorkflowRepository
	SubscriptionRepository
	EventRepository
	ScheduledCommandRepository

	// PersistErrors appends errs. An empty slice is a no-op.
	PersistErrors(ctx context.Context, errs []*ExecutionError) error

	// EnsureStoreExists provisions the schema if needed. It is idempotent.
	EnsureStoreExists(ctx context.Context) error
}
