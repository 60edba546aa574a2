// Package api defines the contract between a host workflow engine and its
// persistence layer.
//
// Most users interact with the higher-level wfstore package, which re-exports
// selected types and provider constructors from this package. The api package
// is intended for custom providers, decorators and tests.
//
// # Contract
//
// PersistenceProvider is composed of smaller repositories:
//
//   - WorkflowRepository: workflow instances with their execution pointers
//   - SubscriptionRepository: event subscriptions and their reservations
//   - EventRepository: published events and their processed flag
//   - ScheduledCommandRepository: deferred commands drained by a sweep
//
// plus PersistErrors and EnsureStoreExists. The state objects (WorkflowInstance,
// ExecutionPointer, EventSubscription, Event) are owned by the host engine;
// providers store and query them without interpreting their payloads.
//
// # Not found
//
// Reads return (nil, nil) for unknown IDs. Writes that need an existing row
// return ErrWorkflowNotFound or ErrSubscriptionNotFound. Clearing a
// subscription token with the wrong token returns
// ErrSubscriptionTokenMismatch, which also matches ErrInvalidOperation.
//
// # Observability
//
// Observer receives callbacks after writes and for each command visited by
// ProcessCommands. LoggingObserver logs through log/slog, BasicMetrics keeps
// atomic counters, and NewCompositeObserver fans out to several observers.
package api
