// Package wfstore provides durable storage for a host workflow engine.
//
// The engine itself (step execution, event matching, scheduling policy) lives
// elsewhere; wfstore only stores and queries its state through one contract,
// PersistenceProvider. Every backend implements the same contract and passes
// the same conformance tests.
//
// # What is stored
//
//   - Workflow instances, each an aggregate root owning its execution
//     pointers and their extension attributes. An instance is always read
//     and written as a whole.
//   - Event subscriptions: a workflow waiting for an event name and key.
//     A worker reserves an open subscription by setting an external token.
//   - Events published from outside, until the engine marks them processed.
//   - Scheduled commands, drained by ProcessCommands once due. Scheduling is
//     best effort: failures are logged and observed, never returned.
//   - Execution errors, an append-only log.
//
// # Backends
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (modernc.org/sqlite, no cgo)
//   - PostgreSQL (pgx)
//   - MySQL (go-sql-driver/mysql)
//   - MongoDB (a single document per instance, transactions need a replica set)
//
// SQL backends share one implementation built on sqlx. Their schema is kept
// in versioned migration files and applied by EnsureStoreExists, which is
// safe to call on every start.
//
// Example:
//
//	store, err := wfstore.Open(ctx, "sqlite", "file:wfstore.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	id, err := store.Provider.CreateNewWorkflow(ctx, &wfstore.WorkflowInstance{
//	    WorkflowDefinitionID: "order-approval",
//	    Version:              1,
//	    Status:               wfstore.StatusRunnable,
//	})
//
// # Observability
//
// Providers accept an Observer (WithObserver). LoggingObserver writes slog
// records, BasicMetrics keeps counters, and NewCompositeObserver combines
// them. The admin host additionally wraps the provider in OpenTelemetry spans.
//
// # Admin host
//
// cmd/wfstore-admin serves a small HTTP API over a configured store and
// offers maintenance commands (migrate, instances list/get).
package wfstore
