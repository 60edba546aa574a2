package wfstore

import (
	"database/sql"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/wfstore/internal/persistence"
	"github.com/petrijr/wfstore/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	PersistenceProvider  = api.PersistenceProvider
	WorkflowInstance     = api.WorkflowInstance
	ExecutionPointer     = api.ExecutionPointer
	EventSubscription    = api.EventSubscription
	Event                = api.Event
	ScheduledCommand     = api.ScheduledCommand
	CommandAction        = api.CommandAction
	ExecutionError       = api.ExecutionError
	InstanceFilter       = api.InstanceFilter
	WorkflowStatus       = api.WorkflowStatus
	PointerStatus        = api.PointerStatus
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	// Option configures a provider created by this package.
	Option = persistence.Option
)

// Re-export common observer helpers and provider options.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	WithLogger      = persistence.WithLogger
	WithObserver    = persistence.WithObserver
	WithIDGenerator = persistence.WithIDGenerator
	WithClock       = persistence.WithClock
)

// Re-export status values and command names for convenience.

const (
	StatusRunnable   = api.WorkflowStatusRunnable
	StatusSuspended  = api.WorkflowStatusSuspended
	StatusComplete   = api.WorkflowStatusComplete
	StatusTerminated = api.WorkflowStatusTerminated

	CommandProcessWorkflow = api.CommandProcessWorkflow
	CommandProcessEvent    = api.CommandProcessEvent
)

// Re-export the errors providers return.

var (
	ErrWorkflowNotFound          = api.ErrWorkflowNotFound
	ErrSubscriptionNotFound      = api.ErrSubscriptionNotFound
	ErrInvalidOperation          = api.ErrInvalidOperation
	ErrSubscriptionTokenMismatch = api.ErrSubscriptionTokenMismatch
)

// Provider constructors
// These wrap the internal/persistence package so external callers
// never need to import internal packages.

// NewInMemoryProvider returns a non-durable provider, best for tests.
func NewInMemoryProvider(opts ...Option) PersistenceProvider {
	return persistence.NewInMemoryProvider(opts...)
}

// NewSQLiteProvider returns a provider that stores everything in a SQLite
// database opened with the "sqlite" driver (modernc.org/sqlite).
func NewSQLiteProvider(db *sql.DB, opts ...Option) PersistenceProvider {
	return persistence.NewSQLProvider(db, persistence.SQLite, opts...)
}

// NewPostgresProvider returns a provider backed by PostgreSQL through the
// "pgx" driver.
func NewPostgresProvider(db *sql.DB, opts ...Option) PersistenceProvider {
	return persistence.NewSQLProvider(db, persistence.Postgres, opts...)
}

// NewMySQLProvider returns a provider backed by MySQL. The connection must
// use parseTime=true and clientFoundRows=true; use Open to get a correctly
// configured handle.
func NewMySQLProvider(db *sql.DB, opts ...Option) PersistenceProvider {
	return persistence.NewSQLProvider(db, persistence.MySQL, opts...)
}

// NewMongoProvider returns a provider storing documents in the given
// database ("wfstore" when empty). Transactions require a replica set.
func NewMongoProvider(client *mongo.Client, database string, opts ...Option) PersistenceProvider {
	return persistence.NewMongoProvider(client, database, opts...)
}
