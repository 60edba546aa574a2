package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"modernc.org/sqlite"

	"github.com/petrijr/wfstore/internal/persistence"
	"github.com/petrijr/wfstore/internal/persistence/conformance"
	"github.com/petrijr/wfstore/pkg/api"
)

func newSQLiteProvider(t *testing.T, opts ...persistence.Option) api.PersistenceProvider {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := persistence.Open(context.Background(), persistence.SQLite, dsn)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return persistence.NewSQLProviderx(db, persistence.SQLite, opts...)
}

func TestSQLiteConformance(t *testing.T) {
	suite.Run(t, &conformance.Suite{NewProvider: newSQLiteProvider})
}

func TestSQLProvider_PersistErrorsWritesRows(t *testing.T) {
	ctx := context.Background()
	p := newSQLiteProvider(t).(*persistence.SQLProvider)
	require.NoError(t, p.EnsureStoreExists(ctx))

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	err := p.PersistErrors(ctx, []*api.ExecutionError{
		{WorkflowID: "wf-1", ExecutionPointerID: "ep-1", ErrorTime: now, Message: "first"},
		{WorkflowID: "wf-1", ExecutionPointerID: "ep-2", ErrorTime: now, Message: "second"},
	})
	require.NoError(t, err)

	var messages []string
	require.NoError(t, p.DB().SelectContext(ctx, &messages,
		`SELECT message FROM wf_execution_errors ORDER BY persistence_id`))
	require.Equal(t, []string{"first", "second"}, messages)
}

func TestSQLProvider_EnsureStoreExistsRecordsMigration(t *testing.T) {
	ctx := context.Background()
	p := newSQLiteProvider(t).(*persistence.SQLProvider)
	require.NoError(t, p.EnsureStoreExists(ctx))
	require.NoError(t, p.EnsureStoreExists(ctx))

	var versions []string
	require.NoError(t, p.DB().SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`))
	require.Len(t, versions, 1)
}

func TestSQLProvider_StoresTokenExpiryOneSecondEarly(t *testing.T) {
	ctx := context.Background()
	p := newSQLiteProvider(t).(*persistence.SQLProvider)
	require.NoError(t, p.EnsureStoreExists(ctx))

	id, err := p.CreateEventSubscription(ctx, &api.EventSubscription{
		WorkflowID: "wf-1", EventName: "e", EventKey: "k", SubscribeAsOf: time.Now(),
	})
	require.NoError(t, err)

	expiry := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, err := p.SetSubscriptionToken(ctx, id, "tok", "w", expiry)
	require.NoError(t, err)
	require.True(t, ok)

	var stored string
	require.NoError(t, p.DB().GetContext(ctx, &stored,
		`SELECT external_token_expiry FROM wf_subscriptions WHERE subscription_id = ?`, id))
	require.Equal(t, "2025-03-01T11:59:59.000000000Z", stored)
}

func TestSQLProvider_NewSQLProviderWrapsPlainDB(t *testing.T) {
	ctx := context.Background()
	x := newSQLiteProvider(t).(*persistence.SQLProvider)

	p := persistence.NewSQLProvider(x.DB().DB, persistence.SQLite)
	require.NoError(t, p.EnsureStoreExists(ctx))
	require.Equal(t, persistence.SQLite, p.Dialect())

	id, err := p.CreateNewWorkflow(ctx, &api.WorkflowInstance{WorkflowDefinitionID: "plain"})
	require.NoError(t, err)

	got, err := x.GetWorkflowInstance(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.CreateTime.IsZero())
}

func TestSQLProvider_DuplicateIDKeepsDriverError(t *testing.T) {
	ctx := context.Background()
	p := newSQLiteProvider(t, persistence.WithIDGenerator(func() string { return "same-id" }))
	require.NoError(t, p.EnsureStoreExists(ctx))

	first := &api.EventSubscription{WorkflowID: "wf-1", EventName: "e", EventKey: "k", SubscribeAsOf: time.Now()}
	_, err := p.CreateEventSubscription(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "same-id", first.ID)

	second := &api.EventSubscription{WorkflowID: "wf-1", EventName: "e", EventKey: "k", SubscribeAsOf: time.Now()}
	_, err = p.CreateEventSubscription(ctx, second)
	require.ErrorIs(t, err, api.ErrDuplicateID)
	require.Empty(t, second.ID)

	var driverErr *sqlite.Error
	require.True(t, errors.As(err, &driverErr), "driver error missing from %v", err)
	require.Equal(t, 2067, driverErr.Code())

	_, err = p.CreateEvent(ctx, &api.Event{EventName: "e", EventKey: "k", EventTime: time.Now()})
	require.NoError(t, err)
	_, err = p.CreateEvent(ctx, &api.Event{EventName: "e", EventKey: "k", EventTime: time.Now()})
	require.ErrorIs(t, err, api.ErrDuplicateID)

	_, err = p.CreateNewWorkflow(ctx, &api.WorkflowInstance{WorkflowDefinitionID: "a"})
	require.NoError(t, err)
	_, err = p.CreateNewWorkflow(ctx, &api.WorkflowInstance{WorkflowDefinitionID: "b"})
	require.ErrorIs(t, err, api.ErrDuplicateID)
}
