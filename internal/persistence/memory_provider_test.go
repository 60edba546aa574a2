package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/wfstore/internal/persistence"
	"github.com/petrijr/wfstore/internal/persistence/conformance"
	"github.com/petrijr/wfstore/pkg/api"
)

func newMemoryProvider(t *testing.T, opts ...persistence.Option) api.PersistenceProvider {
	return persistence.NewInMemoryProvider(opts...)
}

func TestInMemoryConformance(t *testing.T) {
	suite.Run(t, &conformance.Suite{NewProvider: newMemoryProvider})
}

func TestInMemoryProvider_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewInMemoryProvider()

	wf := &api.WorkflowInstance{
		WorkflowDefinitionID: "copy",
		ExecutionPointers: []*api.ExecutionPointer{
			{StepName: "first", Children: []string{"a"}, ExtensionAttributes: map[string]any{"k": "v"}},
		},
	}
	id, err := p.CreateNewWorkflow(ctx, wf)
	require.NoError(t, err)
	require.NotEmpty(t, wf.ExecutionPointers[0].ID)

	wf.ExecutionPointers[0].StepName = "mutated"
	wf.ExecutionPointers[0].Children[0] = "mutated"
	wf.ExecutionPointers[0].ExtensionAttributes["k"] = "mutated"

	got, err := p.GetWorkflowInstance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "first", got.ExecutionPointers[0].StepName)
	require.Equal(t, []string{"a"}, got.ExecutionPointers[0].Children)
	require.Equal(t, "v", got.ExecutionPointers[0].ExtensionAttributes["k"])

	got.Description = "changed by reader"
	again, err := p.GetWorkflowInstance(ctx, id)
	require.NoError(t, err)
	require.Empty(t, again.Description)
}

func TestInMemoryProvider_StampsCreateTimeFromClock(t *testing.T) {
	fixed := time.Date(2024, 12, 24, 18, 0, 0, 0, time.UTC)
	p := persistence.NewInMemoryProvider(persistence.WithClock(func() time.Time { return fixed }))

	wf := &api.WorkflowInstance{WorkflowDefinitionID: "clock"}
	_, err := p.CreateNewWorkflow(context.Background(), wf)
	require.NoError(t, err)
	require.True(t, fixed.Equal(wf.CreateTime))
}

func TestInMemoryProvider_RecordsExecutionErrors(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewInMemoryProvider()

	require.NoError(t, p.PersistErrors(ctx, []*api.ExecutionError{
		{WorkflowID: "wf-1", Message: "one"},
		{WorkflowID: "wf-2", Message: "two"},
	}))
	require.NoError(t, p.PersistErrors(ctx, nil))

	got := p.ExecutionErrors()
	require.Len(t, got, 2)
	require.Equal(t, "one", got[0].Message)
	require.Equal(t, "wf-2", got[1].WorkflowID)
}

func TestInMemoryProvider_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewInMemoryProvider()

	const workers = 16
	done := make(chan string, workers)
	for i := 0; i < workers; i++ {
		go func() {
			id, err := p.CreateNewWorkflow(ctx, &api.WorkflowInstance{WorkflowDefinitionID: "concurrent"})
			if err != nil {
				done <- ""
				return
			}
			done <- id
		}()
	}

	seen := make(map[string]bool, workers)
	for i := 0; i < workers; i++ {
		id := <-done
		require.NotEmpty(t, id)
		seen[id] = true
	}
	require.Len(t, seen, workers)

	all, err := p.GetWorkflowInstances(ctx, api.InstanceFilter{Type: "concurrent"})
	require.NoError(t, err)
	require.Len(t, all, workers)
}
