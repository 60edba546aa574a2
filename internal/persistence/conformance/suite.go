// Package conformance holds the behavioural test suite every
// PersistenceProvider implementation must pass.
//
// Usage from a provider's tests:
//
//	func TestSQLiteConformance(t *testing.T) {
//		suite.Run(t, &conformance.Suite{NewProvider: newSQLiteProvider})
//	}
package conformance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/wfstore/internal/persistence"
	"github.com/petrijr/wfstore/pkg/api"
)

// Factory returns a fresh, empty provider built with opts. Schema
// provisioning is left to the suite.
type Factory func(t *testing.T, opts ...persistence.Option) api.PersistenceProvider

// Suite is the provider conformance suite.
type Suite struct {
	suite.Suite

	NewProvider Factory

	ctx      context.Context
	provider api.PersistenceProvider
	metrics  *api.BasicMetrics
}

var base = time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)

func (s *Suite) SetupTest() {
	s.Require().NotNil(s.NewProvider, "Suite.NewProvider must be set")
	s.ctx = context.Background()
	s.metrics = &api.BasicMetrics{}
	s.provider = s.fresh(persistence.WithObserver(s.metrics))
}

func (s *Suite) fresh(opts ...persistence.Option) api.PersistenceProvider {
	p := s.NewProvider(s.T(), opts...)
	s.Require().NoError(p.EnsureStoreExists(s.ctx))
	return p
}

func (s *Suite) sameTime(expected, actual time.Time, msgAndArgs ...any) {
	s.Truef(expected.Equal(actual), "expected %v, got %v %v", expected, actual, fmt.Sprint(msgAndArgs...))
}

func at(offset time.Duration) *time.Time {
	t := base.Add(offset)
	return &t
}

func newPointer(step int, attrs int) *api.ExecutionPointer {
	ep := &api.ExecutionPointer{
		ID:                  uuid.NewString(),
		StepID:              step,
		Active:              step%2 == 0,
		StartTime:           at(time.Duration(step) * time.Second),
		StepName:            fmt.Sprintf("step-%d", step),
		RetryCount:          step,
		Children:            []string{fmt.Sprintf("child-%d", step)},
		Scope:               []string{"scope-a", "scope-b"},
		Status:              api.PointerStatusRunning,
		PersistenceData:     map[string]any{"step": step},
		ExtensionAttributes: make(map[string]any, attrs),
	}
	for j := 0; j < attrs; j++ {
		ep.ExtensionAttributes[fmt.Sprintf("attr-%d", j)] = fmt.Sprintf("value-%d-%d", step, j)
	}
	return ep
}

func newWorkflow(definition string, pointers, attrs int) *api.WorkflowInstance {
	wf := &api.WorkflowInstance{
		WorkflowDefinitionID: definition,
		Version:              2,
		Description:          "conformance",
		Reference:            "ref-1",
		Status:               api.WorkflowStatusRunnable,
		Data:                 map[string]any{"order": "A-1"},
		CreateTime:           base,
	}
	for i := 0; i < pointers; i++ {
		wf.ExecutionPointers = append(wf.ExecutionPointers, newPointer(i, attrs))
	}
	return wf
}

func (s *Suite) create(wf *api.WorkflowInstance) string {
	id, err := s.provider.CreateNewWorkflow(s.ctx, wf)
	s.Require().NoError(err)
	s.Require().NotEmpty(id)
	return id
}

// Workflows

func (s *Suite) TestCreateNewWorkflow_RoundTripsPointersAndAttributes() {
	const pointers, attrs = 4, 3
	wf := newWorkflow("order", pointers, attrs)
	wf.NextExecution = at(time.Minute)

	id := s.create(wf)
	s.Equal(id, wf.ID)

	got, err := s.provider.GetWorkflowInstance(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)

	s.Equal("order", got.WorkflowDefinitionID)
	s.Equal(2, got.Version)
	s.Equal("conformance", got.Description)
	s.Equal("ref-1", got.Reference)
	s.Equal(api.WorkflowStatusRunnable, got.Status)
	s.Equal(map[string]any{"order": "A-1"}, got.Data)
	s.sameTime(base, got.CreateTime)
	s.Require().NotNil(got.NextExecution)
	s.sameTime(*wf.NextExecution, *got.NextExecution)
	s.Nil(got.CompleteTime)

	s.Require().Len(got.ExecutionPointers, pointers)
	for i, ep := range got.ExecutionPointers {
		want := wf.ExecutionPointers[i]
		s.Equal(want.ID, ep.ID)
		s.Equal(want.StepID, ep.StepID)
		s.Equal(want.Active, ep.Active)
		s.Equal(want.StepName, ep.StepName)
		s.Equal(want.RetryCount, ep.RetryCount)
		s.Equal(want.Children, ep.Children)
		s.Equal(want.Scope, ep.Scope)
		s.Equal(want.Status, ep.Status)
		s.Equal(want.PersistenceData, ep.PersistenceData)
		s.Require().NotNil(ep.StartTime)
		s.sameTime(*want.StartTime, *ep.StartTime)
		s.Nil(ep.EndTime)
		s.Len(ep.ExtensionAttributes, attrs)
		s.Equal(want.ExtensionAttributes, ep.ExtensionAttributes)
	}

	s.Equal(int64(1), s.metrics.Snapshot().WorkflowsCreated)
}

func (s *Suite) TestCreateNewWorkflow_AssignsFreshIDs() {
	a := s.create(newWorkflow("order", 0, 0))
	b := s.create(newWorkflow("order", 0, 0))
	s.NotEqual(a, b)
}

func (s *Suite) TestGetWorkflowInstance_MissingReturnsNil() {
	got, err := s.provider.GetWorkflowInstance(s.ctx, "does-not-exist")
	s.NoError(err)
	s.Nil(got)
}

func (s *Suite) TestPersistWorkflow_UpdatesPointersAndDropsVanishedOnes() {
	wf := newWorkflow("order", 3, 2)
	id := s.create(wf)

	kept := wf.ExecutionPointers[0]
	removed := wf.ExecutionPointers[1]

	kept.Status = api.PointerStatusComplete
	kept.EndTime = at(time.Hour)
	kept.Outcome = "approved"
	kept.ExtensionAttributes = map[string]any{"only": "one"}
	added := newPointer(9, 1)
	wf.ExecutionPointers = []*api.ExecutionPointer{kept, wf.ExecutionPointers[2], added}

	wf.Status = api.WorkflowStatusComplete
	wf.CompleteTime = at(2 * time.Hour)
	wf.NextExecution = nil
	wf.Data = "done"

	s.Require().NoError(s.provider.PersistWorkflow(s.ctx, wf))

	got, err := s.provider.GetWorkflowInstance(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)

	s.Equal(api.WorkflowStatusComplete, got.Status)
	s.Equal("done", got.Data)
	s.Nil(got.NextExecution)
	s.Require().NotNil(got.CompleteTime)
	s.sameTime(*wf.CompleteTime, *got.CompleteTime)

	s.Require().Len(got.ExecutionPointers, 3)
	ids := make([]string, len(got.ExecutionPointers))
	for i, ep := range got.ExecutionPointers {
		ids[i] = ep.ID
	}
	s.Equal([]string{kept.ID, wf.ExecutionPointers[1].ID, added.ID}, ids)
	s.NotContains(ids, removed.ID)

	first := got.ExecutionPointers[0]
	s.Equal(api.PointerStatusComplete, first.Status)
	s.Equal("approved", first.Outcome)
	s.Require().NotNil(first.EndTime)
	s.Equal(map[string]any{"only": "one"}, first.ExtensionAttributes)
	s.Len(got.ExecutionPointers[2].ExtensionAttributes, 1)

	s.Equal(int64(1), s.metrics.Snapshot().WorkflowsPersisted)
}

func (s *Suite) TestPersistWorkflow_MissingInstance() {
	wf := newWorkflow("order", 1, 0)
	wf.ID = "never-created"
	err := s.provider.PersistWorkflow(s.ctx, wf)
	s.ErrorIs(err, api.ErrWorkflowNotFound)
}

func (s *Suite) TestPersistWorkflowWithSubscriptions_CreatesBoth() {
	wf := newWorkflow("order", 1, 0)
	id := s.create(wf)

	wf.Status = api.WorkflowStatusSuspended
	subs := []*api.EventSubscription{
		{WorkflowID: id, StepID: 1, ExecutionPointerID: wf.ExecutionPointers[0].ID, EventName: "approved", EventKey: "A-1", SubscribeAsOf: base},
		{WorkflowID: id, StepID: 1, ExecutionPointerID: wf.ExecutionPointers[0].ID, EventName: "rejected", EventKey: "A-1", SubscribeAsOf: base},
	}
	s.Require().NoError(s.provider.PersistWorkflowWithSubscriptions(s.ctx, wf, subs))

	for _, sub := range subs {
		s.Require().NotEmpty(sub.ID)
		got, err := s.provider.GetSubscription(s.ctx, sub.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(id, got.WorkflowID)
		s.True(got.IsOpen())
	}

	got, err := s.provider.GetWorkflowInstance(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(api.WorkflowStatusSuspended, got.Status)
	s.Equal(int64(2), s.metrics.Snapshot().SubscriptionsAdded)
}

// A failing subscription insert must leave neither the workflow update nor
// any earlier subscription behind.
func (s *Suite) TestPersistWorkflowWithSubscriptions_RollsBackOnFailure() {
	var (
		mu    sync.Mutex
		queue = []string{"wf-rollback", "sub-dup", "sub-dup"}
	)
	nextID := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(queue) == 0 {
			return uuid.NewString()
		}
		id := queue[0]
		queue = queue[1:]
		return id
	}
	p := s.fresh(persistence.WithIDGenerator(nextID))

	wf := newWorkflow("order", 2, 1)
	id, err := p.CreateNewWorkflow(s.ctx, wf)
	s.Require().NoError(err)
	s.Require().Equal("wf-rollback", id)

	wf.Description = "changed"
	wf.Status = api.WorkflowStatusSuspended
	wf.ExecutionPointers = wf.ExecutionPointers[:1]
	subs := []*api.EventSubscription{
		{WorkflowID: id, EventName: "e", EventKey: "k", SubscribeAsOf: base},
		{WorkflowID: id, EventName: "e", EventKey: "k", SubscribeAsOf: base},
	}

	err = p.PersistWorkflowWithSubscriptions(s.ctx, wf, subs)
	s.Require().ErrorIs(err, api.ErrDuplicateID)
	s.NotErrorIs(err, api.ErrWorkflowNotFound)
	for _, sub := range subs {
		s.Empty(sub.ID, "subscription ids are assigned only on commit")
	}

	got, err := p.GetWorkflowInstance(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("conformance", got.Description)
	s.Equal(api.WorkflowStatusRunnable, got.Status)
	s.Len(got.ExecutionPointers, 2)

	sub, err := p.GetSubscription(s.ctx, "sub-dup")
	s.Require().NoError(err)
	s.Nil(sub)

	all, err := p.GetSubscriptions(s.ctx, "e", "k", base)
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *Suite) TestGetRunnableInstances_ExactSet() {
	asAt := base.Add(time.Hour)

	mk := func(status api.WorkflowStatus, next *time.Time) string {
		wf := newWorkflow("runnable", 0, 0)
		wf.Status = status
		wf.NextExecution = next
		return s.create(wf)
	}

	due := mk(api.WorkflowStatusRunnable, at(0))
	exact := mk(api.WorkflowStatusRunnable, &asAt)
	mk(api.WorkflowStatusRunnable, at(2*time.Hour))
	mk(api.WorkflowStatusRunnable, nil)
	mk(api.WorkflowStatusSuspended, at(0))
	mk(api.WorkflowStatusComplete, at(0))

	ids, err := s.provider.GetRunnableInstances(s.ctx, asAt)
	s.Require().NoError(err)
	s.ElementsMatch([]string{due, exact}, ids)
}

// Instants outside the int64 nanosecond range (1678 to 2262) must keep
// their order and round-trip exactly.
func (s *Suite) TestGetRunnableInstances_FarFutureAndFarPast() {
	farFuture := time.Date(9999, 12, 31, 23, 0, 0, 987654321, time.UTC)
	farPast := time.Date(1600, 1, 1, 0, 0, 0, 1, time.UTC)

	mk := func(next time.Time) string {
		wf := newWorkflow("runnable", 1, 0)
		wf.NextExecution = &next
		wf.CreateTime = next
		wf.ExecutionPointers[0].SleepUntil = &next
		return s.create(wf)
	}
	future := mk(farFuture)
	past := mk(farPast)

	ids, err := s.provider.GetRunnableInstances(s.ctx, base)
	s.Require().NoError(err)
	s.ElementsMatch([]string{past}, ids)

	ids, err = s.provider.GetRunnableInstances(s.ctx, farFuture.Add(-time.Nanosecond))
	s.Require().NoError(err)
	s.ElementsMatch([]string{past}, ids)

	ids, err = s.provider.GetRunnableInstances(s.ctx, time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC))
	s.Require().NoError(err)
	s.ElementsMatch([]string{past, future}, ids)

	got, err := s.provider.GetWorkflowInstance(s.ctx, future)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Require().NotNil(got.NextExecution)
	s.sameTime(farFuture, *got.NextExecution)
	s.sameTime(farFuture, got.CreateTime)
	s.Require().NotNil(got.ExecutionPointers[0].SleepUntil)
	s.sameTime(farFuture, *got.ExecutionPointers[0].SleepUntil)

	got, err = s.provider.GetWorkflowInstance(s.ctx, past)
	s.Require().NoError(err)
	s.Require().NotNil(got.NextExecution)
	s.sameTime(farPast, *got.NextExecution)

	from := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	found, err := s.provider.GetWorkflowInstances(s.ctx, api.InstanceFilter{CreatedFrom: &from})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(future, found[0].ID)
}

func (s *Suite) TestGetWorkflowInstances_FiltersAndPages() {
	var orders []string
	for i := 0; i < 5; i++ {
		wf := newWorkflow("order", 1, 0)
		wf.CreateTime = base.Add(time.Duration(i) * time.Minute)
		orders = append(orders, s.create(wf))
	}
	other := newWorkflow("invoice", 0, 0)
	other.Status = api.WorkflowStatusComplete
	otherID := s.create(other)

	all, err := s.provider.GetWorkflowInstances(s.ctx, api.InstanceFilter{})
	s.Require().NoError(err)
	s.Len(all, 6)

	page, err := s.provider.GetWorkflowInstances(s.ctx, api.InstanceFilter{Type: "order", Skip: 1, Take: 2})
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(orders[1], page[0].ID)
	s.Equal(orders[2], page[1].ID)
	s.Len(page[0].ExecutionPointers, 1)

	complete := api.WorkflowStatusComplete
	done, err := s.provider.GetWorkflowInstances(s.ctx, api.InstanceFilter{Status: &complete})
	s.Require().NoError(err)
	s.Require().Len(done, 1)
	s.Equal(otherID, done[0].ID)

	from, to := base.Add(time.Minute), base.Add(3*time.Minute)
	window, err := s.provider.GetWorkflowInstances(s.ctx, api.InstanceFilter{Type: "order", CreatedFrom: &from, CreatedTo: &to})
	s.Require().NoError(err)
	s.Len(window, 3)

	tail, err := s.provider.GetWorkflowInstances(s.ctx, api.InstanceFilter{Type: "order", Skip: 4})
	s.Require().NoError(err)
	s.Require().Len(tail, 1)
	s.Equal(orders[4], tail[0].ID)
}

func (s *Suite) TestGetWorkflowInstancesByIDs() {
	a := s.create(newWorkflow("order", 2, 1))
	b := s.create(newWorkflow("order", 1, 0))

	got, err := s.provider.GetWorkflowInstancesByIDs(s.ctx, []string{a, "missing", b})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	ids := []string{got[0].ID, got[1].ID}
	s.ElementsMatch([]string{a, b}, ids)

	none, err := s.provider.GetWorkflowInstancesByIDs(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(none)
}

// Subscriptions

func (s *Suite) subscribe(name, key string, asOf time.Time) string {
	id, err := s.provider.CreateEventSubscription(s.ctx, &api.EventSubscription{
		WorkflowID:       "wf-1",
		StepID:           3,
		EventName:        name,
		EventKey:         key,
		SubscribeAsOf:    asOf,
		SubscriptionData: "payload",
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(id)
	return id
}

func (s *Suite) TestCreateEventSubscription_AllowsSeveralForSameKey() {
	a := s.subscribe("approved", "A-1", base)
	b := s.subscribe("approved", "A-1", base)
	s.NotEqual(a, b)

	subs, err := s.provider.GetSubscriptions(s.ctx, "approved", "A-1", base)
	s.Require().NoError(err)
	s.Require().Len(subs, 2)
	s.Equal(a, subs[0].ID)
	s.Equal(b, subs[1].ID)
	s.Equal("payload", subs[0].SubscriptionData)
	s.Equal(3, subs[0].StepID)
	s.sameTime(base, subs[0].SubscribeAsOf)
}

func (s *Suite) TestGetSubscriptions_RespectsAsOfAndKey() {
	early := s.subscribe("approved", "A-1", base)
	s.subscribe("approved", "A-1", base.Add(time.Hour))
	s.subscribe("approved", "B-2", base)
	s.subscribe("rejected", "A-1", base)

	subs, err := s.provider.GetSubscriptions(s.ctx, "approved", "A-1", base.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().Len(subs, 1)
	s.Equal(early, subs[0].ID)
}

func (s *Suite) TestTerminateSubscription_IsIdempotent() {
	id := s.subscribe("approved", "A-1", base)

	s.Require().NoError(s.provider.TerminateSubscription(s.ctx, id))
	s.Require().NoError(s.provider.TerminateSubscription(s.ctx, id))
	s.Require().NoError(s.provider.TerminateSubscription(s.ctx, "never-existed"))

	got, err := s.provider.GetSubscription(s.ctx, id)
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *Suite) TestGetSubscription_MissingReturnsNil() {
	got, err := s.provider.GetSubscription(s.ctx, "missing")
	s.NoError(err)
	s.Nil(got)
}

func (s *Suite) TestGetFirstOpenSubscription_SkipsReservedInCreationOrder() {
	first := s.subscribe("approved", "A-1", base)
	second := s.subscribe("approved", "A-1", base)
	s.subscribe("approved", "A-1", base.Add(time.Hour))

	got, err := s.provider.GetFirstOpenSubscription(s.ctx, "approved", "A-1", base)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(first, got.ID)

	ok, err := s.provider.SetSubscriptionToken(s.ctx, first, "tok", "worker-1", base.Add(time.Minute))
	s.Require().NoError(err)
	s.True(ok)

	got, err = s.provider.GetFirstOpenSubscription(s.ctx, "approved", "A-1", base)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(second, got.ID)
	s.Empty(got.ExternalToken)
	s.Nil(got.ExternalTokenExpiry)

	_, err = s.provider.SetSubscriptionToken(s.ctx, second, "tok-2", "worker-2", base.Add(time.Minute))
	s.Require().NoError(err)

	got, err = s.provider.GetFirstOpenSubscription(s.ctx, "approved", "A-1", base)
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *Suite) TestSetSubscriptionToken_StoresExpiryOneSecondEarlier() {
	id := s.subscribe("approved", "A-1", base)
	expiry := base.Add(5 * time.Minute)

	ok, err := s.provider.SetSubscriptionToken(s.ctx, id, "tok", "worker-1", expiry)
	s.Require().NoError(err)
	s.True(ok)

	got, err := s.provider.GetSubscription(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("tok", got.ExternalToken)
	s.Equal("worker-1", got.ExternalWorkerID)
	s.Require().NotNil(got.ExternalTokenExpiry)
	s.sameTime(expiry.Add(-time.Second), *got.ExternalTokenExpiry)
	s.False(got.IsOpen())
}

func (s *Suite) TestSetSubscriptionToken_OverwritesWithoutComparing() {
	id := s.subscribe("approved", "A-1", base)

	_, err := s.provider.SetSubscriptionToken(s.ctx, id, "tok-1", "worker-1", base)
	s.Require().NoError(err)
	_, err = s.provider.SetSubscriptionToken(s.ctx, id, "tok-2", "worker-2", base)
	s.Require().NoError(err)

	got, err := s.provider.GetSubscription(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("tok-2", got.ExternalToken)
	s.Equal("worker-2", got.ExternalWorkerID)
}

func (s *Suite) TestSetSubscriptionToken_RejectsEmptyToken() {
	id := s.subscribe("approved", "A-1", base)

	ok, err := s.provider.SetSubscriptionToken(s.ctx, id, "", "worker-1", base.Add(time.Minute))
	s.ErrorIs(err, api.ErrEmptySubscriptionToken)
	s.ErrorIs(err, api.ErrInvalidOperation)
	s.False(ok)

	got, err := s.provider.GetSubscription(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.True(got.IsOpen())
	s.Empty(got.ExternalWorkerID)
	s.Nil(got.ExternalTokenExpiry)

	open, err := s.provider.GetFirstOpenSubscription(s.ctx, "approved", "A-1", base)
	s.Require().NoError(err)
	s.Require().NotNil(open)
	s.Equal(id, open.ID)
}

func (s *Suite) TestSubscriptionTimes_FarFuture() {
	farFuture := time.Date(9999, 6, 1, 0, 0, 0, 5, time.UTC)
	now := s.subscribe("approved", "A-1", base)
	later := s.subscribe("approved", "A-1", farFuture)

	subs, err := s.provider.GetSubscriptions(s.ctx, "approved", "A-1", base)
	s.Require().NoError(err)
	s.Require().Len(subs, 1)
	s.Equal(now, subs[0].ID)

	subs, err = s.provider.GetSubscriptions(s.ctx, "approved", "A-1", farFuture)
	s.Require().NoError(err)
	s.Require().Len(subs, 2)
	s.Equal(later, subs[1].ID)
	s.sameTime(farFuture, subs[1].SubscribeAsOf)

	_, err = s.provider.SetSubscriptionToken(s.ctx, now, "tok", "worker-1", farFuture)
	s.Require().NoError(err)
	got, err := s.provider.GetSubscription(s.ctx, now)
	s.Require().NoError(err)
	s.Require().NotNil(got.ExternalTokenExpiry)
	s.sameTime(farFuture.Add(-time.Second), *got.ExternalTokenExpiry)
}

func (s *Suite) TestSetSubscriptionToken_Missing() {
	ok, err := s.provider.SetSubscriptionToken(s.ctx, "missing", "tok", "w", base)
	s.ErrorIs(err, api.ErrSubscriptionNotFound)
	s.False(ok)
}

func (s *Suite) TestClearSubscriptionToken_WrongTokenLeavesReservation() {
	id := s.subscribe("approved", "A-1", base)
	_, err := s.provider.SetSubscriptionToken(s.ctx, id, "tok", "worker-1", base.Add(time.Minute))
	s.Require().NoError(err)

	err = s.provider.ClearSubscriptionToken(s.ctx, id, "other")
	s.ErrorIs(err, api.ErrSubscriptionTokenMismatch)
	s.ErrorIs(err, api.ErrInvalidOperation)

	got, err := s.provider.GetSubscription(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("tok", got.ExternalToken)
	s.Equal("worker-1", got.ExternalWorkerID)
	s.Require().NotNil(got.ExternalTokenExpiry)
	s.sameTime(base.Add(time.Minute-time.Second), *got.ExternalTokenExpiry)
}

func (s *Suite) TestClearSubscriptionToken_OnOpenSubscriptionFails() {
	id := s.subscribe("approved", "A-1", base)
	err := s.provider.ClearSubscriptionToken(s.ctx, id, "tok")
	s.ErrorIs(err, api.ErrSubscriptionTokenMismatch)
}

func (s *Suite) TestClearSubscriptionToken_ReopensSubscription() {
	id := s.subscribe("approved", "A-1", base)
	_, err := s.provider.SetSubscriptionToken(s.ctx, id, "tok", "worker-1", base.Add(time.Minute))
	s.Require().NoError(err)

	s.Require().NoError(s.provider.ClearSubscriptionToken(s.ctx, id, "tok"))

	got, err := s.provider.GetFirstOpenSubscription(s.ctx, "approved", "A-1", base)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(id, got.ID)
	s.Empty(got.ExternalToken)
	s.Empty(got.ExternalWorkerID)
	s.Nil(got.ExternalTokenExpiry)

	err = s.provider.ClearSubscriptionToken(s.ctx, id, "tok")
	s.ErrorIs(err, api.ErrSubscriptionTokenMismatch)
}

func (s *Suite) TestClearSubscriptionToken_Missing() {
	err := s.provider.ClearSubscriptionToken(s.ctx, "missing", "tok")
	s.ErrorIs(err, api.ErrSubscriptionNotFound)
}

// Events

func (s *Suite) publish(name, key string, when time.Time) string {
	id, err := s.provider.CreateEvent(s.ctx, &api.Event{
		EventName: name,
		EventKey:  key,
		EventData: map[string]any{"by": "alice"},
		EventTime: when,
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(id)
	return id
}

func (s *Suite) TestCreateEvent_RoundTrip() {
	id := s.publish("approved", "A-1", base)

	ev, err := s.provider.GetEvent(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(ev)
	s.Equal("approved", ev.EventName)
	s.Equal("A-1", ev.EventKey)
	s.Equal(map[string]any{"by": "alice"}, ev.EventData)
	s.sameTime(base, ev.EventTime)
	s.False(ev.IsProcessed)

	missing, err := s.provider.GetEvent(s.ctx, "missing")
	s.NoError(err)
	s.Nil(missing)
}

func (s *Suite) TestGetRunnableEvents_UnprocessedAndDue() {
	due := s.publish("approved", "A-1", base)
	exact := s.publish("approved", "A-2", base.Add(time.Minute))
	s.publish("approved", "A-3", base.Add(time.Hour))
	processed := s.publish("approved", "A-4", base)
	s.Require().NoError(s.provider.MarkEventProcessed(s.ctx, processed))

	ids, err := s.provider.GetRunnableEvents(s.ctx, base.Add(time.Minute))
	s.Require().NoError(err)
	s.ElementsMatch([]string{due, exact}, ids)

	s.Require().NoError(s.provider.MarkEventUnprocessed(s.ctx, processed))
	ids, err = s.provider.GetRunnableEvents(s.ctx, base.Add(time.Minute))
	s.Require().NoError(err)
	s.ElementsMatch([]string{due, exact, processed}, ids)
}

func (s *Suite) TestGetEvents_AtOrAfterAsOf() {
	s.publish("approved", "A-1", base.Add(-time.Minute))
	exact := s.publish("approved", "A-1", base)
	later := s.publish("approved", "A-1", base.Add(time.Minute))
	s.publish("approved", "B-1", base.Add(time.Minute))

	ids, err := s.provider.GetEvents(s.ctx, "approved", "A-1", base)
	s.Require().NoError(err)
	s.ElementsMatch([]string{exact, later}, ids)
}

func (s *Suite) TestEventTimes_FarFuture() {
	farFuture := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	due := s.publish("approved", "A-1", base)
	future := s.publish("approved", "A-1", farFuture)

	ids, err := s.provider.GetRunnableEvents(s.ctx, base.Add(time.Hour))
	s.Require().NoError(err)
	s.ElementsMatch([]string{due}, ids)

	ids, err = s.provider.GetEvents(s.ctx, "approved", "A-1", time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.ElementsMatch([]string{future}, ids)

	ev, err := s.provider.GetEvent(s.ctx, future)
	s.Require().NoError(err)
	s.sameTime(farFuture, ev.EventTime)
}

func (s *Suite) TestMarkEvent_MissingIsNoop() {
	s.NoError(s.provider.MarkEventProcessed(s.ctx, "missing"))
	s.NoError(s.provider.MarkEventUnprocessed(s.ctx, "missing"))
}

func (s *Suite) TestMarkEventProcessed_Persists() {
	id := s.publish("approved", "A-1", base)
	s.Require().NoError(s.provider.MarkEventProcessed(s.ctx, id))

	ev, err := s.provider.GetEvent(s.ctx, id)
	s.Require().NoError(err)
	s.True(ev.IsProcessed)
}

// Scheduled commands

func (s *Suite) schedule(name, data string, when time.Time) {
	s.provider.ScheduleCommand(s.ctx, &api.ScheduledCommand{CommandName: name, Data: data, ExecuteTime: when})
}

func (s *Suite) TestSupportsScheduledCommands() {
	s.True(s.provider.SupportsScheduledCommands())
}

func (s *Suite) TestProcessCommands_FailingActionKeepsOnlyThatCommand() {
	s.schedule(api.CommandProcessWorkflow, "wf-1", base)
	s.schedule(api.CommandProcessWorkflow, "wf-2", base.Add(time.Second))
	s.schedule(api.CommandProcessEvent, "ev-3", base.Add(2*time.Second))

	var seen []string
	action := func(ctx context.Context, cmd *api.ScheduledCommand) error {
		seen = append(seen, cmd.Data)
		if cmd.Data == "wf-2" {
			return errors.New("boom")
		}
		return nil
	}

	asOf := base.Add(time.Minute)
	s.Require().NoError(s.provider.ProcessCommands(s.ctx, asOf, action))
	s.Equal([]string{"wf-1", "wf-2", "ev-3"}, seen)

	seen = nil
	s.Require().NoError(s.provider.ProcessCommands(s.ctx, asOf, action))
	s.Equal([]string{"wf-2"}, seen)

	snap := s.metrics.Snapshot()
	s.Equal(int64(3), snap.CommandsScheduled)
	s.Equal(int64(2), snap.CommandsProcessed)
	s.Equal(int64(2), snap.CommandsRetained)
}

func (s *Suite) TestProcessCommands_OnlyStrictlyBeforeAsOf() {
	s.schedule(api.CommandProcessWorkflow, "early", base.Add(-time.Second))
	s.schedule(api.CommandProcessWorkflow, "exact", base)
	s.schedule(api.CommandProcessWorkflow, "later", base.Add(time.Second))

	var seen []string
	err := s.provider.ProcessCommands(s.ctx, base, func(ctx context.Context, cmd *api.ScheduledCommand) error {
		seen = append(seen, cmd.Data)
		s.Equal(api.CommandProcessWorkflow, cmd.CommandName)
		return nil
	})
	s.Require().NoError(err)
	s.Equal([]string{"early"}, seen)
}

func (s *Suite) TestProcessCommands_FarFutureWaits() {
	farFuture := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	s.schedule(api.CommandProcessWorkflow, "someday", farFuture)

	var seen []time.Time
	collect := func(ctx context.Context, cmd *api.ScheduledCommand) error {
		seen = append(seen, cmd.ExecuteTime)
		return nil
	}
	s.Require().NoError(s.provider.ProcessCommands(s.ctx, base, collect))
	s.Empty(seen)

	s.Require().NoError(s.provider.ProcessCommands(s.ctx, farFuture.Add(time.Hour), collect))
	s.Require().Len(seen, 1)
	s.sameTime(farFuture, seen[0])
}

func (s *Suite) TestScheduleCommand_DuplicateIsAbsorbed() {
	s.schedule(api.CommandProcessEvent, "ev-1", base)
	s.schedule(api.CommandProcessEvent, "ev-1", base.Add(time.Second))

	snap := s.metrics.Snapshot()
	s.Equal(int64(1), snap.CommandsScheduled)
	s.Equal(int64(1), snap.CommandsRejected)

	count := 0
	err := s.provider.ProcessCommands(s.ctx, base.Add(time.Minute), func(ctx context.Context, cmd *api.ScheduledCommand) error {
		count++
		s.sameTime(base, cmd.ExecuteTime)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *Suite) TestProcessCommands_StopsOnCancellation() {
	s.schedule(api.CommandProcessWorkflow, "a", base)
	s.schedule(api.CommandProcessWorkflow, "b", base.Add(time.Second))

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	var seen []string
	err := s.provider.ProcessCommands(ctx, base.Add(time.Minute), func(ctx context.Context, cmd *api.ScheduledCommand) error {
		seen = append(seen, cmd.Data)
		cancel()
		return errors.New("interrupted")
	})
	s.ErrorIs(err, context.Canceled)
	s.Equal([]string{"a"}, seen)

	seen = nil
	s.Require().NoError(s.provider.ProcessCommands(s.ctx, base.Add(time.Minute), func(ctx context.Context, cmd *api.ScheduledCommand) error {
		seen = append(seen, cmd.Data)
		return nil
	}))
	s.Equal([]string{"a", "b"}, seen)
}

// Errors

func (s *Suite) TestPersistErrors() {
	s.NoError(s.provider.PersistErrors(s.ctx, nil))
	s.NoError(s.provider.PersistErrors(s.ctx, []*api.ExecutionError{}))
	s.NoError(s.provider.PersistErrors(s.ctx, []*api.ExecutionError{
		{WorkflowID: "wf-1", ExecutionPointerID: "ep-1", ErrorTime: base, Message: "step failed"},
		{WorkflowID: "wf-1", ErrorTime: base.Add(time.Second), Message: "again"},
	}))
}

func (s *Suite) TestEnsureStoreExists_IsIdempotent() {
	s.NoError(s.provider.EnsureStoreExists(s.ctx))
	s.NoError(s.provider.EnsureStoreExists(s.ctx))
}
