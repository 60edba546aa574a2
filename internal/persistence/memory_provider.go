package persistence

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/wfstore/pkg/api"
)

// InMemoryProvider is a goroutine-safe PersistenceProvider backed by maps.
// Values are copied on the way in and out, so callers never share state
// with the store. Opaque payloads are copied by reference.
type InMemoryProvider struct {
	mu   sync.RWMutex
	seq  int64
	opts options

	workflows     map[string]*memWorkflow
	subscriptions map[string]*memSubscription
	events        map[string]*memEvent
	commands      map[commandKey]*memCommand
	errors        []api.ExecutionError
}

type memWorkflow struct {
	seq int64
	wf  *api.WorkflowInstance
}

type memSubscription struct {
	seq int64
	sub api.EventSubscription
}

type memEvent struct {
	seq int64
	ev  api.Event
}

type commandKey struct {
	name string
	data string
}

type memCommand struct {
	seq int64
	cmd api.ScheduledCommand
}

// Ensure InMemoryProvider implements PersistenceProvider.
var _ api.PersistenceProvider = (*InMemoryProvider)(nil)

// NewInMemoryProvider creates an empty InMemoryProvider.
func NewInMemoryProvider(opts ...Option) *InMemoryProvider {
	return &InMemoryProvider{
		opts:          buildOptions(opts),
		workflows:     make(map[string]*memWorkflow),
		subscriptions: make(map[string]*memSubscription),
		events:        make(map[string]*memEvent),
		commands:      make(map[commandKey]*memCommand),
	}
}

func (s *InMemoryProvider) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *InMemoryProvider) EnsureStoreExists(ctx context.Context) error {
	return nil
}

func (s *InMemoryProvider) CreateNewWorkflow(ctx context.Context, wf *api.WorkflowInstance) (string, error) {
	s.mu.Lock()
	id := s.opts.newID()
	if _, exists := s.workflows[id]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: workflow instance %q", api.ErrDuplicateID, id)
	}
	wf.ID = id
	if wf.CreateTime.IsZero() {
		wf.CreateTime = s.opts.now().UTC()
	}
	for _, ep := range wf.ExecutionPointers {
		if ep.ID == "" {
			ep.ID = s.opts.newID()
		}
	}
	s.workflows[id] = &memWorkflow{seq: s.nextSeq(), wf: cloneInstance(wf)}
	s.mu.Unlock()

	s.opts.observer.OnWorkflowCreated(ctx, wf)
	return id, nil
}

func (s *InMemoryProvider) PersistWorkflow(ctx context.Context, wf *api.WorkflowInstance) error {
	return s.PersistWorkflowWithSubscriptions(ctx, wf, nil)
}

// PersistWorkflowWithSubscriptions validates the whole write before applying
// any of it, so a failure leaves the store untouched.
func (s *InMemoryProvider) PersistWorkflowWithSubscriptions(ctx context.Context, wf *api.WorkflowInstance, subs []*api.EventSubscription) error {
	s.mu.Lock()

	stored, ok := s.workflows[wf.ID]
	if !ok {
		s.mu.Unlock()
		return api.ErrWorkflowNotFound
	}

	ids := make([]string, len(subs))
	seen := make(map[string]bool, len(subs))
	for i := range subs {
		id := s.opts.newID()
		if _, exists := s.subscriptions[id]; exists || seen[id] {
			s.mu.Unlock()
			return fmt.Errorf("%w: event subscription %q", api.ErrDuplicateID, id)
		}
		seen[id] = true
		ids[i] = id
	}

	for _, ep := range wf.ExecutionPointers {
		if ep.ID == "" {
			ep.ID = s.opts.newID()
		}
	}
	stored.wf = cloneInstance(wf)
	for i, sub := range subs {
		sub.ID = ids[i]
		s.subscriptions[sub.ID] = &memSubscription{seq: s.nextSeq(), sub: cloneSubscription(sub)}
	}
	s.mu.Unlock()

	s.opts.observer.OnWorkflowPersisted(ctx, wf, len(subs))
	return nil
}

func (s *InMemoryProvider) GetRunnableInstances(ctx context.Context, asAt time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, m := range s.workflows {
		if m.wf.Status != api.WorkflowStatusRunnable || m.wf.NextExecution == nil {
			continue
		}
		if !m.wf.NextExecution.After(asAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *InMemoryProvider) GetWorkflowInstances(ctx context.Context, filter api.InstanceFilter) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*memWorkflow
	for _, m := range s.workflows {
		wf := m.wf
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		if filter.Type != "" && wf.WorkflowDefinitionID != filter.Type {
			continue
		}
		if filter.CreatedFrom != nil && wf.CreateTime.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && wf.CreateTime.After(*filter.CreatedTo) {
			continue
		}
		matched = append(matched, m)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.wf.CreateTime.Equal(b.wf.CreateTime) {
			return a.wf.CreateTime.Before(b.wf.CreateTime)
		}
		return a.seq < b.seq
	})

	if filter.Skip > 0 {
		if filter.Skip >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Skip:]
	}
	if filter.Take > 0 && filter.Take < len(matched) {
		matched = matched[:filter.Take]
	}

	out := make([]*api.WorkflowInstance, 0, len(matched))
	for _, m := range matched {
		out = append(out, cloneInstance(m.wf))
	}
	return out, nil
}

func (s *InMemoryProvider) GetWorkflowInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	return cloneInstance(m.wf), nil
}

func (s *InMemoryProvider) GetWorkflowInstancesByIDs(ctx context.Context, ids []string) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.WorkflowInstance
	for _, id := range ids {
		if m, ok := s.workflows[id]; ok {
			out = append(out, cloneInstance(m.wf))
		}
	}
	return out, nil
}

func (s *InMemoryProvider) CreateEventSubscription(ctx context.Context, sub *api.EventSubscription) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.opts.newID()
	if _, exists := s.subscriptions[id]; exists {
		return "", fmt.Errorf("%w: event subscription %q", api.ErrDuplicateID, id)
	}
	sub.ID = id
	s.subscriptions[id] = &memSubscription{seq: s.nextSeq(), sub: cloneSubscription(sub)}
	return id, nil
}

// matchingSubscriptions returns subscriptions for the key in creation order.
// Callers must hold s.mu.
func (s *InMemoryProvider) matchingSubscriptions(eventName, eventKey string, asOf time.Time) []*memSubscription {
	var out []*memSubscription
	for _, m := range s.subscriptions {
		if m.sub.EventName == eventName && m.sub.EventKey == eventKey && !m.sub.SubscribeAsOf.After(asOf) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *InMemoryProvider) GetSubscriptions(ctx context.Context, eventName, eventKey string, asOf time.Time) ([]*api.EventSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchingSubscriptions(eventName, eventKey, asOf)
	out := make([]*api.EventSubscription, 0, len(matched))
	for _, m := range matched {
		sub := cloneSubscription(&m.sub)
		out = append(out, &sub)
	}
	return out, nil
}

func (s *InMemoryProvider) TerminateSubscription(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subscriptions, id)
	return nil
}

func (s *InMemoryProvider) GetSubscription(ctx context.Context, id string) (*api.EventSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.subscriptions[id]
	if !ok {
		return nil, nil
	}
	sub := cloneSubscription(&m.sub)
	return &sub, nil
}

func (s *InMemoryProvider) GetFirstOpenSubscription(ctx context.Context, eventName, eventKey string, asOf time.Time) (*api.EventSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.matchingSubscriptions(eventName, eventKey, asOf) {
		if m.sub.IsOpen() {
			sub := cloneSubscription(&m.sub)
			return &sub, nil
		}
	}
	return nil, nil
}

func (s *InMemoryProvider) SetSubscriptionToken(ctx context.Context, id, token, workerID string, expiry time.Time) (bool, error) {
	if token == "" {
		return false, api.ErrEmptySubscriptionToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.subscriptions[id]
	if !ok {
		return false, api.ErrSubscriptionNotFound
	}
	stored := expiry.Add(-time.Second).UTC()
	m.sub.ExternalToken = token
	m.sub.ExternalWorkerID = workerID
	m.sub.ExternalTokenExpiry = &stored
	return true, nil
}

func (s *InMemoryProvider) ClearSubscriptionToken(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.subscriptions[id]
	if !ok {
		return api.ErrSubscriptionNotFound
	}
	if m.sub.ExternalToken == "" || m.sub.ExternalToken != token {
		return api.ErrSubscriptionTokenMismatch
	}
	m.sub.ExternalToken = ""
	m.sub.ExternalWorkerID = ""
	m.sub.ExternalTokenExpiry = nil
	return nil
}

func (s *InMemoryProvider) CreateEvent(ctx context.Context, ev *api.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.opts.newID()
	if _, exists := s.events[id]; exists {
		return "", fmt.Errorf("%w: event %q", api.ErrDuplicateID, id)
	}
	ev.ID = id
	stored := *ev
	stored.EventTime = ev.EventTime.UTC()
	s.events[id] = &memEvent{seq: s.nextSeq(), ev: stored}
	return id, nil
}

func (s *InMemoryProvider) GetEvent(ctx context.Context, id string) (*api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	ev := m.ev
	return &ev, nil
}

func (s *InMemoryProvider) selectEvents(match func(ev *api.Event) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*memEvent
	for _, m := range s.events {
		if match(&m.ev) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ev.EventTime.Equal(matched[j].ev.EventTime) {
			return matched[i].ev.EventTime.Before(matched[j].ev.EventTime)
		}
		return matched[i].seq < matched[j].seq
	})

	ids := make([]string, len(matched))
	for i, m := range matched {
		ids[i] = m.ev.ID
	}
	return ids
}

func (s *InMemoryProvider) GetRunnableEvents(ctx context.Context, asAt time.Time) ([]string, error) {
	return s.selectEvents(func(ev *api.Event) bool {
		return !ev.IsProcessed && !ev.EventTime.After(asAt)
	}), nil
}

func (s *InMemoryProvider) GetEvents(ctx context.Context, eventName, eventKey string, asOf time.Time) ([]string, error) {
	return s.selectEvents(func(ev *api.Event) bool {
		return ev.EventName == eventName && ev.EventKey == eventKey && !ev.EventTime.Before(asOf)
	}), nil
}

func (s *InMemoryProvider) MarkEventProcessed(ctx context.Context, id string) error {
	s.setEventProcessed(id, true)
	return nil
}

func (s *InMemoryProvider) MarkEventUnprocessed(ctx context.Context, id string) error {
	s.setEventProcessed(id, false)
	return nil
}

func (s *InMemoryProvider) setEventProcessed(id string, processed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.events[id]; ok {
		m.ev.IsProcessed = processed
	}
}

func (s *InMemoryProvider) SupportsScheduledCommands() bool {
	return true
}

// ScheduleCommand rejects a duplicate (name, data) pair the same way the
// relational unique key does.
func (s *InMemoryProvider) ScheduleCommand(ctx context.Context, cmd *api.ScheduledCommand) {
	s.mu.Lock()
	key := commandKey{name: cmd.CommandName, data: cmd.Data}
	var err error
	if _, exists := s.commands[key]; exists {
		err = fmt.Errorf("scheduled command %s(%s) already exists", cmd.CommandName, cmd.Data)
	} else {
		stored := *cmd
		stored.ExecuteTime = cmd.ExecuteTime.UTC()
		s.commands[key] = &memCommand{seq: s.nextSeq(), cmd: stored}
	}
	s.mu.Unlock()

	reportScheduleResult(ctx, s.opts, cmd, err)
}

func (s *InMemoryProvider) ProcessCommands(ctx context.Context, asOf time.Time, action api.CommandAction) error {
	s.mu.RLock()
	var snapshot []*memCommand
	for _, m := range s.commands {
		if m.cmd.ExecuteTime.Before(asOf) {
			snapshot = append(snapshot, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		a, b := snapshot[i], snapshot[j]
		if !a.cmd.ExecuteTime.Equal(b.cmd.ExecuteTime) {
			return a.cmd.ExecuteTime.Before(b.cmd.ExecuteTime)
		}
		return a.seq < b.seq
	})

	due := make([]dueCommand[int64], len(snapshot))
	for i, m := range snapshot {
		cmd := m.cmd
		due[i] = dueCommand[int64]{key: m.seq, cmd: &cmd}
	}

	return sweepCommands(ctx, s.opts, due, action, func(ctx context.Context, seq int64) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for key, m := range s.commands {
			if m.seq == seq {
				delete(s.commands, key)
				break
			}
		}
		return nil
	})
}

func (s *InMemoryProvider) PersistErrors(ctx context.Context, errs []*api.ExecutionError) error {
	if len(errs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range errs {
		s.errors = append(s.errors, *e)
	}
	return nil
}

// ExecutionErrors returns a copy of every error recorded by PersistErrors.
func (s *InMemoryProvider) ExecutionErrors() []api.ExecutionError {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.errors)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

func cloneInstance(wf *api.WorkflowInstance) *api.WorkflowInstance {
	c := *wf
	c.CreateTime = wf.CreateTime.UTC()
	c.NextExecution = cloneTime(wf.NextExecution)
	c.CompleteTime = cloneTime(wf.CompleteTime)
	c.ExecutionPointers = make([]*api.ExecutionPointer, len(wf.ExecutionPointers))
	for i, ep := range wf.ExecutionPointers {
		c.ExecutionPointers[i] = clonePointer(ep)
	}
	return &c
}

func clonePointer(ep *api.ExecutionPointer) *api.ExecutionPointer {
	c := *ep
	c.SleepUntil = cloneTime(ep.SleepUntil)
	c.StartTime = cloneTime(ep.StartTime)
	c.EndTime = cloneTime(ep.EndTime)
	c.Children = slices.Clone(ep.Children)
	c.Scope = slices.Clone(ep.Scope)
	c.ExtensionAttributes = maps.Clone(ep.ExtensionAttributes)
	if c.ExtensionAttributes == nil {
		c.ExtensionAttributes = make(map[string]any)
	}
	return &c
}

func cloneSubscription(sub *api.EventSubscription) api.EventSubscription {
	c := *sub
	c.SubscribeAsOf = sub.SubscribeAsOf.UTC()
	c.ExternalTokenExpiry = cloneTime(sub.ExternalTokenExpiry)
	return c
}
