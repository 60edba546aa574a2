package api

import "time"

// WorkflowInstance is the aggregate root persisted by a provider. Its
// execution pointers (and their extension attributes) are always loaded and
// saved together with it.
type WorkflowInstance struct {
	ID                   string
	WorkflowDefinitionID string
	Version              int
	Description          string
	Reference            string

	ExecutionPointers []*ExecutionPointer

	// NextExecution is nil when the instance must never be picked up by
	// GetRunnableInstances.
	NextExecution *time.Time
	Status        WorkflowStatus
	Data          any

	CreateTime   time.Time
	CompleteTime *time.Time
}

// ExecutionPointer records where in its step graph an instance currently is.
// It is opaque to providers beyond storage.
type ExecutionPointer struct {
	ID              string
	StepID          int
	Active          bool
	SleepUntil      *time.Time
	PersistenceData any
	StartTime       *time.Time
	EndTime         *time.Time
	EventName       string
	EventKey        string
	EventPublished  bool
	EventData       any
	StepName        string
	RetryCount      int
	Children        []string
	ContextItem     any
	PredecessorID   string
	Outcome         any
	Status          PointerStatus
	Scope           []string

	ExtensionAttributes map[string]any
}

// EventSubscription registers that a workflow is waiting for an event
// matching (EventName, EventKey). A subscription is open while ExternalToken
// is empty; a worker claims it by setting the reservation triple.
type EventSubscription struct {
	ID                 string
	WorkflowID         string
	StepID             int
	ExecutionPointerID string
	EventName          string
	EventKey           string
	SubscribeAsOf      time.Time
	SubscriptionData   any

	ExternalToken       string
	ExternalWorkerID    string
	ExternalTokenExpiry *time.Time
}

// IsOpen reports whether no worker currently holds a reservation.
func (s *EventSubscription) IsOpen() bool {
	return s.ExternalToken == ""
}

// Event is an externally published event waiting to be matched against
// subscriptions.
type Event struct {
	ID          string
	EventName   string
	EventKey    string
	EventData   any
	EventTime   time.Time
	IsProcessed bool
}

// Command names understood by the host engine.
const (
	CommandProcessWorkflow = "ProcessWorkflow"
	CommandProcessEvent    = "ProcessEvent"
)

// ScheduledCommand is a deferred action drained by ProcessCommands once its
// ExecuteTime has passed.
type ScheduledCommand struct {
	CommandName string
	Data        string
	ExecuteTime time.Time
}

// ExecutionError is an append-only record of a step failure.
type ExecutionError struct {
	WorkflowID         string
	ExecutionPointerID string
	ErrorTime          time.Time
	Message            string
}

// InstanceFilter selects workflow instances for GetWorkflowInstances.
// Zero-valued fields mean "no filter"; all supplied filters are AND-ed.
type InstanceFilter struct {
	Status      *WorkflowStatus
	Type        string
	CreatedFrom *time.Time
	CreatedTo   *time.Time

	Skip int
	Take int
}
