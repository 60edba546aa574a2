package persistence

import (
	"database/sql"

	"github.com/petrijr/wfstore/pkg/api"
)

const (
	workflowColumns = `persistence_id, instance_id, workflow_definition_id, version, description, reference,
		next_execution, status, data, create_time, complete_time`

	pointerColumns = `persistence_id, instance_id, ordinal, pointer_id, step_id, active, sleep_until,
		persistence_data, start_time, end_time, event_name, event_key, event_published, event_data,
		step_name, retry_count, children, context_item, predecessor_id, outcome, status, scope`

	attributeColumns = `instance_id, pointer_id, attribute_key, attribute_value`

	subscriptionColumns = `persistence_id, subscription_id, workflow_id, step_id, execution_pointer_id,
		event_name, event_key, subscribe_as_of, subscription_data, external_token, external_worker_id,
		external_token_expiry`

	eventColumns = `persistence_id, event_id, event_name, event_key, event_data, event_time, is_processed`
)

type workflowRow struct {
	PersistenceID        int64          `db:"persistence_id"`
	InstanceID           string         `db:"instance_id"`
	WorkflowDefinitionID string         `db:"workflow_definition_id"`
	Version              int            `db:"version"`
	Description          sql.NullString `db:"description"`
	Reference            sql.NullString `db:"reference"`
	NextExecution        *stamp         `db:"next_execution"`
	Status               int            `db:"status"`
	Data                 []byte         `db:"data"`
	CreateTime           stamp          `db:"create_time"`
	CompleteTime         *stamp         `db:"complete_time"`
}

func newWorkflowRow(wf *api.WorkflowInstance) (workflowRow, error) {
	data, err := EncodeValue(wf.Data)
	if err != nil {
		return workflowRow{}, err
	}
	return workflowRow{
		InstanceID:           wf.ID,
		WorkflowDefinitionID: wf.WorkflowDefinitionID,
		Version:              wf.Version,
		Description:          nullString(wf.Description),
		Reference:            nullString(wf.Reference),
		NextExecution:        toStampPtr(wf.NextExecution),
		Status:               int(wf.Status),
		Data:                 data,
		CreateTime:           toStamp(wf.CreateTime),
		CompleteTime:         toStampPtr(wf.CompleteTime),
	}, nil
}

func (r workflowRow) toInstance() (*api.WorkflowInstance, error) {
	data, err := DecodeValue[any](r.Data)
	if err != nil {
		return nil, err
	}
	var ts stampReader
	wf := &api.WorkflowInstance{
		ID:                   r.InstanceID,
		WorkflowDefinitionID: r.WorkflowDefinitionID,
		Version:              r.Version,
		Description:          r.Description.String,
		Reference:            r.Reference.String,
		NextExecution:        ts.ptr(r.NextExecution),
		Status:               api.WorkflowStatus(r.Status),
		Data:                 data,
		CreateTime:           ts.time(r.CreateTime),
		CompleteTime:         ts.ptr(r.CompleteTime),
	}
	if ts.err != nil {
		return nil, ts.err
	}
	return wf, nil
}

type pointerRow struct {
	PersistenceID   int64          `db:"persistence_id"`
	InstanceID      string         `db:"instance_id"`
	Ordinal         int            `db:"ordinal"`
	PointerID       string         `db:"pointer_id"`
	StepID          int            `db:"step_id"`
	Active          bool           `db:"active"`
	SleepUntil      *stamp         `db:"sleep_until"`
	PersistenceData []byte         `db:"persistence_data"`
	StartTime       *stamp         `db:"start_time"`
	EndTime         *stamp         `db:"end_time"`
	EventName       sql.NullString `db:"event_name"`
	EventKey        sql.NullString `db:"event_key"`
	EventPublished  bool           `db:"event_published"`
	EventData       []byte         `db:"event_data"`
	StepName        sql.NullString `db:"step_name"`
	RetryCount      int            `db:"retry_count"`
	Children        []byte         `db:"children"`
	ContextItem     []byte         `db:"context_item"`
	PredecessorID   sql.NullString `db:"predecessor_id"`
	Outcome         []byte         `db:"outcome"`
	Status          int            `db:"status"`
	Scope           []byte         `db:"scope"`
}

func newPointerRow(instanceID string, ordinal int, ep *api.ExecutionPointer) (pointerRow, error) {
	row := pointerRow{
		InstanceID:     instanceID,
		Ordinal:        ordinal,
		PointerID:      ep.ID,
		StepID:         ep.StepID,
		Active:         ep.Active,
		SleepUntil:     toStampPtr(ep.SleepUntil),
		StartTime:      toStampPtr(ep.StartTime),
		EndTime:        toStampPtr(ep.EndTime),
		EventName:      nullString(ep.EventName),
		EventKey:       nullString(ep.EventKey),
		EventPublished: ep.EventPublished,
		StepName:       nullString(ep.StepName),
		RetryCount:     ep.RetryCount,
		PredecessorID:  nullString(ep.PredecessorID),
		Status:         int(ep.Status),
	}

	var err error
	if row.PersistenceData, err = EncodeValue(ep.PersistenceData); err != nil {
		return row, err
	}
	if row.EventData, err = EncodeValue(ep.EventData); err != nil {
		return row, err
	}
	if row.ContextItem, err = EncodeValue(ep.ContextItem); err != nil {
		return row, err
	}
	if row.Outcome, err = EncodeValue(ep.Outcome); err != nil {
		return row, err
	}
	if row.Children, err = encodeStrings(ep.Children); err != nil {
		return row, err
	}
	if row.Scope, err = encodeStrings(ep.Scope); err != nil {
		return row, err
	}
	return row, nil
}

func (r pointerRow) toPointer() (*api.ExecutionPointer, error) {
	var ts stampReader
	ep := &api.ExecutionPointer{
		ID:             r.PointerID,
		StepID:         r.StepID,
		Active:         r.Active,
		SleepUntil:     ts.ptr(r.SleepUntil),
		StartTime:      ts.ptr(r.StartTime),
		EndTime:        ts.ptr(r.EndTime),
		EventName:      r.EventName.String,
		EventKey:       r.EventKey.String,
		EventPublished: r.EventPublished,
		StepName:       r.StepName.String,
		RetryCount:     r.RetryCount,
		PredecessorID:  r.PredecessorID.String,
		Status:         api.PointerStatus(r.Status),
	}
	if ts.err != nil {
		return nil, ts.err
	}

	var err error
	if ep.PersistenceData, err = DecodeValue[any](r.PersistenceData); err != nil {
		return nil, err
	}
	if ep.EventData, err = DecodeValue[any](r.EventData); err != nil {
		return nil, err
	}
	if ep.ContextItem, err = DecodeValue[any](r.ContextItem); err != nil {
		return nil, err
	}
	if ep.Outcome, err = DecodeValue[any](r.Outcome); err != nil {
		return nil, err
	}
	if ep.Children, err = decodeStrings(r.Children); err != nil {
		return nil, err
	}
	if ep.Scope, err = decodeStrings(r.Scope); err != nil {
		return nil, err
	}
	return ep, nil
}

type attributeRow struct {
	InstanceID string `db:"instance_id"`
	PointerID  string `db:"pointer_id"`
	Key        string `db:"attribute_key"`
	Value      []byte `db:"attribute_value"`
}

type subscriptionRow struct {
	PersistenceID       int64          `db:"persistence_id"`
	SubscriptionID      string         `db:"subscription_id"`
	WorkflowID          string         `db:"workflow_id"`
	StepID              int            `db:"step_id"`
	ExecutionPointerID  sql.NullString `db:"execution_pointer_id"`
	EventName           string         `db:"event_name"`
	EventKey            string         `db:"event_key"`
	SubscribeAsOf       stamp          `db:"subscribe_as_of"`
	SubscriptionData    []byte         `db:"subscription_data"`
	ExternalToken       sql.NullString `db:"external_token"`
	ExternalWorkerID    sql.NullString `db:"external_worker_id"`
	ExternalTokenExpiry *stamp         `db:"external_token_expiry"`
}

func newSubscriptionRow(sub *api.EventSubscription) (subscriptionRow, error) {
	data, err := EncodeValue(sub.SubscriptionData)
	if err != nil {
		return subscriptionRow{}, err
	}
	return subscriptionRow{
		SubscriptionID:      sub.ID,
		WorkflowID:          sub.WorkflowID,
		StepID:              sub.StepID,
		ExecutionPointerID:  nullString(sub.ExecutionPointerID),
		EventName:           sub.EventName,
		EventKey:            sub.EventKey,
		SubscribeAsOf:       toStamp(sub.SubscribeAsOf),
		SubscriptionData:    data,
		ExternalToken:       nullString(sub.ExternalToken),
		ExternalWorkerID:    nullString(sub.ExternalWorkerID),
		ExternalTokenExpiry: toStampPtr(sub.ExternalTokenExpiry),
	}, nil
}

func (r subscriptionRow) toSubscription() (*api.EventSubscription, error) {
	data, err := DecodeValue[any](r.SubscriptionData)
	if err != nil {
		return nil, err
	}
	var ts stampReader
	sub := &api.EventSubscription{
		ID:                  r.SubscriptionID,
		WorkflowID:          r.WorkflowID,
		StepID:              r.StepID,
		ExecutionPointerID:  r.ExecutionPointerID.String,
		EventName:           r.EventName,
		EventKey:            r.EventKey,
		SubscribeAsOf:       ts.time(r.SubscribeAsOf),
		SubscriptionData:    data,
		ExternalToken:       r.ExternalToken.String,
		ExternalWorkerID:    r.ExternalWorkerID.String,
		ExternalTokenExpiry: ts.ptr(r.ExternalTokenExpiry),
	}
	if ts.err != nil {
		return nil, ts.err
	}
	return sub, nil
}

type eventRow struct {
	PersistenceID int64  `db:"persistence_id"`
	EventID       string `db:"event_id"`
	EventName     string `db:"event_name"`
	EventKey      string `db:"event_key"`
	EventData     []byte `db:"event_data"`
	EventTime     stamp  `db:"event_time"`
	IsProcessed   bool   `db:"is_processed"`
}

func newEventRow(ev *api.Event) (eventRow, error) {
	data, err := EncodeValue(ev.EventData)
	if err != nil {
		return eventRow{}, err
	}
	return eventRow{
		EventID:     ev.ID,
		EventName:   ev.EventName,
		EventKey:    ev.EventKey,
		EventData:   data,
		EventTime:   toStamp(ev.EventTime),
		IsProcessed: ev.IsProcessed,
	}, nil
}

func (r eventRow) toEvent() (*api.Event, error) {
	data, err := DecodeValue[any](r.EventData)
	if err != nil {
		return nil, err
	}
	var ts stampReader
	ev := &api.Event{
		ID:          r.EventID,
		EventName:   r.EventName,
		EventKey:    r.EventKey,
		EventData:   data,
		EventTime:   ts.time(r.EventTime),
		IsProcessed: r.IsProcessed,
	}
	if ts.err != nil {
		return nil, ts.err
	}
	return ev, nil
}

type commandRow struct {
	PersistenceID int64  `db:"persistence_id"`
	CommandName   string `db:"command_name"`
	Data          string `db:"data"`
	ExecuteTime   stamp  `db:"execute_time"`
}

type errorRow struct {
	WorkflowID         string         `db:"workflow_id"`
	ExecutionPointerID sql.NullString `db:"execution_pointer_id"`
	ErrorTime          stamp          `db:"error_time"`
	Message            sql.NullString `db:"message"`
}
