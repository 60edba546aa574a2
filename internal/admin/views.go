package admin

import (
	"time"

	"github.com/petrijr/wfstore/pkg/api"
)

type workflowView struct {
	ID                   string        `json:"id"`
	WorkflowDefinitionID string        `json:"workflow_definition_id"`
	Version              int           `json:"version"`
	Description          string        `json:"description,omitempty"`
	Reference            string        `json:"reference,omitempty"`
	Status               string        `json:"status"`
	NextExecution        *time.Time    `json:"next_execution,omitempty"`
	CreateTime           time.Time     `json:"create_time"`
	CompleteTime         *time.Time    `json:"complete_time,omitempty"`
	Data                 any           `json:"data,omitempty"`
	ExecutionPointers    []pointerView `json:"execution_pointers"`
}

type pointerView struct {
	ID                  string         `json:"id"`
	StepID              int            `json:"step_id"`
	StepName            string         `json:"step_name,omitempty"`
	Active              bool           `json:"active"`
	Status              string         `json:"status"`
	RetryCount          int            `json:"retry_count"`
	SleepUntil          *time.Time     `json:"sleep_until,omitempty"`
	StartTime           *time.Time     `json:"start_time,omitempty"`
	EndTime             *time.Time     `json:"end_time,omitempty"`
	EventName           string         `json:"event_name,omitempty"`
	EventKey            string         `json:"event_key,omitempty"`
	EventPublished      bool           `json:"event_published"`
	PredecessorID       string         `json:"predecessor_id,omitempty"`
	Children            []string       `json:"children,omitempty"`
	Scope               []string       `json:"scope,omitempty"`
	Outcome             any            `json:"outcome,omitempty"`
	ExtensionAttributes map[string]any `json:"extension_attributes,omitempty"`
}

type subscriptionView struct {
	ID                  string     `json:"id"`
	WorkflowID          string     `json:"workflow_id"`
	StepID              int        `json:"step_id"`
	ExecutionPointerID  string     `json:"execution_pointer_id,omitempty"`
	EventName           string     `json:"event_name"`
	EventKey            string     `json:"event_key"`
	SubscribeAsOf       time.Time  `json:"subscribe_as_of"`
	Open                bool       `json:"open"`
	ExternalWorkerID    string     `json:"external_worker_id,omitempty"`
	ExternalTokenExpiry *time.Time `json:"external_token_expiry,omitempty"`
}

type eventView struct {
	ID          string    `json:"id"`
	EventName   string    `json:"event_name"`
	EventKey    string    `json:"event_key"`
	EventData   any       `json:"event_data,omitempty"`
	EventTime   time.Time `json:"event_time"`
	IsProcessed bool      `json:"is_processed"`
}

func newWorkflowView(wf *api.WorkflowInstance) workflowView {
	v := workflowView{
		ID:                   wf.ID,
		WorkflowDefinitionID: wf.WorkflowDefinitionID,
		Version:              wf.Version,
		Description:          wf.Description,
		Reference:            wf.Reference,
		Status:               wf.Status.String(),
		NextExecution:        wf.NextExecution,
		CreateTime:           wf.CreateTime,
		CompleteTime:         wf.CompleteTime,
		Data:                 wf.Data,
		ExecutionPointers:    make([]pointerView, 0, len(wf.ExecutionPointers)),
	}
	for _, ep := range wf.ExecutionPointers {
		v.ExecutionPointers = append(v.ExecutionPointers, pointerView{
			ID:                  ep.ID,
			StepID:              ep.StepID,
			StepName:            ep.StepName,
			Active:              ep.Active,
			Status:              ep.Status.String(),
			RetryCount:          ep.RetryCount,
			SleepUntil:          ep.SleepUntil,
			StartTime:           ep.StartTime,
			EndTime:             ep.EndTime,
			EventName:           ep.EventName,
			EventKey:            ep.EventKey,
			EventPublished:      ep.EventPublished,
			PredecessorID:       ep.PredecessorID,
			Children:            ep.Children,
			Scope:               ep.Scope,
			Outcome:             ep.Outcome,
			ExtensionAttributes: ep.ExtensionAttributes,
		})
	}
	return v
}

// The reservation token itself is never exposed.
func newSubscriptionView(sub *api.EventSubscription) subscriptionView {
	return subscriptionView{
		ID:                  sub.ID,
		WorkflowID:          sub.WorkflowID,
		StepID:              sub.StepID,
		ExecutionPointerID:  sub.ExecutionPointerID,
		EventName:           sub.EventName,
		EventKey:            sub.EventKey,
		SubscribeAsOf:       sub.SubscribeAsOf,
		Open:                sub.IsOpen(),
		ExternalWorkerID:    sub.ExternalWorkerID,
		ExternalTokenExpiry: sub.ExternalTokenExpiry,
	}
}

func newEventView(ev *api.Event) eventView {
	return eventView{
		ID:          ev.ID,
		EventName:   ev.EventName,
		EventKey:    ev.EventKey,
		EventData:   ev.EventData,
		EventTime:   ev.EventTime,
		IsProcessed: ev.IsProcessed,
	}
}
