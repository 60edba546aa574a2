package api

import (
	"fmt"
	"strings"
)

// WorkflowStatus is the lifecycle state of a workflow instance.
// The value is owned by the host engine; providers only store and query it.
type WorkflowStatus int

const (
	WorkflowStatusRunnable WorkflowStatus = iota
	WorkflowStatusSuspended
	WorkflowStatusComplete
	WorkflowStatusTerminated
)

var workflowStatusNames = map[WorkflowStatus]string{
	WorkflowStatusRunnable:   "Runnable",
	WorkflowStatusSuspended:  "Suspended",
	WorkflowStatusComplete:   "Complete",
	WorkflowStatusTerminated: "Terminated",
}

func (s WorkflowStatus) String() string {
	if name, ok := workflowStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("WorkflowStatus(%d)", int(s))
}

// ParseWorkflowStatus accepts either the status name (case-insensitive) or
// its numeric value.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	s = strings.TrimSpace(s)
	for st, name := range workflowStatusNames {
		if strings.EqualFold(name, s) || fmt.Sprint(int(st)) == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown workflow status %q", s)
}

// PointerStatus is the state of a single execution pointer.
type PointerStatus int

const (
	PointerStatusLegacy PointerStatus = iota
	PointerStatusPending
	PointerStatusRunning
	PointerStatusComplete
	PointerStatusSleeping
	PointerStatusWaitingForEvent
	PointerStatusFailed
	PointerStatusCompensated
	PointerStatusCancelled
	PointerStatusPendingPredecessor
)

func (s PointerStatus) String() string {
	switch s {
	case PointerStatusLegacy:
		return "Legacy"
	case PointerStatusPending:
		return "Pending"
	case PointerStatusRunning:
		return "Running"
	case PointerStatusComplete:
		return "Complete"
	case PointerStatusSleeping:
		return "Sleeping"
	case PointerStatusWaitingForEvent:
		return "WaitingForEvent"
	case PointerStatusFailed:
		return "Failed"
	case PointerStatusCompensated:
		return "Compensated"
	case PointerStatusCancelled:
		return "Cancelled"
	case PointerStatusPendingPredecessor:
		return "PendingPredecessor"
	default:
		return fmt.Sprintf("PointerStatus(%d)", int(s))
	}
}
