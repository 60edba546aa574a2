package api

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound is returned by writes that require an existing
	// workflow instance.
	ErrWorkflowNotFound = errors.New("workflow instance not found")

	// ErrSubscriptionNotFound is returned by writes that require an existing
	// event subscription.
	ErrSubscriptionNotFound = errors.New("event subscription not found")

	// ErrDuplicateID is returned when a create would reuse the identifier of
	// a stored record. The backend's own error stays in the chain.
	ErrDuplicateID = errors.New("identifier already in use")

	// ErrInvalidOperation signals a violated precondition.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrSubscriptionTokenMismatch is returned by ClearSubscriptionToken when
	// the presented token is not the one currently stored.
	ErrSubscriptionTokenMismatch = fmt.Errorf("%w: subscription token mismatch", ErrInvalidOperation)

	// ErrEmptySubscriptionToken is returned by SetSubscriptionToken for an
	// empty token, which would be indistinguishable from an open
	// subscription.
	ErrEmptySubscriptionToken = fmt.Errorf("%w: empty subscription token", ErrInvalidOperation)
)
