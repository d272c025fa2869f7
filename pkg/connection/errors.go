package connection

import (
	"errors"
	"fmt"
)

// Supervisor errors.
var (
	ErrAlreadyStarted   = errors.New("supervisor already started")
	ErrClosed           = errors.New("supervisor closed")
	ErrRetriesExhausted = errors.New("reconnection attempts exhausted")
)

// ResubscribeFailure records one subscription that could not be
// replayed onto a new session.
type ResubscribeFailure struct {
	LocalID uint32
	ItemKey string
	Err     error
}

// PartialResubscribeError reports that a reconnect succeeded but some
// subscriptions were refused during replay. The session stays up; the
// listed subscriptions receive no updates until resubscribed.
type PartialResubscribeError struct {
	Failures []ResubscribeFailure
}

// Error returns the error message.
func (e *PartialResubscribeError) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("resubscribe failed for %q: %v", f.ItemKey, f.Err)
	}
	return fmt.Sprintf("resubscribe failed for %d subscriptions", len(e.Failures))
}
