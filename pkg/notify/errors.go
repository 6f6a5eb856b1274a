package notify

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks structural misuse of the hub API: a zero event
// key or a nil listener. It is returned synchronously, before any state
// mutation.
var ErrInvalidArgument = errors.New("notify: invalid argument")

// ListenerError wraps a failure raised by a listener during dispatch. It is
// never propagated to the Notify caller; the hub hands it to the Reporter
// and continues with the next listener in the snapshot.
type ListenerError struct {
	// Listener identifies the failing listener (its dynamic type).
	Listener string
	// Err is the error the listener returned, or a synthesized error when
	// the listener panicked.
	Err error
	// Stack is non-empty when the failure was a recovered panic.
	Stack string
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s: %v", e.Listener, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }
