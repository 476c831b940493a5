package daemon

import "fmt"

// UnreachableError indicates a transport failure or a non-success HTTP status
// from the daemon. It is recoverable: the reconciler goes offline and retries
// on the next cycle.
type UnreachableError struct {
	Op     string
	Status int // HTTP status, zero for pure transport failures
	Err    error
}

func (e *UnreachableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("daemon unreachable during %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("daemon unreachable during %s: %v", e.Op, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// MalformedResponseError indicates the daemon responded but the payload could
// not be decoded. The reconciler surfaces the message in the error state.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed daemon response in %s: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
