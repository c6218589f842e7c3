package signaling

import (
	"errors"
	"fmt"
)

// TransportError is a failed signaling read or write. It is recoverable: the caller
// retries on the next tick or aborts the call.
type TransportError struct {
	Op        string // "post" or "fetch"
	SessionID string
	Status    int // HTTP status when the server answered, 0 otherwise
	Err       error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("signaling %s %s: status %d: %v", e.Op, e.SessionID, e.Status, e.Err)
	}
	return fmt.Sprintf("signaling %s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
