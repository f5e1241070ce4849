package poller

import (
	"errors"
	"fmt"
)

// DeliveryError means the batch could not be handed to the queue. The cursor
// is not advanced, so the next cycle fetches the same events again.
type DeliveryError struct {
	Count int
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %d events: %v", e.Count, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ErrStopped is returned by Trigger once the engine has been stopped.
var ErrStopped = errors.New("poller stopped")

// errSuperseded is returned internally when a reset raced a bootstrap.
var errSuperseded = errors.New("superseded by reset")
