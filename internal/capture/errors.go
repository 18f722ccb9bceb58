package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is the cause of an [AcquisitionError] when the
	// player refused microphone access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNoDevice is the cause of an [AcquisitionError] when no capture
	// device is available.
	ErrNoDevice = errors.New("no capture device available")

	// ErrClosed is returned by [Controller.Initialize] after [Controller.Close].
	ErrClosed = errors.New("capture: controller closed")
)

// AcquisitionError reports that the microphone could not be acquired. It is
// not retried automatically; the controller stays uninitialized.
type AcquisitionError struct {
	// Reason is the host-reported explanation, suitable for the player.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// NewAcquisitionError wraps err with a player-facing reason.
func NewAcquisitionError(reason string, err error) *AcquisitionError {
	return &AcquisitionError{Reason: reason, Err: err}
}

// Error implements error.
func (e *AcquisitionError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("capture: microphone acquisition failed: %s: %v", e.Reason, e.Err)
	}
	return "capture: microphone acquisition failed: " + e.Reason
}

// Unwrap returns the underlying cause.
func (e *AcquisitionError) Unwrap() error { return e.Err }

// asAcquisitionError converts any acquisition failure into an
// *AcquisitionError, keeping one that is already present in the chain.
func asAcquisitionError(err error) *AcquisitionError {
	var aerr *AcquisitionError
	if errors.As(err, &aerr) {
		return aerr
	}
	return &AcquisitionError{Reason: err.Error(), Err: err}
}
