package sandbox

import "errors"

var (
	// ErrTerminated is returned for any operation on a terminated channel,
	// and delivered to every ticket pending at termination time.
	ErrTerminated = errors.New("sandbox terminated")

	// ErrHookTimeout is returned when a hook execution exceeds the
	// configured timeout. The ticket is dead afterwards; a late reply is
	// logged and dropped.
	ErrHookTimeout = errors.New("hook execution timed out")

	// ErrLoadInProgress is returned when LoadCode is called while a prior
	// load has not completed.
	ErrLoadInProgress = errors.New("code load already in progress")

	// ErrCapabilityUnavailable is thrown inside the plugin context when no
	// capability handler was configured for the channel.
	ErrCapabilityUnavailable = errors.New("capability not available")
)
