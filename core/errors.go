package core

import "errors"

// Error taxonomy returned by every kernel operation. Callers match with
// errors.Is; operations wrap them with context about the failing request.
var (
	// ErrInvalidArgument reports a descriptor handle that does not resolve,
	// or a request that does not match current membership.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBusy reports a request that conflicts with a structural invariant,
	// such as detaching a task's main thread. Retrying the same call fails again.
	ErrBusy = errors.New("busy")

	// ErrOutOfResources reports exhaustion of a fixed-capacity pool
	// (thread descriptors, task descriptors or stacks).
	ErrOutOfResources = errors.New("out of resources")

	// ErrHalted reports that the kernel was stopped while the operation was
	// pending or before it was issued.
	ErrHalted = errors.New("kernel halted")
)

// outcomeLabel maps an operation result onto a short metrics label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrOutOfResources):
		return "out_of_resources"
	case errors.Is(err, ErrHalted):
		return "halted"
	default:
		return "error"
	}
}
