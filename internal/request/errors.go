package request

import "errors"

// Error taxonomy shared by the store, broker, worker, garbage collector and
// frontend. Components compare with errors.Is after wrapping.
var (
	// ErrConflict means a conditional write lost a compare-and-set race.
	// Always recoverable: re-read and treat the request as already handled.
	ErrConflict = errors.New("conditional write lost the race")

	// ErrInvalidTransition means the requested status change is not an edge
	// of the lifecycle graph. This is a programming error, never swallowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound means the request or artifact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrGone means the staged artifact was evicted after completion.
	ErrGone = errors.New("artifact evicted")

	// ErrAlreadyExists means an insert collided with an existing request id.
	ErrAlreadyExists = errors.New("request already exists")
)
