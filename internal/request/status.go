package request

// transitions is the closed graph of permitted status changes.
//
//	queued -> processing        broker dispatch
//	processing -> processed     worker success
//	processing -> failed        worker failure
//	processing -> queued        dispatch-failure compensation / worker shutdown requeue
//	queued|processing -> cancelled   revocation
//
// processed, failed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusProcessed, StatusFailed, StatusQueued, StatusCancelled},
}

// CanTransition reports whether next is reachable from current in one step.
func CanTransition(current, next Status) bool {
	for _, s := range transitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// ParseStatus validates a stored or user-supplied status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusQueued, StatusProcessing, StatusProcessed, StatusFailed, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// ParseVerb validates a user-supplied verb string.
func ParseVerb(s string) (Verb, bool) {
	switch Verb(s) {
	case VerbRetrieve, VerbArchive:
		return Verb(s), true
	}
	return "", false
}
