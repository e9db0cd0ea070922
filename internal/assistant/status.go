package assistant

// Action is what the poll loop does after observing a run status.
type Action int

const (
	// ActionWait keeps polling.
	ActionWait Action = iota
	// ActionDispatch answers the pending tool calls, then keeps polling.
	ActionDispatch
	// ActionComplete ends polling successfully.
	ActionComplete
	// ActionFail ends polling with a terminal failure.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionDispatch:
		return "dispatch"
	case ActionComplete:
		return "complete"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Interpret maps a run status to the next poll-loop action. Unknown statuses
// are waited on; incomplete is a failure.
func Interpret(status RunStatus) Action {
	switch status {
	case RunStatusCompleted:
		return ActionComplete
	case RunStatusRequiresAction:
		return ActionDispatch
	case RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return ActionFail
	default:
		return ActionWait
	}
}

// IsTerminal reports whether a run can no longer change state.
func IsTerminal(status RunStatus) bool {
	switch status {
	case RunStatusCompleted, RunStatusCancelled, RunStatusFailed, RunStatusExpired, RunStatusIncomplete:
		return true
	}
	return false
}

// NeedsCancel reports whether a run left on a thread blocks a new run and
// has not already been asked to stop. Cancelling runs still block and must be
// waited on.
func NeedsCancel(status RunStatus) bool {
	return !IsTerminal(status) && status != RunStatusCancelling
}
