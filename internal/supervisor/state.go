package supervisor

// State tracks one run through its lifecycle. Transitions are linear except
// that any state may jump to StateTerminating on external interruption.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateHealthChecking
	StateActive
	StateNaturalExit
	StateTimeoutExpired
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateHealthChecking:
		return "health_checking"
	case StateActive:
		return "active"
	case StateNaturalExit:
		return "natural_exit"
	case StateTimeoutExpired:
		return "timeout_expired"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
