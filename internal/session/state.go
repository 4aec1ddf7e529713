package session

// State is the lifecycle state of a session.
type State int32

const (
	// StateIdle is a session that has not started yet.
	StateIdle State = iota
	// StateAuthenticating covers waiting for a credential and logging in.
	StateAuthenticating
	// StateActive is a logged-in session running steps.
	StateActive
	// StateLoggingOut is a session closing its remote session.
	StateLoggingOut
	// StateTerminated is final; see Result.Outcome.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateLoggingOut:
		return "logging_out"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Outcome is how a terminated session ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}
