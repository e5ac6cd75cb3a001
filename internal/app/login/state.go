package login

// State is the orchestrator's position in one login attempt.
type State int

const (
	StateStart State = iota
	StateFormFilled
	StateCaptchaPending
	StateSecurityCheckPending
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateFormFilled:
		return "FORM FILLED"
	case StateCaptchaPending:
		return "CAPTCHA PENDING"
	case StateSecurityCheckPending:
		return "SECURITY CHECK"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SecondaryState tracks the post-captcha security check.
type SecondaryState int

const (
	SecondaryNone SecondaryState = iota
	SecondaryPendingScan
	SecondaryPendingConfirm
	SecondaryResolved
	SecondaryTimedOut
)

func (s SecondaryState) String() string {
	switch s {
	case SecondaryNone:
		return "none"
	case SecondaryPendingScan:
		return "pending scan"
	case SecondaryPendingConfirm:
		return "pending confirm"
	case SecondaryResolved:
		return "resolved"
	case SecondaryTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}
