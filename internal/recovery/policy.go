package recovery

// Action is what the middleware does with a classified error
type Action int

const (
	// Propagate leaves the error to the caller's default failure handling.
	// It is the zero value so an unknown code can never reset a session.
	Propagate Action = iota
	// Reauthenticate clears the session and restarts authentication
	Reauthenticate
)

func (a Action) String() string {
	switch a {
	case Reauthenticate:
		return "reauthenticate"
	default:
		return "propagate"
	}
}

// Policy maps provider error codes to actions. Codes missing from the map
// propagate.
type Policy map[string]Action

// DefaultPolicy only recovers from invalid_request. Other codes such as
// invalid_grant or invalid_token propagate.
var DefaultPolicy = Policy{
	CodeInvalidRequest: Reauthenticate,
}

// Classify looks up code. A nil policy classifies everything as Propagate.
func (p Policy) Classify(code string) Action {
	if action, ok := p[code]; ok {
		return action
	}
	return Propagate
}

// Outcome reports how Handle resolved an error
type Outcome int

const (
	// Unhandled means the caller must propagate the error
	Unhandled Outcome = iota
	// Recovered means the session was cleared and reauthentication started.
	// The original error is consumed.
	Recovered
)

func (o Outcome) String() string {
	switch o {
	case Recovered:
		return "recovered"
	default:
		return "unhandled"
	}
}
