package supervisor

// State is the supervisor's connection state.
type State string

const (
	StateLoggedOut    State = "logged_out"
	StateListening    State = "listening"
	StateReconnecting State = "reconnecting"
)

// States lists every State, for metrics.
var States = []string{string(StateLoggedOut), string(StateListening), string(StateReconnecting)}

// Trigger is an input to the reconnect state machine.
type Trigger string

const (
	TriggerStart          Trigger = "start"
	TriggerLoginOK        Trigger = "login_ok"
	TriggerLoginFailed    Trigger = "login_failed"
	TriggerListening      Trigger = "listening"
	TriggerListenerFailed Trigger = "listener_failed"
)

// Action is what the supervisor loop does next.
type Action string

const (
	ActionNone       Action = "none"
	ActionLogin      Action = "login"       // log in now
	ActionRetryLogin Action = "retry_login" // log in after the login backoff
	ActionListen     Action = "listen"      // listen on the current session
	ActionResume     Action = "resume"      // stop the listener, wait, listen again
	ActionRelogin    Action = "relogin"     // drop the session and log in
)

// Status is the state machine's memory.
type Status struct {
	State    State
	Attempts int
}

// Next returns the status and action that follow trigger. The attempt
// counter is reset only by TriggerLoginOK and grows only on
// TriggerListenerFailed; once it would exceed ceiling it is discarded and
// a full re-login is requested instead.
func Next(s Status, t Trigger, ceiling int) (Status, Action) {
	switch t {
	case TriggerStart:
		return Status{State: StateLoggedOut, Attempts: s.Attempts}, ActionLogin
	case TriggerLoginOK:
		return Status{State: StateListening}, ActionListen
	case TriggerLoginFailed:
		return Status{State: StateLoggedOut, Attempts: s.Attempts}, ActionRetryLogin
	case TriggerListening:
		return Status{State: StateListening, Attempts: s.Attempts}, ActionNone
	case TriggerListenerFailed:
		if s.State == StateLoggedOut {
			return s, ActionNone
		}
		n := s.Attempts + 1
		if n > ceiling {
			return Status{State: StateLoggedOut}, ActionRelogin
		}
		return Status{State: StateReconnecting, Attempts: n}, ActionResume
	}
	return s, ActionNone
}
