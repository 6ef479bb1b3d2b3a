package model

// SessionState is the connectivity/authentication status of the messaging capability.
type SessionState string

const (
	SessionUninitialized SessionState = "UNINITIALIZED"
	SessionAwaitingScan  SessionState = "AWAITING_SCAN"
	SessionAuthenticated SessionState = "AUTHENTICATED"
	SessionReady         SessionState = "READY"
	SessionDisconnected  SessionState = "DISCONNECTED"
	SessionAuthFailed    SessionState = "AUTH_FAILED"
	// SessionExhausted is terminal: the restart policy gave up. Only an explicit
	// restart request leaves it.
	SessionExhausted SessionState = "EXHAUSTED"
)

// LifecycleEventKind names the events emitted by the messaging capability.
type LifecycleEventKind string

const (
	EventQR            LifecycleEventKind = "qr"
	EventAuthenticated LifecycleEventKind = "authenticated"
	EventReady         LifecycleEventKind = "ready"
	EventLoadingScreen LifecycleEventKind = "loading_screen"
	EventAuthFailure   LifecycleEventKind = "auth_failure"
	EventDisconnected  LifecycleEventKind = "disconnected"
	EventError         LifecycleEventKind = "error"
)

// DisconnectLogout is the reason reported when the account was logged out by hand.
const DisconnectLogout = "LOGOUT"

// LifecycleEvent is one typed event from the capability.
type LifecycleEvent struct {
	Kind    LifecycleEventKind
	QR      string // EventQR
	Reason  string // EventDisconnected
	Percent int    // EventLoadingScreen
	Message string // EventLoadingScreen, EventAuthFailure, EventError
}

// Transition returns the state reached from `from` on event `kind`. ok is false
// when the event does not move the state machine (informational events and
// events that make no sense in the current state).
func Transition(from SessionState, kind LifecycleEventKind) (to SessionState, ok bool) {
	switch kind {
	case EventQR:
		switch from {
		case SessionUninitialized, SessionDisconnected, SessionAwaitingScan:
			return SessionAwaitingScan, true
		}
	case EventAuthenticated:
		switch from {
		case SessionAwaitingScan, SessionUninitialized, SessionDisconnected:
			return SessionAuthenticated, true
		}
	case EventReady:
		switch from {
		case SessionAuthenticated, SessionAwaitingScan, SessionUninitialized:
			return SessionReady, true
		}
	case EventAuthFailure:
		if from != SessionExhausted {
			return SessionAuthFailed, true
		}
	case EventDisconnected:
		if from != SessionExhausted {
			return SessionDisconnected, true
		}
	}
	return from, false
}
