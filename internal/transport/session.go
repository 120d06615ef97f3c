// Package transport establishes and maintains the authenticated peer
// channel: signaling-mediated matching, a WebRTC data channel carrying the
// identity handshake and session proof, keepalive, and reconnect with
// cached-session resumption.
package transport

import (
	"sync"
	"time"

	"backuppeer/internal/errs"
)

// State is a session's position in the connection lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateMatching      State = "matching"
	StateHandshaking   State = "handshaking"
	StateConnected     State = "connected"
	StateReconnecting  State = "reconnecting"
	StateClosed        State = "closed"
)

// Event names the triggers accepted by Session.Transition.
type Event string

const (
	EventListenOrDial  Event = "listen_or_dial"
	EventMatched       Event = "matched"
	EventAuthenticated Event = "authenticated"
	EventBadIdentity   Event = "bad_identity"
	EventTimeout       Event = "timeout"
	EventDisconnect    Event = "disconnect"
	EventReconnected   Event = "reconnected"
	EventFatal         Event = "fatal"
)

// transitions is the total state table for the connection lifecycle. Every
// (state, event) pair not present is rejected with a ProtocolError —
// transitions are total over the declared event set, never silently
// ignored.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventListenOrDial: StateMatching,
	},
	StateMatching: {
		EventMatched: StateHandshaking,
		EventTimeout: StateIdle,
	},
	StateHandshaking: {
		EventAuthenticated: StateConnected,
		EventBadIdentity:   StateClosed,
	},
	StateConnected: {
		EventDisconnect: StateReconnecting,
		EventFatal:      StateClosed,
	},
	StateReconnecting: {
		EventReconnected: StateConnected,
		EventFatal:       StateClosed,
	},
	StateClosed: {},
}

// Session tracks one peer channel's lifecycle state under a mutex (
// §5: state transitions are the only mutable shared field guarded here;
// the data channel itself is owned by Channel).
type Session struct {
	mu           sync.Mutex
	state        State
	PeerIDHash   string
	Channel      *Channel
	lastSeen     time.Time
	reconnectCnt int
}

// NewSession starts a session in the idle state.
func NewSession(peerIDHash string) *Session {
	return &Session{state: StateIdle, PeerIDHash: peerIDHash}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition applies event to the session's state machine, returning the
// next state or a typed ProtocolError if the transition is not declared for
// the current state.
func (s *Session) Transition(event Event) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := transitions[s.state][event]
	if !ok {
		return s.state, errs.NewProtocolError(errs.ProtocolInvalidTransition, nil)
	}
	if event == EventDisconnect {
		s.reconnectCnt = 0
	}
	s.state = next
	return next, nil
}

// LastSeen returns the last time this session was known connected.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// MarkSeen records the current time as the last-seen instant, used both on
// successful connect and on each received keepalive ack.
func (s *Session) MarkSeen(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

// ReconnectAttempts returns the reconnect attempt counter without changing
// it. Reconnect increments the counter on every dial attempt; it is reset
// on every successful EventDisconnect transition (i.e. each new disconnect
// starts a fresh attempt budget).
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectCnt
}

func (s *Session) incrementReconnect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectCnt++
	return s.reconnectCnt
}

// EligibleForResumption reports whether cached session data for this peer is
// still usable: last seen within the 1h resumption window.
func EligibleForResumption(lastSeen time.Time, now time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) <= ResumptionWindow
}

// ResumptionWindow is the cached-session reuse horizon.
const ResumptionWindow = time.Hour
