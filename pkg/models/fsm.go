package models

import "fmt"

// SessionState is a streaming-session lifecycle state
type SessionState string

// Strict session states for the duplex protocol FSM
const (
	SessionInit       SessionState = "init"       // Waiting for the single submit message
	SessionReceiving  SessionState = "receiving"  // Payload accepted, buffering/decoding
	SessionProcessing SessionState = "processing" // Pipeline running, progress streaming
	SessionComplete   SessionState = "complete"   // Terminal: artifact delivered
	SessionAborted    SessionState = "aborted"    // Terminal: error delivered, resources released
)

// validSessionTransitions maps from-state to allowed to-states
var validSessionTransitions = map[SessionState]map[SessionState]bool{
	SessionInit: {
		SessionReceiving: true, // Init → Receiving (submit message validated)
		SessionAborted:   true, // Init → Aborted (malformed/oversized submit)
	},
	SessionReceiving: {
		SessionProcessing: true, // Receiving → Processing (payload decodable)
		SessionAborted:    true, // Receiving → Aborted (decode failure)
	},
	SessionProcessing: {
		SessionComplete: true, // Processing → Complete (artifact delivered)
		SessionAborted:  true, // Processing → Aborted (failure, disconnect, timeout)
	},
	// Terminal states (no transitions allowed)
	SessionComplete: {},
	SessionAborted:  {},
}

// ValidateSessionTransition checks if a session state transition is valid
func ValidateSessionTransition(from, to SessionState) error {
	allowed, exists := validSessionTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalSessionState returns true if no further messages may be sent
func IsTerminalSessionState(state SessionState) bool {
	return state == SessionComplete || state == SessionAborted
}

// Session tracks the protocol state of one duplex connection.
// At most one session (and thus one active pipeline) exists per job ID.
type Session struct {
	JobID string
	state SessionState
}

// NewSession starts a session in the INIT state
func NewSession(jobID string) *Session {
	return &Session{JobID: jobID, state: SessionInit}
}

// State returns the current session state
func (s *Session) State() SessionState {
	return s.state
}

// Transition moves the session to the target state, rejecting invalid moves
func (s *Session) Transition(to SessionState) error {
	if err := ValidateSessionTransition(s.state, to); err != nil {
		return err
	}
	s.state = to
	return nil
}

// Terminal reports whether the session reached a terminal state
func (s *Session) Terminal() bool {
	return IsTerminalSessionState(s.state)
}
