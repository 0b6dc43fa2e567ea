package models

import "testing"

func TestValidateSessionTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    SessionState
		to      SessionState
		wantErr bool
	}{
		// Valid transitions
		{"Init to Receiving", SessionInit, SessionReceiving, false},
		{"Init to Aborted", SessionInit, SessionAborted, false},
		{"Receiving to Processing", SessionReceiving, SessionProcessing, false},
		{"Receiving to Aborted", SessionReceiving, SessionAborted, false},
		{"Processing to Complete", SessionProcessing, SessionComplete, false},
		{"Processing to Aborted", SessionProcessing, SessionAborted, false},

		// Invalid transitions
		{"Init to Processing", SessionInit, SessionProcessing, true},
		{"Init to Complete", SessionInit, SessionComplete, true},
		{"Receiving to Complete", SessionReceiving, SessionComplete, true},
		{"Complete to Processing", SessionComplete, SessionProcessing, true},
		{"Complete to Aborted", SessionComplete, SessionAborted, true},
		{"Aborted to Init", SessionAborted, SessionInit, true},
		{"Aborted to Complete", SessionAborted, SessionComplete, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalSessionState(t *testing.T) {
	tests := []struct {
		name     string
		state    SessionState
		expected bool
	}{
		{"Complete is terminal", SessionComplete, true},
		{"Aborted is terminal", SessionAborted, true},
		{"Init is not terminal", SessionInit, false},
		{"Receiving is not terminal", SessionReceiving, false},
		{"Processing is not terminal", SessionProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminalSessionState(tt.state); got != tt.expected {
				t.Errorf("IsTerminalSessionState(%v) = %v, want %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSession("job-1")

	if s.State() != SessionInit {
		t.Fatalf("new session state = %v, want %v", s.State(), SessionInit)
	}

	steps := []SessionState{SessionReceiving, SessionProcessing, SessionComplete}
	for _, next := range steps {
		if err := s.Transition(next); err != nil {
			t.Fatalf("Transition(%v) failed: %v", next, err)
		}
	}

	if !s.Terminal() {
		t.Error("session should be terminal after Complete")
	}

	// No transitions out of a terminal state
	if err := s.Transition(SessionAborted); err == nil {
		t.Error("expected error transitioning out of Complete")
	}
}
