package transport

import (
	"testing"
	"time"
)

func TestTransitions_HappyPath(t *testing.T) {
	s := NewSession("peer-1")
	steps := []struct {
		event Event
		want  State
	}{
		{EventListenOrDial, StateMatching},
		{EventMatched, StateHandshaking},
		{EventAuthenticated, StateConnected},
		{EventDisconnect, StateReconnecting},
		{EventReconnected, StateConnected},
	}
	for _, step := range steps {
		got, err := s.Transition(step.event)
		if err != nil {
			t.Fatalf("transition %s: unexpected error %v", step.event, err)
		}
		if got != step.want {
			t.Fatalf("transition %s: got %s want %s", step.event, got, step.want)
		}
	}
}

func TestTransitions_RejectsUndeclaredEvent(t *testing.T) {
	s := NewSession("peer-1")
	if _, err := s.Transition(EventAuthenticated); err == nil {
		t.Fatalf("expected error transitioning idle->authenticated")
	}
}

func TestTransitions_BadIdentityClosesSession(t *testing.T) {
	s := NewSession("peer-1")
	s.Transition(EventListenOrDial)
	s.Transition(EventMatched)
	got, err := s.Transition(EventBadIdentity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
	if _, err := s.Transition(EventListenOrDial); err == nil {
		t.Fatalf("expected closed state to reject further events")
	}
}

func TestEligibleForResumption(t *testing.T) {
	now := time.Now()
	if !EligibleForResumption(now.Add(-30*time.Minute), now) {
		t.Fatalf("expected 30m-old session to be eligible")
	}
	if EligibleForResumption(now.Add(-2*time.Hour), now) {
		t.Fatalf("expected 2h-old session to be ineligible")
	}
	if EligibleForResumption(time.Time{}, now) {
		t.Fatalf("expected zero-value last-seen to be ineligible")
	}
}

func TestReconnectBackoff_Doubles(t *testing.T) {
	cases := map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 16 * time.Second,
	}
	for attempt, want := range cases {
		if got := ReconnectBackoff(attempt); got != want {
			t.Fatalf("attempt %d: got %v want %v", attempt, got, want)
		}
	}
}
