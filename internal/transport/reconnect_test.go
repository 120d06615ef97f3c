package transport

import (
	"errors"
	"testing"
	"time"
)

type fakeDialer struct {
	cachedErr    error
	signalingErr error
	cachedCalls  int
	signalCalls  int
}

func (f *fakeDialer) DialCached(string) (*Channel, error) {
	f.cachedCalls++
	if f.cachedErr != nil {
		return nil, f.cachedErr
	}
	return &Channel{}, nil
}

func (f *fakeDialer) DialSignaling(string) (*Channel, error) {
	f.signalCalls++
	if f.signalingErr != nil {
		return nil, f.signalingErr
	}
	return &Channel{}, nil
}

func TestReconnect_PrefersCacheWithinWindow(t *testing.T) {
	s := NewSession("peer-1")
	s.MarkSeen(time.Now().Add(-10 * time.Minute))

	d := &fakeDialer{}
	ch, err := Reconnect(s, d, nil, func(time.Duration) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch == nil {
		t.Fatalf("expected channel")
	}
	if d.cachedCalls != 1 || d.signalCalls != 0 {
		t.Fatalf("expected cache-only dial, got cached=%d signaling=%d", d.cachedCalls, d.signalCalls)
	}
}

func TestReconnect_FallsBackToSignalingOnCacheFailure(t *testing.T) {
	s := NewSession("peer-1")
	s.MarkSeen(time.Now().Add(-10 * time.Minute))

	d := &fakeDialer{cachedErr: errors.New("cache miss")}
	ch, err := Reconnect(s, d, nil, func(time.Duration) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch == nil {
		t.Fatalf("expected channel")
	}
	if d.signalCalls != 1 {
		t.Fatalf("expected one signaling fallback dial, got %d", d.signalCalls)
	}
}

func TestReconnect_SkipsCacheOutsideWindow(t *testing.T) {
	s := NewSession("peer-1")
	s.MarkSeen(time.Now().Add(-2 * time.Hour))

	d := &fakeDialer{}
	if _, err := Reconnect(s, d, nil, func(time.Duration) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.cachedCalls != 0 || d.signalCalls != 1 {
		t.Fatalf("expected signaling-only dial, got cached=%d signaling=%d", d.cachedCalls, d.signalCalls)
	}
}

func TestReconnect_ExhaustsAttemptsAndReturnsTransportError(t *testing.T) {
	s := NewSession("peer-1")
	d := &fakeDialer{signalingErr: errors.New("broker unreachable")}

	var slept []time.Duration
	_, err := Reconnect(s, d, nil, func(d time.Duration) { slept = append(slept, d) })
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if d.signalCalls != maxReconnectAttempts {
		t.Fatalf("expected %d attempts, got %d", maxReconnectAttempts, d.signalCalls)
	}
	if len(slept) != maxReconnectAttempts-1 {
		t.Fatalf("expected %d sleeps between attempts, got %d", maxReconnectAttempts-1, len(slept))
	}
}
