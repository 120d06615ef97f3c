package ratelimit

import (
	"testing"
	"time"

	"backuppeer/internal/errs"
)

func TestAllow_BoundaryAtExactlyMaxThenDenied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageTypeLimits = map[string]MessageTypeLimit{} // exercise coarse window directly
	cfg.CoarseMax = 5
	l := New(cfg, nil)
	defer l.Close()

	now := time.Now()
	for i := 0; i < cfg.CoarseMax; i++ {
		if err := l.Allow("peerA", "ping", now); err != nil {
			t.Fatalf("request %d should be admitted: %v", i, err)
		}
	}
	if err := l.Allow("peerA", "ping", now); err == nil {
		t.Fatalf("request beyond coarse max should be denied")
	}

	later := now.Add(cfg.CoarseWindow + time.Millisecond)
	if err := l.Allow("peerA", "ping", later); err != nil {
		t.Fatalf("request after window elapses should be admitted: %v", err)
	}
}

func TestAllow_MessageTypeLimitFileChunk(t *testing.T) {
	l := New(DefaultConfig(), nil)
	defer l.Close()

	now := time.Now()
	// Spaced 100 ms apart so the 20-per-second burst window never fills;
	// all 201 messages still fall inside the 60 s file_chunk window.
	for i := 0; i < 200; i++ {
		at := now.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := l.Allow("peerB", "file_chunk", at); err != nil {
			t.Fatalf("chunk %d should be admitted: %v", i, err)
		}
	}
	err := l.Allow("peerB", "file_chunk", now.Add(200*100*time.Millisecond))
	if err == nil {
		t.Fatalf("the 201st file_chunk should be denied")
	}
	rle, ok := err.(*errs.RateLimitError)
	if !ok || rle.Reason != errs.RateLimitMessageType {
		t.Fatalf("expected message-type-limit reason, got %v", err)
	}
}

func TestAllow_BurstBanAfterExtremeUtilization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BurstMax = 10
	cfg.BurstBanThreshold = 0.95
	l := New(cfg, nil)
	defer l.Close()

	now := time.Now()
	for i := 0; i < cfg.BurstMax; i++ {
		_ = l.Allow("peerC", "ping_unmapped", now)
	}
	// One more push over the burst window triggers the ban path.
	if err := l.Allow("peerC", "ping_unmapped", now); err == nil {
		t.Fatalf("expected burst-limit denial")
	}
	if !l.IsBanned("peerC", now) {
		t.Fatalf("expected peer to be banned after extreme burst utilization")
	}

	err := l.Allow("peerC", "ping_unmapped", now.Add(time.Millisecond))
	if err == nil {
		t.Fatalf("expected banned denial during ban window")
	}
	rle, ok := err.(*errs.RateLimitError)
	if !ok || rle.Reason != errs.RateLimitBanned {
		t.Fatalf("expected banned reason, got %v", err)
	}
}

func TestAllow_RejectionDoesNotMutateCounters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageTypeLimits = map[string]MessageTypeLimit{}
	cfg.CoarseMax = 2
	cfg.BurstMax = 100
	l := New(cfg, nil)
	defer l.Close()

	now := time.Now()
	_ = l.Allow("peerD", "ping", now)
	_ = l.Allow("peerD", "ping", now)
	_ = l.Allow("peerD", "ping", now) // denied, must not mutate

	later := now.Add(cfg.CoarseWindow + time.Millisecond)
	if err := l.Allow("peerD", "ping", later); err != nil {
		t.Fatalf("window should have fully reset: %v", err)
	}
}
