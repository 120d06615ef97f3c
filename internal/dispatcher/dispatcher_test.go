package dispatcher

import (
	"testing"
	"time"

	"backuppeer/internal/ratelimit"
	"backuppeer/internal/wire"
)

func newTestLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.DefaultConfig(), nil)
}

func TestDispatch_MalformedFrameIncrementsCounter(t *testing.T) {
	lim := newTestLimiter()
	defer lim.Close()
	d := New("peer-1", lim, Handlers{}, nil)

	if err := d.Dispatch([]byte("not json")); err != nil {
		t.Fatalf("Dispatch should not surface an error for a malformed frame: %v", err)
	}
	if d.MalformedCount() != 1 {
		t.Fatalf("expected malformed count 1, got %d", d.MalformedCount())
	}
}

func TestDispatch_BannedPeerDropsSilently(t *testing.T) {
	lim := newTestLimiter()
	defer lim.Close()

	now := time.Now()
	for i := 0; i < 25; i++ {
		lim.Allow("peer-1", "misc", now)
	}
	if !lim.IsBanned("peer-1", now) {
		t.Skip("ban threshold not reached with this config; behavior covered by ratelimit package tests")
	}

	pinged := false
	d := New("peer-1", lim, Handlers{OnPing: func(wire.PingMsg) { pinged = true }}, nil)
	frame, _ := wire.Encode(wire.PingMsg{Type: wire.TypePing, Timestamp: now})
	d.Dispatch(frame)

	if pinged {
		t.Fatalf("expected banned peer's message to be dropped before routing")
	}
	if d.DroppedBannedCount() != 1 {
		t.Fatalf("expected dropped-banned count 1, got %d", d.DroppedBannedCount())
	}
}

func TestDispatch_RoutesPingDirectly(t *testing.T) {
	lim := newTestLimiter()
	defer lim.Close()

	received := make(chan wire.PingMsg, 1)
	d := New("peer-1", lim, Handlers{OnPing: func(p wire.PingMsg) { received <- p }}, nil)

	frame, err := wire.Encode(wire.PingMsg{Type: wire.TypePing, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := d.Dispatch(frame); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case <-received:
	default:
		t.Fatalf("expected ping handler to be invoked")
	}
}

func TestDispatch_RoutesTransferKindToTransferHandler(t *testing.T) {
	lim := newTestLimiter()
	defer lim.Close()

	var gotBackupID string
	d := New("peer-1", lim, Handlers{
		OnBackupStart: func(m wire.BackupStartMsg) { gotBackupID = m.BackupID },
	}, nil)

	frame, _ := wire.Encode(wire.BackupStartMsg{Type: wire.TypeBackupStart, TransferID: "t1", BackupID: "b1", Name: "photos"})
	if err := d.Dispatch(frame); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotBackupID != "b1" {
		t.Fatalf("expected backup_start routed to transfer handler, got %q", gotBackupID)
	}
}

func TestDispatch_NilHandlerNotCountedAsIgnored(t *testing.T) {
	lim := newTestLimiter()
	defer lim.Close()

	d := New("peer-1", lim, Handlers{}, nil) // no handlers registered
	frame, _ := wire.Encode(wire.PongMsg{Type: wire.TypePong, PeerIDHash: "peer-1"})
	if err := d.Dispatch(frame); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	// OnPong is nil, so the switch arm finds the message type but takes no action;
	// this is not counted as "ignored" since the kind was recognized.
	if d.IgnoredCount() != 0 {
		t.Fatalf("expected recognized-but-unhandled kinds not to count as ignored, got %d", d.IgnoredCount())
	}
}
