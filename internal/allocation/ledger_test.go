package allocation

import (
	"path/filepath"
	"testing"
	"time"
)

func TestMayAccept_RatioEnforcement(t *testing.T) {
	l := New(1 << 40)
	now := time.Now()

	const tenGiB = int64(10) << 30
	l.Accept("peerA", tenGiB, now)
	l.Place("peerA", "backup-1", tenGiB, now)

	if err := l.MayAccept("peerA", 1); err == nil {
		t.Fatalf("expected ratio violation when consumed would exceed offered")
	}

	l.Accept("peerA", 1024, now)
	if err := l.MayAccept("peerA", 1); err != nil {
		t.Fatalf("expected admit after additional offer, got %v", err)
	}
}

func TestValidate_ReconcilesGlobals(t *testing.T) {
	l := New(1 << 40)
	now := time.Now()
	l.Accept("peerA", 100, now)
	l.Accept("peerB", 50, now)
	l.Place("peerA", "b1", 30, now)

	if err := l.Validate(); err != nil {
		t.Fatalf("expected ledger to validate, got %v", err)
	}

	offered, consumed := l.Totals()
	if offered != 150 || consumed != 30 {
		t.Fatalf("unexpected totals: offered=%d consumed=%d", offered, consumed)
	}
}

func TestRelease_CreditsCorrectSide(t *testing.T) {
	l := New(1 << 40)
	now := time.Now()
	l.Accept("peerA", 100, now)
	l.Place("peerA", "b1", 40, now)

	l.Release("peerA", 40, true, now)
	offered, consumed := l.Totals()
	if consumed != 0 {
		t.Fatalf("expected consumed released to 0, got %d", consumed)
	}
	if offered != 100 {
		t.Fatalf("offered should be unaffected by consumed release, got %d", offered)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allocation.json")

	l := New(1 << 40)
	now := time.Now()
	l.Accept("peerA", 500, now)
	l.Place("peerA", "b1", 200, now)

	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path, 1<<40)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	offered, consumed := reloaded.Totals()
	if offered != 500 || consumed != 200 {
		t.Fatalf("unexpected reloaded totals: offered=%d consumed=%d", offered, consumed)
	}
}

func TestLoad_MissingFileReturnsEmptyLedger(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "missing.json"), 1<<40)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	offered, consumed := l.Totals()
	if offered != 0 || consumed != 0 {
		t.Fatalf("expected empty ledger, got offered=%d consumed=%d", offered, consumed)
	}
}
