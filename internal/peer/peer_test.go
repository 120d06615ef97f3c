package peer

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"backuppeer/internal/config"
	"backuppeer/internal/model"
	"backuppeer/internal/testutil"
	"backuppeer/internal/verification"
	"backuppeer/internal/wire"
)

func testConfig(t *testing.T, home string) *config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Home = home
	cfg.Store.Path = filepath.Join(home, "backuppeer.db")
	cfg.Store.PBKDF2Iterations = 100_000
	cfg.Store.EncryptionSeed = "test-seed-for-peer-node"
	cfg.Signaling.URL = "ws://127.0.0.1:1/ws"
	cfg.Signaling.DialTimeout = time.Second
	cfg.Transport.ConnectTimeout = time.Second
	cfg.Transport.KeepaliveInterval = time.Minute
	cfg.Transport.KeepaliveMissedLimit = 2
	cfg.Transport.ReconnectMaxAttempts = 5
	cfg.Transport.ReconnectBaseDelay = time.Second
	cfg.Transport.CachedSessionWindow = time.Hour
	cfg.Transport.BackpressureTimeout = 30 * time.Second
	cfg.Transfer.ChunkSize = 64 * 1024
	cfg.Transfer.MaxChunkAttempts = 3
	cfg.RateLimit.CoarseWindow = time.Minute
	cfg.RateLimit.CoarseMax = 100
	cfg.RateLimit.BurstWindow = time.Second
	cfg.RateLimit.BurstMax = 20
	cfg.RateLimit.BanDuration = 5 * time.Minute
	cfg.RateLimit.CoarseBanThreshold = 0.9
	cfg.RateLimit.BurstBanThreshold = 0.95
	cfg.Allocation.MaxOffered = 1 << 40
	cfg.Verification.ChallengeCadence = 24 * time.Hour
	cfg.Verification.ChallengeWindow = 5 * time.Minute
	cfg.Verification.IssuanceSpacing = time.Second
	return &cfg
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })
	n, err := New(testConfig(t, sb.Root), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestNode_StartStopLifecycle(t *testing.T) {
	n := newTestNode(t)
	n.Start()
	n.Stop()
}

func TestBuildCommitment_VerifiesRoundTrip(t *testing.T) {
	n := newTestNode(t)
	c := n.BuildCommitment(1<<20, "best-effort", 30*24*time.Hour)
	if err := VerifyCommitment(c, time.Now()); err != nil {
		t.Fatalf("VerifyCommitment: %v", err)
	}
}

func TestVerifyCommitment_RejectsExpired(t *testing.T) {
	n := newTestNode(t)
	c := n.BuildCommitment(1<<20, "best-effort", time.Hour)
	if err := VerifyCommitment(c, time.Now().Add(2*time.Hour)); err == nil {
		t.Fatal("expected expired commitment to be rejected")
	}
}

func TestVerifyCommitment_RejectsOutOfBoundsOffer(t *testing.T) {
	n := newTestNode(t)
	c := n.BuildCommitment(1, "best-effort", time.Hour)
	if err := VerifyCommitment(c, time.Now()); err == nil {
		t.Fatal("expected below-minimum offer to be rejected")
	}
}

func TestVerifyCommitment_RejectsKeyDivergence(t *testing.T) {
	n := newTestNode(t)
	c := n.BuildCommitment(1<<20, "best-effort", time.Hour)

	spoofPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	c.PublicKey = spoofPub

	if err := VerifyCommitment(c, time.Now()); err == nil {
		t.Fatal("expected a commitment whose PublicKey diverges from SignaturePubKey to be rejected")
	}
}

func TestIssueChallenge_NoAttachedPeerFails(t *testing.T) {
	n := newTestNode(t)
	backup := model.Backup{ID: "backup-1", CounterpartyID: "nobody", Status: model.BackupActive, Direction: model.DirectionSent}
	if err := n.Store.PutBackup(backup); err != nil {
		t.Fatalf("PutBackup: %v", err)
	}
	challenge, err := verification.BuildRandomBlocksChallenge("backup-1", nil)
	if err != nil {
		t.Fatalf("BuildRandomBlocksChallenge: %v", err)
	}
	if err := n.IssueChallenge(backup, challenge); err == nil {
		t.Fatal("expected IssueChallenge to fail with no attached session")
	}
}

func TestHandleProof_UnknownChallengeIsIgnored(t *testing.T) {
	n := newTestNode(t)
	ps := &PeerSession{node: n, PeerIDHash: "peer-x"}
	n.handleProof(ps, wire.StorageProofMsg{Type: wire.TypeStorageProof, ChallengeID: "does-not-exist"})
}
