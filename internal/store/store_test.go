package store

import (
	"testing"
	"time"

	"backuppeer/internal/model"
	"backuppeer/internal/testutil"
	"backuppeer/internal/wire"
)

func newTestStore(t *testing.T, cipher *FieldCipher) *Store {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	st, err := Open(sb.Path("backuppeer.db"), cipher, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBackupRoundTrip(t *testing.T) {
	st := newTestStore(t, nil)
	now := time.Now().UTC().Truncate(time.Millisecond)

	b := model.Backup{
		ID:             "backup-1",
		Name:           "photos",
		Direction:      model.DirectionSent,
		CounterpartyID: "peer-hash-a",
		CreatedAt:      now,
		Status:         model.BackupActive,
		FileCount:      2,
		TotalBytes:     4096,
		Files: []model.FileEntry{
			{RelativePath: "a.jpg", Size: 2048, SHA256: "aaa"},
			{RelativePath: "b.jpg", Size: 2048, SHA256: "bbb"},
		},
	}
	if err := st.PutBackup(b); err != nil {
		t.Fatalf("PutBackup: %v", err)
	}

	got, err := st.GetBackup("backup-1")
	if err != nil {
		t.Fatalf("GetBackup: %v", err)
	}
	if got.Name != b.Name || got.TotalBytes != b.TotalBytes || len(got.Files) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at mismatch: got %v want %v", got.CreatedAt, now)
	}

	if _, err := st.GetBackup("missing"); err == nil {
		t.Fatalf("expected not-found error")
	}

	active, err := st.ListBackupsByStatus(model.BackupActive)
	if err != nil {
		t.Fatalf("ListBackupsByStatus: %v", err)
	}
	if len(active) != 1 || active[0].ID != "backup-1" {
		t.Fatalf("unexpected active list: %+v", active)
	}
}

func TestBackupFiles(t *testing.T) {
	st := newTestStore(t, nil)
	f := model.BackupFile{BackupID: "b1", RelativePath: "x.bin", Size: 10, SHA256: "h", ChunkCount: 1, TransferStatus: model.TransferPending}
	if err := st.PutBackupFile(f); err != nil {
		t.Fatalf("PutBackupFile: %v", err)
	}
	f.TransferStatus = model.TransferCompleted
	if err := st.PutBackupFile(f); err != nil {
		t.Fatalf("PutBackupFile update: %v", err)
	}

	files, err := st.ListBackupFiles("b1")
	if err != nil {
		t.Fatalf("ListBackupFiles: %v", err)
	}
	if len(files) != 1 || files[0].TransferStatus != model.TransferCompleted {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestDeleteBackupCascades(t *testing.T) {
	st := newTestStore(t, nil)
	st.PutBackup(model.Backup{ID: "b1", Status: model.BackupCompleted})
	st.PutBackupFile(model.BackupFile{BackupID: "b1", RelativePath: "x", TransferStatus: model.TransferCompleted})
	st.PutChunkState(model.ChunkState{BackupID: "b1", ChunkIndex: 0, State: model.TransferCompleted})

	if err := st.DeleteBackup("b1"); err != nil {
		t.Fatalf("DeleteBackup: %v", err)
	}
	if _, err := st.GetBackup("b1"); err == nil {
		t.Fatalf("expected backup to be gone")
	}
	files, _ := st.ListBackupFiles("b1")
	if len(files) != 0 {
		t.Fatalf("expected cascaded file deletion, got %+v", files)
	}
}

func TestPeerFieldEncryption_RoundTripsAndHidesPlaintext(t *testing.T) {
	cipher := NewFieldCipher("unit-test-seed", []byte("unit-test-salt-"), 100_000)
	st := newTestStore(t, cipher)

	pub := []byte("a-public-key-that-should-never-appear-in-plaintext")
	meta := []byte(`{"hostname":"laptop"}`)
	if err := st.PutPeer(PeerRecord{PeerIDHash: "peer-1", PublicKey: pub, Metadata: meta, TrustLevel: model.TrustAcceptable, LastSeen: 1000}); err != nil {
		t.Fatalf("PutPeer: %v", err)
	}

	got, err := st.GetPeer("peer-1")
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}
	if string(got.PublicKey) != string(pub) || string(got.Metadata) != string(meta) {
		t.Fatalf("decrypted fields mismatch: %+v", got)
	}

	var raw []byte
	row := st.db.QueryRow(`SELECT public_key FROM peers WHERE peer_id_hash = ?`, "peer-1")
	if err := row.Scan(&raw); err != nil {
		t.Fatalf("raw scan: %v", err)
	}
	if string(raw) == string(pub) {
		t.Fatalf("public key stored in plaintext on disk")
	}
}

func TestCommitmentRoundTrip(t *testing.T) {
	cipher := NewFieldCipher("seed", []byte("0123456789abcdef"), 100_000)
	st := newTestStore(t, cipher)
	now := time.Now().UTC().Truncate(time.Millisecond)

	c := model.StorageCommitment{
		PeerID:            "peer-1",
		EncryptionPubKey:  []byte("enc-pub"),
		BytesOffered:      model.MinCommitmentBytes,
		AvailabilityTerms: "best-effort",
		RetentionPeriodMS: int64(24 * time.Hour / time.Millisecond),
		CreatedAt:         now,
		ExpiresAt:         now.Add(24 * time.Hour),
		PublicKey:         []byte("sig-pub"),
		Signature:         []byte("signature-bytes"),
		SignaturePubKey:   []byte("sig-pub-2"),
	}
	if err := st.PutCommitment(c); err != nil {
		t.Fatalf("PutCommitment: %v", err)
	}
	got, err := st.GetCommitment("peer-1")
	if err != nil {
		t.Fatalf("GetCommitment: %v", err)
	}
	if string(got.Signature) != string(c.Signature) || got.BytesOffered != c.BytesOffered {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	expired, err := st.ListExpiredCommitments(now.Add(48 * time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("ListExpiredCommitments: %v", err)
	}
	if len(expired) != 1 || expired[0] != "peer-1" {
		t.Fatalf("expected expired commitment listed, got %+v", expired)
	}
}

func TestChallengeHistoryAndPurge(t *testing.T) {
	cipher := NewFieldCipher("seed", []byte("0123456789abcdef"), 100_000)
	st := newTestStore(t, cipher)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		c := ChallengeRecord{
			ID:            time.Now().Add(time.Duration(i) * time.Second).String() + "-challenge",
			BackupID:      "b1",
			PeerIDHash:    "peer-1",
			Kind:          wire.ChallengeRandomBlocks,
			ChallengeData: []byte("challenge-data"),
			IssuedAt:      now.Add(time.Duration(i) * time.Minute),
			ExpiresAt:     now.Add(time.Hour),
			Outcome:       ChallengeOutcomePending,
		}
		if err := st.PutChallenge(c); err != nil {
			t.Fatalf("PutChallenge: %v", err)
		}
	}

	recent, err := st.RecentChallengesForPeer("peer-1", 100)
	if err != nil {
		t.Fatalf("RecentChallengesForPeer: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 challenges, got %d", len(recent))
	}

	n, err := st.PurgeChallengesBefore(now.Add(366 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("PurgeChallengesBefore: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected all 3 purged, got %d", n)
	}
}

func TestCachedPeerConnectionRoundTrip(t *testing.T) {
	cipher := NewFieldCipher("seed", []byte("0123456789abcdef"), 100_000)
	st := newTestStore(t, cipher)
	now := time.Now().UTC().Truncate(time.Millisecond)

	c := model.CachedPeerConnection{
		PeerIDHash:         "peer-1",
		PublicKey:          []byte("pub"),
		SessionResumption:  []byte("session-blob"),
		LastSeen:           now,
		TrustLevel:         string(model.TrustAcceptable),
		TotalAttempts:      5,
		SuccessfulAttempts: 4,
		LastSuccessAt:      now,
	}
	if err := st.PutCachedPeerConnection(c, []byte(`{"label":"laptop"}`)); err != nil {
		t.Fatalf("PutCachedPeerConnection: %v", err)
	}

	got, ok, err := st.GetCachedPeerConnection("peer-1")
	if err != nil || !ok {
		t.Fatalf("GetCachedPeerConnection: ok=%v err=%v", ok, err)
	}
	if string(got.SessionResumption) != "session-blob" {
		t.Fatalf("session blob mismatch: %+v", got)
	}

	_, ok, err = st.GetCachedPeerConnection("missing")
	if err != nil {
		t.Fatalf("expected no error for missing cached peer, got %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing cached peer")
	}
}

func TestChunkStateResumption(t *testing.T) {
	st := newTestStore(t, nil)
	for i := 0; i < 5; i++ {
		state := model.TransferCompleted
		if i == 3 || i == 4 {
			state = model.TransferFailed
		}
		st.PutChunkState(model.ChunkState{BackupID: "b1", ChunkIndex: i, State: state, AttemptCount: 1})
	}

	incomplete, err := st.IncompleteChunks("b1")
	if err != nil {
		t.Fatalf("IncompleteChunks: %v", err)
	}
	if len(incomplete) != 2 || incomplete[0].ChunkIndex != 3 || incomplete[1].ChunkIndex != 4 {
		t.Fatalf("expected chunks 3 and 4 incomplete, got %+v", incomplete)
	}
}

func TestSyncSchedule(t *testing.T) {
	st := newTestStore(t, nil)
	now := time.Now().UTC()
	st.PutSyncSchedule("b1", now.Add(-time.Minute))
	st.PutSyncSchedule("b2", now.Add(time.Hour))

	due, err := st.DueSyncs(now)
	if err != nil {
		t.Fatalf("DueSyncs: %v", err)
	}
	if len(due) != 1 || due[0] != "b1" {
		t.Fatalf("expected only b1 due, got %+v", due)
	}

	if err := st.DeleteSyncSchedule("b1"); err != nil {
		t.Fatalf("DeleteSyncSchedule: %v", err)
	}
	due, _ = st.DueSyncs(now)
	if len(due) != 0 {
		t.Fatalf("expected no schedules after delete, got %+v", due)
	}
}

func TestStatsAggregation(t *testing.T) {
	st := newTestStore(t, nil)
	st.PutBackup(model.Backup{ID: "b1", Status: model.BackupActive, TotalBytes: 100})
	st.PutBackup(model.Backup{ID: "b2", Status: model.BackupCompleted, TotalBytes: 200})
	st.PutPeer(PeerRecord{PeerIDHash: "p1", TrustLevel: model.TrustBlacklisted})
	st.PutPeer(PeerRecord{PeerIDHash: "p2", TrustLevel: model.TrustAcceptable})

	stats, err := st.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalBackups != 2 || stats.ActiveBackups != 1 || stats.CompletedBackups != 1 {
		t.Fatalf("unexpected backup stats: %+v", stats)
	}
	if stats.TotalBytesStored != 300 {
		t.Fatalf("unexpected total bytes: %+v", stats)
	}
	if stats.KnownPeers != 2 || stats.BlacklistedPeers != 1 {
		t.Fatalf("unexpected peer stats: %+v", stats)
	}
}

func TestMaintainerPurgesStaleRows(t *testing.T) {
	cipher := NewFieldCipher("seed", []byte("0123456789abcdef"), 100_000)
	st := newTestStore(t, cipher)
	old := time.Now().UTC().Add(-400 * 24 * time.Hour)

	st.PutChallenge(ChallengeRecord{ID: "c1", BackupID: "b1", PeerIDHash: "p1", Kind: wire.ChallengeFileHash, IssuedAt: old, ExpiresAt: old.Add(time.Hour), Outcome: ChallengeOutcomeSuccess})

	m := NewMaintainer(st, DefaultMaintenanceConfig())
	m.runOnce(time.Now().UTC())

	if _, err := st.GetChallenge("c1"); err == nil {
		t.Fatalf("expected stale challenge to be purged")
	}
}
