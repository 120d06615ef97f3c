package crypto

import (
	"bytes"
	"testing"
	"time"

	"backuppeer/internal/testutil"
)

func TestLoadOrCreateKeys_GeneratesAndPersists(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	kp1, err := LoadOrCreateKeys(sb.Root, nil)
	if err != nil {
		t.Fatalf("LoadOrCreateKeys: %v", err)
	}
	kp2, err := LoadOrCreateKeys(sb.Root, nil)
	if err != nil {
		t.Fatalf("LoadOrCreateKeys (reload): %v", err)
	}
	if !bytes.Equal(kp1.SigningPublic, kp2.SigningPublic) {
		t.Fatalf("signing public key changed across reload")
	}
	if kp1.EncryptionPublic != kp2.EncryptionPublic {
		t.Fatalf("encryption public key changed across reload")
	}
}

func TestPeerIDHash_MatchesIdentity(t *testing.T) {
	sb, _ := testutil.NewSandbox()
	defer sb.Cleanup()
	kp, err := LoadOrCreateKeys(sb.Root, nil)
	if err != nil {
		t.Fatalf("LoadOrCreateKeys: %v", err)
	}
	id := kp.BuildIdentity(nil)
	want := PeerIDHash(kp.SigningPublic)
	if id.PeerIDHash != want {
		t.Fatalf("peer id hash mismatch: got %s want %s", id.PeerIDHash, want)
	}
	if len(id.PeerIDHash) != 16 {
		t.Fatalf("peer id hash must be 16 hex chars, got %d", len(id.PeerIDHash))
	}

	verdict := VerifyIdentity(id, time.Now())
	if !verdict.Valid {
		t.Fatalf("expected valid identity, got reason %v", verdict.Reason)
	}
	if verdict.Trust != SoftwareVerifiedTrust {
		t.Fatalf("expected trust %q, got %q", SoftwareVerifiedTrust, verdict.Trust)
	}
}

func TestVerifyIdentity_FlippedSignatureByteRejected(t *testing.T) {
	sb, _ := testutil.NewSandbox()
	defer sb.Cleanup()
	kp, _ := LoadOrCreateKeys(sb.Root, nil)
	id := kp.BuildIdentity(nil)
	id.Signature[0] ^= 0xFF

	verdict := VerifyIdentity(id, time.Now())
	if verdict.Valid {
		t.Fatalf("expected invalid identity after signature tamper")
	}
	if verdict.Reason == nil || verdict.Reason.Reason != "signature-invalid" {
		t.Fatalf("expected signature-invalid reason, got %v", verdict.Reason)
	}
}

func TestVerifyIdentity_ExpiredRejected(t *testing.T) {
	sb, _ := testutil.NewSandbox()
	defer sb.Cleanup()
	kp, _ := LoadOrCreateKeys(sb.Root, nil)
	id := kp.BuildIdentity(nil)

	verdict := VerifyIdentity(id, time.Now().Add(2*time.Hour))
	if verdict.Valid {
		t.Fatalf("expected expired identity to be rejected")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x42}, 32))
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ciphertext, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatalf("ciphertext must differ from plaintext")
	}
	got, err := Decrypt(key, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecrypt_TamperedTagFails(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x7}, 32))
	ciphertext, err := Encrypt(key, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF
	if _, err := Decrypt(key, ciphertext); err == nil {
		t.Fatalf("expected decryption failure on tampered ciphertext")
	}
}

func TestSecretCache_SymmetricDerivation(t *testing.T) {
	sbA, _ := testutil.NewSandbox()
	defer sbA.Cleanup()
	sbB, _ := testutil.NewSandbox()
	defer sbB.Cleanup()

	kpA, _ := LoadOrCreateKeys(sbA.Root, nil)
	kpB, _ := LoadOrCreateKeys(sbB.Root, nil)

	cacheA := NewSecretCache(kpA)
	cacheB := NewSecretCache(kpB)

	secretA, err := cacheA.Derive("peer-b", kpB.EncryptionPublic)
	if err != nil {
		t.Fatalf("derive A: %v", err)
	}
	secretB, err := cacheB.Derive("peer-a", kpA.EncryptionPublic)
	if err != nil {
		t.Fatalf("derive B: %v", err)
	}
	if secretA != secretB {
		t.Fatalf("shared secrets must match: %x vs %x", secretA, secretB)
	}

	// Cached: a second derive must return the same value without recomputation.
	secretAagain, _ := cacheA.Derive("peer-b", kpB.EncryptionPublic)
	if secretAagain != secretA {
		t.Fatalf("cached secret changed across calls")
	}
}

func TestSessionProof_RoundTrip(t *testing.T) {
	sb, _ := testutil.NewSandbox()
	defer sb.Cleanup()
	kp, _ := LoadOrCreateKeys(sb.Root, nil)

	proof, err := kp.BuildSessionProof("fingerprint-abc")
	if err != nil {
		t.Fatalf("BuildSessionProof: %v", err)
	}
	if err := VerifySessionProof(proof, kp.SigningPublic, time.Now()); err != nil {
		t.Fatalf("VerifySessionProof: %v", err)
	}
}

func TestSessionProof_OutsideWindowRejected(t *testing.T) {
	sb, _ := testutil.NewSandbox()
	defer sb.Cleanup()
	kp, _ := LoadOrCreateKeys(sb.Root, nil)
	proof, _ := kp.BuildSessionProof("fp")

	if err := VerifySessionProof(proof, kp.SigningPublic, time.Now().Add(10*time.Minute)); err == nil {
		t.Fatalf("expected rejection outside the 5 minute window")
	}
}
