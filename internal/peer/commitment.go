package peer

import (
	"bytes"
	"crypto/ed25519"
	"time"

	"backuppeer/internal/crypto"
	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// BuildCommitment constructs and signs this node's storage commitment for
// bytesOffered capacity under availabilityTerms, valid for retention.
func (n *Node) BuildCommitment(bytesOffered int64, availabilityTerms string, retention time.Duration) model.StorageCommitment {
	now := time.Now().UTC()
	c := model.StorageCommitment{
		PeerID:            crypto.PeerIDHash(n.Keys.SigningPublic),
		EncryptionPubKey:  append([]byte(nil), n.Keys.EncryptionPublic[:]...),
		BytesOffered:      bytesOffered,
		AvailabilityTerms: availabilityTerms,
		RetentionPeriodMS: retention.Milliseconds(),
		CreatedAt:         now,
		ExpiresAt:         now.Add(retention),
		PublicKey:         append([]byte(nil), n.Keys.SigningPublic...),
		SignaturePubKey:   append([]byte(nil), n.Keys.SigningPublic...),
	}
	c.Signature = ed25519.Sign(n.Keys.SigningPrivate, commitmentSignable(c))
	return c
}

// VerifyCommitment checks a received commitment's signature and bounds.
func VerifyCommitment(c model.StorageCommitment, now time.Time) error {
	if c.BytesOffered < model.MinCommitmentBytes || c.BytesOffered > model.MaxCommitmentBytes {
		return errs.NewCryptoError(errs.CryptoHashMismatch, nil)
	}
	if now.After(c.ExpiresAt) {
		return errs.NewCryptoError(errs.CryptoHashMismatch, nil)
	}
	if len(c.SignaturePubKey) != ed25519.PublicKeySize {
		return errs.NewCryptoError(errs.CryptoKeyMissing, nil)
	}
	if !bytes.Equal(c.PublicKey, c.SignaturePubKey) {
		return errs.NewCryptoError(errs.CryptoHashMismatch, nil)
	}
	if !ed25519.Verify(ed25519.PublicKey(c.SignaturePubKey), commitmentSignable(c), c.Signature) {
		return errs.NewCryptoError(errs.CryptoSignatureInvalid, nil)
	}
	return nil
}

func commitmentSignable(c model.StorageCommitment) []byte {
	buf := []byte(c.PeerID)
	buf = append(buf, c.EncryptionPubKey...)
	buf = append(buf, c.PublicKey...)
	buf = append(buf, []byte(c.AvailabilityTerms)...)
	buf = append(buf, []byte(c.CreatedAt.UTC().Format(time.RFC3339Nano))...)
	buf = append(buf, []byte(c.ExpiresAt.UTC().Format(time.RFC3339Nano))...)
	return buf
}
