package crypto

import (
	cryptorand "crypto/rand"
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// SessionProofWindow is the acceptance window around a session proof's
// embedded timestamp.
const SessionProofWindow = 5 * time.Minute

// BuildSessionProof produces a fresh, signed SessionProof for a connection
// instance, binding an ICE-candidate fingerprint (or a placeholder when one
// is unavailable) to the current time and a random nonce.
func (kp *KeyPair) BuildSessionProof(fingerprint string) (model.SessionProof, error) {
	nonce := make([]byte, 16)
	if _, err := cryptorand.Read(nonce); err != nil {
		return model.SessionProof{}, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	now := time.Now().UTC()
	h := sessionProofHash(fingerprint, now, nonce)
	sig := ed25519.Sign(kp.SigningPrivate, h[:])
	return model.SessionProof{
		Fingerprint: fingerprint,
		Timestamp:   now,
		Nonce:       nonce,
		Hash:        h[:],
		Signature:   sig,
	}, nil
}

// VerifySessionProof checks a session proof's hash, signature, and freshness
// window against the supplied signer's public key.
func VerifySessionProof(p model.SessionProof, signer ed25519.PublicKey, now time.Time) error {
	if now.Sub(p.Timestamp) > SessionProofWindow || p.Timestamp.Sub(now) > SessionProofWindow {
		return errs.NewIdentityError(errs.IdentityExpired)
	}
	want := sessionProofHash(p.Fingerprint, p.Timestamp, p.Nonce)
	if len(p.Hash) != len(want) || string(p.Hash) != string(want[:]) {
		return errs.NewCryptoError(errs.CryptoHashMismatch, nil)
	}
	if !ed25519.Verify(signer, p.Hash, p.Signature) {
		return errs.NewCryptoError(errs.CryptoSignatureInvalid, nil)
	}
	return nil
}

func sessionProofHash(fingerprint string, ts time.Time, nonce []byte) [32]byte {
	buf := make([]byte, 0, len(fingerprint)+8+len(nonce))
	buf = append(buf, []byte(fingerprint)...)
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(ts.UnixNano()))
	buf = append(buf, tsBytes[:]...)
	buf = append(buf, nonce...)
	return SHA256Bytes(buf)
}
