package crypto

import (
	"crypto/ed25519"
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// ProtocolVersion is the only peer-identity wire version this build accepts.
const ProtocolVersion = 1

// IdentityMaxAge is the maximum age of a signed identity at verification time.
const IdentityMaxAge = time.Hour

// BuildIdentity constructs and signs a PeerIdentity bundle for this key pair.
func (kp *KeyPair) BuildIdentity(capabilities []string) model.PeerIdentity {
	hash := PeerIDHash(kp.SigningPublic)
	sig := ed25519.Sign(kp.SigningPrivate, []byte(hash))
	return model.PeerIdentity{
		PeerIDHash:      hash,
		Signature:       sig,
		PublicKey:       append([]byte(nil), kp.SigningPublic...),
		IssuedAt:        time.Now().UTC(),
		ProtocolVersion: ProtocolVersion,
		Capabilities:    capabilities,
	}
}

// SoftwareVerifiedTrust is the trust tag attached to any identity that
// passes cryptographic verification, independent of the reputation engine's
// behavioral trust level.
const SoftwareVerifiedTrust = "software-verified"

// IdentityVerdict is the result of verifying a signed peer identity.
type IdentityVerdict struct {
	Valid      bool
	PeerIDHash string
	PublicKey  ed25519.PublicKey
	Trust      string
	Reason     *errs.IdentityError
}

// VerifyIdentity validates id against the identity invariants: the hash
// recomputed from the embedded public key must match the transmitted hash,
// the signature must verify, the protocol version must be supported, and the
// timestamp must not be older than IdentityMaxAge.
func VerifyIdentity(id model.PeerIdentity, now time.Time) IdentityVerdict {
	if id.ProtocolVersion != ProtocolVersion {
		return reject(errs.IdentityVersionUnsupported)
	}
	if len(id.PublicKey) != ed25519.PublicKeySize {
		return reject(errs.IdentityKeyLength)
	}
	if now.Sub(id.IssuedAt) > IdentityMaxAge || id.IssuedAt.After(now.Add(time.Minute)) {
		return reject(errs.IdentityExpired)
	}
	wantHash := PeerIDHash(id.PublicKey)
	if wantHash != id.PeerIDHash {
		return reject(errs.IdentityHashMismatch)
	}
	if !ed25519.Verify(ed25519.PublicKey(id.PublicKey), []byte(id.PeerIDHash), id.Signature) {
		return reject(errs.IdentitySignatureInvalid)
	}
	return IdentityVerdict{
		Valid:      true,
		PeerIDHash: id.PeerIDHash,
		PublicKey:  ed25519.PublicKey(id.PublicKey),
		Trust:      SoftwareVerifiedTrust,
	}
}

func reject(reason errs.IdentityReason) IdentityVerdict {
	return IdentityVerdict{Valid: false, Reason: errs.NewIdentityError(reason)}
}
