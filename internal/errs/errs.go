// Package errs defines backuppeer's stable error taxonomy. Each kind is a
// distinct Go type so call sites can errors.As against a concrete kind
// rather than matching on string content.
package errs

import "fmt"

// CryptoReason enumerates CryptoError discriminants.
type CryptoReason string

const (
	CryptoKeyMissing        CryptoReason = "key-missing"
	CryptoSignatureInvalid  CryptoReason = "signature-invalid"
	CryptoDecryptionFailed  CryptoReason = "decryption-failed"
	CryptoHashMismatch      CryptoReason = "hash-mismatch"
)

// CryptoError reports a failure in key handling, signing, or AEAD operations.
type CryptoError struct {
	Reason CryptoReason
	Err    error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("crypto: %s", e.Reason)
}
func (e *CryptoError) Unwrap() error { return e.Err }
func (e *CryptoError) Kind() string  { return "CryptoError" }

func NewCryptoError(reason CryptoReason, err error) *CryptoError {
	return &CryptoError{Reason: reason, Err: err}
}

// IdentityReason enumerates IdentityError discriminants.
type IdentityReason string

const (
	IdentityVersionUnsupported IdentityReason = "version-unsupported"
	IdentityExpired            IdentityReason = "expired"
	IdentityHashMismatch       IdentityReason = "hash-mismatch"
	IdentityKeyLength          IdentityReason = "key-length"
	IdentitySignatureInvalid   IdentityReason = "signature-invalid"
)

// IdentityError reports a rejected signed peer identity or session proof.
type IdentityError struct {
	Reason IdentityReason
}

func (e *IdentityError) Error() string { return fmt.Sprintf("identity: %s", e.Reason) }
func (e *IdentityError) Kind() string  { return "IdentityError" }

func NewIdentityError(reason IdentityReason) *IdentityError {
	return &IdentityError{Reason: reason}
}

// TransportReason enumerates TransportError discriminants.
type TransportReason string

const (
	TransportMatchingTimeout    TransportReason = "matching-timeout"
	TransportChannelClosed      TransportReason = "channel-closed"
	TransportBackpressureTimeout TransportReason = "backpressure-timeout"
)

// TransportError reports a failure establishing or maintaining a session.
type TransportError struct {
	Reason TransportReason
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport: %s", e.Reason)
}
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Kind() string  { return "TransportError" }

func NewTransportError(reason TransportReason, err error) *TransportError {
	return &TransportError{Reason: reason, Err: err}
}

// RateLimitReason enumerates RateLimitError discriminants.
type RateLimitReason string

const (
	RateLimitBurst       RateLimitReason = "burst-limit"
	RateLimitWindow      RateLimitReason = "window-limit"
	RateLimitMessageType RateLimitReason = "message-type-limit"
	RateLimitBanned      RateLimitReason = "banned"
)

// RateLimitError reports an admission-control rejection.
type RateLimitError struct {
	Reason RateLimitReason
}

func (e *RateLimitError) Error() string { return fmt.Sprintf("ratelimit: %s", e.Reason) }
func (e *RateLimitError) Kind() string  { return "RateLimitError" }

func NewRateLimitError(reason RateLimitReason) *RateLimitError {
	return &RateLimitError{Reason: reason}
}

// AllocationReason enumerates AllocationError discriminants.
type AllocationReason string

const (
	AllocationRatioViolation    AllocationReason = "ratio-violation"
	AllocationCapacityExhausted AllocationReason = "capacity-exhausted"
)

// AllocationError reports a violation of the give-to-get storage invariant.
type AllocationError struct {
	Reason AllocationReason
}

func (e *AllocationError) Error() string { return fmt.Sprintf("allocation: %s", e.Reason) }
func (e *AllocationError) Kind() string  { return "AllocationError" }

func NewAllocationError(reason AllocationReason) *AllocationError {
	return &AllocationError{Reason: reason}
}

// StoreReason enumerates StoreError discriminants.
type StoreReason string

const (
	StoreIO            StoreReason = "io"
	StoreSchema        StoreReason = "schema"
	StoreFieldDecrypt  StoreReason = "field-decrypt"
	StoreNotFound      StoreReason = "not-found"
)

// StoreError reports a persistent-store failure.
type StoreError struct {
	Reason StoreReason
	Err    error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("store: %s", e.Reason)
}
func (e *StoreError) Unwrap() error { return e.Err }
func (e *StoreError) Kind() string  { return "StoreError" }

func NewStoreError(reason StoreReason, err error) *StoreError {
	return &StoreError{Reason: reason, Err: err}
}

// TransferReason enumerates TransferError discriminants.
type TransferReason string

const (
	TransferChunkIntegrity TransferReason = "chunk-integrity"
	TransferFileIntegrity  TransferReason = "file-integrity"
	TransferMissingChunk   TransferReason = "missing-chunk"
	TransferRetryExhausted TransferReason = "retry-exhausted"
	TransferSourceChanged  TransferReason = "source-changed"
	TransferInvalidState   TransferReason = "invalid-state"
	TransferAckTimeout     TransferReason = "ack-timeout"
	TransferAckRejected    TransferReason = "ack-rejected"
)

// TransferError reports a chunk- or file-granularity transfer failure.
type TransferError struct {
	Reason TransferReason
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transfer: %s", e.Reason)
}
func (e *TransferError) Unwrap() error { return e.Err }
func (e *TransferError) Kind() string  { return "TransferError" }

func NewTransferError(reason TransferReason, err error) *TransferError {
	return &TransferError{Reason: reason, Err: err}
}

// VerificationReason enumerates VerificationError discriminants.
type VerificationReason string

const (
	VerificationUnknownChallenge   VerificationReason = "unknown-challenge"
	VerificationUnsupportedKind    VerificationReason = "unsupported-kind"
	VerificationProofMismatch      VerificationReason = "proof-mismatch"
	VerificationTimeout            VerificationReason = "timeout"
	VerificationChallengeExpired   VerificationReason = "challenge-expired"
)

// VerificationError reports a proof-of-storage failure; never closes a session.
type VerificationError struct {
	Reason VerificationReason
}

func (e *VerificationError) Error() string { return fmt.Sprintf("verification: %s", e.Reason) }
func (e *VerificationError) Kind() string  { return "VerificationError" }

func NewVerificationError(reason VerificationReason) *VerificationError {
	return &VerificationError{Reason: reason}
}

// ProtocolReason enumerates ProtocolError discriminants.
type ProtocolReason string

const (
	ProtocolMalformed          ProtocolReason = "malformed"
	ProtocolUnknownType        ProtocolReason = "unknown-type"
	ProtocolInvalidTransition  ProtocolReason = "invalid-transition"
)

// ProtocolError reports a malformed or unrecognized wire message; dropped
// silently by the dispatcher after logging.
type ProtocolError struct {
	Reason ProtocolReason
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}
func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) Kind() string  { return "ProtocolError" }

func NewProtocolError(reason ProtocolReason, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
