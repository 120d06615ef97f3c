package verification

import (
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
	"backuppeer/internal/wire"
)

// VerifyProof checks a custodian's storage_proof against the issuer's own
// local metadata for the same backup, returning a VerificationError (never
// a fatal error) when the proof doesn't hold.
func VerifyProof(challenge wire.StorageChallengeMsg, proof wire.StorageProofMsg, backup model.Backup, chunks []model.ChunkState) error {
	if proof.Error != "" {
		return errs.NewVerificationError(errs.VerificationProofMismatch)
	}
	if proof.ChallengeID != challenge.ChallengeID || proof.Kind != challenge.Kind {
		return errs.NewVerificationError(errs.VerificationUnknownChallenge)
	}

	switch challenge.Kind {
	case wire.ChallengeRandomBlocks:
		return verifyRandomBlocks(challenge, proof, chunks)
	case wire.ChallengeFileHash:
		return verifyFileHash(challenge, proof, backup)
	case wire.ChallengeMetadataProof:
		return verifyMetadataProof(challenge, proof, backup)
	default:
		return errs.NewVerificationError(errs.VerificationUnsupportedKind)
	}
}

func verifyRandomBlocks(challenge wire.StorageChallengeMsg, proof wire.StorageProofMsg, chunks []model.ChunkState) error {
	if len(proof.ChunkProofs) != len(challenge.ChunkIndices) {
		return errs.NewVerificationError(errs.VerificationProofMismatch)
	}
	want := make(map[int]model.ChunkState, len(challenge.ChunkIndices))
	for _, idx := range challenge.ChunkIndices {
		if idx < 0 || idx >= len(chunks) {
			return errs.NewVerificationError(errs.VerificationProofMismatch)
		}
		want[idx] = chunks[idx]
	}
	for _, p := range proof.ChunkProofs {
		local, ok := want[p.Index]
		if !ok || local.ChunkHash != p.Hash || local.ChunkSize != p.Size {
			return errs.NewVerificationError(errs.VerificationProofMismatch)
		}
	}
	return nil
}

func verifyFileHash(challenge wire.StorageChallengeMsg, proof wire.StorageProofMsg, backup model.Backup) error {
	if len(proof.FileProofs) != len(challenge.FileIndices) {
		return errs.NewVerificationError(errs.VerificationProofMismatch)
	}
	for _, p := range proof.FileProofs {
		if p.Index < 0 || p.Index >= len(backup.Files) {
			return errs.NewVerificationError(errs.VerificationProofMismatch)
		}
		if backup.Files[p.Index].SHA256 != p.SHA256 {
			return errs.NewVerificationError(errs.VerificationProofMismatch)
		}
	}
	return nil
}

func verifyMetadataProof(challenge wire.StorageChallengeMsg, proof wire.StorageProofMsg, backup model.Backup) error {
	want := MetadataProofDigest(backup.ID, challenge.IssuedAt, backup.FileCount, challenge.Nonce)
	if proof.MetadataHash != want {
		return errs.NewVerificationError(errs.VerificationProofMismatch)
	}
	return nil
}

// Outcome classifies how an issued challenge resolved, for accounting.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

// Classify turns VerifyProof's result (or the absence of a response before
// expiry) into an Outcome.
func Classify(err error, now time.Time, expiresAt time.Time) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if verr, ok := err.(*errs.VerificationError); ok && verr.Reason == errs.VerificationTimeout {
		return OutcomeTimeout
	}
	if now.After(expiresAt) {
		return OutcomeTimeout
	}
	return OutcomeFailure
}
