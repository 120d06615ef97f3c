package verification

import (
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
	"backuppeer/internal/wire"
)

// RespondToChallenge builds the custodian's storage_proof answer from its
// local copy of the backup. chunks and files must be indexed the same way
// the challenger's population was sampled from (ListChunkStates order for
// chunks, Backup.Files order for files). A request past its expiry, or for
// an unsupported kind, returns a VerificationError instead of a proof.
func RespondToChallenge(msg wire.StorageChallengeMsg, backup model.Backup, chunks []model.ChunkState, now time.Time) (wire.StorageProofMsg, error) {
	if now.After(msg.ExpiresAt) {
		return wire.StorageProofMsg{}, errs.NewVerificationError(errs.VerificationChallengeExpired)
	}

	switch msg.Kind {
	case wire.ChallengeRandomBlocks:
		return respondRandomBlocks(msg, chunks)
	case wire.ChallengeFileHash:
		return respondFileHash(msg, backup)
	case wire.ChallengeMetadataProof:
		return respondMetadataProof(msg, backup)
	default:
		return wire.StorageProofMsg{}, errs.NewVerificationError(errs.VerificationUnsupportedKind)
	}
}

func respondRandomBlocks(msg wire.StorageChallengeMsg, chunks []model.ChunkState) (wire.StorageProofMsg, error) {
	proofs := make([]wire.ChunkProof, 0, len(msg.ChunkIndices))
	for _, idx := range msg.ChunkIndices {
		if idx < 0 || idx >= len(chunks) {
			return wire.StorageProofMsg{Type: wire.TypeStorageProof, ChallengeID: msg.ChallengeID, Kind: msg.Kind, Error: "chunk index out of range"}, nil
		}
		c := chunks[idx]
		proofs = append(proofs, wire.ChunkProof{Index: idx, Hash: c.ChunkHash, Size: c.ChunkSize})
	}
	return wire.StorageProofMsg{Type: wire.TypeStorageProof, ChallengeID: msg.ChallengeID, Kind: msg.Kind, ChunkProofs: proofs}, nil
}

func respondFileHash(msg wire.StorageChallengeMsg, backup model.Backup) (wire.StorageProofMsg, error) {
	proofs := make([]wire.FileProof, 0, len(msg.FileIndices))
	for _, idx := range msg.FileIndices {
		if idx < 0 || idx >= len(backup.Files) {
			return wire.StorageProofMsg{Type: wire.TypeStorageProof, ChallengeID: msg.ChallengeID, Kind: msg.Kind, Error: "file index out of range"}, nil
		}
		f := backup.Files[idx]
		proofs = append(proofs, wire.FileProof{Index: idx, SHA256: f.SHA256})
	}
	return wire.StorageProofMsg{Type: wire.TypeStorageProof, ChallengeID: msg.ChallengeID, Kind: msg.Kind, FileProofs: proofs}, nil
}

func respondMetadataProof(msg wire.StorageChallengeMsg, backup model.Backup) (wire.StorageProofMsg, error) {
	digest := MetadataProofDigest(backup.ID, msg.IssuedAt, backup.FileCount, msg.Nonce)
	return wire.StorageProofMsg{Type: wire.TypeStorageProof, ChallengeID: msg.ChallengeID, Kind: msg.Kind, MetadataHash: digest}, nil
}
