// Package verification implements the storage-commitment exchange and the
// challenge/response proof-of-storage protocol: issuing
// challenges to a custodian, computing responses as the custodian, verifying
// returned proofs, and the periodic scheduler that drives it all.
package verification

import (
	cryptorand "crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"

	"backuppeer/internal/crypto"
	"backuppeer/internal/errs"
	"backuppeer/internal/model"
	"backuppeer/internal/wire"
)

// ChallengeWindow is how long a custodian has to respond before a challenge
// is accounted as a timeout.
const ChallengeWindow = 5 * time.Minute

// randomBlocksSampleCap bounds how many chunks a random-blocks challenge's
// population is drawn from.
const randomBlocksSampleCap = 1000

const randomBlocksRequestCount = 10
const fileHashRequestCount = 3

// BuildRandomBlocksChallenge samples up to randomBlocksRequestCount chunk
// indices from chunks' population (capped at randomBlocksSampleCap) and
// returns the wire message to send the custodian.
func BuildRandomBlocksChallenge(backupID string, chunks []model.ChunkState) (wire.StorageChallengeMsg, error) {
	population := chunks
	if len(population) > randomBlocksSampleCap {
		population = population[:randomBlocksSampleCap]
	}
	count := randomBlocksRequestCount
	if len(population) < count {
		count = len(population)
	}
	indices, err := sampleIndices(len(population), count)
	if err != nil {
		return wire.StorageChallengeMsg{}, err
	}

	now := time.Now()
	return wire.StorageChallengeMsg{
		Type: wire.TypeStorageChallenge, ChallengeID: uuid.NewString(), BackupID: backupID,
		Kind: wire.ChallengeRandomBlocks, ChunkIndices: indices,
		IssuedAt: now, ExpiresAt: now.Add(ChallengeWindow),
	}, nil
}

// BuildFileHashChallenge samples fileHashRequestCount file indices out of
// fileCount files belonging to the backup.
func BuildFileHashChallenge(backupID string, fileCount int) (wire.StorageChallengeMsg, error) {
	count := fileHashRequestCount
	if fileCount < count {
		count = fileCount
	}
	indices, err := sampleIndices(fileCount, count)
	if err != nil {
		return wire.StorageChallengeMsg{}, err
	}

	now := time.Now()
	return wire.StorageChallengeMsg{
		Type: wire.TypeStorageChallenge, ChallengeID: uuid.NewString(), BackupID: backupID,
		Kind: wire.ChallengeFileHash, FileIndices: indices,
		IssuedAt: now, ExpiresAt: now.Add(ChallengeWindow),
	}, nil
}

// BuildMetadataProofChallenge issues a metadata-proof challenge carrying a
// fresh 32-byte nonce.
func BuildMetadataProofChallenge(backupID string) (wire.StorageChallengeMsg, error) {
	nonce := make([]byte, 32)
	if _, err := cryptorand.Read(nonce); err != nil {
		return wire.StorageChallengeMsg{}, errs.NewVerificationError(errs.VerificationUnsupportedKind)
	}
	now := time.Now()
	return wire.StorageChallengeMsg{
		Type: wire.TypeStorageChallenge, ChallengeID: uuid.NewString(), BackupID: backupID,
		Kind: wire.ChallengeMetadataProof, Nonce: nonce,
		IssuedAt: now, ExpiresAt: now.Add(ChallengeWindow),
	}, nil
}

// MetadataProofDigest computes SHA-256(canonical(backupID || timestamp ||
// fileCount || nonce)), the value both sides of a metadata-proof challenge
// must independently compute.
func MetadataProofDigest(backupID string, timestamp time.Time, fileCount int, nonce []byte) string {
	buf := canonicalMetadataInput(backupID, timestamp, fileCount, nonce)
	return crypto.SHA256(buf)
}

func canonicalMetadataInput(backupID string, timestamp time.Time, fileCount int, nonce []byte) []byte {
	buf := []byte(backupID)
	buf = append(buf, []byte(timestamp.UTC().Format(time.RFC3339Nano))...)
	buf = appendInt(buf, fileCount)
	buf = append(buf, nonce...)
	return buf
}

func appendInt(buf []byte, n int) []byte {
	return append(buf, []byte(big.NewInt(int64(n)).String())...)
}

// sampleIndices draws count distinct indices from [0, population) without
// replacement, using crypto/rand for selection.
func sampleIndices(population, count int) ([]int, error) {
	if count <= 0 || population <= 0 {
		return nil, nil
	}
	pool := make([]int, population)
	for i := range pool {
		pool[i] = i
	}
	out := make([]int, 0, count)
	for i := 0; i < count && len(pool) > 0; i++ {
		n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(len(pool))))
		if err != nil {
			return nil, errs.NewVerificationError(errs.VerificationUnsupportedKind)
		}
		idx := n.Int64()
		out = append(out, pool[idx])
		pool[idx] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return out, nil
}
