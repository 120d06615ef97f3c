// Package model holds the persistent and wire-adjacent data shapes shared
// across backuppeer's components: identities, backups, chunks, commitments,
// cached sessions, allocation entries, and reputation records.
package model

import "time"

// BackupDirection records which side of a transfer a Backup represents.
type BackupDirection string

const (
	DirectionSent     BackupDirection = "sent"
	DirectionReceived BackupDirection = "received"
)

// BackupStatus is the lifecycle state of a Backup.
type BackupStatus string

const (
	BackupActive    BackupStatus = "active"
	BackupCompleted BackupStatus = "completed"
	BackupFailed    BackupStatus = "failed"
	BackupCancelled BackupStatus = "cancelled"
	BackupPaused    BackupStatus = "paused"
)

// TransferStatus is shared by BackupFile and ChunkState lifecycles.
type TransferStatus string

const (
	TransferPending      TransferStatus = "pending"
	TransferTransferring TransferStatus = "transferring"
	TransferCompleted    TransferStatus = "completed"
	TransferFailed       TransferStatus = "failed"
	TransferVerified     TransferStatus = "verified"
)

// FileEntry is one member of a Backup's structured metadata.
type FileEntry struct {
	RelativePath string   `json:"relative_path"`
	Size         int64    `json:"size"`
	SHA256       string   `json:"sha256"`
	ChunkHashes  []string `json:"chunk_hashes,omitempty"`
}

// Backup is the top-level record for a single transfer of a named file
// collection between two peers. Immutable once Status == BackupCompleted.
type Backup struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Direction      BackupDirection `json:"direction"`
	CounterpartyID string          `json:"counterparty_peer_id_hash"`
	CreatedAt      time.Time       `json:"created_at"`
	Status         BackupStatus    `json:"status"`
	FileCount      int             `json:"file_count"`
	TotalBytes     int64           `json:"total_bytes"`
	Files          []FileEntry     `json:"files"`
}

// BackupFile tracks a single file's transfer progress within a Backup.
type BackupFile struct {
	BackupID       string         `json:"backup_id"`
	RelativePath   string         `json:"relative_path"`
	Size           int64          `json:"size"`
	SHA256         string         `json:"sha256"`
	ChunkCount     int            `json:"chunk_count"`
	TransferStatus TransferStatus `json:"transfer_status"`
}

// ChunkState is the unique (BackupID, ChunkIndex) record of a single chunk's
// transfer progress, including retry accounting.
type ChunkState struct {
	BackupID     string         `json:"backup_id"`
	FilePath     string         `json:"file_path"`
	ChunkIndex   int            `json:"chunk_index"`
	ChunkHash    string         `json:"chunk_hash"`
	ChunkSize    int            `json:"chunk_size"`
	State        TransferStatus `json:"state"`
	AttemptCount int            `json:"attempt_count"`
	LastAttempt  time.Time      `json:"last_attempt"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// StorageCommitment is a signed declaration of storage a peer offers.
type StorageCommitment struct {
	PeerID            string    `json:"peer_id"`
	EncryptionPubKey  []byte    `json:"encryption_public_key"`
	BytesOffered      int64     `json:"bytes_offered"`
	AvailabilityTerms string    `json:"availability_terms"`
	RetentionPeriodMS int64     `json:"retention_period_ms"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	PublicKey         []byte    `json:"public_key"`
	Signature         []byte    `json:"signature"`
	SignaturePubKey   []byte    `json:"signature_public_key"`
}

const (
	MinCommitmentBytes int64 = 1 << 20            // 1 MiB
	MaxCommitmentBytes int64 = 1 << 40            // 1 TiB
)

// CachedPeerConnection lets a session resume without re-matching through
// the signaling broker.
type CachedPeerConnection struct {
	PeerIDHash         string    `json:"peer_id_hash"`
	PublicKey          []byte    `json:"public_key"`
	SessionResumption  []byte    `json:"session_resumption_blob"`
	LastSeen           time.Time `json:"last_seen"`
	TrustLevel         string    `json:"trust_level"`
	TotalAttempts      int       `json:"total_attempts"`
	SuccessfulAttempts int       `json:"successful_attempts"`
	LastSuccessAt      time.Time `json:"last_success_at"`
}

// AllocationEntry is the per-peer half of the allocation ledger.
type AllocationEntry struct {
	PeerIDHash     string    `json:"peer_id_hash"`
	OfferedToThem  int64     `json:"offered_to_them"`
	ConsumedFrom   int64     `json:"consumed_from_them"`
	BackupIDs      []string  `json:"backup_list"`
	LastUpdate     time.Time `json:"last_update"`
}

// TrustLevel is the discrete classification derived from a reputation score.
type TrustLevel string

const (
	TrustTrusted     TrustLevel = "trusted"
	TrustAcceptable  TrustLevel = "acceptable"
	TrustSuspicious  TrustLevel = "suspicious"
	TrustUntrusted   TrustLevel = "untrusted"
	TrustBlacklisted TrustLevel = "blacklisted"
)

// PeerReputation holds the running counters and derived score for one peer.
type PeerReputation struct {
	PeerIDHash           string     `json:"peer_id_hash"`
	TotalConnections     int        `json:"total_connections"`
	SuccessfulConns      int        `json:"successful_connections"`
	TotalChallenges      int        `json:"total_challenges"`
	SuccessfulChallenges int        `json:"successful_challenges"`
	TotalFiles           int        `json:"total_files"`
	CorruptedFiles       int        `json:"corrupted_files"`
	UptimeSamples        []bool     `json:"uptime_samples"`
	AvgResponseTimeMS    float64    `json:"average_response_time_ms"`
	DataIntegrityScore   float64    `json:"data_integrity_score"`
	FirstSeen            time.Time  `json:"first_seen"`
	LastSeen             time.Time  `json:"last_seen"`
	OverallScore         float64    `json:"overall_score"`
	TrustLevel           TrustLevel `json:"trust_level"`
	Blacklisted          bool       `json:"blacklisted"`
	BlacklistReason      string     `json:"blacklist_reason,omitempty"`
}

// PeerIdentity is a long-term signing keypair's signed self-declaration.
type PeerIdentity struct {
	PeerIDHash      string    `json:"peer_id_hash"`
	Signature       []byte    `json:"signature"`
	PublicKey       []byte    `json:"public_key"`
	IssuedAt        time.Time `json:"issued_at"`
	ProtocolVersion int       `json:"protocol_version"`
	Capabilities    []string  `json:"capabilities"`
}

// SessionProof binds a connection instance to time and a random nonce.
type SessionProof struct {
	Fingerprint string    `json:"ice_candidate_fingerprint"`
	Timestamp   time.Time `json:"timestamp"`
	Nonce       []byte    `json:"nonce"`
	Hash        []byte    `json:"hash"`
	Signature   []byte    `json:"signature"`
}
