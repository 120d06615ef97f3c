// Package wire defines the closed tagged union of JSON messages exchanged
// over an authenticated peer data channel. Decoding happens
// once, at the dispatcher boundary; everything inward operates on typed
// Go values. An unrecognized type tag is a ProtocolError.
package wire

import (
	"encoding/json"
	"time"

	"backuppeer/internal/errs"
)

// Type is the wire discriminator for a Message.
type Type string

const (
	TypePeerIdentity      Type = "peer_identity"
	TypePing              Type = "ping"
	TypePong              Type = "pong"
	TypeStorageCommitment Type = "storage_commitment"
	TypeStorageChallenge  Type = "storage_challenge"
	TypeStorageProof      Type = "storage_proof"
	TypeBackupStart       Type = "backup_start"
	TypeFileStart         Type = "file_start"
	TypeFileChunk         Type = "file_chunk"
	TypeFileComplete      Type = "file_complete"
	TypeFileStartAck      Type = "file_start_ack"
	TypeChunkAck          Type = "chunk_ack"
	TypeFileCompleteAck   Type = "file_complete_ack"
	TypeBackupComplete    Type = "backup_complete"
)

// envelope is used only to sniff the discriminator before full decode.
type envelope struct {
	Type Type `json:"type"`
}

// PeerIdentityMsg carries a signed peer identity bundle.
type PeerIdentityMsg struct {
	Type            Type      `json:"type"`
	PeerIDHash      string    `json:"peer_id_hash"`
	Signature       []byte    `json:"signature"`
	PublicKey       []byte    `json:"public_key"`
	EncryptionKey   [32]byte  `json:"encryption_key"`
	IssuedAt        time.Time `json:"issued_at"`
	ProtocolVersion int       `json:"protocol_version"`
	Capabilities    []string  `json:"capabilities"`
}

// PingMsg is a signed keepalive probe.
type PingMsg struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"ts"`
	Signature []byte    `json:"signature"`
}

// PongMsg answers a PingMsg, echoing its timestamp.
type PongMsg struct {
	Type        Type      `json:"type"`
	OriginalTS  time.Time `json:"original_ts"`
	PeerIDHash  string    `json:"peer_id_hash"`
}

// StorageCommitmentMsg carries a signed storage commitment.
type StorageCommitmentMsg struct {
	Type              Type      `json:"type"`
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

// ChallengeKind enumerates storage_challenge variants.
type ChallengeKind string

const (
	ChallengeRandomBlocks  ChallengeKind = "random-blocks"
	ChallengeFileHash      ChallengeKind = "file-hash"
	ChallengeMetadataProof ChallengeKind = "metadata-proof"
)

// StorageChallengeMsg asks the custodian to prove retention.
type StorageChallengeMsg struct {
	Type         Type          `json:"type"`
	ChallengeID  string        `json:"challenge_id"`
	BackupID     string        `json:"backup_id"`
	Kind         ChallengeKind `json:"kind"`
	ChunkIndices []int         `json:"chunk_indices,omitempty"`
	FileIndices  []int         `json:"file_indices,omitempty"`
	Nonce        []byte        `json:"nonce,omitempty"`
	IssuedAt     time.Time     `json:"issued_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// ChunkProof is one entry of a random-blocks storage_proof response.
type ChunkProof struct {
	Index int    `json:"index"`
	Hash  string `json:"hash"`
	Size  int    `json:"size"`
}

// FileProof is one entry of a file-hash storage_proof response.
type FileProof struct {
	Index  int    `json:"index"`
	SHA256 string `json:"sha256"`
}

// StorageProofMsg is the custodian's response to a challenge, or an error.
type StorageProofMsg struct {
	Type         Type         `json:"type"`
	ChallengeID  string       `json:"challenge_id"`
	Kind         ChallengeKind `json:"kind"`
	ChunkProofs  []ChunkProof `json:"chunk_proofs,omitempty"`
	FileProofs   []FileProof  `json:"file_proofs,omitempty"`
	MetadataHash string       `json:"metadata_hash,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// BackupStartMsg announces the start of a backup's transfer.
type BackupStartMsg struct {
	Type       Type   `json:"type"`
	TransferID string `json:"transfer_id"`
	BackupID   string `json:"backup_id"`
	Name       string `json:"name"`
	FileCount  int    `json:"file_count"`
	TotalBytes int64  `json:"total_bytes"`
}

// FileStartMsg announces a single file's transfer, possibly a resume.
type FileStartMsg struct {
	Type           Type   `json:"type"`
	TransferID     string `json:"transfer_id"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	TotalChunks    int    `json:"total_chunks"`
	ChunkSize      int    `json:"chunk_size"`
	FileHash       string `json:"file_hash"`
	ResumeFromChunk int   `json:"resume_from_chunk"`
}

// FileStartAckMsg acknowledges readiness to receive a file.
type FileStartAckMsg struct {
	Type       Type   `json:"type"`
	TransferID string `json:"transfer_id"`
	Ready      bool   `json:"ready"`
	Reason     string `json:"reason,omitempty"`
}

// FileChunkMsg carries one encrypted chunk.
type FileChunkMsg struct {
	Type               Type   `json:"type"`
	TransferID         string `json:"transfer_id"`
	ChunkIndex         int    `json:"chunk_index"`
	ChunkSize          int    `json:"chunk_size"`
	CiphertextBase64   string `json:"ciphertext"`
	ChunkHash          string `json:"chunk_hash"`
}

// ChunkAckStatus enumerates chunk_ack outcomes.
type ChunkAckStatus string

const (
	ChunkAckReceived ChunkAckStatus = "received"
	ChunkAckError    ChunkAckStatus = "error"
)

// ChunkAckMsg acknowledges (or rejects) one file_chunk.
type ChunkAckMsg struct {
	Type       Type           `json:"type"`
	TransferID string         `json:"transfer_id"`
	ChunkIndex int            `json:"chunk_index"`
	Status     ChunkAckStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
}

// FileCompleteMsg marks the end of a file's chunk stream.
type FileCompleteMsg struct {
	Type       Type   `json:"type"`
	TransferID string `json:"transfer_id"`
}

// FileCompleteAckStatus enumerates file_complete_ack outcomes.
type FileCompleteAckStatus string

const (
	FileCompleteSuccess FileCompleteAckStatus = "success"
	FileCompleteFailure FileCompleteAckStatus = "failure"
)

// FileCompleteAckMsg reports whether the reassembled file verified.
type FileCompleteAckMsg struct {
	Type         Type                  `json:"type"`
	TransferID   string                `json:"transfer_id"`
	Status       FileCompleteAckStatus `json:"status"`
	RelativeName string                `json:"relative_name,omitempty"`
	Reason       string                `json:"reason,omitempty"`
}

// BackupCompleteMsg ends a backup's transfer.
type BackupCompleteMsg struct {
	Type       Type   `json:"type"`
	TransferID string `json:"transfer_id"`
	BackupID   string `json:"backup_id"`
}

// Decode sniffs the type discriminator in data and unmarshals into the
// matching concrete struct, returning it as interface{}. Unknown tags or
// malformed JSON yield a ProtocolError.
func Decode(data []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.NewProtocolError(errs.ProtocolMalformed, err)
	}

	var target interface{}
	switch env.Type {
	case TypePeerIdentity:
		target = &PeerIdentityMsg{}
	case TypePing:
		target = &PingMsg{}
	case TypePong:
		target = &PongMsg{}
	case TypeStorageCommitment:
		target = &StorageCommitmentMsg{}
	case TypeStorageChallenge:
		target = &StorageChallengeMsg{}
	case TypeStorageProof:
		target = &StorageProofMsg{}
	case TypeBackupStart:
		target = &BackupStartMsg{}
	case TypeFileStart:
		target = &FileStartMsg{}
	case TypeFileChunk:
		target = &FileChunkMsg{}
	case TypeFileComplete:
		target = &FileCompleteMsg{}
	case TypeFileStartAck:
		target = &FileStartAckMsg{}
	case TypeChunkAck:
		target = &ChunkAckMsg{}
	case TypeFileCompleteAck:
		target = &FileCompleteAckMsg{}
	case TypeBackupComplete:
		target = &BackupCompleteMsg{}
	default:
		return nil, errs.NewProtocolError(errs.ProtocolUnknownType, nil)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, errs.NewProtocolError(errs.ProtocolMalformed, err)
	}
	return target, nil
}

// Encode marshals a typed message back to its newline-delimited JSON form.
func Encode(msg interface{}) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errs.NewProtocolError(errs.ProtocolMalformed, err)
	}
	return append(b, '\n'), nil
}
