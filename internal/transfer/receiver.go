package transfer

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"encoding/base64"

	"backuppeer/internal/crypto"
	"backuppeer/internal/errs"
	"backuppeer/internal/logging"
	"backuppeer/internal/model"
	"backuppeer/internal/store"
	"backuppeer/internal/wire"
)

// inboundTransfer tracks one in-flight incoming file, keyed by TransferID.
type inboundTransfer struct {
	backupID     string
	relativeName string
	quarantine   *os.File
	quarantinePath string
	finalPath    string
	chunkSize    int
	totalChunks  int
	fileHash     string
	peerIDHash   string
	secret       [32]byte
}

// Receiver accepts inbound file_start/file_chunk/file_complete messages,
// decrypting and verifying each chunk before it is ever acknowledged, and
// only exposing a received file once its reassembled hash matches the
// declared manifest hash.
type Receiver struct {
	ch      FrameSender
	secrets *crypto.SecretCache
	store   *store.Store
	log     logging.Logger

	quarantineDir string
	finalDir      string

	mu        sync.Mutex
	transfers map[string]*inboundTransfer
}

// NewReceiver builds a Receiver rooted at quarantineDir (partial files) and
// finalDir (completed, verified files).
func NewReceiver(ch FrameSender, secrets *crypto.SecretCache, st *store.Store, log logging.Logger, quarantineDir, finalDir string) *Receiver {
	if log == nil {
		log = logging.NewNoop()
	}
	return &Receiver{
		ch: ch, secrets: secrets, store: st, log: log,
		quarantineDir: quarantineDir, finalDir: finalDir,
		transfers: make(map[string]*inboundTransfer),
	}
}

// HandleFileStart allocates a quarantine file for the announced transfer and
// acknowledges readiness (or rejects if allocation fails).
func (r *Receiver) HandleFileStart(backupID, peerIDHash string, peerEncryptionPublic [32]byte, msg wire.FileStartMsg) error {
	secret, err := r.secrets.Derive(peerIDHash, peerEncryptionPublic)
	if err != nil {
		return r.ack(wire.FileStartAckMsg{Type: wire.TypeFileStartAck, TransferID: msg.TransferID, Ready: false, Reason: err.Error()})
	}

	if err := os.MkdirAll(r.quarantineDir, 0o700); err != nil {
		return r.ack(wire.FileStartAckMsg{Type: wire.TypeFileStartAck, TransferID: msg.TransferID, Ready: false, Reason: err.Error()})
	}
	qPath := filepath.Join(r.quarantineDir, msg.TransferID)
	f, err := os.OpenFile(qPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return r.ack(wire.FileStartAckMsg{Type: wire.TypeFileStartAck, TransferID: msg.TransferID, Ready: false, Reason: err.Error()})
	}
	if err := f.Truncate(msg.FileSize); err != nil {
		f.Close()
		return r.ack(wire.FileStartAckMsg{Type: wire.TypeFileStartAck, TransferID: msg.TransferID, Ready: false, Reason: err.Error()})
	}

	in := &inboundTransfer{
		backupID: backupID, relativeName: msg.FileName, quarantine: f, quarantinePath: qPath,
		finalPath: filepath.Join(r.finalDir, msg.FileName), chunkSize: msg.ChunkSize,
		totalChunks: msg.TotalChunks, fileHash: msg.FileHash, peerIDHash: peerIDHash, secret: secret,
	}
	r.mu.Lock()
	r.transfers[msg.TransferID] = in
	r.mu.Unlock()

	return r.ack(wire.FileStartAckMsg{Type: wire.TypeFileStartAck, TransferID: msg.TransferID, Ready: true})
}

// HandleFileChunk decrypts, verifies, and persists one inbound chunk. A bad
// decrypt or hash mismatch is acknowledged with an error status and the
// chunk is never written to the quarantine file.
func (r *Receiver) HandleFileChunk(msg wire.FileChunkMsg) error {
	r.mu.Lock()
	in := r.transfers[msg.TransferID]
	r.mu.Unlock()
	if in == nil {
		return r.ack(wire.ChunkAckMsg{Type: wire.TypeChunkAck, TransferID: msg.TransferID, ChunkIndex: msg.ChunkIndex, Status: wire.ChunkAckError, Reason: "unknown transfer"})
	}

	ciphertext, err := base64.StdEncoding.DecodeString(msg.CiphertextBase64)
	if err != nil {
		return r.rejectChunk(in, msg, "bad base64")
	}
	plaintext, err := crypto.Decrypt(in.secret, ciphertext)
	if err != nil {
		return r.rejectChunk(in, msg, "decryption failed")
	}
	if crypto.SHA256(plaintext) != msg.ChunkHash {
		return r.rejectChunk(in, msg, "hash mismatch")
	}

	offset := int64(msg.ChunkIndex) * int64(in.chunkSize)
	if _, err := in.quarantine.WriteAt(plaintext, offset); err != nil {
		return r.rejectChunk(in, msg, "write failed")
	}

	_ = r.store.PutChunkState(model.ChunkState{
		BackupID: in.backupID, FilePath: in.finalPath, ChunkIndex: msg.ChunkIndex,
		ChunkHash: msg.ChunkHash, ChunkSize: len(plaintext), State: model.TransferCompleted,
		AttemptCount: 1, LastAttempt: time.Now(),
	})

	return r.ack(wire.ChunkAckMsg{Type: wire.TypeChunkAck, TransferID: msg.TransferID, ChunkIndex: msg.ChunkIndex, Status: wire.ChunkAckReceived})
}

func (r *Receiver) rejectChunk(in *inboundTransfer, msg wire.FileChunkMsg, reason string) error {
	r.log.Warnf("transfer: rejecting chunk %d of transfer %s: %s", msg.ChunkIndex, msg.TransferID, reason)
	_ = r.store.PutChunkState(model.ChunkState{
		BackupID: in.backupID, FilePath: in.finalPath, ChunkIndex: msg.ChunkIndex,
		ChunkHash: msg.ChunkHash, State: model.TransferFailed, ErrorMessage: reason,
		AttemptCount: 1, LastAttempt: time.Now(),
	})
	return r.ack(wire.ChunkAckMsg{Type: wire.TypeChunkAck, TransferID: msg.TransferID, ChunkIndex: msg.ChunkIndex, Status: wire.ChunkAckError, Reason: reason})
}

// HandleFileComplete verifies the reassembled file's hash and, on success,
// atomically moves it out of quarantine into the final directory.
func (r *Receiver) HandleFileComplete(msg wire.FileCompleteMsg) error {
	r.mu.Lock()
	in := r.transfers[msg.TransferID]
	delete(r.transfers, msg.TransferID)
	r.mu.Unlock()
	if in == nil {
		return r.ack(wire.FileCompleteAckMsg{Type: wire.TypeFileCompleteAck, TransferID: msg.TransferID, Status: wire.FileCompleteFailure, Reason: "unknown transfer"})
	}

	incomplete, err := r.store.IncompleteChunks(in.backupID)
	if err == nil && len(incomplete) > 0 {
		in.quarantine.Close()
		return r.ack(wire.FileCompleteAckMsg{Type: wire.TypeFileCompleteAck, TransferID: msg.TransferID, Status: wire.FileCompleteFailure, Reason: "missing chunks"})
	}

	if _, err := in.quarantine.Seek(0, io.SeekStart); err != nil {
		in.quarantine.Close()
		return r.failComplete(in, msg, err.Error())
	}
	data, err := io.ReadAll(in.quarantine)
	in.quarantine.Close()
	if err != nil {
		return r.failComplete(in, msg, err.Error())
	}
	if crypto.SHA256(data) != in.fileHash {
		return r.failComplete(in, msg, "file hash mismatch")
	}

	if err := os.MkdirAll(r.finalDir, 0o700); err != nil {
		return r.failComplete(in, msg, err.Error())
	}
	if err := os.Rename(in.quarantinePath, in.finalPath); err != nil {
		return r.failComplete(in, msg, err.Error())
	}

	return r.ack(wire.FileCompleteAckMsg{Type: wire.TypeFileCompleteAck, TransferID: msg.TransferID, Status: wire.FileCompleteSuccess, RelativeName: in.relativeName})
}

func (r *Receiver) failComplete(in *inboundTransfer, msg wire.FileCompleteMsg, reason string) error {
	_ = os.Remove(in.quarantinePath)
	r.log.Warnf("transfer: discarding quarantined file for transfer %s: %s", msg.TransferID, reason)
	return r.ack(wire.FileCompleteAckMsg{Type: wire.TypeFileCompleteAck, TransferID: msg.TransferID, Status: wire.FileCompleteFailure, Reason: reason})
}

func (r *Receiver) ack(msg interface{}) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return errs.NewProtocolError(errs.ProtocolMalformed, err)
	}
	return r.ch.Send(frame)
}
