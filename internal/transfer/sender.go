package transfer

import (
	"encoding/base64"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"backuppeer/internal/crypto"
	"backuppeer/internal/errs"
	"backuppeer/internal/logging"
	"backuppeer/internal/model"
	"backuppeer/internal/store"
	"backuppeer/internal/wire"
)

// DefaultChunkSize is used when config.Transfer.ChunkSize is unset.
const DefaultChunkSize = 64 * 1024

// DefaultMaxChunkAttempts is used when config.Transfer.MaxChunkAttempts is
// unset. The resumption algorithm caps retries without mandating any
// inter-attempt delay.
const DefaultMaxChunkAttempts = 3

// AckTimeout bounds how long the sender waits for a file_start_ack,
// chunk_ack, or file_complete_ack before treating the attempt as failed.
const AckTimeout = 30 * time.Second

// FrameSender is the minimal channel surface the sender and receiver need,
// satisfied by *transport.Channel; kept local so this package doesn't
// require a direct transport dependency for testing.
type FrameSender interface {
	Send(data []byte) error
}

// Sender streams one file's chunks across a channel, persisting per-chunk
// state as it goes and honoring a prior resumption point. Every chunk and
// file boundary blocks on the peer's wire-level acknowledgement before the
// sender advances: a chunk is only marked completed once its chunk_ack
// arrives, and file_complete is only emitted once every chunk for that file
// has been acked.
type Sender struct {
	ch          FrameSender
	secrets     *crypto.SecretCache
	store       *store.Store
	log         logging.Logger
	chunkSize   int
	maxAttempts int

	mu      sync.Mutex
	waiters map[string]chan interface{}
}

// NewSender builds a Sender. chunkSize/maxAttempts of zero fall back to the
// package defaults.
func NewSender(ch FrameSender, secrets *crypto.SecretCache, st *store.Store, log logging.Logger, chunkSize, maxAttempts int) *Sender {
	if log == nil {
		log = logging.NewNoop()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxChunkAttempts
	}
	return &Sender{
		ch: ch, secrets: secrets, store: st, log: log, chunkSize: chunkSize, maxAttempts: maxAttempts,
		waiters: make(map[string]chan interface{}),
	}
}

// HandleFileStartAck delivers an inbound file_start_ack to whichever SendFile
// call is waiting on transferID. Routed here by the owning session's
// dispatcher.
func (s *Sender) HandleFileStartAck(msg wire.FileStartAckMsg) { s.deliverAck(msg.TransferID, msg) }

// HandleChunkAck delivers an inbound chunk_ack to whichever sendChunk call is
// waiting on transferID.
func (s *Sender) HandleChunkAck(msg wire.ChunkAckMsg) { s.deliverAck(msg.TransferID, msg) }

// HandleFileCompleteAck delivers an inbound file_complete_ack to whichever
// SendFile call is waiting on transferID.
func (s *Sender) HandleFileCompleteAck(msg wire.FileCompleteAckMsg) {
	s.deliverAck(msg.TransferID, msg)
}

func (s *Sender) deliverAck(transferID string, msg interface{}) {
	s.mu.Lock()
	ch, ok := s.waiters[transferID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		// no one is waiting on this slot right now; drop rather than block
		// the dispatcher's single-threaded receive loop.
	}
}

func (s *Sender) registerWait(transferID string) chan interface{} {
	ch := make(chan interface{}, 1)
	s.mu.Lock()
	s.waiters[transferID] = ch
	s.mu.Unlock()
	return ch
}

func (s *Sender) unregisterWait(transferID string) {
	s.mu.Lock()
	delete(s.waiters, transferID)
	s.mu.Unlock()
}

// sendAndAwaitAck registers a waiter for transferID, sends msg, and blocks
// until the matching ack arrives or AckTimeout elapses. The waiter is
// registered before the send so an ack that arrives synchronously (or on a
// faster goroutine than the caller) is never dropped.
func (s *Sender) sendAndAwaitAck(transferID string, msg interface{}) (interface{}, error) {
	ch := s.registerWait(transferID)
	defer s.unregisterWait(transferID)

	if err := s.sendMsg(msg); err != nil {
		return nil, err
	}
	select {
	case ack := <-ch:
		return ack, nil
	case <-time.After(AckTimeout):
		return nil, errs.NewTransferError(errs.TransferAckTimeout, nil)
	}
}

// SendFile transmits backupID's file at path to peerIDHash, encrypting each
// chunk under the peer's derived shared secret. resumeFromChunk, when
// nonzero, skips chunks already acknowledged by a prior attempt. file_start
// and file_complete each block on their wire-level ack before the transfer
// is allowed to proceed.
func (s *Sender) SendFile(transferID, backupID, peerIDHash string, peerEncryptionPublic [32]byte, path string, resumeFromChunk int) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.NewTransferError(errs.TransferSourceChanged, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errs.NewTransferError(errs.TransferSourceChanged, err)
	}
	size := info.Size()
	totalChunks := int((size + int64(s.chunkSize) - 1) / int64(s.chunkSize))

	fileHash, err := hashFile(path)
	if err != nil {
		return errs.NewTransferError(errs.TransferSourceChanged, err)
	}

	start := wire.FileStartMsg{
		Type:            wire.TypeFileStart,
		TransferID:      transferID,
		FileName:        info.Name(),
		FileSize:        size,
		TotalChunks:     totalChunks,
		ChunkSize:       s.chunkSize,
		FileHash:        fileHash,
		ResumeFromChunk: resumeFromChunk,
	}
	startAckVal, err := s.sendAndAwaitAck(transferID, start)
	if err != nil {
		return err
	}
	startAck, ok := startAckVal.(wire.FileStartAckMsg)
	if !ok || !startAck.Ready {
		return errs.NewTransferError(errs.TransferAckRejected, errors.New(ackRejectReason(ok, startAck.Reason)))
	}

	secret, err := s.secrets.Derive(peerIDHash, peerEncryptionPublic)
	if err != nil {
		return err
	}

	for idx := resumeFromChunk; idx < totalChunks; idx++ {
		if err := s.sendChunk(backupID, transferID, path, idx, secret); err != nil {
			return err
		}
	}

	completeAckVal, err := s.sendAndAwaitAck(transferID, wire.FileCompleteMsg{Type: wire.TypeFileComplete, TransferID: transferID})
	if err != nil {
		return err
	}
	completeAck, ok := completeAckVal.(wire.FileCompleteAckMsg)
	if !ok || completeAck.Status != wire.FileCompleteSuccess {
		return errs.NewTransferError(errs.TransferFileIntegrity, errors.New(ackRejectReason(ok, completeAck.Reason)))
	}
	return nil
}

func ackRejectReason(ok bool, reason string) string {
	if !ok {
		return "unexpected ack message"
	}
	if reason == "" {
		return "rejected"
	}
	return reason
}

// sendChunk implements the send-then-await-ack sequence for a single chunk,
// making up to maxAttempts attempts in all, retrying on a transport failure,
// a timed-out ack, or an error ack.
func (s *Sender) sendChunk(backupID, transferID, path string, idx int, secret [32]byte) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		data, err := readChunk(path, idx, s.chunkSize)
		if err != nil {
			return errs.NewTransferError(errs.TransferSourceChanged, err)
		}
		hash := crypto.SHA256(data)

		state := model.ChunkState{
			BackupID: backupID, FilePath: path, ChunkIndex: idx, ChunkHash: hash,
			ChunkSize: len(data), State: model.TransferTransferring,
			AttemptCount: attempt, LastAttempt: time.Now(),
		}
		if err := s.store.PutChunkState(state); err != nil {
			s.log.Warnf("transfer: failed to persist chunk state backup=%s chunk=%d: %v", backupID, idx, err)
		}

		ciphertext, err := crypto.Encrypt(secret, data)
		if err != nil {
			return err
		}

		msg := wire.FileChunkMsg{
			Type: wire.TypeFileChunk, TransferID: transferID, ChunkIndex: idx,
			ChunkSize: len(data), CiphertextBase64: base64.StdEncoding.EncodeToString(ciphertext), ChunkHash: hash,
		}
		ackVal, err := s.sendAndAwaitAck(transferID, msg)
		if err != nil {
			lastErr = err
			state.State = model.TransferFailed
			state.ErrorMessage = err.Error()
			_ = s.store.PutChunkState(state)
			continue
		}
		ack, ok := ackVal.(wire.ChunkAckMsg)
		if !ok || ack.ChunkIndex != idx || ack.Status != wire.ChunkAckReceived {
			lastErr = errs.NewTransferError(errs.TransferAckRejected, errors.New(ackRejectReason(ok, ack.Reason)))
			state.State = model.TransferFailed
			state.ErrorMessage = lastErr.Error()
			_ = s.store.PutChunkState(state)
			continue
		}

		state.State = model.TransferCompleted
		_ = s.store.PutChunkState(state)
		return nil
	}
	return errs.NewTransferError(errs.TransferRetryExhausted, lastErr)
}

func (s *Sender) sendMsg(msg interface{}) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.ch.Send(frame); err != nil {
		return err
	}
	return nil
}

func readChunk(path string, idx, chunkSize int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	offset := int64(idx) * int64(chunkSize)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, chunkSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return crypto.SHA256(buf), nil
}
