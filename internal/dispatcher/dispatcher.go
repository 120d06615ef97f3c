// Package dispatcher implements backuppeer's single inbound-message path
// per session: decode, ban check, rate limit, then route to the handler
// for the message kind.
package dispatcher

import (
	"sync/atomic"
	"time"

	"backuppeer/internal/logging"
	"backuppeer/internal/ratelimit"
	"backuppeer/internal/wire"
)

// Handlers groups the callbacks a Dispatcher routes decoded messages to.
// OnPing/OnPong/OnPeerIdentity are the session's own direct handlers; the
// rest route to the transfer and verification components that own that
// state. A nil callback means the message is decoded and then dropped.
type Handlers struct {
	OnPing              func(wire.PingMsg)
	OnPong              func(wire.PongMsg)
	OnPeerIdentity      func(wire.PeerIdentityMsg)
	OnBackupStart       func(wire.BackupStartMsg)
	OnFileStart         func(wire.FileStartMsg)
	OnFileStartAck      func(wire.FileStartAckMsg)
	OnFileChunk         func(wire.FileChunkMsg)
	OnChunkAck          func(wire.ChunkAckMsg)
	OnFileComplete      func(wire.FileCompleteMsg)
	OnFileCompleteAck   func(wire.FileCompleteAckMsg)
	OnBackupComplete    func(wire.BackupCompleteMsg)
	OnStorageCommitment func(wire.StorageCommitmentMsg)
	OnStorageChallenge  func(wire.StorageChallengeMsg)
	OnStorageProof      func(wire.StorageProofMsg)
}

// Dispatcher routes frames from a single peer channel to their handlers,
// after decoding, ban, and rate-limit checks.
type Dispatcher struct {
	PeerIDHash string
	limiter    *ratelimit.Limiter
	handlers   Handlers
	log        logging.Logger

	malformedCount int64
	droppedBanned  int64
	droppedLimited int64
	ignoredCount   int64
}

// New constructs a Dispatcher for one session's inbound frames.
func New(peerIDHash string, limiter *ratelimit.Limiter, handlers Handlers, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewNoop()
	}
	return &Dispatcher{PeerIDHash: peerIDHash, limiter: limiter, handlers: handlers, log: log}
}

// MalformedCount returns the running count of frames dropped for decode
// failure, exposed for diagnostics/tests.
func (d *Dispatcher) MalformedCount() int64 { return atomic.LoadInt64(&d.malformedCount) }

// DroppedBannedCount returns how many frames were dropped for an active ban.
func (d *Dispatcher) DroppedBannedCount() int64 { return atomic.LoadInt64(&d.droppedBanned) }

// DroppedLimitedCount returns how many frames were dropped by the rate limiter.
func (d *Dispatcher) DroppedLimitedCount() int64 { return atomic.LoadInt64(&d.droppedLimited) }

// IgnoredCount returns how many decoded frames matched no known routing rule.
func (d *Dispatcher) IgnoredCount() int64 { return atomic.LoadInt64(&d.ignoredCount) }

// Dispatch processes one inbound frame: decode, ban check, rate limit, route.
// It never returns an error for a malformed or rejected frame; those are
// dropped with a counter bump, matching the "drop, don't propagate"
// contract of the checklist.
func (d *Dispatcher) Dispatch(frame []byte) error {
	msg, err := wire.Decode(frame)
	if err != nil {
		atomic.AddInt64(&d.malformedCount, 1)
		d.log.Warnf("dispatcher: dropping malformed frame from %s: %v", d.PeerIDHash, err)
		return nil
	}

	now := time.Now()
	kind := msgKind(msg)

	if d.limiter.IsBanned(d.PeerIDHash, now) {
		atomic.AddInt64(&d.droppedBanned, 1)
		d.log.Debugf("dispatcher: dropping frame from banned peer %s", d.PeerIDHash)
		return nil
	}

	if err := d.limiter.Allow(d.PeerIDHash, string(kind), now); err != nil {
		atomic.AddInt64(&d.droppedLimited, 1)
		d.log.Debugf("dispatcher: rate-limited frame kind=%s from %s: %v", kind, d.PeerIDHash, err)
		return nil
	}

	switch m := msg.(type) {
	case *wire.PingMsg:
		if d.handlers.OnPing != nil {
			d.handlers.OnPing(*m)
		}
	case *wire.PongMsg:
		if d.handlers.OnPong != nil {
			d.handlers.OnPong(*m)
		}
	case *wire.PeerIdentityMsg:
		if d.handlers.OnPeerIdentity != nil {
			d.handlers.OnPeerIdentity(*m)
		}
	case *wire.BackupStartMsg:
		if d.handlers.OnBackupStart != nil {
			d.handlers.OnBackupStart(*m)
		}
	case *wire.FileStartMsg:
		if d.handlers.OnFileStart != nil {
			d.handlers.OnFileStart(*m)
		}
	case *wire.FileStartAckMsg:
		if d.handlers.OnFileStartAck != nil {
			d.handlers.OnFileStartAck(*m)
		}
	case *wire.FileChunkMsg:
		if d.handlers.OnFileChunk != nil {
			d.handlers.OnFileChunk(*m)
		}
	case *wire.ChunkAckMsg:
		if d.handlers.OnChunkAck != nil {
			d.handlers.OnChunkAck(*m)
		}
	case *wire.FileCompleteMsg:
		if d.handlers.OnFileComplete != nil {
			d.handlers.OnFileComplete(*m)
		}
	case *wire.FileCompleteAckMsg:
		if d.handlers.OnFileCompleteAck != nil {
			d.handlers.OnFileCompleteAck(*m)
		}
	case *wire.BackupCompleteMsg:
		if d.handlers.OnBackupComplete != nil {
			d.handlers.OnBackupComplete(*m)
		}
	case *wire.StorageCommitmentMsg:
		if d.handlers.OnStorageCommitment != nil {
			d.handlers.OnStorageCommitment(*m)
		}
	case *wire.StorageChallengeMsg:
		if d.handlers.OnStorageChallenge != nil {
			d.handlers.OnStorageChallenge(*m)
		}
	case *wire.StorageProofMsg:
		if d.handlers.OnStorageProof != nil {
			d.handlers.OnStorageProof(*m)
		}
	default:
		atomic.AddInt64(&d.ignoredCount, 1)
		d.log.Warnf("dispatcher: ignoring unroutable message kind=%s from %s", kind, d.PeerIDHash)
	}
	return nil
}

func msgKind(msg interface{}) wire.Type {
	switch m := msg.(type) {
	case *wire.PingMsg:
		return m.Type
	case *wire.PongMsg:
		return m.Type
	case *wire.PeerIdentityMsg:
		return m.Type
	case *wire.BackupStartMsg:
		return m.Type
	case *wire.FileStartMsg:
		return m.Type
	case *wire.FileStartAckMsg:
		return m.Type
	case *wire.FileChunkMsg:
		return m.Type
	case *wire.ChunkAckMsg:
		return m.Type
	case *wire.FileCompleteMsg:
		return m.Type
	case *wire.FileCompleteAckMsg:
		return m.Type
	case *wire.BackupCompleteMsg:
		return m.Type
	case *wire.StorageCommitmentMsg:
		return m.Type
	case *wire.StorageChallengeMsg:
		return m.Type
	case *wire.StorageProofMsg:
		return m.Type
	default:
		return ""
	}
}
