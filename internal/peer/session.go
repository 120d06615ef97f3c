package peer

import (
	"time"

	"backuppeer/internal/dispatcher"
	"backuppeer/internal/transfer"
	"backuppeer/internal/transport"
	"backuppeer/internal/wire"
)

// PeerSession bundles the per-peer runtime state attached once a channel's
// identity handshake has completed: the session state machine, the data
// channel, its dispatcher and keepalive, and the receive side of the
// transfer pipeline.
type PeerSession struct {
	node       *Node
	PeerIDHash string
	EncPubKey  [32]byte

	Session    *transport.Session
	Channel    *transport.Channel
	Dispatcher *dispatcher.Dispatcher
	Keepalive  *transport.Keepalive
	Receiver   *transfer.Receiver
	Sender     *transfer.Sender

	transferBackups map[string]string // transferID -> backupID, for inbound transfers
}

// AttachPeer wires a freshly authenticated channel into a running PeerSession:
// dispatcher routing, keepalive, and the transfer receive path. The caller
// has already verified the peer's identity and transitioned the Session to
// Connected.
func (n *Node) AttachPeer(sess *transport.Session, ch *transport.Channel, peerIDHash string, peerEncPub [32]byte) *PeerSession {
	ps := &PeerSession{
		node: n, PeerIDHash: peerIDHash, EncPubKey: peerEncPub,
		Session: sess, Channel: ch, transferBackups: make(map[string]string),
	}
	ps.Receiver = transfer.NewReceiver(ch, n.Secrets, n.Store, n.Log, n.quarantineDir(), n.receivedDir())
	ps.Sender = transfer.NewSender(ch, n.Secrets, n.Store, n.Log, n.Config.Transfer.ChunkSize, n.Config.Transfer.MaxChunkAttempts)
	ps.Keepalive = transport.NewKeepalive(ch, n.Keys, n.Log, func() { n.handleDisconnect(ps) })

	handlers := dispatcher.Handlers{
		OnPing: func(wire.PingMsg) {},
		OnPong: func(wire.PongMsg) { ps.Keepalive.HandlePong() },
		OnStorageCommitment: func(m wire.StorageCommitmentMsg) { n.handleCommitment(ps, m) },
		OnStorageChallenge:  func(m wire.StorageChallengeMsg) { n.handleChallenge(ps, m) },
		OnStorageProof:      func(m wire.StorageProofMsg) { n.handleProof(ps, m) },
		OnBackupStart:       func(m wire.BackupStartMsg) { ps.transferBackups[m.TransferID] = m.BackupID },
		OnFileStart: func(m wire.FileStartMsg) {
			backupID := ps.transferBackups[m.TransferID]
			if err := ps.Receiver.HandleFileStart(backupID, peerIDHash, peerEncPub, m); err != nil {
				n.Log.Warnf("peer %s: HandleFileStart: %v", peerIDHash, err)
			}
		},
		OnFileStartAck: func(m wire.FileStartAckMsg) { ps.Sender.HandleFileStartAck(m) },
		OnFileChunk: func(m wire.FileChunkMsg) {
			if err := ps.Receiver.HandleFileChunk(m); err != nil {
				n.Log.Warnf("peer %s: HandleFileChunk: %v", peerIDHash, err)
			}
		},
		OnChunkAck: func(m wire.ChunkAckMsg) { ps.Sender.HandleChunkAck(m) },
		OnFileComplete: func(m wire.FileCompleteMsg) {
			if err := ps.Receiver.HandleFileComplete(m); err != nil {
				n.Log.Warnf("peer %s: HandleFileComplete: %v", peerIDHash, err)
			}
			delete(ps.transferBackups, m.TransferID)
		},
		OnFileCompleteAck: func(m wire.FileCompleteAckMsg) { ps.Sender.HandleFileCompleteAck(m) },
		OnBackupComplete:  func(m wire.BackupCompleteMsg) {},
	}
	ps.Dispatcher = dispatcher.New(peerIDHash, n.Limiter, handlers, n.Log)
	ch.OnMessage(func(data []byte) { _ = ps.Dispatcher.Dispatch(data) })

	ps.Keepalive.Start()
	n.addSession(ps)
	n.Reputation.RecordConnection(peerIDHash, true, 0, time.Now())
	return ps
}

// Close tears down a session's background tasks and underlying channel.
func (ps *PeerSession) Close() {
	ps.Keepalive.Stop()
	_ = ps.Channel.Close()
	ps.node.removeSession(ps.PeerIDHash)
}

func (n *Node) handleDisconnect(ps *PeerSession) {
	n.Log.Warnf("peer %s: keepalive missed limit exceeded, disconnecting", ps.PeerIDHash)
	ps.Close()
}
