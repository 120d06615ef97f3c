package peer

import (
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
	"backuppeer/internal/verification"
	"backuppeer/internal/wire"
)

// outstandingChallenge is an issued challenge awaiting (or past) its
// custodian's response, kept long enough to verify the eventual proof.
type outstandingChallenge struct {
	peerIDHash string
	challenge  wire.StorageChallengeMsg
	backup     model.Backup
	chunks     []model.ChunkState
	issuedAt   time.Time
}

// handleCommitment verifies and persists a peer's storage commitment.
func (n *Node) handleCommitment(ps *PeerSession, m wire.StorageCommitmentMsg) {
	c := model.StorageCommitment{
		PeerID: m.PeerID, EncryptionPubKey: m.EncryptionPubKey, BytesOffered: m.BytesOffered,
		AvailabilityTerms: m.AvailabilityTerms, RetentionPeriodMS: m.RetentionPeriodMS,
		CreatedAt: m.CreatedAt, ExpiresAt: m.ExpiresAt, PublicKey: m.PublicKey,
		Signature: m.Signature, SignaturePubKey: m.SignaturePubKey,
	}
	if err := VerifyCommitment(c, time.Now()); err != nil {
		n.Log.Warnf("peer %s: rejecting storage commitment: %v", ps.PeerIDHash, err)
		return
	}
	if err := n.Store.PutCommitment(c); err != nil {
		n.Log.Warnf("peer %s: failed to persist storage commitment: %v", ps.PeerIDHash, err)
	}
}

// handleChallenge answers an inbound storage_challenge from the custodian's
// side of the relationship, using our local copy of the named backup.
func (n *Node) handleChallenge(ps *PeerSession, m wire.StorageChallengeMsg) {
	backup, err := n.Store.GetBackup(m.BackupID)
	if err != nil {
		n.Log.Warnf("peer %s: challenge for unknown backup %s: %v", ps.PeerIDHash, m.BackupID, err)
		return
	}
	chunks, err := n.Store.ListChunkStates(m.BackupID)
	if err != nil {
		n.Log.Warnf("peer %s: failed to list chunk states for challenge: %v", ps.PeerIDHash, err)
		return
	}
	proof, err := verification.RespondToChallenge(m, backup, chunks, time.Now())
	if err != nil {
		proof = wire.StorageProofMsg{Type: wire.TypeStorageProof, ChallengeID: m.ChallengeID, Kind: m.Kind, Error: err.Error()}
	}
	frame, err := wire.Encode(proof)
	if err != nil {
		return
	}
	if err := ps.Channel.Send(frame); err != nil {
		n.Log.Warnf("peer %s: failed to send storage proof: %v", ps.PeerIDHash, err)
	}
}

// IssueChallenge sends a built challenge to backup's counterparty and
// records it as outstanding until the response, or the expiry timer armed
// here, resolves it. Implements verification.Issuer.
func (n *Node) IssueChallenge(backup model.Backup, challenge wire.StorageChallengeMsg) error {
	ps, ok := n.sessionFor(backup.CounterpartyID)
	if !ok {
		return errs.NewTransportError(errs.TransportChannelClosed, nil)
	}
	chunks, err := n.Store.ListChunkStates(backup.ID)
	if err != nil {
		return err
	}

	frame, err := wire.Encode(challenge)
	if err != nil {
		return err
	}
	if err := ps.Channel.Send(frame); err != nil {
		return err
	}

	n.challengeMu.Lock()
	n.challenges[challenge.ChallengeID] = outstandingChallenge{
		peerIDHash: backup.CounterpartyID, challenge: challenge, backup: backup,
		chunks: chunks, issuedAt: time.Now(),
	}
	n.challengeMu.Unlock()

	id := challenge.ChallengeID
	time.AfterFunc(time.Until(challenge.ExpiresAt), func() {
		n.challengeMu.Lock()
		oc, ok := n.challenges[id]
		delete(n.challenges, id)
		n.challengeMu.Unlock()
		if !ok {
			return
		}
		now := time.Now()
		if err := verification.RecordOutcome(n.Store, n.Reputation, oc.peerIDHash, oc.challenge, nil, verification.OutcomeTimeout, now.Sub(oc.issuedAt), now); err != nil {
			n.Log.Warnf("challenge %s: failed to record timeout: %v", id, err)
		}
	})
	return nil
}

// handleProof resolves an outstanding challenge against the custodian's
// returned proof and records the outcome.
func (n *Node) handleProof(ps *PeerSession, m wire.StorageProofMsg) {
	n.challengeMu.Lock()
	oc, ok := n.challenges[m.ChallengeID]
	if ok {
		delete(n.challenges, m.ChallengeID)
	}
	n.challengeMu.Unlock()
	if !ok {
		n.Log.Warnf("peer %s: storage proof for unknown challenge %s", ps.PeerIDHash, m.ChallengeID)
		return
	}

	now := time.Now()
	verifyErr := verification.VerifyProof(oc.challenge, m, oc.backup, oc.chunks)
	outcome := verification.Classify(verifyErr, now, oc.challenge.ExpiresAt)
	responseTime := now.Sub(oc.issuedAt)

	if err := verification.RecordOutcome(n.Store, n.Reputation, ps.PeerIDHash, oc.challenge, &m, outcome, responseTime, now); err != nil {
		n.Log.Warnf("peer %s: failed to record challenge outcome: %v", ps.PeerIDHash, err)
	}
}
