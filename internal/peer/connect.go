package peer

import (
	"backuppeer/internal/errs"
	"backuppeer/internal/transport"
)

// Connect dials peerIDHash, drives the session through matching and
// handshaking, and attaches the resulting PeerSession once the identity
// exchange succeeds.
func (n *Node) Connect(peerIDHash string) (*PeerSession, error) {
	sess := transport.NewSession(peerIDHash)
	if _, err := sess.Transition(transport.EventListenOrDial); err != nil {
		return nil, err
	}

	ch, err := n.DialCached(peerIDHash)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Transition(transport.EventMatched); err != nil {
		ch.Close()
		return nil, err
	}

	return n.handshakeAndAttach(sess, ch)
}

// Accept drives an inbound channel (already matched by the signaling broker
// and connected as the host side) through the handshaking state and
// attaches it once identity verification succeeds.
func (n *Node) Accept(peerIDHash string, ch *transport.Channel) (*PeerSession, error) {
	sess := transport.NewSession(peerIDHash)
	if _, err := sess.Transition(transport.EventListenOrDial); err != nil {
		ch.Close()
		return nil, err
	}
	if _, err := sess.Transition(transport.EventMatched); err != nil {
		ch.Close()
		return nil, err
	}
	return n.handshakeAndAttach(sess, ch)
}

func (n *Node) handshakeAndAttach(sess *transport.Session, ch *transport.Channel) (*PeerSession, error) {
	verifiedHash, peerEncPub, err := n.identityHandshake(ch, n.capabilities())
	if err != nil {
		sess.Transition(transport.EventBadIdentity)
		ch.Close()
		return nil, err
	}
	if sess.PeerIDHash != "" && verifiedHash != sess.PeerIDHash {
		sess.Transition(transport.EventBadIdentity)
		ch.Close()
		return nil, errs.NewIdentityError(errs.IdentityHashMismatch)
	}

	if _, err := sess.Transition(transport.EventAuthenticated); err != nil {
		ch.Close()
		return nil, err
	}
	sess.MarkSeen(now())

	ps := n.AttachPeer(sess, ch, verifiedHash, peerEncPub)
	return ps, nil
}

// capabilities lists the protocol features this build advertises during the
// identity handshake.
func (n *Node) capabilities() []string {
	return []string{"backup-exchange/1"}
}
