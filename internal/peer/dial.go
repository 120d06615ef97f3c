package peer

import (
	"encoding/json"
	"time"

	"backuppeer/internal/crypto"
	"backuppeer/internal/errs"
	"backuppeer/internal/model"
	"backuppeer/internal/transport"
)

// identityHandshake exchanges signed peer_identity messages over a freshly
// opened channel and returns the verified counterparty's hash and
// encryption public key, or a CryptoError/IdentityError on mismatch.
func (n *Node) identityHandshake(ch *transport.Channel, capabilities []string) (string, [32]byte, error) {
	fingerprint := ch.Fingerprint()
	if fingerprint == "" {
		fingerprint = sessionProofFingerprint
	}
	proof, err := n.Keys.BuildSessionProof(fingerprint)
	if err != nil {
		return "", [32]byte{}, err
	}
	identity := n.Keys.BuildIdentity(capabilities)
	frame, err := encodeJSON(identityMsgFrom(identity, n.Keys.EncryptionPublic, proof))
	if err != nil {
		return "", [32]byte{}, err
	}

	received := make(chan []byte, 1)
	ch.OnMessage(func(data []byte) { select { case received <- data: default: } })
	if err := ch.Send(frame); err != nil {
		return "", [32]byte{}, err
	}

	select {
	case data := <-received:
		var peerMsg identityMsg
		if err := json.Unmarshal(data, &peerMsg); err != nil {
			return "", [32]byte{}, errs.NewProtocolError(errs.ProtocolMalformed, err)
		}
		verdict := crypto.VerifyIdentity(peerMsg.toModel(), time.Now())
		if !verdict.Valid {
			return "", [32]byte{}, verdict.Reason
		}
		if err := crypto.VerifySessionProof(peerMsg.Proof, verdict.PublicKey, time.Now()); err != nil {
			return "", [32]byte{}, err
		}
		return verdict.PeerIDHash, peerMsg.EncryptionKey, nil
	case <-time.After(30 * time.Second):
		return "", [32]byte{}, errs.NewTransportError(errs.TransportMatchingTimeout, nil)
	}
}

// identityMsg mirrors wire.PeerIdentityMsg; kept local to avoid a dispatcher
// dependency during the pre-dispatch handshake phase.
type identityMsg struct {
	Type            string             `json:"type"`
	PeerIDHash      string             `json:"peer_id_hash"`
	Signature       []byte             `json:"signature"`
	PublicKey       []byte             `json:"public_key"`
	EncryptionKey   [32]byte           `json:"encryption_key"`
	IssuedAt        time.Time          `json:"issued_at"`
	ProtocolVersion int                `json:"protocol_version"`
	Capabilities    []string           `json:"capabilities"`
	Proof           model.SessionProof `json:"session_proof"`
}

func identityMsgFrom(id model.PeerIdentity, encKey [32]byte, proof model.SessionProof) identityMsg {
	return identityMsg{
		Type: "peer_identity", PeerIDHash: id.PeerIDHash, Signature: id.Signature, PublicKey: id.PublicKey,
		EncryptionKey: encKey, IssuedAt: id.IssuedAt, ProtocolVersion: id.ProtocolVersion, Capabilities: id.Capabilities,
		Proof: proof,
	}
}

func (m identityMsg) toModel() model.PeerIdentity {
	return model.PeerIdentity{
		PeerIDHash: m.PeerIDHash, Signature: m.Signature, PublicKey: m.PublicKey,
		IssuedAt: m.IssuedAt, ProtocolVersion: m.ProtocolVersion, Capabilities: m.Capabilities,
	}
}

func encodeJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.NewProtocolError(errs.ProtocolMalformed, err)
	}
	return append(b, '\n'), nil
}

// DialCached implements transport.Dialer's cached path. It returns a
// TransportError when the store holds no cached peer connection for
// peerIDHash; otherwise it dials through the signaling broker exactly as
// DialSignaling does. The cached record's contents, including its
// resumption blob, are not used.
func (n *Node) DialCached(peerIDHash string) (*transport.Channel, error) {
	cached, ok, err := n.Store.GetCachedPeerConnection(peerIDHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NewTransportError(errs.TransportChannelClosed, nil)
	}
	_ = cached
	return n.DialSignaling(peerIDHash)
}

// DialSignaling establishes a fresh channel to peerIDHash by matching
// through the signaling broker and negotiating WebRTC as the requester.
func (n *Node) DialSignaling(peerIDHash string) (*transport.Channel, error) {
	sig, err := transport.DialSignaling(n.Config.Signaling.URL, n.Log)
	if err != nil {
		return nil, err
	}
	defer sig.Close()

	self := crypto.PeerIDHash(n.Keys.SigningPublic)
	req := transport.ConnectToPeerMsg{TargetPeerID: peerIDHash, RequesterPeerID: self}
	if err := sig.Send(transport.SigConnectToPeer, req); err != nil {
		return nil, err
	}

	var offerSDP string
	for {
		env, err := sig.ReadEnvelope()
		if err != nil {
			return nil, err
		}
		if env.Type == transport.SigOffer {
			var sdp transport.SDPExchangeMsg
			if err := json.Unmarshal(env.Data, &sdp); err != nil {
				return nil, errs.NewProtocolError(errs.ProtocolMalformed, err)
			}
			offerSDP = sdp.Payload
			break
		}
		if env.Type == transport.SigConnectionRejected || env.Type == transport.SigConnectionFailed {
			return nil, errs.NewTransportError(errs.TransportMatchingTimeout, nil)
		}
	}

	ch, err := transport.NewAnsweringChannel(n.Log)
	if err != nil {
		return nil, err
	}
	answerSDP, err := ch.SetRemoteOffer(offerSDP)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := sig.Send(transport.SigAnswer, transport.SDPExchangeMsg{Payload: answerSDP, TargetPeer: peerIDHash}); err != nil {
		ch.Close()
		return nil, err
	}

	select {
	case <-ch.Opened():
	case <-time.After(n.Config.Transport.ConnectTimeout):
		ch.Close()
		return nil, errs.NewTransportError(errs.TransportMatchingTimeout, nil)
	}
	return ch, nil
}

// Reconnect drives the shared backoff/resume algorithm for sess, using this
// Node as the transport.Dialer.
func (n *Node) Reconnect(sess *transport.Session) (*transport.Channel, error) {
	return transport.Reconnect(sess, n, n.Log, nil)
}
