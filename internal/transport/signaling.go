package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"backuppeer/internal/errs"
	"backuppeer/internal/logging"
)

// SignalingMsgType enumerates the broker↔client message set.
type SignalingMsgType string

const (
	SigHostSlot          SignalingMsgType = "host-slot"
	SigConnectToPeer     SignalingMsgType = "connect-to-peer"
	SigSlotHosted        SignalingMsgType = "slot-hosted"
	SigConnectionRequest SignalingMsgType = "connection-request"
	SigAcceptConnection  SignalingMsgType = "accept-connection"
	SigPeerMatched       SignalingMsgType = "peer-matched"
	SigConnectionRejected SignalingMsgType = "connection-rejected"
	SigConnectionFailed  SignalingMsgType = "connection-failed"
	SigOffer             SignalingMsgType = "offer"
	SigAnswer            SignalingMsgType = "answer"
	SigIceCandidate      SignalingMsgType = "ice-candidate"
)

// SignalingEnvelope is the outer shape of every signaling message; Payload
// is re-decoded per Type by the caller.
type SignalingEnvelope struct {
	Type SignalingMsgType `json:"type"`
	Data json.RawMessage  `json:"data,omitempty"`
}

// HostSlotMsg advertises spare storage capacity to the broker.
type HostSlotMsg struct {
	PeerID      string `json:"peerId"`
	Storage     int64  `json:"storage"`
	DurationMS  int64  `json:"duration"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	PublicKey   []byte `json:"publicKey"`
	TrustLevel  string `json:"trustLevel,omitempty"`
	Reputation  float64 `json:"reputation,omitempty"`
}

// ConnectToPeerMsg targets a specific peer-id-hash for a connection.
type ConnectToPeerMsg struct {
	TargetPeerID    string `json:"targetPeerId"`
	RequesterPeerID string `json:"requesterPeerId"`
	Requirements    struct {
		Storage int64 `json:"storage"`
	} `json:"requirements"`
}

// PeerMatchedMsg is sent by the broker once two sides are paired.
type PeerMatchedMsg struct {
	PeerID   string `json:"peerId"`
	SocketID string `json:"socketId"`
	Role     string `json:"role"` // "host" or "requester"
}

// ConnectionRejectedMsg explains why a connection request was refused.
type ConnectionRejectedMsg struct {
	Reason string `json:"reason"`
}

// ConnectionFailedMsg reports a broker-side matching failure.
type ConnectionFailedMsg struct {
	Error string `json:"error"`
}

// SDPExchangeMsg carries offer/answer/ice-candidate payloads in both
// directions; TargetPeer is set client→broker, FromPeer broker→client.
type SDPExchangeMsg struct {
	Payload    string `json:"payload"`
	TargetPeer string `json:"targetPeer,omitempty"`
	FromPeer   string `json:"fromPeer,omitempty"`
}

// SignalingClient is a thin gorilla/websocket wrapper around the broker
// connection. It owns no session state: callers drive Session transitions
// from the messages it decodes.
type SignalingClient struct {
	conn *websocket.Conn
	log  logging.Logger
	mu   sync.Mutex
}

// DialSignaling connects to the broker at url.
func DialSignaling(url string, log logging.Logger) (*SignalingClient, error) {
	if log == nil {
		log = logging.NewNoop()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errs.NewTransportError(errs.TransportMatchingTimeout, err)
	}
	return &SignalingClient{conn: conn, log: log}, nil
}

// Close closes the broker connection.
func (c *SignalingClient) Close() error {
	return c.conn.Close()
}

// Send writes an envelope to the broker, JSON-marshaling data into it.
func (c *SignalingClient) Send(msgType SignalingMsgType, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(data)
	if err != nil {
		return errs.NewProtocolError(errs.ProtocolMalformed, err)
	}
	env := SignalingEnvelope{Type: msgType, Data: raw}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(env)
}

// ReadEnvelope blocks for the broker's next message.
func (c *SignalingClient) ReadEnvelope() (SignalingEnvelope, error) {
	var env SignalingEnvelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return SignalingEnvelope{}, errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	return env, nil
}
