package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"backuppeer/internal/crypto"
	"backuppeer/internal/errs"
	"backuppeer/internal/logging"
)

// Channel wraps a single pion/webrtc PeerConnection and its one ordered,
// reliable DataChannel carrying the identity handshake, session proof, and
// all subsequent framed wire messages, generalized from
// core/rpc_webrtc.go's single HTTP offer/answer bridge into a full
// signaling-mediated peer-to-peer channel.
type Channel struct {
	conn *webrtc.PeerConnection
	dc   *webrtc.DataChannel

	mu       sync.Mutex
	sendLock sync.Mutex
	onMsg    func([]byte)
	onOpen   chan struct{}
	onClose  chan struct{}
	openOnce sync.Once
	closeOnce sync.Once
}

const dataChannelLabel = "backuppeer"

// defaultICEServers mirrors a typical public STUN-only configuration. Both
// channel constructors use it as is; no TURN relays are configured.
func defaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
}

// NewHostChannel creates a PeerConnection and its data channel for the
// offering side (the host in the host/requester handshake).
func NewHostChannel(log logging.Logger) (*Channel, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: defaultICEServers()})
	if err != nil {
		return nil, errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	ch := newChannel(pc, log)
	ch.bind(dc)
	return ch, nil
}

// NewAnsweringChannel creates a PeerConnection for the answering side
// (the requester), binding whichever data channel the host opens.
func NewAnsweringChannel(log logging.Logger) (*Channel, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: defaultICEServers()})
	if err != nil {
		return nil, errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	ch := newChannel(pc, log)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch.bind(dc)
	})
	return ch, nil
}

func newChannel(pc *webrtc.PeerConnection, log logging.Logger) *Channel {
	if log == nil {
		log = logging.NewNoop()
	}
	ch := &Channel{conn: pc, onOpen: make(chan struct{}), onClose: make(chan struct{})}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed || s == webrtc.PeerConnectionStateDisconnected {
			ch.closeOnce.Do(func() { close(ch.onClose) })
		}
	})
	return ch
}

func (c *Channel) bind(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.onOpen) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		handler := c.onMsg
		c.mu.Unlock()
		if handler != nil {
			handler(msg.Data)
		}
	})
	dc.OnClose(func() {
		c.closeOnce.Do(func() { close(c.onClose) })
	})
}

// OnMessage registers the inbound-message handler invoked for every frame
// received on the data channel, from the pion callback goroutine.
func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

// Opened returns a channel closed once the data channel has opened.
func (c *Channel) Opened() <-chan struct{} { return c.onOpen }

// Closed returns a channel closed once the peer connection has terminated.
func (c *Channel) Closed() <-chan struct{} { return c.onClose }

// Send writes a single frame to the data channel. Sends are serialized per
// channel; a failure is returned as a TransportError (channel-closed).
func (c *Channel) Send(data []byte) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return errs.NewTransportError(errs.TransportChannelClosed, nil)
	}
	if err := dc.Send(data); err != nil {
		return errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	return nil
}

// CreateOffer produces a local offer SDP and sets it as the local
// description, waiting for ICE gathering to complete so the returned SDP
// carries every local candidate (non-trickle exchange over signaling).
func (c *Channel) CreateOffer() (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.conn)
	offer, err := c.conn.CreateOffer(nil)
	if err != nil {
		return "", errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	if err := c.conn.SetLocalDescription(offer); err != nil {
		return "", errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	<-gatherComplete
	return c.conn.LocalDescription().SDP, nil
}

// SetRemoteOffer applies a remote offer and produces a local answer SDP,
// likewise waiting for gathering to complete before returning it.
func (c *Channel) SetRemoteOffer(sdp string) (string, error) {
	if err := c.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.conn)
	answer, err := c.conn.CreateAnswer(nil)
	if err != nil {
		return "", errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	if err := c.conn.SetLocalDescription(answer); err != nil {
		return "", errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	<-gatherComplete
	return c.conn.LocalDescription().SDP, nil
}

// SetRemoteAnswer applies a remote answer to a previously created offer.
func (c *Channel) SetRemoteAnswer(sdp string) error {
	if err := c.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	return nil
}

// AddICECandidate adds a remote trickle-ICE candidate.
func (c *Channel) AddICECandidate(candidate string) error {
	if err := c.conn.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return errs.NewTransportError(errs.TransportChannelClosed, err)
	}
	return nil
}

// OnICECandidate registers the local candidate callback, invoked once per
// gathered candidate (nil signals end-of-candidates).
func (c *Channel) OnICECandidate(fn func(candidate *webrtc.ICECandidate)) {
	c.conn.OnICECandidate(fn)
}

// Fingerprint returns the hex SHA-256 digest of this connection's local
// session description (which carries the DTLS certificate fingerprint), or
// "" before a local description is set. It is used to bind a session proof
// to this specific channel instance rather than just the peer's long-lived
// identity key.
func (c *Channel) Fingerprint() string {
	desc := c.conn.LocalDescription()
	if desc == nil {
		return ""
	}
	return crypto.SHA256([]byte(desc.SDP))
}

// Close tears down the data channel and peer connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
	return c.conn.Close()
}
