package transport

import (
	"crypto/ed25519"
	"sync"
	"sync/atomic"
	"time"

	"backuppeer/internal/crypto"
	"backuppeer/internal/logging"
	"backuppeer/internal/wire"
)

const (
	keepaliveInterval = 30 * time.Second
	missedAckLimit    = 2
)

// Keepalive sends a signed ping every 30s over a channel and triggers
// Disconnect after two consecutive missing acks.
type Keepalive struct {
	channel    *Channel
	keys       *crypto.KeyPair
	log        logging.Logger
	Disconnect func()

	missed  int32
	closing chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewKeepalive constructs a Keepalive bound to channel, signing pings with
// keys and invoking onDisconnect after two missed acks.
func NewKeepalive(channel *Channel, keys *crypto.KeyPair, log logging.Logger, onDisconnect func()) *Keepalive {
	if log == nil {
		log = logging.NewNoop()
	}
	return &Keepalive{channel: channel, keys: keys, log: log, Disconnect: onDisconnect, closing: make(chan struct{})}
}

// Start launches the keepalive loop.
func (k *Keepalive) Start() {
	k.wg.Add(1)
	go k.loop()
}

// Stop signals the loop to exit and waits for it.
func (k *Keepalive) Stop() {
	k.once.Do(func() { close(k.closing) })
	k.wg.Wait()
}

// HandlePong resets the missed-ack counter; called by the dispatcher on
// every inbound PongMsg for this session.
func (k *Keepalive) HandlePong() {
	atomic.StoreInt32(&k.missed, 0)
}

func (k *Keepalive) loop() {
	defer k.wg.Done()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-k.closing:
			return
		case <-ticker.C:
			k.tick()
		}
	}
}

func (k *Keepalive) tick() {
	missed := atomic.AddInt32(&k.missed, 1)
	if missed > missedAckLimit {
		k.log.Warnf("keepalive: missed %d acks, triggering disconnect", missed)
		if k.Disconnect != nil {
			k.Disconnect()
		}
		return
	}

	ping := wire.PingMsg{Type: wire.TypePing, Timestamp: time.Now().UTC()}
	digest := crypto.SHA256Bytes(pingSignable(ping))
	ping.Signature = ed25519.Sign(k.keys.SigningPrivate, digest[:])

	data, err := wire.Encode(ping)
	if err != nil {
		k.log.Warnf("keepalive: encode ping: %v", err)
		return
	}
	if err := k.channel.Send(data); err != nil {
		k.log.Warnf("keepalive: send ping failed: %v", err)
	}
}

func pingSignable(p wire.PingMsg) []byte {
	return []byte(p.Timestamp.Format(time.RFC3339Nano))
}
