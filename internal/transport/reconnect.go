package transport

import (
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/logging"
)

const (
	maxReconnectAttempts = 5
	reconnectBaseDelay   = time.Second
)

// Dialer abstracts how a fresh Channel is established, either by resuming a
// cached session (no signaling round trip) or by dialing through the
// broker. Supplied by the orchestrator (internal/peer) which knows which
// path applies.
type Dialer interface {
	DialCached(peerIDHash string) (*Channel, error)
	DialSignaling(peerIDHash string) (*Channel, error)
}

// ReconnectBackoff returns the delay before reconnect attempt n (1-indexed):
// base 1s, doubling.
func ReconnectBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := reconnectBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Reconnect drives up to 5 reconnect attempts with exponential backoff,
// preferring cached session resumption for peers last seen within the last
// hour and otherwise falling back to signaling.
func Reconnect(sess *Session, dialer Dialer, log logging.Logger, sleep func(time.Duration)) (*Channel, error) {
	if log == nil {
		log = logging.NewNoop()
	}
	if sleep == nil {
		sleep = time.Sleep
	}

	lastSeen := sess.LastSeen()
	preferCache := EligibleForResumption(lastSeen, time.Now())

	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		var ch *Channel
		var err error
		if preferCache {
			ch, err = dialer.DialCached(sess.PeerIDHash)
			if err != nil {
				log.Warnf("reconnect: cached dial failed for %s, falling back to signaling: %v", sess.PeerIDHash, err)
				ch, err = dialer.DialSignaling(sess.PeerIDHash)
			}
		} else {
			ch, err = dialer.DialSignaling(sess.PeerIDHash)
		}

		if err == nil {
			sess.incrementReconnect()
			return ch, nil
		}
		lastErr = err
		n := sess.incrementReconnect()
		log.Warnf("reconnect attempt %d/%d for %s failed: %v", n, maxReconnectAttempts, sess.PeerIDHash, err)
		if attempt < maxReconnectAttempts {
			sleep(ReconnectBackoff(attempt))
		}
	}
	return nil, errs.NewTransportError(errs.TransportMatchingTimeout, lastErr)
}
