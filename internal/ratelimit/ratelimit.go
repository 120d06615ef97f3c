// Package ratelimit implements backuppeer's dual-window sliding admission
// control per peer-id-hash, plus per-message-type caps and temporary bans,
// for per-peer dispatch.
package ratelimit

import (
	"sync"
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/logging"
)

// MessageTypeLimit describes a per-message-kind cap that overrides the
// coarse window for a known message kind.
type MessageTypeLimit struct {
	Max    int
	Window time.Duration
}

// DefaultMessageTypeLimits gives the default per-message-type caps.
func DefaultMessageTypeLimits() map[string]MessageTypeLimit {
	return map[string]MessageTypeLimit{
		"file_chunk":         {Max: 200, Window: 60 * time.Second},
		"ping":               {Max: 60, Window: 60 * time.Second},
		"storage_challenge":  {Max: 10, Window: 60 * time.Second},
		"peer_identity":      {Max: 5, Window: 60 * time.Second},
		"file_start":         {Max: 20, Window: 60 * time.Second},
	}
}

// Config configures a Limiter's windows and ban policy.
type Config struct {
	CoarseWindow       time.Duration
	CoarseMax          int
	BurstWindow        time.Duration
	BurstMax           int
	BanDuration        time.Duration
	CoarseBanThreshold float64
	BurstBanThreshold  float64
	MessageTypeLimits  map[string]MessageTypeLimit
}

// DefaultConfig returns the default rate-limit configuration.
func DefaultConfig() Config {
	return Config{
		CoarseWindow:       60 * time.Second,
		CoarseMax:          100,
		BurstWindow:        time.Second,
		BurstMax:           20,
		BanDuration:        5 * time.Minute,
		CoarseBanThreshold: 0.9,
		BurstBanThreshold:  0.95,
		MessageTypeLimits:  DefaultMessageTypeLimits(),
	}
}

// Event fires when a peer is banned, so the dispatcher/transport can react.
type Event struct {
	PeerIDHash string
	BannedFor  time.Duration
	At         time.Time
}

type peerRecord struct {
	mu          sync.Mutex
	coarse      []time.Time
	burst       []time.Time
	byType      map[string][]time.Time
	bannedUntil time.Time
}

// Limiter admits or denies inbound messages per peer-id-hash.
type Limiter struct {
	cfg Config
	log logging.Logger

	mu      sync.Mutex
	peers   map[string]*peerRecord
	events  chan Event

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Limiter and starts its garbage-collection task, which
// runs every half of the coarse window.
func New(cfg Config, log logging.Logger) *Limiter {
	if log == nil {
		log = logging.NewNoop()
	}
	l := &Limiter{
		cfg:     cfg,
		log:     log,
		peers:   make(map[string]*peerRecord),
		events:  make(chan Event, 64),
		closing: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.gcLoop()
	return l
}

// Events returns the channel of ban notifications.
func (l *Limiter) Events() <-chan Event { return l.events }

// Close stops the garbage-collection task.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
		l.wg.Wait()
	})
}

func (l *Limiter) recordFor(peerIDHash string) *peerRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.peers[peerIDHash]
	if !ok {
		r = &peerRecord{byType: make(map[string][]time.Time)}
		l.peers[peerIDHash] = r
	}
	return r
}

// Allow checks whether a message of the given kind from peerIDHash may be
// admitted at time now. Rejections never mutate the counters for that
// request.
func (l *Limiter) Allow(peerIDHash, kind string, now time.Time) error {
	r := l.recordFor(peerIDHash)
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Before(r.bannedUntil) {
		return errs.NewRateLimitError(errs.RateLimitBanned)
	}

	r.burst = pruneBefore(r.burst, now.Add(-l.cfg.BurstWindow))
	if len(r.burst) >= l.cfg.BurstMax {
		l.maybeBan(r, peerIDHash, now)
		return errs.NewRateLimitError(errs.RateLimitBurst)
	}

	if lim, ok := l.cfg.MessageTypeLimits[kind]; ok {
		hist := r.byType[kind]
		hist = pruneBefore(hist, now.Add(-lim.Window))
		r.byType[kind] = hist
		if len(hist) >= lim.Max {
			return errs.NewRateLimitError(errs.RateLimitMessageType)
		}
	} else {
		r.coarse = pruneBefore(r.coarse, now.Add(-l.cfg.CoarseWindow))
		if len(r.coarse) >= l.cfg.CoarseMax {
			l.maybeBan(r, peerIDHash, now)
			return errs.NewRateLimitError(errs.RateLimitWindow)
		}
	}

	r.burst = append(r.burst, now)
	if _, ok := l.cfg.MessageTypeLimits[kind]; ok {
		r.byType[kind] = append(r.byType[kind], now)
	} else {
		r.coarse = append(r.coarse, now)
	}
	return nil
}

// maybeBan inspects window utilization and bans the peer when either the
// coarse or burst window is repeatedly saturated past its threshold.
// Caller holds r.mu.
func (l *Limiter) maybeBan(r *peerRecord, peerIDHash string, now time.Time) {
	coarseUtil := float64(len(r.coarse)) / float64(l.cfg.CoarseMax)
	burstUtil := float64(len(r.burst)) / float64(l.cfg.BurstMax)
	if coarseUtil <= l.cfg.CoarseBanThreshold && burstUtil <= l.cfg.BurstBanThreshold {
		return
	}
	until := now.Add(l.cfg.BanDuration)
	if until.After(r.bannedUntil) {
		r.bannedUntil = until
	}
	select {
	case l.events <- Event{PeerIDHash: peerIDHash, BannedFor: l.cfg.BanDuration, At: now}:
	default:
		l.log.Warnf("ratelimit: event channel full, dropping ban event for %s", peerIDHash)
	}
}

// IsBanned reports whether peerIDHash is currently banned.
func (l *Limiter) IsBanned(peerIDHash string, now time.Time) bool {
	l.mu.Lock()
	r, ok := l.peers[peerIDHash]
	l.mu.Unlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Before(r.bannedUntil)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

func (l *Limiter) gcLoop() {
	defer l.wg.Done()
	interval := l.cfg.CoarseWindow / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-l.closing:
			return
		case now := <-t.C:
			l.gc(now)
		}
	}
}

func (l *Limiter) gc(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, r := range l.peers {
		r.mu.Lock()
		r.coarse = pruneBefore(r.coarse, now.Add(-l.cfg.CoarseWindow))
		r.burst = pruneBefore(r.burst, now.Add(-l.cfg.BurstWindow))
		for k, hist := range r.byType {
			if lim, ok := l.cfg.MessageTypeLimits[k]; ok {
				r.byType[k] = pruneBefore(hist, now.Add(-lim.Window))
			}
		}
		empty := len(r.coarse) == 0 && len(r.burst) == 0 && now.After(r.bannedUntil)
		for _, hist := range r.byType {
			if len(hist) != 0 {
				empty = false
			}
		}
		r.mu.Unlock()
		if empty {
			delete(l.peers, id)
		}
	}
}
