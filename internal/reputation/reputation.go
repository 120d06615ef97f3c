// Package reputation computes weighted peer trust scores from observed
// connection, verification, integrity, and uptime events.
package reputation

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"backuppeer/internal/model"
)

const (
	uptimeWindow       = 50
	autoBlacklistBelow = 0.2
	autoFlushEvery     = 10
)

// Engine owns the in-memory reputation map, protected by a single mutex
// across all reads and updates.
type Engine struct {
	mu          sync.Mutex
	peers       map[string]*model.PeerReputation
	connEvents  int
	persistPath string
}

// New constructs an empty Engine. persistPath is the legacy reputation.json
// export written by Save and by auto-flush; it may be empty to disable
// both.
func New(persistPath string) *Engine {
	return &Engine{peers: make(map[string]*model.PeerReputation), persistPath: persistPath}
}

func (e *Engine) recordFor(peerIDHash string, now time.Time) *model.PeerReputation {
	r, ok := e.peers[peerIDHash]
	if !ok {
		r = &model.PeerReputation{PeerIDHash: peerIDHash, FirstSeen: now, DataIntegrityScore: 1}
		e.peers[peerIDHash] = r
	}
	return r
}

// RecordConnection records a connection attempt outcome and its response time.
func (e *Engine) RecordConnection(peerIDHash string, success bool, responseTime time.Duration, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordFor(peerIDHash, now)
	r.TotalConnections++
	if success {
		r.SuccessfulConns++
	}
	r.AvgResponseTimeMS = rollingAvg(r.AvgResponseTimeMS, r.TotalConnections, float64(responseTime.Milliseconds()))
	r.LastSeen = now
	recompute(r)
	e.connEvents++
	if e.connEvents%autoFlushEvery == 0 {
		_ = e.flushLocked()
	}
}

// RecordChallenge records a verification challenge outcome.
func (e *Engine) RecordChallenge(peerIDHash string, success bool, responseTime time.Duration, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordFor(peerIDHash, now)
	r.TotalChallenges++
	if success {
		r.SuccessfulChallenges++
	}
	r.LastSeen = now
	recompute(r)
}

// RecordTransfer records the outcome of a completed file transfer batch.
func (e *Engine) RecordTransfer(peerIDHash string, fileCount, corruptedCount int, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordFor(peerIDHash, now)
	r.TotalFiles += fileCount
	r.CorruptedFiles += corruptedCount
	if r.TotalFiles == 0 {
		r.DataIntegrityScore = 1
	} else {
		r.DataIntegrityScore = 1 - float64(r.CorruptedFiles)/float64(r.TotalFiles)
	}
	r.LastSeen = now
	recompute(r)
}

// RecordUptime appends an uptime sample, keeping the last 100 observations
// while the score uses a rolling window over the last uptimeWindow samples.
func (e *Engine) RecordUptime(peerIDHash string, up bool, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordFor(peerIDHash, now)
	r.UptimeSamples = append(r.UptimeSamples, up)
	if len(r.UptimeSamples) > 100 {
		r.UptimeSamples = r.UptimeSamples[len(r.UptimeSamples)-100:]
	}
	r.LastSeen = now
	recompute(r)
}

func rollingAvg(prevAvg float64, count int, sample float64) float64 {
	if count <= 1 {
		return sample
	}
	return prevAvg + (sample-prevAvg)/float64(count)
}

func connectionScore(r *model.PeerReputation) float64 {
	if r.TotalConnections == 0 {
		return 0.5
	}
	return float64(r.SuccessfulConns) / float64(r.TotalConnections)
}

func verificationScore(r *model.PeerReputation) float64 {
	if r.TotalChallenges == 0 {
		return 0.5
	}
	return float64(r.SuccessfulChallenges) / float64(r.TotalChallenges)
}

func responseTimeScore(r *model.PeerReputation) float64 {
	s := 1 - r.AvgResponseTimeMS/30000
	if s < 0 {
		return 0
	}
	return s
}

func integrityScore(r *model.PeerReputation) float64 {
	if r.TotalFiles == 0 {
		return 1
	}
	return 1 - float64(r.CorruptedFiles)/float64(r.TotalFiles)
}

func uptimeScore(r *model.PeerReputation) float64 {
	n := len(r.UptimeSamples)
	if n == 0 {
		return 0.5
	}
	start := 0
	if n > uptimeWindow {
		start = n - uptimeWindow
	}
	window := r.UptimeSamples[start:]
	up := 0
	for _, v := range window {
		if v {
			up++
		}
	}
	return float64(up) / float64(len(window))
}

// recompute derives OverallScore and TrustLevel from a record's counters.
// It is paired with every mutating call above.
func recompute(r *model.PeerReputation) {
	uptime := uptimeScore(r)
	rt := responseTimeScore(r)
	verify := verificationScore(r)
	integrity := integrityScore(r)
	_ = connectionScore(r) // connection-score is informative; not weighted in the overall score

	r.DataIntegrityScore = integrity
	overall := 0.3*uptime + 0.2*rt + 0.3*verify + 0.2*integrity

	if r.Blacklisted {
		r.OverallScore = 0
		r.TrustLevel = model.TrustBlacklisted
		return
	}

	if overall < autoBlacklistBelow {
		r.Blacklisted = true
		r.BlacklistReason = "automatic"
		r.OverallScore = 0
		r.TrustLevel = model.TrustBlacklisted
		return
	}

	r.OverallScore = overall
	switch {
	case overall >= 0.8:
		r.TrustLevel = model.TrustTrusted
	case overall >= 0.6:
		r.TrustLevel = model.TrustAcceptable
	case overall >= 0.4:
		r.TrustLevel = model.TrustSuspicious
	default:
		r.TrustLevel = model.TrustUntrusted
	}
}

// Blacklist forcibly blacklists a peer with an explicit reason (e.g. an
// operator decision, distinct from the automatic low-score path).
func (e *Engine) Blacklist(peerIDHash, reason string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordFor(peerIDHash, now)
	r.Blacklisted = true
	r.BlacklistReason = reason
	recompute(r)
}

// Get returns a copy of a peer's current reputation record.
func (e *Engine) Get(peerIDHash string) (model.PeerReputation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.peers[peerIDHash]
	if !ok {
		return model.PeerReputation{}, false
	}
	return *r, true
}

// Acceptable reports whether peerIDHash may be dealt with: not blacklisted
// and overall score at or above min.
func (e *Engine) Acceptable(peerIDHash string, min float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.peers[peerIDHash]
	if !ok {
		return 0.5 >= min // unknown peer: treated as a neutral 0.5 overall score
	}
	if r.Blacklisted {
		return false
	}
	return r.OverallScore >= min
}

// legacyExport is the reputation.json on-disk shape.
type legacyExport struct {
	Peers []model.PeerReputation `json:"peers"`
}

func (e *Engine) flushLocked() error {
	if e.persistPath == "" {
		return nil
	}
	return saveExport(e.persistPath, e.snapshotLocked())
}

func (e *Engine) snapshotLocked() []model.PeerReputation {
	out := make([]model.PeerReputation, 0, len(e.peers))
	for _, r := range e.peers {
		out = append(out, *r)
	}
	return out
}

// Save flushes the current state to the legacy export path.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

func saveExport(path string, peers []model.PeerReputation) error {
	b, err := json.MarshalIndent(legacyExport{Peers: peers}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Load restores an Engine's state from a legacy export path. A missing file
// yields an empty Engine.
func Load(path string) (*Engine, error) {
	e := New(path)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return e, nil
	}
	if err != nil {
		return nil, err
	}
	var exp legacyExport
	if err := json.Unmarshal(b, &exp); err != nil {
		return nil, err
	}
	for i := range exp.Peers {
		p := exp.Peers[i]
		e.peers[p.PeerIDHash] = &p
	}
	return e, nil
}

// MergeImport merges another engine's state into e: for peers present in
// both, LastSeen takes the max timestamp, counters sum, and the blacklist
// flag keeps whichever is more restrictive (true wins).
func (e *Engine) MergeImport(other *Engine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	for id, o := range other.peers {
		cur, ok := e.peers[id]
		if !ok {
			cp := *o
			e.peers[id] = &cp
			continue
		}
		if o.LastSeen.After(cur.LastSeen) {
			cur.LastSeen = o.LastSeen
		}
		cur.TotalConnections += o.TotalConnections
		cur.SuccessfulConns += o.SuccessfulConns
		cur.TotalChallenges += o.TotalChallenges
		cur.SuccessfulChallenges += o.SuccessfulChallenges
		cur.TotalFiles += o.TotalFiles
		cur.CorruptedFiles += o.CorruptedFiles
		cur.Blacklisted = cur.Blacklisted || o.Blacklisted
		if o.Blacklisted && cur.BlacklistReason == "" {
			cur.BlacklistReason = o.BlacklistReason
		}
		recompute(cur)
	}
}
