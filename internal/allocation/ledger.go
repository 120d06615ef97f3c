// Package allocation enforces the symmetric give-to-get storage accounting
// give-to-get allocation ledger.
package allocation

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// Ledger tracks per-peer offered/consumed storage and the global aggregates
// that back the give-to-get invariant: consumed_global <= offered_global.
type Ledger struct {
	mu             sync.Mutex
	entries        map[string]*model.AllocationEntry
	offeredGlobal  int64
	consumedGlobal int64
	maxOffered     int64
}

// New constructs an empty Ledger with the given global offer ceiling.
func New(maxOffered int64) *Ledger {
	return &Ledger{
		entries:    make(map[string]*model.AllocationEntry),
		maxOffered: maxOffered,
	}
}

func (l *Ledger) entryFor(peerIDHash string) *model.AllocationEntry {
	e, ok := l.entries[peerIDHash]
	if !ok {
		e = &model.AllocationEntry{PeerIDHash: peerIDHash}
		l.entries[peerIDHash] = e
	}
	return e
}

// MayAccept reports whether an inbound storage request of n bytes from peer
// P may be admitted: consumed_global + n <= offered_global + offered_to_P,
// and offered_global stays under the configured ceiling.
func (l *Ledger) MayAccept(peerIDHash string, n int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.offeredGlobal >= l.maxOffered {
		return errs.NewAllocationError(errs.AllocationCapacityExhausted)
	}
	e := l.entries[peerIDHash]
	offeredToP := int64(0)
	if e != nil {
		offeredToP = e.OfferedToThem
	}
	if l.consumedGlobal+n > l.offeredGlobal+offeredToP {
		return errs.NewAllocationError(errs.AllocationRatioViolation)
	}
	return nil
}

// Accept records acceptance of an inbound storage request, incrementing
// offered-to-P and the global offered total.
func (l *Ledger) Accept(peerIDHash string, n int64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryFor(peerIDHash)
	e.OfferedToThem += n
	e.LastUpdate = now
	l.offeredGlobal += n
}

// Place records our data placed with peer P, incrementing consumed-from-P
// and the global consumed total.
func (l *Ledger) Place(peerIDHash, backupID string, n int64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryFor(peerIDHash)
	e.ConsumedFrom += n
	e.BackupIDs = append(e.BackupIDs, backupID)
	e.LastUpdate = now
	l.consumedGlobal += n
}

// Release returns n bytes on backup deletion to the appropriate side:
// fromConsumed selects whether the release credits consumed (our data
// removed from P) or offered (P's data we no longer hold for them).
func (l *Ledger) Release(peerIDHash string, n int64, fromConsumed bool, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryFor(peerIDHash)
	if fromConsumed {
		e.ConsumedFrom -= n
		l.consumedGlobal -= n
	} else {
		e.OfferedToThem -= n
		l.offeredGlobal -= n
	}
	e.LastUpdate = now
}

// Validate checks that per-peer sums reconcile with globals and that
// consumed_global <= offered_global. A violation is reportable but
// non-fatal — callers log it, they do not panic.
func (l *Ledger) Validate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sumOffered, sumConsumed int64
	for _, e := range l.entries {
		sumOffered += e.OfferedToThem
		sumConsumed += e.ConsumedFrom
	}
	if sumOffered != l.offeredGlobal || sumConsumed != l.consumedGlobal {
		return errs.NewAllocationError(errs.AllocationRatioViolation)
	}
	if l.consumedGlobal > l.offeredGlobal {
		return errs.NewAllocationError(errs.AllocationRatioViolation)
	}
	return nil
}

// Totals returns the current global offered/consumed sums.
func (l *Ledger) Totals() (offered, consumed int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offeredGlobal, l.consumedGlobal
}

// Snapshot is the serializable form persisted to allocation.json.
type Snapshot struct {
	Entries        []model.AllocationEntry `json:"entries"`
	OfferedGlobal  int64                   `json:"offered_global"`
	ConsumedGlobal int64                   `json:"consumed_global"`
	MaxOffered     int64                   `json:"max_offered"`
}

// Save writes the ledger snapshot to path.
func (l *Ledger) Save(path string) error {
	l.mu.Lock()
	snap := Snapshot{OfferedGlobal: l.offeredGlobal, ConsumedGlobal: l.consumedGlobal, MaxOffered: l.maxOffered}
	for _, e := range l.entries {
		snap.Entries = append(snap.Entries, *e)
	}
	l.mu.Unlock()

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	return nil
}

// Load restores a ledger from a snapshot previously written by Save. A
// missing file is not an error — it returns a fresh, empty ledger.
func Load(path string, maxOffered int64) (*Ledger, error) {
	l := New(maxOffered)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, errs.NewStoreError(errs.StoreSchema, err)
	}
	l.offeredGlobal = snap.OfferedGlobal
	l.consumedGlobal = snap.ConsumedGlobal
	for i := range snap.Entries {
		e := snap.Entries[i]
		l.entries[e.PeerIDHash] = &e
	}
	return l, nil
}
