package store

import (
	"sync"
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// MaintenanceConfig controls how aggressively the background purge job
// reclaims stale rows.
type MaintenanceConfig struct {
	Interval             time.Duration
	ChallengeRetention   time.Duration // default 1 year
	CachedPeerRetention  time.Duration // default 30 days
	ChunkStateRetention  time.Duration // default 7 days
}

// DefaultMaintenanceConfig sets a conservative default purge cadence.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Interval:            time.Hour,
		ChallengeRetention:  365 * 24 * time.Hour,
		CachedPeerRetention: 30 * 24 * time.Hour,
		ChunkStateRetention: 7 * 24 * time.Hour,
	}
}

// Maintainer runs the store's background purge on a ticker, stoppable via
// the same closing-channel idiom used by verification.Scheduler and
// transport.Keepalive.
type Maintainer struct {
	store   *Store
	cfg     MaintenanceConfig
	closing chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewMaintainer constructs a Maintainer bound to store.
func NewMaintainer(store *Store, cfg MaintenanceConfig) *Maintainer {
	return &Maintainer{store: store, cfg: cfg, closing: make(chan struct{})}
}

// Start launches the purge loop.
func (m *Maintainer) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop signals the loop to exit and waits for it.
func (m *Maintainer) Stop() {
	m.once.Do(func() { close(m.closing) })
	m.wg.Wait()
}

func (m *Maintainer) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.closing:
			return
		case <-ticker.C:
			m.runOnce(time.Now())
		}
	}
}

func (m *Maintainer) runOnce(now time.Time) {
	log := m.store.log
	log.Debugf("store maintenance pass starting")
	if n, err := m.store.PurgeChallengesBefore(now.Add(-m.cfg.ChallengeRetention)); err != nil {
		log.Warnf("purge challenges failed: %v", err)
	} else if n > 0 {
		log.Infof("purged %d expired challenges", n)
	}
	if n, err := m.store.PurgeCompletedSessionsBefore(now.Add(-m.cfg.CachedPeerRetention)); err != nil {
		log.Warnf("purge transfer sessions failed: %v", err)
	} else if n > 0 {
		log.Infof("purged %d completed transfer sessions", n)
	}
	if n, err := m.store.PurgeCachedPeersBefore(now.Add(-m.cfg.CachedPeerRetention)); err != nil {
		log.Warnf("purge cached peers failed: %v", err)
	} else if n > 0 {
		log.Infof("purged %d stale cached peer connections", n)
	}
	if n, err := m.store.PurgeCompletedChunksBefore(now.Add(-m.cfg.ChunkStateRetention)); err != nil {
		log.Warnf("purge chunk states failed: %v", err)
	} else if n > 0 {
		log.Infof("purged %d completed chunk states", n)
	}
}

// Stats is the aggregate view returned by Store.Stats. OfferedBytesGlobal
// and ConsumedBytesGlobal are not filled in by Stats and stay zero.
type Stats struct {
	TotalBackups       int
	ActiveBackups      int
	CompletedBackups   int
	TotalBytesStored   int64
	KnownPeers         int
	BlacklistedPeers   int
	PendingChallenges  int
	ActiveTransfers    int
	OfferedBytesGlobal int64
	ConsumedBytesGlobal int64
}

// Stats aggregates counts and totals across the store's tables.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(total_bytes), 0) FROM backups`)
	if err := row.Scan(&st.TotalBackups, &st.TotalBytesStored); err != nil {
		return Stats{}, errs.NewStoreError(errs.StoreIO, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM backups WHERE status = ?`, string(model.BackupActive)).Scan(&st.ActiveBackups); err != nil {
		return Stats{}, errs.NewStoreError(errs.StoreIO, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM backups WHERE status = ?`, string(model.BackupCompleted)).Scan(&st.CompletedBackups); err != nil {
		return Stats{}, errs.NewStoreError(errs.StoreIO, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM peers`).Scan(&st.KnownPeers); err != nil {
		return Stats{}, errs.NewStoreError(errs.StoreIO, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM peers WHERE trust_level = ?`, string(model.TrustBlacklisted)).Scan(&st.BlacklistedPeers); err != nil {
		return Stats{}, errs.NewStoreError(errs.StoreIO, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM verification_challenges WHERE outcome = ?`, string(ChallengeOutcomePending)).Scan(&st.PendingChallenges); err != nil {
		return Stats{}, errs.NewStoreError(errs.StoreIO, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM transfer_sessions WHERE status = ?`, string(TransferSessionActive)).Scan(&st.ActiveTransfers); err != nil {
		return Stats{}, errs.NewStoreError(errs.StoreIO, err)
	}
	return st, nil
}
