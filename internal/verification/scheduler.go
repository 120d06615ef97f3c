package verification

import (
	"sync"
	"time"

	"backuppeer/internal/logging"
	"backuppeer/internal/model"
	"backuppeer/internal/store"
	"backuppeer/internal/wire"
)

// DefaultCadence is the default interval between scheduler sweeps.
const DefaultCadence = 24 * time.Hour

// IssuanceSpacing is the minimum delay between two challenges issued in the
// same sweep.
const IssuanceSpacing = time.Second

// Issuer sends a built challenge to the backup's counterparty.
type Issuer interface {
	IssueChallenge(backup model.Backup, challenge wire.StorageChallengeMsg) error
}

// Scheduler periodically issues one random-blocks challenge per active sent
// backup, spacing issuance by at least IssuanceSpacing, grounded on the
// same start/stop/closing-channel idiom used by store.Maintainer and
// transport.Keepalive.
type Scheduler struct {
	st       *store.Store
	issuer   Issuer
	cadence  time.Duration
	log      logging.Logger
	closing  chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewScheduler builds a Scheduler. cadence of zero uses DefaultCadence.
func NewScheduler(st *store.Store, issuer Issuer, cadence time.Duration, log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NewNoop()
	}
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Scheduler{st: st, issuer: issuer, cadence: cadence, log: log, closing: make(chan struct{})}
}

// Start runs the periodic sweep in a background goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the scheduler and waits for its goroutine to exit.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.closing) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	backups, err := s.st.ListBackupsByStatus(model.BackupActive)
	if err != nil {
		s.log.Warnf("verification scheduler: failed to list active backups: %v", err)
		return
	}
	for _, b := range backups {
		if b.Direction != model.DirectionSent {
			continue
		}
		select {
		case <-s.closing:
			return
		default:
		}

		chunks, err := s.st.ListChunkStates(b.ID)
		if err != nil {
			s.log.Warnf("verification scheduler: failed to list chunk states for backup %s: %v", b.ID, err)
			continue
		}
		challenge, err := BuildRandomBlocksChallenge(b.ID, chunks)
		if err != nil {
			s.log.Warnf("verification scheduler: failed to build challenge for backup %s: %v", b.ID, err)
			continue
		}
		if err := s.issuer.IssueChallenge(b, challenge); err != nil {
			s.log.Warnf("verification scheduler: failed to issue challenge for backup %s: %v", b.ID, err)
		}

		select {
		case <-s.closing:
			return
		case <-time.After(IssuanceSpacing):
		}
	}
}
