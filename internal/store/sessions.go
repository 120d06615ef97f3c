package store

import (
	"database/sql"
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// TransferSessionStatus is the lifecycle state of a transfer_sessions row.
type TransferSessionStatus string

const (
	TransferSessionActive    TransferSessionStatus = "active"
	TransferSessionCompleted TransferSessionStatus = "completed"
	TransferSessionFailed    TransferSessionStatus = "failed"
)

// TransferSessionRecord is one row of transfer_sessions, tracking a single
// attempt to move a backup's files over a connected peer channel.
type TransferSessionRecord struct {
	TransferID  string
	BackupID    string
	PeerIDHash  string
	StartedAt   time.Time
	CompletedAt time.Time
	Status      TransferSessionStatus
}

// PutTransferSession inserts or replaces a transfer session record.
func (s *Store) PutTransferSession(r TransferSessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt sql.NullInt64
	if !r.CompletedAt.IsZero() {
		completedAt = sql.NullInt64{Int64: unixMillis(r.CompletedAt), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO transfer_sessions (transfer_id, backup_id, peer_id_hash, started_at, completed_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id) DO UPDATE SET completed_at=excluded.completed_at, status=excluded.status`,
		r.TransferID, r.BackupID, r.PeerIDHash, unixMillis(r.StartedAt), completedAt, string(r.Status))
	return wrapExec(err)
}

// GetTransferSession retrieves a transfer session by ID.
func (s *Store) GetTransferSession(transferID string) (TransferSessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT transfer_id, backup_id, peer_id_hash, started_at, completed_at, status FROM transfer_sessions WHERE transfer_id = ?`, transferID)
	var r TransferSessionRecord
	var status string
	var startedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&r.TransferID, &r.BackupID, &r.PeerIDHash, &startedAt, &completedAt, &status); err != nil {
		if err == sql.ErrNoRows {
			return TransferSessionRecord{}, notFound("transfer_sessions", transferID)
		}
		return TransferSessionRecord{}, errs.NewStoreError(errs.StoreIO, err)
	}
	r.Status = TransferSessionStatus(status)
	r.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		r.CompletedAt = fromMillis(completedAt.Int64)
	}
	return r, nil
}

// PurgeCompletedSessionsBefore deletes completed/failed sessions that ended
// before cutoff.
func (s *Store) PurgeCompletedSessionsBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM transfer_sessions WHERE status != 'active' AND completed_at IS NOT NULL AND completed_at < ?`, unixMillis(cutoff))
	if err != nil {
		return 0, errs.NewStoreError(errs.StoreIO, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PutCachedPeerConnection inserts or replaces a cached resumable session.
// public_key, session_resumption_blob and metadata are encrypted at rest.
func (s *Store) PutCachedPeerConnection(c model.CachedPeerConnection, metadata []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encKey, err := s.encryptField(c.PublicKey)
	if err != nil {
		return err
	}
	encBlob, err := s.encryptField(c.SessionResumption)
	if err != nil {
		return err
	}
	encMeta, err := s.encryptField(metadata)
	if err != nil {
		return err
	}
	var lastSuccess sql.NullInt64
	if !c.LastSuccessAt.IsZero() {
		lastSuccess = sql.NullInt64{Int64: unixMillis(c.LastSuccessAt), Valid: true}
	}
	_, err = s.db.Exec(`
		INSERT INTO cached_peer_connections (peer_id_hash, public_key, session_resumption_blob, metadata, last_seen, trust_level, total_attempts, successful_attempts, last_success_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id_hash) DO UPDATE SET
			public_key=excluded.public_key, session_resumption_blob=excluded.session_resumption_blob, metadata=excluded.metadata,
			last_seen=excluded.last_seen, trust_level=excluded.trust_level, total_attempts=excluded.total_attempts,
			successful_attempts=excluded.successful_attempts, last_success_at=excluded.last_success_at`,
		c.PeerIDHash, encKey, encBlob, encMeta, unixMillis(c.LastSeen), c.TrustLevel, c.TotalAttempts, c.SuccessfulAttempts, lastSuccess)
	return wrapExec(err)
}

// GetCachedPeerConnection retrieves and decrypts a cached session by peer.
// It returns ok=false, rather than an error, when no row exists so callers
// can fall through to a fresh signaling match.
func (s *Store) GetCachedPeerConnection(peerIDHash string) (c model.CachedPeerConnection, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT peer_id_hash, public_key, session_resumption_blob, last_seen, trust_level, total_attempts, successful_attempts, last_success_at FROM cached_peer_connections WHERE peer_id_hash = ?`, peerIDHash)
	var lastSeen int64
	var lastSuccess sql.NullInt64
	var encKey, encBlob []byte
	if serr := row.Scan(&c.PeerIDHash, &encKey, &encBlob, &lastSeen, &c.TrustLevel, &c.TotalAttempts, &c.SuccessfulAttempts, &lastSuccess); serr != nil {
		if serr == sql.ErrNoRows {
			return model.CachedPeerConnection{}, false, nil
		}
		return model.CachedPeerConnection{}, false, errs.NewStoreError(errs.StoreIO, serr)
	}
	c.LastSeen = fromMillis(lastSeen)
	if lastSuccess.Valid {
		c.LastSuccessAt = fromMillis(lastSuccess.Int64)
	}
	if c.PublicKey, err = s.decryptField(encKey); err != nil {
		return model.CachedPeerConnection{}, false, err
	}
	if c.SessionResumption, err = s.decryptField(encBlob); err != nil {
		return model.CachedPeerConnection{}, false, err
	}
	return c, true, nil
}

// PurgeCachedPeersBefore deletes cached sessions not seen since cutoff.
func (s *Store) PurgeCachedPeersBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM cached_peer_connections WHERE last_seen < ?`, unixMillis(cutoff))
	if err != nil {
		return 0, errs.NewStoreError(errs.StoreIO, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
