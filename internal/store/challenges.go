package store

import (
	"database/sql"
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/wire"
)

// ChallengeOutcome records how a verification challenge was resolved.
type ChallengeOutcome string

const (
	ChallengeOutcomePending ChallengeOutcome = "pending"
	ChallengeOutcomeSuccess ChallengeOutcome = "success"
	ChallengeOutcomeFailure ChallengeOutcome = "failure"
	ChallengeOutcomeExpired ChallengeOutcome = "expired"
)

// ChallengeRecord is one row of the verification_challenges table; the
// challenge and response payloads are encrypted at rest.
type ChallengeRecord struct {
	ID            string
	BackupID      string
	PeerIDHash    string
	Kind          wire.ChallengeKind
	ChallengeData []byte
	ResponseData  []byte
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Outcome       ChallengeOutcome
}

// PutChallenge inserts or replaces a challenge record.
func (s *Store) PutChallenge(c ChallengeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encChallenge, err := s.encryptField(c.ChallengeData)
	if err != nil {
		return err
	}
	encResponse, err := s.encryptField(c.ResponseData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO verification_challenges (id, backup_id, peer_id_hash, kind, challenge_data, response_data, issued_at, expires_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			challenge_data=excluded.challenge_data, response_data=excluded.response_data, outcome=excluded.outcome`,
		c.ID, c.BackupID, c.PeerIDHash, string(c.Kind), encChallenge, encResponse, unixMillis(c.IssuedAt), unixMillis(c.ExpiresAt), string(c.Outcome))
	return wrapExec(err)
}

// GetChallenge retrieves and decrypts a challenge record by ID.
func (s *Store) GetChallenge(id string) (ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getChallengeLocked(id)
}

func (s *Store) getChallengeLocked(id string) (ChallengeRecord, error) {
	row := s.db.QueryRow(`SELECT id, backup_id, peer_id_hash, kind, challenge_data, response_data, issued_at, expires_at, outcome FROM verification_challenges WHERE id = ?`, id)
	var c ChallengeRecord
	var kind, outcome string
	var issuedAt, expiresAt int64
	var encChallenge, encResponse []byte
	if err := row.Scan(&c.ID, &c.BackupID, &c.PeerIDHash, &kind, &encChallenge, &encResponse, &issuedAt, &expiresAt, &outcome); err != nil {
		if err == sql.ErrNoRows {
			return ChallengeRecord{}, notFound("verification_challenges", id)
		}
		return ChallengeRecord{}, errs.NewStoreError(errs.StoreIO, err)
	}
	c.Kind = wire.ChallengeKind(kind)
	c.Outcome = ChallengeOutcome(outcome)
	c.IssuedAt = fromMillis(issuedAt)
	c.ExpiresAt = fromMillis(expiresAt)
	var err error
	if c.ChallengeData, err = s.decryptField(encChallenge); err != nil {
		return ChallengeRecord{}, err
	}
	if c.ResponseData, err = s.decryptField(encResponse); err != nil {
		return ChallengeRecord{}, err
	}
	return c, nil
}

// RecentChallengesForPeer returns the most recent challenges issued to a
// peer, newest first, capped at limit — backing the 100-entry rolling
// challenge history.
func (s *Store) RecentChallengesForPeer(peerIDHash string, limit int) ([]ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id FROM verification_challenges WHERE peer_id_hash = ? ORDER BY issued_at DESC LIMIT ?`, peerIDHash, limit)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errs.NewStoreError(errs.StoreIO, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}

	out := make([]ChallengeRecord, 0, len(ids))
	for _, id := range ids {
		c, err := s.getChallengeLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// PurgeChallengesBefore deletes challenges issued before cutoff, returning
// the count removed.
func (s *Store) PurgeChallengesBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM verification_challenges WHERE issued_at < ?`, unixMillis(cutoff))
	if err != nil {
		return 0, errs.NewStoreError(errs.StoreIO, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
