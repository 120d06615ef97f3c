package store

import (
	"database/sql"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// PutCommitment inserts or replaces a peer's storage commitment. The
// signature column is encrypted at rest.
func (s *Store) PutCommitment(c model.StorageCommitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encSig, err := s.encryptField(c.Signature)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO storage_commitments (peer_id, encryption_public_key, bytes_offered, availability_terms, retention_period_ms, created_at, expires_at, public_key, signature, signature_public_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			encryption_public_key=excluded.encryption_public_key, bytes_offered=excluded.bytes_offered,
			availability_terms=excluded.availability_terms, retention_period_ms=excluded.retention_period_ms,
			created_at=excluded.created_at, expires_at=excluded.expires_at, public_key=excluded.public_key,
			signature=excluded.signature, signature_public_key=excluded.signature_public_key`,
		c.PeerID, c.EncryptionPubKey, c.BytesOffered, c.AvailabilityTerms, c.RetentionPeriodMS,
		unixMillis(c.CreatedAt), unixMillis(c.ExpiresAt), c.PublicKey, encSig, c.SignaturePubKey)
	return wrapExec(err)
}

// GetCommitment retrieves and decrypts a peer's storage commitment.
func (s *Store) GetCommitment(peerID string) (model.StorageCommitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT peer_id, encryption_public_key, bytes_offered, availability_terms, retention_period_ms, created_at, expires_at, public_key, signature, signature_public_key FROM storage_commitments WHERE peer_id = ?`, peerID)
	var c model.StorageCommitment
	var createdAt, expiresAt int64
	var encSig []byte
	if err := row.Scan(&c.PeerID, &c.EncryptionPubKey, &c.BytesOffered, &c.AvailabilityTerms, &c.RetentionPeriodMS, &createdAt, &expiresAt, &c.PublicKey, &encSig, &c.SignaturePubKey); err != nil {
		if err == sql.ErrNoRows {
			return model.StorageCommitment{}, notFound("storage_commitments", peerID)
		}
		return model.StorageCommitment{}, errs.NewStoreError(errs.StoreIO, err)
	}
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	sig, err := s.decryptField(encSig)
	if err != nil {
		return model.StorageCommitment{}, err
	}
	c.Signature = sig
	return c, nil
}

// ListExpiredCommitments returns commitments whose expiry is at or before
// cutoffMS (unix millis), used by both the allocation layer and maintenance.
func (s *Store) ListExpiredCommitments(cutoffMS int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT peer_id FROM storage_commitments WHERE expires_at <= ?`, cutoffMS)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.NewStoreError(errs.StoreIO, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
