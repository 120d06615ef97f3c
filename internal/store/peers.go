package store

import (
	"database/sql"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// PeerRecord is the persisted peer row; public_key and metadata are
// encrypted at rest via the store's FieldCipher.
type PeerRecord struct {
	PeerIDHash string
	PublicKey  []byte
	Metadata   []byte
	TrustLevel model.TrustLevel
	LastSeen   int64
}

// PutPeer inserts or replaces a peer record, encrypting public_key and
// metadata before they touch disk.
func (s *Store) PutPeer(p PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encKey, err := s.encryptField(p.PublicKey)
	if err != nil {
		return err
	}
	encMeta, err := s.encryptField(p.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO peers (peer_id_hash, public_key, metadata, trust_level, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(peer_id_hash) DO UPDATE SET
			public_key=excluded.public_key, metadata=excluded.metadata, trust_level=excluded.trust_level, last_seen=excluded.last_seen`,
		p.PeerIDHash, encKey, encMeta, string(p.TrustLevel), p.LastSeen)
	return wrapExec(err)
}

// GetPeer retrieves and decrypts a peer record by hash.
func (s *Store) GetPeer(peerIDHash string) (PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT peer_id_hash, public_key, metadata, trust_level, last_seen FROM peers WHERE peer_id_hash = ?`, peerIDHash)
	var p PeerRecord
	var trust string
	var encKey, encMeta []byte
	if err := row.Scan(&p.PeerIDHash, &encKey, &encMeta, &trust, &p.LastSeen); err != nil {
		if err == sql.ErrNoRows {
			return PeerRecord{}, notFound("peers", peerIDHash)
		}
		return PeerRecord{}, errs.NewStoreError(errs.StoreIO, err)
	}
	p.TrustLevel = model.TrustLevel(trust)
	var err error
	if p.PublicKey, err = s.decryptField(encKey); err != nil {
		return PeerRecord{}, err
	}
	if p.Metadata, err = s.decryptField(encMeta); err != nil {
		return PeerRecord{}, err
	}
	return p, nil
}

// ListPeers returns every stored peer record, decrypted, in no particular
// order; it does not filter by trust level.
func (s *Store) ListPeers() ([]PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT peer_id_hash, public_key, metadata, trust_level, last_seen FROM peers`)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		var p PeerRecord
		var trust string
		var encKey, encMeta []byte
		if err := rows.Scan(&p.PeerIDHash, &encKey, &encMeta, &trust, &p.LastSeen); err != nil {
			return nil, errs.NewStoreError(errs.StoreIO, err)
		}
		p.TrustLevel = model.TrustLevel(trust)
		if p.PublicKey, err = s.decryptField(encKey); err != nil {
			return nil, err
		}
		if p.Metadata, err = s.decryptField(encMeta); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
