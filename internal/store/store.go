// Package store is backuppeer's persistent relational store: backups,
// backup files, peers, storage commitments, verification challenges,
// transfer sessions, cached peer connections, chunk states, and sync
// schedules, backed by SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"backuppeer/internal/errs"
	"backuppeer/internal/logging"
)

// Store wraps a SQLite database handle with field-level encryption for
// sensitive columns. It serializes writes internally (single-writer
// discipline) while tolerating concurrent reads.
type Store struct {
	db     *sql.DB
	cipher *FieldCipher
	log    logging.Logger
	mu     sync.Mutex
}

// Open creates (if needed) and opens the SQLite database at path, applying
// the schema and returning a ready Store.
func Open(path string, cipher *FieldCipher, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNoop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; reads interleave via WAL

	s := &Store{db: db, cipher: cipher, log: log}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS backups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	direction TEXT NOT NULL,
	counterparty_peer_id_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	file_count INTEGER NOT NULL,
	total_bytes INTEGER NOT NULL,
	metadata BLOB
);
CREATE INDEX IF NOT EXISTS idx_backups_counterparty ON backups(counterparty_peer_id_hash);
CREATE INDEX IF NOT EXISTS idx_backups_status ON backups(status);

CREATE TABLE IF NOT EXISTS backup_files (
	backup_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	size INTEGER NOT NULL,
	sha256 TEXT NOT NULL,
	chunk_count INTEGER NOT NULL,
	transfer_status TEXT NOT NULL,
	PRIMARY KEY (backup_id, relative_path)
);
CREATE INDEX IF NOT EXISTS idx_backup_files_backup ON backup_files(backup_id);

CREATE TABLE IF NOT EXISTS peers (
	peer_id_hash TEXT PRIMARY KEY,
	public_key BLOB,
	metadata BLOB,
	trust_level TEXT,
	last_seen INTEGER
);
CREATE INDEX IF NOT EXISTS idx_peers_trust ON peers(trust_level);

CREATE TABLE IF NOT EXISTS storage_commitments (
	peer_id TEXT PRIMARY KEY,
	encryption_public_key BLOB NOT NULL,
	bytes_offered INTEGER NOT NULL,
	availability_terms TEXT,
	retention_period_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	public_key BLOB NOT NULL,
	signature BLOB,
	signature_public_key BLOB
);
CREATE INDEX IF NOT EXISTS idx_commitments_expires ON storage_commitments(expires_at);

CREATE TABLE IF NOT EXISTS verification_challenges (
	id TEXT PRIMARY KEY,
	backup_id TEXT NOT NULL,
	peer_id_hash TEXT NOT NULL,
	kind TEXT NOT NULL,
	challenge_data BLOB,
	response_data BLOB,
	issued_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	outcome TEXT
);
CREATE INDEX IF NOT EXISTS idx_challenges_peer ON verification_challenges(peer_id_hash);
CREATE INDEX IF NOT EXISTS idx_challenges_issued ON verification_challenges(issued_at);

CREATE TABLE IF NOT EXISTS transfer_sessions (
	transfer_id TEXT PRIMARY KEY,
	backup_id TEXT NOT NULL,
	peer_id_hash TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_sessions_backup ON transfer_sessions(backup_id);

CREATE TABLE IF NOT EXISTS cached_peer_connections (
	peer_id_hash TEXT PRIMARY KEY,
	public_key BLOB,
	session_resumption_blob BLOB,
	metadata BLOB,
	last_seen INTEGER NOT NULL,
	trust_level TEXT,
	total_attempts INTEGER NOT NULL,
	successful_attempts INTEGER NOT NULL,
	last_success_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_cached_peer_last_seen ON cached_peer_connections(last_seen);

CREATE TABLE IF NOT EXISTS transfer_chunk_states (
	backup_id TEXT NOT NULL,
	file_path TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL,
	chunk_hash TEXT,
	chunk_size INTEGER,
	state TEXT NOT NULL,
	attempt_count INTEGER NOT NULL,
	last_attempt INTEGER,
	error_message TEXT,
	PRIMARY KEY (backup_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunk_states_backup ON transfer_chunk_states(backup_id);

CREATE TABLE IF NOT EXISTS sync_schedules (
	backup_id TEXT PRIMARY KEY,
	next_sync_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_schedules_next ON sync_schedules(next_sync_time);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return errs.NewStoreError(errs.StoreSchema, err)
	}
	return nil
}

// encryptField encrypts a value if the store has a cipher configured; nil
// input encrypts to nil so optional columns stay NULL.
func (s *Store) encryptField(v []byte) ([]byte, error) {
	if v == nil || s.cipher == nil {
		return v, nil
	}
	return s.cipher.Encrypt(v)
}

// decryptField decrypts a value read from an encrypted column. Every read
// path that touches such a column must route through this so ciphertext is
// never handed back to a caller.
func (s *Store) decryptField(v []byte) ([]byte, error) {
	if v == nil || s.cipher == nil {
		return v, nil
	}
	return s.cipher.Decrypt(v)
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func wrapExec(err error) error {
	if err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	return nil
}

func notFound(table, key string) error {
	return errs.NewStoreError(errs.StoreNotFound, fmt.Errorf("%s: no row for %s", table, key))
}
