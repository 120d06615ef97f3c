package store

import (
	"database/sql"
	"time"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// PutChunkState inserts or replaces a single chunk's transfer progress.
func (s *Store) PutChunkState(c model.ChunkState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastAttempt sql.NullInt64
	if !c.LastAttempt.IsZero() {
		lastAttempt = sql.NullInt64{Int64: unixMillis(c.LastAttempt), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO transfer_chunk_states (backup_id, file_path, chunk_index, chunk_hash, chunk_size, state, attempt_count, last_attempt, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(backup_id, chunk_index) DO UPDATE SET
			file_path=excluded.file_path, chunk_hash=excluded.chunk_hash, chunk_size=excluded.chunk_size, state=excluded.state,
			attempt_count=excluded.attempt_count, last_attempt=excluded.last_attempt, error_message=excluded.error_message`,
		c.BackupID, c.FilePath, c.ChunkIndex, c.ChunkHash, c.ChunkSize, string(c.State), c.AttemptCount, lastAttempt, c.ErrorMessage)
	return wrapExec(err)
}

// IncompleteChunks returns every chunk of backupID not yet in a terminal
// success state, ordered by index — the resumption query.
func (s *Store) IncompleteChunks(backupID string) ([]model.ChunkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT backup_id, file_path, chunk_index, chunk_hash, chunk_size, state, attempt_count, last_attempt, error_message
		FROM transfer_chunk_states
		WHERE backup_id = ? AND state NOT IN (?, ?)
		ORDER BY chunk_index ASC`,
		backupID, string(model.TransferCompleted), string(model.TransferVerified))
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	defer rows.Close()

	var out []model.ChunkState
	for rows.Next() {
		var c model.ChunkState
		var state string
		var lastAttempt sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&c.BackupID, &c.FilePath, &c.ChunkIndex, &c.ChunkHash, &c.ChunkSize, &state, &c.AttemptCount, &lastAttempt, &errMsg); err != nil {
			return nil, errs.NewStoreError(errs.StoreIO, err)
		}
		c.State = model.TransferStatus(state)
		if lastAttempt.Valid {
			c.LastAttempt = fromMillis(lastAttempt.Int64)
		}
		c.ErrorMessage = errMsg.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListChunkStates returns every persisted chunk state for a backup, ordered
// by file path then chunk index, forming the stable population verification
// samples random indices from.
func (s *Store) ListChunkStates(backupID string) ([]model.ChunkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT backup_id, file_path, chunk_index, chunk_hash, chunk_size, state, attempt_count, last_attempt, error_message
		FROM transfer_chunk_states
		WHERE backup_id = ?
		ORDER BY file_path ASC, chunk_index ASC`,
		backupID)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	defer rows.Close()

	var out []model.ChunkState
	for rows.Next() {
		var c model.ChunkState
		var state string
		var lastAttempt sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&c.BackupID, &c.FilePath, &c.ChunkIndex, &c.ChunkHash, &c.ChunkSize, &state, &c.AttemptCount, &lastAttempt, &errMsg); err != nil {
			return nil, errs.NewStoreError(errs.StoreIO, err)
		}
		c.State = model.TransferStatus(state)
		if lastAttempt.Valid {
			c.LastAttempt = fromMillis(lastAttempt.Int64)
		}
		c.ErrorMessage = errMsg.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// PurgeCompletedChunksBefore deletes completed/verified chunk state rows
// whose last attempt predates cutoff.
func (s *Store) PurgeCompletedChunksBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM transfer_chunk_states
		WHERE state IN (?, ?) AND last_attempt IS NOT NULL AND last_attempt < ?`,
		string(model.TransferCompleted), string(model.TransferVerified), unixMillis(cutoff))
	if err != nil {
		return 0, errs.NewStoreError(errs.StoreIO, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
