package store

import (
	"database/sql"
	"encoding/json"

	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// PutBackup inserts or replaces a Backup record. Files are marshaled into
// the backups.metadata blob; per-file transfer progress lives separately in
// backup_files.
func (s *Store) PutBackup(b model.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.Marshal(b.Files)
	if err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO backups (id, name, direction, counterparty_peer_id_hash, created_at, status, file_count, total_bytes, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, direction=excluded.direction, counterparty_peer_id_hash=excluded.counterparty_peer_id_hash,
			status=excluded.status, file_count=excluded.file_count, total_bytes=excluded.total_bytes, metadata=excluded.metadata`,
		b.ID, b.Name, string(b.Direction), b.CounterpartyID, unixMillis(b.CreatedAt), string(b.Status), b.FileCount, b.TotalBytes, meta)
	return wrapExec(err)
}

// GetBackup retrieves a Backup by ID.
func (s *Store) GetBackup(id string) (model.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT id, name, direction, counterparty_peer_id_hash, created_at, status, file_count, total_bytes, metadata FROM backups WHERE id = ?`, id)
	var b model.Backup
	var direction, status string
	var createdAt int64
	var meta []byte
	if err := row.Scan(&b.ID, &b.Name, &direction, &b.CounterpartyID, &createdAt, &status, &b.FileCount, &b.TotalBytes, &meta); err != nil {
		if err == sql.ErrNoRows {
			return model.Backup{}, notFound("backups", id)
		}
		return model.Backup{}, errs.NewStoreError(errs.StoreIO, err)
	}
	b.Direction = model.BackupDirection(direction)
	b.Status = model.BackupStatus(status)
	b.CreatedAt = fromMillis(createdAt)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &b.Files); err != nil {
			return model.Backup{}, errs.NewStoreError(errs.StoreIO, err)
		}
	}
	return b, nil
}

// ListBackupsByStatus returns every backup with the given status, ordered by
// creation time ascending.
func (s *Store) ListBackupsByStatus(status model.BackupStatus) ([]model.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, name, direction, counterparty_peer_id_hash, created_at, status, file_count, total_bytes, metadata FROM backups WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	defer rows.Close()

	var out []model.Backup
	for rows.Next() {
		var b model.Backup
		var direction, st string
		var createdAt int64
		var meta []byte
		if err := rows.Scan(&b.ID, &b.Name, &direction, &b.CounterpartyID, &createdAt, &st, &b.FileCount, &b.TotalBytes, &meta); err != nil {
			return nil, errs.NewStoreError(errs.StoreIO, err)
		}
		b.Direction = model.BackupDirection(direction)
		b.Status = model.BackupStatus(st)
		b.CreatedAt = fromMillis(createdAt)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &b.Files); err != nil {
				return nil, errs.NewStoreError(errs.StoreIO, err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PutBackupFile inserts or replaces a single file's transfer record.
func (s *Store) PutBackupFile(f model.BackupFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO backup_files (backup_id, relative_path, size, sha256, chunk_count, transfer_status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(backup_id, relative_path) DO UPDATE SET
			size=excluded.size, sha256=excluded.sha256, chunk_count=excluded.chunk_count, transfer_status=excluded.transfer_status`,
		f.BackupID, f.RelativePath, f.Size, f.SHA256, f.ChunkCount, string(f.TransferStatus))
	return wrapExec(err)
}

// ListBackupFiles returns every file record belonging to a backup.
func (s *Store) ListBackupFiles(backupID string) ([]model.BackupFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT backup_id, relative_path, size, sha256, chunk_count, transfer_status FROM backup_files WHERE backup_id = ?`, backupID)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreIO, err)
	}
	defer rows.Close()

	var out []model.BackupFile
	for rows.Next() {
		var f model.BackupFile
		var status string
		if err := rows.Scan(&f.BackupID, &f.RelativePath, &f.Size, &f.SHA256, &f.ChunkCount, &status); err != nil {
			return nil, errs.NewStoreError(errs.StoreIO, err)
		}
		f.TransferStatus = model.TransferStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteBackup removes a backup and its dependent rows (files and chunk
// states), used by the maintenance purge and explicit cancellation.
func (s *Store) DeleteBackup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM backups WHERE id = ?`, id); err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	if _, err := tx.Exec(`DELETE FROM backup_files WHERE backup_id = ?`, id); err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	if _, err := tx.Exec(`DELETE FROM transfer_chunk_states WHERE backup_id = ?`, id); err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	if err := tx.Commit(); err != nil {
		return errs.NewStoreError(errs.StoreIO, err)
	}
	return nil
}
