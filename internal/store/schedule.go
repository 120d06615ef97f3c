package store

import (
	"time"

	"backuppeer/internal/errs"
)

// PutSyncSchedule sets the next scheduled sync time for a backup.
func (s *Store) PutSyncSchedule(backupID string, nextSync time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO sync_schedules (backup_id, next_sync_time) VALUES (?, ?)
		ON CONFLICT(backup_id) DO UPDATE SET next_sync_time=excluded.next_sync_time`,
		backupID, unixMillis(nextSync))
	return wrapExec(err)
}

// DueSyncs returns the backup IDs whose next sync time is at or before now.
func (s *Store) DueSyncs(now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT backup_id FROM sync_schedules WHERE next_sync_time <= ?`, unixMillis(now))
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

// DeleteSyncSchedule removes a backup's schedule, used on cancellation.
func (s *Store) DeleteSyncSchedule(backupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM sync_schedules WHERE backup_id = ?`, backupID)
	return wrapExec(err)
}
