package transfer

import (
	"backuppeer/internal/store"
)

// ResumePoint inspects backupID's persisted chunk states and returns the
// lowest chunk index a resumed send should start from: the first chunk
// that never reached a completed or verified state. A backup with no
// persisted state resumes from the beginning.
func ResumePoint(st *store.Store, backupID string) (int, error) {
	incomplete, err := st.IncompleteChunks(backupID)
	if err != nil {
		return 0, err
	}
	if len(incomplete) == 0 {
		return 0, nil
	}
	return incomplete[0].ChunkIndex, nil
}
