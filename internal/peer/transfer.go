package peer

import (
	"fmt"
	"path/filepath"
	"time"

	"backuppeer/internal/model"
	"backuppeer/internal/transfer"
	"backuppeer/internal/wire"
)

// SendBackup transmits every file under root to the already-attached peer
// ps, creating backupID if it does not yet exist and resuming any file
// whose chunk states show it already in progress.
func (n *Node) SendBackup(ps *PeerSession, backupID, name, root string, files []model.FileEntry) error {
	var totalBytes int64
	for _, f := range files {
		totalBytes += f.Size
	}

	backup, err := n.Store.GetBackup(backupID)
	if err != nil {
		backup = model.Backup{
			ID: backupID, Name: name, Direction: model.DirectionSent,
			CounterpartyID: ps.PeerIDHash, CreatedAt: time.Now().UTC(),
			Status: model.BackupActive, FileCount: len(files), TotalBytes: totalBytes, Files: files,
		}
		if err := n.Store.PutBackup(backup); err != nil {
			return err
		}
	}

	transferID := fmt.Sprintf("%s-%d", backupID, time.Now().UnixNano())
	startFrame, err := wire.Encode(wire.BackupStartMsg{
		Type: wire.TypeBackupStart, TransferID: transferID, BackupID: backupID,
		Name: name, FileCount: len(files), TotalBytes: totalBytes,
	})
	if err != nil {
		return err
	}
	if err := ps.Channel.Send(startFrame); err != nil {
		return err
	}

	for _, f := range files {
		path := filepath.Join(root, f.RelativePath)
		resumeFrom, err := transfer.ResumePoint(n.Store, backupID)
		if err != nil {
			return err
		}
		if err := ps.Sender.SendFile(transferID, backupID, ps.PeerIDHash, ps.EncPubKey, path, resumeFrom); err != nil {
			n.Store.PutBackupFile(model.BackupFile{
				BackupID: backupID, RelativePath: f.RelativePath, Size: f.Size,
				SHA256: f.SHA256, TransferStatus: model.TransferFailed,
			})
			backup.Status = model.BackupFailed
			n.Store.PutBackup(backup)
			return err
		}
		n.Store.PutBackupFile(model.BackupFile{
			BackupID: backupID, RelativePath: f.RelativePath, Size: f.Size,
			SHA256: f.SHA256, TransferStatus: model.TransferCompleted,
		})
	}

	completeFrame, err := wire.Encode(wire.BackupCompleteMsg{Type: wire.TypeBackupComplete, TransferID: transferID, BackupID: backupID})
	if err != nil {
		return err
	}
	if err := ps.Channel.Send(completeFrame); err != nil {
		return err
	}

	backup.Status = model.BackupCompleted
	return n.Store.PutBackup(backup)
}
