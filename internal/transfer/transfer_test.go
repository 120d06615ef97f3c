package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"backuppeer/internal/crypto"
	"backuppeer/internal/model"
	"backuppeer/internal/store"
	"backuppeer/internal/testutil"
	"backuppeer/internal/wire"
)

// pipe wires a Sender's outbound frames directly into a Receiver's inbound
// handlers and vice versa, standing in for a transport.Channel in these
// unit tests.
type pipe struct {
	onFrame func([]byte)
}

func (p *pipe) Send(data []byte) error {
	p.onFrame(data)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })
	st, err := store.Open(sb.Path("store.db"), nil, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })
	kp, err := crypto.LoadOrCreateKeys(sb.Root, nil)
	if err != nil {
		t.Fatalf("LoadOrCreateKeys: %v", err)
	}
	return kp
}

// TestSendReceive_MultiChunkFileRoundTrips drives a full file_start -> N
// file_chunk -> file_complete exchange across two in-memory Sender/Receiver
// pairs and asserts the reassembled file matches the source byte-for-byte.
func TestSendReceive_MultiChunkFileRoundTrips(t *testing.T) {
	senderKeys := newTestKeys(t)
	receiverKeys := newTestKeys(t)

	senderStore := newTestStore(t)
	receiverStore := newTestStore(t)

	senderSecrets := crypto.NewSecretCache(senderKeys)
	receiverSecrets := crypto.NewSecretCache(receiverKeys)

	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	srcPath := sb.Path("source/photo.bin")
	payload := bytes.Repeat([]byte{0xAB}, 160*1024) // 160 KiB -> 3 chunks at 64 KiB
	if err := sb.WriteFile("source/photo.bin", payload, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var recv *Receiver
	var sender *Sender
	sendCh := &pipe{}
	recvCh := &pipe{onFrame: func(data []byte) {
		msg, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("sender->receiver decode: %v", err)
		}
		switch m := msg.(type) {
		case *wire.FileStartMsg:
			if err := recv.HandleFileStart("backup-1", "sender-hash", senderKeys.EncryptionPublic, *m); err != nil {
				t.Fatalf("HandleFileStart: %v", err)
			}
		case *wire.FileChunkMsg:
			if err := recv.HandleFileChunk(*m); err != nil {
				t.Fatalf("HandleFileChunk: %v", err)
			}
		case *wire.FileCompleteMsg:
			if err := recv.HandleFileComplete(*m); err != nil {
				t.Fatalf("HandleFileComplete: %v", err)
			}
		}
	}}
	sendCh.onFrame = func(data []byte) {
		msg, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("receiver->sender decode: %v", err)
		}
		switch m := msg.(type) {
		case *wire.FileStartAckMsg:
			sender.HandleFileStartAck(*m)
		case *wire.ChunkAckMsg:
			sender.HandleChunkAck(*m)
		case *wire.FileCompleteAckMsg:
			sender.HandleFileCompleteAck(*m)
		}
	}

	// The Receiver answers on sendCh (receiver->sender); the Sender writes
	// to recvCh (sender->receiver).
	recv = NewReceiver(sendCh, receiverSecrets, receiverStore, nil, sb.Path("quarantine"), sb.Path("final"))
	sender = NewSender(recvCh, senderSecrets, senderStore, nil, DefaultChunkSize, DefaultMaxChunkAttempts)

	if err := sender.SendFile("t-1", "backup-1", "receiver-hash", receiverKeys.EncryptionPublic, srcPath, 0); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(sb.Path("final"), "photo.bin"))
	if err != nil {
		t.Fatalf("reading reassembled file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled file does not match source")
	}
}

// TestResumePoint_SkipsCompletedChunks mirrors the crash-resume scenario:
// chunks 3 and 4 of a 6-chunk file are left incomplete, and ResumePoint
// must report chunk 3 as the restart point.
func TestResumePoint_SkipsCompletedChunks(t *testing.T) {
	st := newTestStore(t)
	backupID := "backup-resume"

	for i := 0; i < 6; i++ {
		state := model.ChunkState{BackupID: backupID, ChunkIndex: i, ChunkHash: "h", ChunkSize: 4}
		if i == 3 || i == 4 {
			state.State = model.TransferFailed
		} else {
			state.State = model.TransferCompleted
		}
		if err := st.PutChunkState(state); err != nil {
			t.Fatalf("PutChunkState: %v", err)
		}
	}

	resumeFrom, err := ResumePoint(st, backupID)
	if err != nil {
		t.Fatalf("ResumePoint: %v", err)
	}
	if resumeFrom != 3 {
		t.Fatalf("expected resume from chunk 3, got %d", resumeFrom)
	}
}

func TestTransitionChunk_RejectsUndeclaredTransition(t *testing.T) {
	if _, err := TransitionChunk("verified", "pending"); err == nil {
		t.Fatalf("expected an error transitioning out of a terminal verified state")
	}
}
