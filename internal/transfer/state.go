// Package transfer implements the chunked file-transfer pipeline: the send
// path (read, hash, persist state, encrypt, frame), the receive path
// (decrypt, verify, quarantine, atomic move), and resumption.
package transfer

import (
	"backuppeer/internal/errs"
	"backuppeer/internal/model"
)

// chunkTransitions is the total state table for a single chunk's lifecycle:
// pending -> transferring -> completed|failed, and completed -> verified
// once the owning file's hash has checked out. Transitions always return
// the next state or a typed error, never silently no-op.
var chunkTransitions = map[model.TransferStatus]map[model.TransferStatus]bool{
	model.TransferPending: {
		model.TransferTransferring: true,
	},
	model.TransferTransferring: {
		model.TransferCompleted: true,
		model.TransferFailed:    true,
	},
	model.TransferCompleted: {
		model.TransferVerified: true,
		model.TransferFailed:   true, // a later file-level hash mismatch demotes completed chunks
	},
	model.TransferFailed: {
		model.TransferTransferring: true, // a retry re-enters transferring
	},
	model.TransferVerified: {},
}

// TransitionChunk validates a chunk state transition, returning the next
// state or a TransferError if the transition is not declared.
func TransitionChunk(from, to model.TransferStatus) (model.TransferStatus, error) {
	if chunkTransitions[from][to] {
		return to, nil
	}
	return from, errs.NewTransferError(errs.TransferInvalidState, nil)
}

// fileTransitions mirrors chunkTransitions at the file granularity.
var fileTransitions = map[model.TransferStatus]map[model.TransferStatus]bool{
	model.TransferPending: {
		model.TransferTransferring: true,
	},
	model.TransferTransferring: {
		model.TransferCompleted: true,
		model.TransferFailed:    true,
	},
	model.TransferCompleted: {
		model.TransferVerified: true,
		model.TransferFailed:   true,
	},
	model.TransferFailed: {
		model.TransferTransferring: true,
	},
	model.TransferVerified: {},
}

// TransitionFile validates a file-level transfer state transition.
func TransitionFile(from, to model.TransferStatus) (model.TransferStatus, error) {
	if fileTransitions[from][to] {
		return to, nil
	}
	return from, errs.NewTransferError(errs.TransferInvalidState, nil)
}
