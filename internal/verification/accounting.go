package verification

import (
	"encoding/json"
	"time"

	"backuppeer/internal/reputation"
	"backuppeer/internal/store"
	"backuppeer/internal/wire"
)

// rollingHistoryLimit bounds RecentChallengesForPeer's result, backing the
// 100-entry rolling challenge history.
const rollingHistoryLimit = 100

func outcomeToStore(o Outcome) store.ChallengeOutcome {
	switch o {
	case OutcomeSuccess:
		return store.ChallengeOutcomeSuccess
	case OutcomeTimeout:
		return store.ChallengeOutcomeExpired
	default:
		return store.ChallengeOutcomeFailure
	}
}

// RecordOutcome persists a completed (or timed-out) challenge and emits the
// corresponding reputation event. It never returns an error for a failed or
// timed-out challenge — only for a storage write failure, which callers log
// and otherwise ignore, since verification accounting is best-effort.
func RecordOutcome(st *store.Store, rep *reputation.Engine, peerIDHash string, challenge wire.StorageChallengeMsg, proof *wire.StorageProofMsg, outcome Outcome, responseTime time.Duration, now time.Time) error {
	challengeData, _ := json.Marshal(challenge)
	var responseData []byte
	if proof != nil {
		responseData, _ = json.Marshal(proof)
	}

	record := store.ChallengeRecord{
		ID: challenge.ChallengeID, BackupID: challenge.BackupID, PeerIDHash: peerIDHash,
		Kind: challenge.Kind, ChallengeData: challengeData, ResponseData: responseData,
		IssuedAt: challenge.IssuedAt, ExpiresAt: challenge.ExpiresAt, Outcome: outcomeToStore(outcome),
	}
	if err := st.PutChallenge(record); err != nil {
		return err
	}

	rep.RecordChallenge(peerIDHash, outcome == OutcomeSuccess, responseTime, now)
	return nil
}

// RollingHistory returns the most recent rollingHistoryLimit challenges
// issued to peerIDHash.
func RollingHistory(st *store.Store, peerIDHash string) ([]store.ChallengeRecord, error) {
	return st.RecentChallengesForPeer(peerIDHash, rollingHistoryLimit)
}
