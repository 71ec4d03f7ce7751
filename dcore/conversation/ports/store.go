package convports

import "context"

// TranscriptStore is the write-ahead durable log behind the state machine.
// Every mutation is persisted before the in-memory state advances, so a
// restarted process can resume a conversation where it left off.
//
// Contract:
//   - SavePending makes an enqueued turn durable before its turn-id is
//     acknowledged to the submitter.
//   - CommitTurn atomically records both items of a completed turn, the
//     updated counters, and the consumption of the pending entry. A turn
//     is either fully committed or absent.
//   - Compact atomically drops items below keepFromSeq and stores the
//     successor epoch's state.
//   - Load returns a nil state for an unknown conversation. Pending turns
//     are returned even when no state has been committed yet; acceptance
//     is durable on its own.
type TranscriptStore interface {
	SavePending(ctx context.Context, conversationID string, turn PendingTurn) error
	CommitTurn(ctx context.Context, conversationID string, user, assistant Item, state State) error
	Compact(ctx context.Context, conversationID string, keepFromSeq int64, state State) error
	Load(ctx context.Context, conversationID string) (*State, []PendingTurn, error)
}
