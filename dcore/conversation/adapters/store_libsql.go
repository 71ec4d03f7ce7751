package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
	"github.com/ZanzyTHEbar/dialog-core/dcore/routing"
)

// EngineLabels tag persisted conversations with the execution-engine
// identifiers the controller was configured for.
type EngineLabels struct {
	Namespace    string
	TaskQueue    string
	WorkflowType string
}

// LibSQLTranscriptStore implements TranscriptStore on embedded libsql.
// All multi-row mutations run in a single transaction; the commit point of
// the transaction is the commit point of the turn.
type LibSQLTranscriptStore struct {
	db     *sql.DB
	labels EngineLabels
}

// NewLibSQLTranscriptStore creates a new libsql transcript store.
func NewLibSQLTranscriptStore(db *sql.DB, labels EngineLabels) *LibSQLTranscriptStore {
	return &LibSQLTranscriptStore{db: db, labels: labels}
}

// SavePending makes an enqueued turn durable before it is acknowledged.
func (s *LibSQLTranscriptStore) SavePending(ctx context.Context, conversationID string, turn ports.PendingTurn) error {
	query := `
		INSERT OR REPLACE INTO pending_turns (conversation_id, turn_id, content, enqueued_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, turn.TurnID, turn.Content, time.Now()); err != nil {
		return fmt.Errorf("failed to save pending turn %s: %w", turn.TurnID, err)
	}
	return nil
}

// CommitTurn records both items of a completed turn, the updated state, and
// the consumption of the pending entry atomically.
func (s *LibSQLTranscriptStore) CommitTurn(ctx context.Context, conversationID string, user, assistant ports.Item, state ports.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_turns WHERE conversation_id = ? AND turn_id = ?`,
		conversationID, user.TurnID); err != nil {
		return fmt.Errorf("failed to consume pending turn %s: %w", user.TurnID, err)
	}

	for _, item := range []ports.Item{user, assistant} {
		if err := insertItem(ctx, tx, conversationID, item); err != nil {
			return err
		}
	}

	if err := s.upsertState(ctx, tx, conversationID, state); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn %s: %w", user.TurnID, err)
	}
	return nil
}

// Compact drops items below keepFromSeq and stores the successor state.
func (s *LibSQLTranscriptStore) Compact(ctx context.Context, conversationID string, keepFromSeq int64, state ports.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin compaction transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_items WHERE conversation_id = ? AND seq < ?`,
		conversationID, keepFromSeq); err != nil {
		return fmt.Errorf("failed to trim items below seq %d: %w", keepFromSeq, err)
	}

	if err := s.upsertState(ctx, tx, conversationID, state); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit compaction: %w", err)
	}
	return nil
}

// Load rehydrates a conversation. A nil state with no pending turns means
// the conversation is unknown to the store; a nil state with pending turns
// means it was accepted but never completed a turn.
func (s *LibSQLTranscriptStore) Load(ctx context.Context, conversationID string) (*ports.State, []ports.PendingTurn, error) {
	var state ports.State
	err := s.db.QueryRowContext(ctx,
		`SELECT next_turn_number, total_user_turns, last_seq FROM conversation_state WHERE conversation_id = ?`,
		conversationID).Scan(&state.NextTurnNumber, &state.TotalUserTurns, &state.LastSeq)
	if err == sql.ErrNoRows {
		// The state row only appears with the first commit, but turns
		// accepted before that are already durable and must come back.
		pending, perr := s.loadPending(ctx, conversationID)
		if perr != nil {
			return nil, nil, perr
		}
		return nil, pending, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load conversation state: %w", err)
	}

	items, err := s.loadItems(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	state.Items = items

	pending, err := s.loadPending(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	return &state, pending, nil
}

func (s *LibSQLTranscriptStore) loadItems(ctx context.Context, conversationID string) ([]ports.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, content, turn_id, complexity, tier, route_reason
		FROM conversation_items
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []ports.Item
	for rows.Next() {
		var item ports.Item
		var complexity, tier, reason sql.NullString
		if err := rows.Scan(&item.Seq, &item.Kind, &item.Content, &item.TurnID, &complexity, &tier, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if complexity.Valid {
			item.Routing = &ports.RoutingMetadata{
				Complexity:  routing.Complexity(complexity.String),
				Tier:        routing.Tier(tier.String),
				RouteReason: reason.String,
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

func (s *LibSQLTranscriptStore) loadPending(ctx context.Context, conversationID string) ([]ports.PendingTurn, error) {
	// rowid preserves enqueue order even when timestamps collide.
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, content FROM pending_turns
		WHERE conversation_id = ?
		ORDER BY rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending turns: %w", err)
	}
	defer rows.Close()

	var pending []ports.PendingTurn
	for rows.Next() {
		var turn ports.PendingTurn
		if err := rows.Scan(&turn.TurnID, &turn.Content); err != nil {
			return nil, fmt.Errorf("failed to scan pending turn: %w", err)
		}
		pending = append(pending, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending turns: %w", err)
	}
	return pending, nil
}

func insertItem(ctx context.Context, tx *sql.Tx, conversationID string, item ports.Item) error {
	var complexity, tier, reason any
	if item.Routing != nil {
		complexity = string(item.Routing.Complexity)
		tier = string(item.Routing.Tier)
		reason = item.Routing.RouteReason
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_items (conversation_id, seq, kind, content, turn_id, complexity, tier, route_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conversationID, item.Seq, string(item.Kind), item.Content, item.TurnID, complexity, tier, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert item seq=%d: %w", item.Seq, err)
	}
	return nil
}

func (s *LibSQLTranscriptStore) upsertState(ctx context.Context, tx *sql.Tx, conversationID string, state ports.State) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversation_state
			(conversation_id, next_turn_number, total_user_turns, last_seq, namespace, task_queue, workflow_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, conversationID, state.NextTurnNumber, state.TotalUserTurns, state.LastSeq,
		s.labels.Namespace, s.labels.TaskQueue, s.labels.WorkflowType, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert conversation state: %w", err)
	}
	return nil
}

// Ensure LibSQLTranscriptStore implements the TranscriptStore interface.
var _ ports.TranscriptStore = (*LibSQLTranscriptStore)(nil)
