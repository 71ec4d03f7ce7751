package adapters

import (
	"context"
	"sync"

	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
)

// MemoryTranscriptStore implements TranscriptStore in process memory. It
// backs tests and db-less runs; it offers the same atomicity guarantees as
// the libsql store but no durability across restarts of the same process
// tree (state survives controller restarts within the process, which is
// what the rehydration tests exercise).
type MemoryTranscriptStore struct {
	mu            sync.Mutex
	conversations map[string]*memoryConversation
}

type memoryConversation struct {
	state     ports.State
	committed bool
	pending   []ports.PendingTurn
}

// NewMemoryTranscriptStore creates an empty in-memory transcript store.
func NewMemoryTranscriptStore() *MemoryTranscriptStore {
	return &MemoryTranscriptStore{conversations: make(map[string]*memoryConversation)}
}

func (s *MemoryTranscriptStore) SavePending(ctx context.Context, conversationID string, turn ports.PendingTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversation(conversationID)
	conv.pending = append(conv.pending, turn)
	return nil
}

func (s *MemoryTranscriptStore) CommitTurn(ctx context.Context, conversationID string, user, assistant ports.Item, state ports.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversation(conversationID)
	for i, p := range conv.pending {
		if p.TurnID == user.TurnID {
			conv.pending = append(conv.pending[:i], conv.pending[i+1:]...)
			break
		}
	}
	conv.state = state.Clone()
	conv.committed = true
	return nil
}

func (s *MemoryTranscriptStore) Compact(ctx context.Context, conversationID string, keepFromSeq int64, state ports.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversation(conversationID)
	conv.state = state.Clone()
	conv.committed = true
	return nil
}

func (s *MemoryTranscriptStore) Load(ctx context.Context, conversationID string) (*ports.State, []ports.PendingTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil, nil
	}
	pending := make([]ports.PendingTurn, len(conv.pending))
	copy(pending, conv.pending)
	// The state only exists once a turn or compaction committed it;
	// accepted turns are durable on their own.
	if !conv.committed {
		return nil, pending, nil
	}
	state := conv.state.Clone()
	return &state, pending, nil
}

func (s *MemoryTranscriptStore) conversation(id string) *memoryConversation {
	conv, ok := s.conversations[id]
	if !ok {
		conv = &memoryConversation{}
		s.conversations[id] = conv
	}
	return conv
}

// Ensure MemoryTranscriptStore implements the TranscriptStore interface.
var _ ports.TranscriptStore = (*MemoryTranscriptStore)(nil)
