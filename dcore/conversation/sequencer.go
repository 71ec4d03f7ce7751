package conversation

import (
	"context"
	"fmt"
	"sync"

	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
)

// TurnSequencer owns the pending turn queue and the monotonic turn
// counter. Submissions from arbitrary goroutines are serialized under one
// lock so turn-ids are handed out in queue order; only the conversation's
// drain loop pops. The sequencer outlives compaction epochs, so a turn
// submitted during an epoch handoff is queued, never lost.
type TurnSequencer struct {
	mu       sync.Mutex
	nextTurn int64
	queue    []ports.PendingTurn
	nonEmpty chan struct{}

	// persist makes an enqueued turn durable before its id is returned to
	// the submitter. May be nil (in-memory only).
	persist func(ctx context.Context, turn ports.PendingTurn) error
}

// NewTurnSequencer creates a sequencer whose next assigned turn number is
// nextTurn (clamped to 1).
func NewTurnSequencer(nextTurn int64, persist func(ctx context.Context, turn ports.PendingTurn) error) *TurnSequencer {
	if nextTurn < 1 {
		nextTurn = 1
	}
	return &TurnSequencer{
		nextTurn: nextTurn,
		nonEmpty: make(chan struct{}, 1),
		persist:  persist,
	}
}

// Submit assigns the next turn-id, durably enqueues the turn, and returns
// it. The caller receives the id before the turn is processed. On persist
// failure the counter is rolled back under the same lock, so turn numbers
// stay gapless.
func (s *TurnSequencer) Submit(ctx context.Context, content string) (ports.PendingTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := ports.PendingTurn{
		TurnID:  fmt.Sprintf("turn-%d", s.nextTurn),
		Content: content,
	}
	if s.persist != nil {
		if err := s.persist(ctx, turn); err != nil {
			return ports.PendingTurn{}, fmt.Errorf("failed to persist pending turn: %w", err)
		}
	}
	s.nextTurn++
	s.queue = append(s.queue, turn)
	s.signal()
	return turn, nil
}

// Restore re-queues turns that were pending when a prior instance stopped.
// Their ids were already assigned and persisted.
func (s *TurnSequencer) Restore(turns []ports.PendingTurn) {
	if len(turns) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, turns...)
	s.signal()
}

// Next blocks until a turn is available or ctx is done. It reports false
// only on cancellation. Exactly one goroutine may call Next.
func (s *TurnSequencer) Next(ctx context.Context) (ports.PendingTurn, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			turn := s.queue[0]
			s.queue = s.queue[1:]
			if len(s.queue) > 0 {
				s.signal()
			}
			s.mu.Unlock()
			return turn, true
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ports.PendingTurn{}, false
		case <-s.nonEmpty:
		}
	}
}

// NextTurnNumber reports the number the next submitted turn will receive.
func (s *TurnSequencer) NextTurnNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextTurn
}

// PendingCount reports the queue depth.
func (s *TurnSequencer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *TurnSequencer) signal() {
	select {
	case s.nonEmpty <- struct{}{}:
	default:
	}
}
