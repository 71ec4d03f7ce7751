package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/dialog-core/dcore/config"
)

// StartOptions configures Manager.Start. Zero values fall back to the
// manager's configuration.
type StartOptions struct {
	ConversationID           string
	SystemPrompt             string
	InitialMessage           string
	MaxTurnsBeforeCompaction int
	HistoryTrimSize          int
}

// Manager runs many independent conversation instances, one drain loop
// each. Start is idempotent per conversation id.
type Manager struct {
	cfg  *config.Config
	deps Deps

	mu            sync.RWMutex
	conversations map[string]*Conversation
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager. Nil ports in deps are replaced with no-op
// implementations and the placeholder generator, which keeps test wiring
// short; production wiring goes through the Factory.
func NewManager(cfg *config.Config, deps Deps) *Manager {
	if deps.Generator == nil {
		deps.Generator = NewMockGenerator()
	}
	if deps.Store == nil {
		deps.Store = &noOpStore{}
	}
	if deps.Cache == nil {
		deps.Cache = &noOpCache{}
	}
	if deps.Limiter == nil {
		deps.Limiter = &noOpRateLimiter{}
	}
	if deps.Tracer == nil {
		deps.Tracer = &noOpTracer{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:           cfg,
		deps:          deps,
		conversations: make(map[string]*Conversation),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches a conversation instance, or returns the existing live
// handle for an already-started id without re-seeding anything. A known id
// with stored state is rehydrated: its transcript, counters, and still
// pending turns resume where the previous process left off.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*Conversation, error) {
	id := strings.TrimSpace(opts.ConversationID)
	if id == "" {
		return nil, ErrEmptyConversationID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if existing, ok := m.conversations[id]; ok {
		return existing, nil
	}

	carried, pending, err := m.deps.Store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	convOpts := m.conversationOptions(id, opts)
	conv := newConversation(convOpts, m.deps, carried, pending)

	// Seed the initial turn only on a genuinely fresh conversation; a
	// rehydrated one already had its chance.
	if carried == nil && len(pending) == 0 && strings.TrimSpace(opts.InitialMessage) != "" {
		if _, err := conv.seq.Submit(ctx, opts.InitialMessage); err != nil {
			return nil, fmt.Errorf("failed to seed initial turn: %w", err)
		}
	}

	m.conversations[id] = conv
	conv.start(m.ctx)
	return conv, nil
}

// Get returns the handle for a live or failed conversation. Unknown and
// terminated ids report ErrNotFound; a failed instance is returned so its
// final state stays queryable until the caller intervenes.
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conv, nil
}

// Close stops every drain loop and forgets all conversations. Queries
// against the manager afterwards report not-found.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conversations := make([]*Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		conversations = append(conversations, conv)
	}
	m.conversations = make(map[string]*Conversation)
	m.mu.Unlock()

	m.cancel()
	for _, conv := range conversations {
		conv.stop()
	}
}

func (m *Manager) conversationOptions(id string, opts StartOptions) Options {
	out := Options{
		ConversationID:           id,
		SystemPrompt:             opts.SystemPrompt,
		MaxTurnsBeforeCompaction: opts.MaxTurnsBeforeCompaction,
		HistoryTrimSize:          opts.HistoryTrimSize,
	}
	if m.cfg != nil {
		conv := m.cfg.Conversation
		if out.MaxTurnsBeforeCompaction == 0 {
			out.MaxTurnsBeforeCompaction = conv.MaxTurnsBeforeCompaction
		}
		if out.HistoryTrimSize == 0 {
			out.HistoryTrimSize = conv.HistoryTrimSize
		}
		out.GeneratorTimeout = conv.GeneratorTimeout
		out.GeneratorRetries = conv.GeneratorRetries
		out.RetryBackoff = conv.RetryBackoff
		out.PollInterval = conv.PollInterval
		if m.cfg.Runtime.CacheTTLSeconds > 0 {
			out.CacheTTLSeconds = m.cfg.Runtime.CacheTTLSeconds
		}
	}
	return out
}
