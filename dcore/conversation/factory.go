package conversation

import (
	"context"
	"database/sql"

	"github.com/ZanzyTHEbar/dialog-core/dcore/config"
	"github.com/ZanzyTHEbar/dialog-core/dcore/conversation/adapters"
	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
	"github.com/rs/zerolog"
)

// Factory creates and wires controller components from configuration.
type Factory struct {
	cfg    *config.Config
	conn   *sql.DB // optional; nil selects the in-memory transcript store
	logger zerolog.Logger
}

// NewFactory creates a new controller factory.
func NewFactory(cfg *config.Config, conn *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, conn: conn, logger: logger}
}

// CreateManager builds a fully wired Manager from config.
func (f *Factory) CreateManager() *Manager {
	deps := Deps{
		Generator: NewMockGenerator(),
		Store:     f.createStore(),
		Cache:     f.createCache(),
		Limiter:   f.createRateLimiter(),
		Tracer:    f.createTracer(),
		Logger:    f.logger,
	}
	return NewManager(f.cfg, deps)
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Runtime.CacheEnabled {
		return &noOpCache{}
	}
	return adapters.NewLRUCache(f.cfg.Runtime.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Runtime.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Runtime.RateLimitCapacity, f.cfg.Runtime.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Runtime.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createStore() ports.TranscriptStore {
	if f.conn == nil {
		return adapters.NewMemoryTranscriptStore()
	}
	return adapters.NewLibSQLTranscriptStore(f.conn, adapters.EngineLabels{
		Namespace:    f.cfg.Engine.Namespace,
		TaskQueue:    f.cfg.Engine.TaskQueue,
		WorkflowType: f.cfg.Engine.WorkflowType,
	})
}

// noOpCache never hits.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter always admits.
type noOpRateLimiter struct{}

func (l *noOpRateLimiter) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

// noOpTracer drops spans and events.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(error) {}
}
func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpStore forgets everything; it backs manager tests that do not care
// about durability.
type noOpStore struct{}

func (s *noOpStore) SavePending(ctx context.Context, conversationID string, turn ports.PendingTurn) error {
	return nil
}
func (s *noOpStore) CommitTurn(ctx context.Context, conversationID string, user, assistant ports.Item, state ports.State) error {
	return nil
}
func (s *noOpStore) Compact(ctx context.Context, conversationID string, keepFromSeq int64, state ports.State) error {
	return nil
}
func (s *noOpStore) Load(ctx context.Context, conversationID string) (*ports.State, []ports.PendingTurn, error) {
	return nil, nil, nil
}
