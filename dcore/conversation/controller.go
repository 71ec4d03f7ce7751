package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc"
)

// Status of a conversation instance.
type Status string

const (
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
	StatusClosed  Status = "closed"
)

// Options configures one conversation instance.
type Options struct {
	ConversationID           string
	SystemPrompt             string
	MaxTurnsBeforeCompaction int
	HistoryTrimSize          int
	GeneratorTimeout         time.Duration
	GeneratorRetries         uint64
	RetryBackoff             time.Duration
	PollInterval             time.Duration
	CacheTTLSeconds          int
}

func (o *Options) normalize() {
	if o.MaxTurnsBeforeCompaction < 1 {
		o.MaxTurnsBeforeCompaction = 6
	}
	if o.HistoryTrimSize < 2 {
		o.HistoryTrimSize = 40
	}
	// An odd window would start the kept tail on an assistant item.
	if o.HistoryTrimSize%2 != 0 {
		o.HistoryTrimSize++
	}
	if o.GeneratorTimeout <= 0 {
		o.GeneratorTimeout = 30 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.CacheTTLSeconds <= 0 {
		o.CacheTTLSeconds = 3600
	}
}

// Deps are the ports a conversation runs against.
type Deps struct {
	Generator ports.ResponseGenerator
	Store     ports.TranscriptStore
	Cache     ports.Cache
	Limiter   ports.RateLimiter
	Tracer    ports.Tracer
	Logger    zerolog.Logger
}

// Conversation is one durable conversation instance: a single-writer drain
// loop over a concurrently fed turn queue. All state mutation happens on
// the drain goroutine; readers get snapshots of the last committed append.
// Compaction rolls the state over to a successor epoch in place, under the
// same lock the readers use, so the handoff is atomic to observers.
type Conversation struct {
	id     string
	handle string
	opts   Options
	deps   Deps
	seq    *TurnSequencer
	logger zerolog.Logger

	mu      sync.RWMutex
	state   ports.State
	staged  *ports.Item // in-flight user item; invisible until its turn commits
	status  Status
	failure error
	epoch   int64

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func newConversation(opts Options, deps Deps, carried *ports.State, pending []ports.PendingTurn) *Conversation {
	opts.normalize()

	state := ports.State{NextTurnNumber: 1}
	if carried != nil {
		state = carried.Clone()
	}

	c := &Conversation{
		id:     opts.ConversationID,
		handle: uuid.NewString(),
		opts:   opts,
		deps:   deps,
		status: StatusRunning,
		state:  state,
	}
	c.logger = deps.Logger.With().Str("conversation_id", c.id).Logger()

	persist := func(ctx context.Context, turn ports.PendingTurn) error {
		return deps.Store.SavePending(ctx, c.id, turn)
	}
	c.seq = NewTurnSequencer(nextTurnNumber(state, pending), persist)
	c.seq.Restore(pending)
	return c
}

// nextTurnNumber recovers the turn counter from a stored state plus any
// pending turns whose ids were assigned but never committed.
func nextTurnNumber(state ports.State, pending []ports.PendingTurn) int64 {
	next := state.NextTurnNumber
	if next < 1 {
		next = 1
	}
	for _, turn := range pending {
		if n, ok := parseTurnID(turn.TurnID); ok && n+1 > next {
			next = n + 1
		}
	}
	return next
}

func parseTurnID(id string) (int64, bool) {
	raw, ok := strings.CutPrefix(id, "turn-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *Conversation) start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Go(func() { c.run(ctx) })
}

// stop cancels the drain loop and waits for it to settle.
func (c *Conversation) stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// ID returns the caller-chosen conversation id.
func (c *Conversation) ID() string { return c.id }

// Handle returns the per-process instance handle.
func (c *Conversation) Handle() string { return c.handle }

// Status reports the instance lifecycle state.
func (c *Conversation) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Err returns the fatal error of a failed instance, nil otherwise.
func (c *Conversation) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

// Epoch reports how many compactions this instance has performed.
func (c *Conversation) Epoch() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Submit accepts a user message, assigns its turn-id, and returns without
// waiting for the reply. Safe for concurrent callers.
func (c *Conversation) Submit(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}

	c.mu.RLock()
	status, failure := c.status, c.failure
	c.mu.RUnlock()
	if status == StatusFailed {
		return "", fmt.Errorf("%w: %v", ErrConversationFailed, failure)
	}
	if status == StatusClosed {
		return "", ErrNotFound
	}

	turn, err := c.seq.Submit(ctx, content)
	if err != nil {
		return "", err
	}
	return turn.TurnID, nil
}

// Items returns the committed visible transcript. It never blocks on the
// generator and never exposes a half-appended turn.
func (c *Conversation) Items() []ports.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make([]ports.Item, len(c.state.Items))
	copy(items, c.state.Items)
	return items
}

// Snapshot returns a full diagnostic copy of the conversation state.
func (c *Conversation) Snapshot() ports.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.state.Clone()
	snap.NextTurnNumber = c.seq.NextTurnNumber()
	return snap
}

// LastSeq reports the highest committed sequence number.
func (c *Conversation) LastSeq() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.LastSeq
}

// WaitForReply polls the transcript until an assistant item with a
// sequence number above sinceSeq appears, the timeout elapses (nil item),
// or ctx is cancelled.
func (c *Conversation) WaitForReply(ctx context.Context, sinceSeq int64, timeout time.Duration) (*ports.Item, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		for _, item := range c.Items() {
			if item.Kind == ports.ItemAssistantMessage && item.Seq > sinceSeq {
				reply := item
				return &reply, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		}
	}
}

// run is the single control loop: drain one turn at a time, then check the
// compaction threshold. Any terminal error fails the whole instance.
func (c *Conversation) run(ctx context.Context) {
	c.logger.Info().
		Str("handle", c.handle).
		Int64("next_turn", c.seq.NextTurnNumber()).
		Int("pending", c.seq.PendingCount()).
		Msg("conversation loop started")

	for {
		turn, ok := c.seq.Next(ctx)
		if !ok {
			c.close()
			return
		}

		if err := c.processTurn(ctx, turn); err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-turn: the pending row is still stored, the
				// turn will be reprocessed after rehydration.
				c.close()
				return
			}
			c.fail(err)
			return
		}

		if c.compactionDue() {
			if err := c.compact(ctx); err != nil {
				if ctx.Err() != nil {
					c.close()
					return
				}
				c.fail(fmt.Errorf("compaction failed: %w", err))
				return
			}
		}
	}
}

// processTurn runs one turn through the generator and commits both items
// atomically. The user item's sequence and the shared turn-id are fixed
// before the generator call, so a retried call cannot re-assign them.
func (c *Conversation) processTurn(ctx context.Context, turn ports.PendingTurn) (err error) {
	ctx, finish := c.deps.Tracer.StartSpan(ctx, "process_turn", map[string]any{
		"conversation_id": c.id,
		"turn_id":         turn.TurnID,
	})
	defer func() { finish(err) }()

	c.mu.Lock()
	user := ports.Item{
		Kind:    ports.ItemUserMessage,
		Seq:     c.state.LastSeq + 1,
		Content: turn.Content,
		TurnID:  turn.TurnID,
	}
	history := make([]ports.Item, 0, len(c.state.Items)+1)
	history = append(history, c.state.Items...)
	history = append(history, user)
	c.staged = &user
	c.mu.Unlock()

	result, err := c.generate(ctx, turn, history)
	if err != nil {
		return fmt.Errorf("turn %s: generator failed terminally: %w", turn.TurnID, err)
	}

	assistant := ports.Item{
		Kind:    ports.ItemAssistantMessage,
		Seq:     user.Seq + 1,
		Content: result.Response,
		TurnID:  turn.TurnID,
		Routing: &ports.RoutingMetadata{
			Complexity:  result.Complexity,
			Tier:        result.Tier,
			RouteReason: result.RouteReason,
		},
	}

	c.mu.RLock()
	committed := ports.State{
		Items:          append(append(make([]ports.Item, 0, len(c.state.Items)+2), c.state.Items...), user, assistant),
		NextTurnNumber: c.seq.NextTurnNumber(),
		TotalUserTurns: c.state.TotalUserTurns + 1,
		LastSeq:        assistant.Seq,
	}
	c.mu.RUnlock()

	// Durable before visible.
	if err := c.deps.Store.CommitTurn(ctx, c.id, user, assistant, committed); err != nil {
		return fmt.Errorf("turn %s: failed to commit: %w", turn.TurnID, err)
	}

	c.mu.Lock()
	c.state = committed
	c.staged = nil
	c.mu.Unlock()

	c.logger.Debug().
		Str("turn_id", turn.TurnID).
		Int64("user_seq", user.Seq).
		Int64("assistant_seq", assistant.Seq).
		Str("tier", string(result.Tier)).
		Msg("turn committed")
	return nil
}

// generate wraps the generator port with cache, rate limit, hard timeout,
// and the at-least-once retry policy. Exhausted retries are terminal.
func (c *Conversation) generate(ctx context.Context, turn ports.PendingTurn, history []ports.Item) (ports.GenerationResult, error) {
	in := ports.GenerationInput{
		SystemPrompt: c.opts.SystemPrompt,
		UserMessage:  turn.Content,
		History:      history,
	}

	key := c.cacheKey(in)
	if data, ok := c.deps.Cache.Get(ctx, key); ok {
		var cached ports.GenerationResult
		if err := json.Unmarshal(data, &cached); err == nil {
			c.deps.Tracer.Event(ctx, "cache_hit", map[string]any{"key": key})
			return cached, nil
		}
	}

	backoff := retry.WithMaxRetries(c.opts.GeneratorRetries, retry.NewExponential(c.opts.RetryBackoff))

	var result ports.GenerationResult
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		release, err := c.deps.Limiter.Acquire(ctx, c.id)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("generator rate limited: %w", err))
		}
		defer release()

		callCtx, cancel := context.WithTimeout(ctx, c.opts.GeneratorTimeout)
		defer cancel()

		res, err := c.deps.Generator.Generate(callCtx, in)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(fmt.Errorf("generator call failed: %w", err))
		}
		result = res
		return nil
	})
	if err != nil {
		return ports.GenerationResult{}, err
	}

	if data, err := json.Marshal(result); err == nil {
		_ = c.deps.Cache.Set(ctx, key, data, c.opts.CacheTTLSeconds)
	}
	return result, nil
}

func (c *Conversation) compactionDue() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TotalUserTurns >= int64(c.opts.MaxTurnsBeforeCompaction)
}

// compact rolls the state over to a successor epoch: visible items trimmed
// to the configured tail, epoch turn counter reset, turn numbering and
// sequence numbering carried over unchanged.
func (c *Conversation) compact(ctx context.Context) (err error) {
	ctx, finish := c.deps.Tracer.StartSpan(ctx, "compact", map[string]any{
		"conversation_id": c.id,
	})
	defer func() { finish(err) }()

	c.mu.RLock()
	trimmed := trimItems(c.state.Items, c.opts.HistoryTrimSize)
	successor := ports.State{
		Items:          trimmed,
		NextTurnNumber: c.seq.NextTurnNumber(),
		TotalUserTurns: 0,
		LastSeq:        c.state.LastSeq,
	}
	dropped := len(c.state.Items) - len(trimmed)
	keepFromSeq := c.state.LastSeq + 1
	if len(trimmed) > 0 {
		keepFromSeq = trimmed[0].Seq
	}
	c.mu.RUnlock()

	if err := c.deps.Store.Compact(ctx, c.id, keepFromSeq, successor); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = successor
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	c.deps.Tracer.Event(ctx, "compacted", map[string]any{
		"epoch":   epoch,
		"dropped": dropped,
	})
	c.logger.Info().
		Int64("epoch", epoch).
		Int("dropped_items", dropped).
		Int64("keep_from_seq", keepFromSeq).
		Msg("state compacted, continuing as successor epoch")
	return nil
}

// fail marks the instance dead. The staged user item, if any, joins the
// final queryable transcript, so a terminally failed turn leaves a
// dangling user item with no assistant reply.
func (c *Conversation) fail(err error) {
	c.mu.Lock()
	c.status = StatusFailed
	c.failure = err
	if c.staged != nil {
		c.state.Items = append(c.state.Items, *c.staged)
		c.state.LastSeq = c.staged.Seq
		c.staged = nil
	}
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("conversation instance failed")
}

func (c *Conversation) close() {
	c.mu.Lock()
	if c.status == StatusRunning {
		c.status = StatusClosed
	}
	c.mu.Unlock()
	c.logger.Info().Msg("conversation loop stopped")
}

// trimItems keeps at most max items, dropping from the front. Callers only
// invoke it after a completed turn, so the kept tail always ends with a
// full user/assistant pair.
func trimItems(items []ports.Item, max int) []ports.Item {
	if len(items) > max {
		items = items[len(items)-max:]
	}
	out := make([]ports.Item, len(items))
	copy(out, items)
	return out
}

// cacheKey mirrors the generator inputs that determine its output.
func (c *Conversation) cacheKey(in ports.GenerationInput) string {
	return fmt.Sprintf("conv:%s|sys:%s|msg:%s|hist:%d",
		c.id, hashString(in.SystemPrompt), hashString(in.UserMessage), len(in.History))
}

// hashString is a djb2 hash for deterministic but short cache keys.
func hashString(s string) string {
	hash := uint32(5381)
	for _, r := range s {
		hash = ((hash << 5) + hash) + uint32(r)
	}
	return strconv.FormatUint(uint64(hash), 16)
}
