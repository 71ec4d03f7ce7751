package adapters

import (
	"context"
	"testing"
	"time"

	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLoadReturnsIsolatedCopy(t *testing.T) {
	store := NewMemoryTranscriptStore()
	ctx := context.Background()

	user := ports.Item{Kind: ports.ItemUserMessage, Seq: 1, Content: "original", TurnID: "turn-1"}
	assistant := ports.Item{Kind: ports.ItemAssistantMessage, Seq: 2, Content: "reply", TurnID: "turn-1"}
	state := ports.State{Items: []ports.Item{user, assistant}, LastSeq: 2}
	require.NoError(t, store.CommitTurn(ctx, "c1", user, assistant, state))

	loaded, _, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	loaded.Items[0].Content = "mutated"

	again, _, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Items[0].Content)
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewLRUCache(2)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), 60))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), 60))

	// Touch a so b becomes the eviction candidate.
	_, ok := cache.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, cache.Set(ctx, "c", []byte("3"), 60))

	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = cache.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLRUCacheExpiresEntries(t *testing.T) {
	cache := NewLRUCache(10)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", []byte("v"), 0))
	time.Sleep(5 * time.Millisecond)

	_, ok := cache.Get(ctx, "short")
	assert.False(t, ok)
}

func TestLRUCacheDelete(t *testing.T) {
	cache := NewLRUCache(10)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 60))
	require.NoError(t, cache.Delete(ctx, "k"))

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestTokenBucketExhaustionAndRelease(t *testing.T) {
	tb := NewTokenBucket(2, time.Hour)
	ctx := context.Background()

	release1, err := tb.Acquire(ctx, "conv")
	require.NoError(t, err)
	_, err = tb.Acquire(ctx, "conv")
	require.NoError(t, err)

	_, err = tb.Acquire(ctx, "conv")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	release1()
	_, err = tb.Acquire(ctx, "conv")
	assert.NoError(t, err, "released token must be reusable")
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	ctx := context.Background()

	_, err := tb.Acquire(ctx, "conv-a")
	require.NoError(t, err)

	_, err = tb.Acquire(ctx, "conv-b")
	assert.NoError(t, err, "buckets are per key")
}
