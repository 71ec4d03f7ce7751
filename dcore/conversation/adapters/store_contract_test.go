package adapters

import (
	"context"
	"fmt"
	"testing"

	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
	"github.com/ZanzyTHEbar/dialog-core/dcore/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runTranscriptStoreContract checks the TranscriptStore guarantees every
// adapter must provide. Each subtest opens a fresh store.
func runTranscriptStoreContract(t *testing.T, open func(t *testing.T) ports.TranscriptStore) {
	ctx := context.Background()

	t.Run("load unknown conversation", func(t *testing.T) {
		store := open(t)

		state, pending, err := store.Load(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, state)
		assert.Empty(t, pending)
	})

	t.Run("pending survives before first commit", func(t *testing.T) {
		store := open(t)

		// A crash between acceptance and the first commit leaves a
		// conversation with pending turns but no state row.
		require.NoError(t, store.SavePending(ctx, "c1", ports.PendingTurn{
			TurnID: "turn-1", Content: "accepted then crashed",
		}))
		require.NoError(t, store.SavePending(ctx, "c1", ports.PendingTurn{
			TurnID: "turn-2", Content: "also accepted",
		}))

		state, pending, err := store.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Nil(t, state)
		require.Len(t, pending, 2)
		assert.Equal(t, "turn-1", pending[0].TurnID)
		assert.Equal(t, "accepted then crashed", pending[0].Content)
		assert.Equal(t, "turn-2", pending[1].TurnID)
	})

	t.Run("commit clears pending and stores both items", func(t *testing.T) {
		store := open(t)

		require.NoError(t, store.SavePending(ctx, "c1", ports.PendingTurn{TurnID: "turn-1", Content: "hi"}))

		user := ports.Item{Kind: ports.ItemUserMessage, Seq: 1, Content: "hi", TurnID: "turn-1"}
		assistant := ports.Item{
			Kind: ports.ItemAssistantMessage, Seq: 2, Content: "hello", TurnID: "turn-1",
			Routing: &ports.RoutingMetadata{
				Complexity:  routing.ComplexitySimple,
				Tier:        routing.TierIntern,
				RouteReason: "Short/simple request; intern tier is sufficient.",
			},
		}
		committed := ports.State{Items: []ports.Item{user, assistant}, NextTurnNumber: 2, TotalUserTurns: 1, LastSeq: 2}
		require.NoError(t, store.CommitTurn(ctx, "c1", user, assistant, committed))

		state, pending, err := store.Load(ctx, "c1")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Empty(t, pending)
		assert.Equal(t, int64(2), state.NextTurnNumber)
		assert.Equal(t, int64(1), state.TotalUserTurns)
		assert.Equal(t, int64(2), state.LastSeq)
		require.Len(t, state.Items, 2)
		assert.Nil(t, state.Items[0].Routing)
		require.NotNil(t, state.Items[1].Routing)
		assert.Equal(t, routing.TierIntern, state.Items[1].Routing.Tier)
	})

	t.Run("compact drops trimmed items and keeps counters", func(t *testing.T) {
		store := open(t)

		var items []ports.Item
		for turn := int64(1); turn <= 2; turn++ {
			turnID := fmt.Sprintf("turn-%d", turn)
			user := ports.Item{Kind: ports.ItemUserMessage, Seq: turn*2 - 1, Content: "q", TurnID: turnID}
			assistant := ports.Item{Kind: ports.ItemAssistantMessage, Seq: turn * 2, Content: "a", TurnID: turnID}
			items = append(items, user, assistant)
			committed := ports.State{Items: items, NextTurnNumber: turn + 1, TotalUserTurns: turn, LastSeq: turn * 2}
			require.NoError(t, store.CommitTurn(ctx, "c1", user, assistant, committed))
		}

		successor := ports.State{Items: items[2:], NextTurnNumber: 3, TotalUserTurns: 0, LastSeq: 4}
		require.NoError(t, store.Compact(ctx, "c1", 3, successor))

		state, _, err := store.Load(ctx, "c1")
		require.NoError(t, err)
		require.NotNil(t, state)
		require.Len(t, state.Items, 2)
		assert.Equal(t, int64(3), state.Items[0].Seq)
		assert.Equal(t, int64(4), state.Items[1].Seq)
		assert.Equal(t, int64(3), state.NextTurnNumber)
		assert.Equal(t, int64(0), state.TotalUserTurns)
		assert.Equal(t, int64(4), state.LastSeq)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runTranscriptStoreContract(t, func(t *testing.T) ports.TranscriptStore {
		return NewMemoryTranscriptStore()
	})
}
