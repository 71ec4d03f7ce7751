package convports

import (
	"github.com/ZanzyTHEbar/dialog-core/dcore/routing"
)

// ItemKind distinguishes the two transcript entry types.
type ItemKind string

const (
	ItemUserMessage      ItemKind = "user_message"
	ItemAssistantMessage ItemKind = "assistant_message"
)

// RoutingMetadata carries the routing decision attached to assistant items.
type RoutingMetadata struct {
	Complexity  routing.Complexity `json:"complexity"`
	Tier        routing.Tier       `json:"tier"`
	RouteReason string             `json:"route_reason"`
}

// Item is one entry in a conversation transcript. Seq values strictly
// increase in append order and are never renumbered, even across
// compaction epochs. A user item and its assistant reply share a TurnID.
type Item struct {
	Kind    ItemKind         `json:"type"`
	Seq     int64            `json:"seq"`
	Content string           `json:"content"`
	TurnID  string           `json:"turn_id"`
	Routing *RoutingMetadata `json:"metadata,omitempty"`
}

// State is a conversation state machine's mutable memory. Items holds the
// visible (possibly compaction-trimmed) transcript; NextTurnNumber and
// LastSeq continue monotonically across epochs while TotalUserTurns counts
// only the current epoch.
type State struct {
	Items          []Item `json:"items"`
	NextTurnNumber int64  `json:"next_turn_number"`
	TotalUserTurns int64  `json:"total_user_turns"`
	LastSeq        int64  `json:"last_seq"`
}

// Clone deep-copies the state so readers never alias the owner's slice.
func (s State) Clone() State {
	out := s
	out.Items = make([]Item, len(s.Items))
	copy(out.Items, s.Items)
	return out
}

// PendingTurn is a queued, not-yet-processed user turn. The TurnID is
// assigned at submission time, before processing begins.
type PendingTurn struct {
	TurnID  string `json:"turn_id"`
	Content string `json:"content"`
}
