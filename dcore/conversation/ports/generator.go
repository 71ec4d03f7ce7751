package convports

import (
	"context"

	"github.com/ZanzyTHEbar/dialog-core/dcore/routing"
)

// GenerationInput aggregates everything the generator needs for one turn.
// History already includes the user item of the turn being processed.
type GenerationInput struct {
	SystemPrompt string
	UserMessage  string
	History      []Item
}

// GenerationResult is the generator's reply plus its routing decision.
type GenerationResult struct {
	Response    string
	Complexity  routing.Complexity
	Tier        routing.Tier
	RouteReason string
}

// ResponseGenerator is the abstraction for the response backend. A call is
// a single fallible unit of work: it may be retried, so implementations
// must not assume exactly-once invocation. Turn numbering is unaffected by
// retries because sequence and turn-id assignment happen before the call.
type ResponseGenerator interface {
	Generate(ctx context.Context, in GenerationInput) (GenerationResult, error)
}
