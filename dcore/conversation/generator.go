package conversation

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
	"github.com/ZanzyTHEbar/dialog-core/dcore/routing"
)

// MockGenerator is the placeholder response backend. It classifies the
// message and derives a deterministic reply from the routing decision, the
// history length, and the system-prompt length. A real backend would make
// an external model call here; the surrounding retry/timeout machinery
// does not care which.
type MockGenerator struct{}

// NewMockGenerator creates the placeholder generator.
func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

// Generate produces the mock reply plus routing metadata.
func (g *MockGenerator) Generate(ctx context.Context, in ports.GenerationInput) (ports.GenerationResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.GenerationResult{}, err
	}

	decision := routing.Classify(in.UserMessage)
	response := fmt.Sprintf("[mock:%s/%s] You said: %q. History turns stored: %d. System prompt chars: %d.",
		decision.Tier, decision.Complexity, in.UserMessage, len(in.History), len(in.SystemPrompt))

	return ports.GenerationResult{
		Response:    response,
		Complexity:  decision.Complexity,
		Tier:        decision.Tier,
		RouteReason: decision.Reason,
	}, nil
}

// Ensure MockGenerator implements the ResponseGenerator interface.
var _ ports.ResponseGenerator = (*MockGenerator)(nil)
