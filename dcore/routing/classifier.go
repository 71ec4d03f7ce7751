// Package routing classifies user messages into a complexity level and a
// handling tier. Classification is a pure function of the message text so it
// can run inside replay-safe execution steps.
package routing

import "strings"

// Complexity grades the effort a message demands.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Tier is the capability level assigned to handle a turn.
type Tier string

const (
	TierIntern Tier = "intern"
	TierJunior Tier = "junior"
	TierSenior Tier = "senior"
)

// Decision carries the routing outcome for one message.
type Decision struct {
	Complexity Complexity
	Tier       Tier
	Reason     string
}

// complexKeywords mark high-effort topics. Matching is substring-based on
// the lower-cased message.
var complexKeywords = []string{
	"architecture",
	"tradeoff",
	"debugging",
	"incident",
	"strategy",
	"refactor",
	"multi-step",
	"workflow",
	"durability",
	"production",
}

// simpleTokenThreshold separates intern-tier from junior-tier simple
// requests, counted in whitespace-delimited tokens.
const simpleTokenThreshold = 8

// Classify routes a message. It has no side effects and no external state.
func Classify(text string) Decision {
	complexity := classifyComplexity(text)
	tier := pickTier(text, complexity)

	var reason string
	switch {
	case complexity == ComplexityComplex:
		reason = "Complexity keywords detected; route to senior tier."
	case tier == TierIntern:
		reason = "Short/simple request; intern tier is sufficient."
	default:
		reason = "Simple but non-trivial request; route to junior tier."
	}

	return Decision{Complexity: complexity, Tier: tier, Reason: reason}
}

func classifyComplexity(text string) Complexity {
	normalized := strings.ToLower(text)
	for _, keyword := range complexKeywords {
		if strings.Contains(normalized, keyword) {
			return ComplexityComplex
		}
	}
	return ComplexitySimple
}

func pickTier(text string, complexity Complexity) Tier {
	if complexity == ComplexityComplex {
		return TierSenior
	}
	if len(strings.Fields(text)) <= simpleTokenThreshold {
		return TierIntern
	}
	return TierJunior
}
