// Package relation extracts directed relations between aligned entities.
// The llm strategy asks a chat model against the entity table; the rule
// strategy matches Chinese predicate patterns and maps captures back onto
// entities with a cascade of exact, substring, and fuzzy matching.
package relation

import (
	"context"
	"fmt"

	"github.com/hbollon/go-edlib"

	"github.com/kgforge/kgforge/llm"
	"github.com/kgforge/kgforge/model"
)

// Strategy extracts relation triples from one text, restricted to the given
// entity set.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, text string, entities []model.AlignedEntity) ([]model.Triple, error)
}

// New returns the strategy registered under name. Empty name selects llm
// when a client is available, rule otherwise.
func New(name string, client llm.Client) (Strategy, error) {
	switch name {
	case "":
		if client != nil {
			return NewLLM(client), nil
		}
		return NewRule(), nil
	case "llm", "qwen":
		if client == nil {
			return nil, fmt.Errorf("relation: strategy %q requires an llm client", name)
		}
		return NewLLM(client), nil
	case "rule":
		return NewRule(), nil
	}
	return nil, fmt.Errorf("relation: unknown strategy %q", name)
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(sim)
}
