// Package extract finds entity mentions in text. The llm strategy asks a
// chat model for a JSON list of entities and validates every span against
// the source text; the rule strategy runs a regex bank tuned for Chinese
// corpora and doubles as the fallback when the model is unreachable or
// returns garbage.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hbollon/go-edlib"

	"github.com/kgforge/kgforge/llm"
	"github.com/kgforge/kgforge/model"
)

// Strategy extracts entity mentions from one text.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, text string) ([]model.Mention, error)
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
			return nil, fmt.Errorf("extract: strategy %q requires an llm client", name)
		}
		return NewLLM(client), nil
	case "rule":
		return NewRule(), nil
	}
	return nil, fmt.Errorf("extract: unknown strategy %q", name)
}

// newMentionID mints a short unique mention id.
func newMentionID() string {
	return "entity_" + uuid.NewString()[:8]
}

// similarity is the Levenshtein ratio in [0,1].
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

// canonicalType maps free-form type strings onto the fixed label set.
func canonicalType(t string) string {
	t = strings.TrimSpace(t)
	switch strings.ToLower(t) {
	case "person", "人物", "人名", "人":
		return "人物"
	case "organization", "org", "组织", "机构", "公司":
		return "组织"
	case "location", "place", "地点", "地名":
		return "地点"
	case "time", "date", "时间", "日期":
		return "时间"
	case "technology", "tech", "技术":
		return "技术"
	case "product", "产品":
		return "产品"
	case "event", "事件":
		return "事件"
	case "number", "数字", "数量":
		return "数字"
	case "title", "职位", "职务":
		return "职位"
	case "":
		return "概念"
	}
	return t
}
