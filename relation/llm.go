package relation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kgforge/kgforge/chunker"
	"github.com/kgforge/kgforge/llm"
	"github.com/kgforge/kgforge/model"
)

const relationPrompt = `你是一个专业的关系抽取助手。已知文本中的实体列表：

%s

请从下面的文本中抽取这些实体之间的关系。

要求：
1. 只使用上面列出的实体ID，不要创造新实体
2. 返回JSON数组，每个元素包含 head_id、relation、tail_id 三个字段
3. relation 用简短的中文动词或名词短语描述
4. 只返回JSON数组，不要输出任何其他内容

文本：
%s`

const chatTimeout = 60 * time.Second

// LLM extracts triples with a chat model, restricted to the known entity
// set, falling back to the rule patterns when the model call or its output
// is unusable.
type LLM struct {
	client   llm.Client
	fallback *Rule
	splitter *chunker.Chunker
}

func NewLLM(client llm.Client) *LLM {
	return &LLM{
		client:   client,
		fallback: NewRule(),
		splitter: chunker.New(chunker.Config{}),
	}
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Extract(ctx context.Context, text string, entities []model.AlignedEntity) ([]model.Triple, error) {
	if len(entities) < 2 {
		return nil, nil
	}
	triples, err := l.extractAll(ctx, text, entities)
	if err != nil {
		slog.Warn("relation: llm extraction failed, using rule fallback", "error", err)
		return l.fallback.Extract(ctx, text, entities)
	}
	return triples, nil
}

// extractAll runs the model per segment, deduplicating triples that appear
// in overlapping segments.
func (l *LLM) extractAll(ctx context.Context, text string, entities []model.AlignedEntity) ([]model.Triple, error) {
	seen := make(map[string]bool)
	var out []model.Triple
	for _, seg := range l.splitter.Split(text) {
		ts, err := l.extract(ctx, seg.Text, entities)
		if err != nil {
			return nil, err
		}
		for _, t := range ts {
			key := t.HeadID + "\x00" + t.Relation + "\x00" + t.TailID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	return out, nil
}

type rawTriple struct {
	HeadID   string `json:"head_id"`
	Relation string `json:"relation"`
	TailID   string `json:"tail_id"`
}

func (l *LLM) extract(ctx context.Context, text string, entities []model.AlignedEntity) ([]model.Triple, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	content, err := l.client.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(relationPrompt, entityTable(entities), text)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var raw []rawTriple
	if err := json.Unmarshal([]byte(llm.StripFences(content)), &raw); err != nil {
		return nil, fmt.Errorf("parsing relation response: %w", err)
	}

	known := make(map[string]bool, len(entities))
	byName := make(map[string]string, len(entities))
	for _, e := range entities {
		known[e.ID] = true
		byName[e.Name] = e.ID
	}

	seen := make(map[string]bool)
	var triples []model.Triple
	for _, r := range raw {
		head, tail := r.HeadID, r.TailID
		// Models sometimes answer with names despite the id instruction.
		if !known[head] {
			head = byName[head]
		}
		if !known[tail] {
			tail = byName[tail]
		}
		rel := strings.TrimSpace(r.Relation)
		if !known[head] || !known[tail] || head == tail || rel == "" {
			continue
		}
		key := head + "\x00" + rel + "\x00" + tail
		if seen[key] {
			continue
		}
		seen[key] = true
		triples = append(triples, model.Triple{
			HeadID:     head,
			Relation:   rel,
			TailID:     tail,
			Confidence: 0.9,
			Source:     model.SourceExtracted,
		})
	}
	return triples, nil
}

func entityTable(entities []model.AlignedEntity) string {
	var b strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", e.ID, e.Name, e.Type)
	}
	return b.String()
}
