package extract

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

const entityPrompt = `你是一个专业的命名实体识别助手。请从下面的文本中抽取所有实体。

要求：
1. 实体类型限定为：人物、组织、地点、时间、技术、产品、事件、数字、职位、概念
2. 返回JSON数组，每个元素包含 name、type、start_pos、end_pos 四个字段
3. start_pos 和 end_pos 是实体在原文中的字符位置（从0开始，左闭右开）
4. 只返回JSON数组，不要输出任何其他内容

文本：
%s`

const (
	chatTimeout = 60 * time.Second

	// positionSlack tolerates model off-by-a-few offsets past the text end.
	positionSlack = 5

	// spanSimilarityFloor accepts a reported span whose text is close to the
	// reported name even if not byte-identical.
	spanSimilarityFloor = 0.6
)

// LLM extracts mentions with a chat model and falls back to the rule bank
// (in force-extended mode) when the model call or its output is unusable.
// Long texts are segmented so each request stays inside the model's window.
type LLM struct {
	client   llm.Client
	fallback *Rule
	splitter *chunker.Chunker
}

func NewLLM(client llm.Client) *LLM {
	return &LLM{
		client:   client,
		fallback: NewRuleForceExtended(),
		splitter: chunker.New(chunker.Config{}),
	}
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Extract(ctx context.Context, text string) ([]model.Mention, error) {
	mentions, err := l.extractAll(ctx, text)
	if err != nil {
		slog.Warn("extract: llm extraction failed, using rule fallback", "error", err)
		return l.fallback.Extract(ctx, text)
	}
	return mentions, nil
}

// extractAll runs the model per segment and maps offsets back to the full
// text. Overlapping segments may report the same mention twice; the first
// occurrence wins.
func (l *LLM) extractAll(ctx context.Context, text string) ([]model.Mention, error) {
	seen := make(map[string]bool)
	var out []model.Mention
	for _, seg := range l.splitter.Split(text) {
		ms, err := l.extract(ctx, seg.Text)
		if err != nil {
			return nil, err
		}
		for _, m := range ms {
			key := m.Name + "\x00" + m.Type
			if seen[key] {
				continue
			}
			seen[key] = true
			m.Start += seg.Start
			m.End += seg.Start
			out = append(out, m)
		}
	}
	return out, nil
}

type rawEntity struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Start *int   `json:"start_pos"`
	End   *int   `json:"end_pos"`
}

func (l *LLM) extract(ctx context.Context, text string) ([]model.Mention, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	content, err := l.client.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(entityPrompt, text)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var raw []rawEntity
	if err := json.Unmarshal([]byte(llm.StripFences(content)), &raw); err != nil {
		return nil, fmt.Errorf("parsing entity response: %w", err)
	}

	runes := []rune(text)
	seen := make(map[string]bool)
	var mentions []model.Mention
	for _, e := range raw {
		m, ok := validateEntity(e, runes)
		if !ok {
			continue
		}
		key := m.Name + "\x00" + m.Type
		if seen[key] {
			continue
		}
		seen[key] = true
		mentions = append(mentions, m)
	}
	return mentions, nil
}

// validateEntity checks one reported entity against the source text.
// Positions are rune offsets. A span whose text diverges from the name is
// re-located by substring search before being dropped.
func validateEntity(e rawEntity, runes []rune) (model.Mention, bool) {
	name := strings.TrimSpace(e.Name)
	if name == "" || e.Start == nil || e.End == nil {
		return model.Mention{}, false
	}

	start, end := *e.Start, *e.End
	n := len(runes)
	if start < 0 || end <= start || start > n+positionSlack || end > n+positionSlack {
		return model.Mention{}, false
	}
	// Clamp slack offsets back inside the text.
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}

	if start < end {
		span := string(runes[start:end])
		if span != name && similarity(span, name) < spanSimilarityFloor {
			start, end = -1, -1
		}
	} else {
		start, end = -1, -1
	}

	// Re-locate by exact substring when the reported span is wrong.
	if start < 0 {
		idx := strings.Index(string(runes), name)
		if idx < 0 {
			return model.Mention{}, false
		}
		start = len([]rune(string(runes)[:idx]))
		end = start + len([]rune(name))
	}

	return model.Mention{
		ID:         newMentionID(),
		Name:       name,
		Type:       canonicalType(e.Type),
		Start:      start,
		End:        end,
		Confidence: 0.9,
	}, true
}
