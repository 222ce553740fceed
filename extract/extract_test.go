package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/kgforge/kgforge/llm"
	"github.com/kgforge/kgforge/model"
)

const sampleText = "百度公司于2023年推出文心一言。王海峰领导百度研究院。"

func names(mentions []model.Mention) map[string]model.Mention {
	out := make(map[string]model.Mention, len(mentions))
	for _, m := range mentions {
		out[m.Name] = m
	}
	return out
}

func TestRuleExtract(t *testing.T) {
	mentions, err := NewRule().Extract(context.Background(), sampleText)
	if err != nil {
		t.Fatal(err)
	}

	got := names(mentions)
	for _, want := range []string{"百度公司", "文心一言", "王海峰", "百度研究院", "2023年"} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing mention %q (got %v)", want, keys(got))
		}
	}

	if m := got["百度研究院"]; m.Name != "" {
		runes := []rune(sampleText)
		if string(runes[m.Start:m.End]) != "百度研究院" {
			t.Errorf("offset mismatch for 百度研究院: [%d,%d) = %q", m.Start, m.End, string(runes[m.Start:m.End]))
		}
	}

	ids := make(map[string]bool)
	for _, m := range mentions {
		if ids[m.ID] {
			t.Errorf("duplicate mention id %s", m.ID)
		}
		ids[m.ID] = true
	}
}

func TestRuleExtractTypes(t *testing.T) {
	mentions, err := NewRule().Extract(context.Background(), sampleText)
	if err != nil {
		t.Fatal(err)
	}
	got := names(mentions)
	tests := []struct{ name, typ string }{
		{"百度公司", "组织"},
		{"王海峰", "人物"},
		{"2023年", "时间"},
		{"文心一言", "技术"},
	}
	for _, tt := range tests {
		m, ok := got[tt.name]
		if !ok {
			continue // presence covered elsewhere
		}
		if m.Type != tt.typ {
			t.Errorf("%s type = %s, want %s", tt.name, m.Type, tt.typ)
		}
	}
}

func TestRuleNounSweepLastResort(t *testing.T) {
	mentions, err := NewRule().Extract(context.Background(), "苹果 香蕉 橘子")
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) == 0 {
		t.Fatal("noun sweep produced no mentions")
	}
	got := names(mentions)
	if _, ok := got["苹果"]; !ok {
		t.Errorf("sweep missed 苹果: %v", keys(got))
	}
}

func keys(m map[string]model.Mention) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// fakeChat returns canned content or an error.
type fakeChat struct {
	content string
	err     error
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	return f.content, f.err
}

func TestLLMExtractValidResponse(t *testing.T) {
	resp := "```json\n" + `[
		{"name":"百度公司","type":"组织","start_pos":0,"end_pos":4},
		{"name":"文心一言","type":"产品","start_pos":11,"end_pos":15}
	]` + "\n```"

	mentions, err := NewLLM(&fakeChat{content: resp}).Extract(context.Background(), sampleText)
	if err != nil {
		t.Fatal(err)
	}
	got := names(mentions)
	if m, ok := got["百度公司"]; !ok || m.Type != "组织" {
		t.Errorf("百度公司 = %+v", m)
	}
	if _, ok := got["文心一言"]; !ok {
		t.Error("missing 文心一言")
	}
}

func TestLLMExtractRelocatesBadOffsets(t *testing.T) {
	// The span [2,6) reads 公司于2, nothing like the name, so the validator
	// must re-locate 文心一言 by substring search.
	resp := `[{"name":"文心一言","type":"产品","start_pos":2,"end_pos":6}]`

	mentions, err := NewLLM(&fakeChat{content: resp}).Extract(context.Background(), sampleText)
	if err != nil {
		t.Fatal(err)
	}
	got := names(mentions)
	m, ok := got["文心一言"]
	if !ok {
		t.Fatal("mention dropped instead of re-located")
	}
	runes := []rune(sampleText)
	if string(runes[m.Start:m.End]) != "文心一言" {
		t.Errorf("re-located span [%d,%d) = %q", m.Start, m.End, string(runes[m.Start:m.End]))
	}
}

func TestLLMExtractDropsUnfindable(t *testing.T) {
	resp := `[{"name":"不存在实体","type":"组织","start_pos":0,"end_pos":5}]`

	mentions, err := NewLLM(&fakeChat{content: resp}).Extract(context.Background(), sampleText)
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) != 0 {
		t.Errorf("want no mentions, got %v", mentions)
	}
}

func TestLLMExtractFallsBackOnError(t *testing.T) {
	mentions, err := NewLLM(&fakeChat{err: errors.New("connection refused")}).Extract(context.Background(), sampleText)
	if err != nil {
		t.Fatal(err)
	}
	got := names(mentions)
	if _, ok := got["百度公司"]; !ok {
		t.Errorf("fallback did not run rule bank: %v", keys(got))
	}
}

func TestLLMExtractFallsBackOnGarbage(t *testing.T) {
	mentions, err := NewLLM(&fakeChat{content: "抱歉，我无法完成这个任务。"}).Extract(context.Background(), sampleText)
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) == 0 {
		t.Error("fallback did not run on unparseable response")
	}
}

func TestLLMExtractPositionSlack(t *testing.T) {
	runes := []rune(sampleText)
	n := len(runes)
	// end_pos slightly past the text is clamped, not dropped, when the name
	// actually sits at the tail.
	resp := `[{"name":"` + string(runes[n-6:n-1]) + `","type":"概念","start_pos":` +
		itoa(n-6) + `,"end_pos":` + itoa(n+2) + `}]`

	mentions, err := NewLLM(&fakeChat{content: resp}).Extract(context.Background(), sampleText)
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) != 1 {
		t.Fatalf("want 1 mention, got %d", len(mentions))
	}
	if mentions[0].End > n {
		t.Errorf("End = %d beyond text length %d", mentions[0].End, n)
	}
}

func itoa(n int) string {
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}
