package relation

import (
	"context"
	"errors"
	"testing"

	"github.com/kgforge/kgforge/llm"
	"github.com/kgforge/kgforge/model"
)

const sampleText = "百度公司于2023年推出文心一言。王海峰领导百度研究院。"

var sampleEntities = []model.AlignedEntity{
	{ID: "e1", Name: "百度公司", Type: "组织"},
	{ID: "e2", Name: "文心一言", Type: "技术"},
	{ID: "e3", Name: "王海峰", Type: "人物"},
	{ID: "e4", Name: "百度研究院", Type: "组织"},
	{ID: "e5", Name: "2023年", Type: "时间"},
}

func tripleSet(triples []model.Triple) map[[3]string]bool {
	out := make(map[[3]string]bool, len(triples))
	for _, t := range triples {
		out[[3]string{t.HeadID, t.Relation, t.TailID}] = true
	}
	return out
}

func TestRuleExtract(t *testing.T) {
	triples, err := NewRule().Extract(context.Background(), sampleText, sampleEntities)
	if err != nil {
		t.Fatal(err)
	}

	got := tripleSet(triples)
	for _, want := range [][3]string{
		{"e1", "推出", "e2"},
		{"e3", "领导", "e4"},
	} {
		if !got[want] {
			t.Errorf("missing triple %v (got %v)", want, got)
		}
	}
	for _, tr := range triples {
		if tr.Source != model.SourceExtracted {
			t.Errorf("triple source = %q, want extracted", tr.Source)
		}
		if tr.HeadID == tr.TailID {
			t.Errorf("self-loop triple: %+v", tr)
		}
	}
}

func TestRuleExtractCooperation(t *testing.T) {
	text := "华为与小米达成合作。"
	entities := []model.AlignedEntity{
		{ID: "h", Name: "华为", Type: "组织"},
		{ID: "x", Name: "小米", Type: "组织"},
	}
	triples, err := NewRule().Extract(context.Background(), text, entities)
	if err != nil {
		t.Fatal(err)
	}
	if !tripleSet(triples)[[3]string{"h", "合作", "x"}] {
		t.Errorf("missing cooperation triple, got %+v", triples)
	}
}

func TestRuleExtractSubstringCapture(t *testing.T) {
	// The greedy capture is 世界的百度公司; the cascade must land on the
	// longest entity name contained in it.
	text := "领先世界的百度公司发布了新模型。"
	entities := []model.AlignedEntity{
		{ID: "e1", Name: "百度公司", Type: "组织"},
		{ID: "e2", Name: "新模型", Type: "产品"},
	}
	triples, err := NewRule().Extract(context.Background(), text, entities)
	if err != nil {
		t.Fatal(err)
	}
	if !tripleSet(triples)[[3]string{"e1", "发布", "e2"}] {
		t.Errorf("substring cascade failed, got %+v", triples)
	}
}

func TestRuleExtractNoEntities(t *testing.T) {
	triples, err := NewRule().Extract(context.Background(), sampleText, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(triples) != 0 {
		t.Errorf("want no triples without entities, got %+v", triples)
	}
}

type fakeChat struct {
	content string
	err     error
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	return f.content, f.err
}

func TestLLMExtractValidResponse(t *testing.T) {
	resp := "```json\n" + `[
		{"head_id":"e1","relation":"推出","tail_id":"e2"},
		{"head_id":"e3","relation":"领导","tail_id":"e4"}
	]` + "\n```"

	triples, err := NewLLM(&fakeChat{content: resp}).Extract(context.Background(), sampleText, sampleEntities)
	if err != nil {
		t.Fatal(err)
	}
	if len(triples) != 2 {
		t.Fatalf("got %d triples, want 2", len(triples))
	}
}

func TestLLMExtractResolvesNames(t *testing.T) {
	resp := `[{"head_id":"百度公司","relation":"推出","tail_id":"文心一言"}]`

	triples, err := NewLLM(&fakeChat{content: resp}).Extract(context.Background(), sampleText, sampleEntities)
	if err != nil {
		t.Fatal(err)
	}
	if !tripleSet(triples)[[3]string{"e1", "推出", "e2"}] {
		t.Errorf("name-based answer not resolved to ids: %+v", triples)
	}
}

func TestLLMExtractDropsUnknownIDs(t *testing.T) {
	resp := `[
		{"head_id":"e1","relation":"推出","tail_id":"e99"},
		{"head_id":"e1","relation":"推出","tail_id":"e1"}
	]`

	triples, err := NewLLM(&fakeChat{content: resp}).Extract(context.Background(), sampleText, sampleEntities)
	if err != nil {
		t.Fatal(err)
	}
	if len(triples) != 0 {
		t.Errorf("want invalid triples dropped, got %+v", triples)
	}
}

func TestLLMExtractFallsBackOnError(t *testing.T) {
	triples, err := NewLLM(&fakeChat{err: errors.New("timeout")}).Extract(context.Background(), sampleText, sampleEntities)
	if err != nil {
		t.Fatal(err)
	}
	got := tripleSet(triples)
	if !got[[3]string{"e1", "推出", "e2"}] || !got[[3]string{"e3", "领导", "e4"}] {
		t.Errorf("fallback did not produce rule triples: %+v", triples)
	}
}
