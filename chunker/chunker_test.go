package chunker

import (
	"strings"
	"testing"
)

func TestSplitShortTextSingleSegment(t *testing.T) {
	c := New(Config{MaxRunes: 100})
	segs := c.Split("百度公司推出文心一言。")
	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	if segs[0].Start != 0 {
		t.Errorf("start = %d, want 0", segs[0].Start)
	}
}

func TestSplitRespectsMaxRunes(t *testing.T) {
	c := New(Config{MaxRunes: 50, Overlap: 5})
	text := strings.Repeat("这是一个测试句子，用来验证分段。", 20)

	segs := c.Split(text)
	if len(segs) < 2 {
		t.Fatalf("segments = %d, want several", len(segs))
	}
	for i, s := range segs {
		if n := len([]rune(s.Text)); n > 50 {
			t.Errorf("segment %d has %d runes, max 50", i, n)
		}
	}
}

func TestSplitStartOffsets(t *testing.T) {
	c := New(Config{MaxRunes: 40, Overlap: 4})
	text := strings.Repeat("知识图谱由实体和关系组成。", 15)
	runes := []rune(text)

	for i, s := range c.Split(text) {
		sr := []rune(s.Text)
		got := string(runes[s.Start : s.Start+len(sr)])
		if got != s.Text {
			t.Errorf("segment %d start offset wrong: %q != %q", i, got, s.Text)
		}
	}
}

func TestSplitOversizedSentenceHardCut(t *testing.T) {
	c := New(Config{MaxRunes: 30, Overlap: 3})
	text := strings.Repeat("无标点长文本", 20) // no terminators at all

	segs := c.Split(text)
	if len(segs) < 2 {
		t.Fatalf("segments = %d, want several", len(segs))
	}
	for i, s := range segs {
		if n := len([]rune(s.Text)); n > 30 {
			t.Errorf("segment %d has %d runes, max 30", i, n)
		}
	}
}

func TestSplitCoversWholeText(t *testing.T) {
	c := New(Config{MaxRunes: 35, Overlap: 5})
	text := strings.Repeat("实体对齐合并重复提及。", 12)
	runes := []rune(text)

	segs := c.Split(text)
	last := segs[len(segs)-1]
	if end := last.Start + len([]rune(last.Text)); end != len(runes) {
		t.Errorf("last segment ends at %d, want %d", end, len(runes))
	}
}
