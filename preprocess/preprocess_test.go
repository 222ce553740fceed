package preprocess

import (
	"strings"
	"testing"
)

func TestNewFactory(t *testing.T) {
	for _, name := range []string{"", "simhash", "minhash"} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
	if _, err := New("bloom"); err == nil {
		t.Error("New(bloom): want error")
	}
}

func TestNormalize(t *testing.T) {
	got := normalize("  Hello   World\t百度  ")
	if got != "hello world 百度" {
		t.Errorf("normalize = %q", got)
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("百度 baidu2023 发布")
	want := []string{"百", "度", "baidu2023", "发", "布"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

var (
	textA = strings.Repeat("百度公司是一家人工智能企业，总部位于北京。", 5)
	textB = strings.Repeat("阿里巴巴集团是一家电子商务企业，总部位于杭州。", 5)
)

func TestSimHashDedupe(t *testing.T) {
	s := NewSimHash()

	t.Run("identical texts collapse", func(t *testing.T) {
		got := s.Dedupe([]string{textA, textA, textB})
		if len(got) != 2 {
			t.Fatalf("kept %d texts, want 2", len(got))
		}
		if got[0] != textA || got[1] != textB {
			t.Error("dedupe did not keep first occurrences in order")
		}
	})

	t.Run("distinct texts kept", func(t *testing.T) {
		got := s.Dedupe([]string{textA, textB})
		if len(got) != 2 {
			t.Fatalf("kept %d texts, want 2", len(got))
		}
	})

	t.Run("whitespace variant collapses", func(t *testing.T) {
		variant := strings.ReplaceAll(textA, "。", "。  ")
		got := s.Dedupe([]string{textA, variant})
		if len(got) != 1 {
			t.Fatalf("kept %d texts, want 1", len(got))
		}
	})
}

func TestSimHashFingerprint(t *testing.T) {
	s := NewSimHash()
	if s.Fingerprint(textA) != s.Fingerprint(textA) {
		t.Error("fingerprint not deterministic")
	}
	if s.Fingerprint(textA) == s.Fingerprint(textB) {
		t.Error("distinct texts share a fingerprint")
	}
}

func TestHammingBoundary(t *testing.T) {
	base := uint64(0b1010)
	tests := []struct {
		other uint64
		dist  int
	}{
		{base, 0},
		{base ^ 0b0111, 3},
		{base ^ 0b1111, 4},
	}
	for _, tt := range tests {
		if got := hamming(base, tt.other); got != tt.dist {
			t.Errorf("hamming = %d, want %d", got, tt.dist)
		}
	}
}

func TestMinHashDedupe(t *testing.T) {
	m := NewMinHash()

	got := m.Dedupe([]string{textA, textA, textB})
	if len(got) != 2 {
		t.Fatalf("kept %d texts, want 2", len(got))
	}

	sigA := m.Signature(textA)
	if estimateJaccard(sigA, m.Signature(textA)) != 1.0 {
		t.Error("identical texts should have identical signatures")
	}
	if sim := estimateJaccard(sigA, m.Signature(textB)); sim >= jaccardThreshold {
		t.Errorf("unrelated texts estimated at %.2f, want < %.2f", sim, jaccardThreshold)
	}
}

func TestMinHashDeterministicAcrossInstances(t *testing.T) {
	a, b := NewMinHash(), NewMinHash()
	if a.Signature(textA) != b.Signature(textA) {
		t.Error("signatures differ across instances; permutation seed not stable")
	}
}
