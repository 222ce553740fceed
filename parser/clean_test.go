package parser

import (
	"strings"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "collapses whitespace runs",
			in:   "百度公司   成立\t\t于北京",
			want: "百度公司 成立 于北京",
		},
		{
			name: "collapses repeated punctuation",
			in:   "重要！！！！注意……",
			want: "重要！注意…",
		},
		{
			name: "drops soft hyphens",
			in:   "know­ledge graph",
			want: "knowledge graph",
		},
		{
			name: "removes blank lines",
			in:   "first\n\n\n  \nsecond",
			want: "first\nsecond",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMeaningful(t *testing.T) {
	long := strings.Repeat("百度公司是一家人工智能企业，总部位于北京。", 10)

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"real text", long, true},
		{"too short", "百度公司", false},
		{"mostly punctuation", strings.Repeat("。，、！？；：……——", 20), false},
		{"long but no content tokens", strings.Repeat("一 ", 120), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Meaningful(tt.in); got != tt.want {
				t.Errorf("Meaningful = %v, want %v", got, tt.want)
			}
		})
	}
}
