// Package model holds the value types that flow through the construction
// pipeline: entity mentions, aligned entities, and relation triples.
package model

// Mention is a single entity occurrence found in one text. Start and End are
// rune offsets into the source text.
type Mention struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Start      int     `json:"start_pos"`
	End        int     `json:"end_pos"`
	Confidence float64 `json:"confidence"`
}

// AlignedEntity is the canonical entity produced by alignment. MergedIDs
// lists every mention id that was folded into it, its own included.
type AlignedEntity struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	MergedIDs []string `json:"merged_ids,omitempty"`
}

// Triple sources.
const (
	SourceExtracted = "extracted"
	SourceCompleted = "completed"
)

// Triple is a directed relation between two aligned entities.
type Triple struct {
	HeadID     string  `json:"head_id"`
	Relation   string  `json:"relation"`
	TailID     string  `json:"tail_id"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}
