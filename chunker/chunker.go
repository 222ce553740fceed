// Package chunker splits long texts into bounded segments for LLM
// extraction. Segments break on sentence boundaries and overlap slightly so
// entities and relations spanning a boundary are not lost.
package chunker

// Config controls the segmentation behaviour.
type Config struct {
	MaxRunes int // maximum runes per segment
	Overlap  int // trailing runes repeated at the start of the next segment
}

// Chunker splits texts according to its Config.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxRunes <= 0 {
		cfg.MaxRunes = 1500
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxRunes/2 {
		cfg.Overlap = cfg.MaxRunes / 10
	}
	return &Chunker{cfg: cfg}
}

// Segment is one slice of the original text. Start is the rune offset of the
// segment in the original, so extraction offsets can be mapped back.
type Segment struct {
	Text  string
	Start int
}

// Split cuts text into segments of at most MaxRunes, preferring sentence
// boundaries. A text that already fits is returned as a single segment.
func (c *Chunker) Split(text string) []Segment {
	max, ov := c.cfg.MaxRunes, c.cfg.Overlap
	if len([]rune(text)) <= max {
		return []Segment{{Text: text}}
	}

	var segs []Segment
	var cur []rune
	curStart := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		segs = append(segs, Segment{Text: string(cur), Start: curStart})
		tail := ov
		if tail > len(cur) {
			tail = len(cur)
		}
		curStart += len(cur) - tail
		cur = append(cur[:0:0], cur[len(cur)-tail:]...)
	}

	for _, s := range splitSentences(text) {
		sr := []rune(s)
		if len(cur) > 0 && len(cur)+len(sr) > max {
			flush()
		}
		// A single sentence longer than a whole segment is cut hard.
		for len(cur)+len(sr) > max {
			take := max - len(cur)
			cur = append(cur, sr[:take]...)
			sr = sr[take:]
			flush()
		}
		cur = append(cur, sr...)
	}
	if len(cur) > 0 {
		segs = append(segs, Segment{Text: string(cur), Start: curStart})
	}
	return segs
}

// splitSentences cuts after CJK and Latin sentence terminators and newlines,
// keeping the terminator with its sentence.
func splitSentences(text string) []string {
	var out []string
	var cur []rune
	for _, r := range text {
		cur = append(cur, r)
		switch r {
		case '。', '！', '？', '；', '!', '?', '\n':
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
