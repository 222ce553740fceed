// Package align merges duplicate entity mentions across texts into canonical
// entities, and rewrites triples through the resulting merge map.
package align

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/kgforge/kgforge/model"
)

// DefaultThreshold is the score at which two mentions are considered the
// same entity.
const DefaultThreshold = 0.8

// Score weights: names dominate, type agreement breaks near ties.
const (
	nameWeight = 0.7
	typeWeight = 0.3

	// containmentSim is the name similarity credited when one preprocessed
	// name contains the other ("百度" vs "百度公司"). Plain edit distance
	// underrates these pairs badly for short CJK names.
	containmentSim = 0.9
)

type Aligner struct {
	Threshold float64
}

func New(threshold float64) *Aligner {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Aligner{Threshold: threshold}
}

// Align clusters mentions into canonical entities. It returns the entities
// and a merge map from every mention id to its canonical entity id. Every
// input id appears in the map, canonical ids included (mapped to themselves).
func (a *Aligner) Align(mentions []model.Mention) ([]model.AlignedEntity, map[string]string) {
	var entities []model.AlignedEntity
	merge := make(map[string]string, len(mentions))

	for _, m := range mentions {
		matched := false
		for i := range entities {
			if a.score(m, entities[i]) >= a.Threshold {
				absorb(&entities[i], m)
				merge[m.ID] = entities[i].ID
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		entities = append(entities, model.AlignedEntity{
			ID:        m.ID,
			Name:      m.Name,
			Type:      m.Type,
			MergedIDs: []string{m.ID},
		})
		merge[m.ID] = m.ID
	}
	return entities, merge
}

// absorb folds a mention into an existing entity. The longer name wins so
// the canonical form carries the most information.
func absorb(e *model.AlignedEntity, m model.Mention) {
	if utf8.RuneCountInString(m.Name) > utf8.RuneCountInString(e.Name) {
		e.Name = m.Name
	}
	e.MergedIDs = append(e.MergedIDs, m.ID)
}

func (a *Aligner) score(m model.Mention, e model.AlignedEntity) float64 {
	typeSim := 0.5
	if m.Type == e.Type {
		typeSim = 1.0
	}
	return nameWeight*nameSimilarity(m.Name, e.Name) + typeWeight*typeSim
}

// nameSimilarity compares preprocessed names: exact match is 1.0,
// containment scores containmentSim, otherwise Levenshtein ratio.
func nameSimilarity(a, b string) float64 {
	a, b = preprocessName(a), preprocessName(b)
	if a == b {
		return 1.0
	}
	if a != "" && b != "" && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return containmentSim
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(sim)
}

// preprocessName lowercases, strips punctuation and symbols, and collapses
// whitespace.
func preprocessName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// AdjustTriples rewrites triple endpoints through the merge map and drops
// duplicates created by the rewrite. Endpoints unknown to the map pass
// through unchanged.
func AdjustTriples(triples []model.Triple, merge map[string]string) []model.Triple {
	seen := make(map[string]bool, len(triples))
	out := make([]model.Triple, 0, len(triples))
	for _, t := range triples {
		if id, ok := merge[t.HeadID]; ok {
			t.HeadID = id
		}
		if id, ok := merge[t.TailID]; ok {
			t.TailID = id
		}
		if t.HeadID == t.TailID {
			continue
		}
		key := t.HeadID + "\x00" + t.Relation + "\x00" + t.TailID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
