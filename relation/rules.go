package relation

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/kgforge/kgforge/model"
)

// fuzzyMatchFloor is the similarity at which a pattern capture is accepted
// as naming an entity.
const fuzzyMatchFloor = 0.65

// word matches one content word: CJK, Latin letters, digits, underscore.
// (\w in Go regexp does not cover CJK.)
const word = `[\p{Han}\p{Latin}0-9_]+`

type patternRule struct {
	re *regexp.Regexp
	// build produces (head capture, tail capture, relation label) from the
	// submatches; returning empty head or tail skips the match.
	build func(groups []string) (string, string, string)
}

var patternRules = []patternRule{
	{ // 合作: X 与/和/同 Y 合作
		re: regexp.MustCompile(`(` + word + `)(与|和|同)(` + word + `)(合作|达成合作|战略合作)`),
		build: func(g []string) (string, string, string) {
			return g[1], g[3], g[4]
		},
	},
	{ // 发布: X 推出/发布/研发/研制 Y
		re: regexp.MustCompile(`(` + word + `)(推出|发布|研发|研制)(` + word + `)`),
		build: func(g []string) (string, string, string) {
			return g[1], g[3], g[2]
		},
	},
	{ // 隶属: X 是/属于/任职于/担任 Y
		re: regexp.MustCompile(`(` + word + `)(是|属于|任职于|担任)(` + word + `)`),
		build: func(g []string) (string, string, string) {
			return g[1], g[3], g[2]
		},
	},
	{ // 领导: X 领导/带领/负责 Y
		re: regexp.MustCompile(`(` + word + `)(领导|带领|负责)(` + word + `)`),
		build: func(g []string) (string, string, string) {
			return g[1], g[3], g[2]
		},
	},
	{ // 时间: X 于/在 TIME 推出/发布/成立
		re: regexp.MustCompile(`(` + word + `)(于|在)(\d{4}年[\d月日]*)(推出|发布|成立)`),
		build: func(g []string) (string, string, string) {
			return g[1], g[3], g[2] + g[3] + g[4]
		},
	},
	{ // 包含: X 包括/包含 Y
		re: regexp.MustCompile(`(` + word + `)(包括|包含)(` + word + `)`),
		build: func(g []string) (string, string, string) {
			return g[1], g[3], g[2]
		},
	},
	{ // 表示: X 表示/称/说 Y
		re: regexp.MustCompile(`(` + word + `)(表示|称|说)(` + word + `)`),
		build: func(g []string) (string, string, string) {
			return g[1], g[3], g[2]
		},
	},
}

// symmetricMarkers flag relations whose direction is weak; matching relaxes
// for them.
var symmetricMarkers = []string{"合作", "与", "和", "同"}

func symmetric(relation string) bool {
	for _, m := range symmetricMarkers {
		if strings.Contains(relation, m) {
			return true
		}
	}
	return false
}

// Rule extracts triples by Chinese predicate patterns.
type Rule struct{}

func NewRule() *Rule { return &Rule{} }

func (r *Rule) Name() string { return "rule" }

func (r *Rule) Extract(ctx context.Context, text string, entities []model.AlignedEntity) ([]model.Triple, error) {
	m := newMatcher(entities)
	seen := make(map[string]bool)
	var triples []model.Triple

	for _, p := range patternRules {
		for _, groups := range p.re.FindAllStringSubmatch(text, -1) {
			headCap, tailCap, rel := p.build(groups)
			if headCap == "" || tailCap == "" || rel == "" {
				continue
			}

			head, tail := m.resolve(headCap), m.resolve(tailCap)
			if (head == nil || tail == nil) && symmetric(rel) {
				// Weak-direction relations get one more chance with the
				// captures swapped.
				head, tail = m.resolve(tailCap), m.resolve(headCap)
			}
			if head == nil || tail == nil || head.ID == tail.ID {
				continue
			}

			key := head.ID + "\x00" + rel + "\x00" + tail.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			triples = append(triples, model.Triple{
				HeadID:     head.ID,
				Relation:   rel,
				TailID:     tail.ID,
				Confidence: 0.8,
				Source:     model.SourceExtracted,
			})
		}
	}
	return triples, nil
}

// matcher maps pattern captures onto entities: exact name, then substring
// with longest names first, then fuzzy.
type matcher struct {
	byName   map[string]*model.AlignedEntity
	byLen    []*model.AlignedEntity
	resolved map[string]*model.AlignedEntity
}

func newMatcher(entities []model.AlignedEntity) *matcher {
	m := &matcher{
		byName:   make(map[string]*model.AlignedEntity, len(entities)),
		resolved: make(map[string]*model.AlignedEntity),
	}
	for i := range entities {
		e := &entities[i]
		m.byName[e.Name] = e
		m.byLen = append(m.byLen, e)
	}
	sort.SliceStable(m.byLen, func(i, j int) bool {
		return len(m.byLen[i].Name) > len(m.byLen[j].Name)
	})
	return m
}

func (m *matcher) resolve(capture string) *model.AlignedEntity {
	if e, ok := m.resolved[capture]; ok {
		return e
	}
	e := m.lookup(capture)
	m.resolved[capture] = e
	return e
}

func (m *matcher) lookup(capture string) *model.AlignedEntity {
	if e, ok := m.byName[capture]; ok {
		return e
	}
	for _, e := range m.byLen {
		if strings.Contains(capture, e.Name) || strings.Contains(e.Name, capture) {
			return e
		}
	}
	var best *model.AlignedEntity
	bestSim := fuzzyMatchFloor
	for _, e := range m.byLen {
		if sim := similarity(capture, e.Name); sim >= bestSim {
			best, bestSim = e, sim
		}
	}
	return best
}
