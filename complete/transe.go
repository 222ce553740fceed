// Package complete infers missing relations with TransE embeddings: entities
// and relations become vectors trained so that head + relation ≈ tail, and
// low-distance unseen (head, relation, tail) combinations are proposed as new
// triples.
package complete

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"

	"github.com/kgforge/kgforge/model"
)

// Config holds the TransE hyperparameters.
type Config struct {
	Dim          int     `json:"dim"`
	Margin       float64 `json:"margin"`
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	TopK         int     `json:"top_k"`
	Seed         int64   `json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Dim:          50,
		Margin:       1.0,
		LearningRate: 0.01,
		Epochs:       100,
		TopK:         3,
	}
}

// Model is a trained TransE model over one graph's triples.
type Model struct {
	cfg       Config
	entityEmb map[string][]float64
	relEmb    map[string][]float64
	entities  []string
	relations []string
	observed  map[string]bool
	rng       *rand.Rand
}

func New(cfg Config) *Model {
	if cfg.Dim <= 0 {
		cfg = DefaultConfig()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Model{
		cfg:       cfg,
		entityEmb: make(map[string][]float64),
		relEmb:    make(map[string][]float64),
		observed:  make(map[string]bool),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Train fits embeddings to the observed triples. Triples whose endpoints
// repeat across relations are what give the model signal; tiny graphs still
// train, they just complete conservatively.
func (m *Model) Train(ctx context.Context, triples []model.Triple) error {
	if len(triples) == 0 {
		return fmt.Errorf("complete: no triples to train on")
	}

	for _, t := range triples {
		m.addEntity(t.HeadID)
		m.addEntity(t.TailID)
		m.addRelation(t.Relation)
		m.observed[tripleKey(t.HeadID, t.Relation, t.TailID)] = true
	}

	batch := make([]model.Triple, len(triples))
	copy(batch, triples)

	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
		for _, t := range batch {
			m.step(t)
		}
	}
	return nil
}

func (m *Model) addEntity(id string) {
	if _, ok := m.entityEmb[id]; ok {
		return
	}
	m.entityEmb[id] = m.randomVector()
	m.entities = append(m.entities, id)
}

func (m *Model) addRelation(rel string) {
	if _, ok := m.relEmb[rel]; ok {
		return
	}
	m.relEmb[rel] = m.randomVector()
	m.relations = append(m.relations, rel)
}

// randomVector draws uniform components in [-6/sqrt(d), +6/sqrt(d)],
// L2-normalized.
func (m *Model) randomVector() []float64 {
	bound := 6.0 / math.Sqrt(float64(m.cfg.Dim))
	v := make([]float64, m.cfg.Dim)
	for i := range v {
		v[i] = (m.rng.Float64()*2 - 1) * bound
	}
	normalize(v)
	return v
}

// step performs one margin-ranking update on a triple against a corrupted
// negative (head or tail replaced, 50/50).
func (m *Model) step(t model.Triple) {
	corrupt := m.entities[m.rng.Intn(len(m.entities))]
	negHead, negTail := t.HeadID, t.TailID
	if m.rng.Intn(2) == 0 {
		negHead = corrupt
	} else {
		negTail = corrupt
	}
	if m.observed[tripleKey(negHead, t.Relation, negTail)] {
		return
	}

	h, r, tl := m.entityEmb[t.HeadID], m.relEmb[t.Relation], m.entityEmb[t.TailID]
	nh, ntl := m.entityEmb[negHead], m.entityEmb[negTail]

	posDist := distance(h, r, tl)
	negDist := distance(nh, r, ntl)
	if posDist+m.cfg.Margin <= negDist {
		return
	}

	// Gradient of the squared-distance margin loss: 2(h + r - t) for the
	// positive, mirrored for the negative.
	lr := m.cfg.LearningRate
	for i := 0; i < m.cfg.Dim; i++ {
		posGrad := 2 * (h[i] + r[i] - tl[i])
		negGrad := 2 * (nh[i] + r[i] - ntl[i])
		h[i] -= lr * posGrad
		tl[i] += lr * posGrad
		r[i] -= lr * (posGrad - negGrad)
		nh[i] += lr * negGrad
		ntl[i] -= lr * negGrad
	}
	for _, v := range [][]float64{h, tl, nh, ntl, r} {
		normalize(v)
	}
}

// Complete proposes unseen triples: for every observed (head, relation)
// pair, the TopK lowest-distance candidate tails that do not repeat an
// observed triple. Confidence decays with distance.
func (m *Model) Complete(ctx context.Context, triples []model.Triple) ([]model.Triple, error) {
	if len(m.entityEmb) == 0 {
		return nil, fmt.Errorf("complete: model not trained")
	}

	type pair struct{ head, rel string }
	seenPair := make(map[pair]bool)
	var inferred []model.Triple

	for _, t := range triples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := pair{t.HeadID, t.Relation}
		if seenPair[p] {
			continue
		}
		seenPair[p] = true

		h, r := m.entityEmb[t.HeadID], m.relEmb[t.Relation]
		if h == nil || r == nil {
			continue
		}

		type scored struct {
			tail string
			dist float64
		}
		var candidates []scored
		for _, tail := range m.entities {
			if tail == t.HeadID || m.observed[tripleKey(t.HeadID, t.Relation, tail)] {
				continue
			}
			candidates = append(candidates, scored{tail, distance(h, r, m.entityEmb[tail])})
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

		topK := m.cfg.TopK
		if topK <= 0 {
			topK = 3
		}
		for i := 0; i < len(candidates) && i < topK; i++ {
			inferred = append(inferred, model.Triple{
				HeadID:     t.HeadID,
				Relation:   t.Relation,
				TailID:     candidates[i].tail,
				Confidence: 1.0 / (1.0 + candidates[i].dist),
				Source:     model.SourceCompleted,
			})
		}
	}
	return inferred, nil
}

// EntityEmbeddings exposes the trained entity vectors (for persistence).
func (m *Model) EntityEmbeddings() map[string][]float64 {
	out := make(map[string][]float64, len(m.entityEmb))
	for id, v := range m.entityEmb {
		c := make([]float64, len(v))
		copy(c, v)
		out[id] = c
	}
	return out
}

// modelState is the serialized form.
type modelState struct {
	Cfg       Config
	EntityEmb map[string][]float64
	RelEmb    map[string][]float64
	Entities  []string
	Relations []string
	Observed  map[string]bool
}

// Save writes the trained model; Load restores it exactly.
func (m *Model) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode(modelState{
		Cfg:       m.cfg,
		EntityEmb: m.entityEmb,
		RelEmb:    m.relEmb,
		Entities:  m.entities,
		Relations: m.relations,
		Observed:  m.observed,
	})
}

func Load(r io.Reader) (*Model, error) {
	var st modelState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("complete: decoding model: %w", err)
	}
	m := New(st.Cfg)
	m.entityEmb = st.EntityEmb
	m.relEmb = st.RelEmb
	m.entities = st.Entities
	m.relations = st.Relations
	m.observed = st.Observed
	return m, nil
}

func tripleKey(head, rel, tail string) string {
	return head + "\x00" + rel + "\x00" + tail
}

func distance(h, r, t []float64) float64 {
	var sum float64
	for i := range h {
		d := h[i] + r[i] - t[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}
