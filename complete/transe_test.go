package complete

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/kgforge/kgforge/model"
)

func extracted(h, r, t string) model.Triple {
	return model.Triple{HeadID: h, Relation: r, TailID: t, Source: model.SourceExtracted}
}

func chainTriples() []model.Triple {
	// A -r-> B -r-> C plus padding entities so completion has candidates.
	return []model.Triple{
		extracted("A", "r", "B"),
		extracted("B", "r", "C"),
		extracted("D", "s", "E"),
	}
}

func newTrained(t *testing.T, triples []model.Triple) *Model {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = 7
	m := New(cfg)
	if err := m.Train(context.Background(), triples); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCompleteProposesChainClosure(t *testing.T) {
	m := newTrained(t, chainTriples())

	inferred, err := m.Complete(context.Background(), chainTriples())
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, tr := range inferred {
		if tr.Source != model.SourceCompleted {
			t.Errorf("inferred triple source = %q, want completed", tr.Source)
		}
		if tr.HeadID == "A" && tr.Relation == "r" && tr.TailID == "C" {
			found = true
		}
		if m.observed[tripleKey(tr.HeadID, tr.Relation, tr.TailID)] {
			t.Errorf("completion repeated an observed triple: %+v", tr)
		}
		if tr.Confidence <= 0 || tr.Confidence > 1 {
			t.Errorf("confidence %f out of range", tr.Confidence)
		}
	}
	if !found {
		t.Error("expected (A, r, C) among inferred triples")
	}
}

func TestCompleteTopKCap(t *testing.T) {
	m := newTrained(t, chainTriples())

	inferred, err := m.Complete(context.Background(), []model.Triple{extracted("A", "r", "B")})
	if err != nil {
		t.Fatal(err)
	}
	if len(inferred) > m.cfg.TopK {
		t.Errorf("got %d inferred for one (head, relation), want <= %d", len(inferred), m.cfg.TopK)
	}
}

func TestTrainNoTriples(t *testing.T) {
	m := New(DefaultConfig())
	if err := m.Train(context.Background(), nil); err == nil {
		t.Error("want error training on empty triple set")
	}
}

func TestEmbeddingsNormalized(t *testing.T) {
	m := newTrained(t, chainTriples())
	for id, v := range m.EntityEmbeddings() {
		var sum float64
		for _, x := range v {
			sum += x * x
		}
		if math.Abs(math.Sqrt(sum)-1.0) > 1e-9 {
			t.Errorf("entity %s embedding norm = %f, want 1.0", id, math.Sqrt(sum))
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newTrained(t, chainTriples())

	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatal(err)
	}

	for id, want := range m.entityEmb {
		got, ok := loaded.entityEmb[id]
		if !ok {
			t.Fatalf("entity %s missing after load", id)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("entity %s embedding differs at %d: %v != %v", id, i, got[i], want[i])
			}
		}
	}

	// The loaded model completes identically.
	a, err := m.Complete(context.Background(), chainTriples())
	if err != nil {
		t.Fatal(err)
	}
	b, err := loaded.Complete(context.Background(), chainTriples())
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("completion diverged after load: %d vs %d triples", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("triple %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
