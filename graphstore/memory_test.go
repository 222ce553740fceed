package graphstore

import (
	"context"
	"testing"
	"time"

	"github.com/kgforge/kgforge/model"
)

func seedGraph(t *testing.T, m *Memory, userID, kgID string) {
	t.Helper()
	entities := []model.AlignedEntity{
		{ID: kgID + "-e1", Name: "百度公司", Type: "组织"},
		{ID: kgID + "-e2", Name: "文心一言", Type: "技术"},
		{ID: kgID + "-e3", Name: "王海峰", Type: "人物"},
	}
	triples := []model.Triple{
		{HeadID: kgID + "-e1", Relation: "推出", TailID: kgID + "-e2", Confidence: 0.8, Source: model.SourceExtracted},
		{HeadID: kgID + "-e3", Relation: "任职于", TailID: kgID + "-e1", Confidence: 0.8, Source: model.SourceExtracted},
	}
	if err := m.Persist(context.Background(), userID, kgID, entities, triples); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryPersistAndQuery(t *testing.T) {
	m := NewMemory()
	seedGraph(t, m, "alice", "kg1")

	res, err := m.Query(context.Background(), QuerySpec{UserID: "alice", KGID: "kg1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 3 {
		t.Errorf("entities = %d, want 3", len(res.Entities))
	}
	if len(res.Relations) != 2 {
		t.Errorf("relations = %d, want 2", len(res.Relations))
	}
	for _, e := range res.Relations {
		if e.Relation != model.SanitizeRelation(e.Relation) {
			t.Errorf("relation %q not sanitized", e.Relation)
		}
	}
}

func TestMemoryEntityQuery(t *testing.T) {
	m := NewMemory()
	seedGraph(t, m, "alice", "kg1")

	res, err := m.Query(context.Background(), QuerySpec{UserID: "alice", KGID: "kg1", Entity: "百度"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) == 0 {
		t.Fatal("entity query returned nothing")
	}
	found := false
	for _, e := range res.Entities {
		if e.Name == "百度公司" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing 百度公司 in %+v", res.Entities)
	}
}

func TestMemoryDanglingTripleSkipped(t *testing.T) {
	m := NewMemory()
	err := m.Persist(context.Background(), "alice", "kg1",
		[]model.AlignedEntity{{ID: "e1", Name: "甲", Type: "组织"}},
		[]model.Triple{{HeadID: "e1", Relation: "合作", TailID: "ghost", Source: model.SourceExtracted}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := m.Query(context.Background(), QuerySpec{UserID: "alice", KGID: "kg1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Relations) != 0 {
		t.Errorf("dangling triple persisted: %+v", res.Relations)
	}
}

func TestMemoryIsolationBetweenGraphs(t *testing.T) {
	m := NewMemory()
	seedGraph(t, m, "alice", "kg1")
	seedGraph(t, m, "bob", "kg2")

	res, err := m.Query(context.Background(), QuerySpec{UserID: "alice", KGID: "kg1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range res.Entities {
		if e.ID[:3] != "kg1" {
			t.Errorf("foreign node leaked into kg1 query: %+v", e)
		}
	}

	// Alice cannot read bob's graph even with the right kg_id.
	res, err = m.Query(context.Background(), QuerySpec{UserID: "alice", KGID: "kg2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("ownership not enforced: %+v", res.Entities)
	}
}

func TestMemoryDeleteGraph(t *testing.T) {
	m := NewMemory()
	seedGraph(t, m, "alice", "kg1")
	seedGraph(t, m, "alice", "kg2")

	if err := m.DeleteGraph(context.Background(), "alice", "kg1", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	res, err := m.Query(context.Background(), QuerySpec{UserID: "alice", KGID: "kg1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 0 || len(res.Relations) != 0 {
		t.Errorf("kg1 survived deletion: %+v", res)
	}

	res, err = m.Query(context.Background(), QuerySpec{UserID: "alice", KGID: "kg2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 3 {
		t.Errorf("kg2 damaged by kg1 deletion: %+v", res.Entities)
	}
}

func TestMemoryVisualization(t *testing.T) {
	m := NewMemory()
	seedGraph(t, m, "alice", "kg1")

	viz, err := m.Visualization(context.Background(), "kg1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(viz.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(viz.Nodes))
	}
	if len(viz.Edges) != 2 {
		t.Errorf("edges = %d, want 2", len(viz.Edges))
	}
	for _, n := range viz.Nodes {
		if n.Label == "" || n.Group == "" {
			t.Errorf("viz node missing label/group: %+v", n)
		}
	}
}

func TestMemoryRebuildOverwritesNodes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	entity := []model.AlignedEntity{{ID: "stable", Name: "旧名", Type: "组织"}}
	if err := m.Persist(ctx, "alice", "kg1", entity, nil); err != nil {
		t.Fatal(err)
	}

	entity[0].Name = "新名"
	if err := m.Persist(ctx, "alice", "kg2", entity, nil); err != nil {
		t.Fatal(err)
	}

	res, err := m.Query(ctx, QuerySpec{UserID: "alice", KGID: "kg2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Name != "新名" {
		t.Errorf("merge-by-id did not re-tag the node: %+v", res.Entities)
	}
	// The node moved graphs; kg1 no longer sees it.
	res, err = m.Query(ctx, QuerySpec{UserID: "alice", KGID: "kg1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("node still visible under old kg: %+v", res.Entities)
	}
}
