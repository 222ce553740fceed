package graphstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kgforge/kgforge/model"
)

// Memory is an in-process Store with the same observable semantics as the
// Neo4j backend: merge-by-id entity writes, kg_id scoping on queries, silent
// skipping of dangling triples, and the legacy-window delete sweep. It backs
// tests and the no-Neo4j development mode.
type Memory struct {
	mu     sync.Mutex
	nodes  map[string]*memNode
	edges  []memEdge
	owners map[string]map[string]bool // userID -> node ids
}

type memNode struct {
	ID        string
	Name      string
	Label     string
	KGID      string
	CreatedAt time.Time
}

type memEdge struct {
	Head       string
	Tail       string
	Relation   string
	Source     string
	Confidence float64
}

func NewMemory() *Memory {
	return &Memory{
		nodes:  make(map[string]*memNode),
		owners: make(map[string]map[string]bool),
	}
}

func (m *Memory) Close(ctx context.Context) error { return nil }

func (m *Memory) Persist(ctx context.Context, userID, kgID string, entities []model.AlignedEntity, triples []model.Triple) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owners[userID] == nil {
		m.owners[userID] = make(map[string]bool)
	}

	for _, e := range entities {
		n, ok := m.nodes[e.ID]
		if !ok {
			n = &memNode{ID: e.ID, CreatedAt: time.Now().UTC()}
			m.nodes[e.ID] = n
		}
		n.Name = e.Name
		n.Label = model.SanitizeLabel(e.Type)
		n.KGID = kgID
		m.owners[userID][e.ID] = true
	}

	for _, t := range triples {
		head, tail := m.nodes[t.HeadID], m.nodes[t.TailID]
		if head == nil || tail == nil || head.KGID != kgID || tail.KGID != kgID {
			continue // dangling endpoints are skipped, matching the MATCH+MERGE write
		}
		rel := model.SanitizeRelation(t.Relation)
		if m.hasEdge(t.HeadID, rel, t.TailID) {
			continue
		}
		m.edges = append(m.edges, memEdge{
			Head:       t.HeadID,
			Tail:       t.TailID,
			Relation:   rel,
			Source:     t.Source,
			Confidence: t.Confidence,
		})
	}
	return nil
}

func (m *Memory) hasEdge(head, rel, tail string) bool {
	for _, e := range m.edges {
		if e.Head == head && e.Relation == rel && e.Tail == tail {
			return true
		}
	}
	return false
}

func (m *Memory) Query(ctx context.Context, spec QuerySpec) (*QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := m.owners[spec.UserID]
	limit := spec.limit()

	inScope := func(id string) *memNode {
		n := m.nodes[id]
		if n == nil || n.KGID != spec.KGID || !owned[id] {
			return nil
		}
		return n
	}

	out := &QueryResult{}
	seen := make(map[string]bool)
	addNode := func(n *memNode) {
		if n == nil || seen[n.ID] {
			return
		}
		seen[n.ID] = true
		out.Entities = append(out.Entities, Node{ID: n.ID, Name: n.Name, Type: n.Label})
	}

	switch {
	case spec.Entity != "":
		needle := strings.ToLower(spec.Entity)
		for _, n := range m.nodes {
			if inScope(n.ID) == nil || !strings.Contains(strings.ToLower(n.Name), needle) {
				continue
			}
			addNode(n)
			for _, e := range m.edges {
				if e.Head != n.ID {
					continue
				}
				if tail := m.nodes[e.Tail]; tail != nil && tail.KGID == spec.KGID {
					addNode(tail)
					out.Relations = append(out.Relations, edgeOut(e))
				}
			}
			if len(out.Entities) >= limit {
				break
			}
		}
	case spec.Relation != "":
		rel := model.SanitizeRelation(spec.Relation)
		for _, e := range m.edges {
			if e.Relation != rel {
				continue
			}
			head, tail := inScope(e.Head), m.nodes[e.Tail]
			if head == nil || tail == nil || tail.KGID != spec.KGID {
				continue
			}
			addNode(head)
			addNode(tail)
			out.Relations = append(out.Relations, edgeOut(e))
			if len(out.Relations) >= limit {
				break
			}
		}
	default:
		for _, n := range m.nodes {
			if inScope(n.ID) == nil {
				continue
			}
			addNode(n)
			if len(out.Entities) >= limit {
				break
			}
		}
		for _, e := range m.edges {
			if seen[e.Head] && seen[e.Tail] {
				out.Relations = append(out.Relations, edgeOut(e))
			}
		}
	}
	return out, nil
}

func edgeOut(e memEdge) Edge {
	return Edge{HeadID: e.Head, TailID: e.Tail, Relation: e.Relation, Source: e.Source, Weight: e.Confidence}
}

func (m *Memory) Visualization(ctx context.Context, kgID string, limit int) (*VizData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	viz := &VizData{}
	inViz := make(map[string]bool)
	for _, n := range m.nodes {
		if n.KGID != kgID {
			continue
		}
		inViz[n.ID] = true
		viz.Nodes = append(viz.Nodes, VizNode{
			ID:    n.ID,
			Label: n.Name,
			Group: n.Label,
			Title: fmt.Sprintf("%s (%s)", n.Name, n.Label),
		})
		if len(viz.Nodes) >= limit {
			break
		}
	}
	for _, e := range m.edges {
		if inViz[e.Head] && inViz[e.Tail] {
			viz.Edges = append(viz.Edges, VizEdge{From: e.Head, To: e.Tail, Label: e.Relation, Title: e.Relation})
		}
	}
	return viz, nil
}

func (m *Memory) DeleteGraph(ctx context.Context, userID, kgID string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := m.owners[userID]
	doomed := make(map[string]bool)
	for id, n := range m.nodes {
		if n.KGID == kgID {
			doomed[id] = true
			continue
		}
		if n.KGID == "" && owned[id] &&
			!n.CreatedAt.Before(createdAt) && !n.CreatedAt.After(createdAt.Add(legacyWindow)) {
			doomed[id] = true
		}
	}

	kept := m.edges[:0]
	for _, e := range m.edges {
		if !doomed[e.Head] && !doomed[e.Tail] {
			kept = append(kept, e)
		}
	}
	m.edges = kept

	for id := range doomed {
		delete(m.nodes, id)
		for _, ids := range m.owners {
			delete(ids, id)
		}
	}
	return nil
}
