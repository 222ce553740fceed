// Package graphstore persists finished knowledge graphs to a labeled
// property graph and serves structural queries over them. Entities become
// nodes labeled by sanitized type, relations become typed edges, and every
// node is tagged with its kg_id and owned by its user through an OWNS edge.
package graphstore

import (
	"context"
	"time"

	"github.com/kgforge/kgforge/model"
)

// legacyWindow bounds deletion of pre-kg_id nodes: an owned node with no
// kg_id tag is attributed to a graph when it was created within this window
// after the graph row.
const legacyWindow = 10 * time.Minute

// Store is the graph backend. Implementations: Neo4j (production) and
// Memory (tests, no-Neo4j dev mode).
type Store interface {
	// Persist writes one graph's entities and triples. Triples whose
	// endpoints are missing are skipped silently.
	Persist(ctx context.Context, userID, kgID string, entities []model.AlignedEntity, triples []model.Triple) error

	// Query runs a structural query within one graph.
	Query(ctx context.Context, spec QuerySpec) (*QueryResult, error)

	// Visualization returns the node/edge bundle for rendering one graph.
	Visualization(ctx context.Context, kgID string, limit int) (*VizData, error)

	// DeleteGraph removes one graph's nodes and relationships, including
	// owned legacy nodes created within legacyWindow of createdAt that
	// carry no kg_id tag.
	DeleteGraph(ctx context.Context, userID, kgID string, createdAt time.Time) error

	Close(ctx context.Context) error
}

// QuerySpec selects graph content. Entity and Relation are optional filters;
// with neither set the graph is listed up to Limit.
type QuerySpec struct {
	UserID   string `json:"user_id"`
	KGID     string `json:"kg_id"`
	Entity   string `json:"entity,omitempty"`
	Relation string `json:"relation,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

const defaultQueryLimit = 50

func (s QuerySpec) limit() int {
	if s.Limit <= 0 {
		return defaultQueryLimit
	}
	return s.Limit
}

// Node is one entity as stored in the graph.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Edge is one relation as stored in the graph.
type Edge struct {
	HeadID   string  `json:"head_id"`
	TailID   string  `json:"tail_id"`
	Relation string  `json:"relation"`
	Source   string  `json:"source,omitempty"`
	Weight   float64 `json:"weight,omitempty"`
}

// QueryResult is the answer to one QuerySpec.
type QueryResult struct {
	Entities  []Node `json:"entities"`
	Relations []Edge `json:"relations"`
}

// VizNode and VizEdge follow the shape the frontend graph widget consumes.
type VizNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"`
	Title string `json:"title"`
}

type VizEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
	Title string `json:"title"`
}

type VizData struct {
	Nodes []VizNode `json:"nodes"`
	Edges []VizEdge `json:"edges"`
}
