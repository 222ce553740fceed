package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kgforge/kgforge/model"
)

// Neo4j is the production graph backend.
type Neo4j struct {
	driver neo4j.DriverWithContext
}

// Config holds Neo4j connection settings.
type Config struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// NewNeo4j connects and verifies reachability.
func NewNeo4j(ctx context.Context, cfg Config) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphstore: creating driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graphstore: connecting to %s: %w", cfg.URI, err)
	}
	return &Neo4j{driver: driver}, nil
}

func (s *Neo4j) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Persist writes the graph. Labels and relationship types cannot be
// parameterized in Cypher, so they are sanitized and interpolated; the
// sanitizer guarantees they contain no quoting characters.
func (s *Neo4j) Persist(ctx context.Context, userID, kgID string, entities []model.AlignedEntity, triples []model.Triple) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, `MERGE (u:User {id: $user_id})`, map[string]any{"user_id": userID}); err != nil {
		return fmt.Errorf("graphstore: merging user: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entities {
		label := model.SanitizeLabel(e.Type)
		// MERGE by id alone: rebuilding a graph re-tags the node instead of
		// duplicating it.
		query := fmt.Sprintf(`
			MATCH (u:User {id: $user_id})
			MERGE (e:%s {id: $id})
			SET e.name = $name, e.kg_id = $kg_id,
			    e.created_at = coalesce(e.created_at, $created_at)
			MERGE (u)-[:OWNS]->(e)`, "`"+label+"`")
		_, err := session.Run(ctx, query, map[string]any{
			"user_id":    userID,
			"id":         e.ID,
			"name":       e.Name,
			"kg_id":      kgID,
			"created_at": now,
		})
		if err != nil {
			return fmt.Errorf("graphstore: writing entity %s: %w", e.ID, err)
		}
	}

	skipped := 0
	for _, t := range triples {
		relType := model.SanitizeRelation(t.Relation)
		query := fmt.Sprintf(`
			MATCH (h {id: $head_id, kg_id: $kg_id})
			MATCH (t {id: $tail_id, kg_id: $kg_id})
			MERGE (h)-[r:%s]->(t)
			SET r.confidence = $confidence, r.source = $source`, "`"+relType+"`")
		result, err := session.Run(ctx, query, map[string]any{
			"head_id":    t.HeadID,
			"tail_id":    t.TailID,
			"kg_id":      kgID,
			"confidence": t.Confidence,
			"source":     t.Source,
		})
		if err != nil {
			return fmt.Errorf("graphstore: writing relation %s: %w", relType, err)
		}
		summary, err := result.Consume(ctx)
		if err == nil && summary.Counters().RelationshipsCreated() == 0 && t.Source == model.SourceExtracted {
			// Either the relation already existed or an endpoint is gone;
			// both are tolerated, the latter is worth seeing in logs.
			skipped++
		}
	}
	if skipped > 0 {
		slog.Debug("graphstore: relations merged without creation", "kg_id", kgID, "count", skipped)
	}
	return nil
}

func (s *Neo4j) Query(ctx context.Context, spec QuerySpec) (*QueryResult, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	params := map[string]any{
		"user_id": spec.UserID,
		"kg_id":   spec.KGID,
		"limit":   spec.limit(),
	}

	var query string
	switch {
	case spec.Entity != "":
		params["entity"] = strings.ToLower(spec.Entity)
		query = `
			MATCH (u:User {id: $user_id})-[:OWNS]->(e)
			WHERE e.kg_id = $kg_id AND toLower(e.name) CONTAINS $entity
			OPTIONAL MATCH (e)-[r]->(n {kg_id: $kg_id})
			RETURN e.id AS id, e.name AS name, labels(e) AS labels,
			       type(r) AS rel, r.source AS rel_source, r.confidence AS rel_confidence,
			       n.id AS nid, n.name AS nname, labels(n) AS nlabels
			LIMIT $limit`
	case spec.Relation != "":
		query = fmt.Sprintf(`
			MATCH (u:User {id: $user_id})-[:OWNS]->(h)
			WHERE h.kg_id = $kg_id
			MATCH (h)-[r:%s]->(t {kg_id: $kg_id})
			RETURN h.id AS id, h.name AS name, labels(h) AS labels,
			       type(r) AS rel, r.source AS rel_source, r.confidence AS rel_confidence,
			       t.id AS nid, t.name AS nname, labels(t) AS nlabels
			LIMIT $limit`, "`"+model.SanitizeRelation(spec.Relation)+"`")
	default:
		query = `
			MATCH (u:User {id: $user_id})-[:OWNS]->(e)
			WHERE e.kg_id = $kg_id
			OPTIONAL MATCH (e)-[r]->(n {kg_id: $kg_id})
			RETURN e.id AS id, e.name AS name, labels(e) AS labels,
			       type(r) AS rel, r.source AS rel_source, r.confidence AS rel_confidence,
			       n.id AS nid, n.name AS nname, labels(n) AS nlabels
			LIMIT $limit`
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("graphstore: query: %w", err)
	}

	out := &QueryResult{}
	seenNode := make(map[string]bool)
	seenEdge := make(map[string]bool)
	addNode := func(id, name string, labels []any) {
		if id == "" || seenNode[id] {
			return
		}
		seenNode[id] = true
		out.Entities = append(out.Entities, Node{ID: id, Name: name, Type: firstLabel(labels)})
	}

	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		name, _ := rec.Get("name")
		labels, _ := rec.Get("labels")
		addNode(asString(id), asString(name), asSlice(labels))

		nid, _ := rec.Get("nid")
		if asString(nid) == "" {
			continue
		}
		nname, _ := rec.Get("nname")
		nlabels, _ := rec.Get("nlabels")
		addNode(asString(nid), asString(nname), asSlice(nlabels))

		rel, _ := rec.Get("rel")
		src, _ := rec.Get("rel_source")
		conf, _ := rec.Get("rel_confidence")
		edge := Edge{
			HeadID:   asString(id),
			TailID:   asString(nid),
			Relation: asString(rel),
			Source:   asString(src),
			Weight:   asFloat(conf),
		}
		key := edge.HeadID + "\x00" + edge.Relation + "\x00" + edge.TailID
		if edge.Relation != "" && !seenEdge[key] {
			seenEdge[key] = true
			out.Relations = append(out.Relations, edge)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graphstore: reading query result: %w", err)
	}
	return out, nil
}

func (s *Neo4j) Visualization(ctx context.Context, kgID string, limit int) (*VizData, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e {kg_id: $kg_id})
		OPTIONAL MATCH (e)-[r]->(n {kg_id: $kg_id})
		RETURN e.id AS id, e.name AS name, labels(e) AS labels,
		       type(r) AS rel, n.id AS nid
		LIMIT $limit`,
		map[string]any{"kg_id": kgID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graphstore: visualization: %w", err)
	}

	viz := &VizData{}
	seen := make(map[string]bool)
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		name, _ := rec.Get("name")
		labels, _ := rec.Get("labels")
		if sid := asString(id); sid != "" && !seen[sid] {
			seen[sid] = true
			group := firstLabel(asSlice(labels))
			viz.Nodes = append(viz.Nodes, VizNode{
				ID:    sid,
				Label: asString(name),
				Group: group,
				Title: fmt.Sprintf("%s (%s)", asString(name), group),
			})
		}
		rel, _ := rec.Get("rel")
		nid, _ := rec.Get("nid")
		if asString(rel) != "" && asString(nid) != "" {
			viz.Edges = append(viz.Edges, VizEdge{
				From:  asString(id),
				To:    asString(nid),
				Label: asString(rel),
				Title: asString(rel),
			})
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graphstore: reading visualization: %w", err)
	}
	return viz, nil
}

// DeleteGraph removes relationships first, then nodes. The second statement
// also sweeps owned legacy nodes (no kg_id) created within the window after
// the graph row, which predate kg_id tagging.
func (s *Neo4j) DeleteGraph(ctx context.Context, userID, kgID string, createdAt time.Time) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if _, err := session.Run(ctx,
		`MATCH (n {kg_id: $kg_id})-[r]-() DELETE r`,
		map[string]any{"kg_id": kgID}); err != nil {
		return fmt.Errorf("graphstore: deleting relations: %w", err)
	}

	_, err := session.Run(ctx, `
		MATCH (u:User {id: $user_id})-[:OWNS]->(n)
		WHERE n.kg_id = $kg_id
		   OR (n.kg_id IS NULL AND n.created_at >= $from AND n.created_at <= $to)
		DETACH DELETE n`,
		map[string]any{
			"user_id": userID,
			"kg_id":   kgID,
			"from":    createdAt.UTC().Format(time.RFC3339),
			"to":      createdAt.UTC().Add(legacyWindow).Format(time.RFC3339),
		})
	if err != nil {
		return fmt.Errorf("graphstore: deleting nodes: %w", err)
	}
	return nil
}

func firstLabel(labels []any) string {
	for _, l := range labels {
		if s, ok := l.(string); ok && s != "User" {
			return s
		}
	}
	return "Entity"
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
