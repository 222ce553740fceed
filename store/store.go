// Package store is the durable side of the job engine: task rows that
// survive restarts, the knowledge-graph registry, and trained entity
// embeddings in a sqlite-vec virtual table.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Task statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrNotFound is returned when a task or graph row does not exist.
var ErrNotFound = errors.New("store: not found")

// Task is one build job row.
type Task struct {
	TaskID    string   `json:"task_id"`
	UserID    string   `json:"user_id"`
	Status    string   `json:"status"`
	Progress  int      `json:"progress"`
	Stage     string   `json:"stage"`
	Message   string   `json:"message"`
	KGID      string   `json:"kg_id,omitempty"`
	FileIDs   []string `json:"file_ids"`
	Params    string   `json:"params,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// KnowledgeGraph is one graph registry row.
type KnowledgeGraph struct {
	KGID          string   `json:"kg_id"`
	UserID        string   `json:"user_id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Status        string   `json:"status"`
	EntityCount   int      `json:"entity_count"`
	RelationCount int      `json:"relation_count"`
	FileIDs       []string `json:"file_ids"`
	Progress      int      `json:"progress"`
	BuildMessage  string   `json:"build_message"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// Store wraps the SQLite database for all kgforge persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and initialises
// the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB { return s.db }

// --- tasks ---

// CreateTask inserts a pending task row.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	fileIDs, err := json.Marshal(t.FileIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, user_id, status, progress, stage, message, file_ids, params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.UserID, t.Status, t.Progress, t.Stage, t.Message, string(fileIDs), t.Params)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// GetTask loads one task row scoped to its owner.
func (s *Store) GetTask(ctx context.Context, userID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, user_id, status, progress, stage, message,
		       COALESCE(kg_id, ''), COALESCE(file_ids, '[]'), COALESCE(params, ''),
		       created_at, updated_at
		FROM tasks WHERE task_id = ? AND user_id = ?`, taskID, userID)

	var t Task
	var fileIDs string
	err := row.Scan(&t.TaskID, &t.UserID, &t.Status, &t.Progress, &t.Stage, &t.Message,
		&t.KGID, &fileIDs, &t.Params, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	if err := json.Unmarshal([]byte(fileIDs), &t.FileIDs); err != nil {
		t.FileIDs = nil
	}
	return &t, nil
}

// UpdateTaskProgress mirrors an in-memory progress update into the row.
func (s *Store) UpdateTaskProgress(ctx context.Context, taskID string, progress int, status, stage, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET progress = ?, status = ?, stage = ?, message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE task_id = ?`,
		progress, status, stage, message, taskID)
	if err != nil {
		return fmt.Errorf("updating task progress: %w", err)
	}
	return nil
}

// SetTaskKG records the graph a task produced.
func (s *Store) SetTaskKG(ctx context.Context, taskID, kgID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET kg_id = ?, updated_at = CURRENT_TIMESTAMP WHERE task_id = ?`,
		kgID, taskID)
	if err != nil {
		return fmt.Errorf("setting task kg_id: %w", err)
	}
	return nil
}

// --- knowledge graphs ---

// CreateKnowledgeGraph inserts a graph registry row.
func (s *Store) CreateKnowledgeGraph(ctx context.Context, g *KnowledgeGraph) error {
	fileIDs, err := json.Marshal(g.FileIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_graphs
			(kg_id, user_id, name, description, status, entity_count, relation_count, file_ids, progress, build_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.KGID, g.UserID, g.Name, g.Description, g.Status,
		g.EntityCount, g.RelationCount, string(fileIDs), g.Progress, g.BuildMessage)
	if err != nil {
		return fmt.Errorf("inserting knowledge graph: %w", err)
	}
	return nil
}

// UpdateKGProgress mirrors build progress onto the graph row.
func (s *Store) UpdateKGProgress(ctx context.Context, kgID string, progress int, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_graphs
		SET progress = ?, build_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE kg_id = ?`,
		progress, message, kgID)
	if err != nil {
		return fmt.Errorf("updating graph progress: %w", err)
	}
	return nil
}

// FinishKnowledgeGraph marks a graph row with its terminal state and counts.
func (s *Store) FinishKnowledgeGraph(ctx context.Context, kgID, status string, entityCount, relationCount, progress int, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_graphs
		SET status = ?, entity_count = ?, relation_count = ?, progress = ?,
		    build_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE kg_id = ?`,
		status, entityCount, relationCount, progress, message, kgID)
	if err != nil {
		return fmt.Errorf("finishing knowledge graph: %w", err)
	}
	return nil
}

// GetKnowledgeGraph loads one graph row scoped to its owner.
func (s *Store) GetKnowledgeGraph(ctx context.Context, userID, kgID string) (*KnowledgeGraph, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT kg_id, user_id, name, description, status, entity_count, relation_count,
		       COALESCE(file_ids, '[]'), progress, build_message, created_at, updated_at
		FROM knowledge_graphs WHERE kg_id = ? AND user_id = ?`, kgID, userID)

	var g KnowledgeGraph
	var fileIDs string
	err := row.Scan(&g.KGID, &g.UserID, &g.Name, &g.Description, &g.Status,
		&g.EntityCount, &g.RelationCount, &fileIDs, &g.Progress, &g.BuildMessage,
		&g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading knowledge graph: %w", err)
	}
	if err := json.Unmarshal([]byte(fileIDs), &g.FileIDs); err != nil {
		g.FileIDs = nil
	}
	return &g, nil
}

// VerifyOwnership reports whether the graph exists and belongs to the user.
func (s *Store) VerifyOwnership(ctx context.Context, userID, kgID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_graphs WHERE kg_id = ? AND user_id = ?`,
		kgID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("verifying ownership: %w", err)
	}
	return n > 0, nil
}

// ListKnowledgeGraphs returns one page of the user's graphs, newest first,
// and the total count.
func (s *Store) ListKnowledgeGraphs(ctx context.Context, userID string, offset, limit int) ([]KnowledgeGraph, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_graphs WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting knowledge graphs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kg_id, user_id, name, description, status, entity_count, relation_count,
		       COALESCE(file_ids, '[]'), progress, build_message, created_at, updated_at
		FROM knowledge_graphs
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing knowledge graphs: %w", err)
	}
	defer rows.Close()

	var graphs []KnowledgeGraph
	for rows.Next() {
		var g KnowledgeGraph
		var fileIDs string
		if err := rows.Scan(&g.KGID, &g.UserID, &g.Name, &g.Description, &g.Status,
			&g.EntityCount, &g.RelationCount, &fileIDs, &g.Progress, &g.BuildMessage,
			&g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(fileIDs), &g.FileIDs); err != nil {
			g.FileIDs = nil
		}
		graphs = append(graphs, g)
	}
	return graphs, total, rows.Err()
}

// DeleteKnowledgeGraph removes the graph row and its embeddings. Returns
// ErrNotFound when the row does not exist for this user.
func (s *Store) DeleteKnowledgeGraph(ctx context.Context, userID, kgID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge_graphs WHERE kg_id = ? AND user_id = ?`, kgID, userID)
	if err != nil {
		return fmt.Errorf("deleting knowledge graph: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return s.DeleteEntityEmbeddings(ctx, kgID)
}

// --- entity embeddings (sqlite-vec) ---

// SaveEntityEmbeddings persists one graph's trained entity vectors. Vectors
// of the wrong dimension are rejected.
func (s *Store) SaveEntityEmbeddings(ctx context.Context, kgID string, embeddings map[string][]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for entityID, vec := range embeddings {
		if len(vec) != s.embeddingDim {
			return fmt.Errorf("embedding for %s has dim %d, want %d", entityID, len(vec), s.embeddingDim)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_embedding_keys (kg_id, entity_id) VALUES (?, ?)
			ON CONFLICT(kg_id, entity_id) DO NOTHING`,
			kgID, entityID); err != nil {
			return fmt.Errorf("inserting embedding key: %w", err)
		}
		// LastInsertId is stale when the key already existed, so always
		// read the id back.
		var keyID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM entity_embedding_keys WHERE kg_id = ? AND entity_id = ?`,
			kgID, entityID).Scan(&keyID); err != nil {
			return fmt.Errorf("loading embedding key: %w", err)
		}
		// vec0 tables do not support upsert; delete the old row first.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_entity_embeddings WHERE key_id = ?`, keyID); err != nil {
			return fmt.Errorf("replacing embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vec_entity_embeddings (key_id, embedding) VALUES (?, ?)`,
			keyID, serializeFloat32(vec)); err != nil {
			return fmt.Errorf("inserting embedding: %w", err)
		}
	}
	return tx.Commit()
}

// SimilarEntities returns the entity ids of the k nearest stored embeddings
// within one graph.
func (s *Store) SimilarEntities(ctx context.Context, kgID string, query []float64, k int) ([]string, error) {
	if len(query) != s.embeddingDim {
		return nil, fmt.Errorf("query has dim %d, want %d", len(query), s.embeddingDim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.entity_id
		FROM vec_entity_embeddings v
		JOIN entity_embedding_keys k ON k.id = v.key_id
		WHERE k.kg_id = ? AND v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance`,
		kgID, serializeFloat32(query), k)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEntityEmbeddings drops all embeddings stored for one graph.
func (s *Store) DeleteEntityEmbeddings(ctx context.Context, kgID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM vec_entity_embeddings WHERE key_id IN (
			SELECT id FROM entity_embedding_keys WHERE kg_id = ?
		)`, kgID); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_embedding_keys WHERE kg_id = ?`, kgID); err != nil {
		return fmt.Errorf("deleting embedding keys: %w", err)
	}
	return nil
}

// serializeFloat32 converts a vector to little-endian float32 bytes for
// sqlite-vec.
func serializeFloat32(v []float64) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	return buf
}
