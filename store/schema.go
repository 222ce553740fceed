package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Build tasks: one row per submitted job, mirroring in-memory progress
CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    progress INTEGER NOT NULL DEFAULT 0,
    stage TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    kg_id TEXT,
    file_ids JSON,
    params JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, created_at DESC);

-- Knowledge graph registry
CREATE TABLE IF NOT EXISTS knowledge_graphs (
    kg_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'building',
    entity_count INTEGER NOT NULL DEFAULT 0,
    relation_count INTEGER NOT NULL DEFAULT 0,
    file_ids JSON,
    progress INTEGER NOT NULL DEFAULT 0,
    build_message TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_kgs_user ON knowledge_graphs(user_id, created_at DESC);

-- Map table pairing vec rowids with (kg_id, entity_id)
CREATE TABLE IF NOT EXISTS entity_embedding_keys (
    id INTEGER PRIMARY KEY,
    kg_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    UNIQUE(kg_id, entity_id)
);

-- Trained entity embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entity_embeddings USING vec0(
    key_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, embeddingDim)
}
