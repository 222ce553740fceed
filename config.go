package kgforge

import (
	"os"
	"path/filepath"

	"github.com/kgforge/kgforge/align"
	"github.com/kgforge/kgforge/complete"
	"github.com/kgforge/kgforge/graphstore"
	"github.com/kgforge/kgforge/llm"
)

// Config holds all configuration for the kgforge engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.kgforge/kgforge.db.
	DBPath string `json:"db_path" yaml:"db_path"`

	// UploadDir is where submitted file IDs are resolved when they are not
	// absolute paths.
	UploadDir string `json:"upload_dir" yaml:"upload_dir"`

	// Neo4j connection. Leave URI empty to run on the in-memory graph
	// backend (development and tests).
	Neo4j graphstore.Config `json:"neo4j" yaml:"neo4j"`

	// LLM endpoint for entity and relation extraction. Leave BaseURL empty
	// to run rule-based extraction only.
	LLM llm.Config `json:"llm" yaml:"llm"`

	// Strategy names: "llm" (with rule fallback) or "rule".
	ExtractStrategy  string `json:"extract_strategy" yaml:"extract_strategy"`
	RelationStrategy string `json:"relation_strategy" yaml:"relation_strategy"`

	// DedupeStrategy selects the near-duplicate detector: "simhash" or
	// "minhash".
	DedupeStrategy string `json:"dedupe_strategy" yaml:"dedupe_strategy"`

	// AlignThreshold is the minimum similarity for merging two entities.
	AlignThreshold float64 `json:"align_threshold" yaml:"align_threshold"`

	// EnableCompletion trains a TransE model after extraction and adds
	// inferred triples. Failures are non-fatal.
	EnableCompletion bool `json:"enable_completion" yaml:"enable_completion"`

	// TransE hyperparameters, used when EnableCompletion is set.
	TransE complete.Config `json:"transe" yaml:"transe"`

	// Workers is the number of concurrent build jobs.
	Workers int `json:"workers" yaml:"workers"`

	// QueueSize is the capacity of the pending-job queue.
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// ParseConcurrency is the max number of files parsed in parallel within
	// one job.
	ParseConcurrency int `json:"parse_concurrency" yaml:"parse_concurrency"`
}

// DefaultConfig returns a Config with sensible defaults. The graph backend
// defaults to in-memory; set Neo4j.URI for production.
func DefaultConfig() Config {
	return Config{
		UploadDir:        "uploads",
		ExtractStrategy:  "llm",
		RelationStrategy: "llm",
		DedupeStrategy:   "simhash",
		AlignThreshold:   align.DefaultThreshold,
		EnableCompletion: true,
		TransE:           complete.DefaultConfig(),
		Workers:          5,
		QueueSize:        64,
		ParseConcurrency: 3,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "kgforge.db"
	}
	return filepath.Join(home, ".kgforge", "kgforge.db")
}
