// Package kgforge builds knowledge graphs from document files: parse,
// deduplicate, extract entities and relations, align, optionally complete
// with a trained embedding model, and persist to a labeled property graph.
// Builds run asynchronously on a worker pool; callers poll task progress.
package kgforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kgforge/kgforge/align"
	"github.com/kgforge/kgforge/extract"
	"github.com/kgforge/kgforge/graphstore"
	"github.com/kgforge/kgforge/llm"
	"github.com/kgforge/kgforge/parser"
	"github.com/kgforge/kgforge/preprocess"
	"github.com/kgforge/kgforge/relation"
	"github.com/kgforge/kgforge/store"
)

// Algorithms selects the pipeline strategies for one build. Empty fields
// fall back to the engine defaults.
type Algorithms struct {
	Preprocess          string `json:"preprocess,omitempty"`
	EntityExtraction    string `json:"entity_extraction,omitempty"`
	RelationExtraction  string `json:"relation_extraction,omitempty"`
	KnowledgeCompletion string `json:"knowledge_completion,omitempty"`
}

// BuildRequest submits one knowledge-graph build.
type BuildRequest struct {
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	FileIDs     []string   `json:"file_ids"`
	Algorithms  Algorithms `json:"algorithms"`

	// ModelAPIKey overrides the configured LLM credential for this build.
	ModelAPIKey string `json:"model_api_key,omitempty"`

	// Nil means "use the engine default".
	EnableCompletion    *bool `json:"enable_completion,omitempty"`
	EnableVisualization *bool `json:"enable_visualization,omitempty"`
}

// TaskStatus is a progress snapshot of one build task.
type TaskStatus struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
	KGID     string `json:"kg_id,omitempty"`
}

// Engine is the main entry point.
type Engine struct {
	cfg       Config
	store     *store.Store
	graph     graphstore.Store
	parsers   *parser.Registry
	client    llm.Client
	dedupe    preprocess.Strategy
	extractor extract.Strategy
	relator   relation.Strategy
	aligner   *align.Aligner

	mu       sync.RWMutex
	progress map[string]*taskState
	closed   bool

	jobs chan buildJob
	wg   sync.WaitGroup
}

// taskState is the authoritative in-memory view of a running task. The
// tasks table mirrors it for restarts and history.
type taskState struct {
	TaskStatus
	userID string
}

type buildJob struct {
	taskID  string
	userID  string
	name    string
	desc    string
	fileIDs []string

	dedupe        preprocess.Strategy
	extractor     extract.Strategy
	relator       relation.Strategy
	completion    bool
	visualization bool
}

// New creates an engine with the given configuration and starts its workers.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ParseConcurrency <= 0 {
		cfg.ParseConcurrency = 3
	}
	if cfg.TransE.Dim <= 0 {
		cfg.TransE.Dim = 50
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.TransE.Dim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var graph graphstore.Store
	if cfg.Neo4j.URI != "" {
		graph, err = graphstore.NewNeo4j(ctx, cfg.Neo4j)
		if err != nil {
			s.Close()
			return nil, err
		}
	} else {
		slog.Warn("no Neo4j URI configured, using in-memory graph backend")
		graph = graphstore.NewMemory()
	}

	var client llm.Client
	if cfg.LLM.BaseURL != "" {
		client = llm.NewClient(cfg.LLM)
	} else {
		// Without an endpoint the llm strategies would fall back on every
		// text anyway; run the rule strategies directly.
		cfg.ExtractStrategy = "rule"
		cfg.RelationStrategy = "rule"
	}

	dedupe, err := preprocess.New(cfg.DedupeStrategy)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	extractor, err := extract.New(cfg.ExtractStrategy, client)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	relator, err := relation.New(cfg.RelationStrategy, client)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	e := &Engine{
		cfg:       cfg,
		store:     s,
		graph:     graph,
		parsers:   parser.NewRegistry(),
		client:    client,
		dedupe:    dedupe,
		extractor: extractor,
		relator:   relator,
		aligner:   align.New(cfg.AlignThreshold),
		progress:  make(map[string]*taskState),
		jobs:      make(chan buildJob, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e, nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for job := range e.jobs {
		e.runBuild(job)
	}
}

// Submit enqueues a build and returns its task ID.
func (e *Engine) Submit(ctx context.Context, req BuildRequest) (string, error) {
	if len(req.FileIDs) == 0 {
		return "", ErrNoFiles
	}

	taskID := "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	job, params, err := e.resolveJob(taskID, req)
	if err != nil {
		return "", err
	}

	task := &store.Task{
		TaskID:  taskID,
		UserID:  req.UserID,
		Status:  store.StatusPending,
		Stage:   "排队中",
		Message: "任务已创建，等待处理",
		FileIDs: req.FileIDs,
		Params:  params,
	}

	if err := e.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}

	// The enqueue happens under the lock so Close cannot close the channel
	// between the closed check and the send.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	select {
	case e.jobs <- job:
	default:
		e.mu.Unlock()
		e.store.UpdateTaskProgress(ctx, taskID, 0, store.StatusFailed, "排队中", "队列已满，请稍后重试")
		return "", fmt.Errorf("kgforge: build queue full")
	}
	e.progress[taskID] = &taskState{
		TaskStatus: TaskStatus{TaskID: taskID, Status: store.StatusPending, Stage: task.Stage, Message: task.Message},
		userID:     req.UserID,
	}
	e.mu.Unlock()

	slog.Info("build submitted", "task_id", taskID, "user_id", req.UserID, "files", len(req.FileIDs))
	return taskID, nil
}

// resolveJob binds a request's algorithm selection to concrete pipeline
// strategies, falling back to the engine defaults. The resolved selection is
// returned as JSON and recorded on the task row.
func (e *Engine) resolveJob(taskID string, req BuildRequest) (buildJob, string, error) {
	job := buildJob{
		taskID:        taskID,
		userID:        req.UserID,
		name:          req.Name,
		desc:          req.Description,
		fileIDs:       req.FileIDs,
		dedupe:        e.dedupe,
		extractor:     e.extractor,
		relator:       e.relator,
		completion:    e.cfg.EnableCompletion,
		visualization: true,
	}

	client := e.client
	if req.ModelAPIKey != "" && e.cfg.LLM.BaseURL != "" {
		llmCfg := e.cfg.LLM
		llmCfg.APIKey = req.ModelAPIKey
		client = llm.NewClient(llmCfg)
	}

	dedupeName := req.Algorithms.Preprocess
	if dedupeName == "" {
		dedupeName = e.cfg.DedupeStrategy
	}
	extractName := req.Algorithms.EntityExtraction
	if extractName == "" {
		extractName = e.cfg.ExtractStrategy
	}
	relationName := req.Algorithms.RelationExtraction
	if relationName == "" {
		relationName = e.cfg.RelationStrategy
	}
	// Without an LLM endpoint only the rule strategies can run.
	if client == nil {
		extractName, relationName = "rule", "rule"
	}

	var err error
	if req.Algorithms.Preprocess != "" {
		if job.dedupe, err = preprocess.New(dedupeName); err != nil {
			return buildJob{}, "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if req.Algorithms.EntityExtraction != "" || client != e.client {
		if job.extractor, err = extract.New(extractName, client); err != nil {
			return buildJob{}, "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if req.Algorithms.RelationExtraction != "" || client != e.client {
		if job.relator, err = relation.New(relationName, client); err != nil {
			return buildJob{}, "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if req.EnableCompletion != nil {
		job.completion = *req.EnableCompletion
	}
	switch req.Algorithms.KnowledgeCompletion {
	case "":
	case "none":
		job.completion = false
	case "transe":
		job.completion = true
	default:
		return buildJob{}, "", fmt.Errorf("%w: unknown knowledge completion algorithm %q",
			ErrInvalidConfig, req.Algorithms.KnowledgeCompletion)
	}
	if req.EnableVisualization != nil {
		job.visualization = *req.EnableVisualization
	}

	completion := "none"
	if job.completion {
		completion = "transe"
	}
	raw, err := json.Marshal(Algorithms{
		Preprocess:          dedupeName,
		EntityExtraction:    extractName,
		RelationExtraction:  relationName,
		KnowledgeCompletion: completion,
	})
	if err != nil {
		return buildJob{}, "", err
	}
	return job, string(raw), nil
}

// Progress reports a task's current state. In-memory state is authoritative
// while the engine runs; the tasks table answers for earlier runs.
func (e *Engine) Progress(ctx context.Context, userID, taskID string) (*TaskStatus, error) {
	e.mu.RLock()
	st, ok := e.progress[taskID]
	if ok {
		if st.userID != userID {
			e.mu.RUnlock()
			return nil, ErrTaskNotFound
		}
		snap := st.TaskStatus
		e.mu.RUnlock()
		return &snap, nil
	}
	e.mu.RUnlock()

	t, err := e.store.GetTask(ctx, userID, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &TaskStatus{
		TaskID:   t.TaskID,
		Status:   t.Status,
		Progress: t.Progress,
		Stage:    t.Stage,
		Message:  t.Message,
		KGID:     t.KGID,
	}, nil
}

// Query runs a structural query over one of the user's graphs.
func (e *Engine) Query(ctx context.Context, spec graphstore.QuerySpec) (*graphstore.QueryResult, error) {
	if err := e.checkOwnership(ctx, spec.UserID, spec.KGID); err != nil {
		return nil, err
	}
	return e.graph.Query(ctx, spec)
}

// Visualization returns the render bundle for one of the user's graphs.
func (e *Engine) Visualization(ctx context.Context, userID, kgID string, limit int) (*graphstore.VizData, error) {
	if err := e.checkOwnership(ctx, userID, kgID); err != nil {
		return nil, err
	}
	return e.graph.Visualization(ctx, kgID, limit)
}

// GetGraph returns one graph's registry row.
func (e *Engine) GetGraph(ctx context.Context, userID, kgID string) (*store.KnowledgeGraph, error) {
	g, err := e.store.GetKnowledgeGraph(ctx, userID, kgID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGraphNotFound
	}
	return g, err
}

// ListGraphs returns one page of the user's graphs, newest first, plus the
// total count.
func (e *Engine) ListGraphs(ctx context.Context, userID string, offset, limit int) ([]store.KnowledgeGraph, int, error) {
	return e.store.ListKnowledgeGraphs(ctx, userID, offset, limit)
}

// DeleteGraph removes a graph from both the graph backend and the registry.
func (e *Engine) DeleteGraph(ctx context.Context, userID, kgID string) error {
	g, err := e.store.GetKnowledgeGraph(ctx, userID, kgID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrGraphNotFound
	}
	if err != nil {
		return err
	}

	if err := e.graph.DeleteGraph(ctx, userID, kgID, parseRowTime(g.CreatedAt)); err != nil {
		return err
	}
	if err := e.store.DeleteKnowledgeGraph(ctx, userID, kgID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	slog.Info("graph deleted", "kg_id", kgID, "user_id", userID)
	return nil
}

func (e *Engine) checkOwnership(ctx context.Context, userID, kgID string) error {
	ok, err := e.store.VerifyOwnership(ctx, userID, kgID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGraphNotFound
	}
	return nil
}

// Store returns the underlying store for diagnostic access.
func (e *Engine) Store() *store.Store { return e.store }

// Close stops accepting builds, waits for running ones, and shuts down.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.jobs)
	e.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.graph.Close(ctx); err != nil {
		slog.Warn("closing graph backend", "error", err)
	}
	return e.store.Close()
}

// parseRowTime decodes SQLite's CURRENT_TIMESTAMP format, tolerating RFC3339.
func parseRowTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
