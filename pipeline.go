package kgforge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kgforge/kgforge/align"
	"github.com/kgforge/kgforge/complete"
	"github.com/kgforge/kgforge/model"
	"github.com/kgforge/kgforge/store"
)

// Stage names shown to clients.
const (
	stageParse    = "文件解析"
	stageDedupe   = "文本去重"
	stageExtract  = "实体抽取"
	stageAlign    = "实体对齐"
	stageRelation = "关系抽取"
	stageComplete = "知识补全"
	stagePersist  = "图谱存储"
	stageWarmup   = "可视化准备"
	stageDone     = "完成"
)

// runBuild drives one build through the full pipeline. Progress moves through
// fixed milestones per stage; a failure leaves progress at its last value so
// clients can see how far the build got.
func (e *Engine) runBuild(j buildJob) {
	ctx := context.Background()
	start := time.Now()

	e.setProgress(j.taskID, 5, store.StatusProcessing, stageParse, "开始解析文件")

	texts, skipped, err := e.parseFiles(ctx, j.taskID, j.fileIDs)
	if err != nil {
		e.fail(j.taskID, err)
		return
	}
	msg := fmt.Sprintf("解析完成，%d 个文件", len(texts))
	if skipped > 0 {
		msg += fmt.Sprintf("，跳过 %d 个", skipped)
	}
	e.setProgress(j.taskID, 15, store.StatusProcessing, stageParse, msg)

	texts = j.dedupe.Dedupe(texts)
	e.setProgress(j.taskID, 25, store.StatusProcessing, stageDedupe,
		fmt.Sprintf("去重后剩余 %d 段文本", len(texts)))

	var mentions []model.Mention
	for _, text := range texts {
		ms, err := j.extractor.Extract(ctx, text)
		if err != nil {
			e.fail(j.taskID, fmt.Errorf("entity extraction: %w", err))
			return
		}
		mentions = append(mentions, ms...)
	}
	e.setProgress(j.taskID, 40, store.StatusProcessing, stageExtract,
		fmt.Sprintf("抽取到 %d 个实体提及", len(mentions)))

	entities, merge := e.aligner.Align(mentions)
	e.setProgress(j.taskID, 50, store.StatusProcessing, stageAlign,
		fmt.Sprintf("对齐后 %d 个实体", len(entities)))

	var triples []model.Triple
	for _, text := range texts {
		ts, err := j.relator.Extract(ctx, text, entities)
		if err != nil {
			e.fail(j.taskID, fmt.Errorf("relation extraction: %w", err))
			return
		}
		triples = append(triples, ts...)
	}
	triples = align.AdjustTriples(triples, merge)
	e.setProgress(j.taskID, 65, store.StatusProcessing, stageRelation,
		fmt.Sprintf("抽取到 %d 条关系", len(triples)))

	// Completion is best-effort: a graph without inferred triples is still a
	// valid graph.
	var embeddings map[string][]float64
	completeMsg := "知识补全已跳过"
	if j.completion && len(triples) > 0 {
		m := complete.New(e.cfg.TransE)
		if err := m.Train(ctx, triples); err != nil {
			slog.Warn("completion training failed", "task_id", j.taskID, "error", err)
		} else {
			inferred, err := m.Complete(ctx, triples)
			if err != nil {
				slog.Warn("completion inference failed", "task_id", j.taskID, "error", err)
			} else {
				triples = append(triples, inferred...)
				completeMsg = fmt.Sprintf("补全推断出 %d 条关系", len(inferred))
			}
			embeddings = m.EntityEmbeddings()
		}
	}
	e.setProgress(j.taskID, 75, store.StatusProcessing, stageComplete, completeMsg)

	kgID := "kg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	name := j.name
	if name == "" {
		name = "知识图谱 " + time.Now().Format("2006-01-02 15:04")
	}
	if err := e.store.CreateKnowledgeGraph(ctx, &store.KnowledgeGraph{
		KGID:        kgID,
		UserID:      j.userID,
		Name:        name,
		Description: j.desc,
		Status:      "building",
		FileIDs:     j.fileIDs,
	}); err != nil {
		e.fail(j.taskID, fmt.Errorf("registering graph: %w", err))
		return
	}

	if err := e.graph.Persist(ctx, j.userID, kgID, entities, triples); err != nil {
		e.store.FinishKnowledgeGraph(ctx, kgID, store.StatusFailed, 0, 0, 0, err.Error())
		e.fail(j.taskID, fmt.Errorf("persisting graph: %w", err))
		return
	}
	e.setTaskKG(j.taskID, kgID)

	if embeddings != nil {
		if err := e.store.SaveEntityEmbeddings(ctx, kgID, embeddings); err != nil {
			slog.Warn("saving entity embeddings failed", "kg_id", kgID, "error", err)
		}
	}
	e.setProgress(j.taskID, 90, store.StatusProcessing, stagePersist, "图谱写入完成")
	if err := e.store.UpdateKGProgress(ctx, kgID, 90, "图谱写入完成"); err != nil {
		slog.Warn("mirroring graph progress failed", "kg_id", kgID, "error", err)
	}

	// Warm the visualization path so the first render after completion is
	// served from a healthy backend. Failures only matter in logs.
	warmupMsg := "可视化准备已跳过"
	if j.visualization {
		if _, err := e.graph.Visualization(ctx, kgID, 100); err != nil {
			slog.Warn("visualization warm-up failed", "kg_id", kgID, "error", err)
		}
		warmupMsg = "可视化数据就绪"
	}
	e.setProgress(j.taskID, 95, store.StatusProcessing, stageWarmup, warmupMsg)

	doneMsg := fmt.Sprintf("图谱构建完成：%d 个实体，%d 条关系", len(entities), len(triples))
	if err := e.store.FinishKnowledgeGraph(ctx, kgID, store.StatusCompleted,
		len(entities), len(triples), 100, doneMsg); err != nil {
		slog.Warn("finishing graph row failed", "kg_id", kgID, "error", err)
	}
	e.setProgress(j.taskID, 100, store.StatusCompleted, stageDone, doneMsg)

	slog.Info("build complete", "task_id", j.taskID, "kg_id", kgID,
		"entities", len(entities), "relations", len(triples),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// parseFiles parses the submitted files with bounded concurrency, preserving
// submission order. Progress advances proportionally as files finish; files
// that fail to parse are skipped and the build fails only when nothing
// survives.
func (e *Engine) parseFiles(ctx context.Context, taskID string, fileIDs []string) ([]string, int, error) {
	results := make([]string, len(fileIDs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ParseConcurrency)

	var done atomic.Int32
	for i, id := range fileIDs {
		g.Go(func() error {
			path := e.resolvePath(id)
			text, err := e.parsers.ParseFile(ctx, path, "auto")
			if err != nil {
				slog.Warn("file skipped", "file_id", id, "error", err)
			} else {
				results[i] = text
			}
			n := int(done.Add(1))
			if n < len(fileIDs) {
				e.setProgress(taskID, parseProgress(n, len(fileIDs)), store.StatusProcessing,
					stageParse, fmt.Sprintf("已解析 %d/%d 个文件", n, len(fileIDs)))
			}
			return nil
		})
	}
	g.Wait()

	texts := make([]string, 0, len(results))
	for _, t := range results {
		if t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return nil, 0, ErrAllFilesSkipped
	}
	return texts, len(fileIDs) - len(texts), nil
}

// parseProgress interpolates between the parse-start and parse-done
// milestones as files complete.
func parseProgress(done, total int) int {
	if total <= 0 {
		return 15
	}
	return 5 + 10*done/total
}

// resolvePath maps a submitted file ID to a readable path. IDs may be full
// paths, names relative to the upload dir, or upload IDs stripped of their
// extension.
func (e *Engine) resolvePath(fileID string) string {
	candidates := []string{fileID}
	if !filepath.IsAbs(fileID) && e.cfg.UploadDir != "" {
		candidates = append(candidates, filepath.Join(e.cfg.UploadDir, fileID))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
		if filepath.Ext(c) != "" {
			continue
		}
		for _, ext := range []string{".pdf", ".docx", ".xlsx", ".pptx", ".txt", ".md"} {
			if _, err := os.Stat(c + ext); err == nil {
				return c + ext
			}
		}
	}
	return fileID
}

func (e *Engine) setProgress(taskID string, progress int, status, stage, message string) {
	e.mu.Lock()
	if st := e.progress[taskID]; st != nil {
		if progress < st.Progress {
			progress = st.Progress
		}
		st.Progress = progress
		st.Status = status
		st.Stage = stage
		st.Message = message
	}
	e.mu.Unlock()

	if err := e.store.UpdateTaskProgress(context.Background(), taskID, progress, status, stage, message); err != nil {
		slog.Warn("mirroring task progress failed", "task_id", taskID, "error", err)
	}
}

func (e *Engine) setTaskKG(taskID, kgID string) {
	e.mu.Lock()
	if st := e.progress[taskID]; st != nil {
		st.KGID = kgID
	}
	e.mu.Unlock()

	if err := e.store.SetTaskKG(context.Background(), taskID, kgID); err != nil {
		slog.Warn("recording task kg_id failed", "task_id", taskID, "error", err)
	}
}

// fail marks the task failed, leaving progress at its last milestone.
func (e *Engine) fail(taskID string, cause error) {
	slog.Error("build failed", "task_id", taskID, "error", cause)

	var progress int
	var stage string
	e.mu.Lock()
	if st := e.progress[taskID]; st != nil {
		st.Status = store.StatusFailed
		st.Message = cause.Error()
		progress, stage = st.Progress, st.Stage
	}
	e.mu.Unlock()

	if err := e.store.UpdateTaskProgress(context.Background(), taskID, progress, store.StatusFailed, stage, cause.Error()); err != nil {
		slog.Warn("mirroring task failure failed", "task_id", taskID, "error", err)
	}
}
