//go:build cgo

package kgforge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kgforge/kgforge/graphstore"
	"github.com/kgforge/kgforge/parser"
	"github.com/kgforge/kgforge/store"
)

const sampleDoc = "百度公司于2023年推出文心一言大模型。王海峰领导百度研究院，推动人工智能技术的发展。" +
	"百度公司与清华大学达成合作，共同建设联合实验室。文心一言是基于深度学习技术的大语言模型，" +
	"在自然语言处理领域得到广泛应用。阿里巴巴集团也发布了通义千问大模型。" +
	"通义千问由阿里云研发，支持多轮对话和代码生成，覆盖电商与办公场景。" +
	"腾讯公司位于深圳，马化腾担任腾讯公司的首席执行官。腾讯公司于2023年发布了混元大模型，" +
	"混元大模型应用于游戏和社交等业务。华为公司推出了盘古大模型，" +
	"盘古大模型面向气象预报和工业质检等行业。知识图谱技术将文本中的实体和关系组织成网络结构，" +
	"帮助机器理解真实世界，支撑搜索问答和智能推荐等应用。"

// The fixture must survive the parser's content gate or every build in this
// file fails at the parse stage.
func TestSampleDocIsMeaningful(t *testing.T) {
	if !parser.Meaningful(sampleDoc) {
		t.Fatal("sampleDoc rejected by the content gate")
	}
}

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "kgforge.db")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.EnableCompletion = false
	if mutate != nil {
		mutate(&cfg)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		t.Fatal(err)
	}

	e, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func writeUpload(t *testing.T, e *Engine, name, content string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.cfg.UploadDir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return name
}

// waitForTask polls until the task reaches a terminal status, asserting that
// progress never moves backwards.
func waitForTask(t *testing.T, e *Engine, userID, taskID string) *TaskStatus {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	last := -1
	for time.Now().Before(deadline) {
		st, err := e.Progress(context.Background(), userID, taskID)
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		if st.Progress < last {
			t.Fatalf("progress went backwards: %d -> %d", last, st.Progress)
		}
		last = st.Progress
		if st.Status == store.StatusCompleted || st.Status == store.StatusFailed {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not finish in time")
	return nil
}

func TestBuildHappyPath(t *testing.T) {
	e := newTestEngine(t, nil)
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	taskID, err := e.Submit(context.Background(), BuildRequest{
		UserID:  "alice",
		Name:    "测试图谱",
		FileIDs: []string{file},
	})
	if err != nil {
		t.Fatal(err)
	}

	st := waitForTask(t, e, "alice", taskID)
	if st.Status != store.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", st.Status, st.Message)
	}
	if st.Progress != 100 {
		t.Errorf("progress = %d, want 100", st.Progress)
	}
	if st.KGID == "" {
		t.Fatal("completed task has no kg_id")
	}

	res, err := e.Query(context.Background(), graphstore.QuerySpec{UserID: "alice", KGID: st.KGID})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) == 0 {
		t.Error("built graph has no entities")
	}
	if len(res.Relations) == 0 {
		t.Error("built graph has no relations")
	}

	g, err := e.GetGraph(context.Background(), "alice", st.KGID)
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != store.StatusCompleted || g.EntityCount == 0 {
		t.Errorf("graph row not finished: %+v", g)
	}
}

func TestSubmitNoFiles(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Submit(context.Background(), BuildRequest{UserID: "alice"})
	if !errors.Is(err, ErrNoFiles) {
		t.Errorf("err = %v, want ErrNoFiles", err)
	}
}

func TestSubmitPerBuildAlgorithms(t *testing.T) {
	e := newTestEngine(t, nil)
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	off := false
	taskID, err := e.Submit(context.Background(), BuildRequest{
		UserID:  "alice",
		FileIDs: []string{file},
		Algorithms: Algorithms{
			Preprocess:          "minhash",
			EntityExtraction:    "rule",
			RelationExtraction:  "rule",
			KnowledgeCompletion: "none",
		},
		EnableVisualization: &off,
	})
	if err != nil {
		t.Fatal(err)
	}
	st := waitForTask(t, e, "alice", taskID)
	if st.Status != store.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", st.Status, st.Message)
	}

	row, err := e.Store().GetTask(context.Background(), "alice", taskID)
	if err != nil {
		t.Fatal(err)
	}
	var got Algorithms
	if err := json.Unmarshal([]byte(row.Params), &got); err != nil {
		t.Fatalf("params not recorded: %q: %v", row.Params, err)
	}
	if got.Preprocess != "minhash" || got.EntityExtraction != "rule" || got.KnowledgeCompletion != "none" {
		t.Errorf("recorded algorithms = %+v", got)
	}
}

func TestSubmitInvalidAlgorithm(t *testing.T) {
	e := newTestEngine(t, nil)
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	_, err := e.Submit(context.Background(), BuildRequest{
		UserID:     "alice",
		FileIDs:    []string{file},
		Algorithms: Algorithms{Preprocess: "bloom"},
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("preprocess err = %v, want ErrInvalidConfig", err)
	}

	_, err = e.Submit(context.Background(), BuildRequest{
		UserID:     "alice",
		FileIDs:    []string{file},
		Algorithms: Algorithms{KnowledgeCompletion: "gan"},
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("completion err = %v, want ErrInvalidConfig", err)
	}
}

func TestParseProgressInterpolation(t *testing.T) {
	tests := []struct{ done, total, want int }{
		{1, 4, 7},
		{2, 4, 10},
		{3, 4, 12},
		{4, 4, 15},
		{1, 1, 15},
		{1, 2, 10},
	}
	for _, tt := range tests {
		if got := parseProgress(tt.done, tt.total); got != tt.want {
			t.Errorf("parseProgress(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestBuildAllFilesSkipped(t *testing.T) {
	e := newTestEngine(t, nil)
	file := writeUpload(t, e, "junk.txt", "。。。")

	taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{file, "missing.txt"}})
	if err != nil {
		t.Fatal(err)
	}

	st := waitForTask(t, e, "alice", taskID)
	if st.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", st.Status)
	}
	if st.Progress == 0 || st.Progress >= 15 {
		t.Errorf("progress = %d, want last milestone before parsing completed", st.Progress)
	}
}

func TestBuildSkipsBadFileButCompletes(t *testing.T) {
	e := newTestEngine(t, nil)
	good := writeUpload(t, e, "good.txt", sampleDoc)

	taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{good, "missing.txt"}})
	if err != nil {
		t.Fatal(err)
	}
	st := waitForTask(t, e, "alice", taskID)
	if st.Status != store.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", st.Status, st.Message)
	}
}

func TestDuplicateFilesCollapse(t *testing.T) {
	e := newTestEngine(t, nil)
	a := writeUpload(t, e, "a.txt", sampleDoc)
	b := writeUpload(t, e, "b.txt", sampleDoc)

	taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{a, b}})
	if err != nil {
		t.Fatal(err)
	}
	st := waitForTask(t, e, "alice", taskID)
	if st.Status != store.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", st.Status, st.Message)
	}

	single := writeUpload(t, e, "single.txt", sampleDoc)
	taskID2, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{single}})
	if err != nil {
		t.Fatal(err)
	}
	st2 := waitForTask(t, e, "alice", taskID2)

	g1, err := e.GetGraph(context.Background(), "alice", st.KGID)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := e.GetGraph(context.Background(), "alice", st2.KGID)
	if err != nil {
		t.Fatal(err)
	}
	if g1.EntityCount != g2.EntityCount {
		t.Errorf("duplicate file changed the graph: %d vs %d entities", g1.EntityCount, g2.EntityCount)
	}
}

func TestProgressScopedToOwner(t *testing.T) {
	e := newTestEngine(t, nil)
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{file}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Progress(context.Background(), "bob", taskID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
	waitForTask(t, e, "alice", taskID)
}

func TestQueryIsolationBetweenUsers(t *testing.T) {
	e := newTestEngine(t, nil)
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{file}})
	if err != nil {
		t.Fatal(err)
	}
	st := waitForTask(t, e, "alice", taskID)

	if _, err := e.Query(context.Background(), graphstore.QuerySpec{UserID: "bob", KGID: st.KGID}); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("err = %v, want ErrGraphNotFound", err)
	}
	if _, err := e.Visualization(context.Background(), "bob", st.KGID, 100); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("err = %v, want ErrGraphNotFound", err)
	}
}

func TestDeleteGraph(t *testing.T) {
	e := newTestEngine(t, nil)
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{file}})
	if err != nil {
		t.Fatal(err)
	}
	st := waitForTask(t, e, "alice", taskID)

	if err := e.DeleteGraph(context.Background(), "alice", st.KGID); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteGraph(context.Background(), "alice", st.KGID); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("second delete err = %v, want ErrGraphNotFound", err)
	}
	if _, err := e.GetGraph(context.Background(), "alice", st.KGID); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("deleted graph still listed: %v", err)
	}
}

func TestListGraphsPaged(t *testing.T) {
	e := newTestEngine(t, nil)
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	for i := 0; i < 3; i++ {
		taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{file}})
		if err != nil {
			t.Fatal(err)
		}
		waitForTask(t, e, "alice", taskID)
	}

	graphs, total, err := e.ListGraphs(context.Background(), "alice", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(graphs) != 2 {
		t.Errorf("total = %d, page = %d; want 3, 2", total, len(graphs))
	}
}

func TestLLMFailureFallsBackToRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestEngine(t, func(cfg *Config) {
		cfg.LLM.BaseURL = srv.URL
		cfg.LLM.Model = "test"
	})
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{file}})
	if err != nil {
		t.Fatal(err)
	}
	st := waitForTask(t, e, "alice", taskID)
	if st.Status != store.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed via rule fallback", st.Status, st.Message)
	}
}

func TestCompletionIsNonFatal(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) {
		cfg.EnableCompletion = true
		cfg.TransE.Epochs = 5
		cfg.TransE.Seed = 1
	})
	file := writeUpload(t, e, "doc.txt", sampleDoc)

	taskID, err := e.Submit(context.Background(), BuildRequest{UserID: "alice", FileIDs: []string{file}})
	if err != nil {
		t.Fatal(err)
	}
	st := waitForTask(t, e, "alice", taskID)
	if st.Status != store.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", st.Status, st.Message)
	}
}
