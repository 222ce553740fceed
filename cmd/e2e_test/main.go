// Command e2e_test runs the full build pipeline end to end against a
// temporary database and the in-memory graph backend: write a sample
// document, build a graph from it, poll progress, query, visualize, delete.
// Useful as a smoke test without Neo4j or an LLM endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kgforge/kgforge"
	"github.com/kgforge/kgforge/graphstore"
	"github.com/kgforge/kgforge/store"
)

const sampleDoc = `百度公司于2023年推出文心一言大模型。王海峰领导百度研究院，推动人工智能技术的发展。
百度公司与清华大学达成合作，共同建设联合实验室。文心一言是基于深度学习技术的大语言模型，
在自然语言处理领域得到广泛应用。阿里巴巴集团也发布了通义千问大模型。
通义千问由阿里云研发，支持多轮对话和代码生成，覆盖电商与办公场景。
腾讯公司位于深圳，马化腾担任腾讯公司的首席执行官。腾讯公司于2023年发布了混元大模型，
混元大模型应用于游戏和社交等业务。华为公司推出了盘古大模型，
盘古大模型面向气象预报和工业质检等行业。知识图谱技术将文本中的实体和关系组织成网络结构，
帮助机器理解真实世界，支撑搜索问答和智能推荐等应用。`

func main() {
	tmpDir, err := os.MkdirTemp("", "kgforge-e2e-*")
	if err != nil {
		fatal("creating temp dir", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := kgforge.DefaultConfig()
	cfg.DBPath = filepath.Join(tmpDir, "kgforge.db")
	cfg.UploadDir = filepath.Join(tmpDir, "uploads")
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		fatal("creating upload dir", err)
	}

	docPath := filepath.Join(cfg.UploadDir, "sample.txt")
	if err := os.WriteFile(docPath, []byte(sampleDoc), 0o644); err != nil {
		fatal("writing sample document", err)
	}

	ctx := context.Background()
	engine, err := kgforge.New(ctx, cfg)
	if err != nil {
		fatal("creating engine", err)
	}
	defer engine.Close()

	taskID, err := engine.Submit(ctx, kgforge.BuildRequest{
		UserID:  "e2e",
		Name:    "端到端测试图谱",
		FileIDs: []string{"sample.txt"},
	})
	if err != nil {
		fatal("submitting build", err)
	}
	fmt.Printf("submitted task %s\n", taskID)

	var st *kgforge.TaskStatus
	deadline := time.Now().Add(time.Minute)
	for time.Now().Before(deadline) {
		st, err = engine.Progress(ctx, "e2e", taskID)
		if err != nil {
			fatal("reading progress", err)
		}
		fmt.Printf("  [%3d%%] %s — %s\n", st.Progress, st.Stage, st.Message)
		if st.Status == store.StatusCompleted || st.Status == store.StatusFailed {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if st == nil || st.Status != store.StatusCompleted {
		fatal("build did not complete", fmt.Errorf("status: %+v", st))
	}

	res, err := engine.Query(ctx, graphstore.QuerySpec{UserID: "e2e", KGID: st.KGID})
	if err != nil {
		fatal("querying graph", err)
	}
	fmt.Printf("graph %s: %d entities, %d relations\n", st.KGID, len(res.Entities), len(res.Relations))
	for _, e := range res.Entities {
		fmt.Printf("  entity %-8s %s\n", e.Type, e.Name)
	}
	for _, r := range res.Relations {
		fmt.Printf("  relation %s -[%s]-> %s\n", r.HeadID, r.Relation, r.TailID)
	}

	viz, err := engine.Visualization(ctx, "e2e", st.KGID, 100)
	if err != nil {
		fatal("visualizing graph", err)
	}
	fmt.Printf("visualization: %d nodes, %d edges\n", len(viz.Nodes), len(viz.Edges))

	if err := engine.DeleteGraph(ctx, "e2e", st.KGID); err != nil {
		fatal("deleting graph", err)
	}
	fmt.Println("graph deleted, e2e test passed")
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "e2e: %s: %v\n", msg, err)
	os.Exit(1)
}
