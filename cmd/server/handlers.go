package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kgforge/kgforge"
	"github.com/kgforge/kgforge/graphstore"
)

type handler struct {
	engine    *kgforge.Engine
	uploadDir string
}

func newHandler(e *kgforge.Engine, uploadDir string) *handler {
	return &handler{engine: e, uploadDir: uploadDir}
}

// userID reads the caller identity. Auth proxies in front of this service
// set the header; requests without it are rejected.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// POST /api/v1/files/upload
// Multipart upload; the returned file_id is what /kg/create accepts.
func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if userID(r) == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	if err := r.ParseMultipartForm(100 << 20); err != nil { // 100MB max
		writeError(w, http.StatusBadRequest, "multipart form required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		slog.Error("creating upload dir", "error", err)
		return
	}

	// Sanitise filename to prevent path traversal, keep the extension so the
	// format can be inferred later.
	safeName := filepath.Base(header.Filename)
	fileID := uuid.NewString() + filepath.Ext(safeName)

	dst, err := os.Create(filepath.Join(h.uploadDir, fileID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		slog.Error("creating upload file", "error", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to store file")
		slog.Error("saving upload", "error", err)
		return
	}
	dst.Close()

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":  fileID,
		"filename": safeName,
	})
}

// POST /api/v1/kg/create
func (h *handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	var req struct {
		Name                string             `json:"name"`
		Description         string             `json:"description"`
		FileIDs             []string           `json:"file_ids"`
		Algorithms          kgforge.Algorithms `json:"algorithms"`
		ModelAPIKey         string             `json:"model_api_key"`
		EnableCompletion    *bool              `json:"enable_completion"`
		EnableVisualization *bool              `json:"enable_visualization"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	taskID, err := h.engine.Submit(r.Context(), kgforge.BuildRequest{
		UserID:              uid,
		Name:                req.Name,
		Description:         req.Description,
		FileIDs:             req.FileIDs,
		Algorithms:          req.Algorithms,
		ModelAPIKey:         req.ModelAPIKey,
		EnableCompletion:    req.EnableCompletion,
		EnableVisualization: req.EnableVisualization,
	})
	if errors.Is(err, kgforge.ErrNoFiles) {
		writeError(w, http.StatusBadRequest, "file_ids is required")
		return
	}
	if errors.Is(err, kgforge.ErrInvalidConfig) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to submit build")
		slog.Error("submit error", "user_id", uid, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": taskID,
		"status":  "pending",
	})
}

// GET /api/v1/kg/progress/{task_id}
func (h *handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	st, err := h.engine.Progress(r.Context(), uid, r.PathValue("task_id"))
	if errors.Is(err, kgforge.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read progress")
		slog.Error("progress error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /api/v1/kg/query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req struct {
		KGID     string `json:"kg_id"`
		Entity   string `json:"entity,omitempty"`
		Relation string `json:"relation,omitempty"`
		Limit    int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.KGID == "" {
		writeError(w, http.StatusBadRequest, "kg_id is required")
		return
	}
	if req.Limit < 0 || req.Limit > 500 {
		req.Limit = 0 // use default
	}

	start := time.Now()
	res, err := h.engine.Query(ctx, graphstore.QuerySpec{
		UserID:   uid,
		KGID:     req.KGID,
		Entity:   req.Entity,
		Relation: req.Relation,
		Limit:    req.Limit,
	})
	if errors.Is(err, kgforge.ErrGraphNotFound) {
		writeError(w, http.StatusNotFound, "knowledge graph not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("query error", "kg_id", req.KGID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities":       res.Entities,
		"relations":      res.Relations,
		"total":          len(res.Entities) + len(res.Relations),
		"execution_time": time.Since(start).Seconds(),
	})
}

// GET /api/v1/kg/list?page=1&page_size=20
func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	graphs, total, err := h.engine.ListGraphs(r.Context(), uid, (page-1)*pageSize, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list graphs")
		slog.Error("list error", "user_id", uid, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"graphs":    graphs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GET /api/v1/kg/{kg_id}/visualize?limit=100
func (h *handler) handleVisualize(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 500 {
		limit = 100
	}

	viz, err := h.engine.Visualization(r.Context(), uid, r.PathValue("kg_id"), limit)
	if errors.Is(err, kgforge.ErrGraphNotFound) {
		writeError(w, http.StatusNotFound, "knowledge graph not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "visualization failed")
		slog.Error("visualize error", "kg_id", r.PathValue("kg_id"), "error", err)
		return
	}
	writeJSON(w, http.StatusOK, viz)
}

// DELETE /api/v1/kg/{kg_id}
func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	kgID := r.PathValue("kg_id")
	err := h.engine.DeleteGraph(r.Context(), uid, kgID)
	if errors.Is(err, kgforge.ErrGraphNotFound) {
		writeError(w, http.StatusNotFound, "knowledge graph not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "kg_id", kgID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "kg_id": kgID})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
