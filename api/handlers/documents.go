package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/api"
	"github.com/BaSui01/lexflow/internal/cache"
	"github.com/BaSui01/lexflow/types"
)

// =============================================================================
// 📄 文档接口 Handler
// =============================================================================

// DocumentService 文档侧的消费侧接口，由 *rag.Service 满足。
type DocumentService interface {
	ListDocuments(ctx context.Context) ([]api.DocumentInfo, error)
	AddDocument(ctx context.Context, name, text string) (int, error)
	DeleteDocument(ctx context.Context, name string) (bool, error)
	Search(ctx context.Context, query string, topK int) ([]api.SearchResult, error)
}

// ingestTaskTTL 任务状态在 Redis 中的保留时长
const ingestTaskTTL = 24 * time.Hour

// ingestTimeout 单次摄取（分块 + 向量化 + 写入）的上限
const ingestTimeout = 10 * time.Minute

// DocumentsHandler 文档接口处理器。摄取任务表在进程内，
// 并镜像写入 Redis 以便状态查询在缓存层可见。
type DocumentsHandler struct {
	service DocumentService
	cache   *cache.Manager
	logger  *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*api.IngestTask
}

// NewDocumentsHandler 创建文档处理器。cacheManager 可为 nil。
func NewDocumentsHandler(service DocumentService, cacheManager *cache.Manager, logger *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		service: service,
		cache:   cacheManager,
		logger:  logger,
		tasks:   make(map[string]*api.IngestTask),
	}
}

// HandleList 处理文档列表请求
// @Summary 文档列表
// @Description 返回已上传文档的名称、类型与分块数
// @Tags 文档
// @Produce json
// @Success 200 {object} Response{data=api.DocumentListResponse} "文档列表"
// @Failure 502 {object} Response "存储不可用"
// @Router /api/v1/documents [get]
func (h *DocumentsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListDocuments(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	WriteSuccess(w, api.DocumentListResponse{Documents: docs, Count: len(docs)})
}

// HandleAdd 处理文档上传请求（异步摄取）
// @Summary 上传文档
// @Description 受理文档并在后台分块、向量化、写入存储；返回任务 ID
// @Tags 文档
// @Accept json
// @Produce json
// @Param request body api.DocumentAddRequest true "文档"
// @Success 202 {object} Response{data=api.IngestTask} "已受理"
// @Failure 400 {object} Response "无效请求"
// @Router /api/v1/documents [post]
func (h *DocumentsHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.DocumentAddRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "document name is required"), h.logger)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "document text is required"), h.logger)
		return
	}

	task := &api.IngestTask{
		ID:        uuid.NewString(),
		Name:      req.Name,
		State:     api.TaskQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	h.storeTask(task)

	go h.runIngest(task.ID, req.Name, req.Text)

	h.logger.Info("ingest task accepted",
		zap.String("task_id", task.ID),
		zap.String("document", req.Name),
		zap.Int("text_len", len(req.Text)),
	)

	WriteAccepted(w, task)
}

// HandleTaskStatus 处理摄取任务状态查询
// @Summary 摄取任务状态
// @Description 按任务 ID 查询摄取进度
// @Tags 文档
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} Response{data=api.IngestTask} "任务状态"
// @Failure 404 {object} Response "任务不存在"
// @Router /api/v1/documents/tasks/{id} [get]
func (h *DocumentsHandler) HandleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if task, ok := h.loadTask(r.Context(), id); ok {
		WriteSuccess(w, task)
		return
	}

	WriteError(w, types.NewError(types.ErrNotFound, "ingest task not found"), h.logger)
}

// HandleDelete 处理文档删除请求
// @Summary 删除文档
// @Description 按名称删除文档的全部分块
// @Tags 文档
// @Produce json
// @Param name path string true "文档名"
// @Success 200 {object} Response{data=api.DocumentDeleteResponse} "删除结果"
// @Failure 502 {object} Response "存储不可用"
// @Router /api/v1/documents/{name} [delete]
func (h *DocumentsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "document name is required"), h.logger)
		return
	}

	deleted, err := h.service.DeleteDocument(r.Context(), name)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("document delete", zap.String("document", name), zap.Bool("deleted", deleted))
	WriteSuccess(w, api.DocumentDeleteResponse{Name: name, Deleted: deleted})
}

// HandleSearch 处理原始检索请求
// @Summary 语义检索
// @Description 对已上传文档做语义检索，返回原始命中
// @Tags 文档
// @Produce json
// @Param query query string true "检索查询"
// @Param top_k query int false "返回条数"
// @Success 200 {object} Response{data=api.DocumentSearchResponse} "检索命中"
// @Failure 400 {object} Response "无效请求"
// @Router /api/v1/documents/search [get]
func (h *DocumentsHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query parameter is required"), h.logger)
		return
	}

	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "top_k must be a positive integer"), h.logger)
			return
		}
		topK = n
	}

	results, err := h.service.Search(r.Context(), query, topK)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	WriteSuccess(w, api.DocumentSearchResponse{Results: results})
}

// =============================================================================
// 🔄 摄取任务表
// =============================================================================

// runIngest 在后台执行摄取并推进任务状态。
// 与请求上下文解耦：客户端断开不终止摄取。
func (h *DocumentsHandler) runIngest(taskID, name, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	h.updateTask(ctx, taskID, func(t *api.IngestTask) {
		t.State = api.TaskRunning
	})

	chunks, err := h.service.AddDocument(ctx, name, text)
	if err != nil {
		h.logger.Error("ingest failed",
			zap.String("task_id", taskID),
			zap.String("document", name),
			zap.Error(err),
		)
		h.updateTask(ctx, taskID, func(t *api.IngestTask) {
			t.State = api.TaskFailed
			t.Error = err.Error()
		})
		return
	}

	h.logger.Info("ingest completed",
		zap.String("task_id", taskID),
		zap.String("document", name),
		zap.Int("chunks", chunks),
	)
	h.updateTask(ctx, taskID, func(t *api.IngestTask) {
		t.State = api.TaskDone
		t.Chunks = chunks
	})
}

func (h *DocumentsHandler) storeTask(task *api.IngestTask) {
	h.mu.Lock()
	h.pruneTasksLocked(time.Now())
	h.tasks[task.ID] = task
	h.mu.Unlock()
	h.mirrorTask(context.Background(), task)
}

// pruneTasksLocked 回收超过保留期的完结任务，与 Redis 镜像的过期
// 对齐。运行中的任务不回收。调用方必须持有写锁。
func (h *DocumentsHandler) pruneTasksLocked(now time.Time) {
	for id, task := range h.tasks {
		if task.State != api.TaskDone && task.State != api.TaskFailed {
			continue
		}
		if now.Sub(task.UpdatedAt) > ingestTaskTTL {
			delete(h.tasks, id)
		}
	}
}

func (h *DocumentsHandler) updateTask(ctx context.Context, id string, apply func(*api.IngestTask)) {
	h.mu.Lock()
	task, ok := h.tasks[id]
	if ok {
		apply(task)
		task.UpdatedAt = time.Now()
	}
	var snapshot api.IngestTask
	if ok {
		snapshot = *task
	}
	h.mu.Unlock()

	if ok {
		h.mirrorTask(ctx, &snapshot)
	}
}

func (h *DocumentsHandler) loadTask(ctx context.Context, id string) (*api.IngestTask, bool) {
	h.mu.RLock()
	task, ok := h.tasks[id]
	if ok {
		snapshot := *task
		h.mu.RUnlock()
		return &snapshot, true
	}
	h.mu.RUnlock()

	// 进程重启后回落到 Redis 镜像
	if h.cache == nil {
		return nil, false
	}
	var cached api.IngestTask
	if err := h.cache.GetJSON(ctx, cache.IngestTaskKey(id), &cached); err != nil {
		if !cache.IsCacheMiss(err) {
			h.logger.Warn("ingest task cache read failed", zap.String("task_id", id), zap.Error(err))
		}
		return nil, false
	}
	return &cached, true
}

// mirrorTask 将任务快照写入 Redis；失败仅记日志。
func (h *DocumentsHandler) mirrorTask(ctx context.Context, task *api.IngestTask) {
	if h.cache == nil {
		return
	}
	if err := h.cache.SetJSON(ctx, cache.IngestTaskKey(task.ID), task, ingestTaskTTL); err != nil {
		h.logger.Warn("ingest task cache write failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// handleServiceError 处理文档服务错误
func (h *DocumentsHandler) handleServiceError(w http.ResponseWriter, err error) {
	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	internalErr := types.NewError(types.ErrInternalError, "document service error").
		WithCause(err).
		WithRetryable(false)

	WriteError(w, internalErr, h.logger)
}
