package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/lexflow/api"
	"github.com/BaSui01/lexflow/router"
	"github.com/BaSui01/lexflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// ⚖️ 查询接口 Handler
// =============================================================================

// Orchestrator 查询编排的消费侧接口，由 *router.Router 满足。
type Orchestrator interface {
	Answer(ctx context.Context, query string, opts router.Options) (*router.Result, error)
	Stream(ctx context.Context, query string, opts router.Options) (<-chan router.Chunk, error)
}

// QueryHandler 查询接口处理器
type QueryHandler struct {
	orchestrator Orchestrator
	logger       *zap.Logger
}

// NewQueryHandler 创建查询处理器
func NewQueryHandler(orchestrator Orchestrator, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// HandleQuery 处理完整查询请求
// @Summary 法律问答
// @Description 对一条乌克兰语法律问题执行分类、上下文聚合与回答生成
// @Tags 查询
// @Accept json
// @Produce json
// @Param request body api.QueryRequest true "查询请求"
// @Success 200 {object} Response{data=router.Result} "回答"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "内部错误"
// @Router /api/v1/query [post]
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := h.orchestrator.Answer(r.Context(), req.Query, h.toOptions(req))
	if err != nil {
		h.handleOrchestratorError(w, err)
		return
	}

	h.logger.Info("query answered",
		zap.String("intent", result.Metadata.Intent),
		zap.Bool("cached", result.Metadata.Cached),
		zap.Int("context_parts", result.Metadata.ContextParts),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, result)
}

// HandleStream 处理流式查询请求
// @Summary 流式法律问答
// @Description 以 SSE 流返回生成文本，帧为 data: {"delta": ...}，终止符 data: [DONE]
// @Tags 查询
// @Accept json
// @Produce text/event-stream
// @Param request body api.QueryRequest true "查询请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "内部错误"
// @Router /api/v1/query/stream [post]
func (h *QueryHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	stream, err := h.orchestrator.Stream(r.Context(), req.Query, h.toOptions(req))
	if err != nil {
		h.handleOrchestratorError(w, err)
		return
	}

	// 设置 SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲

	flusher, ok := w.(http.Flusher)
	if !ok {
		err := types.NewError(types.ErrInternalError, "streaming not supported")
		WriteError(w, err, h.logger)
		return
	}

	for chunk := range stream {
		if chunk.Err != nil {
			h.logger.Error("stream error", zap.Error(chunk.Err))
			// SSE 错误事件 — 使用 json.Marshal 转义错误消息，防止 JSON 注入
			errPayload, _ := json.Marshal(map[string]string{"error": chunk.Err.Error()})
			w.Write([]byte("event: error\n"))
			w.Write([]byte("data: "))
			w.Write(errPayload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
			return
		}

		payload, err := json.Marshal(api.StreamDelta{Delta: chunk.Delta})
		if err != nil {
			h.logger.Error("failed to encode chunk", zap.Error(err))
			return
		}
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	// 发送结束标记
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// decodeQuery 解码并校验查询请求
func (h *QueryHandler) decodeQuery(w http.ResponseWriter, r *http.Request) (*api.QueryRequest, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return nil, false
	}

	var req api.QueryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}

	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query is required"), h.logger)
		return nil, false
	}
	if req.TopK < 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "top_k must be non-negative"), h.logger)
		return nil, false
	}

	return &req, true
}

// toOptions 转换为编排器覆盖项
func (h *QueryHandler) toOptions(req *api.QueryRequest) router.Options {
	return router.Options{
		Provider:     req.Provider,
		Model:        req.Model,
		UseRetrieval: req.UseRetrieval,
		UseLegal:     req.UseLegal,
		TopK:         req.TopK,
	}
}

// handleOrchestratorError 处理编排器错误
func (h *QueryHandler) handleOrchestratorError(w http.ResponseWriter, err error) {
	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	internalErr := types.NewError(types.ErrInternalError, "query orchestration error").
		WithCause(err).
		WithRetryable(false)

	WriteError(w, internalErr, h.logger)
}
