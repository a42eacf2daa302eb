package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/api"
	"github.com/BaSui01/lexflow/resilience"
	"github.com/BaSui01/lexflow/types"
)

// =============================================================================
// 🔌 熔断器接口 Handler
// =============================================================================

// CircuitsHandler 熔断器监控与复位处理器
type CircuitsHandler struct {
	registry *resilience.Registry
	logger   *zap.Logger
}

// NewCircuitsHandler 创建熔断器处理器
func NewCircuitsHandler(registry *resilience.Registry, logger *zap.Logger) *CircuitsHandler {
	return &CircuitsHandler{
		registry: registry,
		logger:   logger,
	}
}

// HandleList 处理熔断器快照请求
// @Summary 熔断器快照
// @Description 返回全部熔断器的状态、失败计数与最近失败时间
// @Tags 熔断器
// @Produce json
// @Success 200 {object} Response{data=[]resilience.BreakerStatus} "快照"
// @Router /api/v1/circuits [get]
func (h *CircuitsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.registry.Snapshot())
}

// HandleReset 处理熔断器复位请求
// @Summary 熔断器复位
// @Description 将指定资源的熔断器复位为闭合；资源名为 all 时复位全部
// @Tags 熔断器
// @Produce json
// @Param name path string true "资源名"
// @Success 200 {object} Response{data=api.CircuitResetResponse} "复位结果"
// @Failure 404 {object} Response "资源不存在"
// @Router /api/v1/circuits/{name}/reset [post]
func (h *CircuitsHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "resource name is required"), h.logger)
		return
	}

	if name == "all" {
		h.registry.ResetAll()
		h.logger.Info("all circuit breakers reset")
		WriteSuccess(w, api.CircuitResetResponse{Resource: "all", Reset: true})
		return
	}

	if !h.registry.Reset(name) {
		WriteError(w, types.NewError(types.ErrNotFound, "circuit breaker not found"), h.logger)
		return
	}

	h.logger.Info("circuit breaker reset", zap.String("resource", name))
	WriteSuccess(w, api.CircuitResetResponse{Resource: name, Reset: true})
}
