package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/api"
	"github.com/BaSui01/lexflow/law"
	"github.com/BaSui01/lexflow/types"
)

// =============================================================================
// ⚖️ 法律检索接口 Handler
// =============================================================================

// LegalSearch 法律桥接的消费侧接口，由 *law.Client 满足。
type LegalSearch interface {
	SearchCases(ctx context.Context, query, instance string, limit int) ([]law.Case, error)
	GetCaseDetails(ctx context.Context, caseNumber, docID string) (*law.CaseDetails, error)
	GetCaseFullText(ctx context.Context, docID string) (string, error)
	ExtractCaseArguments(ctx context.Context, query, instance string, limit, year int) (*law.Arguments, error)
}

// LawHandler 法律检索处理器
type LawHandler struct {
	legal  LegalSearch
	logger *zap.Logger
}

// NewLawHandler 创建法律检索处理器
func NewLawHandler(legal LegalSearch, logger *zap.Logger) *LawHandler {
	return &LawHandler{
		legal:  legal,
		logger: logger,
	}
}

// HandleSearch 处理判例检索请求
// @Summary 判例检索
// @Description 通过 ZakonOnline 桥接检索法院判例
// @Tags 法律
// @Accept json
// @Produce json
// @Param request body api.LawSearchRequest true "检索请求"
// @Success 200 {object} Response{data=[]law.Case} "判例列表"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "桥接不可用"
// @Router /api/v1/law/search [post]
func (h *LawHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.LawSearchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query is required"), h.logger)
		return
	}

	cases, err := h.legal.SearchCases(r.Context(), req.Query, req.Instance, req.Limit)
	if err != nil {
		h.handleLegalError(w, err)
		return
	}

	h.logger.Info("law search", zap.String("query", req.Query), zap.Int("hits", len(cases)))
	WriteSuccess(w, cases)
}

// HandleCase 处理判决详情请求
// @Summary 判决详情
// @Description 按案号返回判决详情；?full_text=true 时附带判决全文
// @Tags 法律
// @Produce json
// @Param caseNumber path string true "案号"
// @Param full_text query bool false "是否附带全文"
// @Success 200 {object} Response{data=law.CaseDetails} "判决详情"
// @Failure 404 {object} Response "判决不存在"
// @Failure 502 {object} Response "桥接不可用"
// @Router /api/v1/law/cases/{caseNumber} [get]
func (h *LawHandler) HandleCase(w http.ResponseWriter, r *http.Request) {
	caseNumber := r.PathValue("caseNumber")
	if caseNumber == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "case number is required"), h.logger)
		return
	}

	details, err := h.legal.GetCaseDetails(r.Context(), caseNumber, "")
	if err != nil {
		h.handleLegalError(w, err)
		return
	}
	if details == nil {
		WriteError(w, types.NewError(types.ErrNotFound, "case not found"), h.logger)
		return
	}

	if r.URL.Query().Get("full_text") == "true" && details.FullText == "" && details.DocID != "" {
		fullText, err := h.legal.GetCaseFullText(r.Context(), details.DocID)
		if err != nil {
			// 详情已拿到，全文失败仅降级
			h.logger.Warn("case full text fetch failed",
				zap.String("case_number", caseNumber),
				zap.Error(err),
			)
		} else {
			details.FullText = fullText
		}
	}

	WriteSuccess(w, details)
}

// HandleArguments 处理判例论点提取请求
// @Summary 判例论点提取
// @Description 桥接端逐案分析判例并提取结构化法律论点，调用耗时较长
// @Tags 法律
// @Accept json
// @Produce json
// @Param request body api.LawArgumentsRequest true "提取请求"
// @Success 200 {object} Response{data=law.Arguments} "论点"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "无匹配判例"
// @Failure 502 {object} Response "桥接不可用"
// @Router /api/v1/law/arguments [post]
func (h *LawHandler) HandleArguments(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.LawArgumentsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query is required"), h.logger)
		return
	}

	args, err := h.legal.ExtractCaseArguments(r.Context(), req.Query, req.Instance, req.Limit, req.Year)
	if err != nil {
		h.handleLegalError(w, err)
		return
	}
	if args == nil {
		WriteError(w, types.NewError(types.ErrNotFound, "no cases matched the query"), h.logger)
		return
	}

	h.logger.Info("law arguments extracted",
		zap.String("query", req.Query),
		zap.Int("cases", len(args.Cases)),
	)
	WriteSuccess(w, args)
}

// handleLegalError 处理法律桥接错误
func (h *LawHandler) handleLegalError(w http.ResponseWriter, err error) {
	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	internalErr := types.NewError(types.ErrInternalError, "legal bridge error").
		WithCause(err).
		WithRetryable(false)

	WriteError(w, internalErr, h.logger)
}
