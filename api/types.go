package api

import (
	"time"

	"github.com/BaSui01/lexflow/rag"
)

// =============================================================================
// 查询类型
// =============================================================================

// QueryRequest 表示一次编排查询请求。
// @Description 查询请求结构
type QueryRequest struct {
	// 用户查询文本（乌克兰语）
	Query string `json:"query" example:"Яка відповідальність за прострочення оренди?" binding:"required"`
	// 生成后端名；空值用服务默认
	Provider string `json:"provider,omitempty" example:"openai"`
	// 模型名；空值用后端默认
	Model string `json:"model,omitempty" example:"gpt-4o-mini"`
	// 强制开/关文档检索源；缺省由分类器决定
	UseRetrieval *bool `json:"use_retrieval,omitempty"`
	// 强制开/关法律检索源；缺省由分类器决定
	UseLegal *bool `json:"use_legal,omitempty"`
	// 检索条数；零值用默认
	TopK int `json:"top_k,omitempty" example:"5"`
}

// StreamDelta 表示流式回答的一个 SSE 数据帧。
// @Description 流式增量结构
type StreamDelta struct {
	// 增量文本
	Delta string `json:"delta,omitempty"`
}

// =============================================================================
// 文档类型
// =============================================================================

// DocumentInfo is a type alias for rag.DocumentInfo to avoid duplicate
// definitions. The canonical definition lives in rag/store.go.
type DocumentInfo = rag.DocumentInfo

// SearchResult is a type alias for rag.SearchResult (rag/store.go).
type SearchResult = rag.SearchResult

// DocumentAddRequest 表示文档上传请求。
// @Description 文档上传请求结构
type DocumentAddRequest struct {
	// 文档名（唯一标识）
	Name string `json:"name" example:"contract.pdf" binding:"required"`
	// 文档全文
	Text string `json:"text" binding:"required"`
}

// 摄取任务状态
const (
	TaskQueued  = "queued"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// IngestTask 表示一次异步文档摄取任务。
// @Description 摄取任务结构
type IngestTask struct {
	// 任务 ID（uuid）
	ID string `json:"id" example:"4f9c6a1e-..."`
	// 文档名
	Name string `json:"name" example:"contract.pdf"`
	// 任务状态（queued、running、done、failed）
	State string `json:"state" example:"done"`
	// 写入的分块数（完成后有效）
	Chunks int `json:"chunks,omitempty" example:"12"`
	// 失败原因（失败后有效）
	Error string `json:"error,omitempty"`
	// 创建时间戳
	CreatedAt time.Time `json:"created_at"`
	// 最后更新时间戳
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentListResponse 表示文档列表。
// @Description 文档列表响应
type DocumentListResponse struct {
	// 文档清单
	Documents []DocumentInfo `json:"documents"`
	// 文档总数
	Count int `json:"count"`
}

// DocumentSearchResponse 表示原始检索命中列表。
// @Description 检索命中响应
type DocumentSearchResponse struct {
	// 检索命中
	Results []SearchResult `json:"results"`
}

// DocumentDeleteResponse 表示删除结果。
// @Description 文档删除响应
type DocumentDeleteResponse struct {
	// 文档名
	Name string `json:"name" example:"contract.pdf"`
	// 是否实际删除（不存在时为 false）
	Deleted bool `json:"deleted" example:"true"`
}

// =============================================================================
// 法律检索类型
// =============================================================================

// LawSearchRequest 表示判例检索请求。
// @Description 判例检索请求结构
type LawSearchRequest struct {
	// 检索查询
	Query string `json:"query" example:"прострочення орендної плати" binding:"required"`
	// 审级（1 一审、2 上诉、3 最高法院）
	Instance string `json:"instance,omitempty" example:"3"`
	// 返回条数上限
	Limit int `json:"limit,omitempty" example:"25"`
}

// LawArgumentsRequest 表示判例论点提取请求。
// @Description 判例论点提取请求结构
type LawArgumentsRequest struct {
	// 检索查询
	Query string `json:"query" example:"позовна давність за договором поставки" binding:"required"`
	// 审级（1 一审、2 上诉、3 最高法院）
	Instance string `json:"instance,omitempty" example:"3"`
	// 分析判例数上限
	Limit int `json:"limit,omitempty" example:"50"`
	// 限定判决年份
	Year int `json:"year,omitempty" example:"2023"`
}

// =============================================================================
// 熔断器类型
// =============================================================================

// CircuitResetResponse 表示熔断器复位结果。
// @Description 熔断器复位响应
type CircuitResetResponse struct {
	// 资源名，"all" 表示全部
	Resource string `json:"resource" example:"generation"`
	// 是否存在并被复位
	Reset bool `json:"reset" example:"true"`
}
