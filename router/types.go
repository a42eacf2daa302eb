package router

import (
	"context"
	"time"

	"github.com/BaSui01/lexflow/law"
	"github.com/BaSui01/lexflow/llm"
	"github.com/BaSui01/lexflow/rag"
)

// Intent 查询意图。
type Intent string

const (
	// IntentGeneral 普通问答
	IntentGeneral Intent = "general"
	// IntentListDocuments 文档清单类问题（"мої документи"）
	IntentListDocuments Intent = "list_documents"
	// IntentDocumentQuery 针对已上传文档的问答，走逐文档扫描
	IntentDocumentQuery Intent = "document_query"
	// IntentFullText 判决全文直取，跳过生成
	IntentFullText Intent = "full_text"
	// IntentDeleteDocuments 删除文档
	IntentDeleteDocuments Intent = "delete_documents"
)

// Classification 查询分类结果。
type Classification struct {
	UseLaw              bool   `json:"use_law"`
	UseRAG              bool   `json:"use_rag"`
	QueryType           string `json:"query_type"`
	HasCaseNumber       bool   `json:"has_case_number"`
	CaseNumber          string `json:"case_number,omitempty"`
	IsDocumentTextQuery bool   `json:"is_document_text_query"`
	// DocumentNumber 查询点名的文档序号（与清单编号一致）；
	// nil 表示未指定，扫描覆盖全部文档
	DocumentNumber *int   `json:"document_number,omitempty"`
	Intent         Intent `json:"intent"`
}

// Options 单次查询的调用方覆盖项。
type Options struct {
	// Provider 生成后端名（仅记入缓存键与结果）
	Provider string
	// Model 模型名；空值用后端默认
	Model string
	// UseRetrieval 强制开/关检索源；nil 时由分类决定
	UseRetrieval *bool
	// UseLegal 强制开/关法律源；nil 时由分类决定
	UseLegal *bool
	// TopK 检索条数；零值用默认
	TopK int
}

// Metadata 回答的来源与失败信息。
type Metadata struct {
	UsedRetrieval bool     `json:"used_retrieval"`
	UsedLegal     bool     `json:"used_legal"`
	ContextParts  int      `json:"context_parts"`
	Intent        string   `json:"intent"`
	Cached        bool     `json:"cached"`
	Errors        []string `json:"errors,omitempty"`
}

// Result 一次查询的完整回答。
type Result struct {
	Answer   string        `json:"answer"`
	Sources  []string      `json:"sources"`
	Model    string        `json:"model,omitempty"`
	Usage    llm.ChatUsage `json:"usage"`
	Metadata Metadata      `json:"metadata"`
}

// Chunk 流式回答的一段。Err 非空表示流被终止。
type Chunk struct {
	Delta string `json:"delta,omitempty"`
	Err   error  `json:"-"`
}

// Generator 生成后端的消费侧接口，由 llm.Provider 满足。
type Generator interface {
	Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)
	Name() string
}

// Retrieval 检索侧的消费侧接口，由 *rag.Service 满足。
type Retrieval interface {
	Context(ctx context.Context, query string, topK int) (string, error)
	Summary(ctx context.Context) (string, []rag.DocumentInfo, error)
	ListDocuments(ctx context.Context) ([]rag.DocumentInfo, error)
	DocumentText(ctx context.Context, name string) (string, error)
	DeleteDocument(ctx context.Context, name string) (bool, error)
	HasDocuments(ctx context.Context) (bool, error)
}

// Legal 法律检索的消费侧接口，由 *law.Client 满足。
type Legal interface {
	SearchCases(ctx context.Context, query, instance string, limit int) ([]law.Case, error)
	GetCaseDetails(ctx context.Context, caseNumber, docID string) (*law.CaseDetails, error)
	GetCaseFullText(ctx context.Context, docID string) (string, error)
}

// Metrics 编排指标的消费侧接口，由 *metrics.Collector 满足。
type Metrics interface {
	RecordQuery(intent, queryType, status string, duration time.Duration)
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int, cost float64)
	RecordFragmentFailure(source string)
	RecordSweep(outcome string, documents int)
}
