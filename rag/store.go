package rag

import (
	"context"
	"path"
	"strings"
)

// DocumentInfo 已存储文档的摘要信息。
type DocumentInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ChunkCount int    `json:"chunk_count"`
}

// SearchResult 语义检索命中。
type SearchResult struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Chunk 文档的一个分块，Index 为文档内顺序。
type Chunk struct {
	Text     string         `json:"text"`
	Index    int            `json:"index"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Store 向量文档存储接口。
// 实现必须可并发调用；NotFound 语义通过零值表达
// （DeleteDocument 返回 false、GetDocumentChunks 返回空切片），不作为错误。
type Store interface {
	// Search 返回与查询语义最近的 topK 个分块
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)

	// ListDocuments 列出全部文档的摘要信息
	ListDocuments(ctx context.Context) ([]DocumentInfo, error)

	// GetDocumentChunks 返回指定文档的全部分块（按 Index 升序）
	GetDocumentChunks(ctx context.Context, name string) ([]Chunk, error)

	// AddDocument 分块并入库，返回分块数
	AddDocument(ctx context.Context, name, text string) (int, error)

	// DeleteDocument 删除文档的全部分块，返回是否存在
	DeleteDocument(ctx context.Context, name string) (bool, error)

	// Count 返回文档数
	Count(ctx context.Context) (int, error)
}

// DetectType 按文件扩展名推断文档类型。
func DetectType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "pdf"
	case ".doc", ".docx":
		return "word"
	case ".html", ".htm":
		return "html"
	case ".md":
		return "markdown"
	default:
		return "text"
	}
}
