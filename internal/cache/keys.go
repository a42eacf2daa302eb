package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// 🔑 键命名空间与指纹
// =============================================================================

// 键前缀。rag: 前缀下的所有键会在文档增删时整体失效。
const (
	PrefixClassify         = "classify:"
	PrefixRetrieval        = "rag:"
	PrefixRetrievalSearch  = "rag:search:"
	PrefixRetrievalContext = "rag:context:"
	PrefixLegalContext     = "law:context:"
	PrefixAnswer           = "answer:"
	PrefixIngestTask       = "ingest:task:"
)

// Fingerprint 对逻辑输入做确定性哈希，保证键长度有界。
// 输入按 JSON 序列化后取 SHA-256 的前 16 字节十六进制。
func Fingerprint(parts ...any) string {
	data, err := json.Marshal(parts)
	if err != nil {
		// 理论上不可达：所有调用方只传可序列化的标量
		data = []byte(fmt.Sprintf("%v", parts))
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// ClassifyKey 查询分类结果的缓存键。
func ClassifyKey(query string) string {
	return PrefixClassify + Fingerprint(query)
}

// SearchKey 检索命中列表的缓存键。
func SearchKey(query string, topK int) string {
	return PrefixRetrievalSearch + Fingerprint(query, topK)
}

// ContextKey 拼接后检索上下文片段的缓存键。
func ContextKey(query string, topK int) string {
	return PrefixRetrievalContext + Fingerprint(query, topK)
}

// LegalContextKey 法律上下文片段的缓存键。
func LegalContextKey(query string) string {
	return PrefixLegalContext + Fingerprint(query)
}

// AnswerKey 最终回答的缓存键：同一查询在不同后端/模型/来源组合
// 下命中不同条目，上下文指纹变化时也会失效。
func AnswerKey(query, provider, model string, useRetrieval, useLegal bool, contextFingerprint string) string {
	return PrefixAnswer + Fingerprint(query, provider, model, useRetrieval, useLegal, contextFingerprint)
}

// IngestTaskKey 文档摄取任务状态键。
func IngestTaskKey(taskID string) string {
	return PrefixIngestTask + taskID
}

// TypeOf 从键前缀推导命中率指标的 cache_type 标签。
func TypeOf(key string) string {
	switch {
	case strings.HasPrefix(key, PrefixClassify):
		return "classify"
	case strings.HasPrefix(key, PrefixRetrievalSearch):
		return "rag_search"
	case strings.HasPrefix(key, PrefixRetrievalContext):
		return "rag_context"
	case strings.HasPrefix(key, PrefixLegalContext):
		return "law_context"
	case strings.HasPrefix(key, PrefixAnswer):
		return "answer"
	case strings.HasPrefix(key, PrefixIngestTask):
		return "ingest_task"
	default:
		return "other"
	}
}
