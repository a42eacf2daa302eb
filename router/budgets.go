package router

// 所有提示词字符预算集中在此，按 rune 计。
// 分散在各分支的裸常量会让总提示长度不可审计。
const (
	// RetrievalContextBudget 检索上下文总预算
	RetrievalContextBudget = 5000
	// LegalFullTextBudget 判决全文预算
	LegalFullTextBudget = 95000
	// SweepDocumentBudget 逐文档扫描时单个文档的预算
	SweepDocumentBudget = 8000
	// DocumentPreviewBudget 清单意图下单个文档的预览预算
	DocumentPreviewBudget = 500
	// CasePreviewBudget 案件检索结果单条摘要的预览预算
	CasePreviewBudget = 200

	// TruncationMarker 截断标记，追加在被裁剪文本之后
	TruncationMarker = "\n[...текст обрізано...]"
)

// Truncate 将文本裁剪到 budget 个 rune 并追加截断标记。
// 未超限的文本原样返回，不加标记。
func Truncate(text string, budget int) string {
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget]) + TruncationMarker
}
