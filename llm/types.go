package llm

import (
	"time"

	"github.com/BaSui01/lexflow/types"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 生成请求
type ChatRequest struct {
	Model       string    `json:"model,omitempty"` // 为空时使用 Provider 默认模型
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	TopP        float32   `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// ChatUsage token 用量统计
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse 完整生成响应
type ChatResponse struct {
	ID      string    `json:"id,omitempty"`
	Model   string    `json:"model"`
	Content string    `json:"content"`
	Usage   ChatUsage `json:"usage"`
	Created time.Time `json:"created,omitempty"`
}

// StreamChunk 流式增量。Err 非空表示流被错误终止，
// 之后不会再有内容块。
type StreamChunk struct {
	Delta        string       `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *ChatUsage   `json:"usage,omitempty"` // 仅最终块携带
	Err          *types.Error `json:"error,omitempty"`
}
