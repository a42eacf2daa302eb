package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter 按编码名惰性初始化 tiktoken（首次使用可能下载数据），
// 进程内共享。
var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

// encodingForModel 将模型名映射到 tiktoken 编码。
// 未知模型退回 cl100k_base。
func encodingForModel(model string) string {
	switch {
	case len(model) >= 6 && model[:6] == "gpt-4o":
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}

func getEncoding(name string) (*tiktoken.Tiktoken, error) {
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	encCache[name] = enc
	return enc, nil
}

// CountTokens 估算文本的 token 数。编码初始化失败时退回
// 字符数/4 的粗略估算，调用方不需要处理错误。
func CountTokens(model, text string) int {
	enc, err := getEncoding(encodingForModel(model))
	if err != nil {
		return len([]rune(text)) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateUsage 在上游响应缺失 usage 字段时估算 token 用量。
func EstimateUsage(model string, messages []Message, completion string) ChatUsage {
	prompt := 0
	for _, m := range messages {
		prompt += CountTokens(model, m.Content)
	}
	out := CountTokens(model, completion)
	return ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}
