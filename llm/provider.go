package llm

import "context"

// Provider 定义统一的生成后端接口。
// 实现负责把传输层失败映射为 *types.Error 并正确标记 Retryable；
// 弹性包装（超时/熔断/重试）由调用方（router 包）施加，本接口
// 的实现保持无状态、可并发调用。
type Provider interface {
	// Completion 发起同步生成请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream 发起流式生成请求，返回增量通道；
	// 通道在流结束或出错后关闭，错误通过 StreamChunk.Err 传递
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// HealthCheck 轻量探活
	HealthCheck(ctx context.Context) error

	// Name 返回 Provider 的唯一标识
	Name() string
}
