// Package openaicompat 实现 OpenAI 兼容网关的 Provider。
// OpenAI、DeepSeek、Groq、Ollama 以及任何兼容网关共用本实现，
// 通过 BaseURL/APIKey/DefaultModel 参数化。
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/internal/tlsutil"
	"github.com/BaSui01/lexflow/llm"
	"github.com/BaSui01/lexflow/types"
)

// Config OpenAI 兼容 Provider 的配置。
type Config struct {
	// ProviderName 唯一标识（如 "openai"、"deepseek"）
	ProviderName string

	// APIKey 鉴权密钥，空时不发送 Authorization 头（本地网关）
	APIKey string

	// BaseURL 网关基础地址（如 "https://api.openai.com"）
	BaseURL string

	// DefaultModel 请求未指定时使用的模型
	DefaultModel string

	// Timeout HTTP 客户端超时，零值时 120s
	Timeout time.Duration

	// EndpointPath 补全端点路径，默认 "/v1/chat/completions"
	EndpointPath string

	// ModelsEndpoint 模型列表端点路径（探活用），默认 "/v1/models"
	ModelsEndpoint string
}

// Provider 实现 llm.Provider。
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 OpenAI 兼容 Provider。
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

// Name 返回 Provider 名称。
func (p *Provider) Name() string { return p.cfg.ProviderName }

// buildHeaders 设置请求头。
func (p *Provider) buildHeaders(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// endpoint 拼接完整 URL。
func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

// model 返回请求的有效模型名。
func (p *Provider) model(req *llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.DefaultModel
}

// --- 线上格式 ---

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      *struct {
		Content string `json:"content"`
	} `json:"message,omitempty"`
	Delta *struct {
		Content string `json:"content"`
	} `json:"delta,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Created int64        `json:"created"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) wireRequest {
	messages := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	return wireRequest{
		Model:       p.model(req),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
}

// HealthCheck 探测模型列表端点。
func (p *Provider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.cfg.ModelsEndpoint), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return connectionError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}
	return nil
}

// Completion 发起同步生成请求。
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	payload, err := json.Marshal(p.buildBody(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, connectionError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, types.NewError(types.ErrMalformedResponse, "decode completion response").
			WithCause(err).WithProvider(p.Name()).WithHTTPStatus(http.StatusBadGateway)
	}
	if len(wire.Choices) == 0 || wire.Choices[0].Message == nil {
		return nil, types.NewError(types.ErrMalformedResponse, "completion response has no choices").
			WithProvider(p.Name()).WithHTTPStatus(http.StatusBadGateway)
	}

	result := &llm.ChatResponse{
		ID:      wire.ID,
		Model:   wire.Model,
		Content: wire.Choices[0].Message.Content,
	}
	if wire.Model == "" {
		result.Model = p.model(req)
	}
	if wire.Created != 0 {
		result.Created = time.Unix(wire.Created, 0)
	}
	if wire.Usage != nil {
		result.Usage = llm.ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	} else {
		// 部分网关（Ollama 等）不回 usage，本地估算
		result.Usage = llm.EstimateUsage(result.Model, req.Messages, result.Content)
	}
	return result, nil
}

// Stream 发起流式生成请求，SSE 解析为增量通道。
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	payload, err := json.Marshal(p.buildBody(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, connectionError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}

	return streamSSE(ctx, resp.Body, p.Name()), nil
}

// streamSSE 解析 SSE 流（data: 行直到 [DONE]）。
func streamSSE(ctx context.Context, body io.ReadCloser, provider string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(ctx, ch, llm.StreamChunk{Err: connectionError(err, provider)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var wire wireResponse
			if err := json.Unmarshal([]byte(data), &wire); err != nil {
				emit(ctx, ch, llm.StreamChunk{Err: types.NewError(types.ErrMalformedResponse, "decode stream chunk").
					WithCause(err).WithProvider(provider).WithHTTPStatus(http.StatusBadGateway)})
				return
			}

			for _, choice := range wire.Choices {
				chunk := llm.StreamChunk{FinishReason: choice.FinishReason}
				if choice.Delta != nil {
					chunk.Delta = choice.Delta.Content
				}
				if wire.Usage != nil {
					chunk.Usage = &llm.ChatUsage{
						PromptTokens:     wire.Usage.PromptTokens,
						CompletionTokens: wire.Usage.CompletionTokens,
						TotalTokens:      wire.Usage.TotalTokens,
					}
				}
				if !emit(ctx, ch, chunk) {
					return
				}
			}
		}
	}()
	return ch
}

// emit 发送一个块，context 取消时返回 false。
func emit(ctx context.Context, ch chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- chunk:
		return true
	}
}

// --- 错误映射 ---

// connectionError 包装传输层失败，标记可重试。
func connectionError(err error, provider string) *types.Error {
	return types.NewError(types.ErrConnection, err.Error()).
		WithCause(err).WithProvider(provider).
		WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
}

// mapHTTPError 将上游 HTTP 状态映射到错误分类：
// 429/5xx 可重试，其余 4xx 不可重试。
func mapHTTPError(status int, message, provider string) *types.Error {
	var code types.ErrorCode
	retryable := false
	switch {
	case status == http.StatusTooManyRequests:
		code = types.ErrRateLimit
		retryable = true
	case status == http.StatusUnauthorized:
		code = types.ErrAuthentication
	case status == http.StatusForbidden:
		code = types.ErrForbidden
	case status == http.StatusNotFound:
		code = types.ErrNotFound
	case status == http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
		retryable = true
	case status >= 500:
		code = types.ErrUpstreamError
		retryable = true
	default:
		code = types.ErrInvalidRequest
	}
	return types.NewError(code, fmt.Sprintf("upstream status %d: %s", status, message)).
		WithProvider(provider).WithHTTPStatus(status).WithRetryable(retryable)
}

// readErrorMessage 提取错误响应体中的消息。
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var wire struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err == nil && wire.Error.Message != "" {
		return wire.Error.Message
	}
	return strings.TrimSpace(string(data))
}
