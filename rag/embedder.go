package rag

import (
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
	"github.com/BaSui01/lexflow/types"
)

// Embedder 文本向量化接口。
type Embedder interface {
	// Embed 返回每段文本的向量，顺序与输入一致
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig OpenAI 兼容 embeddings 端点的配置。
type EmbedderConfig struct {
	BaseURL string
	APIKey  string
	// Model 嵌入模型，默认 text-embedding-3-small
	Model string
	// Timeout HTTP 超时，零值时 60s
	Timeout time.Duration
}

// HTTPEmbedder 调用 OpenAI 兼容 /v1/embeddings 端点。
type HTTPEmbedder struct {
	cfg    EmbedderConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPEmbedder 创建 embeddings 客户端。
func NewHTTPEmbedder(cfg EmbedderConfig, logger *zap.Logger) *HTTPEmbedder {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPEmbedder{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "embedder")),
	}
}

// Embed 实现 Embedder。
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]any{
		"model": e.cfg.Model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/v1/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrConnection, err.Error()).
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("embeddings status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).
			WithHTTPStatus(resp.StatusCode).WithRetryable(retryable)
	}

	var wire struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, types.NewError(types.ErrMalformedResponse, "decode embeddings response").WithCause(err)
	}
	if len(wire.Data) != len(texts) {
		return nil, types.NewError(types.ErrMalformedResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(wire.Data)))
	}

	// 上游按 index 标注顺序，不可假设响应顺序
	vectors := make([][]float32, len(texts))
	for _, d := range wire.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, types.NewError(types.ErrMalformedResponse,
				fmt.Sprintf("embedding index %d out of range", d.Index))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
