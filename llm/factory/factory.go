// Package factory 按配置构造生成后端 Provider。
// 所有已知后端都是 OpenAI 兼容网关，共用 openaicompat 一个实现，
// 工厂只负责解析网关地址和默认模型。
package factory

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/llm"
	"github.com/BaSui01/lexflow/llm/providers/openaicompat"
)

// ProviderConfig 创建 Provider 所需的配置。
type ProviderConfig struct {
	// Provider 名称：openai / deepseek / groq / ollama / custom
	Provider string
	// APIKey 鉴权密钥（ollama 可为空）
	APIKey string
	// BaseURL 覆盖默认网关地址（custom 时必填）
	BaseURL string
	// Model 默认模型
	Model string
	// Timeout HTTP 客户端超时
	Timeout time.Duration
}

// defaultBaseURLs 已知 OpenAI 兼容网关的默认地址。
var defaultBaseURLs = map[string]string{
	"openai":   "https://api.openai.com",
	"deepseek": "https://api.deepseek.com",
	"groq":     "https://api.groq.com/openai",
	"ollama":   "http://localhost:11434",
}

// ResolveBaseURL 返回配置对应的网关地址。
// cfg.BaseURL 非空时优先；未知名称且无 BaseURL 时报错。
func ResolveBaseURL(cfg ProviderConfig) (string, error) {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/"), nil
	}
	if url, ok := defaultBaseURLs[strings.ToLower(cfg.Provider)]; ok {
		return url, nil
	}
	return "", fmt.Errorf("unknown provider %q and no base_url configured", cfg.Provider)
}

// NewProvider 构造配置对应的生成后端。
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	baseURL, err := ResolveBaseURL(cfg)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = "openai"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: name,
		APIKey:       cfg.APIKey,
		BaseURL:      baseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
	}, logger), nil
}
