// =============================================================================
// 📦 LexFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Redis:      DefaultRedisConfig(),
		Qdrant:     DefaultQdrantConfig(),
		LLM:        DefaultLLMConfig(),
		Law:        DefaultLawConfig(),
		Resilience: DefaultResilienceConfig(),
		Cache:      DefaultCacheConfig(),
		RAG:        DefaultRAGConfig(),
		Auth:       DefaultAuthConfig(),
		RateLimit:  DefaultRateLimitConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		MetricsPort:     9090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second, // 流式回答期间连接保持打开
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		BaseURL:    "http://localhost:6333",
		Collection: "legal_documents",
		VectorSize: 1536,
	}
}

// DefaultLLMConfig 返回默认生成后端配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        120 * time.Second,
	}
}

// DefaultLawConfig 返回默认法律桥接配置
func DefaultLawConfig() LawConfig {
	return LawConfig{
		BaseURL:        "http://localhost:3000",
		Timeout:        30 * time.Second,
		ExtractTimeout: 90 * time.Second,
	}
}

// DefaultResilienceConfig 返回默认弹性配置
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		FailMax:      5,
		ResetTimeout: 60 * time.Second,
	}
}

// DefaultCacheConfig 返回默认缓存 TTL 配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ClassifyTTL: 1 * time.Hour,
		FragmentTTL: 1 * time.Hour,
		AnswerTTL:   30 * time.Minute,
	}
}

// DefaultRAGConfig 返回默认检索配置
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		TopK:         5,
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Store:        "qdrant",
	}
}

// DefaultAuthConfig 返回默认鉴权配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled: false,
	}
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: true,
		RPS:     10,
		Burst:   20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "lexflow",
		SampleRate:   1.0,
	}
}
