// =============================================================================
// 📦 LexFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LEXFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 LexFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Qdrant 向量存储配置
	Qdrant QdrantConfig `yaml:"qdrant" env:"QDRANT"`

	// LLM 生成后端配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Law 法律检索桥接配置
	Law LawConfig `yaml:"law" env:"LAW"`

	// Resilience 弹性中间件配置
	Resilience ResilienceConfig `yaml:"resilience" env:"RESILIENCE"`

	// Cache 缓存 TTL 配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// RAG 检索配置
	RAG RAGConfig `yaml:"rag" env:"RAG"`

	// Auth 鉴权配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// RateLimit 限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时。流式回答期间连接保持打开，须大于生成超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 允许的跨域来源；为空时拒绝跨域请求
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// QdrantConfig Qdrant 向量存储配置
type QdrantConfig struct {
	// REST 地址（如 http://localhost:6333）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 向量维度
	VectorSize int `yaml:"vector_size" env:"VECTOR_SIZE"`
}

// LLMConfig 生成后端配置
type LLMConfig struct {
	// Provider: openai, deepseek, groq, ollama
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选，覆盖 Provider 默认值）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 嵌入模型
	EmbeddingModel string `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	// 嵌入端点基础 URL（为空时用 BaseURL）
	EmbeddingBaseURL string `yaml:"embedding_base_url" env:"EMBEDDING_BASE_URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LawConfig 法律检索桥接配置
type LawConfig struct {
	// 桥接服务地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 常规调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 论点提取超时
	ExtractTimeout time.Duration `yaml:"extract_timeout" env:"EXTRACT_TIMEOUT"`
}

// ResilienceConfig 弹性中间件配置
type ResilienceConfig struct {
	// 熔断连续失败阈值
	FailMax int `yaml:"fail_max" env:"FAIL_MAX"`
	// 熔断冷却时间
	ResetTimeout time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
}

// CacheConfig 缓存 TTL 配置
type CacheConfig struct {
	// 分类结果 TTL
	ClassifyTTL time.Duration `yaml:"classify_ttl" env:"CLASSIFY_TTL"`
	// 检索/法律片段 TTL
	FragmentTTL time.Duration `yaml:"fragment_ttl" env:"FRAGMENT_TTL"`
	// 最终回答 TTL（短于片段 TTL）
	AnswerTTL time.Duration `yaml:"answer_ttl" env:"ANSWER_TTL"`
}

// RAGConfig 检索配置
type RAGConfig struct {
	// 默认检索条数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 分块大小（rune）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 分块重叠（rune）
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 存储后端: qdrant, memory
	Store string `yaml:"store" env:"STORE"`
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	// 是否启用 JWT 鉴权
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HS256 密钥
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// RS256 公钥 PEM 路径（与 JWTSecret 二选一）
	JWTPublicKeyPath string `yaml:"jwt_public_key_path" env:"JWT_PUBLIC_KEY_PATH"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 每秒请求数（按客户端 IP）
	RPS float64 `yaml:"rps" env:"RPS"`
	// 突发额度
	Burst int `yaml:"burst" env:"BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "LEXFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.LLM.Provider == "" {
		errs = append(errs, "llm provider is required")
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, "rag top_k must be positive")
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, "rag chunk_overlap must be smaller than chunk_size")
	}
	if c.Cache.AnswerTTL > c.Cache.FragmentTTL {
		errs = append(errs, "answer_ttl must not exceed fragment_ttl")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && c.Auth.JWTPublicKeyPath == "" {
		errs = append(errs, "auth enabled but no jwt_secret or jwt_public_key_path")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		errs = append(errs, "rate_limit rps must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
