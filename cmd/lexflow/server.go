package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/api/handlers"
	"github.com/BaSui01/lexflow/config"
	"github.com/BaSui01/lexflow/internal/cache"
	"github.com/BaSui01/lexflow/internal/metrics"
	"github.com/BaSui01/lexflow/internal/server"
	"github.com/BaSui01/lexflow/internal/telemetry"
	"github.com/BaSui01/lexflow/law"
	"github.com/BaSui01/lexflow/llm"
	llmfactory "github.com/BaSui01/lexflow/llm/factory"
	"github.com/BaSui01/lexflow/rag"
	"github.com/BaSui01/lexflow/resilience"
	"github.com/BaSui01/lexflow/router"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 LexFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 基础设施
	metricsCollector *metrics.Collector
	cacheManager     *cache.Manager
	registry         *resilience.Registry
	otelProviders    *telemetry.Providers

	// 领域组件
	provider   llm.Provider
	ragService *rag.Service
	lawClient  *law.Client
	orch       *router.Router

	// Handlers
	healthHandler    *handlers.HealthHandler
	queryHandler     *handlers.QueryHandler
	documentsHandler *handlers.DocumentsHandler
	lawHandler       *handlers.LawHandler
	circuitsHandler  *handlers.CircuitsHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("lexflow", s.logger)

	// 2. 初始化基础设施与领域组件
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("llm_provider", s.cfg.LLM.Provider),
		zap.String("rag_store", s.cfg.RAG.Store),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initComponents 按依赖顺序构建基础设施与领域组件：
// Redis → 熔断器注册表 → 生成后端 → 向量存储 → 法律桥接 → 分类器 → 编排器。
// Redis 不可达时服务降级运行（无缓存、摄取任务不跨重启），不阻止启动。
func (s *Server) initComponents() error {
	// Redis 缓存
	manager, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
		DefaultTTL:   s.cfg.Cache.FragmentTTL,
	}, s.logger)
	if err != nil {
		s.logger.Warn("Redis not available, running without cache", zap.Error(err))
	} else {
		manager.SetRecorder(s.metricsCollector)
		s.cacheManager = manager
	}

	// 熔断器注册表：状态转换上报 Prometheus
	s.registry = resilience.NewRegistry(s.logger,
		resilience.WithStateChangeHook(func(resource string, from, to resilience.State) {
			s.metricsCollector.RecordCircuitTransition(resource, from.String(), to.String())
		}),
	)
	// 配置覆盖熔断阈值；首次创建生效，后续共享同一状态机
	if s.cfg.Resilience.FailMax > 0 {
		breakerCfg := resilience.DefaultBreakerConfig()
		breakerCfg.FailMax = s.cfg.Resilience.FailMax
		if s.cfg.Resilience.ResetTimeout > 0 {
			breakerCfg.ResetTimeout = s.cfg.Resilience.ResetTimeout
		}
		for _, resource := range []string{
			resilience.ResourceGeneration,
			resilience.ResourceRetrieval,
			resilience.ResourceLegalSearch,
		} {
			s.registry.Get(resource, breakerCfg)
		}
	}

	// 生成后端
	provider, err := llmfactory.NewProvider(llmfactory.ProviderConfig{
		Provider: s.cfg.LLM.Provider,
		APIKey:   s.cfg.LLM.APIKey,
		BaseURL:  s.cfg.LLM.BaseURL,
		Model:    s.cfg.LLM.Model,
		Timeout:  s.cfg.LLM.Timeout,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create llm provider: %w", err)
	}
	s.provider = provider

	// 向量化客户端：嵌入端点缺省复用生成后端网关
	embeddingBaseURL := s.cfg.LLM.EmbeddingBaseURL
	if embeddingBaseURL == "" {
		embeddingBaseURL, err = llmfactory.ResolveBaseURL(llmfactory.ProviderConfig{
			Provider: s.cfg.LLM.Provider,
			BaseURL:  s.cfg.LLM.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to resolve embedding base url: %w", err)
		}
	}
	embedder := rag.NewHTTPEmbedder(rag.EmbedderConfig{
		BaseURL: embeddingBaseURL,
		APIKey:  s.cfg.LLM.APIKey,
		Model:   s.cfg.LLM.EmbeddingModel,
		Timeout: s.cfg.LLM.Timeout,
	}, s.logger)

	// 向量存储
	chunker := rag.ChunkerConfig{
		Size:    s.cfg.RAG.ChunkSize,
		Overlap: s.cfg.RAG.ChunkOverlap,
	}
	var store rag.Store
	switch s.cfg.RAG.Store {
	case "memory":
		store = rag.NewMemoryStore(embedder, chunker, s.logger)
	default:
		store = rag.NewQdrantStore(rag.QdrantConfig{
			BaseURL:    s.cfg.Qdrant.BaseURL,
			APIKey:     s.cfg.Qdrant.APIKey,
			Collection: s.cfg.Qdrant.Collection,
			VectorSize: s.cfg.Qdrant.VectorSize,
			Chunker:    chunker,
		}, embedder, s.logger)
	}

	s.ragService = rag.NewService(store, s.cacheManager, rag.ServiceConfig{
		TopK:        s.cfg.RAG.TopK,
		FragmentTTL: s.cfg.Cache.FragmentTTL,
	}, s.logger)

	// 法律检索桥接
	s.lawClient = law.NewClient(law.Config{
		BaseURL:        s.cfg.Law.BaseURL,
		APIKey:         s.cfg.Law.APIKey,
		Timeout:        s.cfg.Law.Timeout,
		ExtractTimeout: s.cfg.Law.ExtractTimeout,
	}, s.logger)

	// 分类器与编排器
	classifier := router.NewClassifier(s.provider, s.registry, s.cacheManager, router.ClassifierConfig{
		Model: s.cfg.LLM.Model,
		TTL:   s.cfg.Cache.ClassifyTTL,
	}, s.logger)

	s.orch = router.New(s.provider, s.ragService, s.lawClient, classifier,
		s.registry, s.cacheManager, router.Config{
			Provider:    s.cfg.LLM.Provider,
			Model:       s.cfg.LLM.Model,
			TopK:        s.cfg.RAG.TopK,
			AnswerTTL:   s.cfg.Cache.AnswerTTL,
			FragmentTTL: s.cfg.Cache.FragmentTTL,
		}, s.logger)
	s.orch.SetMetrics(s.metricsCollector)

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewComponentHealthCheck("redis", s.cacheManager.Ping))
	}
	s.healthHandler.RegisterCheck(handlers.NewComponentHealthCheck("generation", s.provider.HealthCheck))

	s.queryHandler = handlers.NewQueryHandler(s.orch, s.logger)
	s.documentsHandler = handlers.NewDocumentsHandler(s.ragService, s.cacheManager, s.logger)
	s.lawHandler = handlers.NewLawHandler(s.lawClient, s.logger)
	s.circuitsHandler = handlers.NewCircuitsHandler(s.registry, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查与版本端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("POST /api/v1/query", s.queryHandler.HandleQuery)
	mux.HandleFunc("POST /api/v1/query/stream", s.queryHandler.HandleStream)

	mux.HandleFunc("GET /api/v1/documents", s.documentsHandler.HandleList)
	mux.HandleFunc("POST /api/v1/documents", s.documentsHandler.HandleAdd)
	mux.HandleFunc("GET /api/v1/documents/search", s.documentsHandler.HandleSearch)
	mux.HandleFunc("GET /api/v1/documents/tasks/{id}", s.documentsHandler.HandleTaskStatus)
	mux.HandleFunc("DELETE /api/v1/documents/{name}", s.documentsHandler.HandleDelete)

	mux.HandleFunc("POST /api/v1/law/search", s.lawHandler.HandleSearch)
	mux.HandleFunc("POST /api/v1/law/arguments", s.lawHandler.HandleArguments)
	mux.HandleFunc("GET /api/v1/law/cases/{caseNumber}", s.lawHandler.HandleCase)

	mux.HandleFunc("GET /api/v1/circuits", s.circuitsHandler.HandleList)
	mux.HandleFunc("POST /api/v1/circuits/{name}/reset", s.circuitsHandler.HandleReset)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/version", "/metrics"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares, CORS(s.cfg.Server.CORSAllowedOrigins))
	if s.cfg.RateLimit.Enabled {
		rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = rateLimiterCancel
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Redis 连接
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭遥测（刷出未导出的 span/metric）
	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	// 5. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
