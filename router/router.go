package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/internal/cache"
	"github.com/BaSui01/lexflow/llm"
	"github.com/BaSui01/lexflow/resilience"
	"github.com/BaSui01/lexflow/types"
)

const answerPrompt = `Ти — юридичний асистент, який допомагає користувачам з юридичними питаннями.
Використовуй наданий контекст для формування точної та корисної відповіді.
Якщо контекст не містить потрібної інформації, чесно про це скажи.`

// Config 编排器配置。
type Config struct {
	// Provider 默认生成后端名（记入缓存键）
	Provider string
	// Model 默认模型
	Model string
	// TopK 默认检索条数
	TopK int
	// AnswerTTL 回答缓存时间，零值时 30m。刻意短于片段缓存：
	// 上下文比底层文档更容易过期
	AnswerTTL time.Duration
	// FragmentTTL 法律上下文片段的缓存时间，零值时 1h，
	// 与检索片段同档
	FragmentTTL time.Duration
}

// Router 查询编排器。依赖全部经构造器注入，自身无全局状态。
type Router struct {
	generator  Generator
	retrieval  Retrieval
	legal      Legal
	classifier *Classifier
	cache      *cache.Manager
	cfg        Config

	genMW   *resilience.Middleware
	ragMW   *resilience.Middleware
	lawMW   *resilience.Middleware
	metrics Metrics
	logger  *zap.Logger
}

// New 创建编排器。cacheManager 可为 nil（不缓存回答）。
func New(
	generator Generator,
	retrieval Retrieval,
	legal Legal,
	classifier *Classifier,
	reg *resilience.Registry,
	cacheManager *cache.Manager,
	cfg Config,
	logger *zap.Logger,
) *Router {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.AnswerTTL <= 0 {
		cfg.AnswerTTL = 30 * time.Minute
	}
	if cfg.FragmentTTL <= 0 {
		cfg.FragmentTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		generator:  generator,
		retrieval:  retrieval,
		legal:      legal,
		classifier: classifier,
		cache:      cacheManager,
		cfg:        cfg,
		genMW:      resilience.New(reg, resilience.ResourceGeneration),
		ragMW:      resilience.New(reg, resilience.ResourceRetrieval),
		lawMW:      resilience.New(reg, resilience.ResourceLegalSearch),
		logger:     logger.With(zap.String("component", "router")),
	}
}

// SetMetrics 注入编排指标收集器。接线期调用一次；nil 时不记录。
func (r *Router) SetMetrics(m Metrics) {
	r.metrics = m
}

// observeQuery 上报一次编排查询的意图、状态与端到端耗时。
func (r *Router) observeQuery(cls Classification, status string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordQuery(string(cls.Intent), cls.QueryType, status, time.Since(start))
}

// observeGeneration 上报一次生成调用。成本上游不报价，恒记 0。
func (r *Router) observeGeneration(model string, start time.Time, resp *llm.ChatResponse, err error) {
	if r.metrics == nil {
		return
	}
	status := "success"
	promptTokens, completionTokens := 0, 0
	if err != nil {
		status = "error"
	} else {
		if resp.Model != "" {
			model = resp.Model
		}
		promptTokens = resp.Usage.PromptTokens
		completionTokens = resp.Usage.CompletionTokens
	}
	r.metrics.RecordLLMRequest(r.generator.Name(), model, status, time.Since(start), promptTokens, completionTokens, 0)
}

// resolve 分类 + 应用调用方覆盖项。
func (r *Router) resolve(ctx context.Context, query string, opts Options) (Classification, Options) {
	cls := r.classifier.Classify(ctx, query)
	if opts.UseRetrieval != nil {
		cls.UseRAG = *opts.UseRetrieval
	}
	if opts.UseLegal != nil {
		cls.UseLaw = *opts.UseLegal
	}
	if opts.Provider == "" {
		opts.Provider = r.cfg.Provider
	}
	if opts.Model == "" {
		opts.Model = r.cfg.Model
	}
	if opts.TopK <= 0 {
		opts.TopK = r.cfg.TopK
	}
	return cls, opts
}

// Answer 处理一次查询并返回完整回答。
// 除入参非法外不返回 error：生成失败以显式错误文案呈现在 Answer
// 中并记入 Metadata.Errors。
func (r *Router) Answer(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()
	cls, opts := r.resolve(ctx, query, opts)
	status := "success"
	defer func() { r.observeQuery(cls, status, start) }()

	// 意图短路：跳过聚合（删除、全文）或改走逐文档扫描
	switch cls.Intent {
	case IntentDeleteDocuments:
		return r.answerDelete(ctx, query)
	case IntentFullText:
		return r.answerFullText(ctx, cls)
	case IntentDocumentQuery:
		return r.answerSweep(ctx, query, cls, opts)
	}

	agg := r.aggregate(ctx, query, cls, opts.TopK)

	answerKey := cache.AnswerKey(query, opts.Provider, opts.Model, cls.UseRAG, cls.UseLaw, agg.fingerprint())
	if r.cache != nil {
		var cached Result
		if err := r.cache.GetJSON(ctx, answerKey, &cached); err == nil {
			cached.Metadata.Cached = true
			status = "cached"
			return &cached, nil
		} else if !cache.IsCacheMiss(err) {
			r.logger.Warn("answer cache read failed", zap.Error(err))
		}
	}

	genStart := time.Now()
	resp, err := resilience.Call(r.genMW, ctx, func(ctx context.Context) (*llm.ChatResponse, error) {
		return r.generator.Completion(ctx, r.buildRequest(query, agg, opts))
	})
	r.observeGeneration(opts.Model, genStart, resp, err)

	meta := Metadata{
		UsedRetrieval: cls.UseRAG,
		UsedLegal:     cls.UseLaw,
		ContextParts:  agg.Parts,
		Intent:        string(cls.Intent),
		Errors:        agg.Errors,
	}

	if err != nil {
		// 生成失败是唯一对用户可见的失败：显式文案，绝不无声空回答
		status = "error"
		r.logger.Error("generation failed", zap.Error(err))
		meta.Errors = append(meta.Errors, fmt.Sprintf("generation: %v", err))
		return &Result{
			Answer:   fmt.Sprintf("Помилка при обробці запиту: %v", err),
			Sources:  agg.Sources,
			Metadata: meta,
		}, nil
	}

	result := &Result{
		Answer:   resp.Content,
		Sources:  agg.Sources,
		Model:    resp.Model,
		Usage:    resp.Usage,
		Metadata: meta,
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, answerKey, result, r.cfg.AnswerTTL); err != nil {
			r.logger.Warn("answer cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// Stream 流式处理一次查询。短路意图（删除、全文、扫描）的结果
// 以单块发出；主路径透传生成流，熔断器按整条流的结果推进。
func (r *Router) Stream(ctx context.Context, query string, opts Options) (<-chan Chunk, error) {
	start := time.Now()
	cls, opts := r.resolve(ctx, query, opts)

	switch cls.Intent {
	case IntentDeleteDocuments, IntentFullText, IntentDocumentQuery:
		result, err := r.Answer(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		out := make(chan Chunk, 1)
		out <- Chunk{Delta: result.Answer}
		close(out)
		return out, nil
	}

	agg := r.aggregate(ctx, query, cls, opts.TopK)

	adapter := resilience.StreamAdapter[llm.StreamChunk]{
		ChunkErr: func(chunk llm.StreamChunk) error {
			if chunk.Err != nil {
				return chunk.Err
			}
			return nil
		},
		ErrChunk: func(err error) llm.StreamChunk {
			return llm.StreamChunk{Err: asTypesError(err)}
		},
	}

	src, err := resilience.Stream(r.genMW, ctx, adapter, func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return r.generator.Stream(ctx, r.buildRequest(query, agg, opts))
	})
	if err != nil {
		r.observeQuery(cls, "error", start)
		return nil, err
	}
	// 流一旦建立即计一次；流中错误由熔断器按整条流的结果推进
	r.observeQuery(cls, "success", start)

	out := make(chan Chunk, 1)
	go func() {
		defer close(out)
		for chunk := range src {
			if chunk.Err != nil {
				out <- Chunk{Err: chunk.Err}
				return
			}
			if chunk.Delta != "" {
				out <- Chunk{Delta: chunk.Delta}
			}
		}
	}()
	return out, nil
}

// buildRequest 组装生成请求：system 提示 + 查询 + 聚合上下文。
func (r *Router) buildRequest(query string, agg aggregation, opts Options) *llm.ChatRequest {
	userPrompt := query
	if agg.Context != "" {
		userPrompt += "\n\n" + agg.Context
	}
	return &llm.ChatRequest{
		Model: opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: answerPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		Temperature: 0.7,
	}
}

// asTypesError 将任意错误折叠为 *types.Error，供流块携带。
func asTypesError(err error) *types.Error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	return types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
}
