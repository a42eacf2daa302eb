package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/internal/cache"
)

// ServiceConfig 检索服务配置。
type ServiceConfig struct {
	// TopK 默认检索条数
	TopK int
	// FragmentTTL 检索片段缓存时间，零值时 1h
	FragmentTTL time.Duration
}

// Service 检索服务：在 Store 之上提供上下文拼接与缓存。
// 搜索与上下文片段以 rag: 前缀缓存；文档增删时整个前缀失效。
// 缓存不可用时退化为每次计算，只记日志不报错。
type Service struct {
	store  Store
	cache  *cache.Manager
	cfg    ServiceConfig
	logger *zap.Logger
}

// NewService 创建检索服务。cacheManager 可为 nil（不缓存）。
func NewService(store Store, cacheManager *cache.Manager, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.FragmentTTL <= 0 {
		cfg.FragmentTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		cache:  cacheManager,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "rag_service")),
	}
}

// Store 返回底层存储。
func (s *Service) Store() Store { return s.store }

// Search 语义检索，结果缓存。
func (s *Service) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	key := cache.SearchKey(query, topK)
	if s.cache != nil {
		var cached []SearchResult
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !cache.IsCacheMiss(err) {
			s.logger.Warn("search cache read failed", zap.Error(err))
		}
	}

	results, err := s.store.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, results, s.cfg.FragmentTTL); err != nil {
			s.logger.Warn("search cache write failed", zap.Error(err))
		}
	}
	return results, nil
}

// Context 检索并拼接上下文：每个命中一个「[Документ N]」块。
// 返回未截断的全文，预算裁剪由调用方统一处理。
func (s *Service) Context(ctx context.Context, query string, topK int) (string, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	key := cache.ContextKey(query, topK)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			return cached, nil
		} else if !cache.IsCacheMiss(err) {
			s.logger.Warn("context cache read failed", zap.Error(err))
		}
	}

	results, err := s.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	text := FormatContext(results)

	if s.cache != nil && text != "" {
		if err := s.cache.Set(ctx, key, text, s.cfg.FragmentTTL); err != nil {
			s.logger.Warn("context cache write failed", zap.Error(err))
		}
	}
	return text, nil
}

// FormatContext 将检索命中拼为生成提示用的上下文块。
func FormatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		name := ""
		if r.Metadata != nil {
			name, _ = r.Metadata["name"].(string)
		}
		if name != "" {
			fmt.Fprintf(&b, "[Документ %d: %s]\n%s", i+1, name, r.Text)
		} else {
			fmt.Fprintf(&b, "[Документ %d]\n%s", i+1, r.Text)
		}
	}
	return b.String()
}

// Summary 列出已存储文档的摘要行，用于「我的文档」类回答。
func (s *Service) Summary(ctx context.Context) (string, []DocumentInfo, error) {
	infos, err := s.store.ListDocuments(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(infos) == 0 {
		return "", infos, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Завантажено документів: %d\n", len(infos))
	for i, info := range infos {
		fmt.Fprintf(&b, "%d. %s (%s, фрагментів: %d)\n", i+1, info.Name, info.Type, info.ChunkCount)
	}
	return b.String(), infos, nil
}

// HasDocuments 判断是否有任何已存储文档。
func (s *Service) HasDocuments(ctx context.Context) (bool, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDocuments 列出全部文档。
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	return s.store.ListDocuments(ctx)
}

// DocumentText 按分块顺序重组文档全文。不存在时返回空串。
func (s *Service) DocumentText(ctx context.Context, name string) (string, error) {
	chunks, err := s.store.GetDocumentChunks(ctx, name)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String(), nil
}

// AddDocument 入库并使全部检索缓存失效。
func (s *Service) AddDocument(ctx context.Context, name, text string) (int, error) {
	n, err := s.store.AddDocument(ctx, name, text)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return n, nil
}

// DeleteDocument 删除文档并使全部检索缓存失效。
func (s *Service) DeleteDocument(ctx context.Context, name string) (bool, error) {
	deleted, err := s.store.DeleteDocument(ctx, name)
	if err != nil {
		return false, err
	}
	if deleted {
		s.invalidate(ctx)
	}
	return deleted, nil
}

// invalidate 文档集合变化后清空 rag: 前缀下的全部缓存键。
func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.DeleteByPrefix(ctx, cache.PrefixRetrieval); err != nil {
		s.logger.Warn("retrieval cache invalidation failed", zap.Error(err))
	}
}
