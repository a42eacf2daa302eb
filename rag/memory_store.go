package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore 内存向量存储。
// 测试与免存储部署使用；RWMutex 保护，余弦相似度打分。
type MemoryStore struct {
	embedder Embedder
	chunker  ChunkerConfig
	logger   *zap.Logger

	mu        sync.RWMutex
	order     []string // 入库顺序，ListDocuments 按此返回
	documents map[string][]memoryChunk
}

type memoryChunk struct {
	text   string
	vector []float32
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore(embedder Embedder, chunker ChunkerConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		embedder:  embedder,
		chunker:   chunker.normalize(),
		logger:    logger.With(zap.String("component", "memory_store")),
		documents: make(map[string][]memoryChunk),
	}
}

// AddDocument 分块、向量化并入库。同名文档被替换。
func (s *MemoryStore) AddDocument(ctx context.Context, name, text string) (int, error) {
	texts := SplitText(text, s.chunker)
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	chunks := make([]memoryChunk, len(texts))
	for i, t := range texts {
		chunks[i] = memoryChunk{text: t, vector: vectors[i]}
	}

	s.mu.Lock()
	if _, exists := s.documents[name]; !exists {
		s.order = append(s.order, name)
	}
	s.documents[name] = chunks
	s.mu.Unlock()

	s.logger.Info("document added", zap.String("name", name), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Search 对全部分块做余弦相似度排序，返回 topK。
func (s *MemoryStore) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	queryVec := vectors[0]

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0)
	for _, name := range s.order {
		for i, chunk := range s.documents[name] {
			results = append(results, SearchResult{
				Text:     chunk.text,
				Score:    cosineSimilarity(queryVec, chunk.vector),
				Metadata: map[string]any{"name": name, "chunk_index": i},
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// ListDocuments 按入库顺序列出文档。
func (s *MemoryStore) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]DocumentInfo, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, DocumentInfo{
			Name:       name,
			Type:       DetectType(name),
			ChunkCount: len(s.documents[name]),
		})
	}
	return infos, nil
}

// GetDocumentChunks 返回文档全部分块；不存在时返回空切片。
func (s *MemoryStore) GetDocumentChunks(ctx context.Context, name string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.documents[name]
	if !ok {
		return []Chunk{}, nil
	}
	chunks := make([]Chunk, len(stored))
	for i, c := range stored {
		chunks[i] = Chunk{Text: c.text, Index: i, Metadata: map[string]any{"name": name}}
	}
	return chunks, nil
}

// DeleteDocument 删除文档，返回是否存在。
func (s *MemoryStore) DeleteDocument(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[name]; !ok {
		return false, nil
	}
	delete(s.documents, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("document deleted", zap.String("name", name))
	return true, nil
}

// Count 返回文档数。
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// cosineSimilarity 余弦相似度；零向量或维度不匹配时返回 0。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
