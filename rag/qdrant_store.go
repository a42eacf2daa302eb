package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/internal/tlsutil"
	"github.com/BaSui01/lexflow/types"
)

// QdrantConfig Qdrant REST 存储配置。
type QdrantConfig struct {
	// BaseURL Qdrant 地址（如 "http://localhost:6333"）
	BaseURL string
	// APIKey 可选的 api-key 头
	APIKey string
	// Collection 集合名
	Collection string
	// VectorSize 向量维度；首次写入时用于建集合
	VectorSize int
	// Timeout HTTP 超时，零值时 30s
	Timeout time.Duration
	// Chunker 分块配置
	Chunker ChunkerConfig
}

// QdrantStore 基于 Qdrant REST API 的 Store 实现。
// 每个分块一个 point，payload 携带 name/type/chunk_index/text。
type QdrantStore struct {
	cfg      QdrantConfig
	embedder Embedder
	client   *http.Client
	logger   *zap.Logger

	ensureMu sync.Mutex
	ensured  bool
}

// NewQdrantStore 创建 Qdrant 存储。
func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) *QdrantStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	if cfg.Collection == "" {
		cfg.Collection = "legal_documents"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Chunker = cfg.Chunker.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		cfg:      cfg,
		embedder: embedder,
		client:   tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:   logger.With(zap.String("component", "qdrant"), zap.String("collection", cfg.Collection)),
	}
}

// --- REST 辅助 ---

func (s *QdrantStore) url(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/collections/" + s.cfg.Collection + path
}

// do 发送请求并解码 result 字段。out 为 nil 时丢弃响应体。
func (s *QdrantStore) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrConnection, err.Error()).WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if resp.StatusCode == http.StatusNotFound {
			return types.NewError(types.ErrNotFound, "qdrant: "+strings.TrimSpace(string(data))).
				WithHTTPStatus(resp.StatusCode)
		}
		return types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("qdrant status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))).
			WithHTTPStatus(resp.StatusCode).WithRetryable(resp.StatusCode >= 500)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return types.NewError(types.ErrMalformedResponse, "decode qdrant response").WithCause(err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return types.NewError(types.ErrMalformedResponse, "decode qdrant result").WithCause(err)
	}
	return nil
}

// ensureCollection 按需建集合。失败不粘滞：本次报错，下一次写入
// 重试，直到某次成功才置位。已存在时 Qdrant 返回 409 冲突，视为成功。
func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	size := s.cfg.VectorSize
	if size == 0 {
		size = vectorSize
	}
	err := s.do(ctx, http.MethodPut, s.url(""), map[string]any{
		"vectors": map[string]any{"size": size, "distance": "Cosine"},
	}, nil)
	if err != nil {
		var typed *types.Error
		if errors.As(err, &typed) && typed.HTTPStatus == http.StatusConflict {
			s.logger.Debug("collection already exists", zap.Error(err))
		} else {
			return err
		}
	}
	s.ensured = true
	return nil
}

type qdrantPayload struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

func nameFilter(name string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "name", "match": map[string]any{"value": name}},
		},
	}
}

// --- Store 实现 ---

// AddDocument 分块、向量化并 upsert；同名文档先删除旧分块。
func (s *QdrantStore) AddDocument(ctx context.Context, name, text string) (int, error) {
	texts := SplitText(text, s.cfg.Chunker)
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return 0, err
	}

	// 替换语义：旧分块先清掉，避免同名文档新旧混存
	if _, err := s.DeleteDocument(ctx, name); err != nil {
		return 0, err
	}

	docType := DetectType(name)
	points := make([]map[string]any, len(texts))
	for i, t := range texts {
		points[i] = map[string]any{
			"id":     uuid.NewString(),
			"vector": vectors[i],
			"payload": qdrantPayload{
				Name:       name,
				Type:       docType,
				ChunkIndex: i,
				Text:       t,
			},
		}
	}

	err = s.do(ctx, http.MethodPut, s.url("/points?wait=true"), map[string]any{"points": points}, nil)
	if err != nil {
		return 0, err
	}

	s.logger.Info("document upserted", zap.String("name", name), zap.Int("chunks", len(points)))
	return len(points), nil
}

// Search 向量检索 topK 分块。
func (s *QdrantStore) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	var hits []struct {
		Score   float64       `json:"score"`
		Payload qdrantPayload `json:"payload"`
	}
	err = s.do(ctx, http.MethodPost, s.url("/points/search"), map[string]any{
		"vector":       vectors[0],
		"limit":        topK,
		"with_payload": true,
	}, &hits)
	if err != nil {
		if types.IsNotFound(err) {
			// 集合尚未创建：等价于空库
			return []SearchResult{}, nil
		}
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{
			Text:  h.Payload.Text,
			Score: h.Score,
			Metadata: map[string]any{
				"name":        h.Payload.Name,
				"chunk_index": h.Payload.ChunkIndex,
			},
		}
	}
	return results, nil
}

// scrollPayloads 按可选过滤器翻页取回全部 payload。
func (s *QdrantStore) scrollPayloads(ctx context.Context, filter map[string]any) ([]qdrantPayload, error) {
	var payloads []qdrantPayload
	var offset any

	for {
		body := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  false,
		}
		if filter != nil {
			body["filter"] = filter
		}
		if offset != nil {
			body["offset"] = offset
		}

		var page struct {
			Points []struct {
				Payload qdrantPayload `json:"payload"`
			} `json:"points"`
			NextPageOffset any `json:"next_page_offset"`
		}
		if err := s.do(ctx, http.MethodPost, s.url("/points/scroll"), body, &page); err != nil {
			if types.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}

		for _, p := range page.Points {
			payloads = append(payloads, p.Payload)
		}
		if page.NextPageOffset == nil || len(page.Points) == 0 {
			return payloads, nil
		}
		offset = page.NextPageOffset
	}
}

// ListDocuments 扫描集合，按文档名聚合分块数。
func (s *QdrantStore) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	payloads, err := s.scrollPayloads(ctx, nil)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*DocumentInfo)
	order := make([]string, 0)
	for _, p := range payloads {
		info, ok := byName[p.Name]
		if !ok {
			info = &DocumentInfo{Name: p.Name, Type: p.Type}
			byName[p.Name] = info
			order = append(order, p.Name)
		}
		info.ChunkCount++
	}

	sort.Strings(order)
	infos := make([]DocumentInfo, 0, len(order))
	for _, name := range order {
		infos = append(infos, *byName[name])
	}
	return infos, nil
}

// GetDocumentChunks 返回文档全部分块，按 chunk_index 升序。
func (s *QdrantStore) GetDocumentChunks(ctx context.Context, name string) ([]Chunk, error) {
	payloads, err := s.scrollPayloads(ctx, nameFilter(name))
	if err != nil {
		return nil, err
	}

	sort.Slice(payloads, func(i, j int) bool {
		return payloads[i].ChunkIndex < payloads[j].ChunkIndex
	})
	chunks := make([]Chunk, len(payloads))
	for i, p := range payloads {
		chunks[i] = Chunk{Text: p.Text, Index: p.ChunkIndex, Metadata: map[string]any{"name": p.Name}}
	}
	return chunks, nil
}

// DeleteDocument 按 name 过滤删除全部分块。
func (s *QdrantStore) DeleteDocument(ctx context.Context, name string) (bool, error) {
	existing, err := s.scrollPayloads(ctx, nameFilter(name))
	if err != nil {
		return false, err
	}
	if len(existing) == 0 {
		return false, nil
	}

	err = s.do(ctx, http.MethodPost, s.url("/points/delete?wait=true"), map[string]any{
		"filter": nameFilter(name),
	}, nil)
	if err != nil {
		return false, err
	}

	s.logger.Info("document deleted", zap.String("name", name), zap.Int("chunks", len(existing)))
	return true, nil
}

// Count 返回文档数（按文档名去重）。
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	infos, err := s.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}
	return len(infos), nil
}
