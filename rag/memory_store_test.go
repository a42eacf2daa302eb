package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubEmbedder 词袋向量：按关键词出现情况生成确定性向量，
// 让相似度排序在测试里可预测。
type stubEmbedder struct {
	vocabulary []string
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vocabulary: []string{"договір", "оренда", "суд", "рішення", "податки"}}
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(e.vocabulary)+1)
		vec[len(e.vocabulary)] = 0.1 // 避免零向量
		for j, word := range e.vocabulary {
			if strings.Contains(strings.ToLower(text), word) {
				vec[j] = 1
			}
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	return NewMemoryStore(newStubEmbedder(), ChunkerConfig{Size: 50, Overlap: 10}, zap.NewNop())
}

func TestMemoryStoreAddAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	n, err := store.AddDocument(ctx, "contract.pdf", "договір оренди приміщення")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.AddDocument(ctx, "court.docx", "рішення суду у справі")
	require.NoError(t, err)

	infos, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	// 入库顺序保持
	assert.Equal(t, "contract.pdf", infos[0].Name)
	assert.Equal(t, "pdf", infos[0].Type)
	assert.Equal(t, "court.docx", infos[1].Name)
	assert.Equal(t, "word", infos[1].Type)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryStoreSearchRanking(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	_, err := store.AddDocument(ctx, "contract.txt", "договір оренди")
	require.NoError(t, err)
	_, err = store.AddDocument(ctx, "taxes.txt", "податки за рік")
	require.NoError(t, err)

	results, err := store.Search(ctx, "договір", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "договір")
	assert.Equal(t, "contract.txt", results[0].Metadata["name"])
}

func TestMemoryStoreReplaceSameName(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	_, err := store.AddDocument(ctx, "doc.txt", "перша версія")
	require.NoError(t, err)
	_, err = store.AddDocument(ctx, "doc.txt", "друга версія")
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	chunks, err := store.GetDocumentChunks(ctx, "doc.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "друга версія", chunks[0].Text)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	_, err := store.AddDocument(ctx, "doc.txt", "текст документа")
	require.NoError(t, err)

	deleted, err := store.DeleteDocument(ctx, "doc.txt")
	require.NoError(t, err)
	assert.True(t, deleted)

	// 重复删除不报错，返回 false
	deleted, err = store.DeleteDocument(ctx, "doc.txt")
	require.NoError(t, err)
	assert.False(t, deleted)

	chunks, err := store.GetDocumentChunks(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
