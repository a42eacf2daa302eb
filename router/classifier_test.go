package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/internal/cache"
	"github.com/BaSui01/lexflow/llm"
	"github.com/BaSui01/lexflow/resilience"
	"github.com/BaSui01/lexflow/types"
)

// fakeGenerator 脚本化生成后端。
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	respond func(req *llm.ChatRequest) (*llm.ChatResponse, error)
	stream  func(req *llm.ChatRequest) (<-chan llm.StreamChunk, error)
}

func (g *fakeGenerator) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.respond == nil {
		return &llm.ChatResponse{Model: "fake-model", Content: "відповідь"}, nil
	}
	return g.respond(req)
}

func (g *fakeGenerator) Stream(_ context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.stream != nil {
		return g.stream(req)
	}
	out := make(chan llm.StreamChunk, 2)
	out <- llm.StreamChunk{Delta: "відпо"}
	out <- llm.StreamChunk{Delta: "відь", FinishReason: "stop"}
	close(out)
	return out, nil
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newTestCache(t *testing.T) (*cache.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	manager := cache.NewManagerFromClient(client, cache.Config{DefaultTTL: time.Hour}, zap.NewNop())
	t.Cleanup(func() { manager.Close() })
	return manager, mr
}

func TestClassifyFallback(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		useLaw  bool
		useRAG  bool
		caseNum string
	}{
		{
			name:   "legal keywords only",
			query:  "яке рішення суду по цій справі?",
			useLaw: true, useRAG: false,
		},
		{
			name:   "document keywords only default to both",
			query:  "що написано в договорі?",
			useLaw: true, useRAG: true,
		},
		{
			name:   "legal and document keywords",
			query:  "чи відповідає договір закону?",
			useLaw: true, useRAG: true,
		},
		{
			name:   "no keywords defaults to both",
			query:  "привіт, як справи у тебе?",
			useLaw: true, useRAG: true,
		},
		{
			name:  "case number forces legal only",
			query: "покажи 910/12345/23", useLaw: true, useRAG: false,
			caseNum: "910/12345/23",
		},
		{
			name:  "my documents phrase forces retrieval only",
			query: "що є в моїх документах?",
			useRAG: true, useLaw: false,
		},
		{
			name:  "my documents wins over case number",
			query: "чи згадується справа 910/12345/23 у моїх документах?",
			useRAG: true, useLaw: false,
			caseNum: "910/12345/23",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := ClassifyFallback(tt.query)
			assert.Equal(t, tt.useLaw, cls.UseLaw, "UseLaw")
			assert.Equal(t, tt.useRAG, cls.UseRAG, "UseRAG")
			assert.Equal(t, tt.caseNum != "", cls.HasCaseNumber, "HasCaseNumber")
			assert.Equal(t, tt.caseNum, cls.CaseNumber)
		})
	}
}

// 回退对案号的判定与正则 \d+/\d+/\d+ 完全一致。
func TestClassifyFallbackCaseNumber(t *testing.T) {
	cls := ClassifyFallback("show me case 123/456/78")
	assert.True(t, cls.HasCaseNumber)
	assert.Equal(t, "123/456/78", cls.CaseNumber)

	cls = ClassifyFallback("стаття 123 кодексу")
	assert.False(t, cls.HasCaseNumber)
}

func TestApplyIntent(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		intent Intent
	}{
		{"plain question", "яка відповідальність за прострочення?", IntentGeneral},
		{"delete one", "видали документ contract.pdf", IntentDeleteDocuments},
		{"delete all", "видали всі документи", IntentDeleteDocuments},
		{"full text", "покажи повний текст рішення 910/12345/23", IntentFullText},
		{"full text phrase without case number", "покажи повний текст рішення", IntentGeneral},
		{"list documents", "скільки документів я завантажив?", IntentListDocuments},
		{"document sweep", "що сказано про штрафи в моїх документах?", IntentDocumentQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := applyIntent(tt.query, ClassifyFallback(tt.query))
			assert.Equal(t, tt.intent, cls.Intent)
		})
	}
}

// 点名文档序号：限定扫描范围；案号查询绝不误判为序号。
func TestApplyIntentDocumentNumber(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		number int
	}{
		{"ordinal reference", "що сказано в документі 2 про штраф?", 2},
		{"numero sign", "покажи документ № 3", 3},
		{"case number query", "покажи повний текст рішення 910/12345/23", 0},
		{"plain question", "яка відповідальність за прострочення?", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := applyIntent(tt.query, ClassifyFallback(tt.query))
			if tt.number == 0 {
				assert.Nil(t, cls.DocumentNumber)
				return
			}
			require.NotNil(t, cls.DocumentNumber)
			assert.Equal(t, tt.number, *cls.DocumentNumber)
			assert.Equal(t, IntentDocumentQuery, cls.Intent)
		})
	}
}

func TestClassifierLLMPrimary(t *testing.T) {
	gen := &fakeGenerator{
		respond: func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
			// 分类调用必须是温度 0 的受限请求
			assert.Zero(t, req.Temperature)
			assert.Positive(t, req.MaxTokens)
			return &llm.ChatResponse{
				Content: `{"use_law": true, "use_rag": false, "query_type": "legal", "has_case_number": false, "is_document_text_query": false}`,
			}, nil
		},
	}
	c := NewClassifier(gen, resilience.NewRegistry(zap.NewNop()), nil, ClassifierConfig{}, zap.NewNop())

	cls := c.Classify(context.Background(), "правова позиція щодо оренди")
	assert.True(t, cls.UseLaw)
	assert.False(t, cls.UseRAG)
	assert.Equal(t, "legal", cls.QueryType)
	assert.Equal(t, 1, gen.callCount())
}

func TestClassifierFallbackOnFailure(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		gen := &fakeGenerator{
			respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
				return nil, types.NewError(types.ErrConnection, "refused").WithRetryable(true)
			},
		}
		c := NewClassifier(gen, resilience.NewRegistry(zap.NewNop()), nil, ClassifierConfig{}, zap.NewNop())

		cls := c.Classify(context.Background(), "покажи рішення 910/1/23")
		// 回退：案号 ⇒ 仅法律
		assert.True(t, cls.UseLaw)
		assert.False(t, cls.UseRAG)
		assert.Equal(t, "910/1/23", cls.CaseNumber)
	})

	t.Run("unparseable output", func(t *testing.T) {
		gen := &fakeGenerator{
			respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
				return &llm.ChatResponse{Content: "вибачте, не можу класифікувати"}, nil
			},
		}
		c := NewClassifier(gen, resilience.NewRegistry(zap.NewNop()), nil, ClassifierConfig{}, zap.NewNop())

		cls := c.Classify(context.Background(), "будь-яке питання")
		assert.True(t, cls.UseLaw)
		assert.True(t, cls.UseRAG)
	})
}

func TestClassifierEmptyQuery(t *testing.T) {
	gen := &fakeGenerator{}
	c := NewClassifier(gen, resilience.NewRegistry(zap.NewNop()), nil, ClassifierConfig{}, zap.NewNop())

	cls := c.Classify(context.Background(), "   ")
	assert.True(t, cls.UseLaw)
	assert.True(t, cls.UseRAG)
	assert.Equal(t, IntentGeneral, cls.Intent)
	assert.Zero(t, gen.callCount(), "empty query must not hit the backend")
}

// 缓存温热后分类幂等：第二次调用不打后端，结果逐字节一致。
func TestClassifierIdempotentWarmCache(t *testing.T) {
	manager, _ := newTestCache(t)
	gen := &fakeGenerator{
		respond: func(*llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				Content: `{"use_law": true, "use_rag": true, "query_type": "general", "has_case_number": false, "is_document_text_query": false}`,
			}, nil
		},
	}
	c := NewClassifier(gen, resilience.NewRegistry(zap.NewNop()), manager, ClassifierConfig{}, zap.NewNop())

	first := c.Classify(context.Background(), "загальне питання")
	require.Equal(t, 1, gen.callCount())

	second := c.Classify(context.Background(), "загальне питання")
	assert.Equal(t, 1, gen.callCount(), "warm cache must not hit the backend")
	assert.Equal(t, fmt.Sprintf("%+v", first), fmt.Sprintf("%+v", second))
}

func TestParseClassification(t *testing.T) {
	t.Run("json wrapped in prose", func(t *testing.T) {
		cls, ok := parseClassification("Ось результат: {\"use_law\": true, \"use_rag\": false, \"query_type\": \"legal\"} дякую")
		require.True(t, ok)
		assert.True(t, cls.UseLaw)
	})

	t.Run("both flags false normalized to both on", func(t *testing.T) {
		cls, ok := parseClassification(`{"use_law": false, "use_rag": false, "query_type": "general"}`)
		require.True(t, ok)
		assert.True(t, cls.UseLaw)
		assert.True(t, cls.UseRAG)
	})

	t.Run("no json object", func(t *testing.T) {
		_, ok := parseClassification("немає json")
		assert.False(t, ok)
	})

	t.Run("missing query_type rejected", func(t *testing.T) {
		_, ok := parseClassification(`{"use_law": true}`)
		assert.False(t, ok)
	})
}
