package router

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/lexflow/internal/cache"
	"github.com/BaSui01/lexflow/llm"
	"github.com/BaSui01/lexflow/resilience"
)

// caseNumberRe 乌克兰法院案号（如 910/12345/23）。
var caseNumberRe = regexp.MustCompile(`\d+/\d+/\d+`)

// documentNumberRe 点名文档序号的措辞（"документ 2"、"документі № 3"）。
var documentNumberRe = regexp.MustCompile(`документ[а-яіїє]*\s*(?:№\s*)?(\d+)`)

// 回退分类的关键词表。来源语言为乌克兰语，小写匹配。
var (
	lawKeywords = []string{
		"суд", "судова", "справа", "рішення", "закон", "стаття",
		"кодекс", "норма", "юридична", "правова", "законодавство",
	}
	documentKeywords = []string{
		"договір", "контракт", "справка", "чек", "наклад",
		"документ", "файл", "архів",
	}
	// myDocumentPhrases 明确指向用户自有文档的措辞，强制仅走检索
	myDocumentPhrases = []string{
		"мої документи", "моїх документів", "моїх документах",
		"мій документ", "завантажені документи", "завантажених документів",
		"я завантажив", "я завантажила",
	}
	deletePhrases = []string{
		"видали", "видалити", "видаліть", "вилучи", "вилучити",
	}
	deleteAllPhrases = []string{
		"всі", "усі", "все",
	}
	fullTextPhrases = []string{
		"повний текст", "повне рішення", "текст рішення", "текст постанови",
	}
	listPhrases = []string{
		"скільки документів", "список документів", "які документи",
		"перелічи документи", "покажи документи",
	}
)

// classifyPrompt LLM 主路径的系统提示：强制输出单个 JSON 对象。
const classifyPrompt = `Ти — класифікатор юридичних запитів. Проаналізуй запит користувача і поверни РІВНО ОДИН JSON-об'єкт без пояснень:
{"use_law": bool, "use_rag": bool, "query_type": "legal"|"document"|"general", "has_case_number": bool, "is_document_text_query": bool}
use_law — чи потрібен пошук судової практики; use_rag — чи потрібен пошук у завантажених документах користувача; has_case_number — чи містить запит номер справи формату N/N/N; is_document_text_query — чи питає користувач про вміст своїх документів.`

// ClassifierConfig 分类器配置。
type ClassifierConfig struct {
	// Model 分类调用使用的模型
	Model string
	// TTL 分类结果缓存时间，零值时 1h
	TTL time.Duration
	// Timeout 单次分类调用超时，零值时 15s
	Timeout time.Duration
}

// Classifier 查询分类器。
// LLM 主路径失败（传输、熔断、超时、解析）一律落到确定性回退，
// 分类永不使请求失败。结果缓存 + singleflight 去重。
type Classifier struct {
	generator Generator
	mw        *resilience.Middleware
	cache     *cache.Manager
	cfg       ClassifierConfig
	group     singleflight.Group
	logger    *zap.Logger
}

// NewClassifier 创建分类器。cacheManager 可为 nil。
func NewClassifier(generator Generator, reg *resilience.Registry, cacheManager *cache.Manager, cfg ClassifierConfig, logger *zap.Logger) *Classifier {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		generator: generator,
		mw: resilience.New(reg, resilience.ResourceGeneration,
			resilience.WithTimeout(cfg.Timeout),
			resilience.WithMaxAttempts(1),
		),
		cache:  cacheManager,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "classifier")),
	}
}

// Classify 分类查询。任何内部失败都以回退结果兜底，不返回错误。
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	if strings.TrimSpace(query) == "" {
		return Classification{UseLaw: true, UseRAG: true, QueryType: "general", Intent: IntentGeneral}
	}

	key := cache.ClassifyKey(query)
	if c.cache != nil {
		var cached Classification
		if err := c.cache.GetJSON(ctx, key, &cached); err == nil {
			return cached
		} else if !cache.IsCacheMiss(err) {
			c.logger.Warn("classification cache read failed", zap.Error(err))
		}
	}

	// 相同查询并发到达时只打一次后端
	result, _, _ := c.group.Do(query, func() (any, error) {
		cls, fromLLM := c.classifyLLM(ctx, query)
		if !fromLLM {
			cls = ClassifyFallback(query)
		}
		cls = applyIntent(query, cls)

		if c.cache != nil {
			if err := c.cache.SetJSON(ctx, key, cls, c.cfg.TTL); err != nil {
				c.logger.Warn("classification cache write failed", zap.Error(err))
			}
		}
		return cls, nil
	})
	return result.(Classification)
}

// classifyLLM LLM 主路径。第二个返回值为 false 时结果不可用。
func (c *Classifier) classifyLLM(ctx context.Context, query string) (Classification, bool) {
	resp, err := resilience.Call(c.mw, ctx, func(ctx context.Context) (*llm.ChatResponse, error) {
		return c.generator.Completion(ctx, &llm.ChatRequest{
			Model: c.cfg.Model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: classifyPrompt},
				{Role: llm.RoleUser, Content: query},
			},
			Temperature: 0,
			MaxTokens:   150,
		})
	})
	if err != nil {
		c.logger.Debug("llm classification failed, using fallback", zap.Error(err))
		return Classification{}, false
	}

	cls, ok := parseClassification(resp.Content)
	if !ok {
		c.logger.Debug("llm classification unparseable, using fallback",
			zap.String("content", Truncate(resp.Content, 200)))
		return Classification{}, false
	}
	return cls, true
}

// parseClassification 从模型输出中提取首个 JSON 对象。
func parseClassification(content string) (Classification, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Classification{}, false
	}

	var cls Classification
	if err := json.Unmarshal([]byte(content[start:end+1]), &cls); err != nil {
		return Classification{}, false
	}
	if cls.QueryType == "" {
		return Classification{}, false
	}
	if !cls.UseLaw && !cls.UseRAG {
		cls.UseLaw = true
		cls.UseRAG = true
	}
	return cls, true
}

// ClassifyFallback 确定性关键词回退。流式与非流式路径共用这一个
// 纯函数。优先级固定：自有文档措辞 ⇒ 仅检索；案号 ⇒ 仅法律
// （案号胜出）；法律关键词 ⇒ 法律，文档关键词同现时叠加检索；
// 否则两路全开。
func ClassifyFallback(query string) Classification {
	lower := strings.ToLower(query)
	caseNumber := caseNumberRe.FindString(query)

	cls := Classification{
		HasCaseNumber: caseNumber != "",
		CaseNumber:    caseNumber,
	}

	switch {
	case containsAny(lower, myDocumentPhrases):
		cls.UseRAG = true
		cls.QueryType = "document"
		cls.IsDocumentTextQuery = true

	case cls.HasCaseNumber:
		cls.UseLaw = true
		cls.QueryType = "legal"

	case containsAny(lower, lawKeywords):
		cls.UseLaw = true
		cls.UseRAG = containsAny(lower, documentKeywords)
		cls.QueryType = "legal"

	default:
		cls.UseLaw = true
		cls.UseRAG = true
		cls.QueryType = "general"
	}
	return cls
}

// applyIntent 由查询措辞推导意图。无论分类来自 LLM 还是回退，
// 意图推导都走同一条确定性路径；同时补齐案号与文档序号字段。
func applyIntent(query string, cls Classification) Classification {
	lower := strings.ToLower(query)
	if cls.CaseNumber == "" {
		cls.CaseNumber = caseNumberRe.FindString(query)
		if cls.CaseNumber != "" {
			cls.HasCaseNumber = true
		}
	}
	if cls.DocumentNumber == nil && !cls.HasCaseNumber {
		if m := documentNumberRe.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				cls.DocumentNumber = &n
			}
		}
	}

	switch {
	case containsAny(lower, deletePhrases) && containsAny(lower, documentKeywords):
		cls.Intent = IntentDeleteDocuments

	case cls.HasCaseNumber && containsAny(lower, fullTextPhrases):
		cls.Intent = IntentFullText

	// 点名的文档序号把查询锚定到单个文档，走定向扫描
	case cls.DocumentNumber != nil:
		cls.Intent = IntentDocumentQuery

	case containsAny(lower, listPhrases):
		cls.Intent = IntentListDocuments

	case cls.IsDocumentTextQuery && !cls.HasCaseNumber:
		cls.Intent = IntentDocumentQuery

	default:
		cls.Intent = IntentGeneral
	}
	return cls
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
