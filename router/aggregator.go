package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/lexflow/internal/cache"
	"github.com/BaSui01/lexflow/law"
	"github.com/BaSui01/lexflow/resilience"
)

// 片段标题。合并顺序固定：摘要、检索、法律 —— 生成后端先看到
// 文档元信息，才能回答"我有几个文档"这类元问题。
const (
	summaryHeader   = "=== Завантажені документи ==="
	retrievalHeader = "=== Контекст із документів ==="
	legalHeader     = "=== Судова практика ==="
)

// 合并槽位下标。
const (
	slotSummary = iota
	slotRetrieval
	slotLegal
	slotCount
)

// aggregation 三路取数的合并结果。
type aggregation struct {
	// Context 合并后的提示上下文；空串表示三路都无产出
	Context string
	// Sources 实际产出片段的来源名
	Sources []string
	// Errors 失败分支的描述，永不上抛
	Errors []string
	// Parts 产出片段数
	Parts int
}

// fingerprint 上下文指纹，参与回答缓存键。
func (a aggregation) fingerprint() string {
	return cache.Fingerprint(a.Context)
}

// aggregate 三路并发取数。单路失败只记入 Errors；调用方取消时
// 三路协同取消。
func (r *Router) aggregate(ctx context.Context, query string, cls Classification, topK int) aggregation {
	var (
		mu    sync.Mutex
		slots [slotCount]string
		names [slotCount]string
		errs  []string
	)
	record := func(slot int, name, text string) {
		mu.Lock()
		slots[slot] = text
		names[slot] = name
		mu.Unlock()
	}
	recordErr := func(source string, err error) {
		mu.Lock()
		errs = append(errs, fmt.Sprintf("%s: %v", source, err))
		mu.Unlock()
		if r.metrics != nil {
			r.metrics.RecordFragmentFailure(source)
		}
		r.logger.Warn("context fragment failed", zap.String("source", source), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	// 摘要分支：只要有文档就取，与分类开关无关
	g.Go(func() error {
		summary, err := resilience.Call(r.ragMW, gctx, func(ctx context.Context) (string, error) {
			has, err := r.retrieval.HasDocuments(ctx)
			if err != nil || !has {
				return "", err
			}
			text, _, err := r.retrieval.Summary(ctx)
			return text, err
		})
		if err != nil {
			recordErr("summary", err)
			return nil
		}
		if summary != "" {
			record(slotSummary, "documents_summary", summaryHeader+"\n"+summary)
		}
		return nil
	})

	// 检索分支：清单意图取全量预览；扫描意图跳过（由短路处理）
	g.Go(func() error {
		if !cls.UseRAG || cls.Intent == IntentDocumentQuery {
			return nil
		}
		text, err := resilience.Call(r.ragMW, gctx, func(ctx context.Context) (string, error) {
			if cls.Intent == IntentListDocuments {
				return r.documentPreviews(ctx)
			}
			return r.retrieval.Context(ctx, query, topK)
		})
		if err != nil {
			recordErr("retrieval", err)
			return nil
		}
		if text != "" {
			record(slotRetrieval, "retrieval", retrievalHeader+"\n"+Truncate(text, RetrievalContextBudget))
		}
		return nil
	})

	// 法律分支：有案号取详情（按需全文），否则排序检索预览。
	// 片段独立缓存，与检索片段同档 TTL —— 桥接调用是三路中最慢的
	g.Go(func() error {
		if !cls.UseLaw {
			return nil
		}
		key := cache.LegalContextKey(query)
		if r.cache != nil {
			if cached, err := r.cache.Get(gctx, key); err == nil {
				if cached != "" {
					record(slotLegal, "legal", legalHeader+"\n"+cached)
				}
				return nil
			} else if !cache.IsCacheMiss(err) {
				r.logger.Warn("legal context cache read failed", zap.Error(err))
			}
		}
		text, err := resilience.Call(r.lawMW, gctx, func(ctx context.Context) (string, error) {
			if cls.HasCaseNumber {
				return r.caseContext(ctx, cls)
			}
			return r.caseSearchContext(ctx, query)
		})
		if err != nil {
			recordErr("legal", err)
			return nil
		}
		if text != "" {
			if r.cache != nil {
				if err := r.cache.Set(gctx, key, text, r.cfg.FragmentTTL); err != nil {
					r.logger.Warn("legal context cache write failed", zap.Error(err))
				}
			}
			record(slotLegal, "legal", legalHeader+"\n"+text)
		}
		return nil
	})

	g.Wait()

	agg := aggregation{Errors: errs}
	var parts []string
	for slot := 0; slot < slotCount; slot++ {
		if slots[slot] == "" {
			continue
		}
		parts = append(parts, slots[slot])
		agg.Sources = append(agg.Sources, names[slot])
	}
	agg.Context = strings.Join(parts, "\n\n")
	agg.Parts = len(parts)
	return agg
}

// documentPreviews 清单意图：每个文档一段短预览。
func (r *Router) documentPreviews(ctx context.Context) (string, error) {
	infos, err := r.retrieval.ListDocuments(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, info := range infos {
		text, err := r.retrieval.DocumentText(ctx, info.Name)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s:\n%s", i+1, info.Name, Truncate(text, DocumentPreviewBudget))
	}
	return b.String(), nil
}

// caseContext 案号路径：详情，按需追加预算内的判决全文。
func (r *Router) caseContext(ctx context.Context, cls Classification) (string, error) {
	details, err := r.legal.GetCaseDetails(ctx, cls.CaseNumber, "")
	if err != nil {
		return "", err
	}
	if details == nil {
		return "", nil
	}

	text := formatCaseDetails(details)
	if cls.IsDocumentTextQuery && details.DocID != "" && details.FullText == "" {
		fullText, err := r.legal.GetCaseFullText(ctx, details.DocID)
		if err != nil {
			return "", err
		}
		if fullText != "" {
			text += "\n\n" + Truncate(fullText, LegalFullTextBudget)
		}
	}
	return text, nil
}

// caseSearchContext 无案号路径：排序检索 + 短预览。
func (r *Router) caseSearchContext(ctx context.Context, query string) (string, error) {
	cases, err := r.legal.SearchCases(ctx, query, "", 5)
	if err != nil {
		return "", err
	}
	if len(cases) == 0 {
		return "", nil
	}

	var b strings.Builder
	for i, c := range cases {
		if i > 0 {
			b.WriteString("\n")
		}
		title := c.Title
		if title == "" {
			title = "Справа " + c.CaseNumber
		}
		fmt.Fprintf(&b, "%d. %s", i+1, title)
		if c.Summary != "" {
			fmt.Fprintf(&b, "\n   %s", Truncate(c.Summary, CasePreviewBudget))
		}
	}
	return b.String(), nil
}

func formatCaseDetails(d *law.CaseDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Справа %s", d.CaseNumber)
	if d.Court != "" {
		fmt.Fprintf(&b, "\nСуд: %s", d.Court)
	}
	if d.Date != "" {
		fmt.Fprintf(&b, "\nДата: %s", d.Date)
	}
	if d.Title != "" {
		fmt.Fprintf(&b, "\nПредмет: %s", d.Title)
	}
	if d.Resolution != "" {
		fmt.Fprintf(&b, "\nРезолюція: %s", d.Resolution)
	}
	if d.FullText != "" {
		fmt.Fprintf(&b, "\n\n%s", Truncate(d.FullText, LegalFullTextBudget))
	}
	return b.String()
}
