package router

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/llm"
	"github.com/BaSui01/lexflow/rag"
	"github.com/BaSui01/lexflow/resilience"
)

// NegativeMarker 逐文档扫描的否定标记。生成提示要求模型在文档
// 不含答案时输出整句标记；扫描据此早退。
const NegativeMarker = "ІНФОРМАЦІЇ НЕМАЄ"

const sweepPrompt = `Ти — юридичний асистент. Відповідай ВИКЛЮЧНО на основі наведеного документа.
Якщо документ не містить відповіді на запитання, відповідай рівно одним рядком: ` + NegativeMarker

// answerFullText 全文直取：案号 + 全文措辞时直接返回判决文本，
// 跳过聚合与生成 —— 判决全文可能极大，生成一轮只会复述。
func (r *Router) answerFullText(ctx context.Context, cls Classification) (*Result, error) {
	meta := Metadata{UsedLegal: true, Intent: string(IntentFullText)}

	details, err := resilience.Call(r.lawMW, ctx, func(ctx context.Context) (*lawDetails, error) {
		d, err := r.legal.GetCaseDetails(ctx, cls.CaseNumber, "")
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, nil
		}
		text := d.FullText
		if text == "" && d.DocID != "" {
			text, err = r.legal.GetCaseFullText(ctx, d.DocID)
			if err != nil {
				return nil, err
			}
		}
		return &lawDetails{fullText: text, details: formatCaseDetails(d)}, nil
	})
	if err != nil {
		meta.Errors = append(meta.Errors, fmt.Sprintf("legal: %v", err))
		return &Result{
			Answer:   fmt.Sprintf("Не вдалося отримати текст рішення у справі %s: %v", cls.CaseNumber, err),
			Metadata: meta,
		}, nil
	}
	if details == nil {
		return &Result{
			Answer:   fmt.Sprintf("Справу %s не знайдено.", cls.CaseNumber),
			Metadata: meta,
		}, nil
	}

	answer := details.fullText
	if answer == "" {
		// 全文不可得时退回详情
		answer = details.details
	}
	return &Result{
		Answer:   Truncate(answer, LegalFullTextBudget),
		Sources:  []string{"legal"},
		Metadata: meta,
	}, nil
}

type lawDetails struct {
	fullText string
	details  string
}

// answerSweep 逐文档扫描：按清单顺序对每个文档单独发起一次预算内
// 生成调用，遇到首个非否定回答即停。刻意串行，早退语义要求
// 后续（昂贵的）调用不再发生。查询点名文档序号时只扫描该文档。
func (r *Router) answerSweep(ctx context.Context, query string, cls Classification, opts Options) (*Result, error) {
	meta := Metadata{UsedRetrieval: true, Intent: string(IntentDocumentQuery)}

	infos, err := r.retrieval.ListDocuments(ctx)
	if err != nil {
		meta.Errors = append(meta.Errors, fmt.Sprintf("retrieval: %v", err))
		return &Result{Answer: "Не вдалося отримати список документів.", Metadata: meta}, nil
	}
	if len(infos) == 0 {
		return &Result{Answer: "У вас немає завантажених документів.", Metadata: meta}, nil
	}

	// 序号与清单编号一致（从 1 起）
	if cls.DocumentNumber != nil {
		n := *cls.DocumentNumber
		if n < 1 || n > len(infos) {
			return &Result{
				Answer:   fmt.Sprintf("Документа з номером %d не знайдено: завантажено документів %d.", n, len(infos)),
				Metadata: meta,
			}, nil
		}
		infos = infos[n-1 : n]
	}

	var usage llm.ChatUsage
	scanned := 0
	for _, info := range infos {
		text, err := r.retrieval.DocumentText(ctx, info.Name)
		if err != nil {
			meta.Errors = append(meta.Errors, fmt.Sprintf("document %s: %v", info.Name, err))
			continue
		}
		if text == "" {
			continue
		}

		scanned++
		genStart := time.Now()
		resp, err := resilience.Call(r.genMW, ctx, func(ctx context.Context) (*llm.ChatResponse, error) {
			return r.generator.Completion(ctx, &llm.ChatRequest{
				Model: opts.Model,
				Messages: []llm.Message{
					{Role: llm.RoleSystem, Content: sweepPrompt},
					{Role: llm.RoleUser, Content: fmt.Sprintf(
						"Документ «%s»:\n%s\n\nЗапитання: %s",
						info.Name, Truncate(text, SweepDocumentBudget), query,
					)},
				},
				Temperature: 0.3,
			})
		})
		r.observeGeneration(opts.Model, genStart, resp, err)
		if err != nil {
			meta.Errors = append(meta.Errors, fmt.Sprintf("generation %s: %v", info.Name, err))
			continue
		}

		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens
		meta.ContextParts++

		if !isNegativeAnswer(resp.Content) {
			r.logger.Debug("sweep hit", zap.String("document", info.Name))
			if r.metrics != nil {
				r.metrics.RecordSweep("found", scanned)
			}
			return &Result{
				Answer:   resp.Content,
				Sources:  []string{info.Name},
				Model:    resp.Model,
				Usage:    usage,
				Metadata: meta,
			}, nil
		}
	}

	if r.metrics != nil {
		r.metrics.RecordSweep("exhausted", scanned)
	}
	return &Result{
		Answer:   "У завантажених документах відповіді на це запитання не знайдено.",
		Usage:    usage,
		Metadata: meta,
	}, nil
}

// isNegativeAnswer 判定扫描回答是否为否定标记。
func isNegativeAnswer(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return true
	}
	return strings.Contains(strings.ToUpper(trimmed), NegativeMarker)
}

// answerDelete 删除意图。"видали всі документи" 遍历删除并统计；
// 单个删除按文件名模糊匹配，无法唯一定位时返回编号清单供澄清。
func (r *Router) answerDelete(ctx context.Context, query string) (*Result, error) {
	meta := Metadata{UsedRetrieval: true, Intent: string(IntentDeleteDocuments)}
	lower := strings.ToLower(query)

	infos, err := r.retrieval.ListDocuments(ctx)
	if err != nil {
		meta.Errors = append(meta.Errors, fmt.Sprintf("retrieval: %v", err))
		return &Result{Answer: "Не вдалося отримати список документів.", Metadata: meta}, nil
	}
	if len(infos) == 0 {
		return &Result{Answer: "У вас немає завантажених документів.", Metadata: meta}, nil
	}

	if containsAny(lower, deleteAllPhrases) {
		deleted := 0
		for _, info := range infos {
			ok, err := r.retrieval.DeleteDocument(ctx, info.Name)
			if err != nil {
				meta.Errors = append(meta.Errors, fmt.Sprintf("delete %s: %v", info.Name, err))
				continue
			}
			if ok {
				deleted++
			}
		}
		return &Result{
			Answer:   fmt.Sprintf("Видалено документів: %d із %d.", deleted, len(infos)),
			Metadata: meta,
		}, nil
	}

	match, ambiguous := matchDocument(lower, infos)
	if match == "" {
		var b strings.Builder
		b.WriteString("Уточніть, який документ видалити:\n")
		list := infos
		if len(ambiguous) > 0 {
			list = ambiguous
		}
		for i, info := range list {
			fmt.Fprintf(&b, "%d. %s\n", i+1, info.Name)
		}
		return &Result{Answer: b.String(), Metadata: meta}, nil
	}

	ok, err := r.retrieval.DeleteDocument(ctx, match)
	if err != nil {
		meta.Errors = append(meta.Errors, fmt.Sprintf("delete %s: %v", match, err))
		return &Result{Answer: fmt.Sprintf("Не вдалося видалити документ «%s».", match), Metadata: meta}, nil
	}
	if !ok {
		return &Result{Answer: fmt.Sprintf("Документ «%s» не знайдено.", match), Metadata: meta}, nil
	}
	return &Result{Answer: fmt.Sprintf("Документ «%s» видалено.", match), Metadata: meta}, nil
}

// matchDocument 用查询词模糊匹配存储文件名。唯一最高分命中返回其名；
// 并列或零分返回空名，并给出并列候选。
func matchDocument(lowerQuery string, infos []rag.DocumentInfo) (string, []rag.DocumentInfo) {
	type scored struct {
		name  string
		score int
	}

	tokens := strings.FieldsFunc(lowerQuery, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '«' || r == '»' || r == '"'
	})

	var best []scored
	for _, info := range infos {
		base := strings.ToLower(strings.TrimSuffix(info.Name, path.Ext(info.Name)))
		full := strings.ToLower(info.Name)

		score := 0
		for _, tok := range tokens {
			if len([]rune(tok)) < 3 {
				continue
			}
			if tok == full || tok == base {
				score += 10
				continue
			}
			if strings.Contains(full, tok) || strings.Contains(base, tok) {
				score += 3
			}
		}
		if score > 0 {
			best = append(best, scored{name: info.Name, score: score})
		}
	}

	if len(best) == 0 {
		return "", nil
	}

	top := best[0]
	tie := false
	for _, s := range best[1:] {
		if s.score > top.score {
			top = s
			tie = false
		} else if s.score == top.score {
			tie = true
		}
	}
	if tie {
		var candidates []rag.DocumentInfo
		for _, s := range best {
			if s.score == top.score {
				for _, info := range infos {
					if info.Name == s.name {
						candidates = append(candidates, info)
					}
				}
			}
		}
		return "", candidates
	}
	return top.name, nil
}
