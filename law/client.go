// Package law 提供 Zakononline 法律检索桥接客户端。
// 通过 MCP 桥接服务的 HTTP 端点检索乌克兰法院判例：
// 案件搜索、案件详情、判决全文、论点提取。
package law

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/types"
)

// Case 案件搜索命中。
type Case struct {
	CaseNumber string `json:"case_number"`
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	Court      string `json:"court"`
	Date       string `json:"date"`
	Summary    string `json:"summary"`
	URL        string `json:"url"`
}

// CaseDetails 案件详情，含可选全文。
type CaseDetails struct {
	CaseNumber string `json:"case_number"`
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	Court      string `json:"court"`
	Judge      string `json:"judge"`
	Date       string `json:"date"`
	Resolution string `json:"resolution"`
	FullText   string `json:"full_text"`
	URL        string `json:"url"`
}

// Arguments 从判决中提取的结构化论点。
type Arguments struct {
	Query     string   `json:"query"`
	Positions []string `json:"positions"`
	Cases     []Case   `json:"cases"`
	Summary   string   `json:"summary"`
}

// Config 桥接客户端配置。
type Config struct {
	// BaseURL 桥接服务地址
	BaseURL string
	// APIKey 可选 Bearer 令牌
	APIKey string
	// Timeout 常规调用超时，零值时 30s
	Timeout time.Duration
	// ExtractTimeout 论点提取超时（逐案分析更慢），零值时 90s
	ExtractTimeout time.Duration
}

// Client Zakononline 桥接客户端。
// 空结果与 404 表达为零值（nil/空切片），不作为错误。
// 论点提取走独立的长超时客户端。
type Client struct {
	rest    *resty.Client
	extract *resty.Client
	logger  *zap.Logger
}

// NewClient 创建桥接客户端。
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ExtractTimeout == 0 {
		cfg.ExtractTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	newRest := func(timeout time.Duration) *resty.Client {
		rest := resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json")
		if cfg.APIKey != "" {
			rest.SetAuthToken(cfg.APIKey)
		}
		return rest
	}

	return &Client{
		rest:    newRest(cfg.Timeout),
		extract: newRest(cfg.ExtractTimeout),
		logger:  logger.With(zap.String("component", "law_client")),
	}
}

// post 调用桥接端点并解码响应。404 返回 (false, nil)。
func (c *Client) post(ctx context.Context, endpoint string, payload, out any) (bool, error) {
	return c.postWith(ctx, c.rest, endpoint, payload, out)
}

func (c *Client) postWith(ctx context.Context, rest *resty.Client, endpoint string, payload, out any) (bool, error) {
	resp, err := rest.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(out).
		ForceContentType("application/json").
		Post("/mcp/zakononline/" + endpoint)
	if err != nil {
		return false, types.NewError(types.ErrConnection, err.Error()).
			WithCause(err).WithRetryable(true)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return false, types.NewError(types.ErrRateLimit, "law bridge rate limited").
			WithHTTPStatus(resp.StatusCode()).WithRetryable(true)
	case resp.StatusCode() >= 500:
		return false, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("law bridge status %d", resp.StatusCode())).
			WithHTTPStatus(resp.StatusCode()).WithRetryable(true)
	case resp.StatusCode() >= 400:
		return false, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("law bridge status %d: %s", resp.StatusCode(), resp.String())).
			WithHTTPStatus(resp.StatusCode())
	}
	return true, nil
}

// SearchCases 搜索判例。instance 为审级（1-4），limit 为最大条数。
// 无命中时返回空切片。
func (c *Client) SearchCases(ctx context.Context, query, instance string, limit int) ([]Case, error) {
	if instance == "" {
		instance = "3"
	}
	if limit <= 0 {
		limit = 25
	}

	var cases []Case
	found, err := c.post(ctx, "search_cases", map[string]any{
		"query":    query,
		"instance": instance,
		"limit":    limit,
	}, &cases)
	if err != nil {
		return nil, err
	}
	if !found {
		return []Case{}, nil
	}

	c.logger.Debug("case search completed",
		zap.String("instance", instance),
		zap.Int("hits", len(cases)),
	)
	return cases, nil
}

// GetCaseDetails 按案号或文档 ID 取案件详情。未找到返回 nil。
func (c *Client) GetCaseDetails(ctx context.Context, caseNumber, docID string) (*CaseDetails, error) {
	payload := map[string]any{}
	if caseNumber != "" {
		payload["caseNumber"] = caseNumber
	}
	if docID != "" {
		payload["docId"] = docID
	}

	var details CaseDetails
	found, err := c.post(ctx, "get_case_details", payload, &details)
	if err != nil {
		return nil, err
	}
	if !found || (details.CaseNumber == "" && details.DocID == "") {
		return nil, nil
	}
	return &details, nil
}

// GetCaseFullText 取判决全文。未找到返回空串。
func (c *Client) GetCaseFullText(ctx context.Context, docID string) (string, error) {
	var result struct {
		DocID    string `json:"doc_id"`
		FullText string `json:"full_text"`
	}
	found, err := c.post(ctx, "get_case_full_text", map[string]any{"docId": docID}, &result)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return result.FullText, nil
}

// ExtractCaseArguments 从判例中提取结构化论点。
// 桥接端逐案分析，耗时长，走独立的更长超时。
func (c *Client) ExtractCaseArguments(ctx context.Context, query, instance string, limit int, year int) (*Arguments, error) {
	if instance == "" {
		instance = "3"
	}
	if limit <= 0 {
		limit = 50
	}

	payload := map[string]any{
		"query":    query,
		"instance": instance,
		"limit":    limit,
	}
	if year > 0 {
		payload["year"] = year
	}

	var args Arguments
	found, err := c.postWith(ctx, c.extract, "extract_case_arguments", payload, &args)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &args, nil
}
