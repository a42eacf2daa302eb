package law

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL}, zap.NewNop())
}

func TestSearchCases(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mcp/zakononline/search_cases", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "розірвання договору оренди", body["query"])
		assert.Equal(t, "3", body["instance"]) // 默认审级
		assert.Equal(t, float64(25), body["limit"])

		json.NewEncoder(w).Encode([]Case{
			{CaseNumber: "910/12345/23", DocID: "doc-1", Title: "Про розірвання договору", Court: "ВС КГС"},
		})
	})

	cases, err := client.SearchCases(context.Background(), "розірвання договору оренди", "", 0)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "910/12345/23", cases[0].CaseNumber)
	assert.Equal(t, "doc-1", cases[0].DocID)
}

func TestSearchCasesEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Case{})
	})

	cases, err := client.SearchCases(context.Background(), "нічого", "3", 10)
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestGetCaseDetails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "910/12345/23", body["caseNumber"])

		json.NewEncoder(w).Encode(CaseDetails{
			CaseNumber: "910/12345/23",
			DocID:      "doc-1",
			Court:      "Верховний Суд",
			Resolution: "позов задоволено",
		})
	})

	details, err := client.GetCaseDetails(context.Background(), "910/12345/23", "")
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, "Верховний Суд", details.Court)
}

func TestGetCaseDetailsNotFound(t *testing.T) {
	t.Run("http 404", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		})
		details, err := client.GetCaseDetails(context.Background(), "1/2/3", "")
		require.NoError(t, err)
		assert.Nil(t, details)
	})

	t.Run("empty body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(CaseDetails{})
		})
		details, err := client.GetCaseDetails(context.Background(), "1/2/3", "")
		require.NoError(t, err)
		assert.Nil(t, details)
	})
}

func TestGetCaseFullText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mcp/zakononline/get_case_full_text", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"doc_id":    "doc-1",
			"full_text": "ПОСТАНОВА ІМЕНЕМ УКРАЇНИ...",
		})
	})

	text, err := client.GetCaseFullText(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Contains(t, text, "ПОСТАНОВА")
}

func TestExtractCaseArguments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mcp/zakononline/extract_case_arguments", r.URL.Path)

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, float64(2023), body["year"])

		json.NewEncoder(w).Encode(Arguments{
			Query:     "оренда",
			Positions: []string{"істотне порушення умов договору"},
			Summary:   "суди задовольняють позови про розірвання",
		})
	})

	args, err := client.ExtractCaseArguments(context.Background(), "оренда", "3", 50, 2023)
	require.NoError(t, err)
	require.NotNil(t, args)
	assert.Len(t, args.Positions, 1)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimit, true},
		{"server error", http.StatusInternalServerError, types.ErrUpstreamError, true},
		{"bad request", http.StatusBadRequest, types.ErrInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", tt.status)
			})
			_, err := client.SearchCases(context.Background(), "запит", "3", 10)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}
