package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/api"
	"github.com/BaSui01/lexflow/internal/cache"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

// fakeDocService 内存文档服务
type fakeDocService struct {
	mu     sync.Mutex
	docs   []api.DocumentInfo
	addErr error
	hits   []api.SearchResult
}

func (f *fakeDocService) ListDocuments(context.Context) ([]api.DocumentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.DocumentInfo(nil), f.docs...), nil
}

func (f *fakeDocService) AddDocument(_ context.Context, name, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.docs = append(f.docs, api.DocumentInfo{Name: name, Type: "txt", ChunkCount: 2})
	return 2, nil
}

func (f *fakeDocService) DeleteDocument(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.docs {
		if d.Name == name {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDocService) Search(context.Context, string, int) ([]api.SearchResult, error) {
	return f.hits, nil
}

func newDocsCache(t *testing.T) *cache.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	manager := cache.NewManagerFromClient(client, cache.Config{DefaultTTL: time.Hour}, zap.NewNop())
	t.Cleanup(func() { manager.Close() })
	return manager
}

func decodeTask(t *testing.T, body *bytes.Buffer) api.IngestTask {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var task api.IngestTask
	require.NoError(t, json.Unmarshal(raw, &task))
	return task
}

// =============================================================================
// 🧪 DocumentsHandler 测试
// =============================================================================

func TestDocumentsHandler_HandleList(t *testing.T) {
	svc := &fakeDocService{docs: []api.DocumentInfo{
		{Name: "contract.pdf", Type: "pdf", ChunkCount: 3},
		{Name: "invoice.txt", Type: "txt", ChunkCount: 1},
	}}
	h := NewDocumentsHandler(svc, nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, data["count"])
}

func TestDocumentsHandler_HandleAdd(t *testing.T) {
	svc := &fakeDocService{}
	h := NewDocumentsHandler(svc, newDocsCache(t), zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/documents",
		bytes.NewBufferString(`{"name":"contract.pdf","text":"Текст договору оренди"}`))
	r.Header.Set("Content-Type", "application/json")

	h.HandleAdd(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	task := decodeTask(t, w.Body)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "contract.pdf", task.Name)

	// 后台摄取最终完成
	require.Eventually(t, func() bool {
		loaded, ok := h.loadTask(context.Background(), task.ID)
		return ok && loaded.State == api.TaskDone
	}, 2*time.Second, 10*time.Millisecond)

	loaded, ok := h.loadTask(context.Background(), task.ID)
	require.True(t, ok)
	assert.Equal(t, 2, loaded.Chunks)

	docs, err := svc.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDocumentsHandler_HandleAddFailure(t *testing.T) {
	svc := &fakeDocService{addErr: errors.New("embedding backend down")}
	h := NewDocumentsHandler(svc, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/documents",
		bytes.NewBufferString(`{"name":"contract.pdf","text":"текст"}`))
	r.Header.Set("Content-Type", "application/json")

	h.HandleAdd(w, r)
	require.Equal(t, http.StatusAccepted, w.Code)
	task := decodeTask(t, w.Body)

	require.Eventually(t, func() bool {
		loaded, ok := h.loadTask(context.Background(), task.ID)
		return ok && loaded.State == api.TaskFailed
	}, 2*time.Second, 10*time.Millisecond)

	loaded, _ := h.loadTask(context.Background(), task.ID)
	assert.Contains(t, loaded.Error, "embedding backend down")
}

func TestDocumentsHandler_HandleAddValidation(t *testing.T) {
	h := NewDocumentsHandler(&fakeDocService{}, nil, zap.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"text":"текст"}`},
		{"missing text", `{"name":"doc.txt"}`},
		{"blank name", `{"name":"  ","text":"текст"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/documents", bytes.NewBufferString(tt.body))
			r.Header.Set("Content-Type", "application/json")
			h.HandleAdd(w, r)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestDocumentsHandler_HandleTaskStatusNotFound(t *testing.T) {
	h := NewDocumentsHandler(&fakeDocService{}, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/documents/tasks/unknown", nil)
	r.SetPathValue("id", "unknown")

	h.HandleTaskStatus(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// 任务状态在进程重启（新 handler 实例）后仍可从 Redis 镜像读到。
func TestDocumentsHandler_TaskStatusSurvivesRestart(t *testing.T) {
	manager := newDocsCache(t)
	svc := &fakeDocService{}
	h1 := NewDocumentsHandler(svc, manager, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/documents",
		bytes.NewBufferString(`{"name":"contract.pdf","text":"текст"}`))
	r.Header.Set("Content-Type", "application/json")
	h1.HandleAdd(w, r)
	task := decodeTask(t, w.Body)

	require.Eventually(t, func() bool {
		loaded, ok := h1.loadTask(context.Background(), task.ID)
		return ok && loaded.State == api.TaskDone
	}, 2*time.Second, 10*time.Millisecond)

	// 新实例没有内存任务表，只能命中 Redis
	h2 := NewDocumentsHandler(svc, manager, zap.NewNop())
	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodGet, "/api/v1/documents/tasks/"+task.ID, nil)
	r2.SetPathValue("id", task.ID)

	h2.HandleTaskStatus(w2, r2)
	assert.Equal(t, http.StatusOK, w2.Code)

	restored := decodeTask(t, w2.Body)
	assert.Equal(t, api.TaskDone, restored.State)
}

// 完结任务超过保留期后从内存任务表回收；运行中的任务不回收。
func TestDocumentsHandler_PrunesExpiredTasks(t *testing.T) {
	h := NewDocumentsHandler(&fakeDocService{}, nil, zap.NewNop())

	expired := time.Now().Add(-ingestTaskTTL - time.Minute)
	h.mu.Lock()
	h.tasks["old-done"] = &api.IngestTask{ID: "old-done", State: api.TaskDone, UpdatedAt: expired}
	h.tasks["old-failed"] = &api.IngestTask{ID: "old-failed", State: api.TaskFailed, UpdatedAt: expired}
	h.tasks["old-running"] = &api.IngestTask{ID: "old-running", State: api.TaskRunning, UpdatedAt: expired}
	h.tasks["fresh-done"] = &api.IngestTask{ID: "fresh-done", State: api.TaskDone, UpdatedAt: time.Now()}
	h.mu.Unlock()

	h.storeTask(&api.IngestTask{ID: "new", State: api.TaskQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	ctx := context.Background()
	_, ok := h.loadTask(ctx, "old-done")
	assert.False(t, ok, "expired done task must be evicted")
	_, ok = h.loadTask(ctx, "old-failed")
	assert.False(t, ok, "expired failed task must be evicted")
	_, ok = h.loadTask(ctx, "old-running")
	assert.True(t, ok, "running tasks are never evicted")
	_, ok = h.loadTask(ctx, "fresh-done")
	assert.True(t, ok)
	_, ok = h.loadTask(ctx, "new")
	assert.True(t, ok)
}

func TestDocumentsHandler_HandleDelete(t *testing.T) {
	svc := &fakeDocService{docs: []api.DocumentInfo{{Name: "contract.pdf", Type: "pdf", ChunkCount: 3}}}
	h := NewDocumentsHandler(svc, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/contract.pdf", nil)
	r.SetPathValue("name", "contract.pdf")

	h.HandleDelete(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["deleted"])

	// 重复删除幂等，deleted=false
	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/contract.pdf", nil)
	r2.SetPathValue("name", "contract.pdf")
	h.HandleDelete(w2, r2)
	assert.Equal(t, http.StatusOK, w2.Code)

	var resp2 Response
	require.NoError(t, json.NewDecoder(w2.Body).Decode(&resp2))
	data2 := resp2.Data.(map[string]any)
	assert.Equal(t, false, data2["deleted"])
}

func TestDocumentsHandler_HandleSearch(t *testing.T) {
	svc := &fakeDocService{hits: []api.SearchResult{{Text: "пункт 4.2 договору", Score: 0.91}}}
	h := NewDocumentsHandler(svc, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/documents/search?query=оренда&top_k=3", nil)

	h.HandleSearch(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
}

func TestDocumentsHandler_HandleSearchValidation(t *testing.T) {
	h := NewDocumentsHandler(&fakeDocService{}, nil, zap.NewNop())

	t.Run("missing query", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleSearch(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/search", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad top_k", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleSearch(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/search?query=q&top_k=zero", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
