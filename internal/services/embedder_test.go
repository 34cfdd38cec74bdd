package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
)

// newFakeOllama 模拟 embeddings 接口，返回固定维度向量并统计调用次数
func newFakeOllama(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("意外的请求路径: %s", r.URL.Path)
		}
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float64{0.1, 0.2, 0.3},
		})
	}))
}

func newTestEmbedder(host string) *Embedder {
	return &Embedder{
		host:   host,
		model:  "test-model",
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestEmbedPendingSkipsUnchanged(t *testing.T) {
	setupTestDB(t)

	var calls atomic.Int64
	server := newFakeOllama(t, &calls)
	defer server.Close()

	source := createTestSource(t, "src")
	article := createTestArticle(t, source, testArticleOpts{Title: "Mobility Routine"})

	e := newTestEmbedder(server.URL)

	// 第一轮：探测 + 向量化一篇
	n, err := e.EmbedPending(context.Background(), 100)
	if err != nil {
		t.Fatalf("EmbedPending 失败: %v", err)
	}
	if n != 1 {
		t.Errorf("应向量化 1 篇，实际 %d", n)
	}

	var pointer models.ArticleEmbedding
	if err := db.DB.Where("article_id = ?", article.ID).First(&pointer).Error; err != nil {
		t.Fatalf("向量化指针未写入: %v", err)
	}
	if pointer.ContentHash != article.ContentHash {
		t.Errorf("指针哈希应等于文章哈希")
	}
	if pointer.ModelName != "test-model" || pointer.Dimensions != 3 {
		t.Errorf("指针元数据不对: %+v", pointer)
	}

	// 第二轮：内容没变，一篇都不重做
	callsBefore := calls.Load()
	n, err = e.EmbedPending(context.Background(), 100)
	if err != nil {
		t.Fatalf("EmbedPending 失败: %v", err)
	}
	if n != 0 {
		t.Errorf("内容未变不应重新向量化，实际 %d 篇", n)
	}
	if calls.Load() != callsBefore {
		t.Errorf("内容未变不应再调用模型")
	}

	// 内容变化后哈希不一致，该篇重新向量化
	db.DB.Model(&models.Article{}).Where("id = ?", article.ID).
		Update("content_hash", "changed-hash")
	n, err = e.EmbedPending(context.Background(), 100)
	if err != nil {
		t.Fatalf("EmbedPending 失败: %v", err)
	}
	if n != 1 {
		t.Errorf("内容变化后应重新向量化 1 篇，实际 %d", n)
	}

	db.DB.Where("article_id = ?", article.ID).First(&pointer)
	if pointer.ContentHash != "changed-hash" {
		t.Errorf("重新向量化后指针哈希应更新，实际 %q", pointer.ContentHash)
	}
}

func TestEmbedderUnavailable(t *testing.T) {
	setupTestDB(t)

	// 未配置 host：所有操作安静退化
	e := newTestEmbedder("")
	if e.Available(context.Background()) {
		t.Error("未配置 host 时应不可用")
	}
	if vec := e.EmbedQuery(context.Background(), "squat"); vec != nil {
		t.Errorf("不可用时 EmbedQuery 应返回 nil，实际 %v", vec)
	}
	n, err := e.EmbedPending(context.Background(), 100)
	if err != nil || n != 0 {
		t.Errorf("不可用时 EmbedPending 应为 no-op: n=%d err=%v", n, err)
	}
}

func TestEmbedQuery(t *testing.T) {
	var calls atomic.Int64
	server := newFakeOllama(t, &calls)
	defer server.Close()

	e := newTestEmbedder(server.URL)
	vec := e.EmbedQuery(context.Background(), "hip hinge mechanics")
	if len(vec) != 3 {
		t.Fatalf("应返回 3 维向量，实际 %d 维", len(vec))
	}
}
