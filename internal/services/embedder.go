package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
	"fitfeed/internal/utils"
)

const embedContentMaxLen = 2000 // 喂给模型的正文截断长度

// Embedder 文章向量化服务，调用 Ollama 的 embeddings 接口
// 模型不可用时所有操作安静退化为"没有向量"，绝不向上抛错
type Embedder struct {
	host   string
	model  string
	client *http.Client

	mu        sync.Mutex
	probed    bool
	available bool
}

var (
	embedder     *Embedder
	embedderOnce sync.Once
)

// GetEmbedder 获取向量化服务单例
func GetEmbedder() *Embedder {
	embedderOnce.Do(func() {
		model := os.Getenv("EMBEDDING_MODEL")
		if model == "" {
			model = "nomic-embed-text"
		}
		embedder = &Embedder{
			host:   os.Getenv("EMBEDDING_HOST"), // 为空表示向量化关闭
			model:  model,
			client: &http.Client{Timeout: 60 * time.Second},
		}
	})
	return embedder
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Available 懒探测模型是否可用，探测结果缓存进程生命周期
func (e *Embedder) Available(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.probed {
		return e.available
	}
	e.probed = true

	if e.host == "" {
		log.Println("未配置 EMBEDDING_HOST，向量化关闭")
		return false
	}

	if _, err := e.embedOne(ctx, "ping"); err != nil {
		log.Printf("向量化模型不可用 (%v)，相关能力关闭", err)
		return false
	}

	log.Printf("向量化模型 %s 就绪", e.model)
	e.available = true
	return true
}

// embedOne 向量化单段文本
func (e *Embedder) embedOne(ctx context.Context, text string) ([]float64, error) {
	reqBody, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 embeddings 接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings 接口返回 %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("模型返回空向量")
	}
	return parsed.Embedding, nil
}

// EmbedQuery 向量化查询文本，模型不可用时返回 nil
func (e *Embedder) EmbedQuery(ctx context.Context, text string) []float64 {
	if !e.Available(ctx) {
		return nil
	}
	vec, err := e.embedOne(ctx, text)
	if err != nil {
		log.Printf("查询向量化失败: %v", err)
		return nil
	}
	return vec
}

// buildEmbedText 拼接标题+摘要+截断正文作为向量化输入
func buildEmbedText(a *models.Article) string {
	text := a.Title
	if a.Summary != "" {
		text += ". " + a.Summary
	}
	if a.Content != "" {
		text += ". " + utils.Truncate(a.Content, embedContentMaxLen)
	}
	return text
}

// EmbedPending 批量向量化"新增或内容有变化"的文章
// 以 content_hash 与向量化指针的比对为准，幂等且可在中断后续跑
func (e *Embedder) EmbedPending(ctx context.Context, batchSize int) (int, error) {
	if !e.Available(ctx) {
		return 0, nil
	}

	var articles []models.Article
	err := db.DB.
		Joins("LEFT JOIN article_embeddings ON article_embeddings.article_id = articles.id").
		Where("article_embeddings.id IS NULL OR article_embeddings.content_hash <> articles.content_hash").
		Limit(batchSize).
		Find(&articles).Error
	if err != nil {
		return 0, err
	}
	if len(articles) == 0 {
		return 0, nil
	}

	store := GetVectorStore()

	ids := make([]string, 0, len(articles))
	vectors := make([][]float64, 0, len(articles))
	metadata := make([]map[string]string, 0, len(articles))
	embedded := make([]*models.Article, 0, len(articles))
	dim := 0

	for i := range articles {
		article := &articles[i]
		vec, err := e.embedOne(ctx, buildEmbedText(article))
		if err != nil {
			// 单篇失败不拖垮整批
			log.Printf("文章 %d 向量化失败: %v", article.ID, err)
			continue
		}
		dim = len(vec)

		meta := map[string]string{
			"article_id": strconv.FormatUint(uint64(article.ID), 10),
			"source_id":  strconv.FormatUint(uint64(article.SourceID), 10),
			"topic":      article.PrimaryTopic(),
			"language":   article.Language,
		}
		if article.PublishedAt != nil {
			meta["published_at"] = article.PublishedAt.Format(time.RFC3339)
		}

		ids = append(ids, strconv.FormatUint(uint64(article.ID), 10))
		vectors = append(vectors, vec)
		metadata = append(metadata, meta)
		embedded = append(embedded, article)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	if err := store.Upsert(ids, vectors, metadata); err != nil {
		return 0, fmt.Errorf("写入向量索引失败: %w", err)
	}

	// 更新向量化指针，记录向量化时刻的内容哈希
	now := time.Now().UTC()
	for i, article := range embedded {
		var pointer models.ArticleEmbedding
		err := db.DB.Where("article_id = ?", article.ID).First(&pointer).Error
		if err == nil {
			db.DB.Model(&pointer).Updates(map[string]interface{}{
				"content_hash": article.ContentHash,
				"model_name":   e.model,
				"dimensions":   dim,
				"updated_at":   &now,
			})
			continue
		}
		db.DB.Create(&models.ArticleEmbedding{
			ArticleID:   article.ID,
			ContentHash: article.ContentHash,
			ModelName:   e.model,
			Dimensions:  dim,
			VectorID:    ids[i],
		})
	}

	return len(embedded), nil
}
