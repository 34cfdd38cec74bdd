package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"fitfeed/internal/utils"
)

// SearchHit 向量检索命中
type SearchHit struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorStore 向量索引的统一契约，local / qdrant / null 三种后端可互换
// 索引只是文章表的派生缓存，任何时候都能从文章和内容哈希重建
type VectorStore interface {
	Upsert(ids []string, vectors [][]float64, metadata []map[string]string) error
	Search(query []float64, topK int, filters map[string]string) ([]SearchHit, error)
	Delete(ids []string) error
	Count() int
}

var (
	vectorStore     VectorStore
	vectorStoreOnce sync.Once
)

// GetVectorStore 按 VECTOR_PROVIDER 选择后端，初始化失败一律退化为 null
func GetVectorStore() VectorStore {
	vectorStoreOnce.Do(func() {
		provider := os.Getenv("VECTOR_PROVIDER")
		switch provider {
		case "local":
			path := os.Getenv("VECTOR_LOCAL_PATH")
			if path == "" {
				path = "./data/vectors.json"
			}
			store, err := NewLocalVectorStore(path)
			if err != nil {
				log.Printf("本地向量索引初始化失败 (%v)，退化为空实现", err)
				vectorStore = NewNullVectorStore()
				return
			}
			vectorStore = store
		case "qdrant":
			url := os.Getenv("QDRANT_URL")
			if url == "" {
				url = "http://localhost:6333"
			}
			collection := os.Getenv("QDRANT_COLLECTION")
			if collection == "" {
				collection = "fitfeed-news"
			}
			vectorStore = NewQdrantVectorStore(url, collection)
		default:
			log.Printf("向量检索未启用 (VECTOR_PROVIDER=%q)", provider)
			vectorStore = NewNullVectorStore()
		}
	})
	return vectorStore
}

// ---------------------------------------------------------------------------
// 本地后端：进程内暴力余弦检索 + JSON 落盘，单机部署零依赖
// ---------------------------------------------------------------------------

type localRecord struct {
	Vector   []float64         `json:"vector"`
	Metadata map[string]string `json:"metadata"`
}

// LocalVectorStore 嵌入式向量索引
type LocalVectorStore struct {
	mu      sync.RWMutex
	path    string
	records map[string]localRecord
}

// NewLocalVectorStore 创建并从磁盘恢复本地索引
func NewLocalVectorStore(path string) (*LocalVectorStore, error) {
	s := &LocalVectorStore{
		path:    path,
		records: make(map[string]localRecord),
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("恢复本地向量索引失败: %w", err)
		}
		log.Printf("本地向量索引就绪（%d 条向量）", len(s.records))
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

func (s *LocalVectorStore) Upsert(ids []string, vectors [][]float64, metadata []map[string]string) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids 与 vectors 数量不一致: %d != %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	for i, id := range ids {
		rec := localRecord{Vector: vectors[i]}
		if i < len(metadata) {
			rec.Metadata = metadata[i]
		}
		s.records[id] = rec
	}
	s.mu.Unlock()

	return s.persist()
}

func (s *LocalVectorStore) Search(query []float64, topK int, filters map[string]string) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]SearchHit, 0, len(s.records))
	for id, rec := range s.records {
		if !matchFilters(rec.Metadata, filters) {
			continue
		}
		score := utils.CosineSimilarity(query, rec.Vector)
		hits = append(hits, SearchHit{ID: id, Score: score, Metadata: rec.Metadata})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *LocalVectorStore) Delete(ids []string) error {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.records, id)
	}
	s.mu.Unlock()
	return s.persist()
}

func (s *LocalVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// persist 全量快照落盘，索引量级（千级文章）下够用
func (s *LocalVectorStore) persist() error {
	s.mu.RLock()
	data, err := json.Marshal(s.records)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}

func matchFilters(meta, filters map[string]string) bool {
	for k, v := range filters {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Qdrant 后端：REST 接口，共享/生产部署用
// ---------------------------------------------------------------------------

// QdrantVectorStore 通过 HTTP 调用 Qdrant
type QdrantVectorStore struct {
	baseURL    string
	collection string
	client     *http.Client
	ensured    bool
	mu         sync.Mutex
}

// NewQdrantVectorStore 创建 Qdrant 客户端，集合在首次写入时按需创建
func NewQdrantVectorStore(baseURL, collection string) *QdrantVectorStore {
	return &QdrantVectorStore{
		baseURL:    baseURL,
		collection: collection,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *QdrantVectorStore) ensureCollection(dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{"size": dim, "distance": "Cosine"},
	}
	// 已存在时 Qdrant 返回 409，同样视为就绪
	status, _, err := s.do(http.MethodPut, "/collections/"+s.collection, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("创建集合失败，HTTP 状态码: %d", status)
	}
	s.ensured = true
	return nil
}

func (s *QdrantVectorStore) Upsert(ids []string, vectors [][]float64, metadata []map[string]string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureCollection(len(vectors[0])); err != nil {
		return err
	}

	points := make([]map[string]interface{}, 0, len(ids))
	for i, id := range ids {
		payload := map[string]string{}
		if i < len(metadata) {
			payload = metadata[i]
		}
		points = append(points, map[string]interface{}{
			"id":      qdrantID(id),
			"vector":  vectors[i],
			"payload": payload,
		})
	}

	status, _, err := s.do(http.MethodPut, "/collections/"+s.collection+"/points", map[string]interface{}{"points": points})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("upsert 失败，HTTP 状态码: %d", status)
	}
	return nil
}

func (s *QdrantVectorStore) Search(query []float64, topK int, filters map[string]string) ([]SearchHit, error) {
	body := map[string]interface{}{
		"vector":       query,
		"limit":        topK,
		"with_payload": true,
	}
	if len(filters) > 0 {
		var must []map[string]interface{}
		for k, v := range filters {
			must = append(must, map[string]interface{}{
				"key":   k,
				"match": map[string]string{"value": v},
			})
		}
		body["filter"] = map[string]interface{}{"must": must}
	}

	status, respBody, err := s.do(http.MethodPost, "/collections/"+s.collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search 失败，HTTP 状态码: %d", status)
	}

	var parsed struct {
		Result []struct {
			ID      json.Number       `json:"id"`
			Score   float64           `json:"score"`
			Payload map[string]string `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		hits = append(hits, SearchHit{ID: r.ID.String(), Score: r.Score, Metadata: r.Payload})
	}
	return hits, nil
}

func (s *QdrantVectorStore) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		points = append(points, qdrantID(id))
	}
	status, _, err := s.do(http.MethodPost, "/collections/"+s.collection+"/points/delete", map[string]interface{}{"points": points})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("delete 失败，HTTP 状态码: %d", status)
	}
	return nil
}

func (s *QdrantVectorStore) Count() int {
	status, respBody, err := s.do(http.MethodGet, "/collections/"+s.collection, nil)
	if err != nil || status != http.StatusOK {
		return 0
	}
	var parsed struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0
	}
	return parsed.Result.PointsCount
}

func (s *QdrantVectorStore) do(method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// qdrantID Qdrant 的点 ID 要求整数或 UUID，文章 ID 直接用整数
func qdrantID(id string) interface{} {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}
	return id
}

// ---------------------------------------------------------------------------
// 空实现：永远返回空结果，推荐服务只靠其余三个候选池
// ---------------------------------------------------------------------------

// NullVectorStore 向量检索关闭/不可用时的空实现
type NullVectorStore struct{}

func NewNullVectorStore() *NullVectorStore { return &NullVectorStore{} }

func (s *NullVectorStore) Upsert(ids []string, vectors [][]float64, metadata []map[string]string) error {
	return nil
}

func (s *NullVectorStore) Search(query []float64, topK int, filters map[string]string) ([]SearchHit, error) {
	return nil, nil
}

func (s *NullVectorStore) Delete(ids []string) error { return nil }

func (s *NullVectorStore) Count() int { return 0 }
