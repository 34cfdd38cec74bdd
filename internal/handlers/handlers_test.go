package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
	"fitfeed/internal/router"
	"fitfeed/internal/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	db.DB = gdb
	utils.GetCache().Purge()
	t.Cleanup(func() { sqlDB.Close() })

	r := gin.New()
	router.RegisterRoutes(r)
	return r
}

func doRequest(r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func userHeaders(id uint) map[string]string {
	return map[string]string{"X-User-ID": fmt.Sprint(id)}
}

func adminHeaders(id uint) map[string]string {
	return map[string]string{"X-User-ID": fmt.Sprint(id), "X-User-Role": "admin"}
}

func seedArticle(t *testing.T, title string) *models.Article {
	t.Helper()
	source := &models.Source{Name: "S-" + title, RSSURL: "https://example.com/" + title, Enabled: true, Priority: 1}
	if err := db.DB.Create(source).Error; err != nil {
		t.Fatalf("创建源失败: %v", err)
	}
	now := time.Now().UTC().Add(-time.Hour)
	article := &models.Article{
		SourceID:    source.ID,
		Title:       title,
		Link:        "https://example.com/" + title + "/a",
		UniqueHash:  utils.SHA256(title),
		PublishedAt: &now,
		Summary:     "summary",
		Language:    "en",
		TopicsJSON:  `["strength"]`,
	}
	if err := db.DB.Create(article).Error; err != nil {
		t.Fatalf("创建文章失败: %v", err)
	}
	return article
}

func TestAuthRequired(t *testing.T) {
	r := setupRouter(t)

	// 没有网关身份头一律 401
	w := doRequest(r, http.MethodGet, "/api/news/feed", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("无身份头应 401，实际 %d", w.Code)
	}

	// 非 admin 访问管理接口 403
	w = doRequest(r, http.MethodGet, "/api/admin/sources", nil, userHeaders(1))
	if w.Code != http.StatusForbidden {
		t.Errorf("非 admin 应 403，实际 %d", w.Code)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	r := setupRouter(t)

	// 首次读取返回自动创建的默认值
	w := doRequest(r, http.MethodGet, "/api/news/preferences", nil, userHeaders(1))
	if w.Code != http.StatusOK {
		t.Fatalf("读取偏好失败: %d %s", w.Code, w.Body.String())
	}
	var prefs models.UserPreference
	json.Unmarshal(w.Body.Bytes(), &prefs)
	if prefs.Level != "beginner" || prefs.Language != "en" {
		t.Errorf("默认偏好不对: %+v", prefs)
	}

	// 部分更新：只改 topics，其余保持
	w = doRequest(r, http.MethodPut, "/api/news/preferences",
		map[string]interface{}{"topics": []string{"strength", "recovery"}}, userHeaders(1))
	if w.Code != http.StatusOK {
		t.Fatalf("更新偏好失败: %d %s", w.Code, w.Body.String())
	}
	json.Unmarshal(w.Body.Bytes(), &prefs)
	if prefs.Topics != "strength,recovery" {
		t.Errorf("topics 应更新，实际 %q", prefs.Topics)
	}
	if prefs.Level != "beginner" {
		t.Errorf("未提交的字段应保持原值，实际 %q", prefs.Level)
	}
}

func TestSaveAndHideFlow(t *testing.T) {
	r := setupRouter(t)
	article := seedArticle(t, "squat-day")

	// 收藏
	path := fmt.Sprintf("/api/news/articles/%d/save", article.ID)
	w := doRequest(r, http.MethodPost, path, nil, userHeaders(1))
	if w.Code != http.StatusOK {
		t.Fatalf("收藏失败: %d %s", w.Code, w.Body.String())
	}
	// 重复收藏幂等
	if w := doRequest(r, http.MethodPost, path, nil, userHeaders(1)); w.Code != http.StatusOK {
		t.Errorf("重复收藏应幂等返回 200，实际 %d", w.Code)
	}

	// 收藏列表里能看到
	w = doRequest(r, http.MethodGet, "/api/news/saved", nil, userHeaders(1))
	var savedResp struct {
		Total int64 `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &savedResp)
	if savedResp.Total != 1 {
		t.Errorf("收藏列表应有 1 条，实际 %d", savedResp.Total)
	}

	// 取消收藏后列表为空
	w = doRequest(r, http.MethodDelete, path, nil, userHeaders(1))
	if w.Code != http.StatusOK {
		t.Fatalf("取消收藏失败: %d", w.Code)
	}
	w = doRequest(r, http.MethodGet, "/api/news/saved", nil, userHeaders(1))
	json.Unmarshal(w.Body.Bytes(), &savedResp)
	if savedResp.Total != 0 {
		t.Errorf("取消后收藏列表应为空，实际 %d", savedResp.Total)
	}

	// 不存在的文章 404
	w = doRequest(r, http.MethodPost, "/api/news/articles/99999/save", nil, userHeaders(1))
	if w.Code != http.StatusNotFound {
		t.Errorf("不存在的文章应 404，实际 %d", w.Code)
	}

	// 隐藏后 feed 里不再出现
	hidePath := fmt.Sprintf("/api/news/articles/%d/hide", article.ID)
	if w := doRequest(r, http.MethodPost, hidePath, nil, userHeaders(1)); w.Code != http.StatusOK {
		t.Fatalf("隐藏失败: %d", w.Code)
	}
	w = doRequest(r, http.MethodGet, "/api/news/feed", nil, userHeaders(1))
	var feed struct {
		Items []models.Article `json:"items"`
	}
	json.Unmarshal(w.Body.Bytes(), &feed)
	for _, item := range feed.Items {
		if item.ID == article.ID {
			t.Error("隐藏的文章出现在了 feed 里")
		}
	}
}

func TestEventEndpoint(t *testing.T) {
	r := setupRouter(t)
	article := seedArticle(t, "bench-day")

	// 正常批量提交
	w := doRequest(r, http.MethodPost, "/api/news/events", map[string]interface{}{
		"events": []map[string]interface{}{
			{"article_id": article.ID, "event_type": "click", "session_id": "s1"},
			{"article_id": article.ID, "event_type": "dwell", "dwell_seconds": 45, "session_id": "s1"},
		},
	}, userHeaders(1))
	if w.Code != http.StatusOK {
		t.Fatalf("事件提交失败: %d %s", w.Code, w.Body.String())
	}
	var result struct {
		Accepted int `json:"accepted"`
	}
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Accepted != 2 {
		t.Errorf("应接受 2 条事件，实际 %d", result.Accepted)
	}

	// 未知类型整批 422
	w = doRequest(r, http.MethodPost, "/api/news/events", map[string]interface{}{
		"events": []map[string]interface{}{
			{"article_id": article.ID, "event_type": "like"},
		},
	}, userHeaders(1))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("未知事件类型应 422，实际 %d", w.Code)
	}
}

func TestAdminSourceCRUD(t *testing.T) {
	r := setupRouter(t)

	// 创建
	w := doRequest(r, http.MethodPost, "/api/admin/sources", map[string]interface{}{
		"name":    "New Feed",
		"rss_url": "https://example.com/new/feed",
	}, adminHeaders(9))
	if w.Code != http.StatusCreated {
		t.Fatalf("创建源失败: %d %s", w.Code, w.Body.String())
	}
	var source models.Source
	json.Unmarshal(w.Body.Bytes(), &source)
	if !source.Enabled || source.Priority != 1 {
		t.Errorf("新源默认值不对: %+v", source)
	}

	// rss_url 冲突
	w = doRequest(r, http.MethodPost, "/api/admin/sources", map[string]interface{}{
		"name":    "Dup Feed",
		"rss_url": "https://example.com/new/feed",
	}, adminHeaders(9))
	if w.Code != http.StatusConflict {
		t.Errorf("重复 rss_url 应 409，实际 %d", w.Code)
	}

	// 手动启用被禁用的源会清零失败计数
	db.DB.Model(&models.Source{}).Where("id = ?", source.ID).
		Updates(map[string]interface{}{"enabled": false, "fetch_err_count": 5, "last_error": "boom"})
	w = doRequest(r, http.MethodPut, fmt.Sprintf("/api/admin/sources/%d", source.ID),
		map[string]interface{}{"enabled": true}, adminHeaders(9))
	if w.Code != http.StatusOK {
		t.Fatalf("更新源失败: %d %s", w.Code, w.Body.String())
	}
	var updated models.Source
	db.DB.First(&updated, source.ID)
	if !updated.Enabled || updated.FetchErrCount != 0 || updated.LastError != "" {
		t.Errorf("手动启用应清零失败状态: %+v", updated)
	}

	// toggle 翻转启用状态
	w = doRequest(r, http.MethodPost, fmt.Sprintf("/api/admin/sources/%d/toggle", source.ID), nil, adminHeaders(9))
	if w.Code != http.StatusOK {
		t.Fatalf("toggle 失败: %d", w.Code)
	}
	db.DB.First(&updated, source.ID)
	if updated.Enabled {
		t.Error("toggle 后源应被禁用")
	}

	// 删除
	w = doRequest(r, http.MethodDelete, fmt.Sprintf("/api/admin/sources/%d", source.ID), nil, adminHeaders(9))
	if w.Code != http.StatusOK {
		t.Fatalf("删除源失败: %d", w.Code)
	}
	w = doRequest(r, http.MethodDelete, fmt.Sprintf("/api/admin/sources/%d", source.ID), nil, adminHeaders(9))
	if w.Code != http.StatusNotFound {
		t.Errorf("重复删除应 404，实际 %d", w.Code)
	}
}

func TestFeedEndpoint(t *testing.T) {
	r := setupRouter(t)
	seedArticle(t, "ohp-day")

	w := doRequest(r, http.MethodGet, "/api/news/feed?page_size=10&explain=true", nil, userHeaders(3))
	if w.Code != http.StatusOK {
		t.Fatalf("feed 请求失败: %d %s", w.Code, w.Body.String())
	}

	var feed struct {
		Items []struct {
			ID      uint                   `json:"id"`
			WhyThis map[string]interface{} `json:"why_this"`
		} `json:"items"`
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}
	json.Unmarshal(w.Body.Bytes(), &feed)
	if len(feed.Items) != 1 {
		t.Fatalf("feed 应返回 1 条，实际 %d", len(feed.Items))
	}
	if feed.Items[0].WhyThis == nil {
		t.Error("explain=true 时每条都应带 why_this")
	}
	if feed.Page != 1 || feed.PageSize != 10 {
		t.Errorf("分页元数据不对: page=%d size=%d", feed.Page, feed.PageSize)
	}
}
