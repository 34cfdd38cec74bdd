package services

import (
	"fmt"
	"testing"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
	"fitfeed/internal/utils"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 每个测试用独立的内存 SQLite，避免相互污染
func setupTestDB(t *testing.T) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("获取底层连接失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}

	db.DB = gdb
	// 画像缓存跨测试共享，换库后必须清空
	utils.GetCache().Purge()

	t.Cleanup(func() {
		sqlDB.Close()
	})
}

func createTestSource(t *testing.T, name string) *models.Source {
	t.Helper()
	source := &models.Source{
		Name:     name,
		RSSURL:   "https://example.com/" + name + "/feed",
		Category: "fitness",
		Enabled:  true,
		Priority: 1,
	}
	if err := db.DB.Create(source).Error; err != nil {
		t.Fatalf("创建测试源失败: %v", err)
	}
	return source
}

type testArticleOpts struct {
	Title       string
	Topics      string // JSON 数组字符串，空则 ["strength"]
	Keywords    string // JSON 数组字符串，空则 []
	PublishedAt *time.Time
	Popularity  float64
	Quality     float64
	Language    string
}

func createTestArticle(t *testing.T, source *models.Source, opts testArticleOpts) *models.Article {
	t.Helper()

	if opts.Title == "" {
		opts.Title = "Test Article"
	}
	if opts.Topics == "" {
		opts.Topics = `["strength"]`
	}
	if opts.Keywords == "" {
		opts.Keywords = `[]`
	}
	if opts.PublishedAt == nil {
		now := time.Now().UTC().Add(-time.Hour)
		opts.PublishedAt = &now
	}
	if opts.Language == "" {
		opts.Language = "en"
	}

	link := fmt.Sprintf("https://example.com/%s/%d", opts.Title, time.Now().UnixNano())
	article := &models.Article{
		SourceID:        source.ID,
		Title:           opts.Title,
		Link:            link,
		GUID:            link,
		UniqueHash:      utils.SHA256(link),
		PublishedAt:     opts.PublishedAt,
		Summary:         "summary of " + opts.Title,
		Language:        opts.Language,
		TopicsJSON:      opts.Topics,
		KeywordsJSON:    opts.Keywords,
		QualityScore:    opts.Quality,
		PopularityScore: opts.Popularity,
		ContentHash:     utils.ContentHash(opts.Title, "summary of "+opts.Title, ""),
	}
	if err := db.DB.Create(article).Error; err != nil {
		t.Fatalf("创建测试文章失败: %v", err)
	}
	return article
}
