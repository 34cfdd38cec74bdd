package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
	"fitfeed/internal/utils"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

const (
	maxConsecutiveErrors = 5    // 连续失败这么多次后自动禁用源
	titleDupThreshold    = 0.9  // 同源标题近似去重阈值
	summaryMaxLen        = 2000
	contentMaxLen        = 50000
	userAgent            = "fitfeed-newsbot/1.0"
)

// SourceStats 单个源一次抓取的统计
type SourceStats struct {
	SourceID uint   `json:"source_id"`
	Name     string `json:"name"`
	Found    int    `json:"articles_found"`
	New      int    `json:"articles_new"`
	Skipped  int    `json:"articles_skipped"`
	Error    string `json:"error,omitempty"`
}

// NewsFetcher RSS 抓取/入库流水线
// 阶段：Fetch → Parse → Normalize → Dedup → Enrich → Persist
type NewsFetcher struct {
	client       *http.Client
	parser       *gofeed.Parser
	maxRetries   int
	backoffBase  time.Duration
	fetchContent bool // 正文为空时是否回源抓全文
}

// NewNewsFetcher 创建抓取服务实例
func NewNewsFetcher() *NewsFetcher {
	// 连接超时 15 秒，整体读取超时 30 秒
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			MaxIdleConnsPerHost: 2,
		},
	}

	return &NewsFetcher{
		client:       httpClient,
		parser:       gofeed.NewParser(),
		maxRetries:   3,
		backoffBase:  time.Second,
		fetchContent: os.Getenv("INGEST_FULL_CONTENT") == "true",
	}
}

// 全局单例
var newsFetcher *NewsFetcher

// GetNewsFetcher 获取抓取服务单例
func GetNewsFetcher() *NewsFetcher {
	if newsFetcher == nil {
		newsFetcher = NewNewsFetcher()
	}
	return newsFetcher
}

// fetchFeedXML 带重试拉取订阅源 XML，指数退避 1s/2s/4s
func (f *NewsFetcher) fetchFeedXML(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("创建请求失败: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := f.client.Do(req)
		if err == nil {
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				if resp.StatusCode != http.StatusOK {
					resp.Body.Close()
					return "", fmt.Errorf("HTTP 状态码: %d", resp.StatusCode)
				}
				body, readErr := io.ReadAll(resp.Body)
				resp.Body.Close()
				if readErr != nil {
					lastErr = readErr
				} else {
					return string(body), nil
				}
			} else {
				resp.Body.Close()
				lastErr = fmt.Errorf("HTTP 状态码: %d", resp.StatusCode)
			}
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < f.maxRetries-1 {
			wait := f.backoffBase << attempt
			log.Printf("抓取 %s 第 %d/%d 次失败: %v，%s 后重试", url, attempt+1, f.maxRetries, lastErr, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("重试 %d 次后仍失败: %w", f.maxRetries, lastErr)
}

// ProcessSource 抓取并处理单个源，返回本次统计
// 抓取层失败计入源的连续失败计数，达到阈值自动禁用
func (f *NewsFetcher) ProcessSource(ctx context.Context, source *models.Source) SourceStats {
	stats := SourceStats{SourceID: source.ID, Name: source.Name}

	xml, err := f.fetchFeedXML(ctx, source.RSSURL)
	if err != nil {
		f.recordFailure(source, fmt.Sprintf("抓取失败: %v", err))
		stats.Error = source.LastError
		return stats
	}

	feed, err := f.parser.ParseString(xml)
	if err != nil {
		f.recordFailure(source, fmt.Sprintf("解析 RSS 失败: %v", err))
		stats.Error = source.LastError
		return stats
	}

	// 抓取成功，清零失败计数并刷新时间戳
	now := time.Now().UTC()
	db.DB.Model(source).Updates(map[string]interface{}{
		"fetch_err_count": 0,
		"last_error":      "",
		"last_fetched_at": &now,
	})
	source.FetchErrCount = 0
	source.LastError = ""
	source.LastFetchedAt = &now

	stats.Found = len(feed.Items)

	// 近 14 天同源标题，用于 URL 哈希漏掉的近似重复
	recentTitles := f.recentTitles(source.ID)

	for _, item := range feed.Items {
		if ctx.Err() != nil {
			break
		}
		if item.Link == "" {
			stats.Skipped++
			continue
		}
		if f.processEntry(source, item, recentTitles, &stats) {
			recentTitles = append(recentTitles, utils.StripHTML(item.Title))
		}
	}

	return stats
}

// processEntry 处理单条 RSS 条目，返回是否新入库
func (f *NewsFetcher) processEntry(source *models.Source, item *gofeed.Item, recentTitles []string, stats *SourceStats) bool {
	canonical := utils.CanonicalURL(item.Link)
	urlHash := utils.URLHash(item.Link)

	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}

	title := utils.StripHTML(item.Title)
	if title == "" {
		title = "Untitled"
	}
	summary := utils.Truncate(utils.StripHTML(item.Description), summaryMaxLen)
	content := utils.Truncate(utils.StripHTML(item.Content), contentMaxLen)
	author := ""
	if item.Author != nil {
		author = item.Author.Name
	}
	image := extractImage(item)
	published := parsePublished(item)

	// --- 抓取层去重：(source, url_hash) 已存在则不再处理 ---
	var existingRaw int64
	db.DB.Model(&models.RawEntry{}).
		Where("source_id = ? AND url_hash = ?", source.ID, urlHash).
		Count(&existingRaw)
	if existingRaw > 0 {
		stats.Skipped++
		return false
	}

	rawEntry := models.RawEntry{
		SourceID:     source.ID,
		GUID:         guid,
		URL:          canonical,
		URLHash:      urlHash,
		TitleRaw:     title,
		SummaryRaw:   summary,
		ContentRaw:   content,
		AuthorRaw:    author,
		ImageURLRaw:  image,
		FetchedAt:    time.Now().UTC(),
		Status:       models.RawStatusPending,
	}
	if item.Published != "" {
		rawEntry.PublishedRaw = item.Published
	} else if item.Updated != "" {
		rawEntry.PublishedRaw = item.Updated
	}

	// --- 同源标题近似去重 ---
	for _, prev := range recentTitles {
		if utils.TokenSetSimilarity(title, prev) >= titleDupThreshold {
			rawEntry.Status = models.RawStatusDuplicate
			rawEntry.ErrorMessage = "近似标题重复"
			db.DB.Create(&rawEntry)
			stats.Skipped++
			return false
		}
	}

	if err := db.DB.Create(&rawEntry).Error; err != nil {
		// 唯一索引冲突说明并发抓到了同一条，按重复处理
		stats.Skipped++
		return false
	}

	// 订阅源没给正文时按需回源抓全文
	if content == "" && f.fetchContent {
		content = utils.Truncate(f.fetchFullContent(canonical), contentMaxLen)
	}

	contentHash := utils.ContentHash(title, summary, content)
	uniqueHash := utils.SHA256(canonical)

	// --- 正式表按 (source, unique_hash) upsert ---
	var existing models.Article
	err := db.DB.Where("source_id = ? AND unique_hash = ?", source.ID, uniqueHash).First(&existing).Error
	if err == nil {
		if existing.ContentHash != contentHash {
			// 内容有变化：原地更新并重新富化，content_hash 变化会触发重新向量化
			enriched := EnrichArticle(title, summary, content, image, published)
			db.DB.Model(&existing).Updates(map[string]interface{}{
				"title":         title,
				"summary":       summary,
				"content":       content,
				"image_url":     image,
				"content_hash":  contentHash,
				"language":      enriched.Language,
				"topics_json":   marshalJSON(enriched.Topics),
				"keywords_json": marshalJSON(enriched.Keywords),
				"quality_score": enriched.QualityScore,
			})
		}
		db.DB.Model(&rawEntry).Update("status", models.RawStatusProcessed)
		stats.Skipped++
		return false
	}

	enriched := EnrichArticle(title, summary, content, image, published)
	article := models.Article{
		SourceID:     source.ID,
		Title:        title,
		Link:         canonical,
		GUID:         guid,
		UniqueHash:   uniqueHash,
		PublishedAt:  published,
		Author:       author,
		Summary:      summary,
		Content:      content,
		ImageURL:     image,
		Language:     enriched.Language,
		TopicsJSON:   marshalJSON(enriched.Topics),
		KeywordsJSON: marshalJSON(enriched.Keywords),
		QualityScore: enriched.QualityScore,
		ContentHash:  contentHash,
	}

	if err := db.DB.Create(&article).Error; err != nil {
		// 唯一索引冲突：同一篇文章换了 URL 查询参数等，按重复收场
		db.DB.Model(&rawEntry).Update("status", models.RawStatusDuplicate)
		stats.Skipped++
		return false
	}

	db.DB.Model(&rawEntry).Update("status", models.RawStatusProcessed)
	stats.New++
	return true
}

// recordFailure 失败计数 +1，达到阈值自动禁用
func (f *NewsFetcher) recordFailure(source *models.Source, reason string) {
	source.FetchErrCount++
	source.LastError = reason

	updates := map[string]interface{}{
		"fetch_err_count": source.FetchErrCount,
		"last_error":      reason,
	}
	if source.FetchErrCount >= maxConsecutiveErrors {
		source.Enabled = false
		updates["enabled"] = false
		log.Printf("源 %q 连续失败 %d 次，已自动禁用", source.Name, source.FetchErrCount)
	}
	db.DB.Model(source).Updates(updates)
}

// recentTitles 取该源近 14 天内的标题做近似去重比对
func (f *NewsFetcher) recentTitles(sourceID uint) []string {
	var titles []string
	cutoff := time.Now().UTC().AddDate(0, 0, -14)
	db.DB.Model(&models.RawEntry{}).
		Where("source_id = ? AND fetched_at >= ?", sourceID, cutoff).
		Order("fetched_at DESC").
		Limit(200).
		Pluck("title_raw", &titles)
	return titles
}

// fetchFullContent 用 readability 抓原文正文，失败时返回空串
func (f *NewsFetcher) fetchFullContent(link string) string {
	req, err := http.NewRequest(http.MethodGet, link, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), nil)
	if err != nil {
		return ""
	}
	return utils.StripHTML(article.Content)
}

// parsePublished 解析发布时间，gofeed 解析失败时用 dateparse 兜底
func parsePublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// extractImage 依次尝试 feed 自带图、enclosure、正文里的第一张 <img>
func extractImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, htmlStr := range []string{item.Content, item.Description} {
		if htmlStr == "" {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
		if err != nil {
			continue
		}
		if src, ok := doc.Find("img").First().Attr("src"); ok && src != "" {
			return src
		}
	}
	return ""
}

func marshalJSON(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}
