package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
	"fitfeed/internal/utils"
)

// 打分权重 - 固定加权和，这是排序的核心契约
// score = 0.30*similarity + 0.25*recency + 0.20*preference + 0.15*popularity
//       + 0.10*quality - 0.50*seen - 0.20*source_fatigue
const (
	weightSimilarity = 0.30
	weightRecency    = 0.25
	weightPreference = 0.20
	weightPopularity = 0.15
	weightQuality    = 0.10
	penaltySeen      = 0.50
	penaltyFatigue   = 0.20
)

// 隐式信号权重 - 回放近 30 天事件计算主题/来源亲和度
var eventSignalWeights = map[string]float64{
	models.EventImpression: -0.1,
	models.EventClick:      0.3,
	models.EventSave:       1.0,
	models.EventUnsave:     -0.5,
	models.EventHide:       -2.0,
	models.EventUnhide:     0,
	models.EventDwell:      0.5, // dwell>=30s 的基准值，>=60s 提到 1.0，<30s 降到 0.1
}

// 候选池上限与窗口
const (
	poolVectorLimit   = 50
	poolTopicLimit    = 30
	poolTrendingLimit = 20
	poolNewestLimit   = 20

	topicWindowDays    = 14
	trendingWindowDays = 3
	affinityWindowDays = 30
	seenWindowHours    = 24

	freshnessRelaxedDays = 30

	maxPerSource = 2
	maxPerTopic  = 3
)

// UserProfile 用户画像：显式偏好 + 事件回放得到的隐式亲和度
type UserProfile struct {
	UserID           uint
	Topics           []string
	Level            string
	Equipment        string
	Language         string
	Blocked          []string
	TopicAffinities  map[string]float64
	SourceAffinities map[uint]float64
	InteractedIDs    map[uint]bool // 近 30 天有过交互的文章
	HiddenIDs        map[uint]bool
	SeenIDs          map[uint]bool // 近 24 小时展示过的文章
}

// TopTopics 取前 N 个主题，显式偏好优先，其次按亲和度排序
func (p *UserProfile) TopTopics(n int) []string {
	if len(p.Topics) > 0 {
		if len(p.Topics) > n {
			return p.Topics[:n]
		}
		return p.Topics
	}

	topics := make([]string, 0, len(p.TopicAffinities))
	for topic := range p.TopicAffinities {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		if p.TopicAffinities[topics[i]] != p.TopicAffinities[topics[j]] {
			return p.TopicAffinities[topics[i]] > p.TopicAffinities[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > n {
		topics = topics[:n]
	}
	return topics
}

// Candidate 候选文章及其来源池
type Candidate struct {
	Article    models.Article
	Pool       string // vector | topic | trending | newest
	Similarity float64
	Score      float64
}

// Explanation 为什么推荐这篇，纯信息输出不影响排序
type Explanation struct {
	Reasons []string `json:"reasons"`
	Score   float64  `json:"score"`
	Pool    string   `json:"pool"`
}

// FeedItem 下发给前端的一条
// 主题和关键词存的是 JSON 字符串，下发前解开成数组
type FeedItem struct {
	models.Article
	Topics   []string     `json:"topics"`
	Keywords []string     `json:"keywords"`
	Saved    bool         `json:"saved"`
	WhyThis  *Explanation `json:"why_this,omitempty"`
}

// FeedPage 分页响应
type FeedPage struct {
	Items    []FeedItem `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
}

// Recommender 混合推荐服务
// 流程：画像 → 四池候选 → 合并去重 → 过滤 → 打分 → 排序 → 多样性重排 → 分页 → 解释 → 记展示
type Recommender struct {
	freshnessDays int
}

var (
	recommender     *Recommender
	recommenderOnce sync.Once
)

// GetRecommender 获取推荐服务单例
func GetRecommender() *Recommender {
	recommenderOnce.Do(func() {
		recommender = &Recommender{
			freshnessDays: utils.EnvInt(os.Getenv("FRESHNESS_DAYS"), 14),
		}
	})
	return recommender
}

func profileCacheKey(userID uint) string {
	return fmt.Sprintf("recommender:profile:%d", userID)
}

// InvalidateProfile 事件入库后让画像缓存失效
func InvalidateProfile(userID uint) {
	utils.GetCache().Delete(profileCacheKey(userID))
}

// BuildUserProfile 构建用户画像
// 短 TTL 缓存一份，让同一批次的翻页基于同一个画像，事件提交时主动失效
func (r *Recommender) BuildUserProfile(userID uint) *UserProfile {
	if cached := utils.GetCache().Get(profileCacheKey(userID)); cached != nil {
		if profile, ok := cached.(*UserProfile); ok {
			return profile
		}
	}

	profile := &UserProfile{
		UserID:           userID,
		Level:            "beginner",
		Equipment:        "gym",
		Language:         "en",
		TopicAffinities:  make(map[string]float64),
		SourceAffinities: make(map[uint]float64),
		InteractedIDs:    make(map[uint]bool),
		HiddenIDs:        make(map[uint]bool),
		SeenIDs:          make(map[uint]bool),
	}

	// --- 显式偏好（首次访问自动建默认行） ---
	prefs := GetOrCreatePreference(userID)
	profile.Topics = prefs.TopicList()
	profile.Blocked = prefs.BlockedList()
	if prefs.Level != "" {
		profile.Level = prefs.Level
	}
	if prefs.Equipment != "" {
		profile.Equipment = prefs.Equipment
	}
	if prefs.Language != "" {
		profile.Language = prefs.Language
	}

	// --- 隐藏的文章 ---
	var hiddenIDs []uint
	db.DB.Model(&models.HiddenArticle{}).Where("user_id = ?", userID).Pluck("article_id", &hiddenIDs)
	for _, id := range hiddenIDs {
		profile.HiddenIDs[id] = true
	}

	// --- 近 24 小时的展示记录 ---
	seenCutoff := time.Now().UTC().Add(-seenWindowHours * time.Hour)
	var seenIDs []uint
	db.DB.Model(&models.FeedImpression{}).
		Where("user_id = ? AND created_at >= ?", userID, seenCutoff).
		Pluck("article_id", &seenIDs)
	for _, id := range seenIDs {
		profile.SeenIDs[id] = true
	}

	// --- 回放近 30 天事件计算隐式亲和度 ---
	eventCutoff := time.Now().UTC().AddDate(0, 0, -affinityWindowDays)
	var events []models.UserEvent
	db.DB.Where("user_id = ? AND created_at >= ?", userID, eventCutoff).Find(&events)

	articleIDs := make([]uint, 0, len(events))
	for _, event := range events {
		articleIDs = append(articleIDs, event.ArticleID)
	}
	articlesByID := loadArticles(articleIDs)

	topicScores := make(map[string]float64)
	sourceScores := make(map[uint]float64)
	for _, event := range events {
		weight := eventSignalWeights[event.EventType]
		if event.EventType == models.EventDwell {
			switch {
			case event.DwellSeconds >= 60:
				weight = 1.0
			case event.DwellSeconds >= 30:
				weight = 0.5
			default:
				weight = 0.1
			}
		}

		profile.InteractedIDs[event.ArticleID] = true

		article, ok := articlesByID[event.ArticleID]
		if !ok {
			continue
		}
		for _, topic := range article.Topics() {
			topicScores[topic] += weight
		}
		sourceScores[article.SourceID] += weight
	}

	// 归一化到 [0,1]，0.5 为中性
	if maxScore := maxAbs(topicScores); maxScore > 0 {
		for topic, v := range topicScores {
			profile.TopicAffinities[topic] = clamp01((v/maxScore + 1) / 2)
		}
	}
	if len(sourceScores) > 0 {
		maxScore := 0.0
		for _, v := range sourceScores {
			if math.Abs(v) > maxScore {
				maxScore = math.Abs(v)
			}
		}
		if maxScore > 0 {
			for id, v := range sourceScores {
				profile.SourceAffinities[id] = clamp01((v/maxScore + 1) / 2)
			}
		}
	}

	utils.GetCache().Set(profileCacheKey(userID), profile, time.Minute)
	return profile
}

// GetFeed 执行完整推荐流水线并记录展示
func (r *Recommender) GetFeed(ctx context.Context, userID uint, page, pageSize int, explain bool) *FeedPage {
	if page < 1 {
		page = 1
	}

	profile := r.BuildUserProfile(userID)

	// 1. 四池候选，固定顺序合并去重：同一篇文章保留最先产出它的池
	// （vector 在最前，带相似度的候选优先保留）
	merged := make(map[uint]*Candidate)
	var order []uint
	addPool := func(candidates []Candidate) {
		for i := range candidates {
			id := candidates[i].Article.ID
			if _, exists := merged[id]; exists {
				continue
			}
			merged[id] = &candidates[i]
			order = append(order, id)
		}
	}

	addPool(r.vectorCandidates(ctx, profile))
	addPool(r.topicCandidates(profile))
	addPool(r.trendingCandidates())
	addPool(r.newestCandidates())

	candidates := make([]*Candidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, merged[id])
	}

	// 2. 过滤；空了就逐级放宽（先放宽时效到 30 天，再放开已看过），隐藏永不放开
	filtered := r.filterCandidates(candidates, profile, r.freshnessDays, true)
	if len(filtered) == 0 {
		filtered = r.filterCandidates(candidates, profile, freshnessRelaxedDays, true)
	}
	if len(filtered) == 0 {
		filtered = r.filterCandidates(candidates, profile, freshnessRelaxedDays, false)
	}

	// 3. 打分（来源疲劳按打分顺序累计）
	sourceCounts := make(map[uint]int)
	for _, c := range filtered {
		c.Score = r.scoreCandidate(c, profile, sourceCounts)
		sourceCounts[c.Article.SourceID]++
	}

	// 4. 按分数降序，同分按发布时间新者优先
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return publishedAfter(filtered[i].Article.PublishedAt, filtered[j].Article.PublishedAt)
	})

	// 5. 多样性重排，预留三页的量再分页
	diversified := diversify(filtered, pageSize*3)
	total := len(diversified)

	// 6. 分页
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	pageItems := diversified[start:end]

	// 7. 记录展示（下发即记录，与用户是否操作无关）
	for pos, c := range pageItems {
		db.DB.Create(&models.FeedImpression{
			UserID:    userID,
			ArticleID: c.Article.ID,
			Position:  start + pos,
			FeedType:  "feed",
		})
	}

	// 8. 组装响应
	savedIDs := savedArticleIDs(userID, pageItems)
	items := make([]FeedItem, 0, len(pageItems))
	for _, c := range pageItems {
		item := FeedItem{
			Article:  c.Article,
			Topics:   c.Article.Topics(),
			Keywords: c.Article.Keywords(),
			Saved:    savedIDs[c.Article.ID],
		}
		if explain {
			item.WhyThis = explainCandidate(c, profile)
		}
		items = append(items, item)
	}

	return &FeedPage{Items: items, Page: page, PageSize: pageSize, Total: total}
}

// vectorCandidates 向量池：用用户主题词做语义检索
// 索引为空、模型不可用、后端出错都只意味着这个池为空
func (r *Recommender) vectorCandidates(ctx context.Context, profile *UserProfile) []Candidate {
	store := GetVectorStore()
	if store.Count() == 0 {
		return nil
	}

	queryTerms := profile.TopTopics(5)
	queryText := strings.Join(queryTerms, " ")
	if queryText == "" {
		queryText = "fitness training workout"
	}

	queryVector := GetEmbedder().EmbedQuery(ctx, queryText)
	if queryVector == nil {
		return nil
	}

	hits, err := store.Search(queryVector, poolVectorLimit, nil)
	if err != nil {
		log.Printf("向量检索失败 (%v)，本次只用其余候选池", err)
		return nil
	}

	ids := make([]uint, 0, len(hits))
	scores := make(map[uint]float64, len(hits))
	for _, hit := range hits {
		id64, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id64))
		scores[uint(id64)] = hit.Score
	}

	articlesByID := loadArticles(ids)
	candidates := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		article, ok := articlesByID[id]
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{Article: article, Pool: "vector", Similarity: scores[id]})
	}
	return candidates
}

// topicCandidates 主题池：近 14 天内命中用户前 3 主题的文章
func (r *Recommender) topicCandidates(profile *UserProfile) []Candidate {
	topTopics := profile.TopTopics(3)
	if len(topTopics) == 0 {
		return nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -topicWindowDays)
	query := db.DB.Model(&models.Article{}).Preload("Source").
		Joins("JOIN sources ON sources.id = articles.source_id").
		Where("sources.enabled = ?", true).
		Where("articles.published_at >= ?", cutoff)

	topicCond := db.DB.Where("articles.topics_json LIKE ?", `%"`+topTopics[0]+`"%`)
	for _, topic := range topTopics[1:] {
		topicCond = topicCond.Or("articles.topics_json LIKE ?", `%"`+topic+`"%`)
	}

	var articles []models.Article
	query.Where(topicCond).Order("articles.published_at DESC").Limit(poolTopicLimit).Find(&articles)

	return wrapPool(articles, "topic")
}

// trendingCandidates 热门池：近 3 天人气分最高的文章
func (r *Recommender) trendingCandidates() []Candidate {
	cutoff := time.Now().UTC().AddDate(0, 0, -trendingWindowDays)
	var articles []models.Article
	db.DB.Model(&models.Article{}).Preload("Source").
		Joins("JOIN sources ON sources.id = articles.source_id").
		Where("sources.enabled = ?", true).
		Where("articles.published_at >= ?", cutoff).
		Order("articles.popularity_score DESC").
		Limit(poolTrendingLimit).
		Find(&articles)

	return wrapPool(articles, "trending")
}

// newestCandidates 最新池：不看主题，只看发布时间
func (r *Recommender) newestCandidates() []Candidate {
	var articles []models.Article
	db.DB.Model(&models.Article{}).Preload("Source").
		Joins("JOIN sources ON sources.id = articles.source_id").
		Where("sources.enabled = ?", true).
		Order("articles.published_at DESC").
		Limit(poolNewestLimit).
		Find(&articles)

	return wrapPool(articles, "newest")
}

// filterCandidates 过滤不该出现的候选
// useSeen=false 时放开 24 小时内已展示的过滤（放宽的最后一档）
func (r *Recommender) filterCandidates(candidates []*Candidate, profile *UserProfile, freshnessDays int, useSeen bool) []*Candidate {
	cutoff := time.Now().UTC().AddDate(0, 0, -freshnessDays)

	var filtered []*Candidate
	for _, c := range candidates {
		a := &c.Article
		// 隐藏过的永不出现
		if profile.HiddenIDs[a.ID] {
			continue
		}
		if useSeen && profile.SeenIDs[a.ID] {
			continue
		}
		if a.Source.ID != 0 && !a.Source.Enabled {
			continue
		}
		if a.PublishedAt != nil && a.PublishedAt.Before(cutoff) {
			continue
		}
		if profile.Language != "" && a.Language != "" && a.Language != profile.Language {
			continue
		}
		if len(profile.Blocked) > 0 {
			text := strings.ToLower(a.Title + " " + a.Summary)
			blocked := false
			for _, kw := range profile.Blocked {
				if strings.Contains(text, kw) {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// scoreCandidate 固定加权和打分
func (r *Recommender) scoreCandidate(c *Candidate, profile *UserProfile, sourceCounts map[uint]int) float64 {
	a := &c.Article

	// 时效衰减 exp(-0.1 * 天数)，没有发布时间按 0.3 计
	recency := 0.3
	if a.PublishedAt != nil {
		daysOld := time.Since(*a.PublishedAt).Hours() / 24
		if daysOld < 0 {
			daysOld = 0
		}
		recency = math.Exp(-0.1 * daysOld)
	}

	// 偏好匹配：命中显式主题记 1.0，否则取最高的主题亲和度
	prefMatch := 0.0
	for _, topic := range a.Topics() {
		if containsString(profile.Topics, topic) {
			prefMatch = 1.0
			break
		}
		if affinity, ok := profile.TopicAffinities[topic]; ok && affinity > prefMatch {
			prefMatch = affinity
		}
	}

	// 人气先下限到 0 再归一化
	popularity := a.PopularityScore
	if popularity < 0 {
		popularity = 0
	}
	popularity = math.Min(1.0, popularity/100)

	seenPenalty := 0.0
	if profile.InteractedIDs[a.ID] {
		seenPenalty = penaltySeen
	}
	fatiguePenalty := 0.0
	if sourceCounts[a.SourceID] >= 3 {
		fatiguePenalty = penaltyFatigue
	}

	score := weightSimilarity*c.Similarity +
		weightRecency*recency +
		weightPreference*prefMatch +
		weightPopularity*popularity +
		weightQuality*a.QualityScore -
		seenPenalty -
		fatiguePenalty

	return math.Round(score*10000) / 10000
}

// diversify 贪心多样性重排：每页同源最多 2 篇，同主主题最多 3 篇
// 被跳过的候选不丢弃总排序，只是这一批不出现
func diversify(ranked []*Candidate, limit int) []*Candidate {
	var result []*Candidate
	sourceCount := make(map[uint]int)
	topicCount := make(map[string]int)

	for _, c := range ranked {
		if sourceCount[c.Article.SourceID] >= maxPerSource {
			continue
		}
		primaryTopic := c.Article.PrimaryTopic()
		if topicCount[primaryTopic] >= maxPerTopic {
			continue
		}

		result = append(result, c)
		sourceCount[c.Article.SourceID]++
		topicCount[primaryTopic]++

		if len(result) >= limit {
			break
		}
	}
	return result
}

// explainCandidate 生成推荐理由
func explainCandidate(c *Candidate, profile *UserProfile) *Explanation {
	var reasons []string

	for _, topic := range c.Article.Topics() {
		if containsString(profile.Topics, topic) {
			reasons = append(reasons, "matched_topic:"+topic)
			break
		}
		if profile.TopicAffinities[topic] > 0.5 {
			reasons = append(reasons, "affinity_topic:"+topic)
			break
		}
	}

	if c.Similarity > 0.5 {
		reasons = append(reasons, "high_similarity")
	}
	if c.Article.PublishedAt != nil && time.Since(*c.Article.PublishedAt) < 48*time.Hour {
		reasons = append(reasons, "freshness_boost")
	}
	if c.Article.QualityScore >= 0.8 {
		reasons = append(reasons, "high_quality")
	}
	if c.Article.PopularityScore > 10 {
		reasons = append(reasons, "trending")
	}
	if c.Pool == "newest" {
		reasons = append(reasons, "newest")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "diverse_pick")
	}

	return &Explanation{
		Reasons: reasons,
		Score:   math.Round(c.Score*1000) / 1000,
		Pool:    c.Pool,
	}
}

// ---------------------------------------------------------------------------
// 小工具
// ---------------------------------------------------------------------------

func wrapPool(articles []models.Article, pool string) []Candidate {
	candidates := make([]Candidate, 0, len(articles))
	for _, a := range articles {
		candidates = append(candidates, Candidate{Article: a, Pool: pool})
	}
	return candidates
}

func loadArticles(ids []uint) map[uint]models.Article {
	result := make(map[uint]models.Article)
	if len(ids) == 0 {
		return result
	}
	var articles []models.Article
	db.DB.Preload("Source").Where("id IN ?", ids).Find(&articles)
	for _, a := range articles {
		result[a.ID] = a
	}
	return result
}

func savedArticleIDs(userID uint, candidates []*Candidate) map[uint]bool {
	result := make(map[uint]bool)
	if len(candidates) == 0 {
		return result
	}
	ids := make([]uint, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Article.ID)
	}
	var savedIDs []uint
	db.DB.Model(&models.SavedArticle{}).
		Where("user_id = ? AND article_id IN ?", userID, ids).
		Pluck("article_id", &savedIDs)
	for _, id := range savedIDs {
		result[id] = true
	}
	return result
}

func publishedAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func maxAbs(m map[string]float64) float64 {
	maxScore := 0.0
	for _, v := range m {
		if math.Abs(v) > maxScore {
			maxScore = math.Abs(v)
		}
	}
	return maxScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
