package services

import (
	"context"
	"testing"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
)

func setPreference(t *testing.T, userID uint, topics, blocked string) {
	t.Helper()
	pref := models.UserPreference{
		UserID:          userID,
		Topics:          topics,
		Level:           "beginner",
		Equipment:       "gym",
		Language:        "en",
		BlockedKeywords: blocked,
	}
	if err := db.DB.Create(&pref).Error; err != nil {
		t.Fatalf("写入偏好失败: %v", err)
	}
}

func TestBuildUserProfile(t *testing.T) {
	setupTestDB(t)
	source := createTestSource(t, "src")
	strengthArticle := createTestArticle(t, source, testArticleOpts{Title: "Squat Guide", Topics: `["strength"]`})
	cardioArticle := createTestArticle(t, source, testArticleOpts{Title: "Zone 2 Basics", Topics: `["cardio"]`})

	setPreference(t, 1, "strength", "")

	// save 加权 +1.0，hide 加权 -2.0
	db.DB.Create(&models.UserEvent{UserID: 1, ArticleID: strengthArticle.ID, EventType: models.EventSave})
	db.DB.Create(&models.UserEvent{UserID: 1, ArticleID: cardioArticle.ID, EventType: models.EventHide})
	db.DB.Create(&models.HiddenArticle{UserID: 1, ArticleID: cardioArticle.ID})

	profile := GetRecommender().BuildUserProfile(1)

	if len(profile.Topics) != 1 || profile.Topics[0] != "strength" {
		t.Errorf("显式主题应为 [strength]，实际 %v", profile.Topics)
	}
	if !profile.HiddenIDs[cardioArticle.ID] {
		t.Error("隐藏集合应包含被隐藏的文章")
	}
	if !profile.InteractedIDs[strengthArticle.ID] {
		t.Error("交互集合应包含 save 过的文章")
	}

	// 亲和度归一化后：正向信号 > 0.5 > 负向信号
	if profile.TopicAffinities["strength"] <= 0.5 {
		t.Errorf("strength 亲和度应大于 0.5，实际 %v", profile.TopicAffinities["strength"])
	}
	if profile.TopicAffinities["cardio"] >= 0.5 {
		t.Errorf("cardio 亲和度应小于 0.5，实际 %v", profile.TopicAffinities["cardio"])
	}
}

func TestProfileAutoCreatesPreference(t *testing.T) {
	setupTestDB(t)

	profile := GetRecommender().BuildUserProfile(42)
	if profile.Level != "beginner" || profile.Equipment != "gym" || profile.Language != "en" {
		t.Errorf("默认画像不对: %+v", profile)
	}

	var count int64
	db.DB.Model(&models.UserPreference{}).Where("user_id = ?", 42).Count(&count)
	if count != 1 {
		t.Errorf("首次访问应自动创建偏好行，实际 %d 行", count)
	}
}

func TestGetFeedPrefersMatchedTopics(t *testing.T) {
	setupTestDB(t)
	source1 := createTestSource(t, "src1")
	source2 := createTestSource(t, "src2")

	createTestArticle(t, source1, testArticleOpts{
		Title:    "Heavy Squat Day",
		Topics:   `["strength"]`,
		Keywords: `["squat","barbell"]`,
	})
	createTestArticle(t, source2, testArticleOpts{Title: "Marathon Prep", Topics: `["cardio"]`})

	setPreference(t, 1, "strength", "")

	feed := GetRecommender().GetFeed(context.Background(), 1, 1, 20, true)
	if len(feed.Items) == 0 {
		t.Fatal("feed 不应为空")
	}
	if feed.Items[0].Title != "Heavy Squat Day" {
		t.Errorf("命中显式主题的文章应排第一，实际 %q", feed.Items[0].Title)
	}

	// 主题和关键词以数组形式下发
	if len(feed.Items[0].Topics) != 1 || feed.Items[0].Topics[0] != "strength" {
		t.Errorf("topics 应解开为数组，实际 %v", feed.Items[0].Topics)
	}
	if len(feed.Items[0].Keywords) != 2 || feed.Items[0].Keywords[0] != "squat" {
		t.Errorf("keywords 应解开为数组，实际 %v", feed.Items[0].Keywords)
	}

	// explain=true 时带理由
	if feed.Items[0].WhyThis == nil {
		t.Fatal("explain=true 时应返回 why_this")
	}
	found := false
	for _, reason := range feed.Items[0].WhyThis.Reasons {
		if reason == "matched_topic:strength" {
			found = true
		}
	}
	if !found {
		t.Errorf("理由里应有 matched_topic:strength，实际 %v", feed.Items[0].WhyThis.Reasons)
	}

	// 下发即记录展示
	var impressions int64
	db.DB.Model(&models.FeedImpression{}).Where("user_id = ?", 1).Count(&impressions)
	if impressions != int64(len(feed.Items)) {
		t.Errorf("展示记录数应等于下发条数 %d，实际 %d", len(feed.Items), impressions)
	}
}

func TestGetFeedHiddenNeverShown(t *testing.T) {
	setupTestDB(t)
	source := createTestSource(t, "src")
	article := createTestArticle(t, source, testArticleOpts{Title: "Hidden Piece", Topics: `["strength"]`})

	setPreference(t, 1, "strength", "")
	db.DB.Create(&models.HiddenArticle{UserID: 1, ArticleID: article.ID})

	// 即使隐藏的是唯一候选，放宽过滤也不能把它放出来
	feed := GetRecommender().GetFeed(context.Background(), 1, 1, 20, false)
	for _, item := range feed.Items {
		if item.ID == article.ID {
			t.Fatal("隐藏的文章出现在了 feed 里")
		}
	}

	// 其他用户不受影响
	feed = GetRecommender().GetFeed(context.Background(), 2, 1, 20, false)
	found := false
	for _, item := range feed.Items {
		if item.ID == article.ID {
			found = true
		}
	}
	if !found {
		t.Error("隐藏只对操作的用户生效，其他用户应能看到")
	}
}

func TestGetFeedSeenRelaxation(t *testing.T) {
	setupTestDB(t)
	source := createTestSource(t, "src")
	article := createTestArticle(t, source, testArticleOpts{Title: "Only One", Topics: `["strength"]`})

	setPreference(t, 1, "strength", "")
	// 24 小时内展示过，第一档过滤会挡掉；全部挡掉后逐级放宽兜底
	db.DB.Create(&models.FeedImpression{UserID: 1, ArticleID: article.ID, Position: 0, FeedType: "feed"})

	feed := GetRecommender().GetFeed(context.Background(), 1, 1, 20, false)
	if len(feed.Items) != 1 || feed.Items[0].ID != article.ID {
		t.Errorf("唯一候选被看过时应放宽过滤兜底返回，实际 %d 条", len(feed.Items))
	}
}

func TestGetFeedDiversity(t *testing.T) {
	setupTestDB(t)
	source := createTestSource(t, "src")
	other := createTestSource(t, "other")

	// 同一个源 5 篇，另一源 1 篇
	for i := 0; i < 5; i++ {
		ts := time.Now().UTC().Add(-time.Duration(i+1) * time.Hour)
		createTestArticle(t, source, testArticleOpts{
			Title:       "Same Source " + string(rune('A'+i)),
			Topics:      `["general"]`,
			PublishedAt: &ts,
		})
	}
	createTestArticle(t, other, testArticleOpts{Title: "Other Source", Topics: `["cardio"]`})

	feed := GetRecommender().GetFeed(context.Background(), 1, 1, 20, false)

	perSource := make(map[uint]int)
	for _, item := range feed.Items {
		perSource[item.SourceID]++
	}
	if perSource[source.ID] > 2 {
		t.Errorf("同源文章每页最多 2 篇，实际 %d", perSource[source.ID])
	}
}

func TestGetFeedBlockedKeywords(t *testing.T) {
	setupTestDB(t)
	source := createTestSource(t, "src")
	createTestArticle(t, source, testArticleOpts{Title: "Keto Diet Deep Dive", Topics: `["nutrition"]`})
	createTestArticle(t, source, testArticleOpts{Title: "Protein Basics", Topics: `["nutrition"]`})

	setPreference(t, 1, "nutrition", "keto")

	feed := GetRecommender().GetFeed(context.Background(), 1, 1, 20, false)
	if len(feed.Items) == 0 {
		t.Fatal("feed 不应为空")
	}
	for _, item := range feed.Items {
		if item.Title == "Keto Diet Deep Dive" {
			t.Error("命中屏蔽词的文章不应出现")
		}
	}
}

func TestGetFeedEmptyPreferencesFallsBack(t *testing.T) {
	setupTestDB(t)
	source := createTestSource(t, "src")
	createTestArticle(t, source, testArticleOpts{Title: "Trending Now", Topics: `["general"]`, Popularity: 50})

	// 没有任何偏好和历史的新用户也要有内容（热门/最新池兜底）
	feed := GetRecommender().GetFeed(context.Background(), 7, 1, 20, false)
	if len(feed.Items) == 0 {
		t.Fatal("冷启动用户 feed 不应为空")
	}
}

func TestGetFeedPagination(t *testing.T) {
	setupTestDB(t)
	// 多个源避免多样性约束干扰分页
	for i := 0; i < 4; i++ {
		src := createTestSource(t, "src"+string(rune('a'+i)))
		createTestArticle(t, src, testArticleOpts{Title: "Article " + string(rune('A'+i)), Topics: `["general"]`})
	}

	page1 := GetRecommender().GetFeed(context.Background(), 1, 1, 2, false)
	if len(page1.Items) != 2 {
		t.Fatalf("第一页应有 2 条，实际 %d", len(page1.Items))
	}
	page2 := GetRecommender().GetFeed(context.Background(), 1, 2, 2, false)
	for _, item := range page2.Items {
		for _, prev := range page1.Items {
			if item.ID == prev.ID {
				t.Errorf("翻页不应重复返回文章 %d", item.ID)
			}
		}
	}
}
