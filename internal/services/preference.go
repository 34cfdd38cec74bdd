package services

import (
	"errors"
	"log"
	"strings"

	"fitfeed/internal/db"
	"fitfeed/internal/models"

	"gorm.io/gorm"
)

// GetOrCreatePreference 读取用户偏好，首次访问时自动创建默认行
func GetOrCreatePreference(userID uint) *models.UserPreference {
	prefs := &models.UserPreference{
		UserID:    userID,
		Level:     "beginner",
		Equipment: "gym",
		Language:  "en",
	}
	if err := db.DB.Where("user_id = ?", userID).FirstOrCreate(prefs).Error; err != nil {
		log.Printf("读取用户 %d 偏好失败: %v", userID, err)
	}
	return prefs
}

// PreferenceUpdate 偏好更新请求，nil 字段保持原值
type PreferenceUpdate struct {
	Topics          *[]string `json:"topics"`
	Level           *string   `json:"level"`
	Equipment       *string   `json:"equipment"`
	Language        *string   `json:"language"`
	BlockedKeywords *[]string `json:"blocked_keywords"`
}

// UpdatePreference 部分更新用户偏好，更新后画像缓存失效
func UpdatePreference(userID uint, update *PreferenceUpdate) (*models.UserPreference, error) {
	prefs := GetOrCreatePreference(userID)

	if update.Topics != nil {
		prefs.Topics = strings.Join(*update.Topics, ",")
	}
	if update.Level != nil {
		prefs.Level = *update.Level
	}
	if update.Equipment != nil {
		prefs.Equipment = *update.Equipment
	}
	if update.Language != nil {
		prefs.Language = *update.Language
	}
	if update.BlockedKeywords != nil {
		prefs.BlockedKeywords = strings.Join(*update.BlockedKeywords, ",")
	}

	if err := db.DB.Save(prefs).Error; err != nil {
		return nil, err
	}

	InvalidateProfile(userID)
	return prefs, nil
}

// SaveArticle 收藏文章，幂等；同时记一条 save 事件驱动人气分与亲和度
func SaveArticle(userID, articleID uint) error {
	if err := ensureArticleExists(articleID); err != nil {
		return err
	}

	saved := models.SavedArticle{UserID: userID, ArticleID: articleID}
	err := db.DB.Where("user_id = ? AND article_id = ?", userID, articleID).
		FirstOrCreate(&saved).Error
	if err != nil {
		return err
	}

	GetEventService().Record(userID, EventInput{ArticleID: articleID, EventType: models.EventSave})
	InvalidateProfile(userID)
	return nil
}

// UnsaveArticle 取消收藏，未收藏过时为 no-op
func UnsaveArticle(userID, articleID uint) error {
	result := db.DB.Where("user_id = ? AND article_id = ?", userID, articleID).
		Delete(&models.SavedArticle{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		GetEventService().Record(userID, EventInput{ArticleID: articleID, EventType: models.EventUnsave})
		InvalidateProfile(userID)
	}
	return nil
}

// HideArticle 隐藏文章，幂等；隐藏的文章永不出现在该用户的推荐里
func HideArticle(userID, articleID uint) error {
	if err := ensureArticleExists(articleID); err != nil {
		return err
	}

	hidden := models.HiddenArticle{UserID: userID, ArticleID: articleID}
	err := db.DB.Where("user_id = ? AND article_id = ?", userID, articleID).
		FirstOrCreate(&hidden).Error
	if err != nil {
		return err
	}

	GetEventService().Record(userID, EventInput{ArticleID: articleID, EventType: models.EventHide})
	InvalidateProfile(userID)
	return nil
}

// UnhideArticle 取消隐藏
func UnhideArticle(userID, articleID uint) error {
	result := db.DB.Where("user_id = ? AND article_id = ?", userID, articleID).
		Delete(&models.HiddenArticle{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		GetEventService().Record(userID, EventInput{ArticleID: articleID, EventType: models.EventUnhide})
		InvalidateProfile(userID)
	}
	return nil
}

// ListSavedArticles 用户收藏列表，按收藏时间倒序
func ListSavedArticles(userID uint, page, pageSize int) ([]models.SavedArticle, int64) {
	var total int64
	db.DB.Model(&models.SavedArticle{}).Where("user_id = ?", userID).Count(&total)

	var saved []models.SavedArticle
	db.DB.Preload("Article").Preload("Article.Source").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&saved)
	return saved, total
}

// ErrArticleNotFound 操作的文章不存在
var ErrArticleNotFound = errors.New("article not found")

func ensureArticleExists(articleID uint) error {
	var article models.Article
	err := db.DB.Select("id").First(&article, articleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrArticleNotFound
	}
	return err
}
