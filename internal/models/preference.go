package models

import (
	"strings"
	"time"
)

// UserPreference 用户偏好 - 每用户一行，首次访问时自动创建默认值
type UserPreference struct {
	UserID          uint      `gorm:"primaryKey" json:"user_id"`
	Topics          string    `gorm:"default:''" json:"topics"` // 逗号分隔的显式主题
	Level           string    `gorm:"default:'beginner';not null" json:"level"`
	Equipment       string    `gorm:"default:'gym';not null" json:"equipment"`
	Language        string    `gorm:"default:'en';not null" json:"language"`
	BlockedKeywords string    `gorm:"default:''" json:"blocked_keywords"` // 逗号分隔的屏蔽词
	UpdatedAt       time.Time `json:"updated_at"`
}

// TopicList 拆分显式主题列表
func (p *UserPreference) TopicList() []string {
	return splitCSV(p.Topics, false)
}

// BlockedList 拆分屏蔽词列表（统一小写）
func (p *UserPreference) BlockedList() []string {
	return splitCSV(p.BlockedKeywords, true)
}

func splitCSV(s string, lower bool) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(part)
		}
		out = append(out, part)
	}
	return out
}

// SavedArticle 用户收藏的文章
type SavedArticle struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index;uniqueIndex:idx_saved_user_article" json:"user_id"`
	ArticleID uint      `gorm:"not null;index;uniqueIndex:idx_saved_user_article" json:"article_id"`
	Article   Article   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"article"`
	CreatedAt time.Time `json:"created_at"`
}

// HiddenArticle 用户隐藏的文章 - 推荐结果中永不出现
type HiddenArticle struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index;uniqueIndex:idx_hidden_user_article" json:"user_id"`
	ArticleID uint      `gorm:"not null;index;uniqueIndex:idx_hidden_user_article" json:"article_id"`
	Article   Article   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
