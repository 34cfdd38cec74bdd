package models

import (
	"encoding/json"
	"time"
)

// Article 正式文章 - 去重、富化后的规范记录
// (source_id, unique_hash) 唯一；内容变更时原地更新并通过 content_hash 触发重新向量化
type Article struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	SourceID     uint       `gorm:"not null;index;uniqueIndex:idx_article_source_unique" json:"source_id"`
	Source       Source     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"source"`
	Title        string     `gorm:"not null" json:"title"`
	Link         string     `gorm:"not null" json:"link"`
	GUID         string     `json:"guid"`
	UniqueHash   string     `gorm:"not null;uniqueIndex:idx_article_source_unique" json:"-"`
	PublishedAt  *time.Time `gorm:"index" json:"published_at"`
	Author       string     `json:"author"`
	Summary      string     `gorm:"type:text;not null" json:"summary"`
	Content      string     `gorm:"type:text" json:"content"`
	ImageURL     string     `json:"image_url"`
	Language     string     `gorm:"default:'en';not null" json:"language"`
	TopicsJSON   string     `gorm:"type:text;default:'[]';not null" json:"-"`
	KeywordsJSON string     `gorm:"type:text;default:'[]';not null" json:"-"`
	QualityScore float64    `gorm:"default:0.5;not null" json:"quality_score"`
	// 人气分只由反馈事件按固定增量原子更新，下限为 0
	PopularityScore float64   `gorm:"default:0;not null" json:"popularity_score"`
	ContentHash     string    `json:"-"` // title+summary+content 哈希，用于判断是否需要重新向量化
	CreatedAt       time.Time `json:"created_at"`
}

// Topics 解析 TopicsJSON，解析失败时返回空列表
func (a *Article) Topics() []string {
	var topics []string
	if a.TopicsJSON == "" {
		return topics
	}
	if err := json.Unmarshal([]byte(a.TopicsJSON), &topics); err != nil {
		return nil
	}
	return topics
}

// Keywords 解析 KeywordsJSON
func (a *Article) Keywords() []string {
	var keywords []string
	if a.KeywordsJSON == "" {
		return keywords
	}
	if err := json.Unmarshal([]byte(a.KeywordsJSON), &keywords); err != nil {
		return nil
	}
	return keywords
}

// PrimaryTopic 返回第一个主题，没有则视为 general
func (a *Article) PrimaryTopic() string {
	topics := a.Topics()
	if len(topics) == 0 {
		return "general"
	}
	return topics[0]
}
