package models

import (
	"time"
)

// ArticleEmbedding 向量化指针 - 记录文章在向量索引中的位置和当时的内容哈希
// 存储的 content_hash 与文章当前 content_hash 一致时跳过重新向量化
type ArticleEmbedding struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ArticleID   uint       `gorm:"not null;uniqueIndex" json:"article_id"`
	Article     Article    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ContentHash string     `gorm:"not null" json:"content_hash"`
	ModelName   string     `gorm:"not null" json:"model_name"`
	Dimensions  int        `gorm:"not null" json:"dimensions"`
	VectorID    string     `gorm:"not null" json:"vector_id"` // 向量索引中的键（文章 ID 字符串）
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}
