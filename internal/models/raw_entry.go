package models

import (
	"time"
)

// RawEntry 状态常量
const (
	RawStatusPending   = "pending"
	RawStatusProcessed = "processed"
	RawStatusDuplicate = "duplicate"
	RawStatusError     = "error"
)

// RawEntry 抓取暂存记录 - 每条成功解析的 RSS 条目原样入库
// (source_id, url_hash) 唯一，作为抓取层的去重键；只推进 status，永不覆盖
type RawEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SourceID     uint      `gorm:"not null;index;uniqueIndex:idx_raw_source_url" json:"source_id"`
	Source       Source    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	GUID         string    `json:"guid"`
	URL          string    `gorm:"not null" json:"url"` // 规范化后的链接
	URLHash      string    `gorm:"not null;uniqueIndex:idx_raw_source_url" json:"url_hash"`
	TitleRaw     string    `gorm:"type:text" json:"title_raw"`
	SummaryRaw   string    `gorm:"type:text" json:"summary_raw"`
	ContentRaw   string    `gorm:"type:text" json:"content_raw"`
	AuthorRaw    string    `json:"author_raw"`
	ImageURLRaw  string    `json:"image_url_raw"`
	PublishedRaw string    `json:"published_raw"` // 原始发布时间字符串
	FetchedAt    time.Time `gorm:"not null" json:"fetched_at"`
	Status       string    `gorm:"default:'pending';not null" json:"status"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
}
