package models

import (
	"time"
)

// Source RSS 新闻源
// 连续抓取失败 5 次后自动禁用（enabled=false），需要管理员手动恢复
type Source struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Name          string     `gorm:"not null" json:"name"`
	RSSURL        string     `gorm:"uniqueIndex;not null" json:"rss_url"` // 订阅源 RSS URL
	Category      string     `json:"category"`
	Tags          string     `json:"tags"`                              // 逗号分隔的标签
	Enabled       bool       `gorm:"default:true;not null" json:"enabled"`
	Priority      int        `gorm:"default:1;not null" json:"priority"` // 1 为最高优先级
	FetchErrCount int        `gorm:"default:0;not null" json:"fetch_error_count"` // 连续失败计数
	LastError     string     `gorm:"type:text" json:"last_error"`
	LastFetchedAt *time.Time `json:"last_fetched_at"` // 最后抓取时间
	CreatedAt     time.Time  `json:"created_at"`
}
