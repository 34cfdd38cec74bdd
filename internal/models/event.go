package models

import (
	"time"
)

// 事件类型常量
const (
	EventImpression = "impression"
	EventClick      = "click"
	EventSave       = "save"
	EventUnsave     = "unsave"
	EventHide       = "hide"
	EventUnhide     = "unhide"
	EventDwell      = "dwell"
)

// ValidEventTypes 合法事件类型集合，用于批量提交校验
var ValidEventTypes = map[string]bool{
	EventImpression: true,
	EventClick:      true,
	EventSave:       true,
	EventUnsave:     true,
	EventHide:       true,
	EventUnhide:     true,
	EventDwell:      true,
}

// UserEvent 用户交互事件 - 只追加的反馈日志
// 窗口内的重复事件也会入库留痕，只是不再重复作用于人气分
type UserEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index:idx_events_user_type" json:"user_id"`
	ArticleID    uint      `gorm:"not null;index:idx_events_article" json:"article_id"`
	Article      Article   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	EventType    string    `gorm:"not null;index:idx_events_user_type;index:idx_events_article" json:"event_type"`
	DwellSeconds float64   `json:"dwell_seconds"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// FeedImpression 展示记录 - 每次下发都记录文章出现的位置
// 与用户是否操作无关，是 24 小时内"已看过"过滤的依据
type FeedImpression struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:idx_impressions_user_time" json:"user_id"`
	ArticleID uint      `gorm:"not null" json:"article_id"`
	Article   Article   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Position  int       `gorm:"not null" json:"position"`
	FeedType  string    `gorm:"not null" json:"feed_type"`
	CreatedAt time.Time `gorm:"index:idx_impressions_user_time" json:"created_at"`
}
