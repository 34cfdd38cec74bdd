package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"

	"gorm.io/gorm"
)

const (
	maxEventBatch    = 100             // 单次批量提交上限
	eventDedupWindow = 5 * time.Minute // 相同事件的去重窗口
)

// 人气分增量，只有未命中去重窗口的事件才生效
var popularityDeltas = map[string]float64{
	models.EventClick:  1,
	models.EventSave:   3,
	models.EventUnsave: -1,
	models.EventHide:   -5,
}

var (
	// ErrBatchTooLarge 批量提交超过上限
	ErrBatchTooLarge = fmt.Errorf("批量事件最多 %d 条", maxEventBatch)
	// ErrUnknownEventType 包含未知事件类型，整批拒绝
	ErrUnknownEventType = errors.New("未知的事件类型")
)

// EventInput 客户端提交的单条事件
type EventInput struct {
	ArticleID    uint    `json:"article_id" binding:"required"`
	EventType    string  `json:"event_type" binding:"required"`
	DwellSeconds float64 `json:"dwell_seconds"`
	SessionID    string  `json:"session_id"`
}

// BatchResult 批量提交的处理结果
type BatchResult struct {
	Accepted          int `json:"accepted"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
}

// EventService 用户交互事件服务
// 事件日志只追加；去重窗口内的重复事件照常入库，但不再重复作用于人气分
type EventService struct{}

var (
	eventService     *EventService
	eventServiceOnce sync.Once
)

// GetEventService 获取事件服务单例
func GetEventService() *EventService {
	eventServiceOnce.Do(func() {
		eventService = &EventService{}
	})
	return eventService
}

// SubmitBatch 批量提交事件，整批先校验再逐条处理
func (s *EventService) SubmitBatch(userID uint, inputs []EventInput) (*BatchResult, error) {
	if len(inputs) > maxEventBatch {
		return nil, ErrBatchTooLarge
	}
	for _, input := range inputs {
		if !models.ValidEventTypes[input.EventType] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, input.EventType)
		}
	}

	result := &BatchResult{}
	for _, input := range inputs {
		duplicate := s.Record(userID, input)
		if duplicate {
			result.DuplicatesSkipped++
		} else {
			result.Accepted++
		}
	}

	// 画像依赖事件回放，提交后让缓存失效
	InvalidateProfile(userID)

	return result, nil
}

// Record 记录单条事件，返回是否命中去重窗口
// 无论是否重复都会追加到事件日志，重复只是跳过人气分的增量
func (s *EventService) Record(userID uint, input EventInput) bool {
	duplicate := s.isDuplicate(userID, input)

	event := models.UserEvent{
		UserID:       userID,
		ArticleID:    input.ArticleID,
		EventType:    input.EventType,
		DwellSeconds: input.DwellSeconds,
		SessionID:    input.SessionID,
	}
	if err := db.DB.Create(&event).Error; err != nil {
		log.Printf("事件入库失败 (user=%d article=%d type=%s): %v",
			userID, input.ArticleID, input.EventType, err)
		return duplicate
	}

	if !duplicate {
		s.applyPopularityDelta(input.ArticleID, input.EventType)
	}
	return duplicate
}

// isDuplicate 5 分钟窗口内，相同 (用户, 文章, 类型, 会话) 视为重复
func (s *EventService) isDuplicate(userID uint, input EventInput) bool {
	cutoff := time.Now().UTC().Add(-eventDedupWindow)
	var count int64
	db.DB.Model(&models.UserEvent{}).
		Where("user_id = ? AND article_id = ? AND event_type = ? AND session_id = ? AND created_at >= ?",
			userID, input.ArticleID, input.EventType, input.SessionID, cutoff).
		Count(&count)
	return count > 0
}

// applyPopularityDelta 原子更新文章人气分并兜底到 0
func (s *EventService) applyPopularityDelta(articleID uint, eventType string) {
	delta, ok := popularityDeltas[eventType]
	if !ok {
		return
	}

	db.DB.Model(&models.Article{}).Where("id = ?", articleID).
		UpdateColumn("popularity_score", gorm.Expr("popularity_score + ?", delta))
	if delta < 0 {
		db.DB.Model(&models.Article{}).
			Where("id = ? AND popularity_score < 0", articleID).
			UpdateColumn("popularity_score", 0)
	}
}
