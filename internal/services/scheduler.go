package services

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
	"fitfeed/internal/utils"

	"golang.org/x/sync/semaphore"
)

const (
	fetchParallelism = 2               // 同时抓取的源数量上限
	interFetchDelay  = time.Second     // 相邻两次抓取之间的最小间隔
)

// ErrRunInFlight 已有一次抓取在执行，手动触发变成 no-op
var ErrRunInFlight = errors.New("ingestion run already in flight")

// RunStats 一轮完整抓取的汇总统计
type RunStats struct {
	FetchedAt      time.Time     `json:"fetched_at"`
	Duration       string        `json:"duration"`
	SourcesChecked int           `json:"sources_checked"`
	SourcesSuccess int           `json:"sources_success"`
	SourcesFailed  int           `json:"sources_failed"`
	ArticlesNew    int           `json:"articles_new"`
	ArticlesTotal  int           `json:"articles_total"`
	PerSource      []SourceStats `json:"per_source"`
}

// IngestScheduler 定时抓取调度器
// 同一时刻只允许一轮抓取在执行；轮内按优先级处理源，受信号量约束并发
type IngestScheduler struct {
	interval time.Duration
	enabled  bool
	running  atomic.Bool
	mu       sync.Mutex
	lastRun  *RunStats
}

var (
	ingestScheduler *IngestScheduler
	schedulerOnce   sync.Once
)

// GetIngestScheduler 获取单例调度器
func GetIngestScheduler() *IngestScheduler {
	schedulerOnce.Do(func() {
		minutes := utils.EnvInt(os.Getenv("INGEST_INTERVAL_MINUTES"), 30)
		ingestScheduler = &IngestScheduler{
			interval: time.Duration(minutes) * time.Minute,
			enabled:  os.Getenv("INGEST_ENABLED") != "false",
		}
	})
	return ingestScheduler
}

// Start 启动定时抓取，启动时立即执行一轮
func (s *IngestScheduler) Start() {
	if !s.enabled {
		log.Println("定时抓取已通过 INGEST_ENABLED=false 关闭")
		return
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		log.Println("开始首次新闻源抓取...")
		if _, err := s.TriggerNow(context.Background()); err != nil {
			log.Printf("首次抓取未执行: %v", err)
		}

		for range ticker.C {
			if _, err := s.TriggerNow(context.Background()); err != nil {
				// 上一轮还没结束，本轮直接跳过
				log.Printf("定时抓取跳过: %v", err)
			}
		}
	}()
}

// TriggerNow 立即执行一轮抓取（定时器和管理接口共用入口）
// 已有一轮在执行时返回 ErrRunInFlight 而不是并行执行
func (s *IngestScheduler) TriggerNow(ctx context.Context) (*RunStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer s.running.Store(false)

	stats := s.runOnce(ctx)

	s.mu.Lock()
	s.lastRun = stats
	s.mu.Unlock()

	// 抓取完成后顺手跑一批向量化，失败只记日志
	if n, err := GetEmbedder().EmbedPending(ctx, 100); err != nil {
		log.Printf("向量化批处理失败: %v", err)
	} else if n > 0 {
		log.Printf("本轮向量化 %d 篇文章", n)
	}

	return stats, nil
}

// LastRun 返回最近一轮的统计，没有执行过时为 nil
func (s *IngestScheduler) LastRun() *RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Running 当前是否有抓取在执行
func (s *IngestScheduler) Running() bool {
	return s.running.Load()
}

// runOnce 抓取所有启用的源
// 慢源只拖慢自己：每个源独立超时，信号量限制并发为 2，相邻启动间隔 1 秒
func (s *IngestScheduler) runOnce(ctx context.Context) *RunStats {
	start := time.Now()

	var sources []models.Source
	db.DB.Where("enabled = ?", true).Order("priority ASC, id ASC").Find(&sources)
	log.Printf("开始抓取 %d 个启用的新闻源", len(sources))

	stats := &RunStats{
		FetchedAt:      start.UTC(),
		SourcesChecked: len(sources),
	}

	fetcher := GetNewsFetcher()
	sem := semaphore.NewWeighted(fetchParallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range sources {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(source *models.Source) {
			defer wg.Done()
			defer sem.Release(1)

			srcStats := fetcher.ProcessSource(ctx, source)

			mu.Lock()
			stats.PerSource = append(stats.PerSource, srcStats)
			stats.ArticlesNew += srcStats.New
			stats.ArticlesTotal += srcStats.Found
			if srcStats.Error != "" {
				stats.SourcesFailed++
			} else {
				stats.SourcesSuccess++
			}
			mu.Unlock()

			if srcStats.Error != "" {
				log.Printf("源 %q 抓取失败: %s", source.Name, srcStats.Error)
			} else {
				log.Printf("源 %q 完成: found=%d new=%d skipped=%d",
					source.Name, srcStats.Found, srcStats.New, srcStats.Skipped)
			}
		}(&sources[i])

		// 对订阅源保持礼貌的最小间隔
		select {
		case <-time.After(interFetchDelay):
		case <-ctx.Done():
		}
	}

	wg.Wait()

	stats.Duration = time.Since(start).Round(time.Millisecond).String()
	log.Printf("本轮抓取完成: %d/%d 源成功，新增 %d 篇文章，耗时 %s",
		stats.SourcesSuccess, stats.SourcesChecked, stats.ArticlesNew, stats.Duration)
	return stats
}
