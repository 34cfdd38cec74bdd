package handlers

import (
	"errors"
	"net/http"

	"fitfeed/internal/db"
	"fitfeed/internal/models"
	"fitfeed/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AdminHandler struct{}

func NewAdminHandler() *AdminHandler {
	return &AdminHandler{}
}

// ListSources 源列表（含禁用的，带健康状态）
// GET /api/admin/sources
func (h *AdminHandler) ListSources(c *gin.Context) {
	var sources []models.Source
	if err := db.DB.Order("priority ASC, id ASC").Find(&sources).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "failed to list sources")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources, "total": len(sources)})
}

type sourceRequest struct {
	Name     string `json:"name" binding:"required"`
	RSSURL   string `json:"rss_url" binding:"required"`
	Category string `json:"category"`
	Tags     string `json:"tags"`
	Priority int    `json:"priority"`
}

// CreateSource 新增订阅源
// POST /api/admin/sources
func (h *AdminHandler) CreateSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	priority := req.Priority
	if priority < 1 {
		priority = 1
	}

	source := models.Source{
		Name:     req.Name,
		RSSURL:   req.RSSURL,
		Category: req.Category,
		Tags:     req.Tags,
		Enabled:  true,
		Priority: priority,
	}
	if err := db.DB.Create(&source).Error; err != nil {
		// rss_url 带唯一索引，重复创建直接报冲突
		JSONError(c, http.StatusConflict, "source with this rss_url already exists")
		return
	}

	c.JSON(http.StatusCreated, source)
}

// UpdateSource 更新订阅源，手动启用会同时清零失败计数
// PUT /api/admin/sources/:id
func (h *AdminHandler) UpdateSource(c *gin.Context) {
	id, ok := ParseIDParam(c, "id")
	if !ok {
		return
	}

	var source models.Source
	if err := db.DB.First(&source, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			JSONError(c, http.StatusNotFound, "source not found")
			return
		}
		JSONError(c, http.StatusInternalServerError, "failed to load source")
		return
	}

	var req struct {
		Name     *string `json:"name"`
		RSSURL   *string `json:"rss_url"`
		Category *string `json:"category"`
		Tags     *string `json:"tags"`
		Enabled  *bool   `json:"enabled"`
		Priority *int    `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Name != nil {
		source.Name = *req.Name
	}
	if req.RSSURL != nil {
		source.RSSURL = *req.RSSURL
	}
	if req.Category != nil {
		source.Category = *req.Category
	}
	if req.Tags != nil {
		source.Tags = *req.Tags
	}
	if req.Priority != nil && *req.Priority >= 1 {
		source.Priority = *req.Priority
	}
	if req.Enabled != nil {
		source.Enabled = *req.Enabled
		if *req.Enabled {
			// 管理员手动恢复，失败计数归零重新观察
			source.FetchErrCount = 0
			source.LastError = ""
		}
	}

	if err := db.DB.Save(&source).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "failed to update source")
		return
	}
	c.JSON(http.StatusOK, source)
}

// ToggleSource 翻转源的启用状态，启用时同样清零失败计数
// POST /api/admin/sources/:id/toggle
func (h *AdminHandler) ToggleSource(c *gin.Context) {
	id, ok := ParseIDParam(c, "id")
	if !ok {
		return
	}

	var source models.Source
	if err := db.DB.First(&source, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			JSONError(c, http.StatusNotFound, "source not found")
			return
		}
		JSONError(c, http.StatusInternalServerError, "failed to load source")
		return
	}

	source.Enabled = !source.Enabled
	if source.Enabled {
		source.FetchErrCount = 0
		source.LastError = ""
	}
	if err := db.DB.Save(&source).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "failed to update source")
		return
	}
	c.JSON(http.StatusOK, source)
}

// DeleteSource 删除订阅源，关联文章由外键级联清理
// DELETE /api/admin/sources/:id
func (h *AdminHandler) DeleteSource(c *gin.Context) {
	id, ok := ParseIDParam(c, "id")
	if !ok {
		return
	}

	result := db.DB.Delete(&models.Source{}, id)
	if result.Error != nil {
		JSONError(c, http.StatusInternalServerError, "failed to delete source")
		return
	}
	if result.RowsAffected == 0 {
		JSONError(c, http.StatusNotFound, "source not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

// TriggerIngest 手动触发一轮抓取，已有一轮在执行时返回 409
// POST /api/admin/ingest/run
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	stats, err := services.GetIngestScheduler().TriggerNow(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrRunInFlight) {
			JSONError(c, http.StatusConflict, "an ingestion run is already in flight")
			return
		}
		JSONError(c, http.StatusInternalServerError, "ingestion run failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// IngestStatus 查询抓取状态和最近一轮统计
// GET /api/admin/ingest/status
func (h *AdminHandler) IngestStatus(c *gin.Context) {
	scheduler := services.GetIngestScheduler()
	c.JSON(http.StatusOK, gin.H{
		"running":  scheduler.Running(),
		"last_run": scheduler.LastRun(),
	})
}

// TriggerEmbed 手动跑一批向量化
// POST /api/admin/embed/run
func (h *AdminHandler) TriggerEmbed(c *gin.Context) {
	n, err := services.GetEmbedder().EmbedPending(c.Request.Context(), 100)
	if err != nil {
		JSONError(c, http.StatusInternalServerError, "embedding run failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"embedded": n})
}
