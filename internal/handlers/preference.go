package handlers

import (
	"net/http"

	"fitfeed/internal/services"

	"github.com/gin-gonic/gin"
)

type PreferenceHandler struct{}

func NewPreferenceHandler() *PreferenceHandler {
	return &PreferenceHandler{}
}

// Get 读取用户偏好，首次访问返回自动创建的默认值
// GET /api/news/preferences
func (h *PreferenceHandler) Get(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		JSONError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	c.JSON(http.StatusOK, services.GetOrCreatePreference(userID))
}

// Update 部分更新用户偏好，缺省字段保持原值
// PUT /api/news/preferences
func (h *PreferenceHandler) Update(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		JSONError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var update services.PreferenceUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	prefs, err := services.UpdatePreference(userID, &update)
	if err != nil {
		JSONError(c, http.StatusInternalServerError, "failed to update preferences")
		return
	}

	c.JSON(http.StatusOK, prefs)
}
