package handlers

import (
	"net/http"
	"strconv"

	"fitfeed/internal/middleware"
	"fitfeed/internal/utils"

	"github.com/gin-gonic/gin"
)

// CurrentUserID pulls the gateway-injected user id from context
func CurrentUserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get(middleware.CheckUserKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// JSONError 统一的错误响应格式
func JSONError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

// ParsePage 解析 page/page_size 查询参数并做边界约束
func ParsePage(c *gin.Context, defaultSize, maxSize int) (int, int) {
	page := utils.StringToInt(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	size := utils.StringToInt(c.DefaultQuery("page_size", strconv.Itoa(defaultSize)))
	if size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

// ParseIDParam 解析路径中的数字 ID
func ParseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		JSONError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
