package handlers

import (
	"net/http"
	"os"

	"fitfeed/internal/services"
	"fitfeed/internal/utils"

	"github.com/gin-gonic/gin"
)

type FeedHandler struct {
	pageSizeMax int
}

func NewFeedHandler() *FeedHandler {
	return &FeedHandler{
		pageSizeMax: utils.EnvInt(os.Getenv("FEED_PAGE_SIZE_MAX"), 50),
	}
}

// GetFeed 个性化推荐流
// GET /api/news/feed?page=1&page_size=20&explain=true
func (h *FeedHandler) GetFeed(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		JSONError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, pageSize := ParsePage(c, 20, h.pageSizeMax)
	explain := c.Query("explain") == "true"

	feed := services.GetRecommender().GetFeed(c.Request.Context(), userID, page, pageSize, explain)
	c.JSON(http.StatusOK, feed)
}
