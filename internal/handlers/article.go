package handlers

import (
	"errors"
	"net/http"

	"fitfeed/internal/services"

	"github.com/gin-gonic/gin"
)

type ArticleHandler struct{}

func NewArticleHandler() *ArticleHandler {
	return &ArticleHandler{}
}

// Save 收藏文章（幂等）
// POST /api/news/articles/:id/save
func (h *ArticleHandler) Save(c *gin.Context) {
	h.toggle(c, services.SaveArticle, "saved")
}

// Unsave 取消收藏
// DELETE /api/news/articles/:id/save
func (h *ArticleHandler) Unsave(c *gin.Context) {
	h.toggle(c, services.UnsaveArticle, "unsaved")
}

// Hide 隐藏文章（该用户的推荐里永不再出现）
// POST /api/news/articles/:id/hide
func (h *ArticleHandler) Hide(c *gin.Context) {
	h.toggle(c, services.HideArticle, "hidden")
}

// Unhide 取消隐藏
// DELETE /api/news/articles/:id/hide
func (h *ArticleHandler) Unhide(c *gin.Context) {
	h.toggle(c, services.UnhideArticle, "unhidden")
}

func (h *ArticleHandler) toggle(c *gin.Context, action func(userID, articleID uint) error, status string) {
	userID, ok := CurrentUserID(c)
	if !ok {
		JSONError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	articleID, ok := ParseIDParam(c, "id")
	if !ok {
		return
	}

	if err := action(userID, articleID); err != nil {
		if errors.Is(err, services.ErrArticleNotFound) {
			JSONError(c, http.StatusNotFound, "article not found")
			return
		}
		JSONError(c, http.StatusInternalServerError, "operation failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status, "article_id": articleID})
}

// ListSaved 收藏列表
// GET /api/news/saved
func (h *ArticleHandler) ListSaved(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		JSONError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, pageSize := ParsePage(c, 20, 50)
	saved, total := services.ListSavedArticles(userID, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"items":     saved,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}
