package router

import (
	"fitfeed/internal/handlers"
	"fitfeed/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine) {
	// Handlers
	feedHandler := handlers.NewFeedHandler()
	eventHandler := handlers.NewEventHandler()
	articleHandler := handlers.NewArticleHandler()
	preferenceHandler := handlers.NewPreferenceHandler()
	adminHandler := handlers.NewAdminHandler()

	// 网关注入的身份在所有路由前解析
	r.Use(middleware.LoadUser())

	// 用户路由 (User Routes)
	api := r.Group("/api/news")
	api.Use(middleware.AuthRequired())
	{
		api.GET("/feed", feedHandler.GetFeed)         // 个性化推荐流
		api.POST("/events", eventHandler.SubmitBatch) // 批量提交交互事件

		api.POST("/articles/:id/save", articleHandler.Save)     // 收藏
		api.DELETE("/articles/:id/save", articleHandler.Unsave) // 取消收藏
		api.POST("/articles/:id/hide", articleHandler.Hide)     // 隐藏
		api.DELETE("/articles/:id/hide", articleHandler.Unhide) // 取消隐藏
		api.GET("/saved", articleHandler.ListSaved)             // 收藏列表

		api.GET("/preferences", preferenceHandler.Get)    // 读取偏好
		api.PUT("/preferences", preferenceHandler.Update) // 更新偏好
	}

	// 管理路由 (Admin Routes)
	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
	{
		admin.GET("/sources", adminHandler.ListSources)              // 源列表
		admin.POST("/sources", adminHandler.CreateSource)            // 新增源
		admin.PUT("/sources/:id", adminHandler.UpdateSource)         // 更新源
		admin.POST("/sources/:id/toggle", adminHandler.ToggleSource) // 启用/禁用
		admin.DELETE("/sources/:id", adminHandler.DeleteSource)      // 删除源

		admin.POST("/ingest/run", adminHandler.TriggerIngest)  // 手动触发抓取
		admin.GET("/ingest/status", adminHandler.IngestStatus) // 抓取状态
		admin.POST("/embed/run", adminHandler.TriggerEmbed)    // 手动触发向量化
	}
}
