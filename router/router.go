package router

import (
	"time"

	"aichat/api"
	"aichat/config"
	_ "aichat/docs"
	"aichat/gpt"
	"aichat/middleware"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, engine *gpt.Engine) *gin.Engine {
	// 设置运行模式
	gin.SetMode(cfg.Server.Mode)

	r := gin.Default()

	// CORS 中间件
	r.Use(CORSMiddleware())

	// 后台管理 API（JWT + 管理员权限）
	aiModelHandler := api.NewAIModelHandler()
	aiPromptHandler := api.NewAIPromptHandler()
	proxyHandler := api.NewProxyHandler()
	exportHandler := api.NewExportHandler()
	aiChatHandler := api.NewAIChatHandler(engine, cfg)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTAuth(), middleware.AdminPermissionMiddleware())
	{
		// AI模型管理
		admin.GET("/ai-models", aiModelHandler.GetAllGptModels)
		admin.POST("/ai-models", aiModelHandler.CreateGptModel)
		admin.PUT("/ai-models/:id", aiModelHandler.UpdateGptModel)
		admin.DELETE("/ai-models/:id", aiModelHandler.DeleteGptModel)

		// 提示词管理
		admin.GET("/ai-prompts", aiPromptHandler.GetAllUserPrompts)
		admin.POST("/ai-prompts", aiPromptHandler.CreateUserPrompt)
		admin.PUT("/ai-prompts/:id", aiPromptHandler.UpdateUserPrompt)
		admin.DELETE("/ai-prompts/:id", aiPromptHandler.DeleteUserPrompt)

		// 出口代理管理
		admin.GET("/proxies", proxyHandler.GetAllProxies)
		admin.POST("/proxies", proxyHandler.CreateProxy)
		admin.PUT("/proxies/:id", proxyHandler.UpdateProxy)
		admin.DELETE("/proxies/:id", proxyHandler.DeleteProxy)

		// 聊天记录管理
		admin.GET("/ai-chat/history", aiChatHandler.AdminChatHistory)
		admin.DELETE("/ai-chat/history/:id", aiChatHandler.DeleteChatHistory)
		admin.GET("/ai-chat/export", exportHandler.ExportChatExcel)
	}

	// Swagger 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		// 聊天入口允许匿名（仅限免费模型），外层加 IP 限流
		chat := v1.Group("")
		chat.Use(middleware.IPRateLimit(30, time.Minute), middleware.OptionalJWTAuth())
		{
			chat.POST("/ai-chat", aiChatHandler.ChatStream)
		}

		// 需要 JWT 认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth())
		{
			authorized.GET("/ai-chat/history", aiChatHandler.ChatHistory)
			authorized.GET("/ai-models", aiModelHandler.ListUserModels)
			authorized.PUT("/ai-models/active", aiModelHandler.SetActiveModel)
			authorized.PUT("/ai-prompts/active", aiModelHandler.SetActivePrompt)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	return r
}

// CORSMiddleware CORS 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
