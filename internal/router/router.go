package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.im.ripple/internal/app"
	"sudooom.im.ripple/internal/handler"
	"sudooom.im.ripple/internal/health"
	"sudooom.im.ripple/internal/middleware"
	"sudooom.im.ripple/pkg/jwt"
)

// SetupRouter 设置路由
func SetupRouter(client *app.Client, jwtService *jwt.Service, checker *health.Checker) *gin.Engine {
	cfg := client.Config()

	authHandler := handler.NewAuthHandler(client, jwtService)
	chatHandler := handler.NewChatHandler(client)
	fileHandler := handler.NewFileHandler(client)
	userHandler := handler.NewUserHandler(client)
	streamHandler := handler.NewStreamHandler(client, cfg.App.AllowedOrigins)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.App.AllowedOrigins))
	r.Use(middleware.Logger(slog.Default()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": cfg.App.Mode})
	})
	if checker != nil {
		r.GET("/ready", gin.WrapH(checker))
	}

	// 附件 URL 指向这里，浏览器直接加载，无需登录
	r.GET("/files/*path", fileHandler.Download)

	v1 := r.Group("/api/v1")
	{
		// 认证接口（无需登录）
		auth := v1.Group("/auth")
		{
			auth.POST("/signup", authHandler.Signup)
			auth.POST("/login", authHandler.Login)
		}

		// 需要认证的接口
		authenticated := v1.Group("")
		authenticated.Use(middleware.JWTAuth(jwtService, client.Session().Current))
		{
			authenticated.POST("/auth/logout", authHandler.Logout)
			authenticated.GET("/auth/me", authHandler.Me)

			chats := authenticated.Group("/chats/:id")
			{
				chats.GET("", chatHandler.Get)
				chats.DELETE("", chatHandler.Close)
				chats.POST("/messages", chatHandler.SendMessage)
				chats.PUT("/draft", chatHandler.UpdateDraft)
				chats.POST("/attachments", chatHandler.Attach)
				chats.DELETE("/attachments", chatHandler.CancelAttachment)
				chats.POST("/voice", chatHandler.Voice)
				chats.GET("/suggestions", chatHandler.Suggestions)
				chats.POST("/suggestions/:index", chatHandler.SelectSuggestion)
				chats.GET("/stream", streamHandler.Stream)
			}

			authenticated.POST("/groups", chatHandler.CreateGroup)
			authenticated.GET("/files", fileHandler.List)

			admin := authenticated.Group("/admin")
			{
				admin.GET("/users", userHandler.Directory)
			}
		}
	}

	return r
}
