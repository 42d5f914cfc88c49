package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobport/internal/api/middleware"
	"jobport/internal/applicant"
	"jobport/internal/auth"
	"jobport/internal/database"
	"jobport/internal/storage"
)

// Deps 聚合路由注册所需的依赖，全部显式构造、注入，
// 不依赖任何包级共享实例。
type Deps struct {
	DB                    *gorm.DB
	AuthService           *auth.AuthService
	Uploader              *storage.Uploader
	ApplicantService      *applicant.Service
	RedisClient           *redis.Client
	Logger                *slog.Logger
	LoginRateLimitPerHour int
	LoginLockThreshold    int
	LoginLockTTL          time.Duration
}

// RegisterRoutes 注册全部 API 路由。
// 角色限制在路由注册处统一声明，而不是散落在处理器里。
func RegisterRoutes(router *gin.Engine, deps Deps) {
	// 接口字段不得包裹空指针，否则处理器里的 nil 判断失效。
	var redisClient redis.UniversalClient
	if deps.RedisClient != nil {
		redisClient = deps.RedisClient
	}

	authHandler := NewAuthHandler(
		deps.DB, deps.AuthService, deps.Uploader, redisClient, deps.Logger,
		deps.LoginRateLimitPerHour, deps.LoginLockThreshold, deps.LoginLockTTL,
	)
	jobHandler := NewJobHandler(deps.DB, deps.ApplicantService, deps.Logger)
	userHandler := NewUserHandler(deps.DB, deps.Logger)
	wsHandler := NewWsHandler(deps.RedisClient, deps.AuthService, deps.Logger)

	authRequired := middleware.AuthMiddleware(deps.AuthService)
	adminOnly := middleware.RequireRole(database.RoleAdmin)

	router.GET("/ws", wsHandler.HandleConnection)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.GET("/profile", authRequired, authHandler.Profile)
		authGroup.PUT("/profile/:id", authRequired, authHandler.UpdateProfile)
	}

	jobGroup := router.Group("/jobs")
	{
		jobGroup.GET("", jobHandler.ListJobs)
		jobGroup.GET("/history", authRequired, jobHandler.History)
		jobGroup.GET("/:id", jobHandler.GetJob)
		jobGroup.POST("/:id/apply", authRequired, jobHandler.Apply)
		jobGroup.POST("/:id/approval", authRequired, adminOnly, jobHandler.Approval)
		jobGroup.GET("/:id/applicants", authRequired, adminOnly, jobHandler.Applicants)
	}

	router.GET("/companies", jobHandler.ListCompanies)

	userGroup := router.Group("/users")
	userGroup.Use(authRequired, adminOnly)
	{
		userGroup.GET("", userHandler.List)
		userGroup.POST("", userHandler.Create)
		userGroup.GET("/:id", userHandler.Get)
		userGroup.PUT("/:id", userHandler.Update)
		userGroup.DELETE("/:id", userHandler.Delete)
	}
}
