package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/coursetrail/coursetrail-backend/internal/handlers"
	"github.com/coursetrail/coursetrail-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName     string
	AllowOrigins    []string
	HealthHandler   *handlers.HealthHandler
	ProgressHandler *handlers.ProgressHandler
	SSEHandler      *handlers.SSEHandler
	AuthMiddleware  *middleware.AuthMiddleware
	RateLimit       *middleware.RateLimitMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

	// Protected
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	protected.POST("/progress/bulk", cfg.RateLimit.Limit("progress_bulk"), cfg.ProgressHandler.BulkIngest)
	protected.GET("/progress/courses", cfg.ProgressHandler.ListCourseProgress)
	protected.GET("/progress/courses/:courseId", cfg.ProgressHandler.GetCourseProgress)
	protected.GET("/progress/quizzes/:quizId/attempts", cfg.ProgressHandler.ListQuizAttempts)
	protected.GET("/notifications/stream", cfg.SSEHandler.Stream)

	return router
}
