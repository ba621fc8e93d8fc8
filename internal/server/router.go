package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/9963KK/aiedu-backend/internal/handlers"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

type RouterConfig struct {
	MaterialHandler *handlers.MaterialHandler
	LLMHandler      *handlers.LLMHandler
}

func NewRouter(log *logger.Logger, cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	origins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", log)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(origins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Materials
		api.POST("/materials", cfg.MaterialHandler.Upload)
		api.GET("/materials", cfg.MaterialHandler.List)
		api.POST("/materials/parse-batch", cfg.MaterialHandler.ParseBatch)
		api.GET("/materials/:id", cfg.MaterialHandler.Get)
		api.DELETE("/materials/:id", cfg.MaterialHandler.Delete)
		api.GET("/materials/:id/chunks", cfg.MaterialHandler.Chunks)
		api.POST("/materials/:id/parse", cfg.MaterialHandler.Parse)
		api.POST("/materials/:id/cancel", cfg.MaterialHandler.Cancel)

		// LLM
		api.POST("/llm/messages", cfg.LLMHandler.Message)
		api.POST("/llm/messages/stream", cfg.LLMHandler.StreamMessage)
	}

	return router
}
