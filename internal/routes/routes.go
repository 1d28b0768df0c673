package routes

import (
	"prohappy_backend/internal/handlers"
	"prohappy_backend/internal/logger"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все HTTP маршруты.
func RegisterRoutes(
	ginRouter *gin.Engine,
	appHandlers *handlers.AppHandlers, // <-- Принимаем ГОТОВЫЕ хэндлеры
) {
	// Регистрация HTTP API v1
	api := ginRouter.Group("/api/v1")
	{
		appHandlers.FormHandler.RegisterRoutes(api)
		appHandlers.SubmissionHandler.RegisterRoutes(api)
	}

	// /health и статический сайт; NoRoute должен идти последним
	appHandlers.StaticHandler.RegisterRoutes(ginRouter)

	logger.Info("HTTP routes registered", "routes", len(ginRouter.Routes()))
}
