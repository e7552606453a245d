// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Flows   FlowManager
	Logger  *zap.Logger
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Flow      FlowHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Flows),
		Flow:      NewFlowHandler(deps.Flows, deps.Logger),
		WebSocket: NewWebSocketHandler(deps.Flows, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/health", handlers.Health.HandleHealth)

	flows := e.Group("/api/flows")
	flows.POST("", handlers.Flow.HandleStartFlow)
	flows.GET("/:id", handlers.Flow.HandleGetFlow)
	flows.GET("/:id/state", handlers.Flow.HandleGetFlowState)
	flows.POST("/:id/keepalive", handlers.Flow.HandleKeepAlive)

	// navigation
	flows.POST("/:id/next", handlers.Flow.HandleNext)
	flows.POST("/:id/back", handlers.Flow.HandleBack)
	flows.POST("/:id/next-file", handlers.Flow.HandleNextFile)
	flows.POST("/:id/previous-file", handlers.Flow.HandlePreviousFile)
	flows.POST("/:id/restart", handlers.Flow.HandleRestart)
	flows.POST("/:id/cancel", handlers.Flow.HandleCancel)
	flows.POST("/:id/reload", handlers.Flow.HandleReload)
	flows.POST("/:id/goto", handlers.Flow.HandleGoToStage)
	flows.POST("/:id/confirm", handlers.Flow.HandleConfirm)
	flows.PUT("/:id/chrome", handlers.Flow.HandleChrome)

	// stage edits
	flows.POST("/:id/files", handlers.Flow.HandleAddFiles)
	flows.PUT("/:id/header", handlers.Flow.HandleSetHeader)
	flows.PUT("/:id/columns", handlers.Flow.HandleEditColumns)
	flows.PUT("/:id/data-types", handlers.Flow.HandleEditDataTypes)
	flows.POST("/:id/data-types/bulk", handlers.Flow.HandleBulkRoles)
	flows.PUT("/:id/missing-values", handlers.Flow.HandleSetMissingValues)

	flows.GET("/:id/ws", handlers.WebSocket.HandleWebSocket)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
}
