// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/trinity/guided-upload/internal/session"
)

// FlowHandler handles guided upload flow operations
type FlowHandler interface {
	HandleStartFlow(c echo.Context) error
	HandleGetFlow(c echo.Context) error
	HandleGetFlowState(c echo.Context) error
	HandleKeepAlive(c echo.Context) error
	HandleNext(c echo.Context) error
	HandleBack(c echo.Context) error
	HandleNextFile(c echo.Context) error
	HandlePreviousFile(c echo.Context) error
	HandleRestart(c echo.Context) error
	HandleCancel(c echo.Context) error
	HandleReload(c echo.Context) error
	HandleAddFiles(c echo.Context) error
	HandleSetHeader(c echo.Context) error
	HandleEditColumns(c echo.Context) error
	HandleEditDataTypes(c echo.Context) error
	HandleBulkRoles(c echo.Context) error
	HandleSetMissingValues(c echo.Context) error
	HandleGoToStage(c echo.Context) error
	HandleConfirm(c echo.Context) error
	HandleChrome(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// FlowManager defines the interface for flow management
// This allows mocking in tests
type FlowManager interface {
	StartFlow(ctx context.Context, req session.StartRequest) (*session.FlowState, error)
	GetFlow(id string) (*session.FlowState, bool)
	TouchFlow(id string) bool
	Count() int
}
