// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	flows   FlowManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, flows FlowManager) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		flows:   flows,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.flows != nil {
		resp["activeFlows"] = h.flows.Count()
	}
	return c.JSON(http.StatusOK, resp)
}
