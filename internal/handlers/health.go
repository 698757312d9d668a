package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coursetrail/coursetrail-backend/internal/services"
)

type HealthHandler struct {
	healthSvc services.HealthService
}

func NewHealthHandler(healthSvc services.HealthService) *HealthHandler {
	return &HealthHandler{healthSvc: healthSvc}
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := h.healthSvc.Check(c.Request.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
