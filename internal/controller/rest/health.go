package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

type HealthHandler struct {
	registry *resilience.Registry
	checks   map[string]Pinger
}

func NewHealthHandler(registry *resilience.Registry, checks map[string]Pinger) *HealthHandler {
	if registry == nil {
		registry = resilience.NewRegistry()
	}
	return &HealthHandler{registry: registry, checks: checks}
}

// Health handles GET /health.
// Разомкнутая цепь шлюза даёт статус degraded, недоступная зависимость из checks даёт 503
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	if !h.registry.Healthy() {
		status = "degraded"
	}

	deps := make(gin.H, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			deps[name] = gin.H{"status": "unavailable", "error": err.Error()}
			status, code = "unavailable", http.StatusServiceUnavailable
			continue
		}
		deps[name] = gin.H{"status": "ok"}
	}

	c.JSON(code, gin.H{
		"status":       status,
		"gateways":     h.registry.States(),
		"dependencies": deps,
	})
}
