package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/obialo/tutornotify/internal/directory"
	"github.com/obialo/tutornotify/internal/queue"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	queue *queue.RabbitMqClient
	redis *redis.Client
	dir   directory.Directory
}

func NewHealthHandler(
	queue *queue.RabbitMqClient,
	redis *redis.Client,
	dir directory.Directory,
) *HealthHandler {
	return &HealthHandler{
		queue: queue,
		redis: redis,
		dir:   dir,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	// Check RabbitMQ
	if h.queue.IsConnected() {
		checks["rabbitmq"] = "healthy"
	} else {
		checks["rabbitmq"] = "unhealthy"
	}

	// Check Redis
	if err := h.redis.Ping(ctx).Err(); err == nil {
		checks["redis"] = "healthy"
	} else {
		checks["redis"] = "unhealthy"
	}

	// Check recipient directory (circuit breaker aware)
	if _, err := h.dir.Lookup(ctx, []string{"health-check"}); err == nil {
		checks["directory"] = "healthy"
	} else {
		checks["directory"] = "degraded"
	}

	// Determine overall status
	overallStatus := "healthy"
	for _, status := range checks {
		if status == "unhealthy" {
			overallStatus = "unhealthy"
			break
		} else if status == "degraded" {
			overallStatus = "degraded"
		}
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
		"version":   "1.0.0",
	})
}
