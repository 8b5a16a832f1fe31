// Package health exposes the Kubernetes-style liveness and readiness
// probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/room"
)

// Handler manages the health check endpoints.
type Handler struct {
	store       *room.Store
	redisClient *redis.Client
}

// NewHandler creates a health handler. redisClient may be nil when the
// service runs without Redis; the readiness probe then skips the check.
func NewHandler(store *room.Store, redisClient *redis.Client) *Handler {
	return &Handler{store: store, redisClient: redisClient}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Rooms     int               `json:"rooms"`
	Timestamp string            `json:"timestamp"`
}

// Liveness reports that the process is alive. No dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports 200 only when every configured dependency is healthy,
// 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Rooms:     h.store.Len(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies connectivity with a PING. Without a configured client
// the service is single-instance and the check passes.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisClient == nil {
		return "healthy"
	}
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
