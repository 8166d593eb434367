// Package health exposes liveness/readiness HTTP probes, checking Redis,
// the database port, and the blob store the way the rest of this
// service's ambient stack checks its external collaborators.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harmonicarena/roomsrv/internal/bus"
	"github.com/harmonicarena/roomsrv/internal/logging"
)

// DatabasePinger is the narrow capability health checks need from the
// database port adapter.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// StoragePinger is the narrow capability health checks need from the
// blob store adapter.
type StoragePinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	redisService *bus.Service
	db           DatabasePinger
	storage      StoragePinger
}

// NewHandler creates a new health check handler. db and storage may be
// nil in tests that don't exercise those checks.
func NewHandler(redisService *bus.Service, db DatabasePinger, storage StoragePinger) *Handler {
	return &Handler{redisService: redisService, db: db, storage: storage}
}

type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness returns 200 if the process is alive (no dependency checks).
// GET /health/live
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness returns 200 only if all critical dependencies are healthy.
// GET /health/ready
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	allHealthy = allHealthy && redisStatus == "healthy"

	dbStatus := h.checkDependency(ctx, h.db)
	checks["database"] = dbStatus
	allHealthy = allHealthy && dbStatus == "healthy"

	storageStatus := h.checkDependency(ctx, h.storage)
	checks["storage"] = storageStatus
	allHealthy = allHealthy && storageStatus == "healthy"

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}
	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) checkDependency(ctx context.Context, p pinger) string {
	if p == nil {
		return "healthy"
	}
	if err := p.Ping(ctx); err != nil {
		logging.Error(ctx, "dependency health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct{ *Alias }{Alias: (*Alias)(&r)})
}
