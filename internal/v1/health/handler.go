// Package health serves the liveness and readiness probes. Liveness also
// carries the coarse aggregates operators want at a glance: how many
// sessions, players, and subscriptions this process is holding.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/logging"
)

// Pinger is a dependency that can confirm it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GameCounter reports session and player totals.
type GameCounter interface {
	Counts() (sessions, players int)
}

// SubscriptionCounter reports how many event subscriptions are live.
type SubscriptionCounter interface {
	Count() int
}

// Handler manages the health check endpoints.
type Handler struct {
	registry Pinger
	redis    Pinger
	games    GameCounter
	subs     SubscriptionCounter
}

// NewHandler creates a health handler. redis may be nil in
// single-instance mode; registry may be nil only in tests.
func NewHandler(registry, redis Pinger, games GameCounter, subs SubscriptionCounter) *Handler {
	return &Handler{
		registry: registry,
		redis:    redis,
		games:    games,
		subs:     subs,
	}
}

// LivenessResponse is the liveness probe response.
type LivenessResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	Players       int    `json:"players"`
	Subscriptions int    `json:"subscriptions"`
	Timestamp     string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 whenever the process is
// up; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	resp := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.games != nil {
		resp.Sessions, resp.Players = h.games.Counts()
	}
	if h.subs != nil {
		resp.Subscriptions = h.subs.Count()
	}
	c.JSON(http.StatusOK, resp)
}

// Readiness handles GET /health/ready. Returns 200 only when every
// configured dependency answers, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if status := h.check(ctx, "registry", h.registry); status != "" {
		checks["registry"] = status
		allHealthy = allHealthy && status == "healthy"
	}
	if status := h.check(ctx, "redis", h.redis); status != "" {
		checks["redis"] = status
		allHealthy = allHealthy && status == "healthy"
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
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// check pings one dependency. Unconfigured dependencies return "".
func (h *Handler) check(ctx context.Context, name string, dep Pinger) string {
	if dep == nil {
		return ""
	}
	if err := dep.Ping(ctx); err != nil {
		logging.Error(ctx, "dependency health check failed",
			zap.String("dependency", name),
			zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
