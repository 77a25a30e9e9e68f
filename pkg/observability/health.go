package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthStatus is the response body of GET /health
type HealthStatus struct {
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Timestamp     time.Time         `json:"timestamp"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// BrokerLiveness reports whether the notification broker connection is up
type BrokerLiveness interface {
	IsConnected() bool
}

// HealthChecker manages health checks for the service
type HealthChecker struct {
	dbPool    *pgxpool.Pool
	redis     *redis.Client
	broker    BrokerLiveness
	startedAt time.Time
}

// NewHealthChecker creates a new HealthChecker
func NewHealthChecker(dbPool *pgxpool.Pool, rdb *redis.Client, broker BrokerLiveness) *HealthChecker {
	return &HealthChecker{
		dbPool:    dbPool,
		redis:     rdb,
		broker:    broker,
		startedAt: time.Now(),
	}
}

// Check performs health checks and returns the status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	checks := make(map[string]string)
	overallStatus := "healthy"

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if h.dbPool != nil {
		if err := h.dbPool.Ping(checkCtx); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(checkCtx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
		} else {
			checks["redis"] = "healthy"
		}
	}

	if h.broker != nil {
		if h.broker.IsConnected() {
			checks["broker"] = "healthy"
		} else {
			// A dropped broker connection degrades but does not kill the
			// pipeline; outcomes park in the fallback KV.
			checks["broker"] = "disconnected"
			if overallStatus == "healthy" {
				overallStatus = "degraded"
			}
		}
	}

	return HealthStatus{
		Status:        overallStatus,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
	}
}

// HealthHandler returns an HTTP handler for GET /health
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(status)
	}
}
