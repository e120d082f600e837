package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection-pool slice of the health payload.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	Acquires      int64  `json:"acquires"`
	AcquireWait   string `json:"acquire_wait"`
}

// HealthStatus is the body served by the database health endpoint.
type HealthStatus struct {
	Status   string     `json:"status"`
	Database *PoolStats `json:"database"`
	Error    string     `json:"error,omitempty"`
}

func poolStats(pool *pgxpool.Pool) *PoolStats {
	s := pool.Stat()
	return &PoolStats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		Acquires:      s.AcquireCount(),
		AcquireWait:   s.AcquireDuration().String(),
	}
}

// HealthHandler pings the database under a short deadline and reports the
// pool state alongside the verdict. The gateway keeps serving previews
// with a degraded database (the config store falls back to its seed), so
// this probe is separate from the main /health endpoint.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := &HealthStatus{Status: "ok", Database: poolStats(pool)}
		if err := pool.Ping(ctx); err != nil {
			status.Status = "unavailable"
			status.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		return c.JSON(http.StatusOK, status)
	}
}
