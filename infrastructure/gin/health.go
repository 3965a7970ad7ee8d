package gin

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus is the status reported by /health and /ready.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const checkTimeout = 3 * time.Second

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status  HealthStatus           `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Uptime  string                 `json:"uptime,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthChecker probes one dependency.
type HealthChecker func(ctx context.Context) CheckResult

// PingChecker adapts a ping function. Failures report unhealthy unless
// degradedOnly is set, in which case the service keeps serving.
func PingChecker(ping func(ctx context.Context) error, degradedOnly bool) HealthChecker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		err := ping(ctx)
		res := CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start).Round(time.Millisecond).String()}
		if err != nil {
			res.Status = HealthStatusUnhealthy
			if degradedOnly {
				res.Status = HealthStatusDegraded
			}
			res.Message = err.Error()
		}
		return res
	}
}

// registerHealthRoutes adds GET/HEAD /health (liveness) and GET /ready (dependency checks).
func registerHealthRoutes(router *gin.Engine, cfg *Config, checks map[string]HealthChecker, started time.Time) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:  HealthStatusHealthy,
			Service: cfg.ServiceName,
			Version: cfg.ServiceVersion,
			Uptime:  time.Since(started).Round(time.Second).String(),
		})
	})
	router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/ready", readinessHandler(cfg, checks))
}

func readinessHandler(cfg *Config, checks map[string]HealthChecker) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()

		resp := HealthResponse{
			Status:  HealthStatusHealthy,
			Service: cfg.ServiceName,
			Version: cfg.ServiceVersion,
			Checks:  make(map[string]CheckResult, len(checks)),
		}
		for _, name := range names {
			result := checks[name](ctx)
			resp.Checks[name] = result
			switch {
			case result.Status == HealthStatusUnhealthy:
				resp.Status = HealthStatusUnhealthy
			case result.Status == HealthStatusDegraded && resp.Status == HealthStatusHealthy:
				resp.Status = HealthStatusDegraded
			}
		}

		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}
