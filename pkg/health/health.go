// Package health provides liveness, readiness and dependency health endpoints.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const checkTimeout = 5 * time.Second

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

type check struct {
	ping PingFunc
	// critical failures make the service unhealthy, others only degrade it
	critical bool
}

// Checker reports on registered dependencies
type Checker struct {
	checks    map[string]check
	startTime time.Time
	version   string
	mu        sync.RWMutex
	ready     bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		checks:    map[string]check{},
		startTime: time.Now(),
		version:   version,
	}
}

// AddCheck registers a dependency. Non-critical dependencies degrade the status when down.
func (c *Checker) AddCheck(name string, ping PingFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check{ping: ping, critical: critical}
}

// SetReady marks the service as ready to receive traffic
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", c.HealthHandler)
	e.GET("/health/live", c.LivenessHandler)
	e.GET("/health/ready", c.ReadinessHandler)
}

// LivenessHandler answers while the process is serving requests.
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// ReadinessHandler fails until startup completed and while a critical dependency is down.
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}
	return c.HealthHandler(ctx)
}

func (c *Checker) HealthHandler(ctx echo.Context) error {
	resp := c.Check(ctx.Request().Context())

	statusCode := http.StatusOK
	if resp.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return ctx.JSON(statusCode, resp)
}

// Check runs every registered check.
func (c *Checker) Check(ctx context.Context) Response {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]check, len(c.checks))
	for name, chk := range c.checks {
		checks[name] = chk
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]CheckResult, len(names))
	overall := StatusHealthy
	for _, name := range names {
		chk := checks[name]
		result := run(ctx, chk.ping)
		if result.Status == StatusUnhealthy {
			if chk.critical {
				overall = StatusUnhealthy
			} else {
				result.Status = StatusDegraded
				if overall == StatusHealthy {
					overall = StatusDegraded
				}
			}
		}
		results[name] = result
	}

	return Response{
		Status:     overall,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     results,
		ReportedAt: time.Now(),
	}
}

func run(ctx context.Context, ping PingFunc) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
}
