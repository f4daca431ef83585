// Package health reports service liveness and the state of its dependencies.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Configuration constants
const (
	DefaultCacheTTL       = 10 * time.Second
	DefaultCheckTimeout   = 5 * time.Second
	DefaultDeepCheckLimit = 10 * time.Second
)

// Component states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusSkipped   = "not_configured"
)

// Status represents the health check response.
type Status struct {
	Status    string                    `json:"status"`
	Service   string                    `json:"service"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks,omitempty"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Probe checks one dependency. A nil Check marks the dependency as not
// configured, which does not degrade the service.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	Probes         []Probe
	Logger         *slog.Logger
	CacheTTL       time.Duration
	CheckTimeout   time.Duration
	DeepCheckLimit time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig(serviceName string, logger *slog.Logger) *Config {
	return &Config{
		ServiceName:    serviceName,
		Logger:         logger,
		CacheTTL:       DefaultCacheTTL,
		CheckTimeout:   DefaultCheckTimeout,
		DeepCheckLimit: DefaultDeepCheckLimit,
	}
}

// Checker runs probes and caches the outcome.
type Checker struct {
	config *Config
	now    func() time.Time

	mu            sync.RWMutex
	lastCheck     time.Time
	lastStatus    *Status
	lastDeepCheck time.Time
}

// NewChecker creates a new health checker with the given configuration.
func NewChecker(config *Config) *Checker {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Checker{config: config, now: time.Now}
}

// Check reports service health. Probes only run when deep is set; otherwise a
// result younger than CacheTTL is reused.
func (c *Checker) Check(ctx context.Context, deep bool) *Status {
	if !deep {
		c.mu.RLock()
		cached := c.lastStatus
		fresh := cached != nil && c.now().Sub(c.lastCheck) < c.config.CacheTTL
		c.mu.RUnlock()
		if fresh {
			return cached.clone()
		}
	}

	status := &Status{
		Status:    StatusHealthy,
		Service:   c.config.ServiceName,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	if deep {
		results := c.runProbes(ctx)
		for i, p := range c.config.Probes {
			status.Checks[p.Name] = results[i]
			if results[i].Status == StatusUnhealthy {
				status.Status = StatusDegraded
			}
		}
	}

	c.mu.Lock()
	c.lastCheck = c.now()
	c.lastStatus = status
	c.mu.Unlock()

	return status.clone()
}

func (c *Checker) runProbes(ctx context.Context) []ComponentCheck {
	results := make([]ComponentCheck, len(c.config.Probes))

	var g errgroup.Group
	for i, p := range c.config.Probes {
		if p.Check == nil {
			results[i] = ComponentCheck{Status: StatusSkipped}
			continue
		}
		g.Go(func() error {
			results[i] = c.probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Checker) probe(ctx context.Context, p Probe) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
	defer cancel()

	start := c.now()
	err := p.Check(ctx)
	latency := c.now().Sub(start)

	if err != nil {
		c.config.Logger.WarnContext(ctx, "Health probe failed", "probe", p.Name, "error", err)
		return ComponentCheck{
			Status:  StatusUnhealthy,
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}
	return ComponentCheck{Status: StatusHealthy, Latency: latency.String()}
}

func (s *Status) clone() *Status {
	cp := *s
	cp.Checks = maps.Clone(s.Checks)
	if cp.Checks == nil {
		cp.Checks = make(map[string]ComponentCheck)
	}
	return &cp
}

// CanPerformDeepCheck returns true if enough time has passed since the last deep check.
func (c *Checker) CanPerformDeepCheck() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Sub(c.lastDeepCheck) >= c.config.DeepCheckLimit
}

// RecordDeepCheck records the time of a deep health check.
func (c *Checker) RecordDeepCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDeepCheck = c.now()
}

// Handler returns an HTTP handler for basic health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.writeResponse(w, c.Check(r.Context(), false), 0)
	}
}

// DeepHandler returns an HTTP handler for deep health checks. Calls inside
// DeepCheckLimit get the cached result with 429.
func (c *Checker) DeepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.CanPerformDeepCheck() {
			status := c.Check(r.Context(), false)
			status.Checks["rate_limited"] = ComponentCheck{
				Status: "info",
				Error:  "Deep health check rate limited, returning cached result",
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(c.config.DeepCheckLimit.Seconds())))
			c.writeResponse(w, status, http.StatusTooManyRequests)
			return
		}

		c.RecordDeepCheck()
		c.writeResponse(w, c.Check(r.Context(), true), 0)
	}
}

func (c *Checker) writeResponse(w http.ResponseWriter, status *Status, code int) {
	if code == 0 {
		code = http.StatusOK
		if status.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		c.config.Logger.Error("Failed to encode health check response", "error", err)
	}
}
