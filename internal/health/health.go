// Package health aggregates readiness checks for the control API.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTTL is how long a report is served from cache.
const DefaultTTL = 5 * time.Second

// Check is the outcome of one named check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report is the combined result of all checks.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc performs one check. Name, LastChecked and Duration are filled
// in by the Checker.
type CheckFunc func(ctx context.Context) Check

// Checker runs registered checks concurrently and caches the report.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  *Report
	ttl    time.Duration
	clock  clock.Clock
}

// NewChecker returns a checker with no checks registered.
func NewChecker(c clock.Clock) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		ttl:    DefaultTTL,
		clock:  clock.OrReal(c),
	}
}

// Register adds or replaces a check and drops any cached report.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.cache = nil
}

// Check runs all checks, or returns the cached report while it is fresh.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	if c.cache != nil && c.clock.Since(c.cache.Timestamp) < c.ttl {
		report := *c.cache
		c.mu.RUnlock()
		return report
	}
	funcs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		funcs[name] = fn
	}
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		checks  = make(map[string]Check, len(funcs))
		overall = StatusHealthy
	)
	for name, fn := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := c.clock.Now()
			check := fn(ctx)
			check.Name = name
			check.LastChecked = start
			check.Duration = c.clock.Since(start)

			mu.Lock()
			defer mu.Unlock()
			checks[name] = check
			overall = worse(overall, check.Status)
		}()
	}
	wg.Wait()

	report := Report{Status: overall, Checks: checks, Timestamp: c.clock.Now()}

	c.mu.Lock()
	c.cache = &report
	c.mu.Unlock()
	return report
}

func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Handler serves the report as JSON: 200 when healthy or degraded, 503
// when unhealthy.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

func result(err error, bad Status, okMsg string) Check {
	if err != nil {
		return Check{Status: bad, Message: err.Error()}
	}
	return Check{Status: StatusHealthy, Message: okMsg}
}

// BackendCheck reports the policy backend unhealthy when it cannot be used.
func BackendCheck(backend interface{ Ready() error }) CheckFunc {
	return func(ctx context.Context) Check {
		return result(backend.Ready(), StatusUnhealthy, "backend ready")
	}
}

// StoreCheck reports the rule store unhealthy when it cannot be read.
func StoreCheck(store interface{ ListBuckets() ([]string, error) }) CheckFunc {
	return func(ctx context.Context) Check {
		_, err := store.ListBuckets()
		return result(err, StatusUnhealthy, "store readable")
	}
}

// CacheDirCheck reports degraded health when the blocklist cache directory
// is not writable. Downloads still work, but offline fallback does not.
func CacheDirCheck(dir string) CheckFunc {
	return func(ctx context.Context) Check {
		err := os.MkdirAll(dir, 0o755)
		if err == nil {
			probe := filepath.Join(dir, ".health_check")
			if err = os.WriteFile(probe, []byte("ok"), 0o644); err == nil {
				os.Remove(probe)
			}
		}
		if err != nil {
			err = fmt.Errorf("cache dir not writable: %w", err)
		}
		return result(err, StatusDegraded, "cache dir writable")
	}
}
