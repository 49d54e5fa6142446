package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency. Status and Message are used from the
// result; Latency and Timestamp are filled in by the checker.
type CheckFunc func(ctx context.Context) DependencyStatus

type namedCheck struct {
	name string
	fn   CheckFunc
	// critical checks turn readiness unhealthy; others only degrade it
	critical bool
}

// HealthChecker serves liveness and readiness probes for murmur-server
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	checks []namedCheck
}

// NewHealthChecker creates a health checker. Postgres backs every store, so a
// failing db makes the service unready; redis only backs the shared
// premium-status cache, so losing it degrades. Either may be nil.
func NewHealthChecker(db *sql.DB, rdb *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.AddCheck("database", true, databaseCheck(db))
	}
	if rdb != nil {
		h.AddCheck("redis", false, func(ctx context.Context) DependencyStatus {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return DependencyStatus{Status: StatusUnhealthy, Message: err.Error()}
			}
			return DependencyStatus{Status: StatusHealthy}
		})
	}
	return h
}

// AddCheck registers an extra readiness probe under name
func (h *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, fn: fn, critical: critical})
}

// HealthStatus is the readiness document
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one check
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Liveness always answers 200 while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 only when a critical check is unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// Check runs every registered probe and folds their results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	out := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(checks)),
	}
	for _, c := range checks {
		start := time.Now()
		res := c.fn(ctx)
		res.Latency = time.Since(start)
		res.Timestamp = start
		out.Dependencies[c.name] = res

		switch {
		case res.Status == StatusUnhealthy && c.critical:
			out.Status = StatusUnhealthy
		case res.Status != StatusHealthy && out.Status == StatusHealthy:
			out.Status = StatusDegraded
		}
	}
	return out
}

func databaseCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) DependencyStatus {
		if err := db.PingContext(ctx); err != nil {
			return DependencyStatus{Status: StatusUnhealthy, Message: err.Error()}
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return DependencyStatus{Status: StatusUnhealthy, Message: "query failed: " + err.Error()}
		}
		// MaxOpenConnections is 0 when the pool is unbounded
		if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
			return DependencyStatus{Status: StatusDegraded, Message: "connection pool exhausted"}
		}
		return DependencyStatus{Status: StatusHealthy}
	}
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
