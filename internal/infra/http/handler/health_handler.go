package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Pinger is a health-checkable dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db    Pinger
	redis Pinger
}

// HealthHandlerOption configures the health handler.
type HealthHandlerOption func(*HealthHandler)

// WithDatabase adds a database readiness check.
func WithDatabase(db Pinger) HealthHandlerOption {
	return func(h *HealthHandler) { h.db = db }
}

// WithRedis adds a Redis readiness check.
func WithRedis(redis Pinger) HealthHandlerOption {
	return func(h *HealthHandler) { h.redis = redis }
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles the liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// CheckResult is one dependency's readiness result.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ReadyResponse is the readiness payload.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Ready checks all dependencies and returns 503 if any are down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]CheckResult)
	allHealthy := true

	var wg sync.WaitGroup
	var mu sync.Mutex

	check := func(name string, dep Pinger) {
		defer wg.Done()
		result := checkDependency(ctx, dep)
		mu.Lock()
		checks[name] = result
		if result.Status != "ok" {
			allHealthy = false
		}
		mu.Unlock()
	}

	if h.db != nil {
		wg.Add(1)
		go check("database", h.db)
	}
	if h.redis != nil {
		wg.Add(1)
		go check("redis", h.redis)
	}
	wg.Wait()

	status := http.StatusOK
	statusText := "ready"
	if !allHealthy {
		status = http.StatusServiceUnavailable
		statusText = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ReadyResponse{
		Status:    statusText,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func checkDependency(ctx context.Context, dep Pinger) CheckResult {
	start := time.Now()
	if err := dep.Ping(ctx); err != nil {
		return CheckResult{
			Status:   "error",
			Duration: time.Since(start).String(),
			Error:    err.Error(),
		}
	}
	return CheckResult{
		Status:   "ok",
		Duration: time.Since(start).String(),
	}
}
