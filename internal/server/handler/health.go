package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

const pingTimeout = 2 * time.Second

// HealthHandler reports reachability of the backends the replica uses.
type HealthHandler struct {
	checks map[string]domain.Pinger
	clock  domain.Clock
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler over named backends.
func NewHealthHandler(checks map[string]domain.Pinger, clock domain.Clock, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, clock: clock, logger: logger}
}

// Health pings every backend concurrently. Any failure turns the response
// into 503.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, p domain.Pinger) {
			defer wg.Done()
			status := "ok"
			if err := p.Ping(ctx); err != nil {
				status = "error: " + err.Error()
				h.logger.WarnContext(ctx, "health: backend unreachable",
					slog.String("backend", name),
					slog.String("error", err.Error()),
				)
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, h.checks[name])
	}
	wg.Wait()

	overall, code := "ok", http.StatusOK
	for _, s := range results {
		if s != "ok" {
			overall, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":    overall,
		"checks":    results,
		"timestamp": h.clock.Now().Format(time.RFC3339),
	})
}
