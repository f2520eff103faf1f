// Package health serves the dependency probe endpoint.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"identify/pkg/platform/httputil"
)

const probeTimeout = 2 * time.Second

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

// Handler probes every registered dependency on each request.
type Handler struct {
	logger *slog.Logger
	checks []namedCheck
}

func New(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Add registers a check. Checks run in registration order.
func (h *Handler) Add(name string, check Check) {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

type response struct {
	Status  string   `json:"status"`
	Failing []string `json:"failing,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := response{Status: "ok"}
	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			h.logger.ErrorContext(ctx, "health probe failed", "dependency", c.name, "error", err)
			resp.Failing = append(resp.Failing, c.name)
		}
	}
	if len(resp.Failing) > 0 {
		resp.Status = "degraded"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
