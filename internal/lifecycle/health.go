package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/Proton-105/stalk-bot/internal/health"
)

// ErrShuttingDown fails readiness once shutdown started.
var ErrShuttingDown = errors.New("shutting down")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes answers liveness from the process itself and readiness from the
// dependency checker.
type Probes struct {
	log      *slog.Logger
	checker  *health.Checker
	draining atomic.Bool
}

// NewProbes creates a new Probes instance. A nil checker makes readiness
// depend on the draining flag only.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{log: log, checker: checker}
}

// Drain marks the process as going away.
func (p *Probes) Drain() {
	p.draining.Store(true)
}

// Liveness reports success while the process can serve HTTP.
func (p *Probes) Liveness(context.Context) error {
	return nil
}

// Readiness fails while draining or when a dependency is down.
func (p *Probes) Readiness(ctx context.Context) error {
	_, err := p.readiness(ctx)
	return err
}

func (p *Probes) readiness(ctx context.Context) (map[string]string, error) {
	if p.draining.Load() {
		return nil, ErrShuttingDown
	}
	if p.checker == nil {
		return nil, nil
	}

	results, healthy := p.checker.Check(ctx)
	if !healthy {
		return results, errors.New("dependency check failed")
	}
	return results, nil
}

// LivenessHandler serves /healthz.
func (p *Probes) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.write(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

// ReadinessHandler serves /readyz with per-component statuses.
func (p *Probes) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results, err := p.readiness(r.Context())
		if err != nil {
			p.log.Warn("readiness probe failed", slog.Any("error", err))
			p.write(w, http.StatusServiceUnavailable, map[string]any{"status": err.Error(), "checks": results})
			return
		}
		p.write(w, http.StatusOK, map[string]any{"status": "ok", "checks": results})
	})
}

func (p *Probes) write(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		p.log.Debug("failed to write probe response", slog.Any("error", err))
	}
}
