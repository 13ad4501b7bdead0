package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"orchestrall/internal/observability/metrics"
	"orchestrall/pkg/logger"
	"orchestrall/pkg/plugin"
)

const (
	defaultHealthInterval = 5 * time.Minute
	defaultHealthTimeout  = 10 * time.Second
)

// InstanceSource supplies the live instances to sweep. The lifecycle
// manager implements it.
type InstanceSource interface {
	ActiveInstances() map[Pair]plugin.Instance
}

// HealthResult is the latest probe outcome for one live instance. Results
// are reported out-of-band; the scheduler never touches activation status.
type HealthResult struct {
	State     plugin.HealthState `json:"state"`
	Detail    map[string]any     `json:"detail,omitempty"`
	Error     string             `json:"error,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
}

// HealthScheduler sweeps every active instance on a fixed interval and
// keeps only the latest snapshot. One failing probe never suppresses the
// results of the others.
type HealthScheduler struct {
	source   InstanceSource
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot map[Pair]HealthResult
}

// HealthOption configures the scheduler.
type HealthOption func(*HealthScheduler)

// WithInterval sets the sweep interval.
func WithInterval(interval time.Duration) HealthOption {
	return func(s *HealthScheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithCheckTimeout bounds each individual probe.
func WithCheckTimeout(timeout time.Duration) HealthOption {
	return func(s *HealthScheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewHealthScheduler creates a scheduler over the given instance source.
func NewHealthScheduler(source InstanceSource, opts ...HealthOption) *HealthScheduler {
	s := &HealthScheduler{
		source:   source,
		interval: defaultHealthInterval,
		timeout:  defaultHealthTimeout,
		logger:   logger.Named("health"),
		snapshot: make(map[Pair]HealthResult),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start runs the periodic sweep until the context is cancelled.
func (s *HealthScheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep over every live instance and replaces the
// snapshot. Exposed for tests and operator-triggered probes.
func (s *HealthScheduler) RunOnce(ctx context.Context) {
	instances := s.source.ActiveInstances()
	results := make(map[Pair]HealthResult, len(instances))

	for pair, inst := range instances {
		result := s.check(ctx, pair, inst)
		results[pair] = result
		metrics.ObserveHealthCheck(string(result.State))
		if result.State != plugin.StateHealthy {
			s.logger.Warn("plugin instance unhealthy",
				slog.String("tenant", pair.TenantID),
				slog.String("plugin", pair.PluginID),
				slog.String("state", string(result.State)),
				slog.String("error", result.Error),
			)
		}
	}

	s.mu.Lock()
	s.snapshot = results
	s.mu.Unlock()
}

func (s *HealthScheduler) check(ctx context.Context, pair Pair, inst plugin.Instance) HealthResult {
	result := HealthResult{State: plugin.StateHealthy, CheckedAt: time.Now()}

	checker, ok := inst.(plugin.HealthChecker)
	if !ok {
		// Instances without a probe are assumed healthy.
		return result
	}

	var health plugin.Health
	err := invokeWithTimeout(ctx, s.timeout, "health check", func(ctx context.Context) error {
		health = checker.HealthCheck(ctx)
		return nil
	})
	if err != nil {
		result.State = plugin.StateUnhealthy
		result.Error = err.Error()
		return result
	}
	if health.State == "" {
		health.State = plugin.StateHealthy
	}
	result.State = health.State
	result.Detail = health.Detail
	return result
}

// Snapshot returns a copy of the latest sweep results.
func (s *HealthScheduler) Snapshot() map[Pair]HealthResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Pair]HealthResult, len(s.snapshot))
	for pair, result := range s.snapshot {
		out[pair] = result
	}
	return out
}
