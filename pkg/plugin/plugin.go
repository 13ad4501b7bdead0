// Package plugin defines the contract between the runtime and concrete
// plugin implementations. Plugins are bound at registration time through a
// factory table rather than loaded from disk.
package plugin

import (
	"context"
	"log/slog"
)

// Instance is the live, constructed object implementing a plugin's runtime
// behaviour for one tenant. Optional behaviour is expressed through the
// Initializer, Cleaner and HealthChecker interfaces.
type Instance interface {
	// PluginID returns the catalog identifier this instance was built for.
	PluginID() string
}

// Initializer is implemented by instances that need setup before serving.
// A failed Initialize aborts the enable operation.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by instances that hold resources to release when
// disabled or uninstalled. Cleanup failures are logged, not propagated.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// HealthChecker is implemented by instances that can report liveness.
// Instances without it are assumed healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// HealthState enumerates the probe outcomes an instance may report.
type HealthState string

const (
	StateHealthy   HealthState = "healthy"
	StateDegraded  HealthState = "degraded"
	StateUnhealthy HealthState = "unhealthy"
)

// Health is the result of a single liveness probe.
type Health struct {
	State  HealthState    `json:"state"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Healthy is the default result for instances without a HealthChecker.
func Healthy() Health {
	return Health{State: StateHealthy}
}

// Deps carries everything the runtime hands to a plugin constructor.
type Deps struct {
	// TenantID identifies the tenant the instance serves.
	TenantID string
	// Config is the activation's configuration, already validated against
	// the manifest schema.
	Config map[string]any
	// Logger is a named child logger for the instance.
	Logger *slog.Logger
	// Resources exposes shared host services (persistence handle, caches).
	Resources map[string]any
}

// Clone returns a shallow copy so constructors can safely mutate the maps.
func (d Deps) Clone() Deps {
	dup := d
	if d.Config != nil {
		dup.Config = make(map[string]any, len(d.Config))
		for k, v := range d.Config {
			dup.Config[k] = v
		}
	}
	if d.Resources != nil {
		dup.Resources = make(map[string]any, len(d.Resources))
		for k, v := range d.Resources {
			dup.Resources[k] = v
		}
	}
	return dup
}

// Factory builds a new instance for one (tenant, plugin) activation.
type Factory func(deps Deps) (Instance, error)
