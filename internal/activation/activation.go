// Package activation tracks which plugin instances are active for which
// tenants: one record per (tenant, plugin) pair, persisted across restarts.
package activation

import (
	xerrors "orchestrall/internal/errors"
)

// Status is the lifecycle position of one tenant-plugin activation.
type Status string

const (
	StatusInstalled Status = "installed"
	StatusEnabled   Status = "enabled"
	StatusDisabled  Status = "disabled"
)

// Activation is the durable record of one plugin enabled (or previously
// enabled) for one tenant. The composite key is (TenantID, PluginID).
type Activation struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	PluginID  string         `json:"plugin_id"`
	Config    map[string]any `json:"config,omitempty"`
	Status    Status         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

var (
	// ErrNotFound means no activation exists for the requested pair.
	ErrNotFound = xerrors.New(CodeActivationNotFound, "activation not found")
	// ErrConflict means an activation already exists for the pair.
	ErrConflict = xerrors.New(CodeActivationConflict, "plugin already installed for tenant",
		xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeActivationNotFound xerrors.Code = "ACTIVATION_NOT_FOUND"
	CodeActivationConflict xerrors.Code = "ACTIVATION_CONFLICT"
)

func init() {
	xerrors.Register(CodeActivationNotFound, xerrors.Attributes{
		Message:  "activation not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeActivationConflict, xerrors.Attributes{
		Message:  "plugin already installed for tenant",
		Severity: xerrors.SeverityWarning,
	})
}

// Clone returns a deep-enough copy so callers cannot mutate stored state.
func (a *Activation) Clone() *Activation {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Config = cloneValues(a.Config)
	clone.Metadata = cloneValues(a.Metadata)
	return &clone
}

// IsValidStatus reports whether status is a supported enum value.
func IsValidStatus(status Status) bool {
	switch status {
	case StatusInstalled, StatusEnabled, StatusDisabled:
		return true
	default:
		return false
	}
}

func cloneValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}
