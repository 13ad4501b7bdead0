// Package tenant loads per-tenant configuration from the clients directory
// and bootstraps each tenant's plugin set through the lifecycle manager.
//
// Layout on disk:
//
//	clients/
//	  acme/
//	    config.yaml    tenant metadata
//	    plugins.yaml   desired plugin activations
package tenant

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"orchestrall/internal/activation"
	xerrors "orchestrall/internal/errors"
	"orchestrall/pkg/logger"
)

// Tenant is one client's metadata as declared in config.yaml.
type Tenant struct {
	ID          string            `yaml:"id" json:"id"`
	DisplayName string            `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// PluginRef is one desired activation in a tenant's plugins.yaml.
type PluginRef struct {
	ID      string         `yaml:"id" json:"id"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Config  map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Profile is a tenant plus its desired plugin set.
type Profile struct {
	Tenant  Tenant
	Plugins []PluginRef
}

// Loader reads tenant profiles from the clients root directory. Each
// immediate subdirectory is one tenant; its name is the canonical tenant ID.
type Loader struct {
	root   string
	logger *slog.Logger
}

// NewLoader creates a loader over the given clients root.
func NewLoader(root string) *Loader {
	return &Loader{root: root, logger: logger.Named("tenant")}
}

// Load reads one tenant's profile. A missing config.yaml yields a profile
// with just the directory-derived ID; a missing plugins.yaml yields an empty
// plugin set.
func (l *Loader) Load(tenantID string) (*Profile, error) {
	dir := filepath.Join(l.root, tenantID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, xerrors.New(xerrors.CodeNotFound, "tenant directory not found: "+tenantID)
	}

	profile := &Profile{Tenant: Tenant{ID: tenantID}}

	if raw, err := os.ReadFile(filepath.Join(dir, "config.yaml")); err == nil {
		if err := yaml.Unmarshal(raw, &profile.Tenant); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse tenant config for "+tenantID)
		}
		// The directory name wins over whatever the file claims.
		profile.Tenant.ID = tenantID
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read tenant config for "+tenantID)
	}

	if raw, err := os.ReadFile(filepath.Join(dir, "plugins.yaml")); err == nil {
		if err := yaml.Unmarshal(raw, &profile.Plugins); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse plugin list for "+tenantID)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read plugin list for "+tenantID)
	}

	return profile, nil
}

// LoadAll reads every tenant profile under the root, sorted by tenant ID. A
// missing root is an empty deployment, not an error. A tenant whose files
// fail to parse is skipped with a warning so one bad client cannot block
// startup.
func (l *Loader) LoadAll() ([]*Profile, error) {
	dirEntries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read clients root")
	}

	var profiles []*Profile
	for _, entry := range dirEntries {
		if !entry.IsDir() {
			continue
		}
		profile, err := l.Load(entry.Name())
		if err != nil {
			l.logger.Warn("skipping tenant with broken configuration",
				slog.String("tenant", entry.Name()),
				slog.Any("error", err),
			)
			continue
		}
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Tenant.ID < profiles[j].Tenant.ID })
	return profiles, nil
}

// Lifecycle is the slice of the runtime manager bootstrap drives.
type Lifecycle interface {
	Install(ctx context.Context, tenantID, pluginID string, config map[string]any) (*activation.Activation, error)
	Enable(ctx context.Context, tenantID, pluginID string) (*activation.Activation, error)
}

// BootstrapResult records the outcome for one desired activation.
type BootstrapResult struct {
	TenantID string
	PluginID string
	Err      error
}

// Bootstrap walks every tenant profile and drives each desired plugin to its
// declared state: install when absent, then enable when requested. Failures
// are collected per plugin and never stop the rest of the rollout.
func Bootstrap(ctx context.Context, loader *Loader, lifecycle Lifecycle) ([]BootstrapResult, error) {
	profiles, err := loader.LoadAll()
	if err != nil {
		return nil, err
	}

	var results []BootstrapResult
	for _, profile := range profiles {
		for _, ref := range profile.Plugins {
			err := bootstrapOne(ctx, lifecycle, profile.Tenant.ID, ref)
			results = append(results, BootstrapResult{
				TenantID: profile.Tenant.ID,
				PluginID: ref.ID,
				Err:      err,
			})
		}
	}
	return results, nil
}

func bootstrapOne(ctx context.Context, lifecycle Lifecycle, tenantID string, ref PluginRef) error {
	_, err := lifecycle.Install(ctx, tenantID, ref.ID, ref.Config)
	if err != nil && !errors.Is(err, activation.ErrConflict) {
		return err
	}
	if !ref.Enabled {
		return nil
	}
	_, err = lifecycle.Enable(ctx, tenantID, ref.ID)
	return err
}
