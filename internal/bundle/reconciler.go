package bundle

import (
	"context"
	"log/slog"
	"reflect"
	"sort"

	"orchestrall/internal/activation"
	"orchestrall/pkg/logger"
)

// Action is the reconciliation step planned for one plugin.
type Action string

const (
	ActionInstall     Action = "install"
	ActionEnable      Action = "enable"
	ActionReconfigure Action = "reconfigure"
	ActionSkip        Action = "skip"
	ActionDisable     Action = "disable"
)

// Lifecycle is the slice of the runtime manager the reconciler drives.
type Lifecycle interface {
	Install(ctx context.Context, tenantID, pluginID string, config map[string]any) (*activation.Activation, error)
	Enable(ctx context.Context, tenantID, pluginID string) (*activation.Activation, error)
	Disable(ctx context.Context, tenantID, pluginID string) (*activation.Activation, error)
	UpdateConfig(ctx context.Context, tenantID, pluginID string, partial map[string]any, restart bool) (*activation.Activation, error)
}

// Step is one planned reconciliation action for a plugin.
type Step struct {
	PluginID string         `json:"pluginId"`
	Action   Action         `json:"action"`
	Config   map[string]any `json:"config,omitempty"`
}

// Plan is the full set of steps that would bring a tenant in line with a
// bundle. Steps are ordered: bundle entries first, prunes last.
type Plan struct {
	Bundle string `json:"bundle"`
	Tenant string `json:"tenant"`
	Steps  []Step `json:"steps"`
}

// Result is the outcome of applying one step. Err is empty on success.
type Result struct {
	PluginID string `json:"pluginId"`
	Action   Action `json:"action"`
	Err      string `json:"error,omitempty"`
}

// Reconciler diffs a tenant's activations against a bundle and applies the
// difference through the lifecycle manager.
type Reconciler struct {
	lifecycle Lifecycle
	store     activation.Store
	logger    *slog.Logger
}

// NewReconciler wires a reconciler over the lifecycle manager and the
// activation store.
func NewReconciler(lifecycle Lifecycle, store activation.Store) *Reconciler {
	return &Reconciler{
		lifecycle: lifecycle,
		store:     store,
		logger:    logger.Named("bundle"),
	}
}

// PlanOptions tunes how the plan is computed.
type PlanOptions struct {
	// Prune plans a disable for every activation the bundle does not cover.
	// Off by default: a bundle rollout must not silently turn off plugins
	// the tenant enabled independently.
	Prune bool
}

// Plan computes the steps needed to align the tenant with the bundle. It
// performs no writes.
func (r *Reconciler) Plan(ctx context.Context, tenantID string, b *Bundle, opts PlanOptions) (*Plan, error) {
	current, err := r.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byPlugin := make(map[string]*activation.Activation, len(current))
	for _, act := range current {
		byPlugin[act.PluginID] = act
	}

	plan := &Plan{Bundle: b.Name, Tenant: tenantID}
	covered := make(map[string]struct{}, len(b.Entries))

	for _, entry := range b.Entries {
		covered[entry.ID] = struct{}{}
		act, installed := byPlugin[entry.ID]
		switch {
		case !installed:
			plan.Steps = append(plan.Steps, Step{PluginID: entry.ID, Action: ActionInstall, Config: entry.Config})
		case configDrifted(entry.Config, act.Config):
			plan.Steps = append(plan.Steps, Step{PluginID: entry.ID, Action: ActionReconfigure, Config: entry.Config})
		case act.Status != activation.StatusEnabled:
			plan.Steps = append(plan.Steps, Step{PluginID: entry.ID, Action: ActionEnable})
		default:
			plan.Steps = append(plan.Steps, Step{PluginID: entry.ID, Action: ActionSkip})
		}
	}

	if opts.Prune {
		var extras []string
		for pluginID := range byPlugin {
			if _, ok := covered[pluginID]; !ok {
				extras = append(extras, pluginID)
			}
		}
		sort.Strings(extras)
		for _, pluginID := range extras {
			plan.Steps = append(plan.Steps, Step{PluginID: pluginID, Action: ActionDisable})
		}
	}
	return plan, nil
}

// configDrifted reports whether any key the bundle prescribes differs from
// the stored configuration. Keys the bundle does not set are left alone.
func configDrifted(desired, current map[string]any) bool {
	for key, want := range desired {
		if got, ok := current[key]; !ok || !reflect.DeepEqual(got, want) {
			return true
		}
	}
	return false
}

// Apply executes a plan step by step. A failing step is recorded and the
// remaining steps still run, so one broken plugin cannot block the rollout
// of the rest.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) []Result {
	results := make([]Result, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		err := r.applyStep(ctx, plan.Tenant, step)
		result := Result{PluginID: step.PluginID, Action: step.Action}
		if err != nil {
			result.Err = err.Error()
			r.logger.Warn("bundle step failed",
				slog.String("bundle", plan.Bundle),
				slog.String("tenant", plan.Tenant),
				slog.String("plugin", step.PluginID),
				slog.String("action", string(step.Action)),
				slog.Any("error", err),
			)
		}
		results = append(results, result)
	}
	return results
}

func (r *Reconciler) applyStep(ctx context.Context, tenantID string, step Step) error {
	switch step.Action {
	case ActionInstall:
		if _, err := r.lifecycle.Install(ctx, tenantID, step.PluginID, step.Config); err != nil {
			return err
		}
		_, err := r.lifecycle.Enable(ctx, tenantID, step.PluginID)
		return err
	case ActionReconfigure:
		if _, err := r.lifecycle.UpdateConfig(ctx, tenantID, step.PluginID, step.Config, true); err != nil {
			return err
		}
		_, err := r.lifecycle.Enable(ctx, tenantID, step.PluginID)
		return err
	case ActionEnable:
		_, err := r.lifecycle.Enable(ctx, tenantID, step.PluginID)
		return err
	case ActionDisable:
		_, err := r.lifecycle.Disable(ctx, tenantID, step.PluginID)
		return err
	case ActionSkip:
		return nil
	default:
		return nil
	}
}

// Reconcile plans and applies in one call. With DryRun set the plan is
// returned without touching any activation.
type ReconcileOptions struct {
	Prune  bool
	DryRun bool
}

// Reconcile aligns the tenant with the bundle and returns the plan plus,
// unless DryRun was set, the per-step results.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID string, b *Bundle, opts ReconcileOptions) (*Plan, []Result, error) {
	plan, err := r.Plan(ctx, tenantID, b, PlanOptions{Prune: opts.Prune})
	if err != nil {
		return nil, nil, err
	}
	if opts.DryRun {
		return plan, nil, nil
	}
	return plan, r.Apply(ctx, plan), nil
}
