// Package runtime orchestrates the per-tenant plugin lifecycle: install,
// enable, disable, uninstall and configuration updates, plus the periodic
// health sweep over live instances.
package runtime

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"orchestrall/internal/activation"
	"orchestrall/internal/catalog"
	xerrors "orchestrall/internal/errors"
	"orchestrall/internal/events"
	"orchestrall/internal/observability/alerting"
	"orchestrall/internal/observability/metrics"
	"orchestrall/pkg/logger"
	"orchestrall/pkg/plugin"
)

const CodeConfigInvalid xerrors.Code = "CONFIG_VALIDATION_FAILED"

func init() {
	xerrors.Register(CodeConfigInvalid, xerrors.Attributes{
		Message:  "plugin configuration failed schema validation",
		Severity: xerrors.SeverityInfo,
	})
}

// Pair is the composite key every lifecycle operation is scoped to.
type Pair struct {
	TenantID string
	PluginID string
}

// HookFailurePolicy decides what happens to the persisted activation when
// the onInstall hook fails.
type HookFailurePolicy string

const (
	// PolicyRollback deletes the tentative record so a later install can
	// start clean. The default.
	PolicyRollback HookFailurePolicy = "rollback"
	// PolicyRetain keeps the record in installed state; the operator may
	// retry the hook by enabling or reinstalling.
	PolicyRetain HookFailurePolicy = "retain"
)

const (
	defaultHookTimeout = 30 * time.Second
)

// Manager owns the in-memory map of live plugin instances and drives every
// activation through its state machine. All operations on the same
// (tenant, plugin) pair are serialised by a keyed lock; different pairs
// proceed independently.
type Manager struct {
	catalog   *catalog.Catalog
	store     activation.Store
	registry  *plugin.Registry
	publisher events.Publisher
	alerter   alerting.Dispatcher
	logger    *slog.Logger

	locks  *pairLocks
	active *activeMap

	hookPolicy  HookFailurePolicy
	hookTimeout time.Duration
	resources   map[string]any
}

// Option configures optional manager behaviour.
type Option func(*Manager)

// WithEventPublisher sets the lifecycle event stream.
func WithEventPublisher(publisher events.Publisher) Option {
	return func(m *Manager) {
		if publisher != nil {
			m.publisher = publisher
		}
	}
}

// WithAlertDispatcher sets the alert fanout for hook failures.
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(m *Manager) {
		m.alerter = dispatcher
	}
}

// WithHookFailurePolicy overrides the install hook failure handling.
func WithHookFailurePolicy(policy HookFailurePolicy) Option {
	return func(m *Manager) {
		if policy == PolicyRollback || policy == PolicyRetain {
			m.hookPolicy = policy
		}
	}
}

// WithHookTimeout bounds every hook, Initialize and Cleanup invocation.
func WithHookTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.hookTimeout = timeout
		}
	}
}

// WithResource exposes a shared host service to every plugin constructor,
// e.g. the persistence handle.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		m.resources[key] = value
	}
}

// NewManager wires a lifecycle manager over the catalog, the activation
// store and the factory registry.
func NewManager(cat *catalog.Catalog, store activation.Store, registry *plugin.Registry, opts ...Option) *Manager {
	m := &Manager{
		catalog:     cat,
		store:       store,
		registry:    registry,
		publisher:   events.NopPublisher{},
		logger:      logger.Named("lifecycle"),
		locks:       newPairLocks(),
		active:      newActiveMap(),
		hookPolicy:  PolicyRollback,
		hookTimeout: defaultHookTimeout,
		resources:   make(map[string]any),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Install creates the activation for a pair in installed state. The plugin
// must exist in the catalog, the pair must not already be installed, and
// every required schema field must be present in config.
func (m *Manager) Install(ctx context.Context, tenantID, pluginID string, config map[string]any) (*activation.Activation, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(pluginID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "tenant id and plugin id are required")
	}
	pair := Pair{TenantID: tenantID, PluginID: pluginID}
	unlock := m.locks.lock(pair)
	defer unlock()

	started := time.Now()
	act, err := m.installLocked(ctx, pair, config)
	m.finishOp(ctx, pair, events.ActionInstall, err, started)
	return act, err
}

func (m *Manager) installLocked(ctx context.Context, pair Pair, config map[string]any) (*activation.Activation, error) {
	entry, err := m.catalog.Get(pair.PluginID)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.Get(ctx, pair.TenantID, pair.PluginID); err == nil {
		return nil, activation.ErrConflict
	} else if !stdErrors.Is(err, activation.ErrNotFound) {
		return nil, err
	}

	if config == nil {
		config = map[string]any{}
	}
	if missing := entry.Manifest.MissingRequiredConfig(config); len(missing) > 0 {
		return nil, xerrors.New(CodeConfigInvalid,
			"missing required config fields: "+strings.Join(missing, ", "))
	}

	act := &activation.Activation{
		ID:       uuid.NewString(),
		TenantID: pair.TenantID,
		PluginID: pair.PluginID,
		Config:   config,
		Status:   activation.StatusInstalled,
	}
	if err := m.store.Create(ctx, act); err != nil {
		return nil, err
	}

	if hookErr := m.runHook(ctx, entry.Manifest.Hooks.OnInstall, pair, act.Config); hookErr != nil {
		wrapped := xerrors.Wrap(xerrors.CodeHookFailure, hookErr, "onInstall hook failed")
		if m.hookPolicy == PolicyRollback {
			if delErr := m.store.Delete(ctx, pair.TenantID, pair.PluginID); delErr != nil {
				m.logger.Error("rollback of tentative activation failed",
					slog.String("tenant", pair.TenantID),
					slog.String("plugin", pair.PluginID),
					slog.Any("error", delErr),
				)
			}
		}
		m.emitAlert(ctx, pair, xerrors.CodeHookFailure, wrapped)
		return nil, wrapped
	}
	return act, nil
}

// Enable transitions an installed activation to enabled and constructs the
// live instance. Enabling an already-enabled pair is a no-op.
func (m *Manager) Enable(ctx context.Context, tenantID, pluginID string) (*activation.Activation, error) {
	pair := Pair{TenantID: tenantID, PluginID: pluginID}
	unlock := m.locks.lock(pair)
	defer unlock()

	started := time.Now()
	act, err := m.enableLocked(ctx, pair)
	m.finishOp(ctx, pair, events.ActionEnable, err, started)
	return act, err
}

func (m *Manager) enableLocked(ctx context.Context, pair Pair) (*activation.Activation, error) {
	act, err := m.store.Get(ctx, pair.TenantID, pair.PluginID)
	if err != nil {
		return nil, err
	}
	if _, live := m.active.get(pair); live {
		return act, nil
	}

	entry, err := m.catalog.Get(pair.PluginID)
	if err != nil {
		return nil, err
	}
	factory, ok := m.registry.Lookup(pair.PluginID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitialization,
			"no implementation registered for plugin "+pair.PluginID)
	}

	deps := plugin.Deps{
		TenantID:  pair.TenantID,
		Config:    act.Config,
		Logger:    m.logger.With(slog.String("tenant", pair.TenantID), slog.String("plugin", pair.PluginID)),
		Resources: m.resources,
	}
	inst, err := factory(deps.Clone())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "construct plugin instance")
	}

	if initializer, ok := inst.(plugin.Initializer); ok {
		if err := invokeWithTimeout(ctx, m.hookTimeout, "initialize", initializer.Initialize); err != nil {
			// Activation stays installed; the instance is discarded.
			return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "initialise plugin instance")
		}
	}

	m.active.put(pair, inst)

	act.Status = activation.StatusEnabled
	if err := m.store.Update(ctx, act); err != nil {
		m.active.remove(pair)
		return nil, err
	}

	if hookErr := m.runHook(ctx, entry.Manifest.Hooks.OnEnable, pair, act.Config); hookErr != nil {
		wrapped := xerrors.Wrap(xerrors.CodeHookFailure, hookErr, "onEnable hook failed")
		m.emitAlert(ctx, pair, xerrors.CodeHookFailure, wrapped)
		return nil, wrapped
	}
	return act, nil
}

// Disable tears down the live instance and marks the activation disabled.
// Cleanup and the onDisable hook are best-effort.
func (m *Manager) Disable(ctx context.Context, tenantID, pluginID string) (*activation.Activation, error) {
	pair := Pair{TenantID: tenantID, PluginID: pluginID}
	unlock := m.locks.lock(pair)
	defer unlock()

	started := time.Now()
	act, err := m.disableLocked(ctx, pair)
	m.finishOp(ctx, pair, events.ActionDisable, err, started)
	return act, err
}

func (m *Manager) disableLocked(ctx context.Context, pair Pair) (*activation.Activation, error) {
	act, err := m.store.Get(ctx, pair.TenantID, pair.PluginID)
	if err != nil {
		return nil, err
	}

	m.teardownInstance(ctx, pair)

	act.Status = activation.StatusDisabled
	if err := m.store.Update(ctx, act); err != nil {
		return nil, err
	}

	if entry, catErr := m.catalog.Get(pair.PluginID); catErr == nil {
		if hookErr := m.runHook(ctx, entry.Manifest.Hooks.OnDisable, pair, act.Config); hookErr != nil {
			m.logger.Warn("onDisable hook failed",
				slog.String("tenant", pair.TenantID),
				slog.String("plugin", pair.PluginID),
				slog.Any("error", hookErr),
			)
		}
	}
	return act, nil
}

// teardownInstance removes the live instance for a pair and runs its
// best-effort cleanup. Safe to call when no instance is live.
func (m *Manager) teardownInstance(ctx context.Context, pair Pair) {
	inst, live := m.active.remove(pair)
	if !live {
		return
	}
	if cleaner, ok := inst.(plugin.Cleaner); ok {
		if err := invokeWithTimeout(ctx, m.hookTimeout, "cleanup", cleaner.Cleanup); err != nil {
			m.logger.Warn("instance cleanup failed",
				slog.String("tenant", pair.TenantID),
				slog.String("plugin", pair.PluginID),
				slog.Any("error", err),
			)
		}
	}
}

// Uninstall removes the activation entirely, disabling first when enabled.
func (m *Manager) Uninstall(ctx context.Context, tenantID, pluginID string) error {
	pair := Pair{TenantID: tenantID, PluginID: pluginID}
	unlock := m.locks.lock(pair)
	defer unlock()

	started := time.Now()
	err := m.uninstallLocked(ctx, pair)
	m.finishOp(ctx, pair, events.ActionUninstall, err, started)
	return err
}

func (m *Manager) uninstallLocked(ctx context.Context, pair Pair) error {
	act, err := m.store.Get(ctx, pair.TenantID, pair.PluginID)
	if err != nil {
		return err
	}

	if entry, catErr := m.catalog.Get(pair.PluginID); catErr == nil {
		if hookErr := m.runHook(ctx, entry.Manifest.Hooks.OnUninstall, pair, act.Config); hookErr != nil {
			m.logger.Warn("onUninstall hook failed",
				slog.String("tenant", pair.TenantID),
				slog.String("plugin", pair.PluginID),
				slog.Any("error", hookErr),
			)
		}
	}

	m.teardownInstance(ctx, pair)

	return m.store.Delete(ctx, pair.TenantID, pair.PluginID)
}

// UpdateConfig merges partial configuration into the stored activation and
// re-validates the result against the manifest schema. The live instance
// keeps its original configuration unless restart is set, in which case the
// pair is cycled through disable and enable to pick up the change.
func (m *Manager) UpdateConfig(ctx context.Context, tenantID, pluginID string, partial map[string]any, restart bool) (*activation.Activation, error) {
	pair := Pair{TenantID: tenantID, PluginID: pluginID}
	unlock := m.locks.lock(pair)
	defer unlock()

	started := time.Now()
	act, err := m.updateConfigLocked(ctx, pair, partial, restart)
	m.finishOp(ctx, pair, events.ActionConfigure, err, started)
	return act, err
}

func (m *Manager) updateConfigLocked(ctx context.Context, pair Pair, partial map[string]any, restart bool) (*activation.Activation, error) {
	act, err := m.store.Get(ctx, pair.TenantID, pair.PluginID)
	if err != nil {
		return nil, err
	}
	entry, err := m.catalog.Get(pair.PluginID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(act.Config)+len(partial))
	for k, v := range act.Config {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	if missing := entry.Manifest.MissingRequiredConfig(merged); len(missing) > 0 {
		return nil, xerrors.New(CodeConfigInvalid,
			"missing required config fields: "+strings.Join(missing, ", "))
	}

	act.Config = merged
	if err := m.store.Update(ctx, act); err != nil {
		return nil, err
	}

	if restart && act.Status == activation.StatusEnabled {
		if _, err := m.disableLocked(ctx, pair); err != nil {
			return nil, err
		}
		return m.enableLocked(ctx, pair)
	}
	return act, nil
}

// ActiveInstances returns a snapshot of the live instance map, keyed by
// pair. The health scheduler sweeps over this.
func (m *Manager) ActiveInstances() map[Pair]plugin.Instance {
	return m.active.snapshot()
}

// Shutdown releases every live instance. Persisted statuses are left
// untouched so state survives a restart.
func (m *Manager) Shutdown(ctx context.Context) {
	for pair := range m.active.snapshot() {
		unlock := m.locks.lock(pair)
		m.teardownInstance(ctx, pair)
		unlock()
	}
	m.logger.Info("lifecycle manager shut down")
}

// runHook resolves and invokes a named lifecycle hook under the hook
// deadline. An empty name or an unbound name is a no-op; the latter is
// logged since the manifest promised behaviour nothing provides.
func (m *Manager) runHook(ctx context.Context, name string, pair Pair, config map[string]any) error {
	if name == "" {
		return nil
	}
	hook, ok := m.registry.LookupHook(pair.PluginID, name)
	if !ok {
		m.logger.Warn("manifest declares hook with no registered implementation",
			slog.String("plugin", pair.PluginID),
			slog.String("hook", name),
		)
		return nil
	}
	deps := plugin.Deps{
		TenantID:  pair.TenantID,
		Config:    config,
		Logger:    m.logger.With(slog.String("tenant", pair.TenantID), slog.String("plugin", pair.PluginID)),
		Resources: m.resources,
	}
	started := time.Now()
	err := invokeWithTimeout(ctx, m.hookTimeout, "hook "+name, func(ctx context.Context) error {
		return hook(ctx, deps.Clone())
	})
	metrics.ObserveHookDuration(name, time.Since(started))
	return err
}

func (m *Manager) finishOp(ctx context.Context, pair Pair, action events.Action, opErr error, started time.Time) {
	outcome := "ok"
	if opErr != nil {
		outcome = "error"
	}
	metrics.ObserveLifecycleOp(string(action), outcome, time.Since(started))

	if err := m.publisher.Publish(ctx, events.New(pair.TenantID, pair.PluginID, action, opErr)); err != nil {
		m.logger.Warn("lifecycle event publish failed",
			slog.String("tenant", pair.TenantID),
			slog.String("plugin", pair.PluginID),
			slog.Any("error", err),
		)
	}

	if opErr != nil {
		logger.Audit().Warn("lifecycle operation failed",
			slog.String("action", string(action)),
			slog.String("tenant", pair.TenantID),
			slog.String("plugin", pair.PluginID),
			slog.String("error", opErr.Error()),
		)
		return
	}
	logger.Audit().Info("lifecycle operation applied",
		slog.String("action", string(action)),
		slog.String("tenant", pair.TenantID),
		slog.String("plugin", pair.PluginID),
	)
}

func (m *Manager) emitAlert(ctx context.Context, pair Pair, code xerrors.Code, cause error) {
	if m.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   attrs.Severity,
		TenantID:   pair.TenantID,
		PluginID:   pair.PluginID,
		OccurredAt: time.Now(),
	}
	if err := m.alerter.Notify(ctx, event); err != nil {
		m.logger.Error("alert dispatch failed",
			slog.Any("error", err),
			slog.String("tenant", pair.TenantID),
			slog.String("plugin", pair.PluginID),
		)
	}
}
