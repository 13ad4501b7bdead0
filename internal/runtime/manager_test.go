package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"orchestrall/internal/activation"
	"orchestrall/internal/catalog"
	xerrors "orchestrall/internal/errors"
	"orchestrall/internal/events"
	"orchestrall/pkg/plugin"
)

const paymentsManifest = `name: razorpay
version: 1.0.0
description: Razorpay payment gateway adapter
category: payments
capabilities:
  - payments.charge
  - payments.refund
configSchema:
  apiKey:
    type: string
    required: true
    secret: true
  currency:
    type: string
hooks:
  onInstall: provisionWebhooks
  onEnable: warmCache
`

const crmManifest = `name: hubspot
version: 0.3.1
description: HubSpot CRM sync
category: crm
capabilities:
  - crm.contacts
`

type fakeInstance struct {
	id          string
	initialized atomic.Bool
	cleaned     atomic.Bool
	initErr     error
	health      plugin.Health
}

func (f *fakeInstance) PluginID() string { return f.id }

func (f *fakeInstance) Initialize(context.Context) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized.Store(true)
	return nil
}

func (f *fakeInstance) Cleanup(context.Context) error {
	f.cleaned.Store(true)
	return nil
}

func (f *fakeInstance) HealthCheck(context.Context) plugin.Health { return f.health }

func writeManifest(t *testing.T, root, category, name, content string) {
	t.Helper()
	dir := filepath.Join(root, category, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

type fixture struct {
	manager  *Manager
	store    *activation.MemoryStore
	registry *plugin.Registry
	events   *events.MemoryPublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	writeManifest(t, root, "payments", "razorpay", paymentsManifest)
	writeManifest(t, root, "crm", "hubspot", crmManifest)

	cat := catalog.New(root)
	if err := cat.Scan(context.Background()); err != nil {
		t.Fatalf("scan catalog: %v", err)
	}

	store := activation.NewMemoryStore()
	registry := plugin.NewRegistry()
	publisher := events.NewMemoryPublisher(64)

	opts = append([]Option{WithEventPublisher(publisher)}, opts...)
	return &fixture{
		manager:  NewManager(cat, store, registry, opts...),
		store:    store,
		registry: registry,
		events:   publisher,
	}
}

func (f *fixture) registerFactory(t *testing.T, id string) *atomic.Int32 {
	t.Helper()
	var constructed atomic.Int32
	err := f.registry.Register(id, func(deps plugin.Deps) (plugin.Instance, error) {
		constructed.Add(1)
		return &fakeInstance{id: id, health: plugin.Healthy()}, nil
	})
	if err != nil {
		t.Fatalf("register factory: %v", err)
	}
	return &constructed
}

func TestInstallPersistsInstalledActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	act, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "rzp_test"})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if act.Status != activation.StatusInstalled {
		t.Fatalf("status = %s, want %s", act.Status, activation.StatusInstalled)
	}

	stored, err := f.store.Get(ctx, "acme", "payments/razorpay")
	if err != nil {
		t.Fatalf("get stored activation: %v", err)
	}
	if stored.Config["apiKey"] != "rzp_test" {
		t.Fatalf("stored config = %v", stored.Config)
	}
}

func TestInstallTwiceReturnsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := map[string]any{"apiKey": "k"}

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", cfg); err != nil {
		t.Fatalf("first install: %v", err)
	}
	_, err := f.manager.Install(ctx, "acme", "payments/razorpay", cfg)
	if !errors.Is(err, activation.ErrConflict) {
		t.Fatalf("second install err = %v, want conflict", err)
	}

	// A different tenant is unaffected.
	if _, err := f.manager.Install(ctx, "globex", "payments/razorpay", cfg); err != nil {
		t.Fatalf("install for other tenant: %v", err)
	}
}

func TestInstallUnknownPluginReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Install(context.Background(), "acme", "payments/stripe", nil)
	if !errors.Is(err, catalog.ErrPluginNotFound) {
		t.Fatalf("err = %v, want plugin not found", err)
	}
}

func TestInstallMissingRequiredConfigNamesFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Install(context.Background(), "acme", "payments/razorpay", map[string]any{"currency": "INR"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if xerrors.CodeOf(err) != CodeConfigInvalid {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), CodeConfigInvalid)
	}
	if !strings.Contains(err.Error(), "apiKey") {
		t.Fatalf("error %q does not name the missing field", err)
	}
}

func TestEnableWithoutInstallReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	f.registerFactory(t, "payments/razorpay")
	_, err := f.manager.Enable(context.Background(), "acme", "payments/razorpay")
	if !errors.Is(err, activation.ErrNotFound) {
		t.Fatalf("err = %v, want activation not found", err)
	}
}

func TestEnableConstructsSingleInstance(t *testing.T) {
	f := newFixture(t)
	constructed := f.registerFactory(t, "payments/razorpay")
	ctx := context.Background()

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	act, err := f.manager.Enable(ctx, "acme", "payments/razorpay")
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if act.Status != activation.StatusEnabled {
		t.Fatalf("status = %s, want enabled", act.Status)
	}

	// A second enable is a no-op, not a second construction.
	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if got := constructed.Load(); got != 1 {
		t.Fatalf("factory invoked %d times, want 1", got)
	}
	if len(f.manager.ActiveInstances()) != 1 {
		t.Fatalf("active instances = %d, want 1", len(f.manager.ActiveInstances()))
	}
}

func TestEnableWithoutRegisteredFactoryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.manager.Install(ctx, "acme", "crm/hubspot", nil); err != nil {
		t.Fatalf("install: %v", err)
	}
	_, err := f.manager.Enable(ctx, "acme", "crm/hubspot")
	if xerrors.CodeOf(err) != xerrors.CodeInitialization {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeInitialization)
	}
}

func TestInitializeFailureLeavesActivationInstalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	initErr := errors.New("credential check failed")
	err := f.registry.Register("payments/razorpay", func(plugin.Deps) (plugin.Instance, error) {
		return &fakeInstance{id: "payments/razorpay", initErr: initErr}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); err == nil {
		t.Fatal("expected enable to fail")
	}

	stored, err := f.store.Get(ctx, "acme", "payments/razorpay")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != activation.StatusInstalled {
		t.Fatalf("status = %s, want installed", stored.Status)
	}
	if len(f.manager.ActiveInstances()) != 0 {
		t.Fatal("no instance should be live after a failed initialize")
	}
}

func TestDisableThenEnableYieldsFreshInstance(t *testing.T) {
	f := newFixture(t)
	constructed := f.registerFactory(t, "payments/razorpay")
	ctx := context.Background()

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("enable: %v", err)
	}

	act, err := f.manager.Disable(ctx, "acme", "payments/razorpay")
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if act.Status != activation.StatusDisabled {
		t.Fatalf("status = %s, want disabled", act.Status)
	}
	if len(f.manager.ActiveInstances()) != 0 {
		t.Fatal("instance still live after disable")
	}

	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if got := constructed.Load(); got != 2 {
		t.Fatalf("factory invoked %d times, want 2", got)
	}
}

func TestUninstallRemovesRecordAndInstance(t *testing.T) {
	f := newFixture(t)
	f.registerFactory(t, "payments/razorpay")
	ctx := context.Background()

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := f.manager.Uninstall(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}

	if len(f.manager.ActiveInstances()) != 0 {
		t.Fatal("instance still live after uninstall")
	}
	if _, err := f.store.Get(ctx, "acme", "payments/razorpay"); !errors.Is(err, activation.ErrNotFound) {
		t.Fatalf("record still present: %v", err)
	}
	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); !errors.Is(err, activation.ErrNotFound) {
		t.Fatalf("enable after uninstall err = %v, want not found", err)
	}
}

func TestInstallHookFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hookErr := errors.New("webhook provisioning rejected")
	if err := f.registry.RegisterHook("payments/razorpay", "provisionWebhooks", func(context.Context, plugin.Deps) error {
		return hookErr
	}); err != nil {
		t.Fatalf("register hook: %v", err)
	}

	_, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"})
	if xerrors.CodeOf(err) != xerrors.CodeHookFailure {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeHookFailure)
	}
	if _, err := f.store.Get(ctx, "acme", "payments/razorpay"); !errors.Is(err, activation.ErrNotFound) {
		t.Fatalf("tentative record not rolled back: %v", err)
	}
}

func TestInstallHookFailureRetainPolicyKeepsRecord(t *testing.T) {
	f := newFixture(t, WithHookFailurePolicy(PolicyRetain))
	ctx := context.Background()
	if err := f.registry.RegisterHook("payments/razorpay", "provisionWebhooks", func(context.Context, plugin.Deps) error {
		return errors.New("transient upstream outage")
	}); err != nil {
		t.Fatalf("register hook: %v", err)
	}

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err == nil {
		t.Fatal("expected hook failure")
	}
	stored, err := f.store.Get(ctx, "acme", "payments/razorpay")
	if err != nil {
		t.Fatalf("record should be retained: %v", err)
	}
	if stored.Status != activation.StatusInstalled {
		t.Fatalf("status = %s, want installed", stored.Status)
	}
}

func TestHookTimeoutSurfacesAsTimeout(t *testing.T) {
	f := newFixture(t, WithHookTimeout(50*time.Millisecond))
	ctx := context.Background()
	if err := f.registry.RegisterHook("payments/razorpay", "provisionWebhooks", func(ctx context.Context, _ plugin.Deps) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}); err != nil {
		t.Fatalf("register hook: %v", err)
	}

	_, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"})
	if xerrors.CodeOf(err) != xerrors.CodeHookFailure {
		t.Fatalf("code = %s, want hook failure", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "deadline") {
		t.Fatalf("error %q does not mention the deadline", err)
	}
}

func TestUnboundHookIsSkipped(t *testing.T) {
	// The manifest names provisionWebhooks but nothing registers it.
	f := newFixture(t)
	if _, err := f.manager.Install(context.Background(), "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err != nil {
		t.Fatalf("install: %v", err)
	}
}

func TestUpdateConfigMergesAndRevalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k", "currency": "INR"}); err != nil {
		t.Fatalf("install: %v", err)
	}

	act, err := f.manager.UpdateConfig(ctx, "acme", "payments/razorpay", map[string]any{"currency": "USD"}, false)
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if act.Config["currency"] != "USD" || act.Config["apiKey"] != "k" {
		t.Fatalf("merged config = %v", act.Config)
	}

	// Nulling out a required field must be rejected.
	_, err = f.manager.UpdateConfig(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": nil}, false)
	if xerrors.CodeOf(err) != CodeConfigInvalid {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), CodeConfigInvalid)
	}
}

func TestUpdateConfigRestartCyclesInstance(t *testing.T) {
	f := newFixture(t)
	constructed := f.registerFactory(t, "payments/razorpay")
	ctx := context.Background()

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("enable: %v", err)
	}

	act, err := f.manager.UpdateConfig(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k2"}, true)
	if err != nil {
		t.Fatalf("update config with restart: %v", err)
	}
	if act.Status != activation.StatusEnabled {
		t.Fatalf("status = %s, want enabled", act.Status)
	}
	if got := constructed.Load(); got != 2 {
		t.Fatalf("factory invoked %d times, want 2 after restart", got)
	}
}

func TestShutdownReleasesInstancesKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.registerFactory(t, "payments/razorpay")
	ctx := context.Background()

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("enable: %v", err)
	}

	f.manager.Shutdown(ctx)

	if len(f.manager.ActiveInstances()) != 0 {
		t.Fatal("instances still live after shutdown")
	}
	stored, err := f.store.Get(ctx, "acme", "payments/razorpay")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != activation.StatusEnabled {
		t.Fatalf("status = %s, persisted state must survive shutdown", stored.Status)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	f := newFixture(t)
	f.registerFactory(t, "payments/razorpay")
	ctx := context.Background()

	if _, err := f.manager.Install(ctx, "acme", "payments/razorpay", map[string]any{"apiKey": "k"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := f.manager.Enable(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := f.manager.Uninstall(ctx, "acme", "payments/razorpay"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}

	got := f.events.Events()
	want := []events.Action{events.ActionInstall, events.ActionEnable, events.ActionUninstall}
	if len(got) != len(want) {
		t.Fatalf("published %d events, want %d", len(got), len(want))
	}
	for i, action := range want {
		if got[i].Action != action {
			t.Fatalf("event[%d].Action = %s, want %s", i, got[i].Action, action)
		}
		if got[i].TenantID != "acme" {
			t.Fatalf("event[%d].TenantID = %s", i, got[i].TenantID)
		}
	}
}
