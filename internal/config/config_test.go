package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrall.json")
	if err := os.WriteFile(path, []byte(`{"storage":{"driver":"mysql","dsn":"user:pw@tcp(db:3306)/orchestrall"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("address = %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "mysql" || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Events.Driver != "memory" {
		t.Fatalf("events driver = %s", cfg.Events.Driver)
	}
	if cfg.Registry.PluginsRoot != filepath.Join(dir, "plugins") {
		t.Fatalf("plugins root = %s", cfg.Registry.PluginsRoot)
	}
	if cfg.HookTimeout() != 30*time.Second {
		t.Fatalf("hook timeout = %s", cfg.HookTimeout())
	}
	if cfg.HealthInterval() != 5*time.Minute {
		t.Fatalf("health interval = %s", cfg.HealthInterval())
	}
}

func TestLoadResolvesRelativeRoots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrall.json")
	content := `{"registry":{"plugins_root":"catalog","clients_root":"/srv/clients"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Registry.PluginsRoot != filepath.Join(dir, "catalog") {
		t.Fatalf("plugins root = %s", cfg.Registry.PluginsRoot)
	}
	if cfg.Registry.ClientsRoot != "/srv/clients" {
		t.Fatalf("absolute clients root rewritten: %s", cfg.Registry.ClientsRoot)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultMatchesEmptyFile(t *testing.T) {
	cfg := Default("/srv/orchestrall")
	if cfg.Storage.Driver != "memory" || cfg.Runtime.HookFailurePolicy != "rollback" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Registry.ClientsRoot != "/srv/orchestrall/clients" {
		t.Fatalf("clients root = %s", cfg.Registry.ClientsRoot)
	}
}
