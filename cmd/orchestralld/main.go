package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"orchestrall/examples/plugins"
	"orchestrall/internal/activation"
	"orchestrall/internal/api"
	"orchestrall/internal/bundle"
	"orchestrall/internal/catalog"
	"orchestrall/internal/config"
	xerrors "orchestrall/internal/errors"
	"orchestrall/internal/events"
	"orchestrall/internal/runtime"
	"orchestrall/internal/tenant"
	"orchestrall/pkg/logger"
	"orchestrall/pkg/plugin"
)

// main is the entry point of the plugin runtime daemon.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("orchestralld exited: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ORCHESTRALL_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "orchestrall.json")
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default(".")
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	cat := catalog.New(cfg.Registry.PluginsRoot)
	if err := cat.Scan(ctx); err != nil {
		return err
	}
	logger.L().Info("plugin catalog loaded",
		slog.String("root", cfg.Registry.PluginsRoot),
		slog.Int("plugins", cat.Len()),
	)

	registry := plugin.NewRegistry()
	if err := plugins.RegisterBuiltins(registry); err != nil {
		return err
	}

	manager := runtime.NewManager(cat, store, registry,
		runtime.WithEventPublisher(publisher),
		runtime.WithHookTimeout(cfg.HookTimeout()),
		runtime.WithHookFailurePolicy(runtime.HookFailurePolicy(cfg.Runtime.HookFailurePolicy)),
	)
	defer manager.Shutdown(context.Background())

	// Bring every tenant's declared plugin set up before serving traffic.
	results, err := tenant.Bootstrap(ctx, tenant.NewLoader(cfg.Registry.ClientsRoot), manager)
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.Err != nil {
			logger.L().Warn("tenant bootstrap entry failed",
				slog.String("tenant", result.TenantID),
				slog.String("plugin", result.PluginID),
				slog.Any("error", result.Err),
			)
		}
	}

	health := runtime.NewHealthScheduler(manager,
		runtime.WithInterval(cfg.HealthInterval()),
		runtime.WithCheckTimeout(cfg.HealthCheckTimeout()),
	)
	go func() {
		if err := health.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("health scheduler stopped", slog.Any("error", err))
		}
	}()

	reconciler := bundle.NewReconciler(manager, store)
	server := api.NewServer(cfg.Server.Address, cat, manager, store, reconciler, health)

	logger.L().Info("orchestralld listening", slog.String("address", cfg.Server.Address))
	return server.Start(ctx)
}

func newStore(cfg *config.Config) (activation.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return activation.NewMemoryStore(), nil
	case "mysql":
		return activation.NewMySQLStore(cfg.Storage.DSN)
	default:
		return nil, xerrors.New(xerrors.CodeUnsupportedStore, "unsupported storage driver: "+cfg.Storage.Driver)
	}
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return events.NewMemoryPublisher(1024), nil
	case "redis":
		return events.NewRedisPublisher(events.RedisConfig{
			Address:  cfg.Events.Addr,
			Password: cfg.Events.Password,
			DB:       cfg.Events.DB,
			Stream:   cfg.Events.Stream,
		})
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:   cfg.Events.URL,
			Queue: cfg.Events.Queue,
		})
	default:
		return nil, xerrors.New(xerrors.CodeUnsupportedStore, "unsupported events driver: "+cfg.Events.Driver)
	}
}
