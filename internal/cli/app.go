package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/config"
	"github.com/diptrack/diptrack/internal/engine"
	"github.com/diptrack/diptrack/internal/facade"
	"github.com/diptrack/diptrack/internal/metrics"
	"github.com/diptrack/diptrack/internal/network"
	"github.com/diptrack/diptrack/internal/resource"
	"github.com/diptrack/diptrack/internal/store"
)

const userAgent = "diptrack-sync"

// app is the composition root: every long-lived service a command needs,
// wired once and torn down by Close.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   store.Store
	client  *api.Client
	monitor *network.Monitor
	metrics *metrics.Recorder
	engine  *engine.Engine
}

// newApp loads configuration and wires the services. A store that cannot
// be opened is replaced by store.Unavailable so reads still reach the API.
func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := opts.Logger()

	st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN())
	if err != nil {
		if !errors.Is(err, store.ErrStorageUnavailable) {
			return nil, WrapExitError(ExitFailure, "failed to open store", err)
		}
		logger.Warn("local storage unavailable, continuing without offline queue", "error", err)
		st = store.Unavailable{Cause: err}
	}

	client := api.NewClient(cfg.API.BaseURL,
		api.WithTimeout(cfg.API.RequestTimeout.Std()),
		api.WithMaxResponseBytes(cfg.API.MaxResponseBytes),
		api.WithUserAgent(userAgent),
	)

	monitor := network.NewMonitor(cfg.Network.InitiallyOnline, network.ProbeFunc(client.Health),
		network.WithLogger(logger),
		network.WithProbeTimeout(cfg.Network.ProbeTimeout.Std()),
	)

	rec := metrics.New()

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(rec),
		engine.WithRetryInterval(cfg.Sync.RetryInterval.Std()),
		engine.WithRequestTimeout(cfg.API.RequestTimeout.Std()),
		engine.WithMaxAttempts(cfg.Sync.MaxAttempts),
		engine.WithBackoff(cfg.Sync.BackoffInitial.Std(), cfg.Sync.BackoffMax.Std(), cfg.Sync.BackoffJitter),
	}
	if cfg.Sync.ReplayRate > 0 {
		engineOpts = append(engineOpts, engine.WithReplayRate(rate.Limit(cfg.Sync.ReplayRate), 1))
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		client:  client,
		monitor: monitor,
		metrics: rec,
		engine:  engine.New(st, client, monitor, engineOpts...),
	}, nil
}

// deps are the facade collaborators.
func (a *app) deps() facade.Deps {
	return facade.Deps{
		Store:   a.store,
		API:     a.client,
		Monitor: a.monitor,
		Sync:    a.engine,
		Metrics: a.metrics,
	}
}

// facade returns the facade for a kind named on the command line.
func (a *app) facade(kind string) (*facade.Facade, error) {
	f, err := facade.ForKind(resource.Kind(kind), a.deps(), facade.WithLogger(a.logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "unknown resource kind", err)
	}
	return f, nil
}

// probe replaces the configured initial belief with one real probe.
// One-shot commands call it before reading or writing.
func (a *app) probe(ctx context.Context) bool {
	online := a.monitor.Check(ctx)
	a.metrics.SetOnline(online)
	a.logger.Debug("connectivity probed", "online", online, "base_url", a.client.BaseURL())
	return online
}

// Close stops the engine and monitor, then closes the store.
func (a *app) Close() error {
	a.engine.Close()
	a.monitor.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(ctx context.Context, opts *RootOptions, fn func(*app) error) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
