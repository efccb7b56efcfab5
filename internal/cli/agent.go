package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/diptrack/diptrack/internal/server"
	"github.com/diptrack/diptrack/internal/telemetry"
)

// NewAgentCommand creates the long-running agent command.
func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the monitor, sync coordinator and status server until interrupted",
		Long: `Run the sync agent.

The agent probes the API health endpoint periodically, replays the offline
queue whenever connectivity returns and on a fixed retry interval, and serves
the status endpoint on status.addr (disabled when empty).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, rootOpts)
		},
	}
}

// runAgent blocks until ctx is cancelled.
func runAgent(ctx context.Context, opts *RootOptions) error {
	return withApp(ctx, opts, func(a *app) error {
		shutdown, err := telemetry.Setup(ctx, a.cfg.Telemetry)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to start telemetry", err)
		}
		defer func() {
			// ctx is already cancelled here; flush with a fresh one.
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()

		unsubscribe := a.monitor.AddListener(a.metrics.SetOnline)
		defer unsubscribe()
		a.metrics.SetOnline(a.monitor.IsOnline())

		a.monitor.StartPeriodicCheck(ctx, a.cfg.Network.ProbeInterval.Std())
		a.engine.Start(ctx)

		a.logger.Info("agent started",
			"base_url", a.client.BaseURL(),
			"storage", a.cfg.Storage.Driver,
			"status_addr", a.cfg.Status.Addr,
		)

		if a.cfg.Status.Addr == "" {
			<-ctx.Done()
		} else {
			srv := server.New(a.engine, server.WithLogger(a.logger), server.WithMetrics(a.metrics))
			if err := srv.ListenAndServe(ctx, a.cfg.Status.Addr); err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "status server failed", err)
			}
		}

		a.logger.Info("agent stopping")
		return nil
	})
}
