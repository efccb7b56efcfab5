package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/diptrack/diptrack/internal/engine"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay the offline queue once and print the report",
		Long: `Probe connectivity, then run one sync pass over the offline queue.

Exits 1 when the device is offline or when any replayed action failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := rootOpts.output(cmd)
			return withApp(ctx, rootOpts, func(a *app) error {
				a.probe(ctx)

				report, err := a.engine.ForceSync(ctx)
				if errors.Is(err, engine.ErrOffline) {
					_ = out.Error("OFFLINE", err.Error(), nil)
					return WrapExitError(ExitFailure, "sync skipped", err)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "sync failed", err)
				}

				if err := out.Success(report, func(w io.Writer) { renderReport(w, report) }); err != nil {
					return err
				}
				if n := report.Failed(); n > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d action(s) failed to sync", n))
				}
				return nil
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print connectivity and offline queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := rootOpts.output(cmd)
			return withApp(ctx, rootOpts, func(a *app) error {
				a.probe(ctx)
				st, err := a.engine.GetSyncStatus(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read sync status", err)
				}
				return out.Success(st, func(w io.Writer) { renderStatus(w, st) })
			})
		},
	}
}

func renderReport(w io.Writer, r engine.Report) {
	fmt.Fprintf(w, "Sync pass: %d attempted, %d synced, %d failed, %d deferred, %d skipped\n",
		r.Attempted, r.Synced, r.Failed(), r.Deferred, r.Skipped)
	if r.DeadLetters > 0 {
		fmt.Fprintf(w, "Dead-lettered: %d\n", r.DeadLetters)
	}
	if r.Pruned > 0 {
		fmt.Fprintf(w, "Pruned: %d\n", r.Pruned)
	}
	for _, res := range r.Results {
		line := fmt.Sprintf("  %-10s %s %s %s", res.Outcome, res.Kind, res.Verb, res.ActionID)
		if res.Error != "" {
			line += ": " + res.Error
		}
		fmt.Fprintln(w, line)
	}
}

func renderStatus(w io.Writer, st engine.Status) {
	state := "offline"
	if st.Online {
		state = "online"
	}
	fmt.Fprintf(w, "Network: %s\n", state)
	fmt.Fprintf(w, "Pending actions: %d\n", st.PendingActions)
	fmt.Fprintf(w, "Dead-lettered: %d\n", st.DeadLettered)
	if st.LastSync != nil {
		fmt.Fprintf(w, "Last sync: %s\n", st.LastSync.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "Last sync: never")
	}
}
