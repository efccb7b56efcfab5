package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/diptrack/diptrack/internal/store"
)

// NewDeadLettersCommand creates the deadletters command group.
func NewDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and requeue actions excluded from replay",
	}
	cmd.AddCommand(newDeadLettersListCommand(rootOpts))
	cmd.AddCommand(newDeadLettersRequeueCommand(rootOpts))
	return cmd
}

func newDeadLettersListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered actions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := rootOpts.output(cmd)
			return withApp(ctx, rootOpts, func(a *app) error {
				actions, err := a.engine.DeadLetters(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list dead letters", err)
				}
				if actions == nil {
					actions = []store.Action{}
				}
				return out.Success(actions, func(w io.Writer) { renderDeadLetters(w, actions) })
			})
		},
	}
}

func newDeadLettersRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <action-id>",
		Short: "Reset a dead-lettered action so the next pass replays it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := rootOpts.output(cmd)
			id := args[0]
			return withApp(ctx, rootOpts, func(a *app) error {
				err := a.engine.Requeue(ctx, id)
				if errors.Is(err, store.ErrNotFound) {
					return WrapExitError(ExitCommandError, "no dead letter with that id", err)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "requeue failed", err)
				}
				data := map[string]string{"id": id, "status": "requeued"}
				return out.Success(data, func(w io.Writer) {
					fmt.Fprintf(w, "Requeued %s\n", id)
				})
			})
		},
	}
}

func renderDeadLetters(w io.Writer, actions []store.Action) {
	if len(actions) == 0 {
		fmt.Fprintln(w, "No dead-lettered actions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tVERB\tATTEMPTS\tENQUEUED\tLAST ERROR")
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			a.ID, a.Kind, a.Verb, a.Attempts, a.EnqueuedAt.Format(time.RFC3339), a.LastError)
	}
	_ = tw.Flush()
}
