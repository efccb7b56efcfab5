package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local read cache",
	}
	cmd.AddCommand(newCacheClearCommand(rootOpts))
	return cmd
}

func newCacheClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [key]",
		Short: "Drop one cached collection, or all of them",
		Long: `Drop cached collections. With a key (the resource kind, e.g. batches)
only that collection is removed. The offline queue is never touched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := rootOpts.output(cmd)
			return withApp(ctx, rootOpts, func(a *app) error {
				var (
					err     error
					cleared = "all"
				)
				if len(args) == 1 {
					cleared = args[0]
					err = a.store.InvalidateCache(ctx, cleared)
				} else {
					err = a.store.ClearCache(ctx)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to clear cache", err)
				}
				a.logger.Debug("cache cleared", "key", cleared)
				return out.Success(map[string]string{"cleared": cleared}, func(w io.Writer) {
					fmt.Fprintf(w, "Cleared cache: %s\n", cleared)
				})
			})
		},
	}
}
