package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/diptrack/diptrack/internal/harness"
)

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <file.yaml>",
		Short: "Run a sync scenario against an in-process stub API",
		Long: `Run a YAML sync scenario against a stub API, an in-memory store and a
fake clock, then print its report. The configured store and API are not used.

Exits 1 when any expectation or assertion fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.output(cmd)

			s, err := harness.LoadScenario(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load scenario", err)
			}

			result, err := harness.Run(cmd.Context(), s, harness.WithLogger(rootOpts.Logger()))
			if err != nil {
				return WrapExitError(ExitFailure, "scenario setup failed", err)
			}

			if err := out.Success(result, func(w io.Writer) { renderScenario(w, result) }); err != nil {
				return err
			}
			if !result.Pass {
				return NewExitError(ExitFailure, fmt.Sprintf("scenario %q failed", result.Scenario))
			}
			return nil
		},
	}
}

func renderScenario(w io.Writer, r *harness.Result) {
	verdict := "PASS"
	if !r.Pass {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%d steps, %d API calls)\n", verdict, r.Scenario, len(r.Steps), len(r.Calls))
	for _, st := range r.Steps {
		line := fmt.Sprintf("  [%d] %s", st.Index, st.Op)
		if st.Kind != "" {
			line += " " + st.Kind
		}
		switch {
		case st.Pass != nil:
			line += fmt.Sprintf(": %d synced, %d recoverable, %d fatal", st.Pass.Synced, st.Pass.Recoverable, st.Pass.Fatal)
		case st.Status != "":
			line += ": " + st.Status
		}
		if st.Error != "" {
			line += " (error: " + st.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Final: %d pending, %d dead-lettered\n", r.Final.Pending, r.Final.DeadLettered)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}
