// Command diptrack runs the DipTrack offline sync agent and its maintenance
// commands.
package main

import (
	"fmt"
	"os"

	"github.com/diptrack/diptrack/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
