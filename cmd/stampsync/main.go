// Command stampsync matches samples from timestamped streams into
// approximate-time sets.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/stampsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
