package main

import (
	"fmt"
	"os"

	"github.com/tandemlabs/tandem/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands silence cobra's own error printing; report once here
		// with the exit code the error carries.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
