package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot wires the root command and its subcommands.
func buildRoot() *cobra.Command {
	rootFlags := &RootFlags{}
	validateFlags := &ValidateFlags{}
	statusFlags := &StatusFlags{}
	ctlFlags := &CtlFlags{}

	root := createRootCommand(rootFlags)
	root.AddCommand(
		createValidateCommand(rootFlags, validateFlags),
		createStatusCommand(rootFlags, statusFlags),
		createCtlCommand(rootFlags, ctlFlags),
		createVersionCommand(),
	)
	return root
}
