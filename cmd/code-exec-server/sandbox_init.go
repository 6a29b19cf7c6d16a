package main

import (
	"os"

	"codeexec/internal/execution/sandbox/initproc"

	"github.com/spf13/cobra"
)

// sandboxInitCmd is normally intercepted in main before cobra parses anything.
var sandboxInitCmd = &cobra.Command{
	Use:                initproc.Arg,
	Short:              "Sandbox helper entry point",
	Hidden:             true,
	DisableFlagParsing: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(initproc.Main())
	},
}
