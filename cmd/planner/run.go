package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Run executes the planner CLI and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	root := newRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "planner",
		Short:        "Schedule plan and task dependency engine",
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.SetVersionTemplate("{{.Version}}\n")
	if version == "" {
		version = "dev"
	}
	cmd.Version = version
	return cmd
}
