// Command tracker-closure closes lost-to-follow-up enrollments in a DHIS2
// tracker program, either once from the command line or through an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tracker-closure",
		Short:         "Close lost-to-follow-up tracker enrollments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(patientsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
