package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "modlib",
		Short:         "Download, install and activate game mods",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download queue and the control API",
		RunE:  runServe,
	}

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Retry deleting files left over from earlier uninstalls",
		RunE:  runClean,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(serveCmd, cleanCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "modlib:", err)
		os.Exit(1)
	}
}
