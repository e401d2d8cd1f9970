// Package cli wires the pulstrate command line: the serve command boots the
// engine and HTTP API, config inspects the merged configuration, and version
// reports build information.
package cli

import (
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "pulstrate.yaml"
	defaultEnvFile    = ".env"
)

// RootCmd returns the pulstrate root command with all subcommands attached.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pulstrate",
		Short: "Pulstrate task execution engine",
		Long:  "Pulstrate executes hierarchical tasks with bounded group parallelism, progress roll-up, and live event streams.",
	}

	root.PersistentFlags().String("config", defaultConfigFile, "Path to the configuration file")
	root.PersistentFlags().String("env-file", defaultEnvFile, "Path to the environment variables file")

	root.AddCommand(
		ServeCmd(),
		ConfigCmd(),
		VersionCmd(),
	)

	return root
}
