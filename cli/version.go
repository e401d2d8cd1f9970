package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmincu/pulstrate/pkg/version"
)

// VersionCmd returns the version command.
func VersionCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			if outputJSON {
				encoded, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode version info: %w", err)
				}
				cmd.Println(string(encoded))
				return nil
			}
			cmd.Printf("pulstrate %s\n", info.Version)
			cmd.Printf("commit:     %s\n", info.CommitHash)
			cmd.Printf("build date: %s\n", info.BuildDate)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output version information as JSON")
	return cmd
}
