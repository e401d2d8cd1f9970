package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danmincu/pulstrate/pkg/config"
)

// ConfigCmd returns the config command for inspecting the merged
// configuration before starting the server.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection",
	}
	cmd.AddCommand(
		configShowCmd(),
		configValidateCmd(),
	)
	return cmd
}

func configShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the merged configuration",
		Long:  "Print the configuration after merging defaults, the YAML file, and environment variables. Secrets are redacted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadMergedConfig(cmd)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				encoded, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode configuration: %w", err)
				}
				cmd.Println(string(encoded))
			case "yaml":
				encoded, err := configAsYAML(cfg)
				if err != nil {
					return err
				}
				cmd.Print(encoded)
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml or json")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the merged configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadMergedConfig(cmd); err != nil {
				return err
			}
			cmd.Println("Configuration is valid")
			return nil
		},
	}
}

// loadMergedConfig loads configuration the same way serve does, minus the
// serve-only CLI flag overrides.
func loadMergedConfig(cmd *cobra.Command) (*config.Config, error) {
	if _, err := loadEnvFile(cmd); err != nil {
		return nil, err
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	sources := []config.Source{
		config.NewDefaultProvider(),
		config.NewEnvProvider(),
	}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	manager := config.NewManager(config.NewService())
	ctx := context.Background()
	cfg, err := manager.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if closeErr := manager.Close(ctx); closeErr != nil {
		return nil, closeErr
	}
	return cfg, nil
}

// configAsYAML converts through JSON so SensitiveString redaction applies to
// the YAML rendering too.
func configAsYAML(cfg *config.Config) (string, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode configuration: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(encoded, &tree); err != nil {
		return "", fmt.Errorf("failed to decode configuration: %w", err)
	}
	rendered, err := yaml.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("failed to render configuration: %w", err)
	}
	return string(rendered), nil
}
