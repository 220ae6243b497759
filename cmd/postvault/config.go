package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"postvault/pkg/config"
)

var configInitPath string

// configCmd groups the configuration subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
}

// configInitCmd writes a starter configuration file
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if err := cfg.Save(configInitPath); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", configInitPath)
		return nil
	},
}

// configShowCmd prints the merged configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging defaults, the config file,
.env, environment variables and flags. Secrets are not stored in the
configuration, so the output is safe to share.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

// configValidateCmd checks the configuration without running anything
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(nil); err != nil {
			return err
		}
		fmt.Println("Configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitPath, "output", "o", "postvault.yaml", "where to write the configuration file")
}
