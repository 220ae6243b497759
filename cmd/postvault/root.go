package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"postvault/pkg/config"
	"postvault/pkg/logger"
	"postvault/pkg/notify"
)

var (
	// Version information, set at build time
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	dbPath        string
	notifications bool
)

// rootCmd is the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "postvault",
	Short: "Archive and classify your saved social media content",
	Long: `postvault extracts saved content from Instagram and Telegram into a
local SQLite archive, with deduplication, adaptive request pacing and
optional media download. Stored text can be classified through
OpenAI-compatible LLM endpoints (including local Ollama).

Credentials are stored securely in the system keychain or an encrypted
file; sessions are cached so repeated runs skip login.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd prints detailed version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("postvault %s\n", version)
		fmt.Printf("  commit:     %s\n", gitCommit)
		fmt.Printf("  built:      %s\n", buildDate)
		fmt.Printf("  go version: %s\n", runtime.Version())
		fmt.Printf("  os/arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ./postvault.yaml or ~/.config/postvault/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the archive database")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notify", true, "send a desktop notification when long runs finish")

	rootCmd.SetVersionTemplate(`postvault {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

// globalFlags collects the persistent flag overrides for config.Load.
func globalFlags() map[string]interface{} {
	return map[string]interface{}{
		"db":        dbPath,
		"log-level": logLevel,
	}
}

// loadConfig merges all configuration sources and initializes the
// global logger from the result.
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := globalFlags()
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, nil
}

// notifier returns the desktop notifier honoring the --notify flag.
func notifier() *notify.Notifier {
	if !notifications {
		return notify.Disabled()
	}
	return notify.New(logger.GetLogger())
}
