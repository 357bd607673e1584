// Package cli provides the watchsync command-line interface.
package cli

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"watchsync/config"
)

var (
	// Version is set at build time.
	Version = "dev"

	flags = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "watchsync",
	Short: "Watched-state sync and continue-watching service",
	Long: `watchsync keeps a watched-state cache in sync with an authoritative
database and a Trakt account, forwards playback scrobbles, and builds the
continue-watching list.`,
	Version:       Version,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", filepath.Join("cache", "settings.json"), "settings file path")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")

	flags.SetEnvPrefix(config.EnvPrefix)
	flags.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	flags.AutomaticEnv()
	_ = flags.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = flags.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(dismissCmd)
	rootCmd.AddCommand(watchedCmd)
}

// configPath resolves --config, falling back to WATCHSYNC_CONFIG.
func configPath() string {
	return flags.GetString("config")
}
