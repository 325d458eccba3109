package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiopolicy/cmd/history"
	"github.com/tphakala/audiopolicy/cmd/serve"
	"github.com/tphakala/audiopolicy/cmd/simulate"
	"github.com/tphakala/audiopolicy/internal/buildinfo"
	"github.com/tphakala/audiopolicy/internal/conf"
	"github.com/tphakala/audiopolicy/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "audiopolicy",
		Short:         "Audio routing policy service",
		Version:       buildinfo.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		logging.Error("error setting up flags", "error", err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		simulate.Command(settings),
		history.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(cmd, settings)
	}

	return rootCmd
}

// initialize configures logging before any subcommand runs.
func initialize(cmd *cobra.Command, settings *conf.Settings) error {
	level := logging.ParseLevel(settings.Log.Level)
	if settings.Debug {
		level = logging.ParseLevel("debug")
	}
	logging.SetLevel(level)

	// Logs go to stderr, stdout carries command output.
	logging.SetOutput(cmd.ErrOrStderr(), cmd.ErrOrStderr())
	if settings.Log.Format == "text" {
		logging.UseHumanReadableDefault()
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Log.Level, "log-level", settings.Log.Level, "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&settings.Log.Format, "log-format", settings.Log.Format, "Log format (json, text)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
