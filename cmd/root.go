// Package cmd assembles the cmsbridge command line.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/cmsbridge/cmd/auth"
	configcmd "github.com/tphakala/cmsbridge/cmd/config"
	"github.com/tphakala/cmsbridge/cmd/mappings"
	"github.com/tphakala/cmsbridge/cmd/migrate"
	"github.com/tphakala/cmsbridge/internal/buildinfo"
	"github.com/tphakala/cmsbridge/internal/conf"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "cmsbridge",
		Short:        "Migrate content from a JSON:API source into a headless CMS",
		Version:      buildinfo.Current().String(),
		SilenceUsage: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		migrate.Command(settings),
		auth.Command(settings),
		mappings.Command(settings),
		configcmd.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, configFile)
	}

	return rootCmd
}

// initialize loads settings, then sets up logging and telemetry.
func initialize(settings *conf.Settings, configFile string) error {
	loaded, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	*settings = *loaded

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	if settings.Telemetry.Enabled {
		if err := telemetry.Init(telemetry.Config{
			DSN:         settings.Telemetry.DSN,
			Environment: settings.Telemetry.Environment,
			Release:     buildinfo.Current().Release(),
		}); err != nil {
			cl.Module("telemetry").Warn("telemetry disabled", logger.Error(err))
		}
	}

	return nil
}

// Shutdown flushes telemetry and log buffers. main calls it once the
// command has returned.
func Shutdown() {
	telemetry.Flush(telemetryFlushTimeout)
	_ = logger.Global().Flush()
	_ = logger.Global().Close()
}

func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(configFile, "config", "", "Path to config file (default: ./config.yaml, ~/.config/cmsbridge, /etc/cmsbridge)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("datadir", "", "Directory for audit CSVs, identity maps and error logs")

	for _, name := range []string{"debug", "datadir"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
