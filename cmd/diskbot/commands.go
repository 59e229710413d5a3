package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/justyntemme/diskbot/internal/app"
	"github.com/justyntemme/diskbot/internal/config"
	"github.com/justyntemme/diskbot/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "v0.1.0-dev"

var (
	cfgFile string
	verbose bool
	logger  zerolog.Logger
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "diskbot",
		Short: "Browse and download files from this machine through a Telegram bot",
		Long: `diskbot exposes a directory tree to a single Telegram user as an inline
button menu. Entries can be opened, selected and downloaded as a zip archive
(up to the Telegram upload limit of 50 MB).

Run "diskbot init-config" to create a config file, fill in the bot token and
home_path, then "diskbot serve".`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(os.Stderr, verbose)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.Version = Version

	rootCmd.AddCommand(
		newServeCmd(),
		newConsoleCmd(),
		newInitConfigCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file, creating a template on first run.
func loadConfig() (config.Config, error) {
	m := config.NewManager(cfgFile)
	if err := m.Load(); err != nil {
		if errors.Is(err, config.ErrTemplateCreated) {
			logger.Warn().Str("path", m.Path()).Msg("Config file doesn't exist. Created a template, fill it in and run again")
		}
		return config.Config{}, err
	}
	return m.Get(), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			logger.Info().Str("version", Version).Str("home", cfg.HomePath).Msg("Starting diskbot")
			if err := app.NewOrchestrator(cfg, logger).Run(ctx); err != nil {
				logger.Error().Err(err).Msg("diskbot stopped")
				return err
			}
			logger.Info().Msg("Shut down")
			return nil
		},
	}
}

func newConsoleCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Browse the home directory in the terminal with the bot's menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return app.RunConsole(cfg, outDir)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory that receives downloaded archives")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a config template, backing up any existing file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.GenerateTemplate(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "diskbot", Version)
		},
	}
}
