package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/shana/internal/daemon"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var (
	globalOpts struct {
		verbose    bool
		configPath string
	}
	serveOpts struct {
		replace     bool
		reloadDelay string
	}
	logger *slog.Logger
)

// rootCmd runs the router when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "xdg-desktop-portal-shana",
	Short: "File chooser portal that routes to other portal backends",
	Long: `xdg-desktop-portal-shana implements org.freedesktop.impl.portal.FileChooser
by forwarding every OpenFile, SaveFile and SaveFiles call to another portal
backend (KDE, GNOME, LXQt, GTK or any named service).

Which backend handles which call is read from
~/.config/xdg-desktop-portal-shana/config.toml and reloaded whenever
the file changes.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
	RunE: runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/xdg-desktop-portal-shana/config.toml)")

	rootCmd.Flags().BoolVarP(&serveOpts.replace, "replace", "r", false,
		"Replace a running instance")
	rootCmd.Flags().StringVar(&serveOpts.reloadDelay, "reload-delay", "100ms",
		"Coalesce config file changes for this long before reloading (0 = immediate)")
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelInfo
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	delay, err := parseReloadDelay(serveOpts.reloadDelay)
	if err != nil {
		return err
	}

	logger.Info("starting xdg-desktop-portal-shana", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = daemon.Run(ctx, daemon.Options{
		ConfigPath:  globalOpts.configPath,
		Replace:     serveOpts.replace,
		ReloadDelay: delay,
	}, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("router stopped", "error", err)
		return err
	}

	logger.Info("xdg-desktop-portal-shana stopped")
	return nil
}
