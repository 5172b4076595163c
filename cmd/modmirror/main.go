package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/modmirror/internal/config"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg   *config.Config
		debug bool
	)

	rootCmd := &cobra.Command{
		Use:           "modmirror",
		Short:         "Mirror catalog items from a pinned remote repository into a local install tree",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error

			cfg, err = config.LoadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			if debug {
				cfg.LogLevel = "DEBUG"
			}

			logger := slog.New(logctx.NewTraceHandler(
				slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
			))
			slog.SetDefault(logger)

			cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	getConfig := func() *config.Config { return cfg }

	rootCmd.AddCommand(
		newServeCmd(getConfig),
		newInstallCmd(getConfig),
		newRemoveCmd(getConfig),
		newApplyCmd(getConfig),
	)

	return rootCmd
}

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and process the transfer queue continuously",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg())
		},
	}
}

func newInstallCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "install <id>...",
		Short: "Install items and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg(), func(ctx context.Context, a *app) error {
				return a.install(ctx, args)
			})
		},
	}
}

func newRemoveCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove installed items and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg(), func(ctx context.Context, a *app) error {
				return a.remove(ctx, args)
			})
		},
	}
}

func newApplyCmd(cfg func() *config.Config) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Install every item listed in a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cfg(), func(ctx context.Context, a *app) error {
				return a.apply(ctx, file)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the profile YAML")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
