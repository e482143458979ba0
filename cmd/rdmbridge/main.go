// main.go bootstraps rdmbridge: it builds the root Cobra command and executes
// it with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"go-rdm-bridge-ui/internal/config"
	httpapi "go-rdm-bridge-ui/internal/http"
	"go-rdm-bridge-ui/internal/logging"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type serveOptions struct {
	listen   string
	profile  string
	backend  string
	logLevel string
}

func bindServeFlags(fs *pflag.FlagSet, o *serveOptions) {
	fs.StringVar(&o.listen, "listen", "", "Listen address (overrides APP_LISTEN_ADDR)")
	fs.StringVar(&o.profile, "profile", "", "Backend profile: shared, openbis or aiida (overrides APP_PROFILE)")
	fs.StringVar(&o.backend, "backend", "", "Local backend base URL (overrides APP_BACKEND_URL)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides APP_LOG_LEVEL)")
}

func newRootCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:           "rdmbridge",
		Short:         "Browser front-end for the RDM bridge demo backends",
		Long:          "rdmbridge serves the RDM browser UI and ships small RO-Crate helpers. Without a subcommand it runs serve.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.Flags(), opts)
		},
	}
	bindServeFlags(cmd.Flags(), opts)

	cmd.AddCommand(
		newServeCommand(),
		newUnwrapCommand(),
		newPackCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.Flags(), opts)
		},
	}
	bindServeFlags(cmd.Flags(), opts)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// resolveConfig loads the env configuration and applies explicitly set flags
// on top of it.
func resolveConfig(fs *pflag.FlagSet, o *serveOptions) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = o.listen
	}
	if fs.Changed("backend") {
		cfg.BackendURL = o.backend
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if fs.Changed("profile") {
		cfg.Profile = config.Profile(strings.ToLower(strings.TrimSpace(o.profile)))
		if err := cfg.ApplyProfile(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func runServe(ctx context.Context, fs *pflag.FlagSet, o *serveOptions) error {
	cfg, err := resolveConfig(fs, o)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv, err := httpapi.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	logger.Info("starting rdm bridge ui",
		zap.String("version", version),
		zap.String("profile", string(cfg.Profile)),
		zap.String("backend", cfg.BackendURL),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
