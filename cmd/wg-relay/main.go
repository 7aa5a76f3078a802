// Package main provides the CLI entry point for the WireGuard relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/postalsys/wg-relay/internal/config"
	"github.com/postalsys/wg-relay/internal/health"
	"github.com/postalsys/wg-relay/internal/logging"
	"github.com/postalsys/wg-relay/internal/metrics"
	"github.com/postalsys/wg-relay/internal/relay"
	"github.com/postalsys/wg-relay/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

// options holds the command line flags.
type options struct {
	configPath    string
	logLevel      string
	logFormat     string
	healthAddress string
	sessionTTL    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "wg-relay [flags] <target_address> [bind_address] [thread_count]",
		Short: "wg-relay - WireGuard UDP relay",
		Long: `wg-relay forwards WireGuard traffic from many peers to a single
target endpoint. It reads only the cleartext message header to learn
which peer each handshake belongs to and never touches the payload.

  target_address  WireGuard endpoint to relay to (host:port)
  bind_address    local UDP address to listen on (default 0.0.0.0:5678)
  thread_count    number of relay workers (default 1)`,
		Version:       Version,
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &opts, args)
			if err != nil {
				return err
			}

			// Without a target there is nothing to relay
			if cfg.Relay.Target == "" {
				return cmd.Usage()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.NewLoggerWithWriter(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			return run(ctx, cfg, logger)
		},
	}

	bindFlags(cmd, &opts)
	cmd.AddCommand(initCmd())

	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Long:  "Run the setup wizard and write a configuration file for use with --config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !wizard.IsInteractive(os.Stdin) {
				return errors.New("init needs an interactive terminal")
			}
			_, err := wizard.New(cmd.OutOrStdout()).Run()
			return err
		},
	}
}

func bindFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "Log format: text, json")
	cmd.Flags().StringVar(&opts.healthAddress, "health-address", "", "Serve health and metrics endpoints on this address")
	cmd.Flags().DurationVar(&opts.sessionTTL, "session-ttl", 0, "How long a peer session stays valid after its last handshake")
}

// loadConfig merges the config file, flags and positional arguments, in
// increasing order of precedence.
func loadConfig(cmd *cobra.Command, opts *options, args []string) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("health-address") {
		cfg.Health.Enabled = opts.healthAddress != ""
		cfg.Health.Address = opts.healthAddress
	}
	if flags.Changed("session-ttl") {
		cfg.Session.ValidTime = opts.sessionTTL
	}

	if err := cfg.ApplyArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run starts the relay and the optional health server and blocks until ctx
// is cancelled or the relay fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetricsWithRegistry(reg)

	server, err := relay.NewServer(cfg.ToRelay(), logger, m)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	defer server.Close()

	if cfg.Health.Enabled {
		hs := health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
		}, server, m.Gatherer())
		if err := hs.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer hs.Stop()

		logger.Info("health server started", logging.KeyAddress, hs.Address().String())
	}

	return server.Run(ctx)
}
