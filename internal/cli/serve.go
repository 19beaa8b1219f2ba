package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tandemlabs/tandem/internal/config"
	"github.com/tandemlabs/tandem/internal/coord"
	"github.com/tandemlabs/tandem/internal/mesh"
	"github.com/tandemlabs/tandem/internal/store"
	"github.com/tandemlabs/tandem/internal/telemetry"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ProjectRoot  string
	ConfigFile   string
	InstanceID   string
	Port         int
	Database     string
	SyncInterval int
	MaxHistory   int
	Peers        []string
	NoDiscovery  bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a coordination instance",
		Long: `Run a coordination instance over a project directory.

The instance records operations in a SQLite history database (creating it
if it doesn't exist), listens for peers on the coordination port, and runs
the background sync loop until interrupted.

Configuration layers in order: built-in defaults, then the --config YAML
file, then TANDEM_* environment variables, then explicit flags.

Example:
  tandem serve --project-root ./notes
  tandem serve --project-root ./notes --port 15002 --peer 10.0.0.5:15001`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ProjectRoot, "project-root", ".", "project directory to coordinate")
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.InstanceID, "id", "", "instance identifier (default: generated)")
	cmd.Flags().IntVar(&opts.Port, "port", config.DefaultPort, "coordination listener port")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to history database (default: <project-root>/.tandem/history.db)")
	cmd.Flags().IntVar(&opts.SyncInterval, "sync-interval", config.DefaultSyncIntervalMillis, "sync loop period in milliseconds")
	cmd.Flags().IntVar(&opts.MaxHistory, "max-history", config.DefaultMaxHistoryEntries, "retained history bound")
	cmd.Flags().StringArrayVar(&opts.Peers, "peer", nil, "static peer address host:port (repeatable)")
	cmd.Flags().BoolVar(&opts.NoDiscovery, "no-discovery", false, "disable mDNS peer discovery")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := buildServeConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	slog.Info("starting instance",
		"instance_id", cfg.InstanceID,
		"project_root", cfg.ProjectRoot,
		"db", cfg.DBPath,
		"port", cfg.Port,
	)
	inst, err := buildInstance(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start instance", err)
	}

	// Background failures surface on Errors(); keep them visible in the
	// log until Shutdown closes the channel.
	errsDone := make(chan struct{})
	go func() {
		defer close(errsDone)
		for bgErr := range inst.Errors() {
			slog.Warn("background sync error", "error", bgErr)
		}
	}()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	fmt.Fprintf(cmd.OutOrStdout(), "Instance %s coordinating %s.\n", cfg.InstanceID, cfg.ProjectRoot)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		// Parent context cancelled (e.g., from test)
	}

	shutdownErr := inst.Shutdown()
	<-errsDone
	if shutdownErr != nil {
		return WrapExitError(ExitFailure, "shutdown failed", shutdownErr)
	}

	slog.Info("instance stopped gracefully")
	return nil
}

// buildServeConfig layers the configuration sources. Defaults come
// first, then the config file, then TANDEM_* environment variables,
// then any flag the caller set explicitly.
func buildServeConfig(opts *ServeOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default(opts.ProjectRoot)

	if opts.ConfigFile != "" {
		if err := cfg.LoadFile(opts.ConfigFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("project-root") {
		cfg.ProjectRoot = opts.ProjectRoot
	}
	if flags.Changed("id") {
		cfg.InstanceID = opts.InstanceID
	}
	if flags.Changed("port") {
		cfg.Port = opts.Port
	}
	if flags.Changed("db") {
		cfg.DBPath = opts.Database
	}
	if flags.Changed("sync-interval") {
		cfg.SyncIntervalMillis = opts.SyncInterval
	}
	if flags.Changed("max-history") {
		cfg.MaxHistoryEntries = opts.MaxHistory
	}
	if len(opts.Peers) > 0 {
		cfg.Peers = append(cfg.Peers, opts.Peers...)
	}
	if opts.NoDiscovery {
		cfg.DiscoveryEnabled = false
	}

	return cfg, nil
}

// buildInstance opens the persistence and network ports and constructs
// the runtime over them. A port opened before a later step fails is
// closed here, so the caller never inherits a leak.
func buildInstance(cfg config.Config, logger *slog.Logger) (*coord.Instance, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, &coord.InitError{Subsystem: "persistence", Err: fmt.Errorf("create database directory: %w", err)}
	}
	st, err := store.Open(cfg.DBPath, cfg.MaxHistoryEntries)
	if err != nil {
		return nil, &coord.InitError{Subsystem: "persistence", Err: err}
	}

	metrics := telemetry.New()
	msh, err := mesh.New(cfg,
		mesh.WithLogger(logger),
		mesh.WithMetrics(metrics),
		mesh.WithStateSource(st),
	)
	if err != nil {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
		return nil, &coord.InitError{Subsystem: "network", Err: err}
	}

	inst, err := coord.New(cfg, logAdapter{st}, msh,
		coord.WithLogger(logger),
		coord.WithMetrics(metrics),
	)
	if err != nil {
		if closeErr := msh.Close(); closeErr != nil {
			logger.Error("error closing mesh", "error", closeErr)
		}
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
		return nil, err
	}
	return inst, nil
}

// logAdapter lifts the concrete store onto the runtime's log contract.
// Begin needs the interface return type; every other method promotes.
type logAdapter struct {
	*store.Store
}

func (a logAdapter) Begin(ctx context.Context) (coord.LogTx, error) {
	return a.Store.Begin(ctx)
}
