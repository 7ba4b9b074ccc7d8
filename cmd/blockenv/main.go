package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	serveradapter "github.com/hylla/blockenv/internal/adapters/server"
	"github.com/hylla/blockenv/internal/adapters/storage/sqlstore"
	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/config"
	"github.com/hylla/blockenv/internal/platform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// version is the build version reported by --version. Release builds set it
// with -ldflags "-X main.version=..."; "dev" also enables dev-mode logging.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes the CLI with explicit args and output streams.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(os.Stdin)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// globalOptions holds persistent root flags.
type globalOptions struct {
	configPath string
	dbPath     string
	dsn        string
	driver     string
	appName    string
	devMode    bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{appName: platform.DefaultAppName, devMode: version == "dev"}
	if envDev, ok := parseBoolEnv("BLOCKENV_DEV_MODE"); ok {
		opts.devMode = envDev
	}
	if envApp := strings.TrimSpace(os.Getenv("BLOCKENV_APP_NAME")); envApp != "" {
		opts.appName = envApp
	}

	root := &cobra.Command{
		Use:   "blockenv",
		Short: "Persist block trees and apply batched layout edits",
		Long: "blockenv stores typed content blocks in per-layout trees, resolves their " +
			"references, and applies client edit batches under optimistic layout versioning.",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.dsn, "dsn", "", "postgres connection string (selects the postgres driver)")
	flags.StringVar(&opts.driver, "driver", "", "database driver: sqlite|postgres")
	flags.StringVar(&opts.appName, "app", opts.appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", opts.devMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newPathsCommand(opts),
		newServeCommand(opts),
		newLayoutCommand(opts),
		newApplyCommand(opts),
		newTreeCommand(opts),
		newRefsCommand(opts),
		newActivityCommand(opts),
	)
	return root
}

// runtimeState bundles the resources one command flow needs.
type runtimeState struct {
	cfg    config.Config
	paths  platform.Paths
	logger *runtimeLogger
	store  *sqlstore.Store
	env    *app.BatchEnvironment
}

// Close releases the store and log sinks.
func (r *runtimeState) Close() {
	if r == nil {
		return
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("store close failed", "err", err)
		}
	}
	if err := r.logger.Close(); err != nil {
		charmLog.Warn("close runtime log sink", "err", err)
	}
}

// resolvePaths resolves platform paths from the global flags.
func resolvePaths(opts *globalOptions) (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: opts.appName,
		DevMode: opts.devMode,
	})
}

// loadConfig resolves the config file and applies flag and env overrides.
func loadConfig(opts *globalOptions, paths platform.Paths) (config.Config, string, error) {
	configPath := strings.TrimSpace(opts.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("BLOCKENV_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}

	dbPath := strings.TrimSpace(opts.dbPath)
	if dbPath == "" {
		dbPath = strings.TrimSpace(os.Getenv("BLOCKENV_DB_PATH"))
	}
	dsn := strings.TrimSpace(opts.dsn)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("BLOCKENV_DB_DSN"))
	}

	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return config.Config{}, configPath, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = dbPath
	}
	if dsn != "" {
		cfg.Database.Driver = config.DriverPostgres
		cfg.Database.DSN = dsn
	}
	if driver := strings.TrimSpace(opts.driver); driver != "" {
		cfg.Database.Driver = driver
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, configPath, err
	}
	return cfg, configPath, nil
}

// openRuntime loads config, opens the store, and seeds the block type catalog.
func openRuntime(cmd *cobra.Command, opts *globalOptions, reg prometheus.Registerer) (*runtimeState, error) {
	paths, err := resolvePaths(opts)
	if err != nil {
		return nil, err
	}
	cfg, configPath, err := loadConfig(opts, paths)
	if err != nil {
		return nil, err
	}

	logger, err := newRuntimeLogger(cmd.ErrOrStderr(), opts.appName, opts.devMode, cfg.Logging, paths.LogDir, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	state := &runtimeState{cfg: cfg, paths: paths, logger: logger}
	logger.Info("configuration loaded", "command", cmd.Name(), "config_path", configPath, "driver", cfg.Database.Driver, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Debug("dev file logging enabled", "path", devPath)
	}

	target := cfg.Database.Path
	if cfg.Database.Driver == config.DriverPostgres {
		target = cfg.Database.DSN
	}
	store, err := sqlstore.Open(cfg.Database.Driver, target)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.Database.Driver, "err", err)
		state.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	state.store = store
	logger.Debug("store ready", "driver", cfg.Database.Driver, "migrations", "ensured")

	env, err := app.NewBatchEnvironment(store, uuid.NewString, nil, app.EnvironmentConfig{
		MaxOperations: cfg.Environment.MaxOperations,
		Metrics:       app.NewMetrics(reg),
	})
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("build environment: %w", err)
	}
	state.env = env

	if inputs := cfg.BlockTypeInputs(); len(inputs) > 0 {
		seeded, err := env.SeedBlockTypes(cmd.Context(), inputs)
		if err != nil {
			logger.Error("block type seeding failed", "err", err)
			state.Close()
			return nil, fmt.Errorf("seed block types: %w", err)
		}
		logger.Info("block types seeded", "count", len(seeded))
	}
	return state, nil
}

func newPathsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		httpBind    string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, MCP tools, and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			state, err := openRuntime(cmd, opts, reg)
			if err != nil {
				return err
			}
			defer state.Close()

			serverCfg := serveradapter.Config{
				HTTPBind:        firstNonEmpty(httpBind, state.cfg.Server.HTTPBind),
				APIEndpoint:     firstNonEmpty(apiEndpoint, state.cfg.Server.APIEndpoint),
				MCPEndpoint:     firstNonEmpty(mcpEndpoint, state.cfg.Server.MCPEndpoint),
				MetricsEndpoint: state.cfg.Server.MetricsEndpoint,
				ServerName:      opts.appName,
				ServerVersion:   version,
			}
			deps := serveradapter.Dependencies{
				Environment: state.env,
				Ready:       state.store.Ping,
			}
			if state.cfg.Server.EnableMetrics {
				reg.MustRegister(collectors.NewGoCollector())
				deps.Metrics = reg
			}
			state.logger.Info("command flow start", "command", "serve", "bind", serverCfg.HTTPBind)
			if err := serveCommandRunner(cmd.Context(), serverCfg, deps); err != nil {
				state.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			state.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "HTTP API base endpoint (default from config)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP endpoint (default from config)")
	return cmd
}

// parseBoolEnv parses one optional boolean environment variable.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
