package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/universal/internal/credentials"
	"github.com/desertthunder/universal/internal/formatter"
	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/repositories"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
	"github.com/desertthunder/universal/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The store, credential store and engine are built on first use, so commands
// that never touch the database (and `setup` before a config exists) stay cheap.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	status     io.Writer
	printer    *formatter.Printer

	registry *services.Registry
	store    *repositories.Store
	ownStore bool
	creds    *credentials.Store
	engine   *tasks.Engine
	metrics  *prometheus.Registry

	openBrowser func(ctx context.Context, url string) error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Status     io.Writer
	// Registry replaces the providers built from the config.
	Registry *services.Registry
	// Store is used instead of opening Config.Database; the caller closes it.
	Store *repositories.Store
	// OpenBrowser replaces [shared.OpenBrowser].
	OpenBrowser func(ctx context.Context, url string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Status == nil {
		opts.Status = os.Stderr
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		logger:      opts.Logger,
		output:      opts.Output,
		status:      opts.Status,
		printer:     formatter.New(opts.Output, formatter.Text),
		registry:    opts.Registry,
		store:       opts.Store,
		openBrowser: opts.OpenBrowser,
	}
}

// before loads configuration and selects the output format for every command.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	shared.SetLogLevel(r.logger, cmd.Bool("verbose"))

	if err := shared.LoadEnv(".env"); err != nil {
		r.logger.Warn("ignoring .env", "error", err)
	}
	if r.config == nil {
		cfg, err := r.loadConfig(cmd)
		if err != nil {
			return ctx, err
		}
		r.config = cfg
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return ctx, err
	}
	if cmd.Bool("json") {
		format = formatter.JSON
	}
	r.printer = formatter.New(r.output, format)
	return ctx, nil
}

// loadConfig reads --config. A missing file falls back to the embedded defaults
// unless the path was given explicitly.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if cmd.IsSet("config") || r.configPath == "" {
		r.configPath = cmd.String("config")
	}

	var cfg *shared.Config
	if _, err := os.Stat(r.configPath); err == nil {
		if cfg, err = shared.LoadConfig(r.configPath); err != nil {
			return nil, err
		}
	} else if cmd.IsSet("config") {
		return nil, fmt.Errorf("%w: %s", shared.ErrMissingConfig, r.configPath)
	} else {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		cfg = shared.DefaultConfig()
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open builds the store, credential store and engine on first use.
func (r *Runner) open(ctx context.Context) error {
	if r.engine != nil {
		return nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}

	if r.store == nil {
		db, err := shared.OpenDatabase(r.config.Database)
		if err != nil {
			return err
		}
		if err := shared.RunMigrations(ctx, db); err != nil {
			db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		r.store, r.ownStore = repositories.NewStore(db), true
	}
	if r.registry == nil {
		r.registry = services.FromConfig(r.config, r.logger)
	}
	if len(r.registry.Names()) == 0 {
		r.logger.Warn("no provider credentials configured; set client_id and client_secret in the config or environment")
	}

	r.metrics = prometheus.NewRegistry()
	r.creds = credentials.New(r.store, r.registry, r.config.Sync, r.logger)
	r.engine = tasks.NewEngine(r.store, r.creds, r.config.Sync, tasks.NewMetrics(r.metrics), r.logger)
	return nil
}

// close releases a database opened by [Runner.open].
func (r *Runner) close(context.Context, *cli.Command) error {
	if r.store == nil || !r.ownStore {
		return nil
	}
	err := r.store.DB().Close()
	r.store, r.creds, r.engine, r.ownStore = nil, nil, nil, false
	return err
}

// user resolves --user. Without the flag, a sole existing user is picked.
func (r *Runner) user(ctx context.Context, cmd *cli.Command) (*models.User, error) {
	if name := cmd.String("user"); name != "" {
		return r.store.Users.GetByUsername(ctx, name)
	}
	users, err := r.store.Users.List(ctx)
	if err != nil {
		return nil, err
	}
	switch len(users) {
	case 0:
		return nil, fmt.Errorf("%w: no users exist; run `universal user create` first", shared.ErrMissingArgument)
	case 1:
		return &users[0], nil
	default:
		return nil, fmt.Errorf("%w: --user is required when several users exist", shared.ErrMissingArgument)
	}
}

// idArg parses a required numeric argument.
func idArg(cmd *cli.Command, name string) (int64, error) {
	raw := cmd.StringArg(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s", shared.ErrMissingArgument, name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive number, got %q", shared.ErrInvalidInput, name, raw)
	}
	return id, nil
}

func stringArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.StringArg(name)
	if v == "" {
		return "", fmt.Errorf("%w: %s", shared.ErrMissingArgument, name)
	}
	return v, nil
}

// progress drains engine updates onto the status writer until the returned
// stop func is called. JSON output stays quiet.
func (r *Runner) progress() (chan tasks.ProgressUpdate, func()) {
	ch := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	quiet := r.printer.Format() == formatter.JSON

	go func() {
		defer close(done)
		for u := range ch {
			if quiet {
				continue
			}
			switch u.Phase {
			case tasks.SyncPlaylist:
				fmt.Fprintf(r.status, "→ %s\n", u.Message)
			case tasks.SourceDone, tasks.CreateMirror, tasks.DeleteMirror:
				fmt.Fprintf(r.status, "  %s\n", u.Message)
			default:
				r.logger.Debug(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
			}
		}
	}()

	return ch, func() {
		close(ch)
		<-done
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, shared.ErrMissingArgument), errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidReference), errors.Is(err, shared.ErrMissingConfig),
		errors.Is(err, shared.ErrInvalidConfig):
		return 2
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrAuthExchange):
		return 3
	case errors.Is(err, errSyncFailures):
		return 4
	default:
		return 1
	}
}
