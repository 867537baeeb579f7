// Package handlers implements the business logic for CLI commands.
//
// Each handler loads the configuration, builds the parts of the stack it
// needs and writes human readable output. Command parsing lives in the
// commands package.
package handlers

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/uuid"

	"github.com/getpup/metal-orchestrator/action"
	"github.com/getpup/metal-orchestrator/config"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver/builtin"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/metrics"
	"github.com/getpup/metal-orchestrator/pkg/migrations"
	"github.com/getpup/metal-orchestrator/store/sqlstore"
)

// Options are the settings shared by every command.
type Options struct {
	// ConfigPath is the configuration file. Empty means defaults.
	ConfigPath string

	// Verbosity is the logr V-level printed to Err.
	Verbosity int

	// Out receives command output (default: os.Stdout).
	Out io.Writer

	// Err receives log lines (default: os.Stderr).
	Err io.Writer
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o Options) logger() logr.Logger {
	w := o.Err
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(w, o.Verbosity)
}

// NewLogger returns a funcr logger writing one line per entry to w.
func NewLogger(w io.Writer, verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			_, _ = fmt.Fprintf(w, "%s: %s\n", prefix, args)
			return
		}
		_, _ = fmt.Fprintln(w, args)
	}, funcr.Options{
		LogTimestamp: true,
		Verbosity:    verbosity,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	dialect, err := migrations.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(ctx, cfg.Database.DSN, sqlstore.Config{
		Dialect:     dialect,
		Schema:      cfg.Database.Schema,
		GracePeriod: cfg.LeaderGracePeriod,
	})
}

func newSource(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger logr.Logger) (*design.Source, error) {
	resolvers := design.DefaultResolvers()
	if cfg.Design.S3 != nil {
		s3, err := design.NewS3Resolver(ctx, *cfg.Design.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 resolver: %w", err)
		}
		resolvers["s3"] = s3
	}

	sc := design.SourceConfig{
		Resolvers: resolvers,
		CacheSize: cfg.Design.CacheSize,
		Logger:    logger.WithName("design"),
	}
	if collector != nil {
		sc.ObserveCompile = collector.ObserveDesignCompile
	}
	return design.NewSource(sc), nil
}

// stack is the store, task manager and action layer one process runs.
type stack struct {
	cfg        *config.Config
	store      *sqlstore.Store
	tasks      *lifecycle.Manager
	actions    *action.Orchestrator
	instanceID uuid.UUID
	collector  *metrics.Collector
	logger     logr.Logger
}

func buildStack(ctx context.Context, cfg *config.Config, logger logr.Logger) (*stack, error) {
	instanceID := uuid.New()
	if cfg.InstanceID != "" {
		instanceID = uuid.MustParse(cfg.InstanceID)
	}

	var collector *metrics.Collector
	if cfg.Metrics.IsEnabled() {
		collector = metrics.NewCollector(instanceID.String())
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sites, err := newSource(ctx, cfg, collector, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	tasks := lifecycle.New(lifecycle.Config{
		Store:              s,
		LeaseRenewInterval: cfg.LeadershipClaimInterval,
		Logger:             logger.WithName("lifecycle"),
	})
	actions := action.New(action.Config{
		Tasks:          tasks,
		Sites:          sites,
		Timeouts:       cfg.Timeouts.Action(),
		PollInterval:   cfg.PollInterval,
		WorkerPoolSize: cfg.WorkerPoolSize,
		Logger:         logger.WithName("action"),
		Collector:      collector,
	})
	if err := builtin.Load(actions.Drivers(), actions, cfg.Drivers.Selection(), logger.WithName("driver")); err != nil {
		_ = s.Close()
		return nil, err
	}

	return &stack{
		cfg:        cfg,
		store:      s,
		tasks:      tasks,
		actions:    actions,
		instanceID: instanceID,
		collector:  collector,
		logger:     logger,
	}, nil
}

func (s *stack) Close() error {
	return s.store.Close()
}
