package handlers

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/metal-orchestrator/config"
	"github.com/getpup/metal-orchestrator/engine"
	"github.com/getpup/metal-orchestrator/metrics"
)

// shutdownTimeout bounds the wait for in-flight actions on shutdown.
const shutdownTimeout = 30 * time.Second

// Run starts the leadership loop and, when enabled, the metrics server. It
// returns after SIGINT or SIGTERM once in-flight actions finished or the
// shutdown timeout passed.
func Run(ctx context.Context, opts Options, migrate bool) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger := opts.logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if migrate {
		if err := st.store.MigrationUp(ctx); err != nil {
			return err
		}
		logger.Info("migrations applied", "driver", cfg.Database.Driver)
	}

	metricsEnabled := cfg.Metrics.IsEnabled()
	eng := engine.New(engine.Config{
		Tasks:          st.tasks,
		Actions:        st.actions,
		InstanceID:     st.instanceID,
		PollInterval:   cfg.PollInterval,
		ClaimInterval:  cfg.LeadershipClaimInterval,
		WorkerPoolSize: cfg.WorkerPoolSize,
		Logger:         logger.WithName("engine"),
		MetricsEnabled: &metricsEnabled,
	})

	var server *metrics.Server
	if metricsEnabled {
		server = metrics.NewServer(cfg.Metrics.Address)
		server.Start()
		logger.Info("metrics server started", "address", cfg.Metrics.Address)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(sctx)
		}()
	}

	logger.Info("orchestrator starting", "instanceID", eng.ID(), "oob", cfg.Drivers.OOB, "node", cfg.Drivers.Node)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case runErr = <-done:
			break loop
		case <-ticker.C:
			if server == nil {
				continue
			}
			if err := server.Err(); err != nil {
				logger.Error(err, "metrics server failed")
				eng.Stop()
				runErr = fmt.Errorf("metrics server failed: %w", err)
				<-done
				break loop
			}
		}
	}

	logger.Info("waiting for running actions", "timeout", shutdownTimeout)
	wctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Wait(wctx); err != nil {
		logger.Error(err, "actions still running at shutdown")
	}

	return runErr
}
