package handlers

import (
	"context"
	"fmt"

	"github.com/getpup/metal-orchestrator/config"
)

// Migrate creates the task store tables, or drops them when down is set.
func Migrate(ctx context.Context, opts Options, down bool) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if down {
		if err := s.MigrationDown(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(opts.out(), "Dropped %s task store tables\n", cfg.Database.Driver)
		return nil
	}

	if err := s.MigrationUp(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(opts.out(), "Applied %s task store migrations\n", cfg.Database.Driver)
	return nil
}
