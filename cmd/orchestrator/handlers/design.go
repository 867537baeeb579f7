package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/getpup/metal-orchestrator/config"
)

// ErrDesignInvalid is returned by ValidateDesign when the design has errors.
var ErrDesignInvalid = errors.New("design validation failed")

// ValidateDesign loads, compiles and validates the design at designRef and
// prints every finding. It needs no database.
func ValidateDesign(ctx context.Context, opts Options, designRef string) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	sites, err := newSource(ctx, cfg, nil, opts.logger())
	if err != nil {
		return err
	}

	status, site := sites.GetEffectiveSite(ctx, designRef)
	out := opts.out()
	for _, m := range status.Messages {
		name := m.Name
		if name == "" {
			name = "-"
		}
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", m.Level, name, m.Msg)
		if m.Diagnostic != "" {
			_, _ = fmt.Fprintf(out, "    %s\n", m.Diagnostic)
		}
	}

	if !status.Succeeded() {
		_, _ = fmt.Fprintf(out, "Design %s is invalid: %d error(s)\n", designRef, status.ErrorCount)
		return fmt.Errorf("%w: %s", ErrDesignInvalid, designRef)
	}

	nodes := 0
	if site != nil {
		nodes = len(site.BaremetalNodes)
	}
	_, _ = fmt.Fprintf(out, "Design %s is valid: %d node(s)\n", designRef, nodes)
	return nil
}
