// Package builtin links every driver implementation and enables the ones a
// configuration names.
package builtin

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/driver"
	"github.com/getpup/metal-orchestrator/driver/hcloud"
	"github.com/getpup/metal-orchestrator/driver/kubernetes"
	"github.com/getpup/metal-orchestrator/driver/manual"
)

// Factories maps each driver type and name to its constructor.
var Factories = map[driver.Type]map[string]driver.Factory{
	driver.TypeOOB: {
		"manual": manual.NewOOB,
		"hcloud": hcloud.New,
	},
	driver.TypeNode: {
		"manual": manual.NewNode,
	},
	driver.TypeNetwork: {
		"manual": manual.NewNetwork,
	},
	driver.TypeKubernetes: {
		"kubernetes": kubernetes.New,
	},
}

// Selection names the drivers to enable.
type Selection struct {
	OOB        []string
	Node       string
	Network    string
	Kubernetes string

	// Settings holds per driver options keyed by driver name.
	Settings map[string]map[string]string
}

// Load builds the selected drivers against orch and registers them in reg.
// Returns orchestrator.ErrOrchestrator for a name with no factory.
func Load(reg *driver.Registry, orch driver.Orchestrator, sel Selection, logger logr.Logger) error {
	type choice struct {
		typ  driver.Type
		name string
	}

	var choices []choice
	for _, name := range sel.OOB {
		choices = append(choices, choice{driver.TypeOOB, name})
	}
	for _, c := range []choice{
		{driver.TypeNode, sel.Node},
		{driver.TypeNetwork, sel.Network},
		{driver.TypeKubernetes, sel.Kubernetes},
	} {
		if c.name != "" {
			choices = append(choices, c)
		}
	}

	for _, c := range choices {
		factory, ok := Factories[c.typ][c.name]
		if !ok {
			return fmt.Errorf("%w: unknown %s driver %q, available: %v", orchestrator.ErrOrchestrator, c.typ, c.name, Names(c.typ))
		}

		d, err := factory(orch, driver.FactoryConfig{
			Settings: sel.Settings[c.name],
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s driver %s: %w", c.typ, c.name, err)
		}
		if err := reg.Register(d); err != nil {
			return err
		}
		logger.Info("driver enabled", "type", c.typ, "name", c.name)
	}

	return nil
}

// Names returns the sorted driver names available for typ.
func Names(typ driver.Type) []string {
	out := make([]string, 0, len(Factories[typ]))
	for name := range Factories[typ] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
