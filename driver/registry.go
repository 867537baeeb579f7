package driver

import (
	"context"
	"fmt"
	"sync"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// Registry holds the enabled drivers: any number of OOB drivers, each for
// its own oob types, and at most one driver of every other type.
type Registry struct {
	mu     sync.RWMutex
	oob    []OOBDriver
	single map[Type]Driver
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		single: make(map[Type]Driver),
	}
}

// Register enables d.
// Returns orchestrator.ErrOrchestrator if the slot for its type is taken.
func (r *Registry) Register(d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch d.Type() {
	case TypeOOB:
		od, ok := d.(OOBDriver)
		if !ok {
			return fmt.Errorf("%w: driver %s does not report its oob types", orchestrator.ErrOrchestrator, d.Name())
		}
		for _, existing := range r.oob {
			if existing.Name() == d.Name() {
				return fmt.Errorf("%w: oob driver %s already registered", orchestrator.ErrOrchestrator, d.Name())
			}
		}
		r.oob = append(r.oob, od)
	case TypeNode, TypeNetwork, TypeKubernetes:
		if existing, ok := r.single[d.Type()]; ok {
			return fmt.Errorf("%w: %s driver %s already registered, cannot add %s",
				orchestrator.ErrOrchestrator, d.Type(), existing.Name(), d.Name())
		}
		r.single[d.Type()] = d
	default:
		return fmt.Errorf("%w: driver %s has unknown type %q", orchestrator.ErrOrchestrator, d.Name(), d.Type())
	}

	return nil
}

// OOB returns the first OOB driver that handles oobType.
func (r *Registry) OOB(oobType string) (OOBDriver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.oob {
		if d.SupportsOOBType(oobType) {
			return d, true
		}
	}
	return nil, false
}

// OOBDrivers returns the OOB drivers in registration order.
func (r *Registry) OOBDrivers() []OOBDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]OOBDriver{}, r.oob...)
}

// Node returns the node driver.
func (r *Registry) Node() (Driver, bool) { return r.get(TypeNode) }

// Network returns the network driver.
func (r *Registry) Network() (Driver, bool) { return r.get(TypeNetwork) }

// Kubernetes returns the kubernetes driver.
func (r *Registry) Kubernetes() (Driver, bool) { return r.get(TypeKubernetes) }

func (r *Registry) get(t Type) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.single[t]
	return d, ok
}

// Dispatch hands task to d and blocks until d finishes it.
// Returns orchestrator.ErrDriver without calling d if d does not support the task action.
func (r *Registry) Dispatch(ctx context.Context, d Driver, task *orchestrator.Task) error {
	if !Supports(d, task.Action) {
		return fmt.Errorf("%w: unsupported action %s for driver %s", orchestrator.ErrDriver, task.Action, d.Name())
	}

	if err := d.ExecuteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("%w: driver %s failed task %s: %w", orchestrator.ErrDriver, d.Name(), task.ID, err)
	}
	return nil
}
