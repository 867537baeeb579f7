// Package driver defines the drivers that execute provisioning subtasks and
// the registry the action layer dispatches them through.
package driver

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/lifecycle"
)

// Type is the capability a driver provides.
type Type string

const (
	// TypeOOB drivers control node power and boot devices out of band.
	TypeOOB Type = "oob"

	// TypeNode drivers identify, configure and deploy nodes.
	TypeNode Type = "node"

	// TypeNetwork drivers configure switch ports.
	TypeNetwork Type = "network"

	// TypeKubernetes drivers manage the cluster nodes join.
	TypeKubernetes Type = "kubernetes"
)

// Driver executes tasks for the actions it supports.
type Driver interface {
	// Name identifies the driver implementation.
	Name() string

	// Type is the capability the driver provides.
	Type() Type

	// SupportedActions lists the actions ExecuteTask accepts.
	SupportedActions() []orchestrator.Action

	// ExecuteTask runs the persisted task with the given ID to completion.
	// Outcomes are recorded on the task; the error reports failures to run it at all.
	ExecuteTask(ctx context.Context, taskID uuid.UUID) error
}

// OOBDriver is a Driver for one or more out-of-band hardware types.
type OOBDriver interface {
	Driver

	// SupportsOOBType reports whether nodes with the given oob type are handled.
	SupportsOOBType(oobType string) bool
}

// Orchestrator is what drivers need from the orchestrator that runs them.
type Orchestrator interface {
	// Tasks returns the task lifecycle manager.
	Tasks() *lifecycle.Manager

	// GetTargetNodes returns the nodes t targets. With failures or successes
	// set, only nodes in that part of the result of t are returned.
	GetTargetNodes(ctx context.Context, t *orchestrator.Task, failures, successes bool) ([]*design.BaremetalNode, error)

	// CreateBootActionContext records the boot actions node receives when deployed by t.
	CreateBootActionContext(ctx context.Context, node string, t *orchestrator.Task) error

	// Logger returns the orchestrator logger.
	Logger() logr.Logger
}

// FactoryConfig configures a driver built by a Factory.
type FactoryConfig struct {
	// Settings holds driver specific options such as API tokens.
	Settings map[string]string

	// Logger is for observability (optional).
	Logger logr.Logger
}

// Factory builds a driver bound to orch.
type Factory func(orch Orchestrator, cfg FactoryConfig) (Driver, error)

// Supports reports whether d accepts action.
func Supports(d Driver, action orchestrator.Action) bool {
	for _, a := range d.SupportedActions() {
		if a == action {
			return true
		}
	}
	return false
}
