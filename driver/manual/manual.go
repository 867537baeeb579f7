// Package manual provides drivers for sites where an operator performs the
// hardware work by hand. Every action succeeds once the operator has been
// told what to do and given time to do it.
package manual

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver"
)

// OOBType is the oob type handled by the manual OOB driver.
const OOBType = "manual"

const (
	defaultWait        = 60 * time.Second
	defaultNodeTimeout = 5 * time.Minute
)

var oobActions = []orchestrator.Action{
	orchestrator.ActionValidateOOBServices,
	orchestrator.ActionConfigNodePXE,
	orchestrator.ActionSetNodeBoot,
	orchestrator.ActionPowerOffNode,
	orchestrator.ActionPowerOnNode,
	orchestrator.ActionPowerCycleNode,
	orchestrator.ActionInterrogateOOB,
}

var nodeActions = []orchestrator.Action{
	orchestrator.ActionValidateNodeServices,
	orchestrator.ActionCreateNetworkTemplate,
	orchestrator.ActionCreateStorageTemplate,
	orchestrator.ActionCreateBootMedia,
	orchestrator.ActionConfigureUserCredentials,
	orchestrator.ActionPrepareHardwareConfig,
	orchestrator.ActionIdentifyNode,
	orchestrator.ActionConfigureHardware,
	orchestrator.ActionInterrogateNode,
	orchestrator.ActionApplyNodeNetworking,
	orchestrator.ActionApplyNodeStorage,
	orchestrator.ActionApplyNodePlatform,
	orchestrator.ActionDeployNode,
	orchestrator.ActionDestroyNode,
}

var networkActions = []orchestrator.Action{
	orchestrator.ActionValidateNetworkServices,
	orchestrator.ActionInterrogatePort,
	orchestrator.ActionConfigPortProvisioning,
	orchestrator.ActionConfigPortProduction,
}

// siteActions address the site as a whole rather than individual nodes.
var siteActions = map[orchestrator.Action]bool{
	orchestrator.ActionValidateOOBServices:      true,
	orchestrator.ActionValidateNodeServices:     true,
	orchestrator.ActionValidateNetworkServices:  true,
	orchestrator.ActionCreateNetworkTemplate:    true,
	orchestrator.ActionConfigureUserCredentials: true,
}

// Driver is a manual driver of one type.
type Driver struct {
	name    string
	typ     driver.Type
	actions []orchestrator.Action
	orch    driver.Orchestrator
	logger  logr.Logger

	// wait is how long the operator gets per node action.
	wait    time.Duration
	timeout time.Duration
}

var _ driver.OOBDriver = (*Driver)(nil)

// NewOOB is a driver.Factory for the manual OOB driver.
// Settings: "wait" (default 60s) and "timeout" (default 5m), as durations.
func NewOOB(orch driver.Orchestrator, cfg driver.FactoryConfig) (driver.Driver, error) {
	return newDriver("manual", driver.TypeOOB, oobActions, orch, cfg)
}

// NewNode is a driver.Factory for the manual node driver.
func NewNode(orch driver.Orchestrator, cfg driver.FactoryConfig) (driver.Driver, error) {
	return newDriver("manual", driver.TypeNode, nodeActions, orch, cfg)
}

// NewNetwork is a driver.Factory for the manual network driver.
func NewNetwork(orch driver.Orchestrator, cfg driver.FactoryConfig) (driver.Driver, error) {
	return newDriver("manual", driver.TypeNetwork, networkActions, orch, cfg)
}

func newDriver(name string, typ driver.Type, actions []orchestrator.Action, orch driver.Orchestrator, cfg driver.FactoryConfig) (*Driver, error) {
	wait, err := duration(cfg.Settings, "wait", defaultWait)
	if err != nil {
		return nil, err
	}
	timeout, err := duration(cfg.Settings, "timeout", defaultNodeTimeout)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger.GetSink() == nil {
		logger = orch.Logger()
	}

	return &Driver{
		name:    name,
		typ:     typ,
		actions: actions,
		orch:    orch,
		logger:  logger.WithName(string(typ) + "-manual"),
		wait:    wait,
		timeout: timeout,
	}, nil
}

func duration(settings map[string]string, key string, def time.Duration) (time.Duration, error) {
	v, ok := settings[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid manual driver %s %q: %w", key, v, err)
	}
	return d, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return d.name }

// Type implements driver.Driver.
func (d *Driver) Type() driver.Type { return d.typ }

// SupportedActions implements driver.Driver.
func (d *Driver) SupportedActions() []orchestrator.Action { return d.actions }

// SupportsOOBType implements driver.OOBDriver.
func (d *Driver) SupportsOOBType(oobType string) bool {
	return d.typ == driver.TypeOOB && oobType == OOBType
}

// ExecuteTask implements driver.Driver.
func (d *Driver) ExecuteTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := d.orch.Tasks().Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("invalid task %s: %w", taskID, err)
	}
	if !driver.Supports(d, task.Action) {
		return fmt.Errorf("%w: driver %s %s does not support task action %s", orchestrator.ErrDriver, d.typ, d.name, task.Action)
	}

	if siteActions[task.Action] {
		return driver.RunOnce(ctx, d.orch, task, func(ctx context.Context) error {
			d.logger.Info("manual site action", "action", task.Action, "taskID", task.ID)
			return d.pause(ctx)
		})
	}

	return driver.RunPerNode(ctx, d.orch, task, d.timeout, func(ctx context.Context, sub *orchestrator.Task, n *design.BaremetalNode) error {
		msg := fmt.Sprintf("Manual %s required on node %s.", task.Action, n.Name)
		d.logger.Info("operator action required", "action", task.Action, "node", n.Name)
		if err := d.orch.Tasks().AddStatusMsg(ctx, sub, msg, false, orchestrator.ContextNode, n.Name); err != nil {
			return err
		}
		if err := d.pause(ctx); err != nil {
			return err
		}
		if task.Action == orchestrator.ActionDeployNode {
			return d.orch.CreateBootActionContext(ctx, n.Name, task)
		}
		return nil
	})
}

func (d *Driver) pause(ctx context.Context) error {
	if d.wait <= 0 {
		return nil
	}
	timer := time.NewTimer(d.wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
