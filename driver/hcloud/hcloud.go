// Package hcloud provides an OOB driver for Hetzner Cloud servers. Power
// control maps onto the server power actions and network boot onto the
// rescue system.
package hcloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	hc "github.com/hetznercloud/hcloud-go/v2/hcloud"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver"
)

// OOBType is the oob type handled by this driver.
const OOBType = "hcloud"

const defaultTimeout = 10 * time.Minute

var supportedActions = []orchestrator.Action{
	orchestrator.ActionValidateOOBServices,
	orchestrator.ActionConfigNodePXE,
	orchestrator.ActionSetNodeBoot,
	orchestrator.ActionPowerOffNode,
	orchestrator.ActionPowerOnNode,
	orchestrator.ActionPowerCycleNode,
	orchestrator.ActionInterrogateOOB,
}

// Driver controls nodes backed by Hetzner Cloud servers. A node names its
// server with the oob parameter "server", by ID or name, and defaults to
// its own name.
type Driver struct {
	client  *hc.Client
	orch    driver.Orchestrator
	logger  logr.Logger
	timeout time.Duration
}

var _ driver.OOBDriver = (*Driver)(nil)

// New is a driver.Factory. Settings: "token" (required), "endpoint" and
// "timeout" (default 10m).
func New(orch driver.Orchestrator, cfg driver.FactoryConfig) (driver.Driver, error) {
	token := cfg.Settings["token"]
	if token == "" {
		return nil, errors.New("hcloud driver requires a token")
	}

	timeout := defaultTimeout
	if v := cfg.Settings["timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid hcloud timeout %q: %w", v, err)
		}
		timeout = d
	}

	opts := []hc.ClientOption{
		hc.WithToken(token),
		hc.WithApplication("metal-orchestrator", ""),
	}
	if ep := cfg.Settings["endpoint"]; ep != "" {
		opts = append(opts, hc.WithEndpoint(ep))
	}

	logger := cfg.Logger
	if logger.GetSink() == nil {
		logger = orch.Logger()
	}

	return NewWithClient(hc.NewClient(opts...), orch, logger, timeout), nil
}

// NewWithClient returns a driver using client.
func NewWithClient(client *hc.Client, orch driver.Orchestrator, logger logr.Logger, timeout time.Duration) *Driver {
	return &Driver{
		client:  client,
		orch:    orch,
		logger:  logger.WithName("oob-hcloud"),
		timeout: timeout,
	}
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "hcloud" }

// Type implements driver.Driver.
func (d *Driver) Type() driver.Type { return driver.TypeOOB }

// SupportedActions implements driver.Driver.
func (d *Driver) SupportedActions() []orchestrator.Action { return supportedActions }

// SupportsOOBType implements driver.OOBDriver.
func (d *Driver) SupportsOOBType(oobType string) bool { return oobType == OOBType }

// ExecuteTask implements driver.Driver.
func (d *Driver) ExecuteTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := d.orch.Tasks().Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("invalid task %s: %w", taskID, err)
	}
	if !driver.Supports(d, task.Action) {
		return fmt.Errorf("%w: driver hcloud does not support task action %s", orchestrator.ErrDriver, task.Action)
	}

	if task.Action == orchestrator.ActionValidateOOBServices {
		return driver.RunOnce(ctx, d.orch, task, d.validateServices)
	}

	return driver.RunPerNode(ctx, d.orch, task, d.timeout, func(ctx context.Context, sub *orchestrator.Task, n *design.BaremetalNode) error {
		server, err := d.server(ctx, n)
		if err != nil {
			return err
		}

		switch task.Action {
		case orchestrator.ActionPowerOnNode:
			return d.powerOn(ctx, server)
		case orchestrator.ActionPowerOffNode:
			return d.powerOff(ctx, server)
		case orchestrator.ActionPowerCycleNode:
			return d.reset(ctx, server)
		case orchestrator.ActionSetNodeBoot:
			return d.setBoot(ctx, server, n.OOBParameters["boot"] == "pxe")
		case orchestrator.ActionConfigNodePXE:
			return d.setBoot(ctx, server, true)
		case orchestrator.ActionInterrogateOOB:
			msg := fmt.Sprintf("Server %s (%d) status %s, rescue enabled %t.", server.Name, server.ID, server.Status, server.RescueEnabled)
			return d.orch.Tasks().AddStatusMsg(ctx, sub, msg, false, orchestrator.ContextNode, n.Name)
		}
		return nil
	})
}

func (d *Driver) validateServices(ctx context.Context) error {
	if _, _, err := d.client.Server.List(ctx, hc.ServerListOpts{ListOpts: hc.ListOpts{PerPage: 1}}); err != nil {
		return fmt.Errorf("failed to reach hcloud API: %w", err)
	}
	return nil
}

func (d *Driver) server(ctx context.Context, n *design.BaremetalNode) (*hc.Server, error) {
	ref := n.OOBParameters["server"]
	if ref == "" {
		ref = n.Name
	}

	server, _, err := d.client.Server.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", ref, err)
	}
	if server == nil {
		return nil, fmt.Errorf("server %s not found for node %s", ref, n.Name)
	}
	return server, nil
}

func (d *Driver) powerOn(ctx context.Context, server *hc.Server) error {
	if server.Status == hc.ServerStatusRunning {
		return nil
	}
	action, _, err := d.client.Server.Poweron(ctx, server)
	if err != nil {
		return fmt.Errorf("failed to power on server %s: %w", server.Name, err)
	}
	return d.wait(ctx, "power on", action)
}

func (d *Driver) powerOff(ctx context.Context, server *hc.Server) error {
	if server.Status == hc.ServerStatusOff {
		return nil
	}
	action, _, err := d.client.Server.Poweroff(ctx, server)
	if err != nil {
		return fmt.Errorf("failed to power off server %s: %w", server.Name, err)
	}
	return d.wait(ctx, "power off", action)
}

func (d *Driver) reset(ctx context.Context, server *hc.Server) error {
	action, _, err := d.client.Server.Reset(ctx, server)
	if err != nil {
		return fmt.Errorf("failed to reset server %s: %w", server.Name, err)
	}
	return d.wait(ctx, "reset", action)
}

// setBoot boots the server into the rescue system on its next start when
// pxe is set, and from its own disk otherwise.
func (d *Driver) setBoot(ctx context.Context, server *hc.Server, pxe bool) error {
	if pxe == server.RescueEnabled {
		return nil
	}

	if pxe {
		result, _, err := d.client.Server.EnableRescue(ctx, server, hc.ServerEnableRescueOpts{
			Type: hc.ServerRescueTypeLinux64,
		})
		if err != nil {
			return fmt.Errorf("failed to enable rescue on server %s: %w", server.Name, err)
		}
		return d.wait(ctx, "enable rescue", result.Action)
	}

	action, _, err := d.client.Server.DisableRescue(ctx, server)
	if err != nil {
		return fmt.Errorf("failed to disable rescue on server %s: %w", server.Name, err)
	}
	return d.wait(ctx, "disable rescue", action)
}

func (d *Driver) wait(ctx context.Context, what string, action *hc.Action) error {
	if err := d.client.Action.WaitFor(ctx, action); err != nil {
		return fmt.Errorf("failed to wait for %s: %w", what, err)
	}
	d.logger.V(1).Info("server action finished", "action", what, "id", action.ID)
	return nil
}
