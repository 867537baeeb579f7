package action

import (
	"context"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/nodefilter"
)

// Retry caps of the node steps that are expected to fail transiently.
const (
	configureHardwareRetries = 3
	deployNodeRetries        = 3
)

// VerifyNodes checks the orchestrator can reach every target node out of band.
type VerifyNodes struct{ *base }

// Start implements Action.
func (a *VerifyNodes) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	nodes, ok, err := a.targets(ctx)
	if !ok {
		return err
	}

	if err := a.oobStep(ctx, orchestrator.ActionInterrogateOOB, nodes); err != nil {
		return err
	}
	a.settle()
	return a.complete(ctx)
}

// PrepareNodes brings target nodes under the control of the node
// provisioner and configures their hardware.
type PrepareNodes struct{ *base }

// Start implements Action.
func (a *PrepareNodes) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	d, ok, err := a.nodeDriver(ctx)
	if !ok {
		return err
	}

	nodes, ok, err := a.targets(ctx)
	if !ok {
		return err
	}
	if len(nodes) == 0 {
		return a.noTargets(ctx)
	}
	if len(nodes) > 1 {
		if err := a.split(ctx, nodes); err != nil {
			return err
		}
		return a.complete(ctx)
	}

	// Nodes the provisioner already knows are not power cycled.
	check, err := a.existing(ctx, d)
	if err != nil {
		return err
	}
	known := check.Result.Successes
	for _, n := range known {
		a.logger.V(1).Info("node found in provisioner, skipping oob management", "node", n)
		if err := a.msg(ctx, "Node found in provisioner, skipping OOB management.", false, orchestrator.ContextNode, n); err != nil {
			return err
		}
	}

	var cycled []string
	if unknown := without(nodes, known); len(unknown) > 0 {
		if err := a.oobStep(ctx, orchestrator.ActionSetNodeBoot, unknown); err != nil {
			return err
		}
		booted := a.task.Result.Successes
		if len(booted) > 0 {
			if err := a.oobStep(ctx, orchestrator.ActionPowerCycleNode, keep(unknown, booted)); err != nil {
				return err
			}
			cycled = a.task.Result.Successes
		}
	}

	if stop, err := a.terminated(ctx); stop || err != nil {
		return err
	}

	identifyTargets := append(append([]string{}, known...), cycled...)
	if len(identifyTargets) == 0 {
		a.logger.Info("no nodes ready for identification")
		return a.finishPipeline(ctx, orchestrator.ActionConfigureHardware)
	}

	// Identification succeeds some time after the power cycle; keep polling
	// the provisioner for the whole identify timeout.
	poll := a.orch.config.PollInterval
	budget := int(a.orch.config.Timeouts.IdentifyNode / poll)
	if budget < 1 {
		budget = 1
	}
	a.logger.V(1).Info("identifying nodes", "maxAttempts", budget)

	identify, err := a.step(ctx, d, orchestrator.ActionIdentifyNode, nodefilter.FromNodeNames(identifyTargets), budget, poll)
	if err != nil {
		return err
	}

	if len(identify.Result.Successes) == 0 {
		a.logger.Info("no nodes successfully identified, skipping commissioning subtask")
		return a.finishPipeline(ctx, orchestrator.ActionConfigureHardware)
	}
	if stop, err := a.terminated(ctx); stop || err != nil {
		return err
	}

	a.logger.Info("starting commissioning", "nodes", len(identify.Result.Successes))
	if _, err := a.step(ctx, d, orchestrator.ActionConfigureHardware, identify.NodeFilterFromSuccesses(), configureHardwareRetries, 0); err != nil {
		return err
	}

	return a.finishPipeline(ctx, orchestrator.ActionConfigureHardware)
}

// existing runs identify_node once on the task targets. The check is not
// registered as a subtask: its failures only mean the nodes are still to
// be enrolled.
func (a *PrepareNodes) existing(ctx context.Context, d driver.Driver) (*orchestrator.Task, error) {
	check, err := a.tasks.CreateTask(ctx, orchestrator.ActionIdentifyNode, a.task.DesignRef, a.task.NodeFilter,
		lifecycle.WithStatus(orchestrator.TaskStatusRequested),
		lifecycle.WithParent(a.task.ID),
		lifecycle.WithCreatedBy(a.task.CreatedBy),
	)
	if err != nil {
		return nil, err
	}
	a.logger.Info("starting existence check", "subtaskID", check.ID, "driver", d.Name())
	return a.dispatch(ctx, d, check)
}

// DeployNodes installs the operating system on target nodes and waits for
// their boot actions to report.
type DeployNodes struct{ *base }

// Start implements Action.
func (a *DeployNodes) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	d, ok, err := a.nodeDriver(ctx)
	if !ok {
		return err
	}

	nodes, ok, err := a.targets(ctx)
	if !ok {
		return err
	}
	if len(nodes) == 0 {
		return a.noTargets(ctx)
	}
	if len(nodes) > 1 {
		if err := a.split(ctx, nodes); err != nil {
			return err
		}
		return a.complete(ctx)
	}

	nf := nodefilter.FromNodeNames(nodefilter.Names(nodes))
	steps := []struct {
		action  orchestrator.Action
		retries int
		skip    string
	}{
		{orchestrator.ActionApplyNodeNetworking, 0, ""},
		{orchestrator.ActionApplyNodeStorage, 0, "No nodes successfully networked, skipping storage configuration subtask."},
		{orchestrator.ActionApplyNodePlatform, 0, "No nodes with storage configuration, skipping platform configuration subtask."},
		{orchestrator.ActionDeployNode, deployNodeRetries, "Unable to configure platform on any nodes, skipping deploy subtask."},
	}

	var last *orchestrator.Task
	for _, s := range steps {
		if last != nil {
			if len(last.Result.Successes) == 0 {
				a.logger.Info(s.skip)
				if err := a.taskMsg(ctx, s.skip, false); err != nil {
					return err
				}
				return a.finishPipeline(ctx, orchestrator.ActionBootactionReport)
			}
			nf = last.NodeFilterFromSuccesses()
		}
		if stop, err := a.terminated(ctx); stop || err != nil {
			return err
		}

		last, err = a.step(ctx, d, s.action, nf, s.retries, 0)
		if err != nil {
			return err
		}
		a.logger.Info("node driver task complete", "subtaskID", last.ID, "subtaskAction", s.action,
			"successes", len(last.Result.Successes), "failures", len(last.Result.Failures))
	}

	if len(last.Result.Successes) > 0 {
		report, err := a.tasks.CreateSubtask(ctx, a.task, orchestrator.ActionBootactionReport, last.NodeFilterFromSuccesses())
		if err != nil {
			return err
		}
		ba, err := a.orch.NewAction(report)
		if err != nil {
			return err
		}
		if err := ba.Start(ctx); err != nil {
			return err
		}
	}

	return a.finishPipeline(ctx, orchestrator.ActionBootactionReport)
}

// DestroyNodes returns target nodes to an unprovisioned, powered off state.
type DestroyNodes struct{ *base }

// Start implements Action.
func (a *DestroyNodes) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	d, ok, err := a.nodeDriver(ctx)
	if !ok {
		return err
	}

	nodes, ok, err := a.targets(ctx)
	if !ok {
		return err
	}
	if len(nodes) == 0 {
		return a.noTargets(ctx)
	}

	supported := driver.Supports(d, orchestrator.ActionDestroyNode)
	powerOff := nodes
	if supported {
		sub, err := a.step(ctx, d, orchestrator.ActionDestroyNode, nodefilter.FromNodeNames(nodefilter.Names(nodes)), 0, 0)
		if err != nil {
			return err
		}
		powerOff = keep(nodes, sub.Result.Successes)
	} else {
		if err := a.taskMsg(ctx, "No node driver supports destroy_node.", true); err != nil {
			return err
		}
	}

	if len(powerOff) > 0 {
		if err := a.oobStep(ctx, orchestrator.ActionPowerOffNode, powerOff); err != nil {
			return err
		}
	}

	if err := a.tasks.BubbleResults(ctx, a.task, orchestrator.ActionPowerOffNode); err != nil {
		return err
	}
	a.settle()
	if !supported {
		a.task.Failure("")
	}
	return a.complete(ctx)
}

// RelabelNodes brings the cluster node labels in line with the design.
type RelabelNodes struct{ *base }

// Start implements Action.
func (a *RelabelNodes) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	d, ok := a.orch.drivers.Kubernetes()
	if !ok {
		a.logger.Info("no kubernetes driver enabled, ending task")
		a.task.Result.SetMessage("No KubernetesDriver enabled.")
		a.task.Result.SetReason("Bad Configuration.")
		return a.fail(ctx, "No kubernetes driver enabled, ending task.")
	}

	nodes, ok, err := a.targets(ctx)
	if !ok {
		return err
	}
	if len(nodes) == 0 {
		return a.noTargets(ctx)
	}

	if _, err := a.step(ctx, d, orchestrator.ActionRelabelNode, nodefilter.FromNodeNames(nodefilter.Names(nodes)), 0, 0); err != nil {
		return err
	}

	if err := a.tasks.BubbleResults(ctx, a.task, orchestrator.ActionRelabelNode); err != nil {
		return err
	}
	if err := a.tasks.AlignResult(ctx, a.task, orchestrator.ActionRelabelNode, true); err != nil {
		return err
	}
	return a.complete(ctx)
}

// noTargets completes a task whose filter selects no nodes.
func (b *base) noTargets(ctx context.Context) error {
	b.logger.Info("no nodes in scope")
	if err := b.taskMsg(ctx, "No nodes in scope.", false); err != nil {
		return err
	}
	b.task.Success("")
	return b.complete(ctx)
}

// finishPipeline takes the successes of the final step and every failure
// along the way, then completes the task.
func (b *base) finishPipeline(ctx context.Context, final orchestrator.Action) error {
	if err := b.tasks.BubbleResults(ctx, b.task, final); err != nil {
		return err
	}
	b.settle()
	if b.task.Result.Status == orchestrator.ResultSuccess && len(b.task.Result.Successes) == 0 {
		// Every node dropped out without failing a subtask, e.g. a step
		// driver that reported nothing.
		b.task.Result.Status = orchestrator.ResultFailure
	}
	return b.complete(ctx)
}

// keep returns the nodes whose names are in names.
func keep(nodes []*design.BaremetalNode, names []string) []*design.BaremetalNode {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := []*design.BaremetalNode{}
	for _, n := range nodes {
		if want[n.Name] {
			out = append(out, n)
		}
	}
	return out
}
