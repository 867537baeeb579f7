package action

import (
	"context"
	"time"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// Noop runs the full task flow without touching any infrastructure.
type Noop struct{ *base }

// Start implements Action.
func (a *Noop) Start(ctx context.Context) error {
	a.logger.V(1).Info("starting noop action")
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.orch.config.NoopDelay):
	}

	if err := a.tasks.Reload(ctx, a.task); err != nil {
		return err
	}
	if a.task.CheckTerminate() {
		a.logger.V(1).Info("terminating action")
		a.task.Status = orchestrator.TaskStatusTerminated
		a.task.Failure("")
		if err := a.msg(ctx, "Action terminated.", false, orchestrator.ContextNA, orchestrator.ContextNA); err != nil {
			return err
		}
	} else {
		a.task.Status = orchestrator.TaskStatusComplete
		a.task.Success("")
		if err := a.msg(ctx, "Noop action.", false, orchestrator.ContextNA, orchestrator.ContextNA); err != nil {
			return err
		}
	}
	return a.tasks.Save(ctx, a.task)
}

// ValidateDesign records the validation findings of the task design.
type ValidateDesign struct{ *base }

// Start implements Action.
func (a *ValidateDesign) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	status, _ := a.orch.GetEffectiveSite(ctx, a.task.DesignRef)
	if status == nil {
		return a.fail(ctx, "Design validation returned no status.")
	}
	if err := a.tasks.MergeStatusMessages(ctx, a.task, status.ResultMessages()); err != nil {
		return err
	}
	if status.Message != "" {
		a.task.Result.SetMessage(status.Message)
	}
	if status.Reason != "" {
		a.task.Result.SetReason(status.Reason)
	}

	if status.Succeeded() {
		a.task.Success("")
	} else {
		a.logger.Info("design failed validation", "errors", status.ErrorCount)
		a.task.Failure("")
	}
	return a.complete(ctx)
}

// VerifySite checks that the node provisioner is reachable and ready.
type VerifySite struct{ *base }

// Start implements Action.
func (a *VerifySite) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	d, ok, err := a.nodeDriver(ctx)
	if !ok {
		return err
	}

	sub, err := a.step(ctx, d, orchestrator.ActionValidateNodeServices, nil, 0, 0)
	if err != nil {
		return err
	}
	if err := a.collected(ctx, sub); err != nil {
		return err
	}

	if err := a.tasks.AlignResult(ctx, a.task, "", true); err != nil {
		return err
	}
	return a.complete(ctx)
}

// PrepareSite applies the site wide provisioner configuration and checks
// the other enabled drivers can reach their services.
type PrepareSite struct{ *base }

// Start implements Action.
func (a *PrepareSite) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	d, ok, err := a.nodeDriver(ctx)
	if !ok {
		return err
	}

	for _, action := range []orchestrator.Action{
		orchestrator.ActionCreateNetworkTemplate,
		orchestrator.ActionConfigureUserCredentials,
	} {
		sub, err := a.step(ctx, d, action, nil, 0, 0)
		if err != nil {
			return err
		}
		if err := a.collected(ctx, sub); err != nil {
			return err
		}
		a.logger.Info("node driver task complete", "subtaskID", sub.ID, "subtaskAction", action)
	}

	for _, od := range a.orch.drivers.OOBDrivers() {
		sub, err := a.step(ctx, od, orchestrator.ActionValidateOOBServices, nil, 0, 0)
		if err != nil {
			return err
		}
		if err := a.collected(ctx, sub); err != nil {
			return err
		}
	}

	if nd, ok := a.orch.drivers.Network(); ok {
		sub, err := a.step(ctx, nd, orchestrator.ActionValidateNetworkServices, nil, 0, 0)
		if err != nil {
			return err
		}
		if err := a.collected(ctx, sub); err != nil {
			return err
		}
	}

	if err := a.tasks.AlignResult(ctx, a.task, "", true); err != nil {
		return err
	}
	return a.complete(ctx)
}
