package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/config"
	"github.com/getpup/metal-orchestrator/store"
)

// Boot action report errors.
var (
	ErrBootActionKey      = errors.New("boot action identity key mismatch")
	ErrBootActionReported = errors.New("boot action already reported")
)

// BootActionReport is a node's report of a boot action outcome.
type BootActionReport struct {
	ActionID string

	// Key is the hex encoded identity key of the node.
	Key string

	// Status is success or failure.
	Status string

	// Message is posted on the deployment task. Optional.
	Message string
}

// ReportBootAction records the final status of a boot action after checking
// the node's identity key.
func ReportBootAction(ctx context.Context, opts Options, rep BootActionReport) error {
	actionID, err := uuid.Parse(rep.ActionID)
	if err != nil {
		return fmt.Errorf("invalid boot action id %q: %w", rep.ActionID, err)
	}
	status := orchestrator.ActionResult(rep.Status)
	if status != orchestrator.ResultSuccess && status != orchestrator.ResultFailure {
		return fmt.Errorf("%w: status must be %s or %s, got %q",
			orchestrator.ErrOrchestrator, orchestrator.ResultSuccess, orchestrator.ResultFailure, rep.Status)
	}
	key, err := hex.DecodeString(rep.Key)
	if err != nil {
		return fmt.Errorf("invalid identity key: %w", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	return reportBootAction(ctx, s, actionID, key, status, rep.Message)
}

func reportBootAction(ctx context.Context, s store.TaskStore, actionID uuid.UUID, key []byte, status orchestrator.ActionResult, message string) error {
	rec, err := s.GetBootAction(ctx, actionID)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(rec.IdentityKey, key) != 1 {
		return ErrBootActionKey
	}
	switch rec.Status {
	case orchestrator.ResultSuccess, orchestrator.ResultFailure:
		return fmt.Errorf("%w: %s on %s is %s", ErrBootActionReported, rec.ActionName, rec.NodeName, rec.Status)
	case orchestrator.ResultUnreported:
		return fmt.Errorf("%w: %s on %s does not signal completion", orchestrator.ErrOrchestrator, rec.ActionName, rec.NodeName)
	}

	if err := s.PutBootActionStatus(ctx, actionID, status); err != nil {
		return err
	}

	if message == "" {
		return nil
	}
	return s.PostResultMessage(ctx, rec.TaskID, orchestrator.ResultMessage{
		Msg:         fmt.Sprintf("Boot action %s reported: %s", rec.ActionName, message),
		Error:       status == orchestrator.ResultFailure,
		ContextType: orchestrator.ContextNode,
		Context:     rec.NodeName,
		Timestamp:   time.Now().UTC(),
	})
}
