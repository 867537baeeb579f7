// Package action implements the orchestrator level actions: the workflows
// that decompose a task into driver subtasks and fold their results back.
package action

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/metrics"
	"github.com/getpup/metal-orchestrator/nodefilter"
	"github.com/getpup/metal-orchestrator/store"
)

// identityKeyLength is the size in bytes of a boot action identity key.
const identityKeyLength = 32

// SiteSource renders the effective site for a design reference.
// *design.Source implements it.
type SiteSource interface {
	GetEffectiveSite(ctx context.Context, designRef string) (*design.ValidationStatus, *design.EffectiveSite)
}

// Timeouts bounds the phases of the multi-step actions.
type Timeouts struct {
	// Collect bounds the wait for parallel subtasks (default: 5m).
	Collect time.Duration

	// IdentifyNode is the time a node has to appear in the provisioner after
	// a power cycle. It sets the identify attempt budget with the poll
	// interval (default: 10m).
	IdentifyNode time.Duration

	// ConfigureHardware bounds one configure_hardware attempt (default: 30m).
	ConfigureHardware time.Duration

	// ApplyNodeNetworking bounds the apply_node_networking step (default: 5m).
	ApplyNodeNetworking time.Duration

	// ApplyNodeStorage bounds the apply_node_storage step (default: 5m).
	ApplyNodeStorage time.Duration

	// ApplyNodePlatform bounds the apply_node_platform step (default: 5m).
	ApplyNodePlatform time.Duration

	// DeployNode bounds one deploy_node attempt (default: 45m).
	DeployNode time.Duration

	// BootactionFinalStatus is how long nodes have to report their boot
	// actions after deployment (default: 15m).
	BootactionFinalStatus time.Duration

	// RelabelNode bounds the relabel_node step (default: 5m).
	RelabelNode time.Duration
}

// DefaultTimeouts returns the default phase timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Collect:               5 * time.Minute,
		IdentifyNode:          10 * time.Minute,
		ConfigureHardware:     30 * time.Minute,
		ApplyNodeNetworking:   5 * time.Minute,
		ApplyNodeStorage:      5 * time.Minute,
		ApplyNodePlatform:     5 * time.Minute,
		DeployNode:            45 * time.Minute,
		BootactionFinalStatus: 15 * time.Minute,
		RelabelNode:           5 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	fill := func(v *time.Duration, def time.Duration) {
		if *v == 0 {
			*v = def
		}
	}
	fill(&t.Collect, d.Collect)
	fill(&t.IdentifyNode, d.IdentifyNode)
	fill(&t.ConfigureHardware, d.ConfigureHardware)
	fill(&t.ApplyNodeNetworking, d.ApplyNodeNetworking)
	fill(&t.ApplyNodeStorage, d.ApplyNodeStorage)
	fill(&t.ApplyNodePlatform, d.ApplyNodePlatform)
	fill(&t.DeployNode, d.DeployNode)
	fill(&t.BootactionFinalStatus, d.BootactionFinalStatus)
	fill(&t.RelabelNode, d.RelabelNode)
	return t
}

// step returns the deadline of one driver dispatch for a, or 0 when the
// driver bounds itself.
func (t Timeouts) step(a orchestrator.Action) time.Duration {
	switch a {
	case orchestrator.ActionConfigureHardware:
		return t.ConfigureHardware
	case orchestrator.ActionApplyNodeNetworking:
		return t.ApplyNodeNetworking
	case orchestrator.ActionApplyNodeStorage:
		return t.ApplyNodeStorage
	case orchestrator.ActionApplyNodePlatform:
		return t.ApplyNodePlatform
	case orchestrator.ActionDeployNode:
		return t.DeployNode
	case orchestrator.ActionRelabelNode:
		return t.RelabelNode
	default:
		return 0
	}
}

// Config holds configuration for the action Orchestrator.
type Config struct {
	// Tasks manages task state (required).
	Tasks *lifecycle.Manager

	// Sites renders effective site designs (required).
	Sites SiteSource

	// Drivers holds the enabled drivers (default: empty registry).
	// Drivers are usually registered after New, since their factories need
	// the Orchestrator.
	Drivers *driver.Registry

	// Timeouts bounds the action phases. Zero fields take their defaults.
	Timeouts Timeouts

	// PollInterval is how often wait loops recheck state (default: 10s).
	PollInterval time.Duration

	// NoopDelay is how long the noop action runs (default: 5s).
	NoopDelay time.Duration

	// WorkerPoolSize bounds the per node subtasks run concurrently (default: 16).
	WorkerPoolSize int

	// Logger is for observability (optional).
	Logger logr.Logger

	// Collector records metrics (optional).
	Collector *metrics.Collector
}

// Orchestrator is the collaborator actions share: it holds the task
// manager, the design source and the enabled drivers.
type Orchestrator struct {
	config    Config
	tasks     *lifecycle.Manager
	sites     SiteSource
	drivers   *driver.Registry
	logger    logr.Logger
	collector *metrics.Collector
}

var _ driver.Orchestrator = (*Orchestrator)(nil)

// New creates an Orchestrator with the given configuration.
// Applies default values for all duration/int fields if zero.
func New(cfg Config) *Orchestrator {
	if cfg.Drivers == nil {
		cfg.Drivers = driver.NewRegistry()
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.NoopDelay == 0 {
		cfg.NoopDelay = 5 * time.Second
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 16
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}

	return &Orchestrator{
		config:    cfg,
		tasks:     cfg.Tasks,
		sites:     cfg.Sites,
		drivers:   cfg.Drivers,
		logger:    cfg.Logger,
		collector: cfg.Collector,
	}
}

// Tasks implements driver.Orchestrator.
func (o *Orchestrator) Tasks() *lifecycle.Manager { return o.tasks }

// Logger implements driver.Orchestrator.
func (o *Orchestrator) Logger() logr.Logger { return o.logger }

// Drivers returns the registry of enabled drivers.
func (o *Orchestrator) Drivers() *driver.Registry { return o.drivers }

// GetEffectiveSite renders the effective site of designRef.
func (o *Orchestrator) GetEffectiveSite(ctx context.Context, designRef string) (*design.ValidationStatus, *design.EffectiveSite) {
	return o.sites.GetEffectiveSite(ctx, designRef)
}

// ProcessNodeFilter returns the nodes of site selected by nf.
// A malformed filter is reported as orchestrator.ErrOrchestrator.
func (o *Orchestrator) ProcessNodeFilter(nf *nodefilter.FilterSet, site *design.EffectiveSite) ([]*design.BaremetalNode, error) {
	nodes, err := design.ProcessNodeFilter(nf, site)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", orchestrator.ErrOrchestrator, err)
	}
	return nodes, nil
}

// GetTargetNodes implements driver.Orchestrator. The target nodes come from
// the task node filter, or from its result failures or successes when
// requested; those two are mutually exclusive.
func (o *Orchestrator) GetTargetNodes(ctx context.Context, t *orchestrator.Task, failures, successes bool) ([]*design.BaremetalNode, error) {
	status, site := o.GetEffectiveSite(ctx, t.DesignRef)
	if status == nil || site == nil || !status.Succeeded() {
		return nil, fmt.Errorf("%w: Unable to render effective site design.", orchestrator.ErrOrchestrator)
	}
	if failures && successes {
		return nil, fmt.Errorf("%w: Cannot specify both failures and successes.", orchestrator.ErrOrchestrator)
	}

	nf := t.NodeFilter
	switch {
	case failures:
		if len(t.Result.Failures) == 0 {
			return []*design.BaremetalNode{}, nil
		}
		nf = t.NodeFilterFromFailures()
	case successes:
		if len(t.Result.Successes) == 0 {
			return []*design.BaremetalNode{}, nil
		}
		nf = t.NodeFilterFromSuccesses()
	}

	return o.ProcessNodeFilter(nf, site)
}

// CreateBootActionContext implements driver.Orchestrator. It records, for
// every boot action targeting node, an instance the node reports against
// with a fresh identity key. Nodes no boot action targets get no context.
func (o *Orchestrator) CreateBootActionContext(ctx context.Context, node string, t *orchestrator.Task) error {
	status, site := o.GetEffectiveSite(ctx, t.DesignRef)
	if site == nil {
		msg := "no effective site"
		if status != nil && status.Message != "" {
			msg = status.Message
		}
		return fmt.Errorf("%w: cannot create boot action context for %s: %s", orchestrator.ErrOrchestrator, node, msg)
	}

	s := o.tasks.Store()
	var key []byte
	for _, ba := range site.BootActions {
		if !ba.Targets(node) {
			continue
		}

		if key == nil {
			key = make([]byte, identityKeyLength)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("failed to generate identity key: %w", err)
			}
			if err := s.PostBootActionContext(ctx, store.BootActionContext{
				NodeName:    node,
				TaskID:      t.ID,
				IdentityKey: key,
			}); err != nil {
				return fmt.Errorf("failed to save boot action context for %s: %w", node, err)
			}
		}

		initial := orchestrator.ResultUnreported
		if ba.Signaling {
			initial = orchestrator.ResultIncomplete
		}
		rec := store.BootActionRecord{
			ActionID:    uuid.New(),
			ActionName:  ba.Name,
			NodeName:    node,
			TaskID:      t.ID,
			IdentityKey: key,
			Status:      initial,
		}
		if err := s.PostBootAction(ctx, rec); err != nil {
			return fmt.Errorf("failed to save boot action %s for %s: %w", ba.Name, node, err)
		}
		o.logger.V(1).Info("boot action added", "node", node, "bootAction", ba.Name, "status", initial)
	}

	return nil
}

// Supported lists the actions NewAction builds, in the order the leader
// accepts them.
func (o *Orchestrator) Supported() []orchestrator.Action {
	return append([]orchestrator.Action{}, orchestrator.OrchestratorActions...)
}

// ErrUnsupportedAction is returned by NewAction for actions with no
// orchestrator level implementation.
var ErrUnsupportedAction = errors.New("unsupported action")

// NewAction returns the action that executes t.
func (o *Orchestrator) NewAction(t *orchestrator.Task) (Action, error) {
	b := newBase(o, t)
	switch t.Action {
	case orchestrator.ActionNoop:
		return &Noop{b}, nil
	case orchestrator.ActionValidateDesign:
		return &ValidateDesign{b}, nil
	case orchestrator.ActionVerifySite:
		return &VerifySite{b}, nil
	case orchestrator.ActionPrepareSite:
		return &PrepareSite{b}, nil
	case orchestrator.ActionVerifyNodes:
		return &VerifyNodes{b}, nil
	case orchestrator.ActionPrepareNodes:
		return &PrepareNodes{b}, nil
	case orchestrator.ActionDeployNodes:
		return &DeployNodes{b}, nil
	case orchestrator.ActionDestroyNodes:
		return &DestroyNodes{b}, nil
	case orchestrator.ActionRelabelNodes:
		return &RelabelNodes{b}, nil
	case orchestrator.ActionBootactionReport:
		return &BootactionReport{b}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, t.Action)
	}
}
