// Package drivertest provides an in-memory driver.Orchestrator for driver tests.
package drivertest

import (
	"context"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/nodefilter"
	"github.com/getpup/metal-orchestrator/store/memory"
)

// Orchestrator serves a fixed node list over a memory store.
type Orchestrator struct {
	Store   *memory.Store
	Manager *lifecycle.Manager
	Nodes   []*design.BaremetalNode

	// TargetErr, when set, is returned by GetTargetNodes.
	TargetErr error

	mu           sync.Mutex
	bootContexts []string
}

var _ driver.Orchestrator = (*Orchestrator)(nil)

// New returns an Orchestrator targeting nodes.
func New(nodes ...*design.BaremetalNode) *Orchestrator {
	s := memory.New()
	return &Orchestrator{
		Store:   s,
		Manager: lifecycle.New(lifecycle.Config{Store: s}),
		Nodes:   nodes,
	}
}

// Node returns a compiled node with the given oob type and parameters.
func Node(name, oobType string, oobParams map[string]string) *design.BaremetalNode {
	n := &design.BaremetalNode{}
	n.Name = name
	n.Source = orchestrator.SourceCompiled
	n.OOBType = design.Set(oobType)
	n.OOBParameters = oobParams
	n.OwnerData = map[string]string{}
	return n
}

// Tasks implements driver.Orchestrator.
func (o *Orchestrator) Tasks() *lifecycle.Manager { return o.Manager }

// Logger implements driver.Orchestrator.
func (o *Orchestrator) Logger() logr.Logger { return logr.Discard() }

// GetTargetNodes implements driver.Orchestrator.
func (o *Orchestrator) GetTargetNodes(_ context.Context, t *orchestrator.Task, failures, successes bool) ([]*design.BaremetalNode, error) {
	if o.TargetErr != nil {
		return nil, o.TargetErr
	}

	nodes, err := nodefilter.Evaluate(t.NodeFilter, o.Nodes)
	if err != nil {
		return nil, err
	}

	var keep []string
	switch {
	case failures:
		keep = t.Result.Failures
	case successes:
		keep = t.Result.Successes
	default:
		return nodes, nil
	}

	out := []*design.BaremetalNode{}
	for _, n := range nodes {
		for _, k := range keep {
			if n.Name == k {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

// CreateBootActionContext implements driver.Orchestrator by recording node.
func (o *Orchestrator) CreateBootActionContext(_ context.Context, node string, _ *orchestrator.Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bootContexts = append(o.bootContexts, node)
	return nil
}

// BootContexts returns the nodes CreateBootActionContext was called for.
func (o *Orchestrator) BootContexts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string{}, o.bootContexts...)
}

// CreateTask persists a Requested task for action targeting the named nodes.
// No names targets every node.
func (o *Orchestrator) CreateTask(t *testing.T, action orchestrator.Action, names ...string) *orchestrator.Task {
	t.Helper()

	var nf *nodefilter.FilterSet
	if len(names) > 0 {
		nf = nodefilter.FromNodeNames(names)
	}
	task, err := o.Manager.CreateTask(context.Background(), action, "file:///site.yaml", nf,
		lifecycle.WithStatus(orchestrator.TaskStatusRequested))
	require.NoError(t, err)
	return task
}

// Reload returns the persisted state of task.
func (o *Orchestrator) Reload(t *testing.T, task *orchestrator.Task) *orchestrator.Task {
	t.Helper()

	got, err := o.Store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	return got
}
