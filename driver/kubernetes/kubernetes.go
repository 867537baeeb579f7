// Package kubernetes provides the driver that keeps Kubernetes node labels
// in line with the owner data of the design.
package kubernetes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver"
)

// LabelPrefix marks the labels this driver owns.
const LabelPrefix = "metal-orchestrator/"

// ManagedLabel is set on every node the driver has labelled.
const ManagedLabel = LabelPrefix + "managed"

const defaultTimeout = 5 * time.Minute

// Driver relabels Kubernetes nodes named like the baremetal nodes.
type Driver struct {
	client  kubernetes.Interface
	orch    driver.Orchestrator
	logger  logr.Logger
	timeout time.Duration
}

var _ driver.Driver = (*Driver)(nil)

// New is a driver.Factory. Settings: "kubeconfig" (in-cluster configuration
// when empty) and "timeout" (default 5m).
func New(orch driver.Orchestrator, cfg driver.FactoryConfig) (driver.Driver, error) {
	timeout := defaultTimeout
	if v := cfg.Settings["timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid kubernetes timeout %q: %w", v, err)
		}
		timeout = d
	}

	var (
		restCfg *rest.Config
		err     error
	)
	if path := cfg.Settings["kubeconfig"]; path != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", path)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	logger := cfg.Logger
	if logger.GetSink() == nil {
		logger = orch.Logger()
	}

	return NewWithClient(client, orch, logger, timeout), nil
}

// NewWithClient returns a driver using client.
func NewWithClient(client kubernetes.Interface, orch driver.Orchestrator, logger logr.Logger, timeout time.Duration) *Driver {
	return &Driver{
		client:  client,
		orch:    orch,
		logger:  logger.WithName("kubernetes"),
		timeout: timeout,
	}
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "kubernetes" }

// Type implements driver.Driver.
func (d *Driver) Type() driver.Type { return driver.TypeKubernetes }

// SupportedActions implements driver.Driver.
func (d *Driver) SupportedActions() []orchestrator.Action {
	return []orchestrator.Action{orchestrator.ActionRelabelNode}
}

// ExecuteTask implements driver.Driver.
func (d *Driver) ExecuteTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := d.orch.Tasks().Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("invalid task %s: %w", taskID, err)
	}
	if !driver.Supports(d, task.Action) {
		return fmt.Errorf("%w: driver kubernetes does not support task action %s", orchestrator.ErrDriver, task.Action)
	}

	return driver.RunPerNode(ctx, d.orch, task, d.timeout, d.relabel)
}

func (d *Driver) relabel(ctx context.Context, sub *orchestrator.Task, n *design.BaremetalNode) error {
	node, err := d.client.CoreV1().Nodes().Get(ctx, n.Name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get kubernetes node %s: %w", n.Name, err)
	}

	labels := Labels(node.Labels, n.OwnerData)
	node.Labels = labels
	if _, err := d.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update kubernetes node %s: %w", n.Name, err)
	}

	d.logger.Info("node relabelled", "node", n.Name, "labels", len(n.OwnerData))
	msg := fmt.Sprintf("Set labels %v for node %s", n.OwnerData, n.Name)
	return d.orch.Tasks().AddStatusMsg(ctx, sub, msg, false, orchestrator.ContextNode, n.Name)
}

// Labels returns current with the driver owned labels replaced by ownerData.
// Labels under LabelPrefix are driver owned, as are the ownerData keys.
func Labels(current, ownerData map[string]string) map[string]string {
	out := make(map[string]string, len(current)+len(ownerData)+1)
	for k, v := range current {
		if strings.HasPrefix(k, LabelPrefix) {
			continue
		}
		out[k] = v
	}
	for k, v := range ownerData {
		out[k] = v
	}
	out[ManagedLabel] = "true"
	return out
}
