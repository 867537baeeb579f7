package orchestrator

// Action names the operation a task performs.
// Orchestrator actions are dispatched by the leadership loop; the remaining
// actions are executed by drivers as subtasks.
type Action string

// Orchestrator-level actions.
const (
	ActionNoop             Action = "noop"
	ActionValidateDesign   Action = "validate_design"
	ActionVerifySite       Action = "verify_site"
	ActionPrepareSite      Action = "prepare_site"
	ActionVerifyNodes      Action = "verify_nodes"
	ActionPrepareNodes     Action = "prepare_nodes"
	ActionDeployNodes      Action = "deploy_nodes"
	ActionDestroyNodes     Action = "destroy_nodes"
	ActionRelabelNodes     Action = "relabel_nodes"
	ActionBootactionReport Action = "bootaction_report"
)

// Out-of-band driver actions.
const (
	ActionValidateOOBServices Action = "validate_oob_services"
	ActionConfigNodePXE       Action = "config_node_pxe"
	ActionSetNodeBoot         Action = "set_node_boot"
	ActionPowerOffNode        Action = "power_off_node"
	ActionPowerOnNode         Action = "power_on_node"
	ActionPowerCycleNode      Action = "power_cycle_node"
	ActionInterrogateOOB      Action = "interrogate_oob"
)

// Node driver actions.
const (
	ActionValidateNodeServices     Action = "validate_node_services"
	ActionCreateNetworkTemplate    Action = "create_network_template"
	ActionCreateStorageTemplate    Action = "create_storage_template"
	ActionCreateBootMedia          Action = "create_boot_media"
	ActionConfigureUserCredentials Action = "configure_user_credentials"
	ActionPrepareHardwareConfig    Action = "prepare_hardware_config"
	ActionIdentifyNode             Action = "identify_node"
	ActionConfigureHardware        Action = "configure_hardware"
	ActionInterrogateNode          Action = "interrogate_node"
	ActionApplyNodeNetworking      Action = "apply_node_networking"
	ActionApplyNodeStorage         Action = "apply_node_storage"
	ActionApplyNodePlatform        Action = "apply_node_platform"
	ActionDeployNode               Action = "deploy_node"
	ActionDestroyNode              Action = "destroy_node"
)

// Network driver actions.
const (
	ActionValidateNetworkServices Action = "validate_network_services"
	ActionInterrogatePort         Action = "interrogate_port"
	ActionConfigPortProvisioning  Action = "config_port_provisioning"
	ActionConfigPortProduction    Action = "config_port_production"
)

// Kubernetes driver actions.
const (
	ActionRelabelNode Action = "relabel_node"
)

// OrchestratorActions are the actions the leadership loop accepts from the queue.
var OrchestratorActions = []Action{
	ActionNoop,
	ActionValidateDesign,
	ActionVerifySite,
	ActionPrepareSite,
	ActionVerifyNodes,
	ActionPrepareNodes,
	ActionDeployNodes,
	ActionRelabelNodes,
	ActionDestroyNodes,
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusRequested indicates the task was created but not yet queued.
	TaskStatusRequested TaskStatus = "requested"

	// TaskStatusQueued indicates the task is waiting for the leadership loop.
	TaskStatusQueued TaskStatus = "queued"

	// TaskStatusRunning indicates an action or driver is executing the task.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusTerminating indicates termination was requested after the task started.
	// A terminating task rejects new subtasks.
	TaskStatusTerminating TaskStatus = "terminating"

	// TaskStatusTerminated indicates the task stopped due to a termination request.
	TaskStatusTerminated TaskStatus = "terminated"

	// TaskStatusComplete indicates the task finished executing.
	TaskStatusComplete TaskStatus = "complete"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusComplete || s == TaskStatusTerminated
}

// ActionResult is the outcome recorded on a task result or a boot action.
type ActionResult string

const (
	// ResultIncomplete indicates no outcome has been recorded yet.
	ResultIncomplete ActionResult = "incomplete"

	// ResultSuccess indicates every recorded outcome succeeded.
	ResultSuccess ActionResult = "success"

	// ResultPartialSuccess indicates both successes and failures were recorded.
	ResultPartialSuccess ActionResult = "partial_success"

	// ResultFailure indicates every recorded outcome failed.
	ResultFailure ActionResult = "failure"

	// ResultUnreported is used for boot actions that do not signal completion.
	ResultUnreported ActionResult = "unreported"
)

// ModelSource records whether a design entity is as-authored or compiled.
type ModelSource string

const (
	// SourceDesigned marks an entity exactly as it was ingested.
	SourceDesigned ModelSource = "designed"

	// SourceCompiled marks an entity produced by inheritance resolution.
	SourceCompiled ModelSource = "compiled"

	// SourceBuild marks an entity derived from build data reported by a node.
	SourceBuild ModelSource = "build"
)

// Context types used on result messages.
const (
	ContextTask = "task"
	ContextNode = "node"
	ContextSite = "site"
	ContextNA   = "NA"
)
