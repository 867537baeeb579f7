package design

import (
	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/nodefilter"
)

// Bonding modes for a NetworkLink.
const (
	BondingDisabled     = "disabled"
	BondingLACP         = "802.3ad"
	BondingRoundRobin   = "balanced-rr"
	BondingActiveBackup = "active-backup"
)

// Trunking modes for a NetworkLink.
const (
	TrunkingDisabled = "disabled"
	TrunkingDot1q    = "802.1q"
)

// Address types for node addressing.
const (
	AddressStatic = "static"
	AddressDHCP   = "dhcp"
)

// Device selector types attached by hardware alias resolution.
const (
	SelectorAddress = "address"
	SelectorName    = "name"
)

// Site is the region wide settings document.
type Site struct {
	Name           string
	Source         orchestrator.ModelSource
	TagDefinitions []TagDefinition
	AuthorizedKeys []string
}

// TagDefinition assigns a node tag based on discovered hardware data.
type TagDefinition struct {
	Tag        string `yaml:"tag"`
	Type       string `yaml:"definition_type"`
	Definition string `yaml:"definition"`
}

// Network is an L3 network.
type Network struct {
	Name        string
	Source      orchestrator.ModelSource
	CIDR        string
	Allocation  string
	VLAN        string
	MTU         int
	DNSDomain   string
	DNSServers  []string
	RouteDomain string
	Ranges      []NetworkRange
	Routes      []NetworkRoute
	Labels      map[string]string
}

// NetworkRange is an address range carved out of a network.
type NetworkRange struct {
	Type  string `yaml:"type"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// NetworkRoute is a static route. Routes tagged with a route domain supply
// the gateway used to reach the other networks of that domain.
type NetworkRoute struct {
	Subnet      string `yaml:"subnet"`
	Gateway     string `yaml:"gateway"`
	Metric      int    `yaml:"metric"`
	RouteDomain string `yaml:"routedomain"`
}

// NetworkLink is an L2 link between hosts and a switch.
type NetworkLink struct {
	Name             string
	Source           orchestrator.ModelSource
	BondingMode      string
	BondingHash      string
	BondingPeerRate  string
	BondingMonRate   int
	BondingUpDelay   int
	BondingDownDelay int
	MTU              int
	LinkSpeed        string
	TrunkMode        string
	NativeNetwork    string
	AllowedNetworks  []string
	Labels           map[string]string
}

// Rack is a physical rack.
type Rack struct {
	Name          string
	Source        orchestrator.ModelSource
	TorSwitches   []TorSwitch
	Location      map[string]string
	LocalNetworks []string
}

// TorSwitch is a top of rack switch.
type TorSwitch struct {
	Name      string
	MgmtIP    string
	SDNAPIURI string
}

// HardwareProfile describes a server model.
type HardwareProfile struct {
	Name              string
	Source            orchestrator.ModelSource
	Vendor            string
	Generation        string
	HWVersion         string
	BIOSVersion       string
	BootMode          string
	BootstrapProtocol string
	PXEInterface      string
	Devices           []DeviceAlias
	CPUSets           map[string]string
	HugepagesConfs    []HugepagesConf
}

// DeviceAlias maps a friendly device name to a bus address.
type DeviceAlias struct {
	Alias   string
	Address string
	BusType string
	DevType string
}

// HugepagesConf is a named hugepage allocation.
type HugepagesConf struct {
	Name  string
	Size  string
	Count string
}

// DeviceSelector identifies a physical device on a node.
type DeviceSelector struct {
	SelectorType string `json:"selector_type"`
	Address      string `json:"address"`
	DeviceType   string `json:"device_type,omitempty"`
}

// Interface is a host network interface. Its name is the merge key; a
// name starting with "!" removes the parent's interface of that name.
type Interface struct {
	DeviceName     string
	Source         orchestrator.ModelSource
	NetworkLink    Field[string]
	HardwareSlaves []string
	SlaveSelectors []DeviceSelector
	Networks       []string
	SRIOV          bool
	VFCount        int
	TrustedMode    bool
}

// StorageDevice is a physical disk, either partitioned or a volume group member.
type StorageDevice struct {
	Name        string
	Source      orchestrator.ModelSource
	VolumeGroup Field[string]
	Labels      map[string]string
	Partitions  []Partition
	Selector    *DeviceSelector
}

// Partition is a GPT partition.
type Partition struct {
	Name         string
	Source       orchestrator.ModelSource
	Bootable     Field[bool]
	VolumeGroup  Field[string]
	PartUUID     Field[string]
	Size         Field[string]
	Mountpoint   Field[string]
	FSType       Field[string]
	MountOptions Field[string]
	FSUUID       Field[string]
	FSLabel      Field[string]
}

// VolumeGroup is an LVM volume group.
type VolumeGroup struct {
	Name           string
	Source         orchestrator.ModelSource
	VGUUID         Field[string]
	LogicalVolumes []LogicalVolume
}

// LogicalVolume is an LVM logical volume.
type LogicalVolume struct {
	Name         string
	Source       orchestrator.ModelSource
	LVUUID       Field[string]
	Size         Field[string]
	Mountpoint   Field[string]
	FSType       Field[string]
	MountOptions Field[string]
	FSUUID       Field[string]
	FSLabel      Field[string]
}

// HostProfile is an inheritable host template. A profile names at most one
// parent; the chain must be finite and acyclic.
type HostProfile struct {
	Name          string
	Source        orchestrator.ModelSource
	ParentProfile string

	HardwareProfile  Field[string]
	OOBType          Field[string]
	StorageLayout    Field[string]
	BootdiskDevice   Field[string]
	BootdiskRootSize Field[string]
	BootdiskBootSize Field[string]
	Rack             Field[string]
	BaseOS           Field[string]
	Image            Field[string]
	Kernel           Field[string]
	PrimaryNetwork   Field[string]
	MTU              Field[int]

	OOBParameters map[string]string
	OwnerData     map[string]string
	KernelParams  map[string]string
	Tags          []string

	Interfaces     []Interface
	StorageDevices []StorageDevice
	VolumeGroups   []VolumeGroup
}

// HasTag reports whether tag is assigned.
func (p *HostProfile) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Interface returns the interface named name.
func (p *HostProfile) Interface(name string) (*Interface, bool) {
	for i := range p.Interfaces {
		if p.Interfaces[i].DeviceName == name {
			return &p.Interfaces[i], true
		}
	}
	return nil, false
}

// Address is an IP assignment on a node.
type Address struct {
	Type    string
	Address string
	Network string
}

// BaremetalNode is a physical instance of a host profile.
type BaremetalNode struct {
	HostProfile
	Addressing []Address
	BootMAC    string
}

// GetName implements nodefilter.Node.
func (n *BaremetalNode) GetName() string { return n.Name }

// GetTags implements nodefilter.Node.
func (n *BaremetalNode) GetTags() []string { return n.Tags }

// GetRack implements nodefilter.Node.
func (n *BaremetalNode) GetRack() string { return n.Rack.Value() }

// GetLabels implements nodefilter.Node. Node labels are the owner data.
func (n *BaremetalNode) GetLabels() map[string]string { return n.OwnerData }

// NetworkAddress returns the address assigned on network.
func (n *BaremetalNode) NetworkAddress(network string) (string, bool) {
	for _, a := range n.Addressing {
		if a.Network == network {
			return a.Address, true
		}
	}
	return "", false
}

// BootAction is a post deployment action delivered to the nodes its filter selects.
type BootAction struct {
	Name       string
	Source     orchestrator.ModelSource
	Signaling  bool
	NodeFilter *nodefilter.FilterSet

	// TargetNodes is computed for the effective site.
	TargetNodes []string
}

// Targets reports whether node is in scope for the boot action.
func (b *BootAction) Targets(node string) bool {
	for _, n := range b.TargetNodes {
		if n == node {
			return true
		}
	}
	return false
}

// Graph is the as-authored design. It is never mutated after ingestion.
type Graph struct {
	Site             *Site
	Networks         []*Network
	NetworkLinks     []*NetworkLink
	Racks            []*Rack
	HardwareProfiles []*HardwareProfile
	HostProfiles     []*HostProfile
	BaremetalNodes   []*BaremetalNode
	BootActions      []*BootAction
}

// Network returns the network named name.
func (g *Graph) Network(name string) (*Network, bool) {
	for _, n := range g.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// NetworkLink returns the link named name.
func (g *Graph) NetworkLink(name string) (*NetworkLink, bool) {
	for _, l := range g.NetworkLinks {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// Rack returns the rack named name.
func (g *Graph) Rack(name string) (*Rack, bool) {
	for _, r := range g.Racks {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// HardwareProfile returns the hardware profile named name.
func (g *Graph) HardwareProfile(name string) (*HardwareProfile, bool) {
	for _, h := range g.HardwareProfiles {
		if h.Name == name {
			return h, true
		}
	}
	return nil, false
}

// HostProfile returns the host profile named name.
func (g *Graph) HostProfile(name string) (*HostProfile, bool) {
	for _, p := range g.HostProfiles {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Node returns the baremetal node named name.
func (g *Graph) Node(name string) (*BaremetalNode, bool) {
	for _, n := range g.BaremetalNodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// BootAction returns the boot action named name.
func (g *Graph) BootAction(name string) (*BootAction, bool) {
	for _, b := range g.BootActions {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// EffectiveSite is the compiled design. Its entities are copies distinct
// from the Graph it was compiled from.
type EffectiveSite struct {
	Graph
}
