package design

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/nodefilter"
)

// Document kinds accepted by ParseDocuments.
const (
	KindRegion          = "Region"
	KindNetwork         = "Network"
	KindNetworkLink     = "NetworkLink"
	KindRack            = "Rack"
	KindHardwareProfile = "HardwareProfile"
	KindHostProfile     = "HostProfile"
	KindBaremetalNode   = "BaremetalNode"
	KindBootAction      = "BootAction"
)

// ErrDocument indicates a design document could not be decoded.
var ErrDocument = errors.New("invalid design document")

type document struct {
	Kind     string `yaml:"kind"`
	Metadata struct {
		Name   string `yaml:"name"`
		Region string `yaml:"region"`
	} `yaml:"metadata"`
	Spec yaml.Node `yaml:"spec"`
}

// ParseDocuments decodes a multi-document YAML stream into a design graph.
// Each document has a kind, a metadata.name and a spec.
func ParseDocuments(data []byte) (*Graph, error) {
	g := &Graph{}
	dec := yaml.NewDecoder(bytes.NewReader(data))

	for i := 0; ; i++ {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrDocument, i, err)
		}
		if doc.Kind == "" && doc.Metadata.Name == "" {
			continue
		}
		if doc.Metadata.Name == "" {
			return nil, fmt.Errorf("%w: document %d (%s) has no metadata.name", ErrDocument, i, doc.Kind)
		}
		if err := g.add(&doc); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrDocument, doc.Kind, doc.Metadata.Name, err)
		}
	}

	return g, nil
}

func (g *Graph) add(doc *document) error {
	name := doc.Metadata.Name

	switch doc.Kind {
	case KindRegion:
		if g.Site != nil {
			return fmt.Errorf("duplicate region, already have %s", g.Site.Name)
		}
		var spec regionSpec
		if err := decodeSpec(doc, &spec); err != nil {
			return err
		}
		g.Site = spec.model(name)

	case KindNetwork:
		if _, ok := g.Network(name); ok {
			return errors.New("duplicate name")
		}
		var spec networkSpec
		if err := decodeSpec(doc, &spec); err != nil {
			return err
		}
		g.Networks = append(g.Networks, spec.model(name))

	case KindNetworkLink:
		if _, ok := g.NetworkLink(name); ok {
			return errors.New("duplicate name")
		}
		var spec networkLinkSpec
		if err := decodeSpec(doc, &spec); err != nil {
			return err
		}
		g.NetworkLinks = append(g.NetworkLinks, spec.model(name))

	case KindRack:
		if _, ok := g.Rack(name); ok {
			return errors.New("duplicate name")
		}
		var spec rackSpec
		if err := decodeSpec(doc, &spec); err != nil {
			return err
		}
		g.Racks = append(g.Racks, spec.model(name))

	case KindHardwareProfile:
		if _, ok := g.HardwareProfile(name); ok {
			return errors.New("duplicate name")
		}
		var spec hardwareProfileSpec
		if err := decodeSpec(doc, &spec); err != nil {
			return err
		}
		g.HardwareProfiles = append(g.HardwareProfiles, spec.model(name))

	case KindHostProfile:
		if _, ok := g.HostProfile(name); ok {
			return errors.New("duplicate name")
		}
		var spec hostSpec
		if err := decodeSpec(doc, &spec); err != nil {
			return err
		}
		hp := spec.profile(name)
		g.HostProfiles = append(g.HostProfiles, &hp)

	case KindBaremetalNode:
		if _, ok := g.Node(name); ok {
			return errors.New("duplicate name")
		}
		var spec hostSpec
		if err := decodeSpec(doc, &spec); err != nil {
			return err
		}
		n, err := spec.node(name)
		if err != nil {
			return err
		}
		g.BaremetalNodes = append(g.BaremetalNodes, n)

	case KindBootAction:
		if _, ok := g.BootAction(name); ok {
			return errors.New("duplicate name")
		}
		var spec bootActionSpec
		if err := decodeSpec(doc, &spec); err != nil {
			return err
		}
		ba, err := spec.model(name)
		if err != nil {
			return err
		}
		g.BootActions = append(g.BootActions, ba)

	default:
		return fmt.Errorf("unsupported document kind %q", doc.Kind)
	}

	return nil
}

func decodeSpec(doc *document, out any) error {
	if doc.Spec.Kind == 0 {
		return nil
	}
	return doc.Spec.Decode(out)
}

type regionSpec struct {
	TagDefinitions []TagDefinition `yaml:"tag_definitions"`
	AuthorizedKeys []string        `yaml:"authorized_keys"`
}

func (s regionSpec) model(name string) *Site {
	return &Site{
		Name:           name,
		Source:         orchestrator.SourceDesigned,
		TagDefinitions: s.TagDefinitions,
		AuthorizedKeys: s.AuthorizedKeys,
	}
}

type networkSpec struct {
	CIDR       string `yaml:"cidr"`
	Allocation string `yaml:"allocation"`
	VLAN       string `yaml:"vlan"`
	MTU        int    `yaml:"mtu"`
	DNS        struct {
		Domain  string   `yaml:"domain"`
		Servers []string `yaml:"servers"`
	} `yaml:"dns"`
	RouteDomain string            `yaml:"routedomain"`
	Ranges      []NetworkRange    `yaml:"ranges"`
	Routes      []NetworkRoute    `yaml:"routes"`
	Labels      map[string]string `yaml:"labels"`
}

func (s networkSpec) model(name string) *Network {
	n := &Network{
		Name:        name,
		Source:      orchestrator.SourceDesigned,
		CIDR:        s.CIDR,
		Allocation:  s.Allocation,
		VLAN:        s.VLAN,
		MTU:         s.MTU,
		DNSDomain:   s.DNS.Domain,
		DNSServers:  s.DNS.Servers,
		RouteDomain: s.RouteDomain,
		Ranges:      s.Ranges,
		Routes:      s.Routes,
		Labels:      s.Labels,
	}
	if n.Allocation == "" {
		n.Allocation = AddressStatic
	}
	if n.DNSDomain == "" {
		n.DNSDomain = "local"
	}
	return n
}

type networkLinkSpec struct {
	Bonding struct {
		Mode      string `yaml:"mode"`
		Hash      string `yaml:"hash"`
		PeerRate  string `yaml:"peer_rate"`
		MonRate   *int   `yaml:"mon_rate"`
		UpDelay   *int   `yaml:"up_delay"`
		DownDelay *int   `yaml:"down_delay"`
	} `yaml:"bonding"`
	MTU       int    `yaml:"mtu"`
	LinkSpeed string `yaml:"linkspeed"`
	Trunking  struct {
		Mode           string `yaml:"mode"`
		DefaultNetwork string `yaml:"default_network"`
	} `yaml:"trunking"`
	AllowedNetworks []string          `yaml:"allowed_networks"`
	Labels          map[string]string `yaml:"labels"`
}

func (s networkLinkSpec) model(name string) *NetworkLink {
	l := &NetworkLink{
		Name:            name,
		Source:          orchestrator.SourceDesigned,
		BondingMode:     s.Bonding.Mode,
		MTU:             s.MTU,
		LinkSpeed:       s.LinkSpeed,
		TrunkMode:       s.Trunking.Mode,
		NativeNetwork:   s.Trunking.DefaultNetwork,
		AllowedNetworks: s.AllowedNetworks,
		Labels:          s.Labels,
	}
	if l.BondingMode == "" {
		l.BondingMode = BondingDisabled
	}
	if l.TrunkMode == "" {
		l.TrunkMode = TrunkingDisabled
	}
	if l.AllowedNetworks == nil {
		l.AllowedNetworks = []string{}
	}

	switch l.BondingMode {
	case BondingLACP, BondingRoundRobin, BondingActiveBackup:
		l.BondingMonRate = intOr(s.Bonding.MonRate, 100)
		l.BondingUpDelay = intOr(s.Bonding.UpDelay, 200)
		l.BondingDownDelay = intOr(s.Bonding.DownDelay, 200)
		if l.BondingMode == BondingLACP {
			l.BondingHash = stringOr(s.Bonding.Hash, "layer3+4")
			l.BondingPeerRate = stringOr(s.Bonding.PeerRate, "fast")
		} else {
			l.BondingHash = s.Bonding.Hash
			l.BondingPeerRate = s.Bonding.PeerRate
		}
	default:
		l.BondingHash = s.Bonding.Hash
		l.BondingPeerRate = s.Bonding.PeerRate
		l.BondingMonRate = intOr(s.Bonding.MonRate, 0)
		l.BondingUpDelay = intOr(s.Bonding.UpDelay, 0)
		l.BondingDownDelay = intOr(s.Bonding.DownDelay, 0)
	}

	return l
}

type rackSpec struct {
	TorSwitches map[string]struct {
		MgmtIP    string `yaml:"mgmt_ip"`
		SDNAPIURL string `yaml:"sdn_api_url"`
	} `yaml:"tor_switches"`
	Location      map[string]string `yaml:"location"`
	LocalNetworks []string          `yaml:"local_networks"`
}

func (s rackSpec) model(name string) *Rack {
	r := &Rack{
		Name:          name,
		Source:        orchestrator.SourceDesigned,
		Location:      s.Location,
		LocalNetworks: s.LocalNetworks,
	}
	for _, k := range keysOf(s.TorSwitches) {
		t := s.TorSwitches[k]
		r.TorSwitches = append(r.TorSwitches, TorSwitch{Name: k, MgmtIP: t.MgmtIP, SDNAPIURI: t.SDNAPIURL})
	}
	return r
}

type hardwareProfileSpec struct {
	Vendor            string `yaml:"vendor"`
	Generation        string `yaml:"generation"`
	HWVersion         string `yaml:"hw_version"`
	BIOSVersion       string `yaml:"bios_version"`
	BootMode          string `yaml:"boot_mode"`
	BootstrapProtocol string `yaml:"bootstrap_protocol"`
	PXEInterface      string `yaml:"pxe_interface"`
	DeviceAliases     map[string]struct {
		Address string `yaml:"address"`
		BusType string `yaml:"bus_type"`
		DevType string `yaml:"dev_type"`
	} `yaml:"device_aliases"`
	CPUSets   map[string]string `yaml:"cpu_sets"`
	Hugepages map[string]struct {
		Size  string `yaml:"size"`
		Count string `yaml:"count"`
	} `yaml:"hugepages"`
}

func (s hardwareProfileSpec) model(name string) *HardwareProfile {
	h := &HardwareProfile{
		Name:              name,
		Source:            orchestrator.SourceDesigned,
		Vendor:            s.Vendor,
		Generation:        s.Generation,
		HWVersion:         s.HWVersion,
		BIOSVersion:       s.BIOSVersion,
		BootMode:          s.BootMode,
		BootstrapProtocol: s.BootstrapProtocol,
		PXEInterface:      s.PXEInterface,
		CPUSets:           s.CPUSets,
	}
	if h.CPUSets == nil {
		h.CPUSets = map[string]string{}
	}
	for _, alias := range keysOf(s.DeviceAliases) {
		d := s.DeviceAliases[alias]
		h.Devices = append(h.Devices, DeviceAlias{Alias: alias, Address: d.Address, BusType: d.BusType, DevType: d.DevType})
	}
	for _, conf := range keysOf(s.Hugepages) {
		hp := s.Hugepages[conf]
		h.HugepagesConfs = append(h.HugepagesConfs, HugepagesConf{Name: conf, Size: hp.Size, Count: hp.Count})
	}
	return h
}

// hostSpec is the spec shared by HostProfile and BaremetalNode documents.
type hostSpec struct {
	HostProfile     string                    `yaml:"host_profile"`
	HardwareProfile Field[string]             `yaml:"hardware_profile"`
	OOB             map[string]any            `yaml:"oob"`
	Storage         storageSpec               `yaml:"storage"`
	Interfaces      map[string]*interfaceSpec `yaml:"interfaces"`
	Platform        struct {
		Image        Field[string]  `yaml:"image"`
		Kernel       Field[string]  `yaml:"kernel"`
		BaseOS       Field[string]  `yaml:"base_os"`
		KernelParams map[string]any `yaml:"kernel_params"`
	} `yaml:"platform"`
	PrimaryNetwork Field[string] `yaml:"primary_network"`
	MTU            Field[int]    `yaml:"mtu"`
	Metadata       struct {
		Tags      []string          `yaml:"tags"`
		OwnerData map[string]string `yaml:"owner_data"`
		Rack      Field[string]     `yaml:"rack"`
		BootMAC   string            `yaml:"boot_mac"`
	} `yaml:"metadata"`
	Addressing []struct {
		Address string `yaml:"address"`
		Network string `yaml:"network"`
	} `yaml:"addressing"`
}

type storageSpec struct {
	Layout   Field[string] `yaml:"layout"`
	Bootdisk struct {
		Device   Field[string] `yaml:"device"`
		RootSize Field[string] `yaml:"root_size"`
		BootSize Field[string] `yaml:"boot_size"`
	} `yaml:"bootdisk"`
	PhysicalDevices map[string]*deviceSpec      `yaml:"physical_devices"`
	VolumeGroups    map[string]*volumeGroupSpec `yaml:"volume_groups"`
}

type interfaceSpec struct {
	DeviceLink Field[string] `yaml:"device_link"`
	Slaves     []string      `yaml:"slaves"`
	Networks   []string      `yaml:"networks"`
	SRIOV      *struct {
		VFCount     int  `yaml:"vf_count"`
		TrustedMode bool `yaml:"trustedmode"`
	} `yaml:"sriov"`
}

type deviceSpec struct {
	Labels      map[string]string `yaml:"labels"`
	VolumeGroup Field[string]     `yaml:"volume_group"`
	Partitions  []partitionSpec   `yaml:"partitions"`
}

type partitionSpec struct {
	Name        string          `yaml:"name"`
	Size        Field[string]   `yaml:"size"`
	PartUUID    Field[string]   `yaml:"part_uuid"`
	Bootable    Field[bool]     `yaml:"bootable"`
	VolumeGroup Field[string]   `yaml:"volume_group"`
	Filesystem  *filesystemSpec `yaml:"filesystem"`
}

type volumeGroupSpec struct {
	VGUUID         Field[string] `yaml:"vg_uuid"`
	LogicalVolumes []struct {
		Name       string          `yaml:"name"`
		Size       Field[string]   `yaml:"size"`
		LVUUID     Field[string]   `yaml:"lv_uuid"`
		Filesystem *filesystemSpec `yaml:"filesystem"`
	} `yaml:"logical_volumes"`
}

type filesystemSpec struct {
	Mountpoint   Field[string] `yaml:"mountpoint"`
	FSType       Field[string] `yaml:"fstype"`
	MountOptions Field[string] `yaml:"mount_options"`
	FSUUID       Field[string] `yaml:"fs_uuid"`
	FSLabel      Field[string] `yaml:"fs_label"`
}

// withDefaults fills the filesystem type and mount options left out of a document.
func (f filesystemSpec) withDefaults() filesystemSpec {
	if f.FSType.Directive() == Inherit {
		f.FSType = Set("ext4")
	}
	if f.MountOptions.Directive() == Inherit {
		f.MountOptions = Set("defaults")
	}
	return f
}

func (s hostSpec) profile(name string) HostProfile {
	p := HostProfile{
		Name:             name,
		Source:           orchestrator.SourceDesigned,
		ParentProfile:    s.HostProfile,
		HardwareProfile:  s.HardwareProfile,
		StorageLayout:    s.Storage.Layout,
		BootdiskDevice:   s.Storage.Bootdisk.Device,
		BootdiskRootSize: s.Storage.Bootdisk.RootSize,
		BootdiskBootSize: s.Storage.Bootdisk.BootSize,
		Rack:             s.Metadata.Rack,
		BaseOS:           s.Platform.BaseOS,
		Image:            s.Platform.Image,
		Kernel:           s.Platform.Kernel,
		PrimaryNetwork:   s.PrimaryNetwork,
		MTU:              s.MTU,
		OOBParameters:    map[string]string{},
		OwnerData:        map[string]string{},
		KernelParams:     map[string]string{},
		Tags:             s.Metadata.Tags,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}

	for k, v := range s.OOB {
		if k == "type" {
			if str := scalarString(v); str == Tombstone {
				p.OOBType = Cleared[string]()
			} else {
				p.OOBType = Set(str)
			}
			continue
		}
		p.OOBParameters[k] = scalarString(v)
	}
	for k, v := range s.Metadata.OwnerData {
		p.OwnerData[k] = v
	}
	for k, v := range s.Platform.KernelParams {
		p.KernelParams[k] = scalarString(v)
	}

	if s.Interfaces != nil {
		p.Interfaces = []Interface{}
		for _, k := range keysOf(s.Interfaces) {
			v := s.Interfaces[k]
			if v == nil {
				// A null interface removes the parent's interface of that name.
				p.Interfaces = append(p.Interfaces, Interface{DeviceName: Tombstone + k, Source: orchestrator.SourceDesigned})
				continue
			}
			iface := Interface{
				DeviceName:     k,
				Source:         orchestrator.SourceDesigned,
				NetworkLink:    v.DeviceLink,
				HardwareSlaves: append([]string{}, v.Slaves...),
				Networks:       append([]string{}, v.Networks...),
			}
			if v.SRIOV != nil {
				iface.SRIOV = true
				iface.VFCount = v.SRIOV.VFCount
				iface.TrustedMode = v.SRIOV.TrustedMode
			}
			p.Interfaces = append(p.Interfaces, iface)
		}
	}

	if s.Storage.PhysicalDevices != nil {
		p.StorageDevices = []StorageDevice{}
		for _, k := range keysOf(s.Storage.PhysicalDevices) {
			v := s.Storage.PhysicalDevices[k]
			if v == nil {
				p.StorageDevices = append(p.StorageDevices, StorageDevice{Name: Tombstone + k, Source: orchestrator.SourceDesigned})
				continue
			}
			p.StorageDevices = append(p.StorageDevices, v.model(k))
		}
	}

	if s.Storage.VolumeGroups != nil {
		p.VolumeGroups = []VolumeGroup{}
		for _, k := range keysOf(s.Storage.VolumeGroups) {
			v := s.Storage.VolumeGroups[k]
			if v == nil {
				p.VolumeGroups = append(p.VolumeGroups, VolumeGroup{Name: Tombstone + k, Source: orchestrator.SourceDesigned})
				continue
			}
			p.VolumeGroups = append(p.VolumeGroups, v.model(k))
		}
	}

	return p
}

func (s hostSpec) node(name string) (*BaremetalNode, error) {
	n := &BaremetalNode{
		HostProfile: s.profile(name),
		BootMAC:     s.Metadata.BootMAC,
	}

	for _, a := range s.Addressing {
		switch a.Address {
		case "":
			return nil, fmt.Errorf("invalid address assignment on network %s", a.Network)
		case AddressDHCP:
			n.Addressing = append(n.Addressing, Address{Type: AddressDHCP, Network: a.Network})
		default:
			n.Addressing = append(n.Addressing, Address{Type: AddressStatic, Address: a.Address, Network: a.Network})
		}
	}
	if len(n.Addressing) == 0 {
		return nil, errors.New("baremetal node needs at least 1 assigned address")
	}

	return n, nil
}

func (d *deviceSpec) model(name string) StorageDevice {
	sd := StorageDevice{
		Name:        name,
		Source:      orchestrator.SourceDesigned,
		VolumeGroup: d.VolumeGroup,
		Labels:      d.Labels,
	}
	if d.Partitions == nil {
		return sd
	}

	sd.Partitions = []Partition{}
	for _, pp := range d.Partitions {
		part := Partition{
			Name:        pp.Name,
			Source:      orchestrator.SourceDesigned,
			Size:        pp.Size,
			PartUUID:    pp.PartUUID,
			Bootable:    pp.Bootable,
			VolumeGroup: pp.VolumeGroup,
		}
		if pp.Filesystem != nil && !pp.VolumeGroup.IsSet() {
			fs := pp.Filesystem.withDefaults()
			part.Mountpoint = fs.Mountpoint
			part.FSType = fs.FSType
			part.MountOptions = fs.MountOptions
			part.FSUUID = fs.FSUUID
			part.FSLabel = fs.FSLabel
		}
		sd.Partitions = append(sd.Partitions, part)
	}
	return sd
}

func (v *volumeGroupSpec) model(name string) VolumeGroup {
	vg := VolumeGroup{
		Name:           name,
		Source:         orchestrator.SourceDesigned,
		VGUUID:         v.VGUUID,
		LogicalVolumes: []LogicalVolume{},
	}
	for _, l := range v.LogicalVolumes {
		lv := LogicalVolume{
			Name:   l.Name,
			Source: orchestrator.SourceDesigned,
			Size:   l.Size,
			LVUUID: l.LVUUID,
		}
		if l.Filesystem != nil {
			fs := l.Filesystem.withDefaults()
			lv.Mountpoint = fs.Mountpoint
			lv.FSType = fs.FSType
			lv.MountOptions = fs.MountOptions
			lv.FSUUID = fs.FSUUID
			lv.FSLabel = fs.FSLabel
		}
		vg.LogicalVolumes = append(vg.LogicalVolumes, lv)
	}
	return vg
}

type bootActionSpec struct {
	Signaling  *bool `yaml:"signaling"`
	NodeFilter any   `yaml:"node_filter"`
}

func (s bootActionSpec) model(name string) (*BootAction, error) {
	nf, err := nodefilter.Parse(s.NodeFilter)
	if err != nil {
		return nil, err
	}
	signaling := true
	if s.Signaling != nil {
		signaling = *s.Signaling
	}
	return &BootAction{
		Name:        name,
		Source:      orchestrator.SourceDesigned,
		Signaling:   signaling,
		NodeFilter:  nf,
		TargetNodes: []string{},
	}, nil
}

// scalarString renders a decoded YAML scalar. Booleans render as
// "True"/"False" so that kernel flags keep their documented spelling.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
