package design

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/getpup/metal-orchestrator/nodefilter"
)

const (
	minRootSize = 20 * humanize.GByte
	minBootSize = 1 * humanize.GByte

	minMTU = 1280
	maxMTU = 65536
)

func builtinRules() []rule {
	return []rule{
		{name: "DD1001", longName: "Boot Storage Rational", run: bootStorageRational},
		{name: "DD1006", longName: "Network Bond Rationality", run: networkBondRationality},
		{name: "DD1007", longName: "Allowed Network Check", run: allowedNetworkCheck},
		{name: "DD1008", longName: "Hugepages", run: hugepagesCheck},
		{name: "DD2002", longName: "IP Locality Check", run: ipLocalityCheck},
		{name: "DD2002", longName: "Storage Partitioning", run: storagePartitioning},
		{name: "DD2003", longName: "MTU Rationality", run: mtuRationality},
		{name: "DD2004", longName: "Network Trunking Rationality", run: networkTrunkingRationality},
		{name: "DD2004", longName: "Storage Mountpoint", run: storageMountpoint},
		{name: "DD2005", longName: "Duplicated IP Check", run: duplicatedIPCheck},
		{name: "DD3001", longName: "Platform Selection", run: platformSelection},
		{name: "DD3003", longName: "Hostname Validity", run: hostnameValidity},
		{name: "DD4001", longName: "Bootaction Definition", run: bootactionDefinition},
		{name: "DD4003", longName: "Bootaction Node Filter", run: bootactionNodeFilter},
	}
}

// parseSize parses a storage size such as "30GB" or ">100g". A leading ">"
// marks a minimum size and is ignored.
func parseSize(size string) (uint64, error) {
	return humanize.ParseBytes(strings.TrimPrefix(strings.TrimSpace(size), ">"))
}

func bootStorageRational(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, n := range site.BaremetalNodes {
		rootSet := false
		for _, dev := range n.StorageDevices {
			for _, p := range dev.Partitions {
				switch p.Name {
				case "root":
					size, err := parseSize(p.Size.Value())
					if err != nil {
						r.error(fmt.Sprintf("Root volume has an invalid size format on BaremetalNode %s.", n.Name),
							nodeRef(n), "Use a valid root volume storage specification.")
						continue
					}
					rootSet = true
					if size < minRootSize {
						r.error(fmt.Sprintf("Root volume must be > 20GB on BaremetalNode %s", n.Name),
							nodeRef(n), "Configure a larger root volume")
					}
				case "boot":
					size, err := parseSize(p.Size.Value())
					if err != nil {
						r.error(fmt.Sprintf("Boot volume has an invalid size format on BaremetalNode %s.", n.Name),
							nodeRef(n), "Use a valid boot volume storage specification.")
						continue
					}
					if size < minBootSize {
						r.error(fmt.Sprintf("Boot volume must be > 1GB on BaremetalNode %s", n.Name),
							nodeRef(n), "Configure a larger boot volume.")
					}
				}
			}
		}
		if !rootSet {
			r.error(fmt.Sprintf("Root volume has to be set and must be > 20GB on BaremetalNode %s", n.Name),
				nodeRef(n), "All nodes require a defined root volume at least 20GB in size.")
		}
	}
}

func networkBondRationality(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, l := range site.NetworkLinks {
		switch l.BondingMode {
		case BondingDisabled, "":
			if l.BondingHash != "" || l.BondingPeerRate != "" || l.BondingMonRate != 0 ||
				l.BondingUpDelay != 0 || l.BondingDownDelay != 0 {
				r.error(fmt.Sprintf("Network Link %s has bonding mode disabled but bonding options are set.", l.Name),
					linkRef(l), "Remove the bonding options or enable bonding.")
			}
		case BondingLACP:
			if l.BondingUpDelay < l.BondingMonRate {
				r.error(fmt.Sprintf("Network Link %s has an up delay less than the mon rate.", l.Name),
					linkRef(l), "Set the up delay to at least the mon rate.")
			}
			if l.BondingDownDelay < l.BondingMonRate {
				r.error(fmt.Sprintf("Network Link %s has a down delay less than the mon rate.", l.Name),
					linkRef(l), "Set the down delay to at least the mon rate.")
			}
		case BondingActiveBackup, BondingRoundRobin:
			if l.BondingHash != "" || l.BondingPeerRate != "" {
				r.error(fmt.Sprintf("Network Link %s has bonding mode %s but sets a hash or peer rate.", l.Name, l.BondingMode),
					linkRef(l), "Hash and peer rate are only valid for 802.3ad.")
			}
		default:
			r.error(fmt.Sprintf("Network Link %s has unknown bonding mode %s.", l.Name, l.BondingMode),
				linkRef(l), "Use one of disabled, 802.3ad, balanced-rr or active-backup.")
		}
	}
}

func allowedNetworkCheck(site *EffectiveSite, _ PlatformCatalog, r *report) {
	owner := make(map[string]string)
	for _, l := range site.NetworkLinks {
		for _, net := range l.AllowedNetworks {
			if prev, ok := owner[net]; ok {
				r.error(fmt.Sprintf("Network %s is allowed on link %s and link %s.", net, prev, l.Name),
					linkRef(l), "A network can be allowed on only one link.")
				continue
			}
			owner[net] = l.Name
		}
	}

	for _, n := range site.BaremetalNodes {
		for _, iface := range n.Interfaces {
			linkName := iface.NetworkLink.Value()
			link, ok := site.NetworkLink(linkName)
			if !ok {
				r.error(fmt.Sprintf("Interface %s on node %s references undefined network link %s.", iface.DeviceName, n.Name, linkName),
					nodeRef(n), "Define the network link or fix the reference.")
				continue
			}
			for _, net := range iface.Networks {
				if !containsName(link.AllowedNetworks, net) {
					r.error(fmt.Sprintf("Interface %s on node %s attaches network %s not allowed on link %s.", iface.DeviceName, n.Name, net, link.Name),
						nodeRef(n), "Add the network to the link's allowed networks.")
				}
			}
		}
	}
}

func hugepagesCheck(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, n := range site.BaremetalNodes {
		_, hasSize := n.KernelParams["hugepagesz"]
		_, hasCount := n.KernelParams["hugepages"]
		if hasSize != hasCount {
			r.error(fmt.Sprintf("Node %s must specify both hugepagesz and hugepages kernel parameters.", n.Name),
				nodeRef(n), "Set both the size and the count of hugepages.")
		}
	}
}

func ipLocalityCheck(site *EffectiveSite, _ PlatformCatalog, r *report) {
	prefixes := make(map[string]netip.Prefix, len(site.Networks))
	for _, net := range site.Networks {
		prefix, err := netip.ParsePrefix(net.CIDR)
		if err != nil {
			r.error(fmt.Sprintf("Network %s has an invalid CIDR %s.", net.Name, net.CIDR),
				networkRef(net), "Provide a valid CIDR.")
			continue
		}
		prefixes[net.Name] = prefix

		for _, route := range net.Routes {
			if route.Gateway == "" {
				continue
			}
			gw, err := netip.ParseAddr(route.Gateway)
			if err != nil || !prefix.Contains(gw) {
				r.error(fmt.Sprintf("IP address for gateway %s is not in CIDR %s of network %s.", route.Gateway, net.CIDR, net.Name),
					networkRef(net), "Use a gateway address inside the network.")
			}
		}
	}

	for _, n := range site.BaremetalNodes {
		for _, a := range n.Addressing {
			if a.Type == AddressDHCP {
				continue
			}
			prefix, ok := prefixes[a.Network]
			if !ok {
				if _, defined := site.Network(a.Network); !defined {
					r.error(fmt.Sprintf("The network %s for node %s is not defined.", a.Network, n.Name),
						nodeRef(n), "Define the network or fix the node addressing.")
				}
				continue
			}
			ip, err := netip.ParseAddr(a.Address)
			if err != nil || !prefix.Contains(ip) {
				r.error(fmt.Sprintf("IP address %s for node %s is not in CIDR %s of network %s.", a.Address, n.Name, prefix, a.Network),
					nodeRef(n), "Use an address inside the network.")
			}
		}
	}
}

func storagePartitioning(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, n := range site.BaremetalNodes {
		usedVGs := make(map[string]struct{})
		for _, dev := range n.StorageDevices {
			if vg, ok := dev.VolumeGroup.Get(); ok {
				usedVGs[vg] = struct{}{}
				if len(dev.Partitions) > 0 {
					r.error(fmt.Sprintf("Storage device %s on node %s contains both partitions and a volume group assignment.", dev.Name, n.Name),
						nodeRef(n), "A device is either partitioned or a volume group member.")
				}
			}
			for _, p := range dev.Partitions {
				vg, isPV := p.VolumeGroup.Get()
				if isPV {
					usedVGs[vg] = struct{}{}
				}
				if isPV && p.FSType.IsSet() {
					r.error(fmt.Sprintf("Partition %s on device %s of node %s is both formatted and a volume group member.", p.Name, dev.Name, n.Name),
						nodeRef(n), "Remove the filesystem or the volume group assignment.")
				}
			}
		}
		for _, vg := range n.VolumeGroups {
			if _, ok := usedVGs[vg.Name]; !ok {
				r.error(fmt.Sprintf("Volume group %s on node %s has no physical volumes.", vg.Name, n.Name),
					nodeRef(n), "Assign a device or partition to the volume group.")
			}
		}
	}
}

func mtuRationality(site *EffectiveSite, _ PlatformCatalog, r *report) {
	linkMTU := make(map[string]int)
	for _, l := range site.NetworkLinks {
		if l.MTU != 0 && (l.MTU < minMTU || l.MTU > maxMTU) {
			r.error(fmt.Sprintf("MTU %d of network link %s is out of range.", l.MTU, l.Name),
				linkRef(l), "Use an MTU between 1280 and 65536.")
		}
		if l.NativeNetwork != "" && l.MTU != 0 {
			linkMTU[l.NativeNetwork] = l.MTU
		}
	}

	for _, net := range site.Networks {
		if net.MTU == 0 {
			continue
		}
		if net.MTU < minMTU || net.MTU > maxMTU {
			r.error(fmt.Sprintf("MTU %d of network %s is out of range.", net.MTU, net.Name),
				networkRef(net), "Use an MTU between 1280 and 65536.")
		}
		if mtu, ok := linkMTU[net.Name]; ok && net.MTU > mtu {
			r.error(fmt.Sprintf("MTU %d of network %s is greater than the MTU %d of its link.", net.MTU, net.Name, mtu),
				networkRef(net), "The network MTU cannot exceed the link MTU.")
		}
	}
}

func networkTrunkingRationality(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, l := range site.NetworkLinks {
		if l.TrunkMode != TrunkingDisabled && l.TrunkMode != "" {
			continue
		}
		if len(l.AllowedNetworks) > 1 {
			r.error(fmt.Sprintf("Network link %s has trunking disabled but allows more than one network.", l.Name),
				linkRef(l), "Enable 802.1q trunking or allow a single network.")
		}
		if l.NativeNetwork == "" {
			r.error(fmt.Sprintf("Network link %s has trunking disabled and no native network.", l.Name),
				linkRef(l), "Define a native network for the link.")
			continue
		}
		if net, ok := site.Network(l.NativeNetwork); ok && net.VLAN != "" {
			r.error(fmt.Sprintf("Network %s is defined with a VLAN tag but trunking is disabled on link %s.", net.Name, l.Name),
				linkRef(l), "Remove the VLAN tag or enable trunking.")
		}
	}
}

func storageMountpoint(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, n := range site.BaremetalNodes {
		seen := make(map[string]struct{})
		check := func(mp string) {
			if mp == "" {
				return
			}
			if _, dup := seen[mp]; dup {
				r.error(fmt.Sprintf("Mountpoint %s is defined more than once on node %s.", mp, n.Name),
					nodeRef(n), "Use a unique mountpoint per filesystem.")
				return
			}
			seen[mp] = struct{}{}
		}
		for _, dev := range n.StorageDevices {
			for _, p := range dev.Partitions {
				check(p.Mountpoint.Value())
			}
		}
		for _, vg := range n.VolumeGroups {
			for _, lv := range vg.LogicalVolumes {
				check(lv.Mountpoint.Value())
			}
		}
	}
}

func duplicatedIPCheck(site *EffectiveSite, _ PlatformCatalog, r *report) {
	holder := make(map[string]string)
	for _, n := range site.BaremetalNodes {
		for _, a := range n.Addressing {
			if a.Type == AddressDHCP {
				continue
			}
			if prev, ok := holder[a.Address]; ok {
				r.error(fmt.Sprintf("Duplicate IP address %s assigned to node %s and node %s.", a.Address, prev, n.Name),
					nodeRef(n), "Assign a unique address.")
				continue
			}
			holder[a.Address] = n.Name
		}
	}
}

func platformSelection(site *EffectiveSite, catalog PlatformCatalog, r *report) {
	if catalog == nil {
		r.warn("Node driver does not list available platforms, image and kernel selection not verified.", nil,
			"Enable a node driver that lists its images and kernels.")
		return
	}

	images, err := catalog.AvailableImages()
	if err != nil {
		r.warn(fmt.Sprintf("Unable to list images: %v", err), nil, "Check the node driver.")
		return
	}

	for _, n := range site.BaremetalNodes {
		image, ok := n.Image.Get()
		if !ok {
			continue
		}
		if !containsName(images, image) {
			r.error(fmt.Sprintf("Image %s is not available for node %s.", image, n.Name),
				nodeRef(n), "Select one of "+strings.Join(images, ", "))
			continue
		}
		kernel, ok := n.Kernel.Get()
		if !ok {
			continue
		}
		kernels, err := catalog.AvailableKernels(image)
		if err != nil {
			r.warn(fmt.Sprintf("Unable to list kernels for image %s: %v", image, err), nodeRef(n), "Check the node driver.")
			continue
		}
		if !containsName(kernels, kernel) {
			r.error(fmt.Sprintf("Kernel %s is not available for image %s on node %s.", kernel, image, n.Name),
				nodeRef(n), "Select one of "+strings.Join(kernels, ", "))
		}
	}
}

func hostnameValidity(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, n := range site.BaremetalNodes {
		if strings.Contains(n.Name, "__") {
			r.error(fmt.Sprintf("Hostname %s is invalid, it contains \"__\".", n.Name),
				nodeRef(n), "Rename the node.")
		}
	}
}

func bootactionDefinition(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, n := range site.BaremetalNodes {
		targeted := false
		for _, ba := range site.BootActions {
			if ba.Targets(n.Name) {
				targeted = true
				break
			}
		}
		if !targeted {
			r.warn(fmt.Sprintf("No boot actions target node %s.", n.Name), nodeRef(n),
				"Nodes without boot actions are deployed with the base platform only.")
		}
	}
}

func bootactionNodeFilter(site *EffectiveSite, _ PlatformCatalog, r *report) {
	for _, ba := range site.BootActions {
		ref := []DocRef{{Kind: KindBootAction, Name: ba.Name}}
		selected, err := nodefilter.Evaluate(ba.NodeFilter, site.BaremetalNodes)
		if err != nil {
			r.error(fmt.Sprintf("Boot action %s has an invalid node filter: %v", ba.Name, err), ref,
				"Fix the node filter.")
			continue
		}
		if len(selected) == 0 {
			r.warn(fmt.Sprintf("Boot action %s targets no nodes.", ba.Name), ref, "Check the node filter.")
		}
	}
}

func containsName(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
