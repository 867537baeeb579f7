package design

import (
	"fmt"
	"strings"

	orchestrator "github.com/getpup/metal-orchestrator"
)

const hardwareProfileRef = "hardwareprofile:"

// Bus types used when resolving device aliases.
const (
	BusPCI  = "pci"
	BusSCSI = "scsi"
)

// ResolveAlias returns the selector for alias on bus, if the profile defines one.
func (h *HardwareProfile) ResolveAlias(bus, alias string) (DeviceSelector, bool) {
	for _, d := range h.Devices {
		if d.Alias == alias && d.BusType == bus {
			return DeviceSelector{
				SelectorType: SelectorAddress,
				Address:      d.Address,
				DeviceType:   d.DevType,
			}, true
		}
	}
	return DeviceSelector{}, false
}

// CPUSet returns the cpu list named name.
func (h *HardwareProfile) CPUSet(name string) (string, error) {
	v, ok := h.CPUSets[name]
	if !ok {
		return "", fmt.Errorf("%w: cpuset %s not defined in hardware profile %s", orchestrator.ErrInvalidParameterReference, name, h.Name)
	}
	return v, nil
}

// HugepagesConf returns the hugepage configuration named name.
func (h *HardwareProfile) HugepagesConf(name string) (HugepagesConf, error) {
	for _, c := range h.HugepagesConfs {
		if c.Name == name {
			return c, nil
		}
	}
	return HugepagesConf{}, fmt.Errorf("%w: hugepages %s not defined in hardware profile %s", orchestrator.ErrInvalidParameterReference, name, h.Name)
}

func nodeHardwareProfile(g *Graph, n *BaremetalNode) (*HardwareProfile, error) {
	name, ok := n.HardwareProfile.Get()
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: hardware profile not set for node %s", orchestrator.ErrDesign, n.Name)
	}
	hw, ok := g.HardwareProfile(name)
	if !ok {
		return nil, fmt.Errorf("%w: hardware profile %s not found for node %s", orchestrator.ErrDesign, name, n.Name)
	}
	return hw, nil
}

// ApplyHardwareProfile attaches device selectors to the node's interface
// slaves (pci) and storage devices (scsi). A name without a matching alias
// gets a selector by name.
func ApplyHardwareProfile(n *BaremetalNode, hw *HardwareProfile) {
	for i := range n.Interfaces {
		iface := &n.Interfaces[i]
		iface.SlaveSelectors = make([]DeviceSelector, 0, len(iface.HardwareSlaves))
		for _, s := range iface.HardwareSlaves {
			sel, ok := hw.ResolveAlias(BusPCI, s)
			if !ok {
				sel = DeviceSelector{SelectorType: SelectorName, Address: s}
			}
			iface.SlaveSelectors = append(iface.SlaveSelectors, sel)
		}
	}

	for i := range n.StorageDevices {
		dev := &n.StorageDevices[i]
		sel, ok := hw.ResolveAlias(BusSCSI, dev.Name)
		if !ok {
			sel = DeviceSelector{SelectorType: SelectorName, Address: dev.Name}
		}
		dev.Selector = &sel
	}
}

// ResolveKernelParams replaces hardware profile references in the node's
// kernel parameters. A reference that does not resolve keeps its literal
// value and is logged.
func (c *Compiler) ResolveKernelParams(n *BaremetalNode, hw *HardwareProfile) {
	if len(n.KernelParams) == 0 {
		return
	}

	resolved := make(map[string]string, len(n.KernelParams))
	for k, v := range n.KernelParams {
		rv, err := KernelParamValue(v, hw)
		if err != nil {
			c.logger.Info("error resolving parameter reference", "node", n.Name, "param", k, "error", err.Error())
			rv = v
		}
		resolved[k] = rv
	}
	n.KernelParams = resolved
}

// KernelParamValue resolves value when it has one of the forms
//
//	hardwareprofile:cpuset.<name>
//	hardwareprofile:hugepages.<name>.size
//	hardwareprofile:hugepages.<name>.count
//
// and returns any other value unchanged.
func KernelParamValue(value string, hw *HardwareProfile) (string, error) {
	ref, ok := strings.CutPrefix(value, hardwareProfileRef)
	if !ok || ref == "" {
		return value, nil
	}

	refType, refVal, ok := strings.Cut(ref, ".")
	if !ok {
		return "", fmt.Errorf("%w: malformed reference %s", orchestrator.ErrInvalidParameterReference, value)
	}

	switch refType {
	case "cpuset":
		return hw.CPUSet(refVal)
	case "hugepages":
		name, field, ok := strings.Cut(refVal, ".")
		if !ok {
			return "", fmt.Errorf("%w: malformed reference %s", orchestrator.ErrInvalidParameterReference, value)
		}
		conf, err := hw.HugepagesConf(name)
		if err != nil {
			return "", err
		}
		switch field {
		case "size":
			return conf.Size, nil
		case "count":
			return conf.Count, nil
		default:
			return "", fmt.Errorf("%w: invalid field %s specified", orchestrator.ErrInvalidParameterReference, field)
		}
	default:
		return "", fmt.Errorf("%w: invalid configuration %s specified", orchestrator.ErrInvalidParameterReference, refType)
	}
}

// KernelParamString renders the node's kernel command line. Hugepage
// settings lead, followed by the remaining parameters in key order; a
// parameter whose value is "True" renders as a bare flag.
func KernelParamString(n *BaremetalNode) (string, error) {
	params := cloneMap(n.KernelParams)
	var parts []string

	if size, ok := params["hugepagesz"]; ok {
		count, ok := params["hugepages"]
		if !ok {
			return "", fmt.Errorf("%w: must specify both size and count for hugepages", orchestrator.ErrInvalidParameterReference)
		}
		parts = append(parts, "hugepagesz="+size, "hugepages="+count)
		delete(params, "hugepagesz")
		delete(params, "hugepages")
	}

	for _, k := range keysOf(params) {
		if params[k] == "True" {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, k+"="+params[k])
	}

	return strings.Join(parts, " "), nil
}

// Domain returns the DNS domain of the node's primary network, or "local".
func (s *EffectiveSite) Domain(n *BaremetalNode) string {
	if name, ok := n.PrimaryNetwork.Get(); ok {
		if net, ok := s.Network(name); ok && net.DNSDomain != "" {
			return net.DNSDomain
		}
	}
	return "local"
}

// FQDN returns the node's hostname qualified with its domain.
func (s *EffectiveSite) FQDN(n *BaremetalNode) string {
	return n.Name + "." + s.Domain(n)
}
