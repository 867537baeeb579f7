package design

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// DesignError reports the nodes whose effective model could not be built.
type DesignError struct {
	// Nodes lists the failed node names in design order.
	Nodes []string

	// Causes holds the per-node failures.
	Causes []error
}

func (e *DesignError) Error() string {
	return "Failed to build applied model for " + strings.Join(e.Nodes, ",")
}

// Unwrap exposes orchestrator.ErrDesign and the per-node causes.
func (e *DesignError) Unwrap() []error {
	return append([]error{orchestrator.ErrDesign}, e.Causes...)
}

// Compiler builds effective sites from design graphs.
// A Compiler is safe for concurrent use; each call runs its own pass.
type Compiler struct {
	logger logr.Logger
}

// NewCompiler returns a compiler logging to logger.
func NewCompiler(logger logr.Logger) *Compiler {
	return &Compiler{logger: logger}
}

// Compile resolves inheritance, hardware aliases and kernel parameters for
// every node in g and returns the effective site. Host profiles shared by
// several nodes are compiled once. g is left untouched.
//
// Nodes that fail to compile are reported together in a *DesignError; the
// effective site is still returned with the nodes that did compile.
func (c *Compiler) Compile(g *Graph) (*EffectiveSite, error) {
	p := newPass(g)
	es := &EffectiveSite{Graph: copyGraph(g)}

	es.HostProfiles = make([]*HostProfile, 0, len(g.HostProfiles))
	for _, hp := range g.HostProfiles {
		compiled, err := p.profile(hp.Name)
		if err != nil {
			c.logger.V(1).Info("host profile not compiled", "profile", hp.Name, "error", err.Error())
			cp := hp.clone()
			es.HostProfiles = append(es.HostProfiles, &cp)
			continue
		}
		cp := compiled.clone()
		es.HostProfiles = append(es.HostProfiles, &cp)
	}

	var derr *DesignError
	es.BaremetalNodes = make([]*BaremetalNode, 0, len(g.BaremetalNodes))
	for _, n := range g.BaremetalNodes {
		compiled, err := c.compileNode(p, n)
		if err != nil {
			c.logger.V(1).Info("failed to build applied model", "node", n.Name, "error", err.Error())
			if derr == nil {
				derr = &DesignError{}
			}
			derr.Nodes = append(derr.Nodes, n.Name)
			derr.Causes = append(derr.Causes, fmt.Errorf("node %s: %w", n.Name, err))
			continue
		}
		es.BaremetalNodes = append(es.BaremetalNodes, compiled)
	}

	if derr != nil {
		return es, derr
	}
	return es, nil
}

// CompileNode builds the effective model of a single node against g.
func (c *Compiler) CompileNode(g *Graph, n *BaremetalNode) (*BaremetalNode, error) {
	return c.compileNode(newPass(g), n)
}

func (c *Compiler) compileNode(p *pass, n *BaremetalNode) (*BaremetalNode, error) {
	if n.Source == orchestrator.SourceCompiled {
		out := n.clone()
		return &out, nil
	}

	c.logger.V(1).Info("compiling effective node model", "node", n.Name)

	out := n.clone()
	if n.ParentProfile != "" {
		p.chain = append(p.chain, n.Name)
		parent, err := p.profile(n.ParentProfile)
		p.chain = p.chain[:len(p.chain)-1]
		if err != nil {
			return nil, err
		}
		out.HostProfile = inherit(out.HostProfile, parent)
	}

	hw, err := nodeHardwareProfile(p.graph, &out)
	if err != nil {
		return nil, err
	}
	ApplyHardwareProfile(&out, hw)
	out.Source = orchestrator.SourceCompiled
	c.ResolveKernelParams(&out, hw)

	return &out, nil
}

// pass memoizes compiled host profiles for one compile.
type pass struct {
	graph    *Graph
	compiled map[string]*HostProfile
	visiting map[string]bool
	chain    []string
}

func newPass(g *Graph) *pass {
	return &pass{
		graph:    g,
		compiled: make(map[string]*HostProfile),
		visiting: make(map[string]bool),
	}
}

func (p *pass) profile(name string) (*HostProfile, error) {
	if hp, ok := p.compiled[name]; ok {
		return hp, nil
	}

	if p.visiting[name] {
		cycle := append(append([]string{}, p.chain...), name)
		return nil, fmt.Errorf("%w: host profile inheritance cycle %s", orchestrator.ErrDesign, strings.Join(cycle, " -> "))
	}

	designed, ok := p.graph.HostProfile(name)
	if !ok {
		from := "design"
		if len(p.chain) > 0 {
			from = p.chain[len(p.chain)-1]
		}
		return nil, fmt.Errorf("%w: cannot find parent profile %s for %s", orchestrator.ErrDesign, name, from)
	}

	p.visiting[name] = true
	p.chain = append(p.chain, name)
	defer func() {
		delete(p.visiting, name)
		p.chain = p.chain[:len(p.chain)-1]
	}()

	out := designed.clone()
	switch {
	case designed.Source == orchestrator.SourceCompiled:
	case designed.ParentProfile == "":
		out.Source = orchestrator.SourceCompiled
	default:
		parent, err := p.profile(designed.ParentProfile)
		if err != nil {
			return nil, err
		}
		out = inherit(out, parent)
	}

	p.compiled[name] = &out
	return &out, nil
}

// inherit applies the parent's resolved values to child and tags it Compiled.
func inherit(child HostProfile, parent *HostProfile) HostProfile {
	out := child

	out.HardwareProfile = Resolve(child.HardwareProfile, parent.HardwareProfile)
	out.OOBType = Resolve(child.OOBType, parent.OOBType)
	out.StorageLayout = Resolve(child.StorageLayout, parent.StorageLayout)
	out.BootdiskDevice = Resolve(child.BootdiskDevice, parent.BootdiskDevice)
	out.BootdiskRootSize = Resolve(child.BootdiskRootSize, parent.BootdiskRootSize)
	out.BootdiskBootSize = Resolve(child.BootdiskBootSize, parent.BootdiskBootSize)
	out.Rack = Resolve(child.Rack, parent.Rack)
	out.BaseOS = Resolve(child.BaseOS, parent.BaseOS)
	out.Image = Resolve(child.Image, parent.Image)
	out.Kernel = Resolve(child.Kernel, parent.Kernel)
	out.PrimaryNetwork = Resolve(child.PrimaryNetwork, parent.PrimaryNetwork)
	out.MTU = Resolve(child.MTU, parent.MTU)

	out.OOBParameters = MergeDicts(child.OOBParameters, parent.OOBParameters)
	out.Tags = MergeLists(child.Tags, parent.Tags)
	out.OwnerData = MergeDicts(child.OwnerData, parent.OwnerData)
	out.KernelParams = MergeDicts(child.KernelParams, parent.KernelParams)

	out.StorageDevices = MergeStorageDevices(child.StorageDevices, parent.StorageDevices)
	out.VolumeGroups = MergeVolumeGroups(child.VolumeGroups, parent.VolumeGroups)
	out.Interfaces = MergeInterfaces(child.Interfaces, parent.Interfaces)

	out.Source = orchestrator.SourceCompiled
	return out
}

func (p *HostProfile) clone() HostProfile {
	out := *p
	out.OOBParameters = cloneMap(p.OOBParameters)
	out.OwnerData = cloneMap(p.OwnerData)
	out.KernelParams = cloneMap(p.KernelParams)
	out.Tags = cloneStrings(p.Tags)
	out.Interfaces = cloneAll(p.Interfaces)
	out.StorageDevices = cloneAll(p.StorageDevices)
	out.VolumeGroups = cloneAll(p.VolumeGroups)
	return out
}

func (n *BaremetalNode) clone() BaremetalNode {
	out := *n
	out.HostProfile = n.HostProfile.clone()
	if n.Addressing != nil {
		out.Addressing = append([]Address{}, n.Addressing...)
	}
	return out
}

// copyGraph deep copies the entities compilation does not rebuild.
func copyGraph(g *Graph) Graph {
	out := Graph{}

	if g.Site != nil {
		s := *g.Site
		s.TagDefinitions = append([]TagDefinition(nil), g.Site.TagDefinitions...)
		s.AuthorizedKeys = cloneStrings(g.Site.AuthorizedKeys)
		out.Site = &s
	}
	for _, n := range g.Networks {
		c := *n
		c.DNSServers = cloneStrings(n.DNSServers)
		c.Ranges = append([]NetworkRange(nil), n.Ranges...)
		c.Routes = append([]NetworkRoute(nil), n.Routes...)
		c.Labels = cloneMap(n.Labels)
		out.Networks = append(out.Networks, &c)
	}
	for _, l := range g.NetworkLinks {
		c := *l
		c.AllowedNetworks = cloneStrings(l.AllowedNetworks)
		c.Labels = cloneMap(l.Labels)
		out.NetworkLinks = append(out.NetworkLinks, &c)
	}
	for _, r := range g.Racks {
		c := *r
		c.TorSwitches = append([]TorSwitch(nil), r.TorSwitches...)
		c.Location = cloneMap(r.Location)
		c.LocalNetworks = cloneStrings(r.LocalNetworks)
		out.Racks = append(out.Racks, &c)
	}
	for _, h := range g.HardwareProfiles {
		c := *h
		c.Devices = append([]DeviceAlias(nil), h.Devices...)
		c.CPUSets = cloneMap(h.CPUSets)
		c.HugepagesConfs = append([]HugepagesConf(nil), h.HugepagesConfs...)
		out.HardwareProfiles = append(out.HardwareProfiles, &c)
	}
	for _, b := range g.BootActions {
		c := *b
		c.TargetNodes = cloneStrings(b.TargetNodes)
		out.BootActions = append(out.BootActions, &c)
	}

	return out
}
