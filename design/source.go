package design

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/zeebo/blake3"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/nodefilter"
)

const defaultCacheSize = 16

// SourceConfig configures a Source.
type SourceConfig struct {
	// Resolvers maps reference schemes to resolvers.
	// Default: DefaultResolvers()
	Resolvers Resolvers

	// Catalog lets the platform validator check images and kernels. Optional.
	Catalog PlatformCatalog

	// CacheSize bounds the number of effective sites kept.
	// Default: 16
	CacheSize int

	// ObserveCompile is called with the duration of every compile. Optional.
	ObserveCompile func(time.Duration)

	// Logger is an optional logger.
	// Default: logr.Discard()
	Logger logr.Logger
}

// Source loads designs and turns them into validated effective sites.
// Effective sites are cached by the BLAKE3 digest of the design bytes and
// must not be modified by callers.
type Source struct {
	resolvers Resolvers
	compiler  *Compiler
	validator *Validator
	observe   func(time.Duration)
	logger    logr.Logger

	mu        sync.Mutex
	cache     map[[32]byte]cachedSite
	order     [][32]byte
	cacheSize int
}

type cachedSite struct {
	status *ValidationStatus
	site   *EffectiveSite
}

// NewSource returns a Source for cfg.
func NewSource(cfg SourceConfig) *Source {
	if cfg.Resolvers == nil {
		cfg.Resolvers = DefaultResolvers()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}

	return &Source{
		resolvers: cfg.Resolvers,
		compiler:  NewCompiler(cfg.Logger.WithName("compiler")),
		validator: NewValidator(cfg.Catalog),
		observe:   cfg.ObserveCompile,
		logger:    cfg.Logger,
		cache:     make(map[[32]byte]cachedSite),
		cacheSize: cfg.CacheSize,
	}
}

// GetEffectiveSite loads, compiles and validates the design at designRef.
// The returned site is nil when the design could not be loaded or compiled;
// the status then reports the failure.
func (s *Source) GetEffectiveSite(ctx context.Context, designRef string) (*ValidationStatus, *EffectiveSite) {
	status := NewValidationStatus()

	data, err := s.resolvers.Fetch(ctx, designRef)
	if err != nil {
		return s.loadFailure(status, designRef, err), nil
	}

	key := blake3.Sum256(data)
	if c, ok := s.lookup(key); ok {
		s.logger.V(1).Info("effective site cache hit", "designRef", designRef)
		return c.status, c.site
	}

	start := time.Now()
	site, err := s.build(data)
	if s.observe != nil {
		s.observe(time.Since(start))
	}
	if err != nil {
		return s.loadFailure(status, designRef, err), nil
	}

	s.validator.Validate(site, status)
	s.store(key, cachedSite{status: status, site: site})

	return cloneStatus(status), site
}

func (s *Source) build(data []byte) (*EffectiveSite, error) {
	g, err := ParseDocuments(data)
	if err != nil {
		return nil, err
	}
	site, err := s.compiler.Compile(g)
	if err != nil {
		return nil, err
	}
	ComputeBootActionTargets(site)
	RenderRouteDomains(site)
	return site, nil
}

func (s *Source) loadFailure(status *ValidationStatus, designRef string, err error) *ValidationStatus {
	s.logger.Error(err, "error loading effective site", "designRef", designRef)
	status.Add(ValidationMessage{
		Msg:   fmt.Sprintf("Error loading effective site: %s", err),
		Error: true,
		Level: LevelError,
	})
	status.Status = orchestrator.ResultFailure
	return status
}

func (s *Source) lookup(key [32]byte) (cachedSite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[key]
	if !ok {
		return cachedSite{}, false
	}
	return cachedSite{status: cloneStatus(c.status), site: c.site}, true
}

func (s *Source) store(key [32]byte, c cachedSite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[key]; ok {
		return
	}
	if len(s.order) >= s.cacheSize {
		delete(s.cache, s.order[0])
		s.order = s.order[1:]
	}
	s.cache[key] = c
	s.order = append(s.order, key)
}

func cloneStatus(in *ValidationStatus) *ValidationStatus {
	out := *in
	out.Messages = append([]ValidationMessage{}, in.Messages...)
	return &out
}

// ProcessNodeFilter returns the compiled nodes of site selected by nf.
// A nil filter selects every node.
func ProcessNodeFilter(nf *nodefilter.FilterSet, site *EffectiveSite) ([]*BaremetalNode, error) {
	if site == nil {
		return nil, errors.New("no effective site to filter")
	}
	return nodefilter.Evaluate(nf, site.BaremetalNodes)
}

// ComputeBootActionTargets stores the names of the nodes each boot action
// selects. A boot action whose filter does not evaluate targets no nodes.
func ComputeBootActionTargets(site *EffectiveSite) {
	for _, ba := range site.BootActions {
		nodes, err := nodefilter.Evaluate(ba.NodeFilter, site.BaremetalNodes)
		if err != nil {
			ba.TargetNodes = []string{}
			continue
		}
		ba.TargetNodes = nodefilter.Names(nodes)
	}
}

// RenderRouteDomains adds, to every network in a route domain, a route to
// each other network of the domain. The gateway and metric come from the
// network's own route tagged with the domain; a network without one gets no
// routes.
func RenderRouteDomains(site *EffectiveSite) {
	domains := make(map[string][]*Network)
	var names []string
	for _, n := range site.Networks {
		if n.RouteDomain == "" {
			continue
		}
		if _, ok := domains[n.RouteDomain]; !ok {
			names = append(names, n.RouteDomain)
		}
		domains[n.RouteDomain] = append(domains[n.RouteDomain], n)
	}

	for _, rd := range names {
		members := domains[rd]
		for _, n := range members {
			var gateway string
			var metric int
			found := false
			for _, r := range n.Routes {
				if r.RouteDomain == rd {
					gateway, metric, found = r.Gateway, r.Metric, true
					break
				}
			}
			if !found {
				continue
			}
			for _, other := range members {
				if other == n {
					continue
				}
				n.Routes = append(n.Routes, NetworkRoute{
					Subnet:  other.CIDR,
					Gateway: gateway,
					Metric:  metric,
				})
			}
		}
	}
}
