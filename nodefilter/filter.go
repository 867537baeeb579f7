// Package nodefilter evaluates node selection filters.
//
// A FilterSet combines the results of its child filters with a union or an
// intersection. Each child Filter selects nodes by name, tag, rack and label
// criteria and combines the populated criteria with its own filter type.
// Every child is evaluated against the full candidate list.
package nodefilter

import (
	"errors"
	"fmt"
)

// ErrInvalidFilter indicates a filter set or filter is malformed.
var ErrInvalidFilter = errors.New("invalid node filter")

// Combinator names how result sets are joined.
type Combinator string

const (
	// Union selects nodes matching any input set.
	Union Combinator = "union"

	// Intersection selects nodes matching every input set.
	Intersection Combinator = "intersection"
)

// FilterSet is the root of a node filter tree.
type FilterSet struct {
	FilterSetType Combinator `json:"filter_set_type" yaml:"filter_set_type"`
	FilterSet     []Filter   `json:"filter_set" yaml:"filter_set"`
}

// Filter is a leaf of a node filter tree.
// Criteria left empty are skipped. An empty FilterType is treated as
// intersection.
type Filter struct {
	FilterType Combinator        `json:"filter_type,omitempty" yaml:"filter_type,omitempty"`
	NodeNames  []string          `json:"node_names,omitempty" yaml:"node_names,omitempty"`
	NodeTags   []string          `json:"node_tags,omitempty" yaml:"node_tags,omitempty"`
	RackNames  []string          `json:"rack_names,omitempty" yaml:"rack_names,omitempty"`
	NodeLabels map[string]string `json:"node_labels,omitempty" yaml:"node_labels,omitempty"`
	RackLabels map[string]string `json:"rack_labels,omitempty" yaml:"rack_labels,omitempty"`
}

// Node is the view of a node the filter engine needs.
type Node interface {
	GetName() string
	GetTags() []string
	GetRack() string
	GetLabels() map[string]string
}

// FromNodeNames returns a filter set selecting exactly the named nodes.
func FromNodeNames(names []string) *FilterSet {
	return &FilterSet{
		FilterSetType: Intersection,
		FilterSet: []Filter{
			{FilterType: Union, NodeNames: append([]string{}, names...)},
		},
	}
}

// Names returns the node names listed by the filters of fs, in order and
// without duplicates.
func (fs *FilterSet) Names() []string {
	if fs == nil {
		return nil
	}
	var names []string
	for _, f := range fs.FilterSet {
		for _, name := range f.NodeNames {
			if !contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// Names returns the names of nodes in order.
func Names[N Node](nodes []N) []string {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.GetName())
	}
	return names
}

// Evaluate returns the candidates selected by fs.
// A nil filter set selects every candidate. The result keeps candidate order
// and holds each node name at most once.
func Evaluate[N Node](fs *FilterSet, candidates []N) ([]N, error) {
	if len(candidates) == 0 {
		return []N{}, nil
	}
	if fs == nil {
		return dedupe(candidates, all(len(candidates))), nil
	}

	switch fs.FilterSetType {
	case Union, Intersection:
	default:
		return nil, fmt.Errorf("%w: unknown filter set type %q", ErrInvalidFilter, fs.FilterSetType)
	}

	masks := make([][]bool, 0, len(fs.FilterSet))
	for i, f := range fs.FilterSet {
		mask, err := evaluateFilter(f, candidates)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		masks = append(masks, mask)
	}

	if len(masks) == 0 {
		return []N{}, nil
	}

	return dedupe(candidates, join(fs.FilterSetType, masks)), nil
}

func evaluateFilter[N Node](f Filter, candidates []N) ([]bool, error) {
	ftype := f.FilterType
	if ftype == "" {
		ftype = Intersection
	}
	if ftype != Union && ftype != Intersection {
		return nil, fmt.Errorf("%w: unknown filter type %q", ErrInvalidFilter, f.FilterType)
	}

	var masks [][]bool

	if len(f.NodeNames) > 0 {
		masks = append(masks, match(candidates, func(n N) bool {
			return contains(f.NodeNames, n.GetName())
		}))
	}
	if len(f.NodeTags) > 0 {
		masks = append(masks, match(candidates, func(n N) bool {
			for _, t := range n.GetTags() {
				if contains(f.NodeTags, t) {
					return true
				}
			}
			return false
		}))
	}
	if len(f.RackNames) > 0 {
		masks = append(masks, match(candidates, func(n N) bool {
			return contains(f.RackNames, n.GetRack())
		}))
	}
	if len(f.NodeLabels) > 0 {
		masks = append(masks, match(candidates, func(n N) bool {
			labels := n.GetLabels()
			for k, v := range f.NodeLabels {
				if got, ok := labels[k]; !ok || got != v {
					return false
				}
			}
			return true
		}))
	}
	if len(f.RackLabels) > 0 {
		// Rack labels are not evaluated; the criterion matches every node.
		masks = append(masks, all(len(candidates)))
	}

	if len(masks) == 0 {
		if ftype == Intersection {
			return all(len(candidates)), nil
		}
		return make([]bool, len(candidates)), nil
	}

	return join(ftype, masks), nil
}

func join(c Combinator, masks [][]bool) []bool {
	out := make([]bool, len(masks[0]))
	copy(out, masks[0])
	for _, m := range masks[1:] {
		for i := range out {
			if c == Union {
				out[i] = out[i] || m[i]
			} else {
				out[i] = out[i] && m[i]
			}
		}
	}
	return out
}

func match[N Node](candidates []N, pred func(N) bool) []bool {
	out := make([]bool, len(candidates))
	for i, n := range candidates {
		out[i] = pred(n)
	}
	return out
}

func all(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

func dedupe[N Node](candidates []N, mask []bool) []N {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]N, 0, len(candidates))
	for i, n := range candidates {
		if !mask[i] {
			continue
		}
		if _, ok := seen[n.GetName()]; ok {
			continue
		}
		seen[n.GetName()] = struct{}{}
		out = append(out, n)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
