package nodefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	name   string
	tags   []string
	rack   string
	labels map[string]string
}

func (n testNode) GetName() string              { return n.name }
func (n testNode) GetTags() []string            { return n.tags }
func (n testNode) GetRack() string              { return n.rack }
func (n testNode) GetLabels() map[string]string { return n.labels }

func fiveNodes() []testNode {
	return []testNode{
		{name: "n1", rack: "rack1", tags: []string{"storage"}},
		{name: "n2", rack: "rack2", tags: []string{"gpu"}},
		{name: "n3", rack: "rack1", tags: []string{"gpu", "compute"}, labels: map[string]string{"role": "worker"}},
		{name: "n4", rack: "rack2", labels: map[string]string{"role": "worker"}},
		{name: "n5", rack: "rack1", labels: map[string]string{"role": "control"}},
	}
}

func TestEvaluate_NilFilterReturnsAllCandidates(t *testing.T) {
	nodes := fiveNodes()

	result, err := Evaluate[testNode](nil, nodes)

	require.NoError(t, err)
	assert.Equal(t, nodes, result)
}

func TestEvaluate_NoCandidatesReturnsEmpty(t *testing.T) {
	result, err := Evaluate(FromNodeNames([]string{"n1"}), []testNode{})

	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestEvaluate_IntersectionOfTagAndRack(t *testing.T) {
	fs := &FilterSet{
		FilterSetType: Intersection,
		FilterSet: []Filter{
			{NodeTags: []string{"gpu"}},
			{RackNames: []string{"rack1"}},
		},
	}

	result, err := Evaluate(fs, fiveNodes())

	require.NoError(t, err)
	assert.Equal(t, []string{"n3"}, Names(result))
}

func TestEvaluate_UnionOfDisjointFiltersHasNoDuplicates(t *testing.T) {
	fs := &FilterSet{
		FilterSetType: Union,
		FilterSet: []Filter{
			{NodeNames: []string{"n1", "n2"}},
			{NodeNames: []string{"n2", "n4"}},
			{RackNames: []string{"rack2"}},
		},
	}

	result, err := Evaluate(fs, fiveNodes())

	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2", "n4"}, Names(result))
}

func TestEvaluate_LeafIntersectionOfNameAndTag(t *testing.T) {
	fs := &FilterSet{
		FilterSetType: Union,
		FilterSet: []Filter{
			{FilterType: Intersection, NodeNames: []string{"n1", "n2", "n3"}, NodeTags: []string{"gpu"}},
		},
	}

	result, err := Evaluate(fs, fiveNodes())

	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n3"}, Names(result))
}

func TestEvaluate_LeafUnionCombinesPopulatedCriteria(t *testing.T) {
	fs := &FilterSet{
		FilterSetType: Intersection,
		FilterSet: []Filter{
			{FilterType: Union, NodeNames: []string{"n1"}, NodeLabels: map[string]string{"role": "worker"}},
		},
	}

	result, err := Evaluate(fs, fiveNodes())

	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n3", "n4"}, Names(result))
}

func TestEvaluate_LabelsRequireEveryPair(t *testing.T) {
	nodes := []testNode{
		{name: "a", labels: map[string]string{"role": "worker", "zone": "z1"}},
		{name: "b", labels: map[string]string{"role": "worker"}},
	}
	fs := &FilterSet{
		FilterSetType: Union,
		FilterSet: []Filter{
			{NodeLabels: map[string]string{"role": "worker", "zone": "z1"}},
		},
	}

	result, err := Evaluate(fs, nodes)

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, Names(result))
}

func TestEvaluate_ChildrenSeeFullCandidateList(t *testing.T) {
	// The second child would select nothing if it ran on the first child's output.
	fs := &FilterSet{
		FilterSetType: Union,
		FilterSet: []Filter{
			{NodeNames: []string{"n1"}},
			{NodeNames: []string{"n5"}},
		},
	}

	result, err := Evaluate(fs, fiveNodes())

	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n5"}, Names(result))
}

func TestEvaluate_LeafWithoutTypeIntersectsCriteria(t *testing.T) {
	fs := &FilterSet{
		FilterSetType: Union,
		FilterSet: []Filter{
			{NodeNames: []string{"n1", "n3"}, NodeTags: []string{"gpu"}},
		},
	}

	result, err := Evaluate(fs, fiveNodes())

	require.NoError(t, err)
	assert.Equal(t, []string{"n3"}, Names(result))
}

func TestEvaluate_EmptyCriteria(t *testing.T) {
	t.Run("leaf intersection matches all", func(t *testing.T) {
		fs := &FilterSet{FilterSetType: Union, FilterSet: []Filter{{FilterType: Intersection}}}
		result, err := Evaluate(fs, fiveNodes())
		require.NoError(t, err)
		assert.Len(t, result, 5)
	})

	t.Run("leaf union matches none", func(t *testing.T) {
		fs := &FilterSet{FilterSetType: Union, FilterSet: []Filter{{FilterType: Union}}}
		result, err := Evaluate(fs, fiveNodes())
		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("empty filter set matches none", func(t *testing.T) {
		result, err := Evaluate(&FilterSet{FilterSetType: Intersection}, fiveNodes())
		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("empty name list from successes matches none", func(t *testing.T) {
		result, err := Evaluate(FromNodeNames(nil), fiveNodes())
		require.NoError(t, err)
		assert.Empty(t, result)
	})
}

func TestEvaluate_RackLabelsMatchEveryNode(t *testing.T) {
	fs := &FilterSet{
		FilterSetType: Union,
		FilterSet:     []Filter{{RackLabels: map[string]string{"row": "a"}}},
	}

	result, err := Evaluate(fs, fiveNodes())

	require.NoError(t, err)
	assert.Len(t, result, 5)
}

func TestEvaluate_InvalidTypes(t *testing.T) {
	_, err := Evaluate(&FilterSet{FilterSetType: "xor"}, fiveNodes())
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = Evaluate(&FilterSet{
		FilterSetType: Union,
		FilterSet:     []Filter{{FilterType: "maybe", NodeNames: []string{"n1"}}},
	}, fiveNodes())
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestFromNodeNames_SelectsExactlyNamedNodes(t *testing.T) {
	result, err := Evaluate(FromNodeNames([]string{"n4", "n2"}), fiveNodes())

	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n4"}, Names(result))
}

func TestFilterSet_Names(t *testing.T) {
	var nilSet *FilterSet
	assert.Nil(t, nilSet.Names())

	fs := &FilterSet{
		FilterSetType: Union,
		FilterSet: []Filter{
			{NodeNames: []string{"n2", "n1"}},
			{NodeTags: []string{"gpu"}},
			{NodeNames: []string{"n1", "n4"}},
		},
	}
	assert.Equal(t, []string{"n2", "n1", "n4"}, fs.Names())
}

func TestParse(t *testing.T) {
	doc := map[string]any{
		"filter_set_type": "intersection",
		"filter_set": []any{
			map[string]any{"filter_type": "union", "node_tags": []any{"gpu"}},
			map[string]any{"rack_names": []any{"rack1"}, "node_labels": map[string]any{"role": "worker"}},
		},
	}

	fs, err := Parse(doc)

	require.NoError(t, err)
	assert.Equal(t, Intersection, fs.FilterSetType)
	require.Len(t, fs.FilterSet, 2)
	assert.Equal(t, []string{"gpu"}, fs.FilterSet[0].NodeTags)
	assert.Equal(t, []string{"rack1"}, fs.FilterSet[1].RackNames)
	assert.Equal(t, map[string]string{"role": "worker"}, fs.FilterSet[1].NodeLabels)
}

func TestParse_RejectsMalformedShapes(t *testing.T) {
	cases := map[string]any{
		"not a mapping":        []any{"n1"},
		"filter_set not list":  map[string]any{"filter_set": "n1"},
		"filter not a mapping": map[string]any{"filter_set": []any{"n1"}},
		"names not a list":     map[string]any{"filter_set": []any{map[string]any{"node_names": "n1"}}},
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(doc)
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestParse_NilIsNil(t *testing.T) {
	fs, err := Parse(nil)

	require.NoError(t, err)
	assert.Nil(t, fs)
}
