package design

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResolve(t *testing.T) {
	parent := Set("parent")

	tests := []struct {
		name  string
		child Field[string]
		want  Field[string]
	}{
		{name: "inherit takes parent", child: Field[string]{}, want: parent},
		{name: "override wins", child: Set("child"), want: Set("child")},
		{name: "unset vetoes parent", child: Cleared[string](), want: Cleared[string]()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.child, parent))
		})
	}
}

func TestResolve_UnsetParentStaysUnsetForInheritingChild(t *testing.T) {
	got := Resolve(Field[int]{}, Cleared[int]())

	assert.Equal(t, Unset, got.Directive())
	assert.False(t, got.IsSet())
}

func TestField_UnmarshalYAML(t *testing.T) {
	var doc struct {
		Missing Field[string] `yaml:"missing"`
		Null    Field[string] `yaml:"nulled"`
		Bang    Field[string] `yaml:"bang"`
		Value   Field[string] `yaml:"value"`
		IntBang Field[int]    `yaml:"int_bang"`
		IntNeg  Field[int]    `yaml:"int_neg"`
		IntVal  Field[int]    `yaml:"int_val"`
		Flag    Field[bool]   `yaml:"flag"`
	}

	err := yaml.Unmarshal([]byte(`
nulled: null
bang: "!"
value: eth0
int_bang: "!"
int_neg: -1
int_val: 9000
flag: false
`), &doc)
	require.NoError(t, err)

	assert.Equal(t, Inherit, doc.Missing.Directive())
	assert.Equal(t, Inherit, doc.Null.Directive())
	assert.Equal(t, Unset, doc.Bang.Directive())
	assert.Equal(t, Set("eth0"), doc.Value)
	assert.Equal(t, Unset, doc.IntBang.Directive())
	assert.Equal(t, Unset, doc.IntNeg.Directive())
	assert.Equal(t, Set(9000), doc.IntVal)

	v, ok := doc.Flag.Get()
	assert.True(t, ok)
	assert.False(t, v)
}

func TestField_UnmarshalYAML_RejectsNonScalar(t *testing.T) {
	var doc struct {
		F Field[string] `yaml:"f"`
	}

	err := yaml.Unmarshal([]byte("f: [a, b]"), &doc)

	assert.Error(t, err)
}

func TestField_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		A Field[string] `json:"a"`
		B Field[string] `json:"b"`
		C Field[int]    `json:"c"`
	}{A: Set("x"), B: Cleared[string](), C: Set(3)})

	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","b":null,"c":3}`, string(out))
}

func TestField_OrDefault(t *testing.T) {
	assert.Equal(t, 1500, Field[int]{}.OrDefault(1500))
	assert.Equal(t, 1500, Cleared[int]().OrDefault(1500))
	assert.Equal(t, 9000, Set(9000).OrDefault(1500))
}
