package design

import (
	"testing"

	"github.com/stretchr/testify/assert"

	orchestrator "github.com/getpup/metal-orchestrator"
)

func TestMergeLists(t *testing.T) {
	tests := []struct {
		name   string
		child  []string
		parent []string
		want   []string
	}{
		{name: "removal", child: []string{"!a"}, parent: []string{"a", "b"}, want: []string{"b"}},
		{name: "child first", child: []string{"c"}, parent: []string{"a", "b"}, want: []string{"c", "a", "b"}},
		{name: "no duplicates", child: []string{"a", "a"}, parent: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "nil child", child: nil, parent: []string{"a"}, want: []string{"a"}},
		{name: "both empty", child: nil, parent: nil, want: []string{}},
		{name: "removal of missing entry", child: []string{"!z", "c"}, parent: []string{"a"}, want: []string{"c", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeLists(tt.child, tt.parent))
		})
	}
}

func TestMergeLists_Idempotent(t *testing.T) {
	l := []string{"a", "b", "c"}

	assert.Equal(t, l, MergeLists(l, l))
}

func TestMergeDicts(t *testing.T) {
	parent := map[string]string{"a": "1", "b": "2", "c": "3"}
	child := map[string]string{"!a": "", "b": "20", "d": "4"}

	got := MergeDicts(child, parent)

	assert.Equal(t, map[string]string{"b": "20", "c": "3", "d": "4"}, got)
	assert.Equal(t, "1", parent["a"])
}

func TestMergeInterfaces_TombstoneDropsParentEntry(t *testing.T) {
	parent := []Interface{
		{DeviceName: "eth0", NetworkLink: Set("pxe"), Networks: []string{"pxe"}},
		{DeviceName: "eth1", NetworkLink: Set("gp"), Networks: []string{"mgmt"}},
	}
	child := []Interface{{DeviceName: "!eth0"}}

	got := MergeInterfaces(child, parent)

	if assert.Len(t, got, 1) {
		assert.Equal(t, "eth1", got[0].DeviceName)
		assert.Equal(t, orchestrator.SourceCompiled, got[0].Source)
	}
}

func TestMergeInterfaces_SameNameIsMerged(t *testing.T) {
	parent := []Interface{{DeviceName: "bond0", NetworkLink: Set("gp"), HardwareSlaves: []string{"nic1"}, Networks: []string{"mgmt", "private"}}}
	child := []Interface{{DeviceName: "bond0", HardwareSlaves: []string{"nic2"}, Networks: []string{"!private"}}}

	got := MergeInterfaces(child, parent)

	if assert.Len(t, got, 1) {
		assert.Equal(t, Set("gp"), got[0].NetworkLink)
		assert.Equal(t, []string{"nic2", "nic1"}, got[0].HardwareSlaves)
		assert.Equal(t, []string{"mgmt"}, got[0].Networks)
		assert.Equal(t, orchestrator.SourceCompiled, got[0].Source)
	}
}

func TestMergeInterfaces_NilSidesCopyTheOther(t *testing.T) {
	parent := []Interface{{DeviceName: "eth0", Networks: []string{"pxe"}}}

	got := MergeInterfaces(nil, parent)
	got[0].Networks[0] = "changed"

	assert.Equal(t, "pxe", parent[0].Networks[0])
	assert.Nil(t, MergeInterfaces(nil, nil))
}

func TestMergeInterfaces_EmptyChildCarriesParentAsCompiled(t *testing.T) {
	parent := []Interface{{DeviceName: "eth0", Source: orchestrator.SourceDesigned}}

	got := MergeInterfaces([]Interface{}, parent)

	if assert.Len(t, got, 1) {
		assert.Equal(t, orchestrator.SourceCompiled, got[0].Source)
	}
}

func TestMergeStorageDevices_MergesPartitions(t *testing.T) {
	parent := []StorageDevice{{
		Name: "sda",
		Partitions: []Partition{
			{Name: "root", Size: Set("20g"), Mountpoint: Set("/"), FSType: Set("ext4")},
			{Name: "var", Size: Set("10g")},
		},
	}}
	child := []StorageDevice{{
		Name: "sda",
		Partitions: []Partition{
			{Name: "root", Size: Set("30g"), FSType: Cleared[string]()},
			{Name: "!var"},
			{Name: "data", Size: Set("100g")},
		},
	}}

	got := MergeStorageDevices(child, parent)

	if assert.Len(t, got, 1) && assert.Len(t, got[0].Partitions, 2) {
		root := got[0].Partitions[0]
		assert.Equal(t, "root", root.Name)
		assert.Equal(t, Set("30g"), root.Size)
		assert.Equal(t, Set("/"), root.Mountpoint)
		assert.False(t, root.FSType.IsSet())
		assert.Equal(t, "data", got[0].Partitions[1].Name)
		assert.Equal(t, orchestrator.SourceCompiled, got[0].Partitions[1].Source)
	}
}

func TestMergeVolumeGroups_MergesLogicalVolumes(t *testing.T) {
	parent := []VolumeGroup{{
		Name:   "vg0",
		VGUUID: Set("uuid-1"),
		LogicalVolumes: []LogicalVolume{
			{Name: "lv_root", Size: Set("20g")},
			{Name: "lv_tmp", Size: Set("5g")},
		},
	}}
	child := []VolumeGroup{{
		Name:           "vg0",
		LogicalVolumes: []LogicalVolume{{Name: "!lv_tmp"}},
	}}

	got := MergeVolumeGroups(child, parent)

	if assert.Len(t, got, 1) {
		assert.Equal(t, Set("uuid-1"), got[0].VGUUID)
		if assert.Len(t, got[0].LogicalVolumes, 1) {
			assert.Equal(t, "lv_root", got[0].LogicalVolumes[0].Name)
		}
	}
}
