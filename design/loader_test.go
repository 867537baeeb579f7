package design

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/metal-orchestrator/nodefilter"
)

func TestParseDocuments_Site(t *testing.T) {
	g := loadTestSite(t)

	require.NotNil(t, g.Site)
	assert.Equal(t, "sitename", g.Site.Name)
	assert.Len(t, g.Networks, 4)
	assert.Len(t, g.NetworkLinks, 3)
	assert.Len(t, g.Racks, 1)
	assert.Len(t, g.HardwareProfiles, 1)
	assert.Len(t, g.HostProfiles, 2)
	assert.Len(t, g.BaremetalNodes, 2)
	assert.Len(t, g.BootActions, 2)

	gp, ok := g.NetworkLink("gp")
	require.True(t, ok)
	assert.Equal(t, BondingLACP, gp.BondingMode)
	assert.Equal(t, "layer3+4", gp.BondingHash)
	assert.Equal(t, "fast", gp.BondingPeerRate)
	assert.Equal(t, 100, gp.BondingMonRate)
	assert.Equal(t, 200, gp.BondingUpDelay)
	assert.Equal(t, "mgmt", gp.NativeNetwork)

	rack, ok := g.Rack("rack1")
	require.True(t, ok)
	assert.Equal(t, []TorSwitch{{Name: "switch01", MgmtIP: "1.1.1.1", SDNAPIURI: "https://polo.example.com/api"}}, rack.TorSwitches)

	controller, ok := g.Node("controller01")
	require.True(t, ok)
	assert.Equal(t, "defaults", controller.ParentProfile)
	assert.Equal(t, "rack1", controller.GetRack())
	assert.Equal(t, []Address{
		{Type: AddressDHCP, Network: "pxe"},
		{Type: AddressStatic, Address: "172.16.1.20", Network: "mgmt"},
		{Type: AddressStatic, Address: "172.16.2.20", Network: "private"},
		{Type: AddressStatic, Address: "172.16.100.20", Network: "oob"},
	}, controller.Addressing)

	hello, ok := g.BootAction("helloworld")
	require.True(t, ok)
	assert.True(t, hello.Signaling)
	require.NotNil(t, hello.NodeFilter)
	assert.Equal(t, nodefilter.Union, hello.NodeFilter.FilterSetType)

	inventory, ok := g.BootAction("hw-inventory")
	require.True(t, ok)
	assert.False(t, inventory.Signaling)
	assert.Nil(t, inventory.NodeFilter)
}

func TestParseDocuments_NullEntriesBecomeTombstones(t *testing.T) {
	g, err := ParseDocuments([]byte(`
kind: HostProfile
metadata: {name: child}
spec:
  interfaces:
    pxe: null
  storage:
    physical_devices:
      sdb: null
    volume_groups:
      vg0: null
`))
	require.NoError(t, err)

	hp, ok := g.HostProfile("child")
	require.True(t, ok)
	assert.Equal(t, "!pxe", hp.Interfaces[0].DeviceName)
	assert.Equal(t, "!sdb", hp.StorageDevices[0].Name)
	assert.Equal(t, "!vg0", hp.VolumeGroups[0].Name)
}

func TestParseDocuments_OOBTypeTombstone(t *testing.T) {
	g, err := ParseDocuments([]byte(`
kind: HostProfile
metadata: {name: child}
spec:
  oob:
    type: "!"
    "!account": ""
`))
	require.NoError(t, err)

	hp, _ := g.HostProfile("child")
	assert.Equal(t, Unset, hp.OOBType.Directive())
	assert.Contains(t, hp.OOBParameters, "!account")
}

func TestParseDocuments_PhysicalVolumePartitionIsNotFormatted(t *testing.T) {
	g, err := ParseDocuments([]byte(`
kind: HostProfile
metadata: {name: lvm}
spec:
  storage:
    physical_devices:
      sda:
        partitions:
          - name: pv
            size: 100g
            volume_group: vg0
            filesystem:
              mountpoint: /data
    volume_groups:
      vg0:
        logical_volumes:
          - name: lv_root
            size: 20g
            filesystem:
              mountpoint: /
`))
	require.NoError(t, err)

	hp, _ := g.HostProfile("lvm")
	part := hp.StorageDevices[0].Partitions[0]
	assert.Equal(t, Set("vg0"), part.VolumeGroup)
	assert.False(t, part.FSType.IsSet())

	lv := hp.VolumeGroups[0].LogicalVolumes[0]
	assert.Equal(t, Set("/"), lv.Mountpoint)
	assert.Equal(t, Set("ext4"), lv.FSType)
}

func TestParseDocuments_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unknown kind", data: "kind: Widget\nmetadata: {name: w}\n"},
		{name: "missing name", data: "kind: Network\nspec: {cidr: 10.0.0.0/24}\n"},
		{name: "duplicate", data: "kind: Rack\nmetadata: {name: r}\n---\nkind: Rack\nmetadata: {name: r}\n"},
		{name: "node without addresses", data: "kind: BaremetalNode\nmetadata: {name: n}\nspec: {host_profile: p}\n"},
		{name: "empty address", data: "kind: BaremetalNode\nmetadata: {name: n}\nspec:\n  addressing:\n    - {network: pxe, address: \"\"}\n"},
		{name: "bad node filter", data: "kind: BootAction\nmetadata: {name: b}\nspec:\n  node_filter: [a]\n"},
		{name: "malformed yaml", data: "kind: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocuments([]byte(tt.data))
			assert.ErrorIs(t, err, ErrDocument)
		})
	}
}

func TestParseDocuments_SkipsEmptyDocuments(t *testing.T) {
	g, err := ParseDocuments([]byte("---\n---\nkind: Rack\nmetadata: {name: r}\n"))

	require.NoError(t, err)
	assert.Len(t, g.Racks, 1)
}
