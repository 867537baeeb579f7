package design

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/getpup/metal-orchestrator"
)

func TestApplyHardwareProfile(t *testing.T) {
	n := &BaremetalNode{HostProfile: HostProfile{
		Name: "n1",
		Interfaces: []Interface{
			{DeviceName: "bond0", HardwareSlaves: []string{"nic01", "eno2"}},
		},
		StorageDevices: []StorageDevice{{Name: "disk01"}, {Name: "sdb"}},
	}}

	ApplyHardwareProfile(n, hwProfile())

	assert.Equal(t, []DeviceSelector{
		{SelectorType: SelectorAddress, Address: "0000:00:03.0", DeviceType: "82540EM"},
		{SelectorType: SelectorName, Address: "eno2"},
	}, n.Interfaces[0].SlaveSelectors)
	assert.Equal(t, &DeviceSelector{SelectorType: SelectorAddress, Address: "2:0.0.0", DeviceType: "VBOX HARDDISK"}, n.StorageDevices[0].Selector)
	assert.Equal(t, &DeviceSelector{SelectorType: SelectorName, Address: "sdb"}, n.StorageDevices[1].Selector)
}

func TestApplyHardwareProfile_AliasMustMatchBus(t *testing.T) {
	_, ok := hwProfile().ResolveAlias(BusPCI, "disk01")

	assert.False(t, ok)
}

func TestKernelParamValue(t *testing.T) {
	hw := hwProfile()

	tests := []struct {
		value   string
		want    string
		wantErr bool
	}{
		{value: "ttyS1,115200", want: "ttyS1,115200"},
		{value: "hardwareprofile:cpuset.sriov", want: "2,4"},
		{value: "hardwareprofile:hugepages.dpdk.size", want: "1G"},
		{value: "hardwareprofile:hugepages.dpdk.count", want: "300"},
		{value: "hardwareprofile:cpuset.missing", wantErr: true},
		{value: "hardwareprofile:hugepages.dpdk.color", wantErr: true},
		{value: "hardwareprofile:hugepages.dpdk", wantErr: true},
		{value: "hardwareprofile:gpu.a", wantErr: true},
		{value: "hardwareprofile:cpuset", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := KernelParamValue(tt.value, hw)
			if tt.wantErr {
				assert.ErrorIs(t, err, orchestrator.ErrInvalidParameterReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveKernelParams_KeepsLiteralOnError(t *testing.T) {
	n := &BaremetalNode{HostProfile: HostProfile{
		Name: "n1",
		KernelParams: map[string]string{
			"isolcpus": "hardwareprofile:cpuset.sriov",
			"broken":   "hardwareprofile:cpuset.nope",
		},
	}}

	NewCompiler(logr.Discard()).ResolveKernelParams(n, hwProfile())

	assert.Equal(t, "2,4", n.KernelParams["isolcpus"])
	assert.Equal(t, "hardwareprofile:cpuset.nope", n.KernelParams["broken"])
}

func TestKernelParamString(t *testing.T) {
	site := compileTestSite(t)
	compute, ok := site.Node("compute01")
	require.True(t, ok)

	got, err := KernelParamString(compute)

	require.NoError(t, err)
	assert.Equal(t, "hugepagesz=1G hugepages=300 console=ttyS1,115200 isolcpus=2,4 nomodeset", got)
}

func TestKernelParamString_RequiresHugepageCount(t *testing.T) {
	n := &BaremetalNode{HostProfile: HostProfile{KernelParams: map[string]string{"hugepagesz": "1G"}}}

	_, err := KernelParamString(n)

	assert.ErrorIs(t, err, orchestrator.ErrInvalidParameterReference)
}

func TestFQDN(t *testing.T) {
	site := compileTestSite(t)
	controller, ok := site.Node("controller01")
	require.True(t, ok)

	assert.Equal(t, "controller01.mgmt.sitename.example.com", site.FQDN(controller))

	orphan := &BaremetalNode{HostProfile: HostProfile{Name: "orphan"}}
	assert.Equal(t, "orphan.local", site.FQDN(orphan))
}
