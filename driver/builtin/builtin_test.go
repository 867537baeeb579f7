package builtin

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/driver"
	"github.com/getpup/metal-orchestrator/driver/drivertest"
)

func TestLoad_EnablesSelectedDrivers(t *testing.T) {
	reg := driver.NewRegistry()
	sel := Selection{
		OOB:     []string{"manual", "hcloud"},
		Node:    "manual",
		Network: "manual",
		Settings: map[string]map[string]string{
			"hcloud": {"token": "secret"},
		},
	}

	require.NoError(t, Load(reg, drivertest.New(), sel, logr.Discard()))

	_, ok := reg.OOB("manual")
	assert.True(t, ok)
	_, ok = reg.OOB("hcloud")
	assert.True(t, ok)
	_, ok = reg.Node()
	assert.True(t, ok)
	_, ok = reg.Network()
	assert.True(t, ok)
	_, ok = reg.Kubernetes()
	assert.False(t, ok)
}

func TestLoad_UnknownDriver(t *testing.T) {
	err := Load(driver.NewRegistry(), drivertest.New(), Selection{Node: "maas"}, logr.Discard())

	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrOrchestrator)
	assert.Contains(t, err.Error(), `unknown node driver "maas"`)
}

func TestLoad_FactoryError(t *testing.T) {
	err := Load(driver.NewRegistry(), drivertest.New(), Selection{OOB: []string{"hcloud"}}, logr.Discard())

	assert.ErrorContains(t, err, "requires a token")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"hcloud", "manual"}, Names(driver.TypeOOB))
	assert.Equal(t, []string{"kubernetes"}, Names(driver.TypeKubernetes))
}
