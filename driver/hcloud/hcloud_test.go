package hcloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetznercloud/hcloud-go/v2/hcloud/schema"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/driver"
	"github.com/getpup/metal-orchestrator/driver/drivertest"
)

// fakeAPI serves the server and action endpoints the driver uses.
type fakeAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []string
	servers  map[string]schema.Server
}

func newFakeAPI(t *testing.T, servers ...schema.Server) *fakeAPI {
	t.Helper()

	api := &fakeAPI{servers: make(map[string]schema.Server)}
	for _, s := range servers {
		api.servers[s.Name] = s
	}
	api.server = httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.requests = append(a.requests, r.Method+" "+r.URL.Path)
	a.mu.Unlock()

	success := schema.Action{ID: 1, Status: "success", Progress: 100}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/servers":
		out := []schema.Server{}
		name := r.URL.Query().Get("name")
		for _, s := range a.servers {
			if name == "" || s.Name == name {
				out = append(out, s)
			}
		}
		jsonResponse(w, http.StatusOK, schema.ServerListResponse{Servers: out})
	case r.URL.Path == "/servers/1/actions/poweron":
		jsonResponse(w, http.StatusCreated, schema.ServerActionPoweronResponse{Action: success})
	case r.URL.Path == "/servers/1/actions/poweroff":
		jsonResponse(w, http.StatusCreated, schema.ServerActionPoweroffResponse{Action: success})
	case r.URL.Path == "/servers/1/actions/reset":
		jsonResponse(w, http.StatusCreated, schema.ServerActionResetResponse{Action: success})
	case r.URL.Path == "/servers/1/actions/enable_rescue":
		jsonResponse(w, http.StatusCreated, schema.ServerActionEnableRescueResponse{Action: success})
	case r.URL.Path == "/servers/1/actions/disable_rescue":
		jsonResponse(w, http.StatusCreated, schema.ServerActionDisableRescueResponse{Action: success})
	case r.URL.Path == "/actions":
		jsonResponse(w, http.StatusOK, schema.ActionListResponse{Actions: []schema.Action{success}})
	case r.URL.Path == "/actions/1":
		jsonResponse(w, http.StatusOK, schema.ActionGetResponse{Action: success})
	default:
		jsonResponse(w, http.StatusNotFound, schema.ErrorResponse{Error: schema.Error{Code: "not_found", Message: "not found"}})
	}
}

func (a *fakeAPI) posted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := []string{}
	for _, r := range a.requests {
		if len(r) > 5 && r[:5] == "POST " {
			out = append(out, r[5:])
		}
	}
	return out
}

func jsonResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func newDriver(t *testing.T, api *fakeAPI, nodeParams map[string]string) (*Driver, *drivertest.Orchestrator) {
	t.Helper()

	orch := drivertest.New(drivertest.Node("n1", OOBType, nodeParams))
	d, err := New(orch, driver.FactoryConfig{Settings: map[string]string{
		"token":    "test-token",
		"endpoint": api.server.URL,
	}})
	require.NoError(t, err)
	return d.(*Driver), orch
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(drivertest.New(), driver.FactoryConfig{})

	assert.Error(t, err)
}

func TestNew_InvalidTimeout(t *testing.T) {
	_, err := New(drivertest.New(), driver.FactoryConfig{Settings: map[string]string{"token": "x", "timeout": "later"}})

	assert.Error(t, err)
}

func TestDriver_PowerActions(t *testing.T) {
	tests := []struct {
		action orchestrator.Action
		status string
		want   []string
	}{
		{orchestrator.ActionPowerOnNode, "off", []string{"/servers/1/actions/poweron"}},
		{orchestrator.ActionPowerOnNode, "running", []string{}},
		{orchestrator.ActionPowerOffNode, "running", []string{"/servers/1/actions/poweroff"}},
		{orchestrator.ActionPowerCycleNode, "running", []string{"/servers/1/actions/reset"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+tt.status, func(t *testing.T) {
			api := newFakeAPI(t, schema.Server{ID: 1, Name: "n1", Status: tt.status})
			d, orch := newDriver(t, api, nil)
			task := orch.CreateTask(t, tt.action)

			require.NoError(t, d.ExecuteTask(context.Background(), task.ID))

			got := orch.Reload(t, task)
			assert.Equal(t, orchestrator.ResultSuccess, got.Result.Status)
			assert.Equal(t, []string{"n1"}, got.Result.Successes)
			assert.Equal(t, tt.want, api.posted())
		})
	}
}

func TestDriver_SetNodeBoot(t *testing.T) {
	t.Run("pxe enables rescue", func(t *testing.T) {
		api := newFakeAPI(t, schema.Server{ID: 1, Name: "n1", Status: "running"})
		d, orch := newDriver(t, api, map[string]string{"boot": "pxe"})
		task := orch.CreateTask(t, orchestrator.ActionSetNodeBoot)

		require.NoError(t, d.ExecuteTask(context.Background(), task.ID))

		assert.Equal(t, []string{"/servers/1/actions/enable_rescue"}, api.posted())
	})

	t.Run("disk disables rescue", func(t *testing.T) {
		api := newFakeAPI(t, schema.Server{ID: 1, Name: "n1", Status: "running", RescueEnabled: true})
		d, orch := newDriver(t, api, map[string]string{"boot": "disk"})
		task := orch.CreateTask(t, orchestrator.ActionSetNodeBoot)

		require.NoError(t, d.ExecuteTask(context.Background(), task.ID))

		assert.Equal(t, []string{"/servers/1/actions/disable_rescue"}, api.posted())
	})
}

func TestDriver_ServerParameterOverridesNodeName(t *testing.T) {
	api := newFakeAPI(t, schema.Server{ID: 1, Name: "cloud-node-1", Status: "off"})
	d, orch := newDriver(t, api, map[string]string{"server": "cloud-node-1"})
	task := orch.CreateTask(t, orchestrator.ActionPowerOnNode)

	require.NoError(t, d.ExecuteTask(context.Background(), task.ID))

	assert.Equal(t, orchestrator.ResultSuccess, orch.Reload(t, task).Result.Status)
}

func TestDriver_MissingServerFailsNode(t *testing.T) {
	api := newFakeAPI(t)
	d, orch := newDriver(t, api, nil)
	task := orch.CreateTask(t, orchestrator.ActionPowerOnNode)

	require.NoError(t, d.ExecuteTask(context.Background(), task.ID))

	got := orch.Reload(t, task)
	assert.Equal(t, orchestrator.ResultFailure, got.Result.Status)
	assert.Equal(t, []string{"n1"}, got.Result.Failures)
}

func TestDriver_InterrogateOOB(t *testing.T) {
	api := newFakeAPI(t, schema.Server{ID: 1, Name: "n1", Status: "running"})
	d, orch := newDriver(t, api, nil)
	task := orch.CreateTask(t, orchestrator.ActionInterrogateOOB)

	require.NoError(t, d.ExecuteTask(context.Background(), task.ID))

	subs, err := orch.Store.GetAllSubtasks(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.NotEmpty(t, subs[0].Result.Messages)
	assert.Contains(t, subs[0].Result.Messages[0].Msg, "status running")
}

func TestDriver_ValidateOOBServices(t *testing.T) {
	api := newFakeAPI(t, schema.Server{ID: 1, Name: "n1"})
	d, orch := newDriver(t, api, nil)
	task := orch.CreateTask(t, orchestrator.ActionValidateOOBServices)

	require.NoError(t, d.ExecuteTask(context.Background(), task.ID))

	assert.Equal(t, orchestrator.ResultSuccess, orch.Reload(t, task).Result.Status)
}

func TestDriver_UnsupportedAction(t *testing.T) {
	api := newFakeAPI(t)
	d, orch := newDriver(t, api, nil)
	task := orch.CreateTask(t, orchestrator.ActionDeployNode)

	err := d.ExecuteTask(context.Background(), task.ID)

	assert.ErrorIs(t, err, orchestrator.ErrDriver)
}
