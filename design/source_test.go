package design

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/getpup/metal-orchestrator"
)

type fakeS3 struct {
	objects map[string]string
	calls   []string
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := *params.Bucket + "/" + *params.Key
	f.calls = append(f.calls, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func testSiteRef(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs("testdata/site.yaml")
	require.NoError(t, err)
	return "file://" + path
}

func TestSource_GetEffectiveSite(t *testing.T) {
	var compiles int
	src := NewSource(SourceConfig{ObserveCompile: func(time.Duration) { compiles++ }})

	status, site := src.GetEffectiveSite(context.Background(), testSiteRef(t))

	require.NotNil(t, site)
	assert.Equal(t, orchestrator.ResultSuccess, status.Status, "%v", status.Messages)

	hello, ok := site.BootAction("helloworld")
	require.True(t, ok)
	assert.Equal(t, []string{"compute01"}, hello.TargetNodes)

	inventory, ok := site.BootAction("hw-inventory")
	require.True(t, ok)
	assert.Equal(t, []string{"controller01", "compute01"}, inventory.TargetNodes)

	again, cached := src.GetEffectiveSite(context.Background(), testSiteRef(t))
	assert.Same(t, site, cached)
	assert.Equal(t, status.Status, again.Status)
	assert.NotSame(t, status, again)
	assert.Equal(t, 1, compiles)

	again.Status = orchestrator.ResultFailure
	third, _ := src.GetEffectiveSite(context.Background(), testSiteRef(t))
	assert.Equal(t, orchestrator.ResultSuccess, third.Status)
}

func TestSource_PlainPath(t *testing.T) {
	src := NewSource(SourceConfig{})

	status, site := src.GetEffectiveSite(context.Background(), "testdata/site.yaml")

	require.NotNil(t, site)
	assert.True(t, status.Succeeded())
}

func TestSource_LoadFailures(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("kind: Widget\nmetadata: {name: w}\n"), 0o600))
	uncompilable := filepath.Join(dir, "uncompilable.yaml")
	require.NoError(t, os.WriteFile(uncompilable, []byte(
		"kind: BaremetalNode\nmetadata: {name: n1}\nspec:\n  host_profile: ghost\n  addressing:\n    - {network: pxe, address: dhcp}\n"), 0o600))

	for _, ref := range []string{
		filepath.Join(dir, "missing.yaml"),
		"ftp://example.com/site.yaml",
		broken,
		uncompilable,
	} {
		t.Run(filepath.Base(ref), func(t *testing.T) {
			status, site := NewSource(SourceConfig{}).GetEffectiveSite(context.Background(), ref)

			assert.Nil(t, site)
			assert.Equal(t, orchestrator.ResultFailure, status.Status)
			require.Len(t, status.Messages, 1)
			assert.True(t, status.Messages[0].Error)
			assert.True(t, strings.HasPrefix(status.Messages[0].Msg, "Error loading effective site: "))
		})
	}
}

func TestSource_ValidationFailureReturnsSite(t *testing.T) {
	data, err := os.ReadFile("testdata/site.yaml")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "site.yaml")
	bad := strings.Replace(string(data), "size: 30GB", "size: 10GB", 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	status, site := NewSource(SourceConfig{}).GetEffectiveSite(context.Background(), path)

	require.NotNil(t, site)
	assert.Equal(t, orchestrator.ResultFailure, status.Status)
	assert.Equal(t, 2, status.ErrorCount)
}

func TestS3Resolver(t *testing.T) {
	data, err := os.ReadFile("testdata/site.yaml")
	require.NoError(t, err)
	client := &fakeS3{objects: map[string]string{"designs/site.yaml": string(data)}}

	resolvers := DefaultResolvers()
	resolvers["s3"] = NewS3ResolverWithClient(client)
	src := NewSource(SourceConfig{Resolvers: resolvers})

	status, site := src.GetEffectiveSite(context.Background(), "s3://designs/site.yaml")
	require.NotNil(t, site)
	assert.True(t, status.Succeeded())
	assert.Equal(t, []string{"designs/site.yaml"}, client.calls)

	_, err = resolvers.Fetch(context.Background(), "s3://designs/missing.yaml")
	assert.ErrorIs(t, err, ErrDesignNotFound)

	_, err = resolvers.Fetch(context.Background(), "s3://designs")
	assert.ErrorIs(t, err, ErrUnsupportedReference)
}

func TestResolvers_Fetch(t *testing.T) {
	resolvers := Resolvers{"mem": ResolverFunc(func(_ context.Context, ref *url.URL) ([]byte, error) {
		return []byte(ref.Host), nil
	})}

	data, err := resolvers.Fetch(context.Background(), "MEM://payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = resolvers.Fetch(context.Background(), "file:///etc/hosts")
	assert.True(t, errors.Is(err, ErrUnsupportedReference))
}

func TestRenderRouteDomains(t *testing.T) {
	site := &EffectiveSite{Graph: Graph{Networks: []*Network{
		{Name: "storage1", CIDR: "10.1.0.0/24", RouteDomain: "storage", Routes: []NetworkRoute{
			{Subnet: "0.0.0.0/0", Gateway: "10.1.0.1", Metric: 10},
			{RouteDomain: "storage", Gateway: "10.1.0.254", Metric: 20},
		}},
		{Name: "storage2", CIDR: "10.2.0.0/24", RouteDomain: "storage", Routes: []NetworkRoute{
			{RouteDomain: "storage", Gateway: "10.2.0.254", Metric: 30},
		}},
		{Name: "storage3", CIDR: "10.3.0.0/24", RouteDomain: "storage"},
		{Name: "mgmt", CIDR: "10.9.0.0/24"},
	}}}

	RenderRouteDomains(site)

	s1, _ := site.Network("storage1")
	assert.Equal(t, []NetworkRoute{
		{Subnet: "0.0.0.0/0", Gateway: "10.1.0.1", Metric: 10},
		{RouteDomain: "storage", Gateway: "10.1.0.254", Metric: 20},
		{Subnet: "10.2.0.0/24", Gateway: "10.1.0.254", Metric: 20},
		{Subnet: "10.3.0.0/24", Gateway: "10.1.0.254", Metric: 20},
	}, s1.Routes)

	s2, _ := site.Network("storage2")
	assert.Len(t, s2.Routes, 3)
	assert.Equal(t, NetworkRoute{Subnet: "10.1.0.0/24", Gateway: "10.2.0.254", Metric: 30}, s2.Routes[1])

	s3, _ := site.Network("storage3")
	assert.Empty(t, s3.Routes)

	mgmt, _ := site.Network("mgmt")
	assert.Empty(t, mgmt.Routes)
}
