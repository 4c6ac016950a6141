package dispatch_test

import (
	"context"
	"testing"

	"github.com/hydra-mesh/hydra/constant"
	"github.com/hydra-mesh/hydra/coordinator/memcoord"
	"github.com/hydra-mesh/hydra/discovery"
	"github.com/hydra-mesh/hydra/dispatch"
	"github.com/hydra-mesh/hydra/logger"
	"github.com/hydra-mesh/hydra/presence"
	"github.com/hydra-mesh/hydra/umf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scripted HTTPClient double: each call pops the next
// entry off responses (or errs), recording every Request it saw.
type fakeClient struct {
	responses []*dispatch.RawResponse
	errs      []error
	calls     []*dispatch.Request
	i         int
}

func (f *fakeClient) Do(_ context.Context, req *dispatch.Request) (*dispatch.RawResponse, error) {
	f.calls = append(f.calls, req)
	idx := f.i
	f.i++
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return &dispatch.RawResponse{StatusCode: 200}, nil
}

func registerInstance(t *testing.T, coord *memcoord.Coordinator, service, instanceID, ip string, port int) {
	t.Helper()
	log := logger.NewLogger("test", "error")
	eng := presence.New(coord, log, "", presence.Identity{
		ServiceName: service, InstanceID: instanceID, IP: ip, Port: port,
	}, presence.HealthThresholds{}, nil)
	require.NoError(t, eng.Start(context.Background()))
}

func TestMakeAPIRequestRejectsInvalidMessage(t *testing.T) {
	coord := memcoord.New()
	finder := discovery.New(coord, "", discovery.ScanModeKeys)
	d := dispatch.New(finder, coord, &fakeClient{}, nil, "", nil)

	resp, err := d.MakeAPIRequest(context.Background(), &umf.Message{}, nil)
	require.NoError(t, err)
	assert.Equal(t, constant.StatusRoutingError, resp.StatusCode)
}

func TestMakeAPIRequestUnavailableService(t *testing.T) {
	coord := memcoord.New()
	finder := discovery.New(coord, "", discovery.ScanModeKeys)
	d := dispatch.New(finder, coord, &fakeClient{}, nil, "", nil)

	msg := umf.New("billing:/v1/charge", "api", map[string]any{"amount": float64(5)})
	resp, err := d.MakeAPIRequest(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.Equal(t, constant.StatusServiceUnavailable, resp.StatusCode)
}

func TestMakeAPIRequestSucceedsAgainstLiveInstance(t *testing.T) {
	coord := memcoord.New()
	registerInstance(t, coord, "billing", "inst-1", "10.0.0.5", 8080)
	finder := discovery.New(coord, "", discovery.ScanModeKeys)

	client := &fakeClient{responses: []*dispatch.RawResponse{
		{StatusCode: 200, Headers: map[string]string{"content-type": "application/json"}, Body: []byte(`{"ok":true}`)},
	}}
	d := dispatch.New(finder, coord, client, nil, "", nil)

	msg := umf.New("billing:/v1/charge", "api", map[string]any{"amount": float64(5)})
	resp, err := d.MakeAPIRequest(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true}, resp.Result)
	require.Len(t, client.calls, 1)
	assert.Equal(t, "http://10.0.0.5:8080/v1/charge", client.calls[0].URL)
}

func TestMakeAPIRequestFailsOverToSecondInstance(t *testing.T) {
	coord := memcoord.New()
	registerInstance(t, coord, "billing", "inst-1", "10.0.0.5", 8080)
	registerInstance(t, coord, "billing", "inst-2", "10.0.0.6", 8080)
	finder := discovery.New(coord, "", discovery.ScanModeKeys)

	var metrics []string
	client := &fakeClient{
		errs:      []error{assert.AnError, nil},
		responses: []*dispatch.RawResponse{nil, {StatusCode: 200}},
	}
	d := dispatch.New(finder, coord, client, nil, "", func(m string) { metrics = append(metrics, m) })

	msg := umf.New("billing:/v1/charge", "api", map[string]any{"amount": float64(5)})
	resp, err := d.MakeAPIRequest(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, client.calls, 2)
	require.NotEmpty(t, metrics)
	assert.Contains(t, metrics[0], "service:unavailable|billing|")
}

func TestMakeAPIRequestExhaustsAllInstances(t *testing.T) {
	coord := memcoord.New()
	registerInstance(t, coord, "billing", "inst-1", "10.0.0.5", 8080)
	finder := discovery.New(coord, "", discovery.ScanModeKeys)

	var metrics []string
	client := &fakeClient{errs: []error{assert.AnError}}
	d := dispatch.New(finder, coord, client, nil, "", func(m string) { metrics = append(metrics, m) })

	msg := umf.New("billing:/v1/charge", "api", map[string]any{"amount": float64(5)})
	resp, err := d.MakeAPIRequest(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.Equal(t, constant.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, metrics, "attempts:exhausted|billing")
}

func TestMakeAPIRequestLegacyHTTPPassthrough(t *testing.T) {
	coord := memcoord.New()
	finder := discovery.New(coord, "", discovery.ScanModeKeys)

	client := &fakeClient{responses: []*dispatch.RawResponse{{StatusCode: 201}}}
	d := dispatch.New(finder, coord, client, nil, "", nil)

	msg := umf.New("http://example.com:/v1/hook", "api", map[string]any{"x": float64(1)})
	resp, err := d.MakeAPIRequest(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	require.Len(t, client.calls, 1)
	assert.Equal(t, "http://example.com/v1/hook", client.calls[0].URL)
}
