package hydra_test

import (
	"context"
	"testing"

	"github.com/hydra-mesh/hydra/config"
	"github.com/hydra-mesh/hydra/coordinator/memcoord"
	"github.com/hydra-mesh/hydra/dispatch"
	"github.com/hydra-mesh/hydra/hydra"
	"github.com/hydra-mesh/hydra/umf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient never reaches the network: it always fails the attempt,
// exercising the dispatcher's exhaustion path without real I/O.
type stubClient struct{ err error }

func (s *stubClient) Do(_ context.Context, _ *dispatch.Request) (*dispatch.RawResponse, error) {
	return nil, s.err
}

func newTestFacade(t *testing.T, serviceName string) *hydra.Facade {
	t.Helper()
	coord := memcoord.New()
	cfg := config.Default()
	cfg.Hydra.ServiceName = serviceName
	cfg.Hydra.ServiceIP = "127.0.0.1"
	cfg.Hydra.ServicePort = "8080"

	f, err := hydra.New(cfg, coord, hydra.Options{HTTPClient: &stubClient{err: assert.AnError}})
	require.NoError(t, err)
	return f
}

func TestRegisterServicePublishesRecordAndStartsComponents(t *testing.T) {
	f := newTestFacade(t, "billing")
	ctx := context.Background()

	name, ip, port, err := f.RegisterService(ctx)
	require.NoError(t, err)
	assert.Equal(t, "billing", name)
	assert.Equal(t, "127.0.0.1", ip)
	assert.Equal(t, "8080", port)
	assert.NotEmpty(t, f.InstanceID())

	nodes, err := f.Discovery.GetServicePresence(ctx, "billing")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, f.InstanceID(), nodes[0].InstanceID)

	require.NoError(t, f.Shutdown(ctx))
}

func TestRegisterRoutesInjectsSelfRoutes(t *testing.T) {
	f := newTestFacade(t, "billing")
	ctx := context.Background()
	_, _, _, err := f.RegisterService(ctx)
	require.NoError(t, err)

	require.NoError(t, f.RegisterRoutes(ctx, []string{"[get]/v1/charge"}))
	assert.True(t, f.Routes.MatchRoute("/v1/charge"))
	assert.True(t, f.Routes.MatchRoute("/billing"))

	require.NoError(t, f.Shutdown(ctx))
}

func TestShutdownIsIdempotent(t *testing.T) {
	f := newTestFacade(t, "billing")
	ctx := context.Background()
	_, _, _, err := f.RegisterService(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Shutdown(ctx))
	require.NoError(t, f.Shutdown(ctx))
}

func TestDispatchIsWiredToLiveRegistration(t *testing.T) {
	f := newTestFacade(t, "billing")
	ctx := context.Background()
	_, _, _, err := f.RegisterService(ctx)
	require.NoError(t, err)
	defer f.Shutdown(ctx)

	msg := umf.New("billing:/v1/charge", "api", map[string]any{"amount": float64(5)})
	resp, err := f.Dispatch.MakeAPIRequest(ctx, msg, nil)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}
