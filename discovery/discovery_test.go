package discovery_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hydra-mesh/hydra/coordinator/memcoord"
	"github.com/hydra-mesh/hydra/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedNode(t *testing.T, coord *memcoord.Coordinator, service, instanceID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, coord.SetEX(ctx, "hydra:service:"+service+":"+instanceID+":presence", instanceID, time.Second*3))

	node := map[string]any{
		"serviceName": service,
		"instanceID":  instanceID,
		"ip":          "127.0.0.1",
		"port":        8000,
		"updatedOn":   time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(node)
	require.NoError(t, err)
	require.NoError(t, coord.HSet(ctx, "hydra:service:nodes", instanceID, string(raw)))
}

func TestGetServicePresenceReturnsLiveNodes(t *testing.T) {
	coord := memcoord.New()
	seedNode(t, coord, "auth", "inst-1")
	seedNode(t, coord, "auth", "inst-2")

	finder := discovery.New(coord, "", discovery.ScanModeKeys)
	nodes, err := finder.GetServicePresence(context.Background(), "auth")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestHasServicePresence(t *testing.T) {
	coord := memcoord.New()
	finder := discovery.New(coord, "", discovery.ScanModeKeys)

	ok, err := finder.HasServicePresence(context.Background(), "auth")
	require.NoError(t, err)
	assert.False(t, ok)

	seedNode(t, coord, "auth", "inst-1")
	ok, err = finder.HasServicePresence(context.Background(), "auth")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFindServiceFailsWhenAbsent(t *testing.T) {
	coord := memcoord.New()
	finder := discovery.New(coord, "", discovery.ScanModeKeys)

	_, err := finder.FindService(context.Background(), "missing")
	assert.Error(t, err)
}

func TestFindServiceDecodesRecord(t *testing.T) {
	coord := memcoord.New()
	rec := map[string]any{
		"serviceName": "auth",
		"serviceIP":   "127.0.0.1",
		"servicePort": 8000,
		"instanceID":  "inst-1",
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, coord.Set(context.Background(), "hydra:service:auth:service", string(raw)))

	finder := discovery.New(coord, "", discovery.ScanModeKeys)
	got, err := finder.FindService(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, "auth", got.ServiceName)
	assert.Equal(t, 8000, got.ServicePort)
}

func TestGetServiceNodesDecoratesElapsed(t *testing.T) {
	coord := memcoord.New()
	seedNode(t, coord, "auth", "inst-1")

	finder := discovery.New(coord, "", discovery.ScanModeKeys)
	nodes, err := finder.GetServiceNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.GreaterOrEqual(t, nodes[0].Elapsed, 0.0)
}

func TestGetServiceHealthSkipsLogKeys(t *testing.T) {
	coord := memcoord.New()
	ctx := context.Background()

	health := map[string]any{"serviceName": "auth", "instanceID": "inst-1", "status": 0}
	raw, err := json.Marshal(health)
	require.NoError(t, err)
	require.NoError(t, coord.SetEX(ctx, "hydra:service:auth:inst-1:health", string(raw), time.Second*3))
	require.NoError(t, coord.LPush(ctx, "hydra:service:auth:inst-1:health:log", "{}"))

	finder := discovery.New(coord, "", discovery.ScanModeKeys)
	reports, err := finder.GetServiceHealth(ctx, "auth")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "inst-1", reports[0].InstanceID)
}

func TestGetServiceHealthLogReturnsPerInstance(t *testing.T) {
	coord := memcoord.New()
	ctx := context.Background()

	entry := map[string]any{"ts": time.Now().UTC().Format(time.RFC3339), "serviceName": "auth", "type": "ok", "msg": "health tick"}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, coord.LPush(ctx, "hydra:service:auth:inst-1:health:log", string(raw)))

	finder := discovery.New(coord, "", discovery.ScanModeKeys)
	logs, err := finder.GetServiceHealthLog(ctx, "auth")
	require.NoError(t, err)
	require.Contains(t, logs, "inst-1")
	assert.Len(t, logs["inst-1"], 1)
}
