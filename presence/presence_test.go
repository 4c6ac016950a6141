package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/hydra-mesh/hydra/coordinator/memcoord"
	"github.com/hydra-mesh/hydra/logger"
	"github.com/hydra-mesh/hydra/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWritesPresenceKeySynchronously(t *testing.T) {
	coord := memcoord.New()
	log := logger.NewLogger("test", "error")
	id := presence.Identity{ServiceName: "auth", InstanceID: "abc123", IP: "127.0.0.1", Port: 8000}

	eng := presence.New(coord, log, "", id, presence.HealthThresholds{}, nil)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Shutdown(context.Background())

	v, err := coord.Get(context.Background(), "hydra:service:auth:abc123:presence")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)
}

func TestShutdownRemovesPresenceKey(t *testing.T) {
	coord := memcoord.New()
	log := logger.NewLogger("test", "error")
	id := presence.Identity{ServiceName: "auth", InstanceID: "xyz789"}

	eng := presence.New(coord, log, "", id, presence.HealthThresholds{}, nil)
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Shutdown(context.Background()))

	_, err := coord.Get(context.Background(), "hydra:service:auth:xyz789:presence")
	assert.Error(t, err)
}

func TestShutdownIsIdempotent(t *testing.T) {
	coord := memcoord.New()
	log := logger.NewLogger("test", "error")
	id := presence.Identity{ServiceName: "auth", InstanceID: "i1"}

	eng := presence.New(coord, log, "", id, presence.HealthThresholds{}, nil)
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Shutdown(context.Background()))
	require.NoError(t, eng.Shutdown(context.Background()))
}

func TestCustomHealthProbeFeedsIntoHealthLog(t *testing.T) {
	coord := memcoord.New()
	log := logger.NewLogger("test", "error")
	id := presence.Identity{ServiceName: "auth", InstanceID: "p1"}

	eng := presence.New(coord, log, "", id, presence.HealthThresholds{}, nil)
	eng.RegisterHealthProbe(func() (string, int, any) {
		return "custom_check", 0, "all good"
	})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Shutdown(context.Background())

	time.Sleep(10 * time.Millisecond)
	entries, err := coord.LRange(context.Background(), "hydra:service:auth:p1:health:log", 0, -1)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
