package hydractl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectCoordinatorDefaultsToMem(t *testing.T) {
	orig := serveCoordinator
	serveCoordinator = ""
	defer func() { serveCoordinator = orig }()

	coord, closeFn, err := connectCoordinator(context.Background())
	require.NoError(t, err)
	require.NotNil(t, coord)
	defer closeFn()

	require.NoError(t, coord.Set(context.Background(), "k", "v"))
	v, err := coord.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestConnectCoordinatorRejectsUnknownBackend(t *testing.T) {
	orig := serveCoordinator
	serveCoordinator = "bogus"
	defer func() { serveCoordinator = orig }()

	_, _, err := connectCoordinator(context.Background())
	assert.Error(t, err)
}

func TestLoadServeConfigFallsBackToEnv(t *testing.T) {
	orig := cfgPath
	cfgPath = ""
	defer func() { cfgPath = orig }()

	cfg, err := loadServeConfig()
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
