package routes_test

import (
	"context"
	"testing"

	"github.com/hydra-mesh/hydra/coordinator/memcoord"
	"github.com/hydra-mesh/hydra/routes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileMatchesLiteralAndParamSegments(t *testing.T) {
	m, err := routes.Compile("[get]/auth/:id/profile")
	require.NoError(t, err)
	assert.Equal(t, "get", m.Method)
	assert.True(t, m.Match("/auth/42/profile"))
	assert.False(t, m.Match("/auth/42"))
	assert.False(t, m.Match("/billing/42/profile"))
}

func TestCompileMatchesWildcardTail(t *testing.T) {
	m, err := routes.Compile("[get]/auth/*rest")
	require.NoError(t, err)
	assert.True(t, m.Match("/auth/anything"))
}

func TestCompileRejectsUnclosedBracket(t *testing.T) {
	_, err := routes.Compile("[get/auth")
	assert.Error(t, err)
}

func TestSelfRoutesInjected(t *testing.T) {
	self := routes.SelfRoutes("auth")
	assert.Equal(t, []string{"[get]/auth", "[get]/auth/", "[get]/auth/:rest"}, self)
}

func TestRegisterRoutesCompilesAndMatches(t *testing.T) {
	coord := memcoord.New()
	table := routes.New(coord, "hydra:service", "auth")

	notified := false
	err := table.RegisterRoutes(context.Background(), []string{"[get]/auth/:id"}, func(ctx context.Context) error {
		notified = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, notified)
	assert.True(t, table.MatchRoute("/auth/42"))
	assert.True(t, table.MatchRoute("/auth"))
}

func TestRegisterRoutesSkipsNotifyForRouterItself(t *testing.T) {
	coord := memcoord.New()
	table := routes.New(coord, "hydra:service", "hydra-router")

	notified := false
	err := table.RegisterRoutes(context.Background(), nil, func(ctx context.Context) error {
		notified = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, notified)
}

func TestRegisterRoutesReplacesPreviousSet(t *testing.T) {
	coord := memcoord.New()
	table := routes.New(coord, "hydra:service", "auth")

	require.NoError(t, table.RegisterRoutes(context.Background(), []string{"[get]/auth/old"}, nil))
	require.NoError(t, table.RegisterRoutes(context.Background(), []string{"[get]/auth/new"}, nil))

	assert.False(t, table.MatchRoute("/auth/old"))
	assert.True(t, table.MatchRoute("/auth/new"))
}

func TestGetAllServiceRoutes(t *testing.T) {
	coord := memcoord.New()
	auth := routes.New(coord, "hydra:service", "auth")
	billing := routes.New(coord, "hydra:service", "billing")

	require.NoError(t, auth.RegisterRoutes(context.Background(), []string{"[get]/auth/:id"}, nil))
	require.NoError(t, billing.RegisterRoutes(context.Background(), []string{"[get]/billing/:id"}, nil))

	all, err := routes.GetAllServiceRoutes(context.Background(), coord, "hydra:service")
	require.NoError(t, err)
	assert.Contains(t, all, "auth")
	assert.Contains(t, all, "billing")
}
