package audit_test

import (
	"context"
	"testing"

	"github.com/hydra-mesh/hydra/audit"
	"github.com/stretchr/testify/require"
)

func TestRecordAndQuery(t *testing.T) {
	trail, err := audit.Open(audit.Config{Type: audit.DbSqlite, DSN: ":memory:"})
	require.NoError(t, err)
	defer trail.Close()

	ctx := context.Background()
	trail.RecordRegister(ctx, "auth", "inst-1")
	trail.RecordHealth(ctx, "auth", "inst-1", 0)
	trail.RecordDeregister(ctx, "auth", "inst-1")

	events, err := trail.RecentEvents(ctx, "auth", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestNilTrailIsSafe(t *testing.T) {
	var trail *audit.Trail
	trail.RecordRegister(context.Background(), "auth", "inst-1")
}
