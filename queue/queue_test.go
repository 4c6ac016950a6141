package queue_test

import (
	"context"
	"testing"

	"github.com/hydra-mesh/hydra/coordinator/memcoord"
	"github.com/hydra-mesh/hydra/queue"
	"github.com/hydra-mesh/hydra/umf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueThenGetRoundTrips(t *testing.T) {
	coord := memcoord.New()
	eng := queue.New(coord, "", "billing")
	ctx := context.Background()

	msg := umf.New("billing:/v1/charge", "api", map[string]any{"amount": float64(5)})
	require.NoError(t, eng.QueueMessage(ctx, msg))

	got, err := eng.GetQueuedMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, msg.To, got.To)
	assert.Equal(t, msg.From, got.From)
	assert.Equal(t, msg.Body, got.Body)
}

func TestGetQueuedMessageEmpty(t *testing.T) {
	coord := memcoord.New()
	eng := queue.New(coord, "", "billing")

	got, err := eng.GetQueuedMessage(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkQueueMessageCompleted(t *testing.T) {
	coord := memcoord.New()
	eng := queue.New(coord, "", "billing")
	ctx := context.Background()

	msg := umf.New("billing:/v1/charge", "api", map[string]any{"amount": float64(5)})
	require.NoError(t, eng.QueueMessage(ctx, msg))
	claimed, err := eng.GetQueuedMessage(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.MarkQueueMessage(ctx, claimed, true, ""))

	inProgress, err := coord.LRange(ctx, "hydra:service:billing:mqinprogress", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, inProgress)
}

func TestMarkQueueMessageIncompleteAnnotatesReason(t *testing.T) {
	coord := memcoord.New()
	eng := queue.New(coord, "", "billing")
	ctx := context.Background()

	msg := umf.New("billing:/v1/charge", "api", map[string]any{"amount": float64(5)})
	require.NoError(t, eng.QueueMessage(ctx, msg))
	claimed, err := eng.GetQueuedMessage(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.MarkQueueMessage(ctx, claimed, false, "card declined"))

	inProgress, err := coord.LRange(ctx, "hydra:service:billing:mqinprogress", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, inProgress)

	incomplete, err := coord.LRange(ctx, "hydra:service:billing:mqincomplete", 0, -1)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)

	decoded, err := umf.UnmarshalShort([]byte(incomplete[0]))
	require.NoError(t, err)
	assert.Equal(t, "card declined", decoded.Body["reason"])
}

func TestMarkQueueMessageDefaultReason(t *testing.T) {
	coord := memcoord.New()
	eng := queue.New(coord, "", "billing")
	ctx := context.Background()

	msg := umf.New("billing:/v1/charge", "api", map[string]any{})
	require.NoError(t, eng.QueueMessage(ctx, msg))
	claimed, err := eng.GetQueuedMessage(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.MarkQueueMessage(ctx, claimed, false, ""))

	incomplete, err := coord.LRange(ctx, "hydra:service:billing:mqincomplete", 0, -1)
	require.NoError(t, err)
	decoded, err := umf.UnmarshalShort([]byte(incomplete[0]))
	require.NoError(t, err)
	assert.Equal(t, "reason not provided", decoded.Body["reason"])
}
