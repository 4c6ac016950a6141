package memcoord_test

import (
	"context"
	"testing"
	"time"

	"github.com/hydra-mesh/hydra/coordinator"
	"github.com/hydra-mesh/hydra/coordinator/memcoord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	c := memcoord.New()

	require.NoError(t, c.Set(ctx, "k", "v"))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, c.Del(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, coordinator.ErrNotFound)
}

func TestSetEXExpires(t *testing.T) {
	ctx := context.Background()
	c := memcoord.New()

	require.NoError(t, c.SetEX(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, coordinator.ErrNotFound)
}

func TestHash(t *testing.T) {
	ctx := context.Background()
	c := memcoord.New()

	require.NoError(t, c.HSet(ctx, "h", "f1", "v1"))
	require.NoError(t, c.HSet(ctx, "h", "f2", "v2"))

	all, err := c.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)

	require.NoError(t, c.HDel(ctx, "h", "f1"))
	_, err = c.HGet(ctx, "h", "f1")
	assert.ErrorIs(t, err, coordinator.ErrNotFound)
}

func TestListQueueOps(t *testing.T) {
	ctx := context.Background()
	c := memcoord.New()

	require.NoError(t, c.RPush(ctx, "q", "a"))
	require.NoError(t, c.RPush(ctx, "q", "b"))

	v, err := c.RPopLPush(ctx, "q", "q:inprogress")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	inprogress, err := c.LRange(ctx, "q:inprogress", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, inprogress)
}

func TestPublishSubscribe(t *testing.T) {
	c := memcoord.New()
	received := make(chan coordinator.Message, 1)

	sub, err := c.Subscribe("svc:channel", func(m coordinator.Message) {
		received <- m
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, c.Publish(context.Background(), "svc:channel", []byte("hello")))

	select {
	case m := <-received:
		assert.Equal(t, "hello", string(m.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMultiExec(t *testing.T) {
	ctx := context.Background()
	c := memcoord.New()

	b := c.Multi()
	b.Set("a", "1")
	b.HSet("h", "f", "v")
	require.NoError(t, b.Exec(ctx))

	v, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestKeysPrefix(t *testing.T) {
	ctx := context.Background()
	c := memcoord.New()
	require.NoError(t, c.Set(ctx, "hydra:service:svc1", "a"))
	require.NoError(t, c.Set(ctx, "hydra:service:svc2", "b"))
	require.NoError(t, c.Set(ctx, "other:key", "c"))

	keys, err := c.Keys(ctx, "hydra:service:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hydra:service:svc1", "hydra:service:svc2"}, keys)
}
