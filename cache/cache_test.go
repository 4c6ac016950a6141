package cache_test

import (
	"testing"
	"time"

	"github.com/hydra-mesh/hydra/cache"
	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	c := cache.New[int](time.Minute)
	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestExpiry(t *testing.T) {
	c := cache.New[int](10 * time.Millisecond)
	c.Set("a", 1)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Set("k", "v")
	c.Invalidate("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}
