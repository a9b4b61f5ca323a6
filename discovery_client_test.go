package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryClientDiscoverReturnsOnlyUp(t *testing.T) {
	b := NewMemoryBackend(0)
	ctx := context.Background()

	up := NewInstance("orders", "10.0.0.1", 8080)
	up.Status = StatusUp
	down := NewInstance("orders", "10.0.0.2", 8080)
	down.Status = StatusDown
	require.NoError(t, b.Register(ctx, up))
	require.NoError(t, b.Register(ctx, down))

	c, err := NewDiscoveryClient(b, DiscoveryClientConfig{}, nil)
	require.NoError(t, err)
	defer c.Close()

	instances, err := c.Discover(ctx, "orders", Filter{})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, up.ID, instances[0].ID)
}

func TestDiscoveryClientCachesWithinTTL(t *testing.T) {
	b := NewMemoryBackend(0)
	ctx := context.Background()

	inst := NewInstance("orders", "10.0.0.1", 8080)
	inst.Status = StatusUp
	require.NoError(t, b.Register(ctx, inst))

	c, err := NewDiscoveryClient(b, DiscoveryClientConfig{CacheEnabled: true, CacheTTL: time.Hour}, nil)
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Discover(ctx, "orders", Filter{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, b.Deregister(ctx, inst.ID))

	second, err := c.Discover(ctx, "orders", Filter{})
	require.NoError(t, err)
	assert.Len(t, second, 1, "cached entry should still be served within TTL")
}

func TestDiscoveryClientInvalidateForcesRefetch(t *testing.T) {
	b := NewMemoryBackend(0)
	ctx := context.Background()

	inst := NewInstance("orders", "10.0.0.1", 8080)
	inst.Status = StatusUp
	require.NoError(t, b.Register(ctx, inst))

	c, err := NewDiscoveryClient(b, DiscoveryClientConfig{CacheEnabled: true, CacheTTL: time.Hour}, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Discover(ctx, "orders", Filter{})
	require.NoError(t, err)

	require.NoError(t, b.Deregister(ctx, inst.ID))
	c.Invalidate("orders")

	after, err := c.Discover(ctx, "orders", Filter{})
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestDiscoveryClientInvalidateAllForcesRefetchForEveryService(t *testing.T) {
	b := NewMemoryBackend(0)
	ctx := context.Background()

	orders := NewInstance("orders", "10.0.0.1", 8080)
	orders.Status = StatusUp
	billing := NewInstance("billing", "10.0.0.2", 8080)
	billing.Status = StatusUp
	require.NoError(t, b.Register(ctx, orders))
	require.NoError(t, b.Register(ctx, billing))

	c, err := NewDiscoveryClient(b, DiscoveryClientConfig{CacheEnabled: true, CacheTTL: time.Hour}, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Discover(ctx, "orders", Filter{})
	require.NoError(t, err)
	_, err = c.Discover(ctx, "billing", Filter{})
	require.NoError(t, err)

	require.NoError(t, b.Deregister(ctx, orders.ID))
	require.NoError(t, b.Deregister(ctx, billing.ID))
	c.InvalidateAll()

	afterOrders, err := c.Discover(ctx, "orders", Filter{})
	require.NoError(t, err)
	assert.Empty(t, afterOrders)

	afterBilling, err := c.Discover(ctx, "billing", Filter{})
	require.NoError(t, err)
	assert.Empty(t, afterBilling)
}

func TestDiscoveryClientDiscoverOneUsesStrategy(t *testing.T) {
	b := NewMemoryBackend(0)
	ctx := context.Background()

	inst := NewInstance("orders", "10.0.0.1", 8080)
	inst.Status = StatusUp
	require.NoError(t, b.Register(ctx, inst))

	c, err := NewDiscoveryClient(b, DiscoveryClientConfig{}, nil)
	require.NoError(t, err)
	defer c.Close()

	picked, ok, err := c.DiscoverOne(ctx, "orders", Filter{}, NewRoundRobinStrategy(), "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, inst.ID, picked.ID)
}

func TestDiscoveryClientDiscoverOneNoInstances(t *testing.T) {
	b := NewMemoryBackend(0)
	c, err := NewDiscoveryClient(b, DiscoveryClientConfig{}, nil)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.DiscoverOne(context.Background(), "ghost", Filter{}, NewRoundRobinStrategy(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}
