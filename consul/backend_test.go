package consul

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hazel-js/discovery"
	"github.com/stretchr/testify/require"
)

// requireConsul skips the test unless a Consul agent is reachable on
// 127.0.0.1:8500, mirroring core/redis_test_helper.go's requireRedis
// skip-if-unavailable pattern — these tests exercise the real agent
// API surface and are not meaningfully fakeable in-process.
func requireConsul(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:8500", 200*time.Millisecond)
	if err != nil {
		t.Skip("consul agent not available on 127.0.0.1:8500")
	}
	conn.Close()
}

func TestConsulBackendRegisterAndDeregister(t *testing.T) {
	requireConsul(t)

	b, err := NewBackend(Config{Address: "127.0.0.1:8500", TTL: "10s"})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	inst := discovery.NewInstance("orders-consul-test", "127.0.0.1", 9999)

	require.NoError(t, b.Register(ctx, inst))
	defer b.Deregister(ctx, inst.ID)

	instances, err := b.GetInstances(ctx, "orders-consul-test", discovery.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, instances)

	require.NoError(t, b.Deregister(ctx, inst.ID))
}

func TestConsulBackendUpdateStatus(t *testing.T) {
	requireConsul(t)

	b, err := NewBackend(Config{Address: "127.0.0.1:8500", TTL: "10s"})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	inst := discovery.NewInstance("orders-consul-status", "127.0.0.1", 9998)
	require.NoError(t, b.Register(ctx, inst))
	defer b.Deregister(ctx, inst.ID)

	require.NoError(t, b.UpdateStatus(ctx, inst.ID, discovery.StatusDown))
}

func TestConsulBackendCleanupIsNoOp(t *testing.T) {
	b := &Backend{}
	require.NoError(t, b.Cleanup(context.Background()))
}
