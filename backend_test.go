package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCleanupLoopExpiresStaleInstances(t *testing.T) {
	b := NewMemoryBackend(10 * time.Millisecond)
	ctx := context.Background()

	inst := NewInstance("orders", "10.0.0.1", 8080)
	require.NoError(t, b.Register(ctx, inst))

	stop := StartCleanupLoop(b, 10*time.Millisecond)
	defer stop()

	// GetInstance already hides an expired entry; only Cleanup removes
	// the service from the index, so the loop is checked through that.
	require.Eventually(t, func() bool {
		_, ok, _ := b.GetInstance(ctx, inst.ID)
		names, _ := b.GetAllServices(ctx)
		return !ok && len(names) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStartCleanupLoopStopReleasesGoroutine(t *testing.T) {
	b := NewMemoryBackend(0)
	stop := StartCleanupLoop(b, time.Millisecond)
	stop()
	assert.NotPanics(t, func() { stop() })
}
