package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	var running, peak int32
	for n := 0; n < 10; n++ {
		require.NoError(t, pool.Go(context.Background(), func() {
			current := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if current <= old || atomic.CompareAndSwapInt32(&peak, old, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}

	pool.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolContext(t *testing.T) {
	pool := New(1)

	block := make(chan struct{})
	require.NoError(t, pool.Go(context.Background(), func() { <-block }))
	assert.False(t, pool.TryGo(func() {}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Go(ctx, func() {}), context.DeadlineExceeded)

	close(block)
	pool.Close()

	assert.True(t, ErrClosed.Has(pool.Go(context.Background(), func() {})))
	assert.False(t, pool.TryGo(func() {}))
}
