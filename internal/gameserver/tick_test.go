package gameserver_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cory-johannsen/mapworld/internal/gameserver"
	"github.com/cory-johannsen/mapworld/internal/observability"
)

func TestTickManager_RejectsZeroInterval(t *testing.T) {
	assert.Panics(t, func() { gameserver.NewTickManager(0, nil) })
}

func TestTickManager_TickRunsCallbacksInNameOrder(t *testing.T) {
	tm := gameserver.NewTickManager(20*time.Millisecond, nil)
	var order []string
	tm.RegisterTick("b", func(time.Duration) { order = append(order, "b") })
	tm.RegisterTick("a", func(dt time.Duration) {
		assert.Equal(t, 20*time.Millisecond, dt)
		order = append(order, "a")
	})
	tm.Tick()
	assert.Equal(t, []string{"a", "b"}, order)

	tm.Unregister("a")
	order = nil
	tm.Tick()
	assert.Equal(t, []string{"b"}, order)
}

func TestTickManager_RecordsDuration(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tm := gameserver.NewTickManager(time.Millisecond, metrics)
	tm.Tick()
	assert.Equal(t, 1, promtest.CollectAndCount(metrics.TickDuration))
}

func TestTickManager_StartAndStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	tm := gameserver.NewTickManager(10*time.Millisecond, nil)
	var count atomic.Int64
	tm.RegisterTick("count", func(time.Duration) { count.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	tm.Start(ctx)
	assert.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	tm.Wait()

	stopped := count.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, count.Load())
}

// A tick never overlaps the previous one, however slow the callback.
func TestTickManager_NeverReentrant(t *testing.T) {
	defer goleak.VerifyNone(t)

	tm := gameserver.NewTickManager(time.Millisecond, nil)
	var running, overlaps atomic.Int32
	var calls atomic.Int32
	tm.RegisterTick("slow", func(time.Duration) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		calls.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	tm.Start(ctx)
	assert.Eventually(t, func() bool { return calls.Load() >= 5 }, time.Second, time.Millisecond)
	cancel()
	tm.Wait()
	assert.Zero(t, overlaps.Load())
}

func TestTickManager_RegisterWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	tm := gameserver.NewTickManager(2*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	tm.Start(ctx)

	var wg sync.WaitGroup
	var hits atomic.Int64
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			tm.RegisterTick(name, func(time.Duration) { hits.Add(1) })
		}(i)
	}
	wg.Wait()
	require.Eventually(t, func() bool { return hits.Load() >= 8 }, time.Second, time.Millisecond)
	cancel()
	tm.Wait()
}
