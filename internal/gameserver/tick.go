package gameserver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/mapworld/internal/observability"
)

// TickManager runs the registered tick callbacks once per interval.
// Callbacks run sequentially on the loop goroutine in name order, so a tick
// never starts before the previous one has finished. Ticks that fall due
// while a slow tick is running are dropped, not queued.
type TickManager struct {
	interval time.Duration
	metrics  *observability.Metrics

	mu    sync.Mutex
	ticks map[string]func(dt time.Duration)

	wg sync.WaitGroup
}

// NewTickManager returns a manager that fires ticks every interval.
//
// Precondition: interval must be > 0.
func NewTickManager(interval time.Duration, metrics *observability.Metrics) *TickManager {
	if interval <= 0 {
		panic("gameserver.NewTickManager: interval must be > 0")
	}
	return &TickManager{
		interval: interval,
		metrics:  metrics,
		ticks:    make(map[string]func(time.Duration)),
	}
}

// Interval returns the tick period.
func (z *TickManager) Interval() time.Duration {
	return z.interval
}

// RegisterTick registers fn under name. Replaces any existing callback.
// fn receives the tick period.
func (z *TickManager) RegisterTick(name string, fn func(dt time.Duration)) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.ticks[name] = fn
}

// Unregister removes the callback registered under name.
func (z *TickManager) Unregister(name string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	delete(z.ticks, name)
}

// Start begins the tick loop. It runs until ctx is cancelled.
//
// Postcondition: every registered callback is invoked at most once per interval.
func (z *TickManager) Start(ctx context.Context) {
	z.wg.Add(1)
	go func() {
		defer z.wg.Done()
		ticker := time.NewTicker(z.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				z.Tick()
			}
		}
	}()
}

// Wait blocks until the loop started by Start has returned.
func (z *TickManager) Wait() {
	z.wg.Wait()
}

// Tick runs every callback once and records the tick duration.
func (z *TickManager) Tick() {
	start := time.Now()
	z.mu.Lock()
	names := make([]string, 0, len(z.ticks))
	for name := range z.ticks {
		names = append(names, name)
	}
	sort.Strings(names)
	callbacks := make([]func(time.Duration), 0, len(names))
	for _, name := range names {
		callbacks = append(callbacks, z.ticks[name])
	}
	z.mu.Unlock()

	for _, fn := range callbacks {
		fn(z.interval)
	}
	z.metrics.ObserveTick(time.Since(start))
}
